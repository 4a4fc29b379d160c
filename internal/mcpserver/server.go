// Package mcpserver exposes a cruxview session to agents over the Model
// Context Protocol: tools to search origins and shape the views, resources
// that render the current state as text.
package mcpserver

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/cruxview/internal/batchfile"
	"github.com/tobert/cruxview/internal/report"
	"github.com/tobert/cruxview/internal/session"
)

// Server wraps the MCP server around one session.
type Server struct {
	mcpServer *mcp.Server
	session   *session.Session
	verbose   bool

	// Batch files being watched; each reload replaces the session batch.
	watchersMu sync.RWMutex
	watchers   map[string]*batchfile.Watcher
}

// ServerOptions configures the MCP server.
type ServerOptions struct {
	Verbose bool   // Enable verbose logging
	Version string // reported to clients; "dev" when empty
}

// NewServer creates an MCP server backed by sess.
func NewServer(sess *session.Session, opts ...ServerOptions) (*Server, error) {
	if sess == nil {
		return nil, fmt.Errorf("session cannot be nil")
	}

	var o ServerOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Version == "" {
		o.Version = "dev"
	}

	s := &Server{
		session:  sess,
		verbose:  o.Verbose,
		watchers: make(map[string]*batchfile.Watcher),
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "cruxview",
		Title:   "Chrome UX Report explorer",
		Version: o.Version,
	}, &mcp.ServerOptions{
		Instructions: `Chrome UX Report (CrUX) explorer. Holds one batch of origins with their field metrics.

Workflow: search_origins -> list_metrics -> set_filter / set_sort -> get_rows / get_summary.

Values are the 75th percentile scaled by 100 (p75 0.92 -> 92). The threshold keeps rows with value >= threshold.
The summary ignores the metric selection; only origins and threshold shape it.
Resources: crux://batch, crux://metrics, crux://rows, crux://summary, crux://origins/{origin}.`,
	})

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run starts the MCP server on stdio transport.
// This method blocks until the context is cancelled or EOF is received on stdin.
func (s *Server) Run(ctx context.Context) error {
	err := s.mcpServer.Run(ctx, &mcp.StdioTransport{})
	s.stopAllWatchers()
	return err
}

// MCPServer returns the underlying mcp.Server for use with alternative transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Shutdown performs cleanup when using non-stdio transports.
func (s *Server) Shutdown() {
	s.stopAllWatchers()
}

// WatchBatchFile loads path into the session and reloads it on every change.
func (s *Server) WatchBatchFile(ctx context.Context, path string) (*batchfile.Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()

	if _, exists := s.watchers[abs]; exists {
		return nil, fmt.Errorf("%s is already being watched", abs)
	}

	w, err := batchfile.Watch(ctx, abs, s.verbose, func(raw []report.RawResponse) {
		s.session.Replace(raw)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch batch file: %w", err)
	}
	s.watchers[w.Path()] = w
	return w, nil
}

// UnwatchBatchFile stops watching path. The session keeps its last batch.
func (s *Server) UnwatchBatchFile(path string) error {
	s.watchersMu.Lock()
	w, exists := s.watchers[path]
	if !exists {
		s.watchersMu.Unlock()
		return fmt.Errorf("%s is not being watched", path)
	}
	delete(s.watchers, path)
	s.watchersMu.Unlock()

	w.Stop()
	return nil
}

// WatchedBatchFiles returns the absolute paths being watched.
func (s *Server) WatchedBatchFiles() []string {
	s.watchersMu.RLock()
	defer s.watchersMu.RUnlock()

	paths := make([]string, 0, len(s.watchers))
	for p := range s.watchers {
		paths = append(paths, p)
	}
	return paths
}

// stopAllWatchers collects and clears the watchers under the lock, then stops
// them outside it so a slow Stop cannot block other operations.
func (s *Server) stopAllWatchers() {
	s.watchersMu.Lock()
	watchers := make([]*batchfile.Watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	clear(s.watchers)
	s.watchersMu.Unlock()

	for _, w := range watchers {
		w.Stop()
	}
}
