package cli

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/tobert/cruxview/internal/crux"
	"github.com/tobert/cruxview/internal/mcpserver"
	"github.com/tobert/cruxview/internal/report"
	"github.com/tobert/cruxview/internal/session"
	"github.com/tobert/cruxview/internal/webui"
)

// ServeCommand returns the CLI command definition for the 'serve' subcommand.
func ServeCommand(version string) *cli.Command {
	flags := append(apiFlags(),
		&cli.StringFlag{
			Name:  "transport",
			Usage: "http (web UI, JSON API and MCP at /mcp) or stdio (MCP only)",
		},
		&cli.StringFlag{
			Name:  "http-host",
			Usage: "HTTP bind address",
		},
		&cli.IntFlag{
			Name:  "http-port",
			Usage: "HTTP port (overrides PORT)",
		},
		&cli.StringSliceFlag{
			Name:  "allowed-origin",
			Usage: "Allowed CORS origin; repeat for several, * for any",
		},
		&cli.BoolFlag{
			Name:  "stateless",
			Usage: "Serve /mcp without sessions",
		},
		&cli.StringFlag{
			Name:  "batch-file",
			Usage: "JSONL batch file to load and watch for changes",
		},
		&cli.FloatFlag{
			Name:  "threshold",
			Usage: "Initial row threshold on the 0-100 scale",
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the CrUX dashboard, JSON API and MCP tools",
		Description: `Starts the CrUX proxy on http://127.0.0.1:3000 by default:

  GET  /api/health   liveness
  POST /api/crux     {"url": "..."} relayed to the CrUX API
  POST /api/search   {"origins": [...]} replaces the session batch
  GET  /api/views    rows, summary and metrics for the current filter
  GET  /ui/          dashboard, kept live over /ws
  GET  /metrics      Prometheus metrics
       /mcp          MCP streamable HTTP

With --transport stdio only the MCP server runs, on stdin/stdout.`,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(ctx, cfg, version)
		},
	}
}

// runServe wires together the components: CrUX client, session, MCP server,
// and for HTTP the web UI.
func runServe(ctx context.Context, cfg *Config, version string) error {
	if cfg.Verbose {
		logConfig(cfg)
	}

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	fetcher, err := newFetcher(cfg)
	if err != nil {
		return err
	}

	var metrics *webui.Metrics
	if cfg.Transport == "http" {
		metrics = webui.NewMetrics(nil)
		if fetcher != nil {
			fetcher = metrics.Fetcher(fetcher)
		}
	}

	sess, err := session.New(engine, fetcher, session.Options{
		Concurrency: cfg.Concurrency,
		Filter:      report.FilterState{Threshold: cfg.Threshold},
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	mcpServer, err := mcpserver.NewServer(sess, mcpserver.ServerOptions{
		Verbose: cfg.Verbose,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer mcpServer.Shutdown()

	if cfg.Verbose {
		log.Println("✅ MCP server created with 7 tools:")
		log.Println("   - search_origins, list_metrics, get_rows, get_summary")
		log.Println("   - set_filter, set_sort, batch_file")
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.BatchFile != "" {
		w, err := mcpServer.WatchBatchFile(ctx, cfg.BatchFile)
		if err != nil {
			return err
		}
		log.Printf("📂 Watching batch file %s\n", w.Path())
	}

	switch cfg.Transport {
	case "stdio":
		log.Println("🎯 MCP server ready on stdio")
		if err := mcpServer.Run(ctx); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	case "http":
		return runHTTP(ctx, cfg, sess, mcpServer, fetcher, metrics)
	default:
		return fmt.Errorf("unknown transport %q (want http or stdio)", cfg.Transport)
	}
}

func runHTTP(ctx context.Context, cfg *Config, sess *session.Session, mcpServer *mcpserver.Server, fetcher crux.Fetcher, metrics *webui.Metrics) error {
	ui := webui.New(sess, webui.Options{
		Fetcher:        fetcher,
		Metrics:        metrics,
		AllowedOrigins: cfg.AllowedOrigins,
		Verbose:        cfg.Verbose,
	})

	mux := http.NewServeMux()
	ui.RegisterRoutes(mux)
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpServer.MCPServer()
	}, &mcp.StreamableHTTPOptions{
		Stateless: cfg.Stateless,
	}))

	var handler http.Handler = webui.CORS(cfg.AllowedOrigins, mux)
	if cfg.Verbose {
		handler = accessLog(handler)
	}

	addr := net.JoinHostPort(cfg.HTTPHost, strconv.Itoa(cfg.HTTPPort))
	log.Printf("🌐 Server is running on http://%s\n", addr)
	log.Printf("📊 Dashboard: http://%s/ui/\n", addr)
	log.Printf("🤖 MCP endpoint: http://%s/mcp\n", addr)

	if err := webui.Serve(ctx, addr, handler); err != nil {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	if cfg.Verbose {
		log.Println("📡 Shut down cleanly")
	}
	return nil
}

// accessLog writes one line per request.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("↔️  %s %s (%s)\n", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}
