package webui

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/tobert/cruxview/internal/session"
)

// wsMessage is a client-sent command. At most one of the fields is acted on,
// checked in the order search, filter, sort.
type wsMessage struct {
	Search []string       `json:"search,omitempty"`
	Filter *filterRequest `json:"filter,omitempty"`
	Sort   *sortRequest   `json:"sort,omitempty"`
	Paused *bool          `json:"paused,omitempty"`
}

// wsUpdate is the server-sent message: a snapshot, or an error for the last
// command.
type wsUpdate struct {
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// searchResult reports the end of the search started as number seq.
type searchResult struct {
	seq uint64
	err error
}

// handleWebSocket upgrades to WebSocket and streams a snapshot after every
// session change. Commands are applied in the order they arrive; a search
// runs in the background and a newer search cancels it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.opts.AllowedOrigins,
		InsecureSkipVerify: len(s.opts.AllowedOrigins) == 0, // Allow any origin unless configured
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	notifyCh, unsubscribe := s.session.Subscribe()
	defer unsubscribe()

	msgCh := make(chan wsMessage, 4)
	go func() {
		defer close(msgCh)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m wsMessage
			if json.Unmarshal(data, &m) != nil {
				s.sendWS(ctx, conn, wsUpdate{Error: "invalid message"})
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	searchCh := make(chan searchResult, 1)
	var searchSeq uint64
	cancelSearch := context.CancelFunc(func() {})
	defer func() { cancelSearch() }()

	startSearch := func(origins []string) {
		cancelSearch()
		searchSeq++
		seq := searchSeq
		searchCtx, stop := context.WithTimeout(ctx, s.opts.SearchTimeout)
		cancelSearch = stop
		go func() {
			_, err := s.session.Search(searchCtx, origins)
			select {
			case searchCh <- searchResult{seq: seq, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	snap := s.session.Snapshot()
	s.sendWS(ctx, conn, wsUpdate{Snapshot: &snap})

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	paused := false
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return

		case m, ok := <-msgCh:
			if !ok {
				// Client disconnected
				return
			}
			if m.Paused != nil {
				paused = *m.Paused
			}
			if len(m.Search) > 0 {
				startSearch(m.Search)
				continue
			}
			if err := s.handleWSMessage(m); err != nil {
				s.sendWS(ctx, conn, wsUpdate{Error: err.Error()})
			}

		case res := <-searchCh:
			// Superseded searches were cancelled on purpose.
			if res.seq != searchSeq {
				continue
			}
			cancelSearch()
			if res.err != nil {
				s.sendWS(ctx, conn, wsUpdate{Error: res.err.Error()})
			}

		case <-notifyCh:
			if paused {
				continue
			}
			snap := s.session.Snapshot()
			s.sendWS(ctx, conn, wsUpdate{Snapshot: &snap})

		case <-keepalive.C:
			if paused {
				continue
			}
			snap := s.session.Snapshot()
			s.sendWS(ctx, conn, wsUpdate{Snapshot: &snap})
		}
	}
}

// handleWSMessage applies a filter or sort command. Successful commands are
// answered by the session notification, not directly.
func (s *Server) handleWSMessage(m wsMessage) error {
	switch {
	case m.Filter != nil:
		s.session.UpdateFilter(m.Filter.apply)
		return nil
	case m.Sort != nil:
		_, err := s.applySort(*m.Sort)
		return err
	}
	return nil
}

func (s *Server) sendWS(ctx context.Context, conn *websocket.Conn, update wsUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("webui: failed to marshal update: %v", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		// Connection closed; the main loop will handle cleanup.
		return
	}
}
