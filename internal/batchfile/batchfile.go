// Package batchfile saves and loads CrUX batches as JSONL: one raw response
// per line, in request order. A saved batch can be replayed into a session
// without an API key, and Watch reloads it whenever the file changes.
package batchfile

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tobert/cruxview/internal/report"
)

const (
	// Buffer sizes for JSONL line scanning. A CrUX record with every metric
	// and histogram is a few KB; the max leaves plenty of headroom.
	lineBufferInitial = 64 * 1024
	lineBufferMax     = 8 * 1024 * 1024
)

// line is the on-disk form of one report.RawResponse.
type line struct {
	Origin string          `json:"origin"`
	Body   json.RawMessage `json:"body,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Encode writes responses to w, one JSON object per line.
func Encode(w io.Writer, responses []report.RawResponse) error {
	enc := json.NewEncoder(w)
	for _, r := range responses {
		l := line{Origin: r.Origin}
		if r.Err != nil {
			l.Error = r.Err.Error()
		} else if len(r.Body) > 0 {
			if !json.Valid(r.Body) {
				// Keep the line parseable; Normalize will report it as malformed.
				quoted, _ := json.Marshal(string(r.Body))
				l.Body = quoted
			} else {
				l.Body = r.Body
			}
		}
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("encode %s: %w", r.Origin, err)
		}
	}
	return nil
}

// Decode reads responses from r. Blank lines are skipped; a line that is not
// valid JSON fails the whole decode with its line number.
func Decode(r io.Reader) ([]report.RawResponse, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, lineBufferInitial), lineBufferMax)

	out := []report.RawResponse{}
	n := 0
	for scanner.Scan() {
		n++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		resp := report.RawResponse{Origin: l.Origin}
		if l.Error != "" {
			resp.Err = errors.New(l.Error)
		} else {
			resp.Body = l.Body
		}
		out = append(out, resp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch: %w", err)
	}
	return out, nil
}

// Write saves responses to path atomically via a temp file and rename.
func Write(path string, responses []report.RawResponse) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := Encode(tmp, responses); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}

// Read loads the batch stored at path.
func Read(path string) ([]report.RawResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	responses, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return responses, nil
}

// Watcher reloads a batch file on every write and hands it to a callback.
type Watcher struct {
	path    string
	onLoad  func([]report.RawResponse)
	verbose bool

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Watch loads path once, calls onLoad with the result, then keeps calling it
// after each change until ctx is done or Stop is called. The parent
// directory is watched so editors and Write's rename are both seen.
func Watch(ctx context.Context, path string, verbose bool, onLoad func([]report.RawResponse)) (*Watcher, error) {
	if onLoad == nil {
		return nil, fmt.Errorf("onLoad callback is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	initial, err := Read(abs)
	if err != nil {
		return nil, fmt.Errorf("initial load failed: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		path:    abs,
		onLoad:  onLoad,
		verbose: verbose,
		watcher: fsw,
		cancel:  cancel,
	}

	onLoad(initial)
	if verbose {
		log.Printf("📁 batchfile: loaded %d origins from %s\n", len(initial), abs)
	}

	w.wg.Add(1)
	go w.watchLoop(ctx)
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Stop ends the watch and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.cancel()
	w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			responses, err := Read(w.path)
			if err != nil {
				// Partial writes parse badly; the next event retries.
				if w.verbose {
					log.Printf("⚠️  batchfile: reload %s: %v\n", w.path, err)
				}
				continue
			}
			w.onLoad(responses)
			if w.verbose {
				log.Printf("📁 batchfile: reloaded %d origins from %s\n", len(responses), filepath.Base(w.path))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  batchfile: watcher error: %v\n", err)
		}
	}
}
