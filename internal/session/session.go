// Package session holds the state one dashboard user interacts with: the
// current batch plus filter and sort settings. The report package does the
// computing; this package only owns the mutable state around it and tells
// subscribers when it changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tobert/cruxview/internal/crux"
	"github.com/tobert/cruxview/internal/report"
)

// ErrNoFetcher is returned by Search when the session was built without a
// CrUX client, e.g. when serving a saved batch file.
var ErrNoFetcher = errors.New("session has no CrUX client configured")

// Options configures a Session.
type Options struct {
	Concurrency int                // in-flight requests per search; 0 = crux.DefaultConcurrency
	Filter      report.FilterState // initial filter (threshold etc.)
	Sort        report.SortState   // initial sort; zero = report.DefaultSort()
}

// Session is safe for concurrent use. Every read returns a Snapshot computed
// from one consistent view of the state.
type Session struct {
	engine      *report.Engine
	fetcher     crux.Fetcher
	concurrency int

	mu         sync.RWMutex
	batchID    uuid.UUID
	createdAt  time.Time
	raw        []report.RawResponse
	batch      report.Batch
	filter     report.FilterState
	sort       report.SortState
	generation uint64

	subscriberMu     sync.Mutex
	subscribers      map[uint64]chan struct{}
	nextSubscriberID uint64
}

// Snapshot is the state plus its derived views at one generation.
type Snapshot struct {
	BatchID    string                `json:"batch_id,omitempty"`
	CreatedAt  time.Time             `json:"created_at,omitzero"`
	Generation uint64                `json:"generation"`
	Results    []report.OriginResult `json:"results"`
	Filter     report.FilterState    `json:"filter"`
	Sort       report.SortState      `json:"sort"`
	Views      report.Views          `json:"views"`
}

// New creates a session. fetcher may be nil for sessions fed only by Replace.
func New(engine *report.Engine, fetcher crux.Fetcher, opts ...Options) (*Session, error) {
	if engine == nil {
		return nil, fmt.Errorf("report engine cannot be nil")
	}

	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Sort == (report.SortState{}) {
		o.Sort = report.DefaultSort()
	}
	if _, err := report.ParseSortKey(string(o.Sort.Key)); err != nil {
		return nil, err
	}
	if _, err := report.ParseDirection(string(o.Sort.Direction)); err != nil {
		return nil, err
	}

	return &Session{
		engine:      engine,
		fetcher:     fetcher,
		concurrency: o.Concurrency,
		batch:       report.Normalize(nil),
		filter:      cloneFilter(o.Filter),
		sort:        o.Sort,
		subscribers: make(map[uint64]chan struct{}),
	}, nil
}

// Search fetches origins and replaces the current batch with the result.
// On cancellation the previous batch is kept.
func (s *Session) Search(ctx context.Context, origins []string) (Snapshot, error) {
	if s.fetcher == nil {
		return Snapshot{}, ErrNoFetcher
	}
	raw, err := crux.FetchBatch(ctx, s.fetcher, origins, s.concurrency)
	if err != nil {
		return Snapshot{}, fmt.Errorf("search aborted: %w", err)
	}
	return s.Replace(raw), nil
}

// Replace installs a new batch wholesale. Filter and sort carry over, except
// the origin selection, which resets to every origin in the new batch.
func (s *Session) Replace(raw []report.RawResponse) Snapshot {
	batch := report.Normalize(raw)

	s.mu.Lock()
	s.raw = slices.Clone(raw)
	s.batch = batch
	s.batchID = uuid.New()
	s.createdAt = time.Now()
	s.filter.Origins = report.NewSet(batch.Origins()...)
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifySubscribers()
	return snap
}

// SetFilter replaces the filter. Origin and metric sets are copied, so the
// caller may keep mutating its own.
func (s *Session) SetFilter(filter report.FilterState) Snapshot {
	s.mu.Lock()
	s.filter = cloneFilter(filter)
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifySubscribers()
	return snap
}

// UpdateFilter replaces the filter with fn applied to the current one. fn
// runs under the session lock, so a concurrent Replace cannot slip between
// the read and the write. fn must not call back into the session.
func (s *Session) UpdateFilter(fn func(report.FilterState) report.FilterState) Snapshot {
	s.mu.Lock()
	s.filter = cloneFilter(fn(cloneFilter(s.filter)))
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifySubscribers()
	return snap
}

// SetThreshold changes only the threshold.
func (s *Session) SetThreshold(threshold float64) Snapshot {
	s.mu.Lock()
	s.filter.Threshold = threshold
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifySubscribers()
	return snap
}

// SetSort replaces the sort after validating it; an empty direction means
// ascending.
func (s *Session) SetSort(sort report.SortState) (Snapshot, error) {
	key, err := report.ParseSortKey(string(sort.Key))
	if err != nil {
		return Snapshot{}, err
	}
	dir, err := report.ParseDirection(string(sort.Direction))
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	s.sort = report.SortState{Key: key, Direction: dir}
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifySubscribers()
	return snap, nil
}

// ToggleSort applies the column-header rule: the active ascending key flips
// to descending, anything else sorts ascending.
func (s *Session) ToggleSort(key report.SortKey) (Snapshot, error) {
	key, err := report.ParseSortKey(string(key))
	if err != nil {
		return Snapshot{}, err
	}

	s.mu.Lock()
	s.sort = s.sort.Toggle(key)
	s.generation++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notifySubscribers()
	return snap, nil
}

// Snapshot returns the current state and views.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Views returns the derived views for the current state.
func (s *Session) Views() report.Views {
	return s.Snapshot().Views
}

// Batch returns the current normalized batch.
func (s *Session) Batch() report.Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batch
}

// Raw returns the responses the current batch was built from, so it can be
// saved and replayed.
func (s *Session) Raw() []report.RawResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.raw)
}

// Generation increments on every state change.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Engine returns the view engine the session computes with.
func (s *Session) Engine() *report.Engine {
	return s.engine
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		CreatedAt:  s.createdAt,
		Generation: s.generation,
		Results:    s.batch.Results,
		Filter:     cloneFilter(s.filter),
		Sort:       s.sort,
		Views:      s.engine.Compute(s.batch, s.filter, s.sort),
	}
	if s.batchID != uuid.Nil {
		snap.BatchID = s.batchID.String()
	}
	return snap
}

// Subscribe returns a notification channel and an unsubscribe function.
// The channel is buffered with capacity 1 so rapid changes coalesce.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()

	id := s.nextSubscriberID
	s.nextSubscriberID++

	ch := make(chan struct{}, 1)
	s.subscribers[id] = ch

	unsubscribe := func() {
		s.subscriberMu.Lock()
		defer s.subscriberMu.Unlock()
		delete(s.subscribers, id)
	}
	return ch, unsubscribe
}

func (s *Session) notifySubscribers() {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Pending notification already queued.
		}
	}
}

func cloneFilter(f report.FilterState) report.FilterState {
	return report.FilterState{
		Origins:   cloneSet(f.Origins),
		Metrics:   cloneSet(f.Metrics),
		Threshold: f.Threshold,
	}
}

func cloneSet(s report.Set) report.Set {
	if s == nil {
		return report.Set{}
	}
	return maps.Clone(s)
}
