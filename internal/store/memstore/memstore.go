// Package memstore is an in-process implementation of store.Store with
// optimistic transactions and an in-memory change feed. It backs unit tests
// and the single-process "memory" store mode.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

type entry struct {
	data    []byte
	version uint64
}

type changeRecord struct {
	id   string
	path string
}

// Store holds documents as JSON so values round-trip exactly as they would
// through a networked store.
type Store struct {
	mu          sync.Mutex
	docs        map[string]entry
	collections map[string]map[string]struct{}
	log         []changeRecord
	logBase     int // position of log[0] in the change sequence
	feeds       []*Feed
	appended    chan struct{}
	maxAttempts int
}

// New creates an empty store. maxAttempts bounds transaction retries; zero
// selects store.DefaultMaxAttempts.
func New(maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = store.DefaultMaxAttempts
	}
	return &Store{
		docs:        make(map[string]entry),
		collections: make(map[string]map[string]struct{}),
		appended:    make(chan struct{}),
		maxAttempts: maxAttempts,
	}
}

func (s *Store) Get(_ context.Context, path string) (store.Document, error) {
	if _, _, err := store.SplitPath(path); err != nil {
		return nil, err
	}
	s.mu.Lock()
	e, ok := s.docs[path]
	s.mu.Unlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return decode(e.data)
}

func (s *Store) Merge(_ context.Context, path string, fields store.Document, keep ...string) error {
	if _, _, err := store.SplitPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	base := store.Document{}
	if e, ok := s.docs[path]; ok {
		doc, err := decode(e.data)
		if err != nil {
			return err
		}
		base = doc
	}
	data, err := json.Marshal(store.MergeFields(base, fields, keep...))
	if err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	s.writeLocked(path, data)
	return nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := &tx{s: s, reads: make(map[string]uint64), writes: make(map[string]store.Document)}
		if err := fn(ctx, t); err != nil {
			return err
		}
		committed, err := s.commit(t)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
	}
	return store.ErrTxConflict
}

func (s *Store) List(_ context.Context, collection string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.collections[collection]))
	for id := range s.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Ping(context.Context) error { return nil }

// Changes returns a feed that starts at the oldest retained change.
// Each feed keeps its own cursor.
func (s *Store) Changes() *Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &Feed{s: s, next: s.logBase}
	s.feeds = append(s.feeds, f)
	return f
}

// TrimChanges drops the change records every feed has read. Feeds
// acknowledge on read, so nothing a feed can still deliver is removed.
// Without feeds the log is kept whole.
func (s *Store) TrimChanges(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.feeds) == 0 {
		return 0, nil
	}
	low := s.feeds[0].next
	for _, f := range s.feeds[1:] {
		low = min(low, f.next)
	}
	n := low - s.logBase
	if n <= 0 {
		return 0, nil
	}
	s.log = slices.Clone(s.log[n:])
	s.logBase = low
	return int64(n), nil
}

// ChangeLogLen reports how many change records are retained.
func (s *Store) ChangeLogLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

// commit validates the read set and applies buffered writes. It reports
// false when a document read by the transaction changed in the meantime.
func (s *Store) commit(t *tx) (bool, error) {
	encoded := make(map[string][]byte, len(t.writes))
	for path, doc := range t.writes {
		if _, _, err := store.SplitPath(path); err != nil {
			return false, err
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return false, fmt.Errorf("commit %s: %w", path, err)
		}
		encoded[path] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for path, version := range t.reads {
		if s.docs[path].version != version {
			return false, nil
		}
	}
	paths := make([]string, 0, len(encoded))
	for path := range encoded {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		s.writeLocked(path, encoded[path])
	}
	return true, nil
}

// writeLocked stores data at path, indexes it, and appends a change record.
// s.mu must be held.
func (s *Store) writeLocked(path string, data []byte) {
	collection, id, _ := store.SplitPath(path)
	prev := s.docs[path]
	s.docs[path] = entry{data: data, version: prev.version + 1}

	ids, ok := s.collections[collection]
	if !ok {
		ids = make(map[string]struct{})
		s.collections[collection] = ids
	}
	ids[id] = struct{}{}

	s.appendChangeLocked(path)
}

// appendChangeLocked adds a change record for path and wakes waiting feeds.
// s.mu must be held.
func (s *Store) appendChangeLocked(path string) {
	s.log = append(s.log, changeRecord{id: uuid.NewString(), path: path})
	close(s.appended)
	s.appended = make(chan struct{})
}

type tx struct {
	s      *Store
	reads  map[string]uint64
	writes map[string]store.Document
}

func (t *tx) Get(_ context.Context, path string) (store.Document, error) {
	if _, _, err := store.SplitPath(path); err != nil {
		return nil, err
	}
	t.s.mu.Lock()
	e, ok := t.s.docs[path]
	t.s.mu.Unlock()

	if _, seen := t.reads[path]; !seen {
		t.reads[path] = e.version
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return decode(e.data)
}

func (t *tx) Set(path string, doc store.Document) {
	t.writes[path] = doc
}

// Feed is a cursor over the store's change log. A change counts as
// acknowledged once read; Requeue appends a fresh record for its path.
type Feed struct {
	s    *Store
	next int
}

func (f *Feed) Next(ctx context.Context) (store.Change, error) {
	for {
		f.s.mu.Lock()
		if i := f.next - f.s.logBase; i < len(f.s.log) {
			rec := f.s.log[i]
			f.next++
			f.s.mu.Unlock()
			return store.Change{
				ID:     rec.id,
				Path:   rec.path,
				Commit: func(context.Context) error { return nil },
				Requeue: func(context.Context) error {
					f.s.mu.Lock()
					defer f.s.mu.Unlock()
					f.s.appendChangeLocked(rec.path)
					return nil
				},
			}, nil
		}
		wait := f.s.appended
		f.s.mu.Unlock()

		select {
		case <-ctx.Done():
			return store.Change{}, ctx.Err()
		case <-wait:
		}
	}
}

func decode(data []byte) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	return doc, nil
}
