// Package store defines the document store contract shared by the hazard
// processor, the alert aggregator, and the manifest builder.
//
// Documents are JSON objects addressed by slash-separated paths with an even
// number of segments: "<collection>/<id>", optionally nested under another
// document ("wrecks/w1/hazards/earthquakes/events/eq1"). Every committed
// write appends a Change to the store's change feed, which delivers it at
// least once.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: document not found")

	// ErrTxConflict is returned when a transaction kept colliding with
	// concurrent writers until its retry budget ran out.
	ErrTxConflict = errors.New("store: transaction conflict retries exhausted")

	// ErrInvalidPath is returned for paths that do not name a document.
	ErrInvalidPath = errors.New("store: invalid document path")
)

// DefaultMaxAttempts is the transaction retry budget used when none is configured.
const DefaultMaxAttempts = 10

// Document is a decoded JSON object.
type Document map[string]any

// Store is a transactional document store.
type Store interface {
	// Get reads a document. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, path string) (Document, error)

	// Merge writes fields into the document at path, creating it if needed.
	// Top-level fields not present in fields are preserved. Fields named in
	// keep are only written when the document does not already have them.
	Merge(ctx context.Context, path string, fields Document, keep ...string) error

	// RunTransaction runs fn as an atomic read-modify-write unit. On a
	// conflict with a concurrent writer fn is re-run from scratch; when the
	// retry budget is exhausted ErrTxConflict is returned. Errors returned by
	// fn abort the transaction without retry.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// List returns the sorted ids of the documents in collection.
	List(ctx context.Context, collection string) ([]string, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// Tx is the view of the store inside a transaction. Reads see committed
// state; writes are buffered and applied atomically on commit.
type Tx interface {
	Get(ctx context.Context, path string) (Document, error)
	Set(path string, doc Document)
}

// Change is a single committed write delivered by a ChangeFeed.
type Change struct {
	ID   string
	Path string

	// Commit acknowledges the change. Unacknowledged changes may be redelivered.
	Commit func(ctx context.Context) error

	// Requeue appends the change to the tail of its feed again, so it can be
	// acknowledged now and handled later. Offset-based feeds acknowledge every
	// earlier change on Commit; a change that is requeued before the next
	// commit is never skipped. Nil when the feed cannot requeue.
	Requeue func(ctx context.Context) error
}

// ChangeFeed delivers committed writes at least once.
type ChangeFeed interface {
	// Next blocks until a change is available or ctx is done.
	Next(ctx context.Context) (Change, error)
}

// ChangeTrimmer is implemented by stores that can drop change records no
// consumer needs any more. It returns the number of records removed.
type ChangeTrimmer interface {
	TrimChanges(ctx context.Context) (int64, error)
}

// SplitPath returns the collection and id of a document path.
func SplitPath(path string) (collection, id string, err error) {
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || len(parts)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, p := range parts {
		if p == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return strings.Join(parts[:len(parts)-1], "/"), parts[len(parts)-1], nil
}

// MergeFields applies fields onto base with the semantics of Store.Merge and
// returns the result. base is not modified.
func MergeFields(base, fields Document, keep ...string) Document {
	out := make(Document, len(base)+len(fields))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range fields {
		if slices.Contains(keep, k) {
			if _, exists := base[k]; exists {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Encode converts v to a Document through its JSON representation.
func Encode(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

// Decode fills v from doc through its JSON representation.
func Decode(doc Document, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}
