// Package redisstore implements store.Store on Redis.
//
// Layout, relative to a configurable key prefix:
//
//	doc:<path>          JSON document (string)
//	coll:<collection>   set of document ids in the collection
//	changes             stream of committed writes, one entry per document write
//
// Every write goes through MULTI/EXEC together with its collection index
// update and its change-stream entry, so a document is never visible without
// its change record. Transactions use WATCH on every document they read and
// are retried when EXEC reports that a watched key changed.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

// Store is a Redis-backed document store.
type Store struct {
	client      *redis.Client
	prefix      string
	maxAttempts int
}

// New wraps client. maxAttempts bounds transaction retries; zero selects
// store.DefaultMaxAttempts.
func New(client *redis.Client, prefix string, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = store.DefaultMaxAttempts
	}
	return &Store{client: client, prefix: prefix, maxAttempts: maxAttempts}
}

func (s *Store) docKey(path string) string        { return s.prefix + "doc:" + path }
func (s *Store) collKey(collection string) string { return s.prefix + "coll:" + collection }

// StreamKey is the Redis stream holding change records.
func (s *Store) StreamKey() string { return s.prefix + "changes" }

func (s *Store) Get(ctx context.Context, path string) (store.Document, error) {
	if _, _, err := store.SplitPath(path); err != nil {
		return nil, err
	}
	return s.read(ctx, s.client, path)
}

func (s *Store) Merge(ctx context.Context, path string, fields store.Document, keep ...string) error {
	if _, _, err := store.SplitPath(path); err != nil {
		return err
	}
	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		base, err := tx.Get(ctx, path)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		tx.Set(path, store.MergeFields(base, fields, keep...))
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge %s: %w", path, err)
	}
	return nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			t := &tx{s: s, rtx: rtx, writes: make(map[string]store.Document)}
			if err := fn(ctx, t); err != nil {
				return err
			}
			return t.commit(ctx)
		})
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return store.ErrTxConflict
}

func (s *Store) List(ctx context.Context, collection string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.collKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) read(ctx context.Context, c getter, path string) (store.Document, error) {
	data, err := c.Get(ctx, s.docKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	var doc store.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

type tx struct {
	s      *Store
	rtx    *redis.Tx
	writes map[string]store.Document
}

func (t *tx) Get(ctx context.Context, path string) (store.Document, error) {
	if _, _, err := store.SplitPath(path); err != nil {
		return nil, err
	}
	if err := t.rtx.Watch(ctx, t.s.docKey(path)).Err(); err != nil {
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	return t.s.read(ctx, t.rtx, path)
}

func (t *tx) Set(path string, doc store.Document) {
	t.writes[path] = doc
}

func (t *tx) commit(ctx context.Context) error {
	if len(t.writes) == 0 {
		return nil
	}

	type write struct {
		path, collection, id string
		data                 []byte
	}
	writes := make([]write, 0, len(t.writes))
	for path, doc := range t.writes {
		collection, id, err := store.SplitPath(path)
		if err != nil {
			return err
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		writes = append(writes, write{path: path, collection: collection, id: id, data: data})
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].path < writes[j].path })

	_, err := t.rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, w := range writes {
			pipe.Set(ctx, t.s.docKey(w.path), w.data, 0)
			pipe.SAdd(ctx, t.s.collKey(w.collection), w.id)
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: t.s.StreamKey(),
				Values: map[string]interface{}{"path": w.path},
			})
		}
		return nil
	})
	return err
}
