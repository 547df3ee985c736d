// Package memory provides an in-memory ContentStore for development and
// tests. Writes are serialized behind one mutex; InTx stages snapshot
// writes and applies them only when the callback succeeds, mirroring the
// transactional guarantee of the Postgres store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jusanz/snapgate/internal/gateway"
)

type entry struct {
	gateway.URLEntry
	seq int
}

// Store keeps URL entries and snapshots in process memory.
type Store struct {
	mu      sync.RWMutex
	nextSeq int
	entries map[string]*entry
	snaps   map[string][]gateway.Snapshot

	clock gateway.Clock
	idGen gateway.IDGenerator
}

// New constructs a Store. Clock and IDGenerator are injected so tests can
// pin timestamps and IDs.
func New(clock gateway.Clock, idGen gateway.IDGenerator) *Store {
	return &Store{
		entries: make(map[string]*entry),
		snaps:   make(map[string][]gateway.Snapshot),
		clock:   clock,
		idGen:   idGen,
	}
}

// InsertURL creates an entry unless the URL is already tracked.
func (s *Store) InsertURL(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[url]; exists {
		return false, nil
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return false, fmt.Errorf("generate url id: %w", err)
	}
	now := s.clock.Now()
	s.entries[url] = &entry{
		URLEntry: gateway.URLEntry{
			ID:        id,
			URL:       url,
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq: s.nextSeq,
	}
	s.nextSeq++
	return true, nil
}

// DeleteURL removes the entry. Absent URLs are a no-op.
func (s *Store) DeleteURL(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, url)
	return nil
}

// GetURL fetches one entry by URL.
func (s *Store) GetURL(_ context.Context, url string) (gateway.URLEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[url]
	if !ok {
		return gateway.URLEntry{}, gateway.ErrNotFound
	}
	return e.URLEntry, nil
}

// ListURLs returns all entries in insertion order.
func (s *Store) ListURLs(_ context.Context) ([]gateway.URLEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.URLEntry, 0, len(s.entries))
	for _, e := range s.sortedEntries() {
		out = append(out, e.URLEntry)
	}
	return out, nil
}

// NextUncrawled picks the entry without a snapshot reference whose
// updated_at is oldest, ties broken by insertion order.
func (s *Store) NextUncrawled(_ context.Context) (gateway.URLEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pick(func(e *entry) bool { return e.SnapshotID == "" })
}

// OldestUpdated picks the globally least recently updated entry.
func (s *Store) OldestUpdated(_ context.Context) (gateway.URLEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pick(func(*entry) bool { return true })
}

// MarkCrawled stamps the crawl time and bumps updated_at.
func (s *Store) MarkCrawled(_ context.Context, url string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[url]
	if !ok {
		return gateway.ErrNotFound
	}
	stamp := at
	e.CrawledAt = &stamp
	e.UpdatedAt = s.clock.Now()
	return nil
}

// LatestSnapshot returns the most recently appended snapshot for the URL.
func (s *Store) LatestSnapshot(_ context.Context, url string) (gateway.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestLocked(url)
}

// ListSnapshots returns the full history for the URL, oldest first.
func (s *Store) ListSnapshots(_ context.Context, url string) ([]gateway.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.Snapshot, len(s.snaps[url]))
	copy(out, s.snaps[url])
	return out, nil
}

// InTx serializes the callback behind the store lock and applies the
// staged snapshot writes only if it returns nil.
func (s *Store) InTx(_ context.Context, fn func(gateway.SnapshotTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s, links: make(map[string]string)}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

func (s *Store) latestLocked(url string) (gateway.Snapshot, error) {
	history := s.snaps[url]
	if len(history) == 0 {
		return gateway.Snapshot{}, gateway.ErrNotFound
	}
	return history[len(history)-1], nil
}

func (s *Store) pick(match func(*entry) bool) (gateway.URLEntry, error) {
	var best *entry
	for _, e := range s.entries {
		if !match(e) {
			continue
		}
		if best == nil || e.UpdatedAt.Before(best.UpdatedAt) ||
			(e.UpdatedAt.Equal(best.UpdatedAt) && e.seq < best.seq) {
			best = e
		}
	}
	if best == nil {
		return gateway.URLEntry{}, gateway.ErrNotFound
	}
	return best.URLEntry, nil
}

func (s *Store) sortedEntries() []*entry {
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].seq > out[j].seq; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// memTx stages snapshot inserts and link updates until commit. The store
// lock is held for the whole transaction, so reads observe a consistent
// latest snapshot.
type memTx struct {
	store    *Store
	inserted []gateway.Snapshot
	links    map[string]string
}

func (t *memTx) LatestSnapshot(_ context.Context, url string) (gateway.Snapshot, error) {
	for i := len(t.inserted) - 1; i >= 0; i-- {
		if t.inserted[i].URL == url {
			return t.inserted[i], nil
		}
	}
	return t.store.latestLocked(url)
}

func (t *memTx) InsertSnapshot(_ context.Context, snap gateway.Snapshot) (gateway.Snapshot, error) {
	id, err := t.store.idGen.NewID()
	if err != nil {
		return gateway.Snapshot{}, fmt.Errorf("generate snapshot id: %w", err)
	}
	now := t.store.clock.Now()
	snap.ID = id
	snap.Body = append([]byte(nil), snap.Body...)
	snap.CreatedAt = now
	snap.UpdatedAt = now
	t.inserted = append(t.inserted, snap)
	return snap, nil
}

func (t *memTx) LinkSnapshot(_ context.Context, url, snapshotID string) error {
	if _, ok := t.store.entries[url]; !ok {
		return gateway.ErrNotFound
	}
	t.links[url] = snapshotID
	return nil
}

func (t *memTx) commit() {
	for _, snap := range t.inserted {
		t.store.snaps[snap.URL] = append(t.store.snaps[snap.URL], snap)
	}
	now := t.store.clock.Now()
	for url, snapID := range t.links {
		if e, ok := t.store.entries[url]; ok {
			e.SnapshotID = snapID
			e.UpdatedAt = now
		}
	}
}
