// Package crawlqueue decides which tracked URL is crawled next and stamps
// crawl times.
package crawlqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jusanz/snapgate/internal/gateway"
)

// Selector picks the next URL needing a crawl. It is read-only and never
// retries: storage faults surface to the caller.
type Selector struct {
	store gateway.ContentStore
}

// NewSelector constructs a Selector.
func NewSelector(store gateway.ContentStore) *Selector {
	return &Selector{store: store}
}

// Next returns the entry that should be crawled next. Entries that have
// never produced a snapshot win, oldest updated first; once every entry
// is linked to a snapshot, the least recently updated one is recycled so
// stale content eventually refreshes. gateway.ErrNotFound means the
// store is empty.
func (s *Selector) Next(ctx context.Context) (gateway.URLEntry, error) {
	entry, err := s.store.NextUncrawled(ctx)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, gateway.ErrNotFound) {
		return gateway.URLEntry{}, fmt.Errorf("next uncrawled: %w", err)
	}

	entry, err = s.store.OldestUpdated(ctx)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return gateway.URLEntry{}, gateway.ErrNotFound
		}
		return gateway.URLEntry{}, fmt.Errorf("oldest updated: %w", err)
	}
	return entry, nil
}
