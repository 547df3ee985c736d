package crawlqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jusanz/snapgate/internal/gateway"
)

// Marker stamps URL entries with their crawl time. The stamp is advisory
// bookkeeping; whether a snapshot gets written is decided elsewhere.
type Marker struct {
	store gateway.ContentStore
	clock gateway.Clock
}

// NewMarker constructs a Marker.
func NewMarker(store gateway.ContentStore, clock gateway.Clock) *Marker {
	return &Marker{store: store, clock: clock}
}

// MarkCrawled records the current wall-clock time, millisecond
// resolution, on the entry. Repeated calls overwrite the stamp.
func (m *Marker) MarkCrawled(ctx context.Context, url string) error {
	at := m.clock.Now().Truncate(time.Millisecond)
	if err := m.store.MarkCrawled(ctx, url, at); err != nil {
		return fmt.Errorf("mark crawled %s: %w", url, err)
	}
	return nil
}
