package gateway

import (
	"context"
	"time"
)

// ContentStore is the durable home of URL entries and snapshots. It must
// tolerate concurrent readers and writers; all coordination happens
// through its own transactional guarantees.
type ContentStore interface {
	// InsertURL creates an entry for the URL if none exists. It reports
	// whether a row was created; re-submission is idempotent.
	InsertURL(ctx context.Context, url string) (created bool, err error)

	// DeleteURL removes the entry for the URL. Deleting an absent URL is
	// not an error.
	DeleteURL(ctx context.Context, url string) error

	// GetURL fetches the entry for the URL, or ErrNotFound.
	GetURL(ctx context.Context, url string) (URLEntry, error)

	// ListURLs returns all tracked entries in insertion order.
	ListURLs(ctx context.Context) ([]URLEntry, error)

	// NextUncrawled returns the entry with no snapshot reference whose
	// updated_at is oldest, or ErrNotFound when every entry has one.
	NextUncrawled(ctx context.Context) (URLEntry, error)

	// OldestUpdated returns the least recently updated entry regardless of
	// snapshot state, or ErrNotFound on an empty store.
	OldestUpdated(ctx context.Context) (URLEntry, error)

	// MarkCrawled stamps the entry's crawl time. Repeated calls overwrite
	// the stamp.
	MarkCrawled(ctx context.Context, url string, at time.Time) error

	// LatestSnapshot returns the most recent snapshot for the URL, or
	// ErrNotFound when none exists.
	LatestSnapshot(ctx context.Context, url string) (Snapshot, error)

	// ListSnapshots returns the snapshot history for the URL, oldest first.
	ListSnapshots(ctx context.Context, url string) ([]Snapshot, error)

	// InTx runs fn inside a single store transaction. If fn returns an
	// error the transaction is rolled back and no write made through the
	// SnapshotTx survives.
	InTx(ctx context.Context, fn func(SnapshotTx) error) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying resources.
	Close()
}

// SnapshotTx is the transactional scope handed to the snapshot writer so
// its read-compare-insert-link sequence commits or rolls back as a unit.
type SnapshotTx interface {
	LatestSnapshot(ctx context.Context, url string) (Snapshot, error)
	InsertSnapshot(ctx context.Context, snap Snapshot) (Snapshot, error)
	LinkSnapshot(ctx context.Context, url, snapshotID string) error
}

// Fetcher obtains the current raw content of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes snapshot events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used to name archived bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
