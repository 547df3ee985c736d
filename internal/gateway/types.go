// Package gateway defines the core types and boundary contracts of the
// snapshot gateway: tracked URLs, their captured content snapshots, and
// the store they live in.
package gateway

import "time"

// URLEntry is a tracked URL and its crawl bookkeeping. The URL is unique
// across the store; SnapshotID points at the most recent snapshot once
// one exists.
type URLEntry struct {
	ID         string     `json:"id"`
	URL        string     `json:"url"`
	CrawledAt  *time.Time `json:"crawled_at,omitempty"`
	SnapshotID string     `json:"snapshot_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Snapshot is one immutable captured content payload for a URL at a point
// in time. History is append-only: snapshots are never updated or deleted.
type Snapshot struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Body      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WriteOutcome reports what a snapshot write did.
type WriteOutcome string

const (
	// WriteInserted means a new snapshot row was created and the URL entry
	// now points at it.
	WriteInserted WriteOutcome = "inserted"
	// WriteDuplicate means the submitted content matched the latest
	// snapshot byte for byte and nothing was written.
	WriteDuplicate WriteOutcome = "duplicate"
)
