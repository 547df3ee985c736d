// Package snapshot implements content-change detection for tracked URLs.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jusanz/snapgate/internal/gateway"
	"github.com/jusanz/snapgate/internal/metrics"
)

// Writer records snapshots, suppressing writes whose content matches the
// URL's latest snapshot byte for byte.
type Writer struct {
	store  gateway.ContentStore
	logger *zap.Logger
}

// NewWriter constructs a Writer.
func NewWriter(store gateway.ContentStore, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, logger: logger}
}

// Record stores body as the newest snapshot for rawURL unless it is
// identical to the latest one. The read, comparison, insert, and URL
// back-reference update all run inside one store transaction, so a
// partial failure leaves the entry's reference untouched. Retrying the
// whole call is safe: a retry of a committed insert dedupes to
// WriteDuplicate.
func (w *Writer) Record(ctx context.Context, rawURL string, body []byte) (gateway.WriteOutcome, error) {
	if !gateway.IsAbsoluteWithHost(rawURL) {
		return "", fmt.Errorf("%w: %q", gateway.ErrInvalidURL, rawURL)
	}

	outcome := gateway.WriteDuplicate
	err := w.store.InTx(ctx, func(tx gateway.SnapshotTx) error {
		last, err := tx.LatestSnapshot(ctx, rawURL)
		switch {
		case err == nil:
			if bytes.Equal(last.Body, body) {
				w.logger.Debug("content unchanged, skipping snapshot",
					zap.String("url", rawURL))
				return nil
			}
		case !errors.Is(err, gateway.ErrNotFound):
			return fmt.Errorf("latest snapshot: %w", err)
		}

		snap, err := tx.InsertSnapshot(ctx, gateway.Snapshot{URL: rawURL, Body: body})
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		if err := tx.LinkSnapshot(ctx, rawURL, snap.ID); err != nil {
			return fmt.Errorf("link snapshot: %w", err)
		}
		outcome = gateway.WriteInserted
		return nil
	})
	if err != nil {
		return "", err
	}

	metrics.ObserveSnapshot(string(outcome))
	return outcome, nil
}
