package snapshot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jusanz/snapgate/internal/gateway"
	"github.com/jusanz/snapgate/internal/storage/memory"
)

type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("snap-%d", g.n), nil
}

func newStoreWithURL(t *testing.T, url string) *memory.Store {
	t.Helper()
	store := memory.New(&tickingClock{now: time.Unix(1700000000, 0).UTC()}, &seqIDGen{})
	_, err := store.InsertURL(context.Background(), url)
	require.NoError(t, err)
	return store
}

func TestRecordInsertsFirstSnapshot(t *testing.T) {
	t.Parallel()

	const url = "https://example.com"
	store := newStoreWithURL(t, url)
	w := NewWriter(store, zap.NewNop())

	outcome, err := w.Record(context.Background(), url, []byte("<html>v1</html>"))
	require.NoError(t, err)
	require.Equal(t, gateway.WriteInserted, outcome)

	entry, err := store.GetURL(context.Background(), url)
	require.NoError(t, err)
	require.NotEmpty(t, entry.SnapshotID)

	latest, err := store.LatestSnapshot(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, entry.SnapshotID, latest.ID)
}

func TestRecordDeduplicatesIdenticalContent(t *testing.T) {
	t.Parallel()

	const url = "https://example.com"
	store := newStoreWithURL(t, url)
	w := NewWriter(store, zap.NewNop())
	ctx := context.Background()

	first, err := w.Record(ctx, url, []byte("<html>same</html>"))
	require.NoError(t, err)
	require.Equal(t, gateway.WriteInserted, first)

	second, err := w.Record(ctx, url, []byte("<html>same</html>"))
	require.NoError(t, err)
	require.Equal(t, gateway.WriteDuplicate, second)

	history, err := store.ListSnapshots(ctx, url)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestRecordDetectsChangedContent(t *testing.T) {
	t.Parallel()

	const url = "https://example.com"
	store := newStoreWithURL(t, url)
	w := NewWriter(store, zap.NewNop())
	ctx := context.Background()

	_, err := w.Record(ctx, url, []byte("<html>v1</html>"))
	require.NoError(t, err)
	outcome, err := w.Record(ctx, url, []byte("<html>v2</html>"))
	require.NoError(t, err)
	require.Equal(t, gateway.WriteInserted, outcome)

	history, err := store.ListSnapshots(ctx, url)
	require.NoError(t, err)
	require.Len(t, history, 2)

	entry, err := store.GetURL(ctx, url)
	require.NoError(t, err)
	require.Equal(t, history[1].ID, entry.SnapshotID)
}

func TestRecordRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	store := memory.New(&tickingClock{now: time.Unix(1700000000, 0).UTC()}, &seqIDGen{})
	w := NewWriter(store, zap.NewNop())

	for _, raw := range []string{"not-a-url", "/relative/path", "https://", ""} {
		_, err := w.Record(context.Background(), raw, []byte("content"))
		require.ErrorIs(t, err, gateway.ErrInvalidURL, "url %q", raw)
	}
}

func TestRecordIntermediateDuplicateIsAllowed(t *testing.T) {
	t.Parallel()

	// Equal to an older snapshot but not the latest one: a new row is
	// written, only consecutive duplicates are suppressed.
	const url = "https://example.com"
	store := newStoreWithURL(t, url)
	w := NewWriter(store, zap.NewNop())
	ctx := context.Background()

	for _, body := range []string{"v1", "v2", "v1"} {
		_, err := w.Record(ctx, url, []byte(body))
		require.NoError(t, err)
	}

	history, err := store.ListSnapshots(ctx, url)
	require.NoError(t, err)
	require.Len(t, history, 3)
}

// failingTxStore aborts the transaction after the callback runs, as a
// storage layer would on commit failure.
type failingTxStore struct {
	gateway.ContentStore
	err error
}

func (s *failingTxStore) InTx(ctx context.Context, fn func(gateway.SnapshotTx) error) error {
	return s.err
}

func TestRecordSurfacesTransactionFailure(t *testing.T) {
	t.Parallel()

	wantErr := fmt.Errorf("commit tx: broken pipe")
	w := NewWriter(&failingTxStore{err: wantErr}, zap.NewNop())

	_, err := w.Record(context.Background(), "https://example.com", []byte("x"))
	require.ErrorIs(t, err, wantErr)
}
