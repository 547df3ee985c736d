package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jusanz/snapgate/internal/gateway"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func urlRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "url", "content", "snapshot_id", "created_at", "updated_at"})
}

func snapshotRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "url", "content", "created_at", "updated_at"})
}

func TestInsertURLReportsCreated(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO urls").
		WithArgs("https://example.com", []byte(`{"url":"https://example.com"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := store.InsertURL(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertURLConflictReportsExisting(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO urls").
		WithArgs("https://example.com", []byte(`{"url":"https://example.com"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := store.InsertURL(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextUncrawledScansEntry(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT (.+) FROM urls WHERE snapshot_id IS NULL").
		WillReturnRows(urlRows().AddRow(
			"3d2e7efc-0000-0000-0000-000000000001",
			"https://example.com",
			[]byte(`{"url":"https://example.com","crawled_at":1700000000000}`),
			nil,
			now, now,
		))

	entry, err := store.NextUncrawled(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://example.com", entry.URL)
	require.Empty(t, entry.SnapshotID)
	require.NotNil(t, entry.CrawledAt)
	require.Equal(t, now, entry.CrawledAt.UTC())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextUncrawledEmptyQueue(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM urls WHERE snapshot_id IS NULL").
		WillReturnRows(urlRows())

	_, err := store.NextUncrawled(context.Background())
	require.ErrorIs(t, err, gateway.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOldestUpdatedFallback(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	snapID := "3d2e7efc-0000-0000-0000-00000000000a"

	mock.ExpectQuery("SELECT (.+) FROM urls ORDER BY updated_at ASC").
		WillReturnRows(urlRows().AddRow(
			"3d2e7efc-0000-0000-0000-000000000001",
			"https://example.com",
			[]byte(`{"url":"https://example.com"}`),
			&snapID,
			now, now,
		))

	entry, err := store.OldestUpdated(context.Background())
	require.NoError(t, err)
	require.Equal(t, snapID, entry.SnapshotID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCrawledStampsContent(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.UnixMilli(1700000000123).UTC()

	mock.ExpectExec("UPDATE urls SET content").
		WithArgs(
			[]byte(`{"url":"https://example.com","crawled_at":1700000000123}`),
			"https://example.com",
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.MarkCrawled(context.Background(), "https://example.com", at)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCrawledUnknownURL(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE urls SET content").
		WithArgs(pgxmock.AnyArg(), "https://missing.example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.MarkCrawled(context.Background(), "https://missing.example.com", time.Now())
	require.ErrorIs(t, err, gateway.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestSnapshotDecodesBody(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT (.+) FROM snapshots").
		WithArgs("https://example.com").
		WillReturnRows(snapshotRows().AddRow(
			"3d2e7efc-0000-0000-0000-00000000000a",
			"https://example.com",
			[]byte(`{"url":"https://example.com","html":"<html>v1</html>"}`),
			now, now,
		))

	snap, err := store.LatestSnapshot(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, []byte("<html>v1</html>"), snap.Body)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestSnapshotMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM snapshots").
		WithArgs("https://example.com").
		WillReturnRows(snapshotRows())

	_, err := store.LatestSnapshot(context.Background(), "https://example.com")
	require.ErrorIs(t, err, gateway.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxCommitsInsertAndLink(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	snapID := "3d2e7efc-0000-0000-0000-00000000000b"

	// json.Marshal HTML-escapes angle brackets, so the expected bytes
	// must come from the same encoder.
	content, err := json.Marshal(snapshotContent{
		URL:  "https://example.com",
		HTML: "<html>v2</html>",
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO snapshots").
		WithArgs("https://example.com", content).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(snapID, now, now))
	mock.ExpectExec("UPDATE urls SET snapshot_id").
		WithArgs(snapID, "https://example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = store.InTx(context.Background(), func(tx gateway.SnapshotTx) error {
		snap, err := tx.InsertSnapshot(context.Background(), gateway.Snapshot{
			URL:  "https://example.com",
			Body: []byte("<html>v2</html>"),
		})
		if err != nil {
			return err
		}
		return tx.LinkSnapshot(context.Background(), "https://example.com", snap.ID)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	wantErr := fmt.Errorf("boom")
	err := store.InTx(context.Background(), func(gateway.SnapshotTx) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackWhenLinkTargetMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	snapID := "3d2e7efc-0000-0000-0000-00000000000c"

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE urls SET snapshot_id").
		WithArgs(snapID, "https://gone.example.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(tx gateway.SnapshotTx) error {
		return tx.LinkSnapshot(context.Background(), "https://gone.example.com", snapID)
	})
	require.ErrorIs(t, err, gateway.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBootstrapRunsAllStatements(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	for range bootstrapStatements {
		mock.ExpectExec(".*").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	require.NoError(t, store.Bootstrap(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
