package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracos/syncbridge/internal/schema"
)

var baseTime = time.Date(2025, 5, 10, 18, 1, 57, 763724000, time.UTC)

func fixedNow() time.Time { return baseTime.Add(48 * time.Hour) }

func boolPtr(b bool) *bool { return &b }

func workorder(number int64, created time.Time, synced *bool) schema.TracOSWorkorder {
	return schema.TracOSWorkorder{
		ID:          schema.NewDocumentID(),
		Number:      number,
		Status:      schema.StatusPending,
		Title:       "title",
		Description: "description",
		CreatedAt:   created,
		UpdatedAt:   created.Add(time.Hour),
		IsSynced:    synced,
	}
}

// setupSQLite returns a connected store on a fresh database file.
func setupSQLite(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tracos.db"), Options{
		Logger: zerolog.Nop(),
		Now:    fixedNow,
	})
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s
}

func setupMemory(t *testing.T) Store {
	t.Helper()
	s := NewMemoryStore(Options{Logger: zerolog.Nop(), Now: fixedNow})
	require.NoError(t, s.Connect(context.Background()))
	return s
}

var backends = map[string]func(t *testing.T) Store{
	"memory": setupMemory,
	"sqlite": setupSQLite,
}

func TestStore_UnsyncedSelection(t *testing.T) {
	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			s := setup(t)
			ctx := context.Background()

			_, err := s.Upsert(ctx, workorder(1, baseTime, boolPtr(false)))
			require.NoError(t, err)
			_, err = s.Upsert(ctx, workorder(2, baseTime, nil))
			require.NoError(t, err)
			_, err = s.Upsert(ctx, workorder(3, baseTime, boolPtr(true)))
			require.NoError(t, err)

			got, err := s.Unsynced(ctx)
			require.NoError(t, err)

			var numbers []int64
			for _, wo := range got {
				numbers = append(numbers, wo.Number)
			}
			assert.ElementsMatch(t, []int64{1, 2}, numbers)
		})
	}
}

func TestStore_UnsyncedOrdering(t *testing.T) {
	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			s := setup(t)
			ctx := context.Background()

			later := baseTime.Add(500 * time.Millisecond)
			for _, wo := range []schema.TracOSWorkorder{
				workorder(30, later, nil),
				workorder(20, baseTime, nil),
				workorder(10, baseTime, nil),
				workorder(5, baseTime.Add(time.Hour), nil),
			} {
				_, err := s.Upsert(ctx, wo)
				require.NoError(t, err)
			}

			got, err := s.Unsynced(ctx)
			require.NoError(t, err)
			require.Len(t, got, 4)
			assert.Equal(t, []int64{10, 20, 30, 5}, []int64{got[0].Number, got[1].Number, got[2].Number, got[3].Number})
		})
	}
}

func TestStore_UpsertIdempotent(t *testing.T) {
	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			s := setup(t)
			ctx := context.Background()

			first := workorder(100, baseTime, boolPtr(false))
			res1, err := s.Upsert(ctx, first)
			require.NoError(t, err)
			assert.True(t, res1.Created)
			assert.Equal(t, first.ID, res1.ID)

			second := workorder(100, baseTime, boolPtr(false))
			second.Status = schema.StatusCompleted
			second.Title = "updated"
			res2, err := s.Upsert(ctx, second)
			require.NoError(t, err)
			assert.False(t, res2.Created)
			assert.Equal(t, first.ID, res2.ID, "identity must be preserved")

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			got, err := s.Get(ctx, 100)
			require.NoError(t, err)
			assert.Equal(t, first.ID, got.ID)
			assert.Equal(t, schema.StatusCompleted, got.Status)
			assert.Equal(t, "updated", got.Title)
		})
	}
}

func TestStore_UpsertRoundTripsFields(t *testing.T) {
	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			s := setup(t)
			ctx := context.Background()

			deleted := baseTime.Add(3 * time.Hour)
			wo := workorder(7, baseTime, boolPtr(false))
			wo.Deleted = true
			wo.DeletedAt = &deleted
			wo.Status = schema.StatusOnHold

			_, err := s.Upsert(ctx, wo)
			require.NoError(t, err)

			got, err := s.Get(ctx, 7)
			require.NoError(t, err)
			assert.Equal(t, wo, got)
		})
	}
}

func TestStore_UpsertKeepsSyncStateWhenAbsent(t *testing.T) {
	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			s := setup(t)
			ctx := context.Background()

			_, err := s.Upsert(ctx, workorder(8, baseTime, boolPtr(true)))
			require.NoError(t, err)

			_, err = s.Upsert(ctx, workorder(8, baseTime, nil))
			require.NoError(t, err)
			got, err := s.Get(ctx, 8)
			require.NoError(t, err)
			assert.True(t, got.Synced())

			_, err = s.Upsert(ctx, workorder(8, baseTime, boolPtr(false)))
			require.NoError(t, err)
			got, err = s.Get(ctx, 8)
			require.NoError(t, err)
			assert.False(t, got.Synced())
		})
	}
}

func TestStore_MarkSynced(t *testing.T) {
	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			s := setup(t)
			ctx := context.Background()

			wo := workorder(1, baseTime, nil)
			res, err := s.Upsert(ctx, wo)
			require.NoError(t, err)

			require.NoError(t, s.MarkSynced(ctx, res.ID))

			got, err := s.Get(ctx, 1)
			require.NoError(t, err)
			assert.True(t, got.Synced())
			require.NotNil(t, got.SyncedAt)
			assert.True(t, got.SyncedAt.Equal(fixedNow()))

			unsynced, err := s.Unsynced(ctx)
			require.NoError(t, err)
			assert.Empty(t, unsynced)
		})
	}
}

func TestStore_MarkSyncedUnknownID(t *testing.T) {
	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			s := setup(t)
			ctx := context.Background()

			_, err := s.Upsert(ctx, workorder(1, baseTime, nil))
			require.NoError(t, err)

			require.NoError(t, s.MarkSynced(ctx, schema.NewDocumentID()))

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			unsynced, err := s.Unsynced(ctx)
			require.NoError(t, err)
			assert.Len(t, unsynced, 1)
		})
	}
}

func TestStore_GetNotFound(t *testing.T) {
	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			s := setup(t)
			_, err := s.Get(context.Background(), 404)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_NotConnected(t *testing.T) {
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "x.db"), Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	for name, s := range map[string]Store{
		"memory": NewMemoryStore(Options{Logger: zerolog.Nop()}),
		"sqlite": sqlite,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Unsynced(context.Background())
			assert.ErrorIs(t, err, ErrNotConnected)
			assert.True(t, IsConnectionError(err))
			assert.NoError(t, s.Disconnect(context.Background()))
		})
	}
}

func TestSQLiteStore_ReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tracos.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, s.Connect(ctx))
	_, err = s.Upsert(ctx, workorder(1, baseTime, nil))
	require.NoError(t, err)
	require.NoError(t, s.Disconnect(ctx))

	require.NoError(t, s.Connect(ctx))
	defer func() { _ = s.Disconnect(ctx) }()
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.Reconnect(ctx))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLStore_InvalidTable(t *testing.T) {
	_, err := NewSQLiteStore("x.db", Options{Collection: "work orders; DROP"})
	assert.Error(t, err)
}

func TestDialectRebind(t *testing.T) {
	q := "UPDATE t SET a = ?, b = ? WHERE id = ?"
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, "UPDATE t SET a = $1, b = $2 WHERE id = $3", postgresDialect.rebind(q))
}
