package bridge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracos/syncbridge/internal/schema"
	"github.com/tracos/syncbridge/internal/store"
)

const seedArray = `[
  {
    "_id": {"$oid": "6657a1f0c2a4b8e1d0f1a001"},
    "number": 1,
    "status": "pending",
    "title": "Example workorder #1",
    "description": "Example workorder #1 description",
    "createdAt": {"$date": "2025-05-10T18:01:57.719Z"},
    "updatedAt": {"$date": {"$numberLong": "1746903717719"}},
    "deleted": false
  },
  {
    "number": 2,
    "status": "completed",
    "title": "Example workorder #2",
    "description": "Example workorder #2 description",
    "createdAt": "2025-05-10T18:01:57.719Z",
    "deleted": true,
    "deletedAt": {"$date": "2025-05-11T00:00:00Z"},
    "isSynced": true
  },
  {
    "status": "pending",
    "title": "no number"
  }
]`

const seedObject = `{
  "number": 3,
  "status": "on_hold",
  "title": "Example workorder #3",
  "description": "Example workorder #3 description",
  "createdAt": {"$date": 1746900117763}
}`

func TestSeed(t *testing.T) {
	dir := t.TempDir()
	arr := filepath.Join(dir, "workorders.json")
	obj := filepath.Join(dir, "single.json")
	require.NoError(t, os.WriteFile(arr, []byte(seedArray), 0o644))
	require.NoError(t, os.WriteFile(obj, []byte(seedObject), 0o644))

	st := store.NewMemoryStore(store.Options{Logger: zerolog.Nop()})
	rep, err := Seed(context.Background(), st, []string{arr, obj}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Files)
	assert.Equal(t, 4, rep.Documents)
	assert.Equal(t, 3, rep.Upserted)
	assert.Equal(t, 1, rep.Failed)
	require.Len(t, rep.Errors, 1)
	assert.ErrorIs(t, rep.Errors[0], schema.ErrMissingRequiredField)

	ctx := context.Background()
	require.NoError(t, st.Connect(ctx))

	one, err := st.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, schema.DocumentID("6657a1f0c2a4b8e1d0f1a001"), one.ID)
	assert.Equal(t, "2025-05-10T18:01:57.719Z", one.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"))
	assert.Nil(t, one.IsSynced)

	two, err := st.Get(ctx, 2)
	require.NoError(t, err)
	assert.True(t, two.Deleted)
	require.NotNil(t, two.DeletedAt)
	assert.True(t, two.Synced())

	three, err := st.Get(ctx, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, three.ID)
	assert.Equal(t, int64(1746900117763), three.CreatedAt.UnixMilli())

	unsynced, err := st.Unsynced(ctx)
	require.NoError(t, err)
	assert.Len(t, unsynced, 2)
}

func TestSeed_BadFiles(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemoryStore(store.Options{Logger: zerolog.Nop()})

	_, err := Seed(context.Background(), st, []string{filepath.Join(dir, "missing.json")}, zerolog.Nop())
	assert.Error(t, err)

	for name, content := range map[string]string{
		"broken.json": "[",
		"scalar.json": "42",
		"mixed.json":  `[{"number": 1}, 2]`,
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err := Seed(context.Background(), st, []string{path}, zerolog.Nop())
		assert.Error(t, err, name)
	}
}
