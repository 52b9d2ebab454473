package deviceid

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkucera/task-coach/internal/dao"
	"github.com/vkucera/task-coach/internal/migrations"
	"github.com/vkucera/task-coach/internal/sqlite"
)

func openStore(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "device.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.BootstrapStore(context.Background(), db))
	return db
}

func TestGenerate(t *testing.T) {
	id1, id2 := Generate(), Generate()
	assert.Len(t, id1, 36)
	assert.NotEqual(t, id1, id2)
}

func TestEnsureIsStable(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)

	_, err := Get(ctx, db)
	assert.ErrorIs(t, err, dao.ErrNotFound)

	id1, err := Ensure(ctx, db)
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	id2, err := Ensure(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	stored, err := Get(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, id1, stored)
}

func TestPairedGUID(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)

	guid, err := PairedGUID(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, guid, "never synced")

	require.NoError(t, SetPairedGUID(ctx, db, "abc-123"))
	require.NoError(t, SetPairedGUID(ctx, db, "def-456"))
	guid, err = PairedGUID(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "def-456", guid)
}
