// internal/store/db_test.go
package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stepClock advances one second per reading so ordering by timestamp is stable
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "leafdoc.db"), zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "leafdoc.db")
	db, err := Open(path, nil)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Ping(context.Background()))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leafdoc.db")
	ctx := context.Background()

	db, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	plant, err := NewPlantStore(db).Add(ctx, "Fern", zeroCare)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening must not drop existing data
	db, err = Open(path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	got, err := NewPlantStore(db).Get(ctx, plant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fern", got.Name)
}

func TestStorageErrorWrapping(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())

	err := db.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, IsStorage(err))
	assert.Contains(t, err.Error(), "storage: ping")
}
