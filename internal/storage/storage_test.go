package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-ledger/internal/models"
)

func testSnapshot(portfolioID string, n int, ts time.Time) *models.Snapshot {
	return &models.Snapshot{
		ID:          fmt.Sprintf("%s-snap-%d", portfolioID, n),
		PortfolioID: portfolioID,
		Timestamp:   ts,
		TotalValue:  decimal.NewFromInt(int64(10000 + n)),
		CashBalance: decimal.NewFromInt(5000),
		Change:      decimal.NewFromInt(int64(n)),
		Positions:   map[string]*models.Position{},
		CreatedAt:   ts,
	}
}

func seedStore(t *testing.T, store SnapshotStore, portfolioID string, count int, base time.Time) {
	t.Helper()
	ctx := context.Background()
	// insert out of order to exercise sorting
	for _, n := range shuffled(count) {
		snap := testSnapshot(portfolioID, n, base.Add(time.Duration(n)*time.Hour))
		require.NoError(t, store.Save(ctx, snap))
	}
}

func shuffled(count int) []int {
	order := make([]int, count)
	for i := range order {
		order[i] = (i*7 + 3) % count
	}
	seen := make(map[int]bool, count)
	out := make([]int, 0, count)
	for _, n := range order {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for n := 0; n < count; n++ {
		if !seen[n] {
			out = append(out, n)
		}
	}
	return out
}

func runSnapshotStoreTests(t *testing.T, newStore func(t *testing.T) SnapshotStore) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("ListAscending", func(t *testing.T) {
		store := newStore(t)
		seedStore(t, store, "pf-1", 5, base)

		snaps, err := store.List(ctx, "pf-1", ListOptions{})
		require.NoError(t, err)
		require.Len(t, snaps, 5)
		for i := 1; i < len(snaps); i++ {
			assert.True(t, snaps[i-1].Timestamp.Before(snaps[i].Timestamp))
		}
	})

	t.Run("ListRange", func(t *testing.T) {
		store := newStore(t)
		seedStore(t, store, "pf-1", 6, base)

		snaps, err := store.List(ctx, "pf-1", ListOptions{
			From: base.Add(1 * time.Hour),
			To:   base.Add(3 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, snaps, 3)
		assert.Equal(t, "pf-1-snap-1", snaps[0].ID)
		assert.Equal(t, "pf-1-snap-3", snaps[2].ID)
	})

	t.Run("ListLimitKeepsNewest", func(t *testing.T) {
		store := newStore(t)
		seedStore(t, store, "pf-1", 6, base)

		snaps, err := store.List(ctx, "pf-1", ListOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, "pf-1-snap-4", snaps[0].ID)
		assert.Equal(t, "pf-1-snap-5", snaps[1].ID)
	})

	t.Run("ListUnknownPortfolio", func(t *testing.T) {
		store := newStore(t)

		snaps, err := store.List(ctx, "nope", ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, snaps)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)
		seedStore(t, store, "pf-1", 3, base)

		require.NoError(t, store.Delete(ctx, "pf-1-snap-1"))

		snaps, err := store.List(ctx, "pf-1", ListOptions{})
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, "pf-1-snap-0", snaps[0].ID)
		assert.Equal(t, "pf-1-snap-2", snaps[1].ID)
	})

	t.Run("DeleteOlderThan", func(t *testing.T) {
		store := newStore(t)
		seedStore(t, store, "pf-1", 5, base)
		seedStore(t, store, "pf-2", 3, base)

		deleted, err := store.DeleteOlderThan(ctx, "pf-1", base.Add(3*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 3, deleted)

		snaps, err := store.List(ctx, "pf-1", ListOptions{})
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, "pf-1-snap-3", snaps[0].ID)

		// other portfolios untouched
		other, err := store.List(ctx, "pf-2", ListOptions{})
		require.NoError(t, err)
		assert.Len(t, other, 3)
	})

	t.Run("DeleteOlderThanNothingMatches", func(t *testing.T) {
		store := newStore(t)
		seedStore(t, store, "pf-1", 3, base)

		deleted, err := store.DeleteOlderThan(ctx, "pf-1", base.Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, deleted)
	})

	t.Run("DeletePortfolio", func(t *testing.T) {
		store := newStore(t)
		seedStore(t, store, "pf-1", 3, base)
		seedStore(t, store, "pf-2", 2, base)

		require.NoError(t, store.DeletePortfolio(ctx, "pf-1"))

		snaps, err := store.List(ctx, "pf-1", ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, snaps)

		other, err := store.List(ctx, "pf-2", ListOptions{})
		require.NoError(t, err)
		assert.Len(t, other, 2)
	})
}

func TestMemorySnapshotStore(t *testing.T) {
	runSnapshotStoreTests(t, func(t *testing.T) SnapshotStore {
		return NewMemorySnapshotStore()
	})
}

func TestFileSnapshotStore(t *testing.T) {
	runSnapshotStoreTests(t, func(t *testing.T) SnapshotStore {
		store, err := NewFileSnapshotStore(t.TempDir())
		require.NoError(t, err)
		require.NoError(t, store.Initialize(context.Background()))
		return store
	})
}

func TestFileSnapshotStoreSkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileSnapshotStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Initialize(ctx))

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, testSnapshot("pf-1", 0, base)))

	f, err := os.OpenFile(filepath.Join(dir, "pf-1.jsonl"), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.Save(ctx, testSnapshot("pf-1", 1, base.Add(time.Hour))))

	snaps, err := store.List(ctx, "pf-1", ListOptions{})
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestFileSnapshotStoreCleanupRemovesTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileSnapshotStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Initialize(ctx))

	stray := filepath.Join(dir, "pf-1.jsonl.tmp")
	require.NoError(t, os.WriteFile(stray, []byte("partial"), 0o644))

	require.NoError(t, store.Cleanup(ctx))

	_, err = os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
}

func TestFileSnapshotStoreRequiresPath(t *testing.T) {
	_, err := NewFileSnapshotStore("")
	assert.Error(t, err)
}
