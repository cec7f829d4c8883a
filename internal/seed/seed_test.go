package seed

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegasq/deltaaudit/internal/delta"
	"github.com/vegasq/deltaaudit/internal/timetravel"
)

func TestBuild(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "sales")
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	latest, err := Build(ctx, dir, start)
	require.NoError(t, err)

	table, err := delta.Open(dir)
	require.NoError(t, err)

	history, err := table.History(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest, history[0].Version)

	ops := make(map[string]int)
	for _, h := range history {
		ops[h.Operation]++
	}
	assert.Equal(t, map[string]int{
		"CREATE TABLE": 1,
		"WRITE":        5,
		"DELETE":       1,
		"VACUUM START": 1,
		"VACUUM END":   1,
	}, ops)

	inv, err := timetravel.NewInvestigator(table, timetravel.WithClock(func() time.Time { return start.Add(30 * 24 * time.Hour) }))
	require.NoError(t, err)

	report, err := inv.Investigate(ctx, timetravel.Options{Since: start, Filter: "promo_id = 'SPRING'"})
	require.NoError(t, err)

	byVersion := make(map[int64]int64)
	for _, r := range report.Rows {
		byVersion[r.Version] = r.Count
	}
	assert.Equal(t, int64(2), byVersion[1], "berlin and madrid")
	assert.Equal(t, int64(3), byVersion[2], "plus boston")
	assert.Equal(t, int64(4), byVersion[3], "plus rome")
	assert.Equal(t, int64(3), byVersion[4], "madrid deleted")
	assert.Equal(t, int64(4), byVersion[7], "plus tokyo")
	assert.Equal(t, int64(1), byVersion[8], "overwrite replaces every file")

	regional, err := inv.Investigate(ctx, timetravel.Options{Since: start, Filter: "region = 'eu' AND promo_id IS NULL"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), regional.Rows[0].Count)
}
