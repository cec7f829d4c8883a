package timetravel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegasq/deltaaudit/internal/delta"
	"github.com/vegasq/deltaaudit/internal/filter"
)

type sale struct {
	ID      int64  `parquet:"id"`
	PromoID string `parquet:"promo_id"`
	Qty     int64  `parquet:"qty"`
}

type fixture struct {
	table *delta.Table
	// commit times by version
	times map[int64]time.Time
}

var day0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// newSalesHistory builds:
//
//	v0 2024-03-01 CREATE TABLE
//	v1 2024-03-02 WRITE append  P1,P1,P2
//	v2 2024-03-03 WRITE append  P1
//	v3 2024-03-04 DELETE id = 1
//	v4 2024-03-05 VACUUM START
//	v5 2024-03-05 VACUUM END
//	v6 2024-03-06 WRITE append  P2,P1
func newSalesHistory(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	now := day0
	clock := func() time.Time { return now }
	schema := delta.NewSchema(
		delta.NewField("id", delta.TypeLong),
		delta.NewField("promo_id", delta.TypeString),
		delta.NewField("qty", delta.TypeLong),
	)
	w, err := delta.Create(ctx, filepath.Join(t.TempDir(), "sales"), schema, nil, delta.WithClock(clock))
	require.NoError(t, err)

	f := &fixture{table: w.Table(), times: map[int64]time.Time{0: now}}
	next := func() { now = now.Add(24 * time.Hour) }

	next()
	v, err := delta.Append(ctx, w, []sale{{1, "P1", 1}, {2, "P1", 2}, {3, "P2", 1}}, nil)
	require.NoError(t, err)
	f.times[v] = now

	next()
	v, err = delta.Append(ctx, w, []sale{{4, "P1", 3}}, nil)
	require.NoError(t, err)
	f.times[v] = now

	next()
	v, err = delta.Delete[sale](ctx, w, "id = 1")
	require.NoError(t, err)
	f.times[v] = now

	next()
	_, err = w.Vacuum(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	f.times[4] = now
	f.times[5] = now

	next()
	v, err = delta.Append(ctx, w, []sale{{5, "P2", 1}, {6, "P1", 1}}, nil)
	require.NoError(t, err)
	f.times[v] = now
	require.Equal(t, int64(6), v)
	return f
}

func (f *fixture) investigator(t *testing.T, opts ...Option) *Investigator {
	t.Helper()
	today := day0.Add(10 * 24 * time.Hour)
	opts = append([]Option{WithName("sales"), WithClock(func() time.Time { return today })}, opts...)
	inv, err := NewInvestigator(f.table, opts...)
	require.NoError(t, err)
	return inv
}

func versions(rows []VersionCount) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.Version
	}
	return out
}

func counts(rows []VersionCount) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.Count
	}
	return out
}

func TestInvestigateCountsFilteredRowsPerVersion(t *testing.T) {
	f := newSalesHistory(t)
	inv := f.investigator(t)

	report, err := inv.Investigate(context.Background(), Options{
		Since:  day0,
		Filter: "promo_id = 'P1'",
	})
	require.NoError(t, err)

	assert.Equal(t, "sales", report.Table)
	assert.Equal(t, "promo_id = 'P1'", report.Filter)
	assert.Equal(t, []int64{6, 3, 2, 1, 0}, versions(report.Rows))
	assert.Equal(t, []int64{3, 2, 3, 2, 0}, counts(report.Rows))
	assert.Equal(t, "WRITE", report.Rows[0].Operation)
	assert.Equal(t, "DELETE", report.Rows[1].Operation)
	assert.Equal(t, f.times[6], report.Rows[0].Timestamp)
}

func TestInvestigateDefaultFilterCountsAllRows(t *testing.T) {
	f := newSalesHistory(t)
	inv := f.investigator(t)

	report, err := inv.Investigate(context.Background(), Options{Since: day0})
	require.NoError(t, err)
	assert.Equal(t, DefaultFilter, report.Filter)
	assert.Equal(t, []int64{5, 3, 4, 3, 0}, counts(report.Rows))

	stats := inv.counter.Stats()
	assert.Zero(t, stats.Scanned, "row counts come from file statistics")
}

func TestInvestigateWindow(t *testing.T) {
	f := newSalesHistory(t)
	inv := f.investigator(t)

	tests := []struct {
		name  string
		since time.Time
		until time.Time
		want  []int64
	}{
		{"whole history", day0, time.Time{}, []int64{6, 3, 2, 1, 0}},
		{"since is inclusive", f.times[3], time.Time{}, []int64{6, 3}},
		{"bounded", f.times[1], f.times[2], []int64{2, 1}},
		{"single day", f.times[2], f.times[2], []int64{2}},
		{"after the last commit", day0.Add(8 * 24 * time.Hour), time.Time{}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := inv.Investigate(context.Background(), Options{Since: tt.since, Until: tt.until})
			require.NoError(t, err)
			assert.Equal(t, tt.want, versions(report.Rows))
		})
	}
}

func TestInvestigateInvalidWindow(t *testing.T) {
	f := newSalesHistory(t)
	inv := f.investigator(t)
	_, err := inv.Investigate(context.Background(), Options{Since: f.times[3], Until: f.times[1]})
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestInvestigateTimeZone(t *testing.T) {
	f := newSalesHistory(t)
	inv := f.investigator(t)

	// 09:00 UTC is the previous day at UTC-10, so version 2 (2024-03-03 UTC)
	// falls on 2024-03-02.
	loc := time.FixedZone("UTC-10", -10*60*60)
	since := time.Date(2024, 3, 2, 0, 0, 0, 0, loc)
	report, err := inv.Investigate(context.Background(), Options{Since: since, Until: since, Location: loc})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, versions(report.Rows))
}

func TestInvestigateExcludeOperations(t *testing.T) {
	f := newSalesHistory(t)
	inv := f.investigator(t)
	ctx := context.Background()

	report, err := inv.Investigate(ctx, Options{Since: day0, Exclude: []string{"VACUUM", "DELETE"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 2, 1, 0}, versions(report.Rows))

	// Keeping VACUUM commits counts the versions they recorded.
	report, err = inv.Investigate(ctx, Options{Since: f.times[4], Exclude: []string{}})
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 5, 4}, versions(report.Rows))
	assert.Equal(t, []int64{5, 3, 3}, counts(report.Rows))
}

func TestInvestigateUnknownColumnFailsVersion(t *testing.T) {
	f := newSalesHistory(t)
	inv := f.investigator(t)

	report, err := inv.Investigate(context.Background(), Options{Since: day0, Filter: "promo_id = 'P1' AND store = 7"})
	require.Error(t, err)
	assert.Nil(t, report)

	var verr *VersionError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, int64(6), verr.Version)
	assert.Equal(t, "sales", verr.Table)
	assert.ErrorIs(t, err, filter.ErrUnknownColumn)
	assert.True(t, strings.HasPrefix(err.Error(), "Error processing version 6: "))
	assert.Contains(t, err.Error(), "might not work for the table sales")
}

func TestInvestigateMissingDataFileFailsVersion(t *testing.T) {
	f := newSalesHistory(t)
	inv := f.investigator(t)
	ctx := context.Background()

	snap, err := f.table.Snapshot(ctx, 2)
	require.NoError(t, err)
	for _, file := range snap.Files {
		path, err := f.table.FilePath(file.Path)
		require.NoError(t, err)
		_ = os.Remove(path)
	}

	report, err := inv.Investigate(ctx, Options{Since: day0, Filter: "qty > 0"})
	assert.Nil(t, report)
	var verr *VersionError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, int64(6), verr.Version)
}

func TestInvestigateMissingCommitFailsVersion(t *testing.T) {
	f := newSalesHistory(t)
	inv := f.investigator(t)

	require.NoError(t, os.Remove(filepath.Join(f.table.Root(), "_delta_log", "00000000000000000000.json")))

	_, err := inv.Investigate(context.Background(), Options{Since: day0})
	var verr *VersionError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, int64(6), verr.Version)
	assert.ErrorIs(t, err, delta.ErrVersionUnavailable)
}

func TestInvestigateInvalidFilter(t *testing.T) {
	f := newSalesHistory(t)
	inv := f.investigator(t)
	_, err := inv.Investigate(context.Background(), Options{Since: day0, Filter: "promo_id = "})
	require.Error(t, err)
	var verr *VersionError
	assert.False(t, errors.As(err, &verr))
}

func TestInvestigateCanceled(t *testing.T) {
	f := newSalesHistory(t)
	inv := f.investigator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := inv.Investigate(ctx, Options{Since: day0})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSharedCounterReusesFileCounts(t *testing.T) {
	f := newSalesHistory(t)
	counter, err := NewFileCounter(16)
	require.NoError(t, err)
	inv := f.investigator(t, WithCounter(counter))
	ctx := context.Background()

	opts := Options{Since: day0, Filter: "qty >= 1"}
	first, err := inv.Investigate(ctx, opts)
	require.NoError(t, err)
	scanned := counter.Stats().Scanned
	assert.Positive(t, scanned)

	second, err := inv.Investigate(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, scanned, counter.Stats().Scanned)
	assert.Positive(t, counter.Stats().Hits)
}

func TestStatisticsPruneFiles(t *testing.T) {
	f := newSalesHistory(t)
	counter, err := NewFileCounter(16)
	require.NoError(t, err)
	inv := f.investigator(t, WithCounter(counter))

	report, err := inv.Investigate(context.Background(), Options{Since: day0, Filter: "qty > 100"})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 0, 0, 0, 0}, counts(report.Rows))
	assert.Zero(t, counter.Stats().Scanned)
	assert.Positive(t, counter.Stats().Pruned)
}

func TestInvestigateTemporalFilters(t *testing.T) {
	type reading struct {
		ID int64     `parquet:"id"`
		TS time.Time `parquet:"ts"`
		D  int32     `parquet:"d,date"`
		// microseconds since the epoch without a logical type annotation
		Legacy int64 `parquet:"legacy"`
	}
	ctx := context.Background()
	schema := delta.NewSchema(
		delta.NewField("id", delta.TypeLong),
		delta.NewField("ts", delta.TypeTimestamp),
		delta.NewField("d", delta.TypeDate),
		delta.NewField("legacy", delta.TypeTimestamp),
	)
	w, err := delta.Create(ctx, filepath.Join(t.TempDir(), "readings"), schema, nil,
		delta.WithClock(func() time.Time { return day0 }))
	require.NoError(t, err)
	first := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	second := time.Date(2024, 3, 2, 8, 30, 0, 0, time.UTC)
	_, err = delta.Append(ctx, w, []reading{
		{1, first, 19783, first.UnixMicro()},
		{2, second, 19784, second.UnixMicro()},
	}, nil)
	require.NoError(t, err)

	tests := []struct {
		clause string
		want   int64
	}{
		{"ts = '2024-03-01 10:00:00'", 1},
		{"d = '2024-03-01'", 1},
		{"ts >= '2024-03-01'", 2},
		{"d between '2024-03-02' and '2024-03-31'", 1},
		{"year(ts) = 2024", 2},
		{"ts > '2024-03-02 08:30:00'", 0},
		{"ts <= '2024-03-02 08:30:00'", 2},
		{"legacy = '2024-03-02 08:30:00'", 1},
		{"to_date(legacy) = d", 2},
	}
	for _, tt := range tests {
		t.Run(tt.clause, func(t *testing.T) {
			inv, err := NewInvestigator(w.Table(), WithName("readings"),
				WithClock(func() time.Time { return day0 }))
			require.NoError(t, err)
			report, err := inv.Investigate(ctx, Options{Since: day0, Filter: tt.clause})
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 0}, versions(report.Rows))
			assert.Equal(t, []int64{tt.want, 0}, counts(report.Rows))
		})
	}
}

func TestInvestigateAddedColumnReadsNullInOlderFiles(t *testing.T) {
	type channelSale struct {
		ID      int64   `parquet:"id"`
		PromoID string  `parquet:"promo_id"`
		Qty     int64   `parquet:"qty"`
		Channel *string `parquet:"channel,optional"`
	}
	f := newSalesHistory(t)
	ctx := context.Background()
	now := day0.Add(7 * 24 * time.Hour)
	w := delta.NewWriter(f.table, delta.WithClock(func() time.Time { return now }))

	v, err := w.AddColumns(ctx, delta.NewField("channel", delta.TypeString))
	require.NoError(t, err)
	require.Equal(t, int64(7), v)
	f.times[v] = now

	now = now.Add(24 * time.Hour)
	web := "web"
	v, err = delta.Append(ctx, w, []channelSale{{7, "P1", 1, &web}}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(8), v)
	f.times[v] = now

	tests := []struct {
		clause string
		want   []int64
	}{
		{"channel IS NULL", []int64{5, 5}},
		{"channel = 'web'", []int64{1, 0}},
		{"coalesce(channel, 'store') = 'store'", []int64{5, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.clause, func(t *testing.T) {
			inv := f.investigator(t)
			report, err := inv.Investigate(ctx, Options{Since: f.times[7], Filter: tt.clause})
			require.NoError(t, err)
			assert.Equal(t, []int64{8, 7}, versions(report.Rows))
			assert.Equal(t, tt.want, counts(report.Rows))
		})
	}
}

func TestStatisticsKeepLongBoundsExact(t *testing.T) {
	f := newSalesHistory(t)
	ctx := context.Background()
	now := day0.Add(7 * 24 * time.Hour)
	w := delta.NewWriter(f.table, delta.WithClock(func() time.Time { return now }))
	v, err := delta.Append(ctx, w, []sale{{1234567890123456789, "P3", 1}}, nil)
	require.NoError(t, err)
	f.times[v] = now

	tests := []struct {
		clause  string
		want    int64
		scanned bool
	}{
		{"id > 1234567890123456700", 1, true},
		{"id = 1234567890123456789", 1, true},
		// 1234567890123456788 and the file maximum round to the same float64.
		{"id = 1234567890123456788", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.clause, func(t *testing.T) {
			counter, err := NewFileCounter(16)
			require.NoError(t, err)
			inv := f.investigator(t, WithCounter(counter))
			report, err := inv.Investigate(ctx, Options{Since: now, Filter: tt.clause})
			require.NoError(t, err)
			assert.Equal(t, []int64{7}, versions(report.Rows))
			assert.Equal(t, []int64{tt.want}, counts(report.Rows))
			assert.Equal(t, tt.scanned, counter.Stats().Scanned > 0)
		})
	}
}

func TestSortByRecency(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []VersionCount{
		{Version: 1, Timestamp: ts},
		{Version: 3, Timestamp: ts.Add(time.Hour)},
		{Version: 2, Timestamp: ts},
	}
	SortByRecency(rows)
	assert.Equal(t, []int64{3, 2, 1}, versions(rows))
}

func TestVersionErrorMessage(t *testing.T) {
	err := &VersionError{Table: "main.sales", Version: 12, Err: errors.New("boom")}
	assert.Equal(t,
		"Error processing version 12: boom. The version might be corrupt or the filter condition might not work for the table main.sales. Please revisit the query or check the table history.",
		err.Error())
}
