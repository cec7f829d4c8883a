package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vegasq/deltaaudit/internal/delta"
	"github.com/vegasq/deltaaudit/internal/seed"
	"github.com/vegasq/deltaaudit/internal/timetravel"
)

var seedStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func seedTable(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "sales")
	_, err := seed.Build(context.Background(), dir, seedStart)
	require.NoError(t, err)
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	chdir(t, t.TempDir())
	var stdout, stderr bytes.Buffer
	cmd := RootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestInvestigateCSV(t *testing.T) {
	table := seedTable(t)
	out, _, err := run(t, "investigate", table,
		"--since", "2024-03-01", "--until", "2024-03-31",
		"--filter", "promo_id = 'SPRING'", "--format", "csv")
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"version_nbr", "timestamp", "operation", "count"}, records[0])
	// Versions 0-4 and 7-8; the vacuum commits are excluded.
	require.Len(t, records, 8)
	assert.Equal(t, []string{"8", "2024-03-09T12:00:00Z", "WRITE", "1"}, records[1])
	assert.Equal(t, "DELETE", records[3][2])
	assert.Equal(t, []string{"0", "2024-03-01T12:00:00Z", "CREATE TABLE", "0"}, records[7])
}

func TestInvestigateRequiresSince(t *testing.T) {
	table := seedTable(t)
	_, _, err := run(t, "investigate", table)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start date is required")
}

func TestInvestigateVersionFailure(t *testing.T) {
	table := seedTable(t)
	out, _, err := run(t, "investigate", table, "--since", "2024-03-01", "--until", "2024-03-31", "--filter", "coupon = 'X'")
	require.Error(t, err)
	assert.Empty(t, out, "no report is printed")

	var verr *timetravel.VersionError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, int64(8), verr.Version)
	assert.Contains(t, err.Error(), "Please revisit the query")
}

func TestInvestigateIncludeVacuum(t *testing.T) {
	table := seedTable(t)
	out, _, err := run(t, "investigate", table, "--since", "2024-03-06", "--until", "2024-03-06",
		"--exclude", "", "--format", "jsonl")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"VACUUM END"`)
	assert.Contains(t, lines[1], `"VACUUM START"`)
}

func TestInvestigateArchiveAndRuns(t *testing.T) {
	table := seedTable(t)
	db := filepath.Join(t.TempDir(), "runs.db")

	_, stderr, err := run(t, "investigate", table, "--since", "2024-03-01", "--until", "2024-03-31",
		"--format", "json", "--archive", db)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(stderr, "archived run "))
	runID := strings.TrimSpace(strings.TrimPrefix(stderr, "archived run "))

	out, _, err := run(t, "runs", "--archive", db, "--format", "csv")
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, runID, records[1][0])
	assert.Equal(t, table, records[1][2])

	out, _, err = run(t, "runs", "--archive", db, "--run", runID, "--format", "csv")
	require.NoError(t, err)
	records, err = csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 8)
}

func TestRunsWithoutArchive(t *testing.T) {
	_, _, err := run(t, "runs")
	assert.ErrorIs(t, err, errNoArchive)
}

func TestHistory(t *testing.T) {
	table := seedTable(t)
	out, _, err := run(t, "history", table, "--format", "csv")
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 10)
	assert.Equal(t, historyColumns, records[0])
	assert.Equal(t, "8", records[1][0])
	assert.Equal(t, "deltaaudit-seed", records[1][4])
	assert.Contains(t, records[1][5], `"mode":"Overwrite"`)
}

func TestSchema(t *testing.T) {
	table := seedTable(t)
	out, _, err := run(t, "schema", table, "--version", "2", "--format", "csv")
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 7)
	assert.Equal(t, []string{"region", "string", "true", "true"}, records[6])

	out, _, err = run(t, "schema", table, "--physical", "--format", "jsonl")
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"promo_id"`)

	_, _, err = run(t, "schema", table, "--version", "42")
	assert.ErrorIs(t, err, delta.ErrVersionNotFound)
}

func TestSeed(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")
	out, _, err := run(t, "seed", dir, "--start", "2024-05-01")
	require.NoError(t, err)
	assert.Contains(t, out, "up to version 8")

	_, err = os.Stat(filepath.Join(dir, "_delta_log", "00000000000000000006.checkpoint.parquet"))
	assert.NoError(t, err)
}

func TestUnknownFormat(t *testing.T) {
	table := seedTable(t)
	_, _, err := run(t, "history", table, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestTableFromEnvironment(t *testing.T) {
	table := seedTable(t)
	t.Setenv("DELTAAUDIT_TABLE", table)
	out, _, err := run(t, "history", "--format", "jsonl")
	require.NoError(t, err)
	assert.Equal(t, 9, strings.Count(out, "\n"))
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
