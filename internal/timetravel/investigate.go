// Package timetravel counts the rows matching a filter in every version of a
// Delta table committed inside a date window.
//
// For each qualifying version it reconstructs the snapshot, evaluates the
// filter over the snapshot's data files and reports one row count. The
// report is ordered newest first so that changes to the audited subset can
// be read from the top.
package timetravel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vegasq/deltaaudit/internal/delta"
	"github.com/vegasq/deltaaudit/internal/filter"
)

// DefaultFilter selects every row.
const DefaultFilter = "1=1"

// DefaultExclude names the operations skipped by default. VACUUM commits
// change no rows, and the files they delete make older versions unreadable.
var DefaultExclude = []string{"VACUUM"}

// Options select the versions to investigate and the rows to count.
type Options struct {
	// Since is the first calendar day of the window, inclusive.
	Since time.Time
	// Until is the last calendar day of the window, inclusive. Zero means today.
	Until time.Time
	// Filter is a SQL WHERE clause. Empty means DefaultFilter.
	Filter string
	// Location is the time zone in which commit timestamps are cast to
	// dates. Nil means UTC.
	Location *time.Location
	// Exclude skips versions whose operation contains any of these strings,
	// case-sensitively. Nil means DefaultExclude; an empty slice keeps all.
	Exclude []string
}

// VersionCount is one row of the report.
type VersionCount struct {
	Version   int64     `json:"version_nbr"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Count     int64     `json:"count"`
}

// Report is the result of an investigation.
type Report struct {
	Table  string         `json:"table"`
	Filter string         `json:"filter"`
	Since  time.Time      `json:"since"`
	Until  time.Time      `json:"until"`
	Rows   []VersionCount `json:"rows"`
}

// VersionError reports a version that could not be counted. It aborts the
// whole investigation.
type VersionError struct {
	Table   string
	Version int64
	Err     error
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("Error processing version %d: %v. The version might be corrupt or the filter condition might not work for the table %s. Please revisit the query or check the table history.",
		e.Version, e.Err, e.Table)
}

func (e *VersionError) Unwrap() error {
	return e.Err
}

// ErrInvalidWindow is returned when the window ends before it starts.
var ErrInvalidWindow = errors.New("invalid date window")

// Investigator runs investigations against one table.
type Investigator struct {
	table   *delta.Table
	name    string
	counter *FileCounter
	now     func() time.Time
	log     *log.Entry
}

// Option configures an Investigator.
type Option func(*Investigator)

// WithCounter shares a file counter, and its cache, between investigators.
func WithCounter(c *FileCounter) Option {
	return func(i *Investigator) { i.counter = c }
}

// WithClock sets the clock that defines "today".
func WithClock(now func() time.Time) Option {
	return func(i *Investigator) { i.now = now }
}

// WithName sets the table name used in reports and diagnostics. It
// defaults to the table directory.
func WithName(name string) Option {
	return func(i *Investigator) { i.name = name }
}

// NewInvestigator returns an investigator for table.
func NewInvestigator(table *delta.Table, opts ...Option) (*Investigator, error) {
	i := &Investigator{
		table: table,
		name:  table.Root(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.counter == nil {
		c, err := NewFileCounter(DefaultCacheSize)
		if err != nil {
			return nil, err
		}
		i.counter = c
	}
	i.log = log.WithField("table", i.name)
	return i, nil
}

// Investigate counts the rows matching opts.Filter in every version
// committed between opts.Since and opts.Until. The first version that cannot
// be counted aborts the run with a *VersionError and no report.
func (i *Investigator) Investigate(ctx context.Context, opts Options) (*Report, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	clause := strings.TrimSpace(opts.Filter)
	if clause == "" {
		clause = DefaultFilter
	}
	exclude := opts.Exclude
	if exclude == nil {
		exclude = DefaultExclude
	}
	since := truncateDay(opts.Since, loc)
	until := opts.Until
	if until.IsZero() {
		until = i.now()
	}
	until = truncateDay(until, loc)
	if until.Before(since) {
		return nil, fmt.Errorf("%w: %s is after %s", ErrInvalidWindow, since.Format(dateLayout), until.Format(dateLayout))
	}

	expr, err := filter.Parse(clause)
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", clause, err)
	}

	history, err := i.table.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", i.name, err)
	}
	entries := SelectVersions(history, since, until, loc, exclude)
	i.log.WithFields(log.Fields{
		"versions": len(entries),
		"since":    since.Format(dateLayout),
		"until":    until.Format(dateLayout),
		"filter":   clause,
	}).Info("investigating versions")

	report := &Report{
		Table:  i.name,
		Filter: clause,
		Since:  since,
		Until:  until,
		Rows:   make([]VersionCount, 0, len(entries)),
	}
	for _, entry := range entries {
		count, err := i.countVersion(ctx, entry.Version, expr)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &VersionError{Table: i.name, Version: entry.Version, Err: err}
		}
		i.log.WithFields(log.Fields{"version": entry.Version, "count": count}).Debug("version counted")
		report.Rows = append(report.Rows, VersionCount{
			Version:   entry.Version,
			Timestamp: entry.Timestamp,
			Operation: entry.Operation,
			Count:     count,
		})
	}

	SortByRecency(report.Rows)
	return report, nil
}

const dateLayout = "2006-01-02"

func truncateDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// SelectVersions keeps the history entries whose timestamp, as a date in loc,
// falls within [since, until] and whose operation contains none of exclude.
func SelectVersions(history []delta.HistoryEntry, since, until time.Time, loc *time.Location, exclude []string) []delta.HistoryEntry {
	since = truncateDay(since, loc)
	until = truncateDay(until, loc)
	var selected []delta.HistoryEntry
	for _, entry := range history {
		day := truncateDay(entry.Timestamp, loc)
		if day.Before(since) || day.After(until) {
			continue
		}
		if excluded(entry.Operation, exclude) {
			continue
		}
		selected = append(selected, entry)
	}
	return selected
}

func excluded(operation string, exclude []string) bool {
	for _, e := range exclude {
		if e != "" && strings.Contains(operation, e) {
			return true
		}
	}
	return false
}

// SortByRecency orders rows by timestamp descending, breaking ties by
// version descending.
func SortByRecency(rows []VersionCount) {
	sort.SliceStable(rows, func(a, b int) bool {
		if !rows[a].Timestamp.Equal(rows[b].Timestamp) {
			return rows[a].Timestamp.After(rows[b].Timestamp)
		}
		return rows[a].Version > rows[b].Version
	})
}

// countVersion counts the rows of one version that match expr.
func (i *Investigator) countVersion(ctx context.Context, version int64, expr filter.Expression) (int64, error) {
	snap, err := i.table.Snapshot(ctx, version)
	if err != nil {
		return 0, err
	}
	schema, err := snap.Schema()
	if err != nil {
		return 0, err
	}
	if err := checkColumns(schema, expr); err != nil {
		return 0, err
	}
	if filter.AlwaysTrue(expr) {
		if n, ok := snap.NumRecords(); ok {
			return n, nil
		}
	}

	var total int64
	for _, f := range snap.Files {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := i.counter.Count(i.table, schema, f, expr)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// checkColumns rejects filters that reference columns missing from the
// schema, before statistics get a chance to skip every file.
func checkColumns(schema *delta.Schema, expr filter.Expression) error {
	var missing []string
	for _, col := range filter.Columns(expr) {
		if _, ok := schema.Field(col); !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s (available: %s)", filter.ErrUnknownColumn,
			strings.Join(missing, ", "), strings.Join(schema.FieldNames(), ", "))
	}
	return nil
}
