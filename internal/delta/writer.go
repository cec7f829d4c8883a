package delta

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/snappy"
	log "github.com/sirupsen/logrus"

	"github.com/vegasq/deltaaudit/internal/filter"
	"github.com/vegasq/deltaaudit/internal/reader"
)

const (
	defaultEngineInfo   = "deltaaudit"
	nullPartitionDir    = "__HIVE_DEFAULT_PARTITION__"
	statsStringTruncate = 32
)

// Writer commits new versions to a table. It performs no conflict
// detection beyond refusing to overwrite an existing commit file.
type Writer struct {
	table      *Table
	now        func() time.Time
	engineInfo string
	userName   string
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithClock sets the source of commit timestamps.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// WithEngineInfo sets the engineInfo recorded in commits.
func WithEngineInfo(info string) WriterOption {
	return func(w *Writer) { w.engineInfo = info }
}

// WithUserName sets the userName recorded in commits.
func WithUserName(name string) WriterOption {
	return func(w *Writer) { w.userName = name }
}

// NewWriter returns a writer for an existing table.
func NewWriter(t *Table, opts ...WriterOption) *Writer {
	w := &Writer{table: t, now: time.Now, engineInfo: defaultEngineInfo}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Create initializes an empty table at path and commits version 0.
func Create(ctx context.Context, path string, schema *Schema, partitionColumns []string, opts ...WriterOption) (*Writer, error) {
	root, err := localPath(path)
	if err != nil {
		return nil, err
	}
	for _, col := range partitionColumns {
		if _, ok := schema.Field(col); !ok {
			return nil, fmt.Errorf("partition column %q is not in the schema", col)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, logDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	t, err := Open(root)
	if err != nil {
		return nil, err
	}
	latest, err := t.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	if latest >= 0 {
		return nil, fmt.Errorf("%w: %s is at version %d", ErrTableExists, root, latest)
	}

	w := NewWriter(t, opts...)
	if partitionColumns == nil {
		partitionColumns = []string{}
	}
	now := w.now()
	actions := []Action{
		{Protocol: &Protocol{MinReaderVersion: 1, MinWriterVersion: 2}},
		{MetaData: &MetaData{
			ID:               uuid.NewString(),
			Format:           Format{Provider: "parquet", Options: map[string]string{}},
			SchemaString:     schema.String(),
			PartitionColumns: partitionColumns,
			Configuration:    map[string]string{},
			CreatedTime:      now.UnixMilli(),
		}},
	}
	partitionBy := encodeParam(partitionColumns)
	_, err = w.commit(ctx, -1, "CREATE TABLE", map[string]interface{}{
		"isManaged":   "false",
		"description": nil,
		"partitionBy": partitionBy,
		"properties":  "{}",
	}, nil, actions)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Table returns the table the writer commits to.
func (w *Writer) Table() *Table {
	return w.table
}

// commit writes actions as version readVersion+1. The commit file is
// created with a hard link so an existing version is never replaced.
func (w *Writer) commit(ctx context.Context, readVersion int64, operation string, params map[string]interface{}, metrics map[string]string, actions []Action) (int64, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	version := readVersion + 1
	info := &CommitInfo{
		Timestamp:           w.now().UnixMilli(),
		UserName:            w.userName,
		Operation:           operation,
		OperationParameters: params,
		IsolationLevel:      "Serializable",
		OperationMetrics:    metrics,
		EngineInfo:          w.engineInfo,
		TxnID:               uuid.NewString(),
	}
	if readVersion >= 0 {
		rv := readVersion
		info.ReadVersion = &rv
	}
	blind := operation == "WRITE" && params["mode"] == "Append"
	info.IsBlindAppend = &blind

	all := append([]Action{{CommitInfo: info}}, actions...)

	tmp, err := os.CreateTemp(w.table.logDir, ".commit-*.tmp")
	if err != nil {
		return -1, fmt.Errorf("failed to stage commit: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if err := WriteActions(tmp, all); err != nil {
		_ = tmp.Close()
		return -1, err
	}
	if err := tmp.Close(); err != nil {
		return -1, fmt.Errorf("failed to stage commit: %w", err)
	}
	if err := os.Link(tmp.Name(), w.table.commitPath(version)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return -1, fmt.Errorf("%w: version %d already exists", ErrConcurrentCommit, version)
		}
		return -1, fmt.Errorf("failed to commit version %d: %w", version, err)
	}

	w.table.log.WithFields(log.Fields{"version": version, "operation": operation}).Debug("committed")
	return version, nil
}

// encodeParam renders a list operation parameter the way Spark records it,
// as a JSON array inside a string.
func encodeParam(values []string) string {
	quoted := make([]string, len(values))
	for i, s := range values {
		quoted[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

// partitionDir renders partition values as "k=v" directories in partition
// column order.
func partitionDir(columns []string, values map[string]string) string {
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		v, ok := values[col]
		if !ok || v == "" {
			v = nullPartitionDir
		} else {
			v = url.PathEscape(v)
		}
		parts = append(parts, col+"="+v)
	}
	return strings.Join(parts, "/")
}

// writeDataFile writes rows as a new Parquet file and returns its add action.
func writeDataFile[T any](w *Writer, meta *MetaData, rows []T, partitionValues map[string]string) (*AddFile, error) {
	for _, col := range meta.PartitionColumns {
		if _, ok := partitionValues[col]; !ok {
			return nil, fmt.Errorf("missing value for partition column %q", col)
		}
	}
	values := make(map[string]string, len(meta.PartitionColumns))
	for _, col := range meta.PartitionColumns {
		values[col] = partitionValues[col]
	}

	name := fmt.Sprintf("part-00000-%s.c000.snappy.parquet", uuid.NewString())
	rel := name
	if dir := partitionDir(meta.PartitionColumns, values); dir != "" {
		rel = dir + "/" + name
	}
	full := filepath.Join(w.table.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := parquet.WriteFile(full, rows, parquet.Compression(&snappy.Codec{})); err != nil {
		return nil, fmt.Errorf("failed to write data file: %w", err)
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	written, err := reader.ReadFile(full, nil)
	if err != nil {
		return nil, err
	}
	schema, err := meta.Schema()
	if err != nil {
		return nil, err
	}
	for _, row := range written {
		conformFields(schema.Fields, row, false)
	}

	return &AddFile{
		Path:             (&url.URL{Path: rel}).EscapedPath(),
		PartitionValues:  values,
		Size:             info.Size(),
		ModificationTime: w.now().UnixMilli(),
		DataChange:       true,
		Stats:            collectStats(schema, written).String(),
	}, nil
}

// collectStats computes numRecords, min/max and null counts over the
// top-level columns of rows. Booleans and nested values get null counts only.
// Dates and timestamps are recorded the way Spark writes them.
func collectStats(schema *Schema, rows []map[string]interface{}) *Stats {
	n := int64(len(rows))
	stats := &Stats{
		NumRecords: &n,
		MinValues:  make(map[string]interface{}),
		MaxValues:  make(map[string]interface{}),
		NullCount:  make(map[string]interface{}),
	}
	nulls := make(map[string]int64)
	for _, row := range rows {
		for col, v := range row {
			if v == nil {
				nulls[col]++
				continue
			}
			if _, ok := nulls[col]; !ok {
				nulls[col] = 0
			}
			v = statValue(v)
			if v == nil {
				continue
			}
			if cur, ok := stats.MinValues[col]; !ok {
				stats.MinValues[col] = v
			} else if c, err := filter.Compare(v, cur); err == nil && c < 0 {
				stats.MinValues[col] = v
			}
			if cur, ok := stats.MaxValues[col]; !ok {
				stats.MaxValues[col] = v
			} else if c, err := filter.Compare(v, cur); err == nil && c > 0 {
				stats.MaxValues[col] = v
			}
		}
	}
	for col, count := range nulls {
		stats.NullCount[col] = count
	}
	for _, bounds := range []map[string]interface{}{stats.MinValues, stats.MaxValues} {
		for col, v := range bounds {
			if t, ok := v.(time.Time); ok {
				bounds[col] = formatStatTime(schema, col, t)
			}
		}
	}
	for col, v := range stats.MinValues {
		if s, ok := v.(string); ok && len([]rune(s)) > statsStringTruncate {
			stats.MinValues[col] = string([]rune(s)[:statsStringTruncate])
		}
	}
	for col, v := range stats.MaxValues {
		if s, ok := v.(string); ok && len([]rune(s)) > statsStringTruncate {
			stats.MaxValues[col] = string([]rune(s)[:statsStringTruncate])
		}
	}
	return stats
}

// statValue returns the stats representation of v, or nil when the type has
// no min/max statistics.
func statValue(v interface{}) interface{} {
	switch val := v.(type) {
	case bool, map[string]interface{}, []interface{}:
		return nil
	case []byte:
		return string(val)
	default:
		return v
	}
}

func formatStatTime(schema *Schema, col string, t time.Time) string {
	if schema != nil {
		if f, ok := schema.Field(col); ok && f.Type.Name == TypeDate {
			return t.UTC().Format("2006-01-02")
		}
	}
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func (w *Writer) latest(ctx context.Context) (*Snapshot, error) {
	return w.table.Snapshot(ctx, -1)
}

// Append commits rows as a new data file and returns the new version.
func Append[T any](ctx context.Context, w *Writer, rows []T, partitionValues map[string]string) (int64, error) {
	return write(ctx, w, rows, partitionValues, "Append")
}

// Overwrite replaces every active file with rows and returns the new version.
func Overwrite[T any](ctx context.Context, w *Writer, rows []T, partitionValues map[string]string) (int64, error) {
	return write(ctx, w, rows, partitionValues, "Overwrite")
}

func write[T any](ctx context.Context, w *Writer, rows []T, partitionValues map[string]string, mode string) (int64, error) {
	snap, err := w.latest(ctx)
	if err != nil {
		return -1, err
	}
	add, err := writeDataFile(w, snap.Metadata, rows, partitionValues)
	if err != nil {
		return -1, err
	}

	var actions []Action
	if mode == "Overwrite" {
		now := w.now().UnixMilli()
		for _, f := range snap.Files {
			actions = append(actions, Action{Remove: &RemoveFile{
				Path:                 f.Path,
				DeletionTimestamp:    now,
				DataChange:           true,
				ExtendedFileMetadata: true,
				PartitionValues:      f.PartitionValues,
				Size:                 f.Size,
			}})
		}
	}
	actions = append(actions, Action{Add: add})

	partitionBy := encodeParam(snap.Metadata.PartitionColumns)
	metrics := map[string]string{
		"numFiles":       "1",
		"numOutputRows":  strconv.Itoa(len(rows)),
		"numOutputBytes": strconv.FormatInt(add.Size, 10),
	}
	return w.commit(ctx, snap.Version, "WRITE", map[string]interface{}{
		"mode":        mode,
		"partitionBy": partitionBy,
	}, metrics, actions)
}

// Delete removes the rows matching predicate. Files with matching rows are
// rewritten without them. It returns the new version, or the current
// version when nothing matched.
func Delete[T any](ctx context.Context, w *Writer, predicate string) (int64, error) {
	expr, err := filter.Parse(predicate)
	if err != nil {
		return -1, err
	}
	snap, err := w.latest(ctx)
	if err != nil {
		return -1, err
	}
	schema, err := snap.Schema()
	if err != nil {
		return -1, err
	}

	now := w.now().UnixMilli()
	var actions []Action
	var deleted, removedFiles, addedFiles int64
	for _, f := range snap.Files {
		if err := ctx.Err(); err != nil {
			return -1, err
		}
		path, err := w.table.FilePath(f.Path)
		if err != nil {
			return -1, err
		}
		extra, err := PartitionRow(schema, f.PartitionValues)
		if err != nil {
			return -1, err
		}
		rows, err := reader.ReadFile(path, extra)
		if err != nil {
			return -1, err
		}
		typed, err := parquet.ReadFile[T](path)
		if err != nil {
			return -1, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if len(typed) != len(rows) {
			return -1, fmt.Errorf("%s: decoded %d typed rows but %d generic rows", path, len(typed), len(rows))
		}

		var kept []T
		for i, row := range rows {
			schema.Conform(row)
			match, err := filter.Matches(expr, row)
			if err != nil {
				return -1, err
			}
			if match {
				deleted++
				continue
			}
			kept = append(kept, typed[i])
		}
		if len(kept) == len(rows) {
			continue
		}

		removedFiles++
		actions = append(actions, Action{Remove: &RemoveFile{
			Path:                 f.Path,
			DeletionTimestamp:    now,
			DataChange:           true,
			ExtendedFileMetadata: true,
			PartitionValues:      f.PartitionValues,
			Size:                 f.Size,
		}})
		if len(kept) > 0 {
			add, err := writeDataFile(w, snap.Metadata, kept, f.PartitionValues)
			if err != nil {
				return -1, err
			}
			addedFiles++
			actions = append(actions, Action{Add: add})
		}
	}

	if len(actions) == 0 {
		return snap.Version, nil
	}
	predicateParam := encodeParam([]string{expr.String()})
	return w.commit(ctx, snap.Version, "DELETE", map[string]interface{}{
		"predicate": predicateParam,
	}, map[string]string{
		"numDeletedRows":  strconv.FormatInt(deleted, 10),
		"numRemovedFiles": strconv.FormatInt(removedFiles, 10),
		"numAddedFiles":   strconv.FormatInt(addedFiles, 10),
	}, actions)
}

// AddColumns appends nullable columns to the table schema and returns the
// new version. Existing data files are not rewritten; their rows read the
// new columns as NULL.
func (w *Writer) AddColumns(ctx context.Context, fields ...Field) (int64, error) {
	if len(fields) == 0 {
		return -1, errors.New("no columns to add")
	}
	snap, err := w.latest(ctx)
	if err != nil {
		return -1, err
	}
	schema, err := snap.Schema()
	if err != nil {
		return -1, err
	}
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := schema.Field(f.Name); ok {
			return -1, fmt.Errorf("column %q already exists", f.Name)
		}
		f.Nullable = true
		if f.Metadata == nil {
			f.Metadata = map[string]interface{}{}
		}
		schema.Fields = append(schema.Fields, f)
		names = append(names, f.Name)
	}

	meta := *snap.Metadata
	meta.SchemaString = schema.String()
	return w.commit(ctx, snap.Version, "ADD COLUMNS", map[string]interface{}{
		"columns": encodeParam(names),
	}, nil, []Action{{MetaData: &meta}})
}

// Vacuum deletes data files that the latest version no longer references
// and that were removed, or last modified, more than retention ago. It
// records VACUUM START and VACUUM END commits and returns the number of
// files deleted.
func (w *Writer) Vacuum(ctx context.Context, retention time.Duration) (int, error) {
	snap, err := w.latest(ctx)
	if err != nil {
		return 0, err
	}
	now := w.now()
	cutoff := now.Add(-retention)

	active := make(map[string]bool, len(snap.Files))
	for _, f := range snap.Files {
		p, err := w.table.FilePath(f.Path)
		if err != nil {
			return 0, err
		}
		active[p] = true
	}
	removedAt := make(map[string]time.Time, len(snap.Tombstones))
	for _, r := range snap.Tombstones {
		p, err := w.table.FilePath(r.Path)
		if err != nil {
			return 0, err
		}
		removedAt[p] = time.UnixMilli(r.DeletionTimestamp)
	}

	var candidates []string
	err = filepath.WalkDir(w.table.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path != w.table.root && (name == logDirName || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if active[path] || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			return nil
		}
		if at, ok := removedAt[path]; ok {
			if at.After(cutoff) {
				return nil
			}
		} else if info, err := d.Info(); err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		candidates = append(candidates, path)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan table files: %w", err)
	}
	sort.Strings(candidates)

	startVersion, err := w.commit(ctx, snap.Version, "VACUUM START", map[string]interface{}{
		"retentionCheckEnabled":    true,
		"specifiedRetentionMillis": retention.Milliseconds(),
		"defaultRetentionMillis":   (7 * 24 * time.Hour).Milliseconds(),
	}, map[string]string{
		"numFilesToDelete": strconv.Itoa(len(candidates)),
	}, nil)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, path := range candidates {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.table.log.WithError(err).WithField("file", path).Warn("vacuum could not delete file")
			continue
		}
		deleted++
	}

	_, err = w.commit(ctx, startVersion, "VACUUM END", map[string]interface{}{
		"status": "COMPLETED",
	}, map[string]string{
		"numDeletedFiles":        strconv.Itoa(deleted),
		"numVacuumedDirectories": "1",
	}, nil)
	if err != nil {
		return deleted, err
	}
	return deleted, nil
}

// Checkpoint writes a checkpoint of the latest version.
func (w *Writer) Checkpoint(ctx context.Context) (int64, error) {
	snap, err := w.latest(ctx)
	if err != nil {
		return -1, err
	}
	if err := w.table.writeCheckpoint(snap); err != nil {
		return -1, err
	}
	return snap.Version, nil
}

// PartitionRow types the partition values of a file so they can be merged
// into its rows.
func PartitionRow(schema *Schema, values map[string]string) (map[string]interface{}, error) {
	if len(values) == 0 {
		return nil, nil
	}
	row := make(map[string]interface{}, len(values))
	for col, raw := range values {
		field, ok := schema.Field(col)
		if !ok {
			return nil, fmt.Errorf("partition column %q is not in the schema", col)
		}
		v, err := ParsePartitionValue(field.Type, raw)
		if err != nil {
			return nil, err
		}
		row[field.Name] = v
	}
	return row, nil
}
