// Package reader reads the Parquet data files that make up a table version.
//
// Rows are returned as maps keyed by column name so that filters can be
// evaluated without knowing the table schema at compile time.
package reader

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// Reader reads one parquet file and returns rows as maps.
//
// It keeps both the OS file handle and the parquet file handle so that Close
// releases everything.
type Reader struct {
	path   string
	file   *os.File
	pqFile *parquet.File
	convs  map[string]converter
}

// NewReader opens path and validates it as a parquet file.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pqFile, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}

	return &Reader{
		path:   path,
		file:   file,
		pqFile: pqFile,
		convs:  convertersOf(pqFile.Schema()),
	}, nil
}

// NumRows returns the row count recorded in the file footer.
func (r *Reader) NumRows() int64 {
	return r.pqFile.NumRows()
}

// ReadAll reads all rows from the parquet file into memory.
func (r *Reader) ReadAll() ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	err := r.Each(func(row map[string]interface{}) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = make([]map[string]interface{}, 0)
	}
	return rows, nil
}

// Each streams rows to fn, stopping at the first error fn returns. Values
// with a timestamp, date or decimal logical type, and legacy INT96
// timestamps, are returned as time.Time and float64.
func (r *Reader) Each(fn func(row map[string]interface{}) error) error {
	reader := parquet.NewReader(r.pqFile)
	defer func() { _ = reader.Close() }()

	for {
		row := make(map[string]interface{})
		err := reader.Read(&row)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read row from %s: %w", r.path, err)
		}
		convertRow(row, r.convs)
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Schema returns the parquet file schema.
func (r *Reader) Schema() *parquet.Schema {
	return r.pqFile.Schema()
}

// Close closes the underlying file. It is safe to call Close multiple times.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// EachRow opens path and streams its rows to fn. Columns in extra are set on
// every row, which is how partition values stored outside the file are made
// visible to filters. Extra columns never overwrite columns read from the file.
func EachRow(path string, extra map[string]interface{}, fn func(row map[string]interface{}) error) error {
	r, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	return r.Each(func(row map[string]interface{}) error {
		for k, v := range extra {
			if _, exists := row[k]; !exists {
				row[k] = v
			}
		}
		return fn(row)
	})
}

// ReadFile reads every row of path, adding the extra columns to each row.
func ReadFile(path string, extra map[string]interface{}) ([]map[string]interface{}, error) {
	rows := make([]map[string]interface{}, 0)
	err := EachRow(path, extra, func(row map[string]interface{}) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
