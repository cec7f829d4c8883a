// Package delta reads and writes the transaction log of a Delta Lake table.
//
// A table is a directory of Parquet data files plus a _delta_log directory
// holding one newline-delimited JSON commit per version. Replaying the add
// and remove actions of commits 0..N (optionally starting from a Parquet
// checkpoint) yields the set of data files that make up version N.
package delta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/encoding/json"
)

// Action is one line of a commit file. Exactly one member is set.
type Action struct {
	CommitInfo *CommitInfo  `json:"commitInfo,omitempty"`
	Protocol   *Protocol    `json:"protocol,omitempty"`
	MetaData   *MetaData    `json:"metaData,omitempty"`
	Add        *AddFile     `json:"add,omitempty"`
	Remove     *RemoveFile  `json:"remove,omitempty"`
	Txn        *Transaction `json:"txn,omitempty"`
}

// CommitInfo is the provenance record written with every commit.
type CommitInfo struct {
	Timestamp           int64                  `json:"timestamp"`
	UserID              string                 `json:"userId,omitempty"`
	UserName            string                 `json:"userName,omitempty"`
	Operation           string                 `json:"operation"`
	OperationParameters map[string]interface{} `json:"operationParameters,omitempty"`
	ReadVersion         *int64                 `json:"readVersion,omitempty"`
	IsolationLevel      string                 `json:"isolationLevel,omitempty"`
	IsBlindAppend       *bool                  `json:"isBlindAppend,omitempty"`
	OperationMetrics    map[string]string      `json:"operationMetrics,omitempty"`
	EngineInfo          string                 `json:"engineInfo,omitempty"`
	TxnID               string                 `json:"txnId,omitempty"`
}

// Time returns the commit timestamp.
func (c *CommitInfo) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// Protocol names the minimum reader and writer versions of the table.
type Protocol struct {
	MinReaderVersion int      `json:"minReaderVersion"`
	MinWriterVersion int      `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures,omitempty"`
	WriterFeatures   []string `json:"writerFeatures,omitempty"`
}

// Format is the storage format of data files.
type Format struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options"`
}

// MetaData carries the table schema and partitioning.
type MetaData struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           Format            `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration"`
	CreatedTime      int64             `json:"createdTime,omitempty"`
}

// Schema parses the schema string.
func (m *MetaData) Schema() (*Schema, error) {
	return ParseSchema(m.SchemaString)
}

// AddFile adds a data file to the table.
type AddFile struct {
	Path             string            `json:"path"`
	PartitionValues  map[string]string `json:"partitionValues"`
	Size             int64             `json:"size"`
	ModificationTime int64             `json:"modificationTime"`
	DataChange       bool              `json:"dataChange"`
	Stats            string            `json:"stats,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

// RemoveFile logically deletes a data file. The file stays on disk until a
// vacuum removes it.
type RemoveFile struct {
	Path                 string            `json:"path"`
	DeletionTimestamp    int64             `json:"deletionTimestamp,omitempty"`
	DataChange           bool              `json:"dataChange"`
	ExtendedFileMetadata bool              `json:"extendedFileMetadata,omitempty"`
	PartitionValues      map[string]string `json:"partitionValues,omitempty"`
	Size                 int64             `json:"size,omitempty"`
}

// Transaction records the last version an application committed.
type Transaction struct {
	AppID       string `json:"appId"`
	Version     int64  `json:"version"`
	LastUpdated int64  `json:"lastUpdated,omitempty"`
}

// ReadActions decodes a newline-delimited commit. Blank lines are skipped.
func ReadActions(r io.Reader) ([]Action, error) {
	var actions []Action
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var action Action
		if err := json.Unmarshal(raw, &action); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorruptCommit, line, err)
		}
		actions = append(actions, action)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read commit: %w", err)
	}
	return actions, nil
}

// WriteActions encodes actions as newline-delimited JSON.
func WriteActions(w io.Writer, actions []Action) error {
	for _, action := range actions {
		b, err := json.Marshal(action)
		if err != nil {
			return fmt.Errorf("failed to encode action: %w", err)
		}
		b = append(b, '\n')
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}
