package delta

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/segmentio/encoding/json"
)

// checkpointRow is one row of a single-part Parquet checkpoint. Each row
// carries exactly one non-nil action.
type checkpointRow struct {
	Txn      *checkpointTxn      `parquet:"txn,optional"`
	Add      *checkpointAdd      `parquet:"add,optional"`
	Remove   *checkpointRemove   `parquet:"remove,optional"`
	MetaData *checkpointMetaData `parquet:"metaData,optional"`
	Protocol *checkpointProtocol `parquet:"protocol,optional"`
}

type checkpointTxn struct {
	AppID       string `parquet:"appId"`
	Version     int64  `parquet:"version"`
	LastUpdated int64  `parquet:"lastUpdated,optional"`
}

type checkpointAdd struct {
	Path             string            `parquet:"path"`
	PartitionValues  map[string]string `parquet:"partitionValues"`
	Size             int64             `parquet:"size"`
	ModificationTime int64             `parquet:"modificationTime"`
	DataChange       bool              `parquet:"dataChange"`
	Stats            string            `parquet:"stats,optional"`
}

type checkpointRemove struct {
	Path              string `parquet:"path"`
	DeletionTimestamp int64  `parquet:"deletionTimestamp,optional"`
	DataChange        bool   `parquet:"dataChange"`
}

type checkpointFormat struct {
	Provider string            `parquet:"provider"`
	Options  map[string]string `parquet:"options"`
}

type checkpointMetaData struct {
	ID               string            `parquet:"id"`
	Name             string            `parquet:"name,optional"`
	Description      string            `parquet:"description,optional"`
	Format           checkpointFormat  `parquet:"format"`
	SchemaString     string            `parquet:"schemaString"`
	PartitionColumns []string          `parquet:"partitionColumns,list"`
	Configuration    map[string]string `parquet:"configuration"`
	CreatedTime      int64             `parquet:"createdTime,optional"`
}

type checkpointProtocol struct {
	MinReaderVersion int32 `parquet:"minReaderVersion"`
	MinWriterVersion int32 `parquet:"minWriterVersion"`
}

// lastCheckpoint is the content of _delta_log/_last_checkpoint.
type lastCheckpoint struct {
	Version int64 `json:"version"`
	Size    int64 `json:"size"`
}

func (t *Table) loadCheckpoint(version int64, state *replayState) error {
	path := t.checkpointPath(version)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint %d: %w", version, err)
	}
	defer func() { _ = f.Close() }()

	reader := parquet.NewGenericReader[checkpointRow](f)
	defer func() { _ = reader.Close() }()

	buf := make([]checkpointRow, 128)
	for {
		n, err := reader.Read(buf)
		for _, row := range buf[:n] {
			state.applyCheckpointRow(row)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to read checkpoint %d: %w", version, err)
		}
		if n == 0 {
			break
		}
	}

	state.version = version
	if info, err := f.Stat(); err == nil {
		state.timestamp = info.ModTime().UTC()
	}
	return nil
}

func (s *replayState) applyCheckpointRow(row checkpointRow) {
	switch {
	case row.Add != nil:
		s.files[s.fileKey(row.Add.Path)] = AddFile{
			Path:             row.Add.Path,
			PartitionValues:  row.Add.PartitionValues,
			Size:             row.Add.Size,
			ModificationTime: row.Add.ModificationTime,
			DataChange:       row.Add.DataChange,
			Stats:            row.Add.Stats,
		}
	case row.Remove != nil:
		s.tombstones[s.fileKey(row.Remove.Path)] = RemoveFile{
			Path:              row.Remove.Path,
			DeletionTimestamp: row.Remove.DeletionTimestamp,
			DataChange:        row.Remove.DataChange,
		}
	case row.MetaData != nil:
		m := row.MetaData
		s.metadata = &MetaData{
			ID:               m.ID,
			Name:             m.Name,
			Description:      m.Description,
			Format:           Format{Provider: m.Format.Provider, Options: m.Format.Options},
			SchemaString:     m.SchemaString,
			PartitionColumns: m.PartitionColumns,
			Configuration:    m.Configuration,
			CreatedTime:      m.CreatedTime,
		}
	case row.Protocol != nil:
		s.protocol = &Protocol{
			MinReaderVersion: int(row.Protocol.MinReaderVersion),
			MinWriterVersion: int(row.Protocol.MinWriterVersion),
		}
	}
}

// writeCheckpoint stores snap as a Parquet checkpoint and points
// _last_checkpoint at it.
func (t *Table) writeCheckpoint(snap *Snapshot) error {
	rows := make([]checkpointRow, 0, len(snap.Files)+len(snap.Tombstones)+2)
	if snap.Protocol != nil {
		rows = append(rows, checkpointRow{Protocol: &checkpointProtocol{
			MinReaderVersion: int32(snap.Protocol.MinReaderVersion),
			MinWriterVersion: int32(snap.Protocol.MinWriterVersion),
		}})
	}
	if m := snap.Metadata; m != nil {
		rows = append(rows, checkpointRow{MetaData: &checkpointMetaData{
			ID:               m.ID,
			Name:             m.Name,
			Description:      m.Description,
			Format:           checkpointFormat{Provider: m.Format.Provider, Options: m.Format.Options},
			SchemaString:     m.SchemaString,
			PartitionColumns: m.PartitionColumns,
			Configuration:    m.Configuration,
			CreatedTime:      m.CreatedTime,
		}})
	}
	for _, f := range snap.Files {
		rows = append(rows, checkpointRow{Add: &checkpointAdd{
			Path:             f.Path,
			PartitionValues:  f.PartitionValues,
			Size:             f.Size,
			ModificationTime: f.ModificationTime,
			DataChange:       false,
			Stats:            f.Stats,
		}})
	}
	for _, r := range snap.Tombstones {
		rows = append(rows, checkpointRow{Remove: &checkpointRemove{
			Path:              r.Path,
			DeletionTimestamp: r.DeletionTimestamp,
			DataChange:        false,
		}})
	}

	final := t.checkpointPath(snap.Version)
	tmp, err := os.CreateTemp(t.logDir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	writer := parquet.NewGenericWriter[checkpointRow](tmp)
	if _, err := writer.Write(rows); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := writer.Close(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("failed to install checkpoint: %w", err)
	}

	b, err := json.Marshal(lastCheckpoint{Version: snap.Version, Size: int64(len(rows))})
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(t.logDir, lastCheckpointFile), b)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
