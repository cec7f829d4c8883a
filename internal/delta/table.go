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

	log "github.com/sirupsen/logrus"
)

const (
	logDirName         = "_delta_log"
	lastCheckpointFile = "_last_checkpoint"
	commitSuffix       = ".json"
	checkpointSuffix   = ".checkpoint.parquet"

	// maxReaderVersion is the highest reader protocol this package supports.
	// Version 2 adds column mapping and 3 adds table features such as
	// deletion vectors.
	maxReaderVersion = 1
)

// Table is a Delta table rooted at a directory.
type Table struct {
	root   string
	logDir string
	log    *log.Entry
}

// HistoryEntry is one row of the table history, newest first.
type HistoryEntry struct {
	Version             int64                  `json:"version"`
	Timestamp           time.Time              `json:"timestamp"`
	Operation           string                 `json:"operation"`
	OperationParameters map[string]interface{} `json:"operationParameters,omitempty"`
	OperationMetrics    map[string]string      `json:"operationMetrics,omitempty"`
	UserName            string                 `json:"userName,omitempty"`
	EngineInfo          string                 `json:"engineInfo,omitempty"`
}

// Snapshot is the state of the table at one version.
type Snapshot struct {
	Version    int64
	Timestamp  time.Time
	Metadata   *MetaData
	Protocol   *Protocol
	Files      []AddFile
	Tombstones []RemoveFile

	schema *Schema
}

// Schema returns the parsed table schema.
func (s *Snapshot) Schema() (*Schema, error) {
	if s.schema != nil {
		return s.schema, nil
	}
	if s.Metadata == nil {
		return nil, fmt.Errorf("%w: no metaData action at version %d", ErrCorruptCommit, s.Version)
	}
	schema, err := s.Metadata.Schema()
	if err != nil {
		return nil, err
	}
	s.schema = schema
	return schema, nil
}

// NumRecords sums the numRecords statistic of every file. ok is false when
// any file lacks the statistic.
func (s *Snapshot) NumRecords() (n int64, ok bool) {
	for _, f := range s.Files {
		stats, err := ParseStats(f.Stats)
		if err != nil || stats == nil || stats.NumRecords == nil {
			return 0, false
		}
		n += *stats.NumRecords
	}
	return n, true
}

// Open opens the table at path. The path may be a local directory or a
// file:// URI.
func Open(path string) (*Table, error) {
	root, err := localPath(path)
	if err != nil {
		return nil, err
	}
	logDir := filepath.Join(root, logDirName)
	info, err := os.Stat(logDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no %s directory", ErrNotDeltaTable, path, logDirName)
		}
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotDeltaTable, logDir)
	}
	return &Table{
		root:   root,
		logDir: logDir,
		log:    log.WithField("table", root),
	}, nil
}

func localPath(path string) (string, error) {
	if strings.HasPrefix(path, "file:") {
		u, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("invalid table URI %q: %w", path, err)
		}
		return filepath.FromSlash(u.Path), nil
	}
	if strings.Contains(path, "://") {
		return "", fmt.Errorf("unsupported table location %q: only local paths are supported", path)
	}
	return filepath.Clean(path), nil
}

// Root returns the table directory.
func (t *Table) Root() string {
	return t.root
}

// logListing is the parsed content of the _delta_log directory.
type logListing struct {
	commits     []int64
	checkpoints []int64
}

func (l *logListing) latest() int64 {
	latest := int64(-1)
	if n := len(l.commits); n > 0 {
		latest = l.commits[n-1]
	}
	if n := len(l.checkpoints); n > 0 && l.checkpoints[n-1] > latest {
		latest = l.checkpoints[n-1]
	}
	return latest
}

func (l *logListing) hasCommit(v int64) bool {
	i := sort.Search(len(l.commits), func(i int) bool { return l.commits[i] >= v })
	return i < len(l.commits) && l.commits[i] == v
}

// checkpointAtOrBelow returns the newest checkpoint version <= v, or -1.
func (l *logListing) checkpointAtOrBelow(v int64) int64 {
	best := int64(-1)
	for _, cp := range l.checkpoints {
		if cp <= v && cp > best {
			best = cp
		}
	}
	return best
}

func (t *Table) list(ctx context.Context) (*logListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(t.logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.logDir, err)
	}
	listing := &logListing{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, checkpointSuffix):
			if v, ok := parseVersion(strings.TrimSuffix(name, checkpointSuffix)); ok {
				listing.checkpoints = append(listing.checkpoints, v)
			}
		case strings.HasSuffix(name, commitSuffix):
			if v, ok := parseVersion(strings.TrimSuffix(name, commitSuffix)); ok {
				listing.commits = append(listing.commits, v)
			}
		}
	}
	sort.Slice(listing.commits, func(i, j int) bool { return listing.commits[i] < listing.commits[j] })
	sort.Slice(listing.checkpoints, func(i, j int) bool { return listing.checkpoints[i] < listing.checkpoints[j] })
	return listing, nil
}

// parseVersion accepts the 20-digit zero-padded version names of log files.
func parseVersion(s string) (int64, bool) {
	if len(s) != 20 {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func (t *Table) commitPath(version int64) string {
	return filepath.Join(t.logDir, fmt.Sprintf("%020d%s", version, commitSuffix))
}

func (t *Table) checkpointPath(version int64) string {
	return filepath.Join(t.logDir, fmt.Sprintf("%020d%s", version, checkpointSuffix))
}

// Versions returns the commit versions present in the log, ascending.
func (t *Table) Versions(ctx context.Context) ([]int64, error) {
	listing, err := t.list(ctx)
	if err != nil {
		return nil, err
	}
	return listing.commits, nil
}

// LatestVersion returns the newest version, or -1 for an empty log.
func (t *Table) LatestVersion(ctx context.Context) (int64, error) {
	listing, err := t.list(ctx)
	if err != nil {
		return -1, err
	}
	return listing.latest(), nil
}

func (t *Table) readCommit(version int64) ([]Action, os.FileInfo, error) {
	f, err := os.Open(t.commitPath(version))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: commit %d is missing from the log", ErrVersionUnavailable, version)
		}
		return nil, nil, fmt.Errorf("failed to open commit %d: %w", version, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat commit %d: %w", version, err)
	}
	actions, err := ReadActions(f)
	if err != nil {
		return nil, nil, fmt.Errorf("commit %d: %w", version, err)
	}
	return actions, info, nil
}

// History returns one entry per commit in the log, newest first. Commits
// without commitInfo fall back to the commit file modification time.
func (t *Table) History(ctx context.Context) ([]HistoryEntry, error) {
	listing, err := t.list(ctx)
	if err != nil {
		return nil, err
	}

	history := make([]HistoryEntry, 0, len(listing.commits))
	for i := len(listing.commits) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		version := listing.commits[i]
		actions, info, err := t.readCommit(version)
		if err != nil {
			return nil, err
		}
		entry := HistoryEntry{
			Version:   version,
			Timestamp: info.ModTime().UTC(),
			Operation: "UNKNOWN",
		}
		for _, a := range actions {
			if a.CommitInfo == nil {
				continue
			}
			ci := a.CommitInfo
			if ci.Timestamp > 0 {
				entry.Timestamp = ci.Time()
			}
			if ci.Operation != "" {
				entry.Operation = ci.Operation
			}
			entry.OperationParameters = ci.OperationParameters
			entry.OperationMetrics = ci.OperationMetrics
			entry.UserName = ci.UserName
			entry.EngineInfo = ci.EngineInfo
			break
		}
		history = append(history, entry)
	}
	return history, nil
}

// Snapshot reconstructs the table at version. A negative version means the
// latest one.
func (t *Table) Snapshot(ctx context.Context, version int64) (*Snapshot, error) {
	listing, err := t.list(ctx)
	if err != nil {
		return nil, err
	}
	latest := listing.latest()
	if latest < 0 {
		return nil, fmt.Errorf("%w: the log of %s is empty", ErrVersionNotFound, t.root)
	}
	if version < 0 {
		version = latest
	}
	if version > latest {
		return nil, fmt.Errorf("%w: version %d is newer than the latest version %d", ErrVersionNotFound, version, latest)
	}

	state := newReplayState(t.root)
	start := int64(0)
	if cp := listing.checkpointAtOrBelow(version); cp >= 0 {
		t.log.WithField("checkpoint", cp).Debug("loading checkpoint")
		if err := t.loadCheckpoint(cp, state); err != nil {
			return nil, err
		}
		start = cp + 1
		// Replaying the checkpointed commit again is idempotent and recovers
		// its commit timestamp, which checkpoints do not carry.
		if listing.hasCommit(cp) {
			start = cp
		}
	}

	for v := start; v <= version; v++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !listing.hasCommit(v) {
			return nil, fmt.Errorf("%w: commit %d needed to rebuild version %d is missing from the log", ErrVersionUnavailable, v, version)
		}
		actions, info, err := t.readCommit(v)
		if err != nil {
			return nil, err
		}
		state.apply(v, actions, info.ModTime())
	}

	snap := state.snapshot()
	if snap.Protocol != nil && snap.Protocol.MinReaderVersion > maxReaderVersion {
		return nil, fmt.Errorf("%w: table requires reader version %d, supported up to %d",
			ErrUnsupportedProtocol, snap.Protocol.MinReaderVersion, maxReaderVersion)
	}
	if snap.Metadata == nil {
		return nil, fmt.Errorf("%w: no metaData action found up to version %d", ErrCorruptCommit, version)
	}
	t.log.WithFields(log.Fields{"version": version, "files": len(snap.Files)}).Debug("snapshot loaded")
	return snap, nil
}

// FilePath resolves the path of a data file against the table root.
// Paths in the log are URL-encoded and may be absolute file URIs.
func (t *Table) FilePath(p string) (string, error) {
	if strings.Contains(p, "://") || strings.HasPrefix(p, "file:") {
		u, err := url.Parse(p)
		if err != nil {
			return "", fmt.Errorf("invalid data file URI %q: %w", p, err)
		}
		if u.Scheme != "file" {
			return "", fmt.Errorf("unsupported data file location %q", p)
		}
		return filepath.FromSlash(u.Path), nil
	}
	unescaped, err := url.PathUnescape(p)
	if err != nil {
		return "", fmt.Errorf("invalid data file path %q: %w", p, err)
	}
	if filepath.IsAbs(unescaped) {
		return unescaped, nil
	}
	return filepath.Join(t.root, filepath.FromSlash(unescaped)), nil
}

// replayState accumulates actions in commit order.
type replayState struct {
	root       string
	version    int64
	timestamp  time.Time
	metadata   *MetaData
	protocol   *Protocol
	files      map[string]AddFile
	tombstones map[string]RemoveFile
}

func newReplayState(root string) *replayState {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &replayState{
		root:       root,
		version:    -1,
		files:      make(map[string]AddFile),
		tombstones: make(map[string]RemoveFile),
	}
}

func (s *replayState) apply(version int64, actions []Action, modTime time.Time) {
	s.version = version
	s.timestamp = modTime.UTC()
	for _, a := range actions {
		switch {
		case a.CommitInfo != nil:
			if a.CommitInfo.Timestamp > 0 {
				s.timestamp = a.CommitInfo.Time()
			}
		case a.Protocol != nil:
			s.protocol = a.Protocol
		case a.MetaData != nil:
			s.metadata = a.MetaData
		case a.Add != nil:
			key := s.fileKey(a.Add.Path)
			s.files[key] = *a.Add
			delete(s.tombstones, key)
		case a.Remove != nil:
			key := s.fileKey(a.Remove.Path)
			delete(s.files, key)
			s.tombstones[key] = *a.Remove
		}
	}
}

// fileKey maps the encodings a log may use for one data file (escaped or
// not, relative or an absolute file URI under the root) to the same key.
func (s *replayState) fileKey(p string) string {
	if strings.HasPrefix(p, "file:") {
		if u, err := url.Parse(p); err == nil && u.Scheme == "file" {
			p = u.Path
		}
	} else if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	p = filepath.ToSlash(p)
	if root := filepath.ToSlash(s.root); root != "" {
		if rel, ok := strings.CutPrefix(p, strings.TrimSuffix(root, "/")+"/"); ok {
			return rel
		}
	}
	return p
}

func (s *replayState) snapshot() *Snapshot {
	snap := &Snapshot{
		Version:    s.version,
		Timestamp:  s.timestamp,
		Metadata:   s.metadata,
		Protocol:   s.protocol,
		Files:      make([]AddFile, 0, len(s.files)),
		Tombstones: make([]RemoveFile, 0, len(s.tombstones)),
	}
	for _, f := range s.files {
		snap.Files = append(snap.Files, f)
	}
	for _, r := range s.tombstones {
		snap.Tombstones = append(snap.Tombstones, r)
	}
	sort.Slice(snap.Files, func(i, j int) bool { return snap.Files[i].Path < snap.Files[j].Path })
	sort.Slice(snap.Tombstones, func(i, j int) bool { return snap.Tombstones[i].Path < snap.Tombstones[j].Path })
	return snap
}
