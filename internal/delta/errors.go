package delta

import "errors"

var (
	// ErrNotDeltaTable is returned when a directory has no _delta_log.
	ErrNotDeltaTable = errors.New("not a delta table")

	// ErrVersionNotFound is returned for a version newer than the latest commit.
	ErrVersionNotFound = errors.New("version not found")

	// ErrVersionUnavailable is returned when a commit needed to reconstruct a
	// version has been removed from the log and no checkpoint covers it.
	ErrVersionUnavailable = errors.New("version unavailable")

	// ErrCorruptCommit is returned when a commit file cannot be decoded.
	ErrCorruptCommit = errors.New("corrupt commit")

	// ErrUnsupportedProtocol is returned for tables that need reader
	// features this package does not implement.
	ErrUnsupportedProtocol = errors.New("unsupported reader protocol")

	// ErrConcurrentCommit is returned when another writer already committed
	// the version being written.
	ErrConcurrentCommit = errors.New("concurrent commit")

	// ErrTableExists is returned by Create when the log already has commits.
	ErrTableExists = errors.New("table already exists")
)
