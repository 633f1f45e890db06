package backup

import "errors"

// Failure taxonomy for a backup run. Every fatal condition wraps exactly one
// of these sentinels so callers can classify with errors.Is.
var (
	// ErrInventory marks a failed enumeration of domains, devices, or pool
	// images. Nothing has been touched when it surfaces.
	ErrInventory = errors.New("inventory enumeration failed")

	// ErrSnapshotCreate marks a failed external snapshot. The live chain is
	// untouched; no commit is owed.
	ErrSnapshotCreate = errors.New("snapshot creation failed")

	// ErrExport marks a failed stream into the archive store. A commit is
	// still attempted before this surfaces.
	ErrExport = errors.New("archive export failed")

	// ErrPrune marks a failed retention pass. Chain integrity outranks
	// retention bookkeeping, so a commit is still attempted first.
	ErrPrune = errors.New("archive prune failed")

	// ErrCommit marks a failed overlay commit. The domain may now reference
	// a broken disk chain; this is never retried automatically.
	ErrCommit = errors.New("snapshot commit failed")

	// ErrCorruptChain marks a crash-recovery dead end: the expected base
	// image cannot be located and an operator must intervene.
	ErrCorruptChain = errors.New("disk chain is corrupt")
)
