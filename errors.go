package atomkv

import (
	"errors"

	"github.com/nainya/atomkv/pkg/bucket"
)

// Sentinel errors returned by DB and transaction operations. Callers
// compare with errors.Is; wrapping with fmt.Errorf("%w", ...) is used
// throughout rather than introducing a third-party errors package,
// matching the teacher's pkg/wal/errors.go convention.
var (
	// ErrCorruptMeta is returned when neither meta page validates on Open.
	ErrCorruptMeta = errors.New("atomkv: both meta pages are corrupt")

	// ErrCorruptPage is returned when a page fails a structural or
	// checksum check outside of the meta pages.
	ErrCorruptPage = errors.New("atomkv: corrupt page")

	// ErrKeyTooLarge is returned when a key exceeds the 15-bit slot
	// key_size field's range.
	ErrKeyTooLarge = errors.New("atomkv: key exceeds maximum size")

	// ErrValueTooLarge is returned when a value exceeds the 32-bit
	// slot value_size field's range.
	ErrValueTooLarge = errors.New("atomkv: value exceeds maximum size")

	// ErrBucketConflict is returned when a Put or SubBucket call would
	// overwrite an existing key of the other kind. It is the same
	// value pkg/bucket returns, re-exported so callers only need one
	// import to check for it.
	ErrBucketConflict = bucket.ErrBucketConflict

	// ErrTxReadOnly is returned when a mutation is attempted on a View
	// transaction.
	ErrTxReadOnly = errors.New("atomkv: transaction is read-only")

	// ErrTxClosed is returned on use of a transaction after Commit or
	// RollBack.
	ErrTxClosed = errors.New("atomkv: transaction is closed")

	// ErrAlreadyExists is returned when Open is asked to fail on an
	// existing file.
	ErrAlreadyExists = errors.New("atomkv: database file already exists")

	// ErrNotFound is the same value pkg/bucket.OpenSubBucket returns.
	ErrNotFound = bucket.ErrNotFound

	// ErrInvalidOptions is returned when Options fails validation.
	ErrInvalidOptions = errors.New("atomkv: invalid options")
)
