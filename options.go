package atomkv

import "github.com/nainya/atomkv/pkg/page"

// Options configures Open. Zero-value fields fall back to the
// defaults below, matching spec.md's enumerated open options.
type Options struct {
	// PageSize is the fixed page size in bytes, default 4096. Must be
	// a power of two in [256, 32768] and, once a database file exists,
	// must match the size stamped in its meta pages.
	PageSize int

	// CachePoolPageCount bounds the pager's LRU page cache, default 1024.
	CachePoolPageCount int

	// LogFileLimitBytes defaults to 100MiB but is not passed to the
	// WAL: a WAL file rotates whenever an append would take it past the
	// fixed wal.MaxLogFileSize (100MiB), whether or not a checkpoint
	// has completed.
	LogFileLimitBytes int64

	// Comparator overrides the default byte-lexicographic key
	// ordering. Declared per spec.md but not otherwise wired into the
	// surface API: every bucket in a DB shares one comparator.
	Comparator func(a, b []byte) int

	// ReadOnly opens the database file without creating it and refuses
	// Update transactions.
	ReadOnly bool

	// FailIfExists makes Open return ErrAlreadyExists instead of
	// opening a file that already holds committed data.
	FailIfExists bool
}

const (
	defaultCachePoolPageCount = 1024
	defaultLogFileLimitBytes  = 100 << 20
)

// withDefaults returns opts with zero fields replaced by their
// defaults, validating the page size.
func (o Options) withDefaults() (Options, error) {
	if o.PageSize == 0 {
		o.PageSize = page.DefaultSize
	}
	if !page.ValidSize(o.PageSize) {
		return o, ErrInvalidOptions
	}
	if o.CachePoolPageCount == 0 {
		o.CachePoolPageCount = defaultCachePoolPageCount
	}
	if o.LogFileLimitBytes == 0 {
		o.LogFileLimitBytes = defaultLogFileLimitBytes
	}
	return o, nil
}
