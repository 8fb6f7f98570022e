// ABOUTME: Memory-mapped page file with copy-on-write allocation
// ABOUTME: Adapted from the teacher's syscall-based mmap KV store onto golang.org/x/sys/unix

package pager

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/nainya/atomkv/pkg/page"
)

// MmapLocker is the mmap_rwlock contract a Pager needs from a
// transaction registry: acquired exclusively only while remapping the
// data file after growth, so the remap waits for every reader
// currently holding a slice into the old mapping to finish. Satisfied
// by *pkg/txn.Manager.
type MmapLocker interface {
	LockMmapExclusive()
	UnlockMmapExclusive()
}

// Pager owns the data file, its memory mapping, and the set of pages
// written but not yet flushed by the in-flight write transaction.
type Pager struct {
	path string
	fd   *os.File

	pageSize int

	mmapTotal int
	mmapData  []byte
	mmapLock  MmapLocker

	flushed  uint64            // pages durably on disk, excluding pending
	pending  map[page.Id][]byte // dirty in-place updates, keyed by page id
	appended [][]byte           // new pages appended past flushed

	cache *Cache
}

// Open opens or creates the data file at path and memory-maps its
// current contents read-only. The caller is responsible for reading
// and validating the meta pages afterward.
func Open(path string, pageSize int, cachePages int) (*Pager, error) {
	if !page.ValidSize(pageSize) {
		return nil, fmt.Errorf("pager: invalid page size %d", pageSize)
	}

	fd, err := createFileSync(path)
	if err != nil {
		return nil, err
	}

	p := &Pager{
		path:     path,
		fd:       fd,
		pageSize: pageSize,
		pending:  make(map[page.Id][]byte),
		cache:    NewCache(cachePages),
	}

	stat, err := fd.Stat()
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("pager: stat: %w", err)
	}

	if stat.Size() == 0 {
		p.flushed = 2 // two meta pages reserved up front
		return p, nil
	}

	if err := p.mmap(int(stat.Size())); err != nil {
		fd.Close()
		return nil, err
	}
	p.flushed = uint64(stat.Size()) / uint64(pageSize)
	return p, nil
}

func (p *Pager) mmap(minSize int) error {
	size := 64 << 20
	if minSize > size {
		size = minSize
	}
	// mmap size must be a multiple of the page size so page arithmetic
	// never straddles the boundary.
	size -= size % p.pageSize

	data, err := unix.Mmap(int(p.fd.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("pager: mmap: %w", err)
	}
	p.mmapData = data
	p.mmapTotal = size
	return nil
}

// Close unmaps the file and closes its descriptor.
func (p *Pager) Close() error {
	if p.mmapData != nil {
		if err := unix.Munmap(p.mmapData); err != nil {
			return fmt.Errorf("pager: munmap: %w", err)
		}
	}
	return p.fd.Close()
}

// SetMmapLocker wires the mmap_rwlock coordinator used to serialize a
// growth remap against concurrent readers holding slices into the
// current mapping. Must be called once, before any Flush that could
// grow the file.
func (p *Pager) SetMmapLocker(l MmapLocker) {
	p.mmapLock = l
}

// PageSize returns the configured fixed page size.
func (p *Pager) PageSize() int { return p.pageSize }

// Flushed returns the number of pages written to the file, including
// the two meta pages; the next appended page receives this id.
func (p *Pager) Flushed() uint64 { return p.flushed }

// Get returns the bytes for id, consulting pending writes, newly
// appended pages, the read cache, and finally the mmap in that order.
// The returned slice must not be retained past the next write on the
// same id.
func (p *Pager) Get(id page.Id) []byte {
	if buf, ok := p.pending[id]; ok {
		return buf
	}
	if id >= page.Id(p.flushed) {
		idx := uint64(id) - p.flushed
		if idx < uint64(len(p.appended)) {
			return p.appended[idx]
		}
	}
	if buf, ok := p.cache.Get(id); ok {
		return buf
	}
	off := uint64(id) * uint64(p.pageSize)
	if off+uint64(p.pageSize) > uint64(len(p.mmapData)) {
		panic(fmt.Sprintf("pager: page %d out of mapped range", id))
	}
	buf := p.mmapData[off : off+uint64(p.pageSize)]
	p.cache.Put(id, buf)
	return buf
}

// Alloc appends a new page to the pending write set and returns the
// id it will occupy once flushed.
func (p *Pager) Alloc(buf []byte) page.Id {
	if len(buf) != p.pageSize {
		panic("pager: page size mismatch")
	}
	id := page.Id(p.flushed) + page.Id(len(p.appended))
	p.appended = append(p.appended, buf)
	return id
}

// Write stages an in-place update to an already-flushed page.
func (p *Pager) Write(id page.Id, buf []byte) {
	if len(buf) != p.pageSize {
		panic("pager: page size mismatch")
	}
	p.pending[id] = buf
}

// Copy returns a mutable copy of id's current contents, for
// copy-on-write modification by the B+tree.
func (p *Pager) Copy(id page.Id) []byte {
	src := p.Get(id)
	dst := make([]byte, p.pageSize)
	copy(dst, src)
	return dst
}

// NewPage returns a zeroed buffer of the page size, ready for Alloc.
func (p *Pager) NewPage() []byte {
	return make([]byte, p.pageSize)
}

// Flush writes every pending and appended page to the file. It does
// not fsync; the caller calls Fsync before writing the meta page so the
// meta page never references data that isn't yet on disk.
func (p *Pager) Flush() error {
	for id, buf := range p.pending {
		if err := p.pwrite(buf, int64(id)*int64(p.pageSize)); err != nil {
			return err
		}
		p.cache.Invalidate(id)
	}
	p.pending = make(map[page.Id][]byte)

	if len(p.appended) == 0 {
		return nil
	}

	newTotal := int(p.flushed+uint64(len(p.appended))) * p.pageSize
	if err := p.growIfNeeded(newTotal); err != nil {
		return err
	}

	off := int64(p.flushed) * int64(p.pageSize)
	for _, buf := range p.appended {
		if err := p.pwrite(buf, off); err != nil {
			return err
		}
		off += int64(p.pageSize)
	}
	p.flushed += uint64(len(p.appended))
	p.appended = p.appended[:0]
	return nil
}

// Fsync flushes the OS page cache for the data file to stable storage.
func (p *Pager) Fsync() error {
	return p.fd.Sync()
}

// WriteMetaAt durably writes a MetaSize page at the given meta slot
// (0 or 1); callers fsync afterward.
func (p *Pager) WriteMetaAt(slot int, data []byte) error {
	return p.pwrite(data, int64(slot)*int64(p.pageSize))
}

// ReadMetaAt reads the raw bytes of meta slot 0 or 1 directly from the
// file, bypassing the mmap (which may not yet cover a brand new file).
func (p *Pager) ReadMetaAt(slot int) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	n, err := p.fd.ReadAt(buf, int64(slot)*int64(p.pageSize))
	if err != nil && n == 0 {
		return nil, err
	}
	return buf, nil
}

// Discard drops all pending and appended pages, reverting the pager
// to the last flushed state after a failed or aborted write.
func (p *Pager) Discard() {
	p.pending = make(map[page.Id][]byte)
	p.appended = p.appended[:0]
}

// growIfNeeded replaces the mapping with a larger one when the file
// has outgrown it. Readers hold mmapLock shared for the lifetime of
// their snapshot, and their Pager.Get slices point directly into
// mmapData, so the old mapping must not be torn down while any of
// them could still be observing it; LockMmapExclusive blocks until
// they have all called EndRead. The page cache is cleared afterward
// since it may hold slices into the mapping generation just unmapped.
func (p *Pager) growIfNeeded(size int) error {
	if size <= p.mmapTotal {
		return nil
	}
	if p.mmapLock != nil {
		p.mmapLock.LockMmapExclusive()
		defer p.mmapLock.UnlockMmapExclusive()
	}
	if p.mmapData != nil {
		if err := unix.Munmap(p.mmapData); err != nil {
			return fmt.Errorf("pager: munmap: %w", err)
		}
		p.mmapData = nil
		p.mmapTotal = 0
	}
	if err := p.mmap(size); err != nil {
		return err
	}
	p.cache.Clear()
	return nil
}

func (p *Pager) pwrite(buf []byte, off int64) error {
	_, err := p.fd.WriteAt(buf, off)
	return err
}

func createFileSync(path string) (*os.File, error) {
	fd, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pager: open: %w", err)
	}

	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("pager: open dir: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		fd.Close()
		return nil, fmt.Errorf("pager: fsync dir: %w", err)
	}
	return fd, nil
}
