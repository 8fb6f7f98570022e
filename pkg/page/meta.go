// ABOUTME: Meta page codec and double-meta commit protocol
// ABOUTME: Two meta pages at offsets 0 and 1 alternate by txid parity for crash safety

package page

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Sign is the fixed 8-byte signature stamped into every meta page.
var Sign = [8]byte{'a', 't', 'o', 'm', 'k', 'v', 0, 1}

// MetaSize is the encoded size of a Meta struct.
const MetaSize = 56

// ErrInvalidMeta is returned when a meta page fails signature or CRC
// validation.
var ErrInvalidMeta = errors.New("page: invalid meta page")

// Meta mirrors the database's meta page layout byte-for-byte:
//
//	sign, page_size, min_version, page_count, user_root,
//	free_list_pgid, free_pair_count, free_list_page_count, txid, crc32
type Meta struct {
	Sign               [8]byte
	PageSize           uint32
	MinVersion         uint32
	PageCount          uint64
	UserRoot           Id
	FreeListPgid       Id
	FreePairCount      uint64
	FreeListPageCount  uint32
	TxId               TxId
	// CRC32 covers every field above and is computed on Encode.
}

// Encode serializes m into a MetaSize-byte buffer, including the
// trailing CRC32.
func (m Meta) Encode() []byte {
	buf := make([]byte, MetaSize)
	copy(buf[0:8], Sign[:])
	binary.LittleEndian.PutUint32(buf[8:12], m.PageSize)
	binary.LittleEndian.PutUint32(buf[12:16], m.MinVersion)
	binary.LittleEndian.PutUint64(buf[16:24], m.PageCount)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(m.UserRoot))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(m.FreeListPgid))
	binary.LittleEndian.PutUint64(buf[32:40], m.FreePairCount)
	binary.LittleEndian.PutUint32(buf[40:44], m.FreeListPageCount)
	binary.LittleEndian.PutUint64(buf[44:52], uint64(m.TxId))
	crc := crc32.ChecksumIEEE(buf[0:52])
	binary.LittleEndian.PutUint32(buf[52:56], crc)
	return buf
}

// DecodeMeta validates and parses a meta page. It returns ErrInvalidMeta
// if the signature or checksum do not match.
func DecodeMeta(buf []byte) (Meta, error) {
	var m Meta
	if len(buf) < MetaSize {
		return m, ErrInvalidMeta
	}
	if string(buf[0:8]) != string(Sign[:]) {
		return m, ErrInvalidMeta
	}
	wantCRC := binary.LittleEndian.Uint32(buf[52:56])
	gotCRC := crc32.ChecksumIEEE(buf[0:52])
	if wantCRC != gotCRC {
		return m, ErrInvalidMeta
	}
	copy(m.Sign[:], buf[0:8])
	m.PageSize = binary.LittleEndian.Uint32(buf[8:12])
	m.MinVersion = binary.LittleEndian.Uint32(buf[12:16])
	m.PageCount = binary.LittleEndian.Uint64(buf[16:24])
	m.UserRoot = Id(binary.LittleEndian.Uint32(buf[24:28]))
	m.FreeListPgid = Id(binary.LittleEndian.Uint32(buf[28:32]))
	m.FreePairCount = binary.LittleEndian.Uint64(buf[32:40])
	m.FreeListPageCount = binary.LittleEndian.Uint32(buf[40:44])
	m.TxId = TxId(binary.LittleEndian.Uint64(buf[44:52]))
	return m, nil
}

// Slot2 selects which of the two meta pages a given txid should write
// to: metas alternate by parity so a crash mid-write never corrupts
// both copies.
func Slot2(txid TxId) int {
	return int(txid % 2)
}

// PickNewest returns whichever of two decoded metas has the higher
// txid, preferring whichever one decoded successfully if the other
// failed validation.
func PickNewest(amv Meta, aErr error, bmv Meta, bErr error) (Meta, error) {
	if aErr != nil && bErr != nil {
		return Meta{}, ErrInvalidMeta
	}
	if aErr != nil {
		return bmv, nil
	}
	if bErr != nil {
		return amv, nil
	}
	if amv.TxId >= bmv.TxId {
		return amv, nil
	}
	return bmv, nil
}
