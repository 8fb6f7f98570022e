package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"
)

// OpType names a logical WAL record. The ordinals match the reference
// implementation's log_type.h so recovery groups and replay semantics
// carry over unchanged.
type OpType byte

const (
	OpPersisted    OpType = 0 // checkpoint marker: everything before this LSN is durable in the tree
	OpBegin        OpType = 1
	OpRollback     OpType = 2
	OpCommit       OpType = 3
	OpSubBucket    OpType = 4
	OpPutIsBucket  OpType = 5
	OpPutNotBucket OpType = 6
	OpDelete       OpType = 7
)

const (
	// EntryHeaderSize is the fixed size of the logical entry header.
	// Layout: LSN(8) + TxnID(8) + OpType(1) + Reserved(7) + KeyLen(4) + ValLen(4) + Timestamp(8)
	EntryHeaderSize = 40
)

// Entry represents a single logical WAL record. Begin/Commit/Rollback/
// Persisted carry no key or value; SubBucket/Put*/Delete carry the key
// (and, for puts, the value) of the mutation being logged.
type Entry struct {
	LSN       uint64
	TxnID     uint64
	OpType    OpType
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Encode serializes the entry to bytes with a trailing CRC32.
// Format: [Header(40)] [Key] [Value] [CRC32(4)]
func (e *Entry) Encode() []byte {
	keyLen := len(e.Key)
	valLen := len(e.Value)
	totalSize := EntryHeaderSize + keyLen + valLen + 4

	buf := make([]byte, totalSize)

	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	binary.LittleEndian.PutUint64(buf[8:16], e.TxnID)
	buf[16] = byte(e.OpType)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(keyLen))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(valLen))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(e.Timestamp.Unix()))

	offset := EntryHeaderSize
	copy(buf[offset:], e.Key)
	offset += keyLen
	copy(buf[offset:], e.Value)
	offset += valLen

	crc := crc32.ChecksumIEEE(buf[:offset])
	binary.LittleEndian.PutUint32(buf[offset:offset+4], crc)

	return buf
}

// DecodeEntry deserializes a WAL entry from bytes, verifying its CRC32.
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < EntryHeaderSize+4 {
		return nil, ErrTruncated
	}

	dataLen := len(data)
	storedCRC := binary.LittleEndian.Uint32(data[dataLen-4:])
	computedCRC := crc32.ChecksumIEEE(data[:dataLen-4])
	if storedCRC != computedCRC {
		return nil, ErrCorrupted
	}

	entry := &Entry{
		LSN:    binary.LittleEndian.Uint64(data[0:8]),
		TxnID:  binary.LittleEndian.Uint64(data[8:16]),
		OpType: OpType(data[16]),
	}

	keyLen := binary.LittleEndian.Uint32(data[24:28])
	valLen := binary.LittleEndian.Uint32(data[28:32])
	timestamp := binary.LittleEndian.Uint64(data[32:40])
	entry.Timestamp = time.Unix(int64(timestamp), 0)

	expectedSize := EntryHeaderSize + int(keyLen) + int(valLen) + 4
	if len(data) < expectedSize {
		return nil, ErrTruncated
	}

	offset := EntryHeaderSize
	if keyLen > 0 {
		entry.Key = make([]byte, keyLen)
		copy(entry.Key, data[offset:offset+int(keyLen)])
		offset += int(keyLen)
	}
	if valLen > 0 {
		entry.Value = make([]byte, valLen)
		copy(entry.Value, data[offset:offset+int(valLen)])
	}

	return entry, nil
}

// Size returns the encoded size of the entry.
func (e *Entry) Size() int {
	return EntryHeaderSize + len(e.Key) + len(e.Value) + 4
}

// IsMarker reports whether the entry is a transaction boundary marker
// rather than a logged mutation.
func (e *Entry) IsMarker() bool {
	switch e.OpType {
	case OpBegin, OpCommit, OpRollback, OpPersisted:
		return true
	default:
		return false
	}
}

// String returns a human-readable representation of the entry.
func (e *Entry) String() string {
	names := map[OpType]string{
		OpPersisted: "PERSISTED", OpBegin: "BEGIN", OpRollback: "ROLLBACK",
		OpCommit: "COMMIT", OpSubBucket: "SUBBUCKET",
		OpPutIsBucket: "PUT_BUCKET", OpPutNotBucket: "PUT", OpDelete: "DELETE",
	}
	name, ok := names[e.OpType]
	if !ok {
		name = "UNKNOWN"
	}
	return fmt.Sprintf("WAL[LSN=%d TxnID=%d Op=%s KeyLen=%d ValLen=%d]",
		e.LSN, e.TxnID, name, len(e.Key), len(e.Value))
}
