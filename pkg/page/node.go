// ABOUTME: Slotted B+tree node codec built on the packed Slot layout
// ABOUTME: Records grow backward from the page tail while slots grow forward from the header

package page

import "encoding/binary"

// NodeType distinguishes branch nodes (holding child pointers) from
// leaf nodes (holding values).
type NodeType uint16

const (
	Invalid NodeType = 0
	Branch  NodeType = 1
	Leaf    NodeType = 2
)

// HeaderSize is the fixed preamble before the slot array.
const HeaderSize = 16

const (
	typeShift = 14
	countMask = 0x3fff
)

// Node is a page interpreted as a slotted B+tree node. The layout is:
//
//	[0:8]   last_modified_txid
//	[8:10]  type:2 | count:14
//	[10:12] space_used
//	[12:14] data_offset  (low-water mark of the record area)
//	[14:16] reserved
//	[16:...] slot array, SlotSize bytes each
//	...record area growing down from len(Node)...
type Node []byte

func (n Node) LastModifiedTxId() TxId {
	return TxId(binary.LittleEndian.Uint64(n[0:8]))
}

func (n Node) SetLastModifiedTxId(id TxId) {
	binary.LittleEndian.PutUint64(n[0:8], uint64(id))
}

func (n Node) Type() NodeType {
	return NodeType(binary.LittleEndian.Uint16(n[8:10]) >> typeShift)
}

func (n Node) Count() uint16 {
	return binary.LittleEndian.Uint16(n[8:10]) & countMask
}

func (n Node) SetHeader(t NodeType, count uint16) {
	if count > countMask {
		panic("page: node count exceeds 14 bits")
	}
	binary.LittleEndian.PutUint16(n[8:10], uint16(t)<<typeShift|count)
}

func (n Node) SpaceUsed() uint16 {
	return binary.LittleEndian.Uint16(n[10:12])
}

func (n Node) setSpaceUsed(v uint16) {
	binary.LittleEndian.PutUint16(n[10:12], v)
}

func (n Node) DataOffset() uint16 {
	return binary.LittleEndian.Uint16(n[12:14])
}

func (n Node) setDataOffset(v uint16) {
	binary.LittleEndian.PutUint16(n[12:14], v)
}

// Reset initializes an empty node of the given type within a fresh page.
func (n Node) Reset(t NodeType) {
	n.SetLastModifiedTxId(0)
	n.SetHeader(t, 0)
	n.setSpaceUsed(0)
	n.setDataOffset(uint16(len(n)))
}

func (n Node) slotOffset(i uint16) int {
	return HeaderSize + int(i)*SlotSize
}

func (n Node) Slot(i uint16) Slot {
	if i >= n.Count() {
		panic("page: slot index out of range")
	}
	off := n.slotOffset(i)
	return DecodeSlot(n[off : off+SlotSize])
}

func (n Node) setSlot(i uint16, s Slot) {
	off := n.slotOffset(i)
	s.Encode(n[off : off+SlotSize])
}

// Key returns the key bytes for slot i.
func (n Node) Key(i uint16) []byte {
	s := n.Slot(i)
	off := s.RecordOffset()
	return n[off : off+s.KeySize()]
}

// Value returns the inline value bytes for a non-overflow leaf slot.
// Callers must check Slot.IsOverflow first.
func (n Node) Value(i uint16) []byte {
	s := n.Slot(i)
	off := int(s.RecordOffset()) + int(s.KeySize())
	return n[off : off+int(s.ValueSize())]
}

// OverflowHead returns the head page id of an overflow slot's value
// chain. Callers must check Slot.IsOverflow first.
func (n Node) OverflowHead(i uint16) Id {
	return n.Slot(i).LeftChild()
}

// recordLen returns the byte length of the in-page record for slot i:
// the key, plus an inline value for non-overflow leaf slots.
func recordLen(s Slot, nodeType NodeType) uint16 {
	n := s.KeySize()
	if nodeType == Leaf && !s.IsOverflow() {
		n += uint16(s.ValueSize())
	}
	return n
}

// FreeSpace reports how many bytes remain for a new slot plus its
// record before the slot array collides with the data area.
func (n Node) FreeSpace() int {
	slotsEnd := HeaderSize + int(n.Count()+1)*SlotSize
	return int(n.DataOffset()) - slotsEnd
}

// AppendLeaf appends a new inline (non-overflow, non-bucket) leaf
// record at the end of the slot array.
func (n Node) AppendLeaf(key, val []byte) {
	n.appendRecord(key, val, false, false, InvalidId)
}

// AppendLeafOverflow appends a leaf record whose value lives in an
// overflow chain headed by head.
func (n Node) AppendLeafOverflow(key []byte, head Id) {
	n.appendRecord(key, nil, true, false, head)
}

// AppendBucket appends a leaf record marking key as a sub-bucket whose
// root page is root.
func (n Node) AppendBucket(key []byte, root Id) {
	n.appendRecord(key, nil, false, true, root)
}

// AppendBranch appends a branch record: key plus its left child.
func (n Node) AppendBranch(key []byte, child Id) {
	i := n.Count()
	recLen := uint16(len(key))
	newOff := n.DataOffset() - recLen
	copy(n[newOff:newOff+uint16(len(key))], key)

	var s Slot
	s.SetRecordOffset(newOff)
	s.SetKeySize(uint16(len(key)))
	s.SetLeftChild(child)
	n.setSlot(i, s)
	n.setDataOffset(newOff)
	n.SetHeader(Branch, i+1)
	n.setSpaceUsed(n.SpaceUsed() + recLen + SlotSize)
}

func (n Node) appendRecord(key, val []byte, overflow, isBucket bool, union Id) {
	i := n.Count()
	recLen := uint16(len(key))
	if !overflow && !isBucket {
		recLen += uint16(len(val))
	}
	newOff := n.DataOffset() - recLen
	copy(n[newOff:], key)
	if !overflow && !isBucket {
		copy(n[newOff+uint16(len(key)):], val)
	}

	var s Slot
	s.SetRecordOffset(newOff)
	s.SetKeySize(uint16(len(key)))
	s.SetOverflow(overflow)
	s.SetIsBucket(isBucket)
	if overflow || isBucket {
		s.SetLeftChild(union)
	} else {
		s.SetValueSize(uint32(len(val)))
	}
	n.setSlot(i, s)
	n.setDataOffset(newOff)
	n.SetHeader(n.Type(), i+1)
	n.setSpaceUsed(n.SpaceUsed() + recLen + SlotSize)
}

// LookupLE returns the index of the last slot whose key is <= key,
// or 0 if key is smaller than every key in the node (the first slot
// of a branch node is always treated as -infinity).
func LookupLE(n Node, key []byte, cmp func(a, b []byte) int) uint16 {
	count := n.Count()
	found := uint16(0)
	for i := uint16(1); i < count; i++ {
		if cmp(n.Key(i), key) <= 0 {
			found = i
		} else {
			break
		}
	}
	return found
}

// CopyRange copies n records from src starting at srcIdx into dst
// starting at dstIdx, preserving each slot's flags and union field.
func CopyRange(dst, src Node, dstIdx, srcIdx, count uint16) {
	for i := uint16(0); i < count; i++ {
		s := src.Slot(srcIdx + i)
		switch {
		case src.Type() == Branch:
			dst.AppendBranch(src.Key(srcIdx+i), s.LeftChild())
		case s.IsBucket():
			dst.AppendBucket(src.Key(srcIdx+i), s.LeftChild())
		case s.IsOverflow():
			dst.AppendLeafOverflow(src.Key(srcIdx+i), s.LeftChild())
		default:
			dst.AppendLeaf(src.Key(srcIdx+i), src.Value(srcIdx+i))
		}
	}
	_ = dstIdx // records are always appended in order; kept for API symmetry
}
