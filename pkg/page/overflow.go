// ABOUTME: Overflow record chains for keys/values too large to fit in a node
// ABOUTME: A chain is a singly-linked list of whole pages referenced by a head PageId

package page

import "encoding/binary"

// overflowHeadHeader is the layout of the first page in a chain.
const overflowHeadHeader = 8 // TotalLen(4) + NextId(4)

// overflowContHeader is the layout of every following page.
const overflowContHeader = 4 // NextId(4)

// OverflowHead wraps the first page of an overflow chain.
type OverflowHead []byte

func (p OverflowHead) TotalLen() uint32 {
	return binary.LittleEndian.Uint32(p[0:4])
}

func (p OverflowHead) SetTotalLen(n uint32) {
	binary.LittleEndian.PutUint32(p[0:4], n)
}

func (p OverflowHead) Next() Id {
	return Id(binary.LittleEndian.Uint32(p[4:8]))
}

func (p OverflowHead) SetNext(id Id) {
	binary.LittleEndian.PutUint32(p[4:8], uint32(id))
}

func (p OverflowHead) Payload() []byte {
	return p[overflowHeadHeader:]
}

// OverflowCont wraps a continuation page of an overflow chain.
type OverflowCont []byte

func (p OverflowCont) Next() Id {
	return Id(binary.LittleEndian.Uint32(p[0:4]))
}

func (p OverflowCont) SetNext(id Id) {
	binary.LittleEndian.PutUint32(p[0:4], uint32(id))
}

func (p OverflowCont) Payload() []byte {
	return p[overflowContHeader:]
}

// ChainPageCount returns how many whole pages a value of size n needs,
// given a page size of pageSize bytes.
func ChainPageCount(n, pageSize int) int {
	if n <= 0 {
		return 1
	}
	first := pageSize - overflowHeadHeader
	if n <= first {
		return 1
	}
	remaining := n - first
	cont := pageSize - overflowContHeader
	return 1 + (remaining+cont-1)/cont
}

// WriteChain splits val across freshly allocated pages of size
// pageSize, writing pages via alloc and returning the head page id.
// alloc receives each filled buffer of exactly pageSize bytes and must
// return the Id it was written to.
func WriteChain(val []byte, pageSize int, alloc func([]byte) Id) Id {
	n := len(val)
	count := ChainPageCount(n, pageSize)
	bufs := make([][]byte, count)
	for i := range bufs {
		bufs[i] = make([]byte, pageSize)
	}

	head := OverflowHead(bufs[0])
	head.SetTotalLen(uint32(n))
	rest := val
	firstChunk := pageSize - overflowHeadHeader
	if firstChunk > len(rest) {
		firstChunk = len(rest)
	}
	copy(head.Payload(), rest[:firstChunk])
	rest = rest[firstChunk:]

	for i := 1; i < count; i++ {
		cont := OverflowCont(bufs[i])
		chunk := pageSize - overflowContHeader
		if chunk > len(rest) {
			chunk = len(rest)
		}
		copy(cont.Payload(), rest[:chunk])
		rest = rest[chunk:]
	}
	// Allocate pages tail-to-head so every Next pointer is known before
	// its page is persisted.
	next := InvalidId
	for i := count - 1; i >= 1; i-- {
		OverflowCont(bufs[i]).SetNext(next)
		next = alloc(bufs[i])
	}
	head.SetNext(next)
	return alloc(bufs[0])
}

// FreeChain walks the overflow chain headed at head, calling free for
// every page in it (head included), for release to the free list when
// the slot referencing it is deleted or overwritten.
func FreeChain(head Id, get func(Id) []byte, free func(Id)) {
	if head == InvalidId {
		return
	}
	next := OverflowHead(get(head)).Next()
	free(head)
	for next != InvalidId {
		id := next
		next = OverflowCont(get(id)).Next()
		free(id)
	}
}

// ReadChain reconstructs the logical value stored in the chain headed
// at head, using get to fetch each page's bytes.
func ReadChain(head Id, get func(Id) []byte) []byte {
	first := OverflowHead(get(head))
	total := first.TotalLen()
	out := make([]byte, 0, total)
	chunk := first.Payload()
	if uint32(len(chunk)) > total {
		chunk = chunk[:total]
	}
	out = append(out, chunk...)
	next := first.Next()
	for next != InvalidId && uint32(len(out)) < total {
		cont := OverflowCont(get(next))
		remaining := int(total) - len(out)
		chunk := cont.Payload()
		if len(chunk) > remaining {
			chunk = chunk[:remaining]
		}
		out = append(out, chunk...)
		next = cont.Next()
	}
	return out
}
