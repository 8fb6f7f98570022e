package atomkv

import "encoding/binary"

// encodePath flattens a nested-bucket path plus a leaf key into a
// single WAL entry key: a sequence of 4-byte-length-prefixed segments
// (one per bucket name on the path from the user root, followed by
// the leaf key). Length-prefixing rather than a delimiter byte means
// bucket names or keys containing any byte value, including zero,
// round-trip exactly.
func encodePath(path [][]byte, leaf []byte) []byte {
	size := 0
	for _, seg := range path {
		size += 4 + len(seg)
	}
	size += 4 + len(leaf)

	buf := make([]byte, size)
	off := 0
	for _, seg := range path {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(seg)))
		off += 4
		off += copy(buf[off:], seg)
	}
	binary.BigEndian.PutUint32(buf[off:], uint32(len(leaf)))
	off += 4
	copy(buf[off:], leaf)
	return buf
}

// decodePath reverses encodePath, returning the bucket path segments
// and the trailing leaf key.
func decodePath(buf []byte) (path [][]byte, leaf []byte) {
	var segs [][]byte
	off := 0
	for off < len(buf) {
		if off+4 > len(buf) {
			break
		}
		n := int(binary.BigEndian.Uint32(buf[off:]))
		off += 4
		if off+n > len(buf) {
			break
		}
		seg := make([]byte, n)
		copy(seg, buf[off:off+n])
		segs = append(segs, seg)
		off += n
	}
	if len(segs) == 0 {
		return nil, nil
	}
	return segs[:len(segs)-1], segs[len(segs)-1]
}
