package codec

import "encoding/binary"

// IndexMagic is the 4-byte tag at the start of every encoded index block.
const IndexMagic = "VIDX"

// EntrySize is the on-disk size of one index entry.
const EntrySize = 4 + 4 + 4 + 4

// indexFixedSize is magic + tick(8) + count(4) + trailing checksum(4),
// excluding the N entries themselves.
const indexFixedSize = 4 + 8 + 4 + 4

// Entry is one row of the shadow index: the mapping from a data-file page
// to the shadow-file location of its currently published image.
type Entry struct {
	DataPageOffset   uint32 // page number in the data file
	ShadowPageOffset uint32 // page number in the shadow file
	Length           uint32 // byte length of the published image
	Checksum         uint32 // checksum over the published image
}

// Index is the variable-length block published once per tick: every page
// of metadata that has been rewritten but whose old bytes are still
// potentially visible in the main data file.
//
// Entries are sorted by DataPageOffset ascending with unique offsets,
// invariant 2 of the data model.
type Index struct {
	Tick    uint64
	Entries []Entry
}

// EncodedLen returns the number of bytes EncodeIndex would produce for an
// index holding n entries.
func EncodedLen(n int) int {
	return indexFixedSize + n*EntrySize
}

// EncodeIndex serializes idx, appending a trailing CRC32-C checksum over
// the preceding bytes.
func EncodeIndex(idx Index) []byte {
	buf := make([]byte, EncodedLen(len(idx.Entries)))

	copy(buf[0:4], IndexMagic)
	binary.LittleEndian.PutUint64(buf[4:12], idx.Tick)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(idx.Entries)))

	off := 16
	for _, e := range idx.Entries {
		binary.LittleEndian.PutUint32(buf[off:off+4], e.DataPageOffset)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], e.ShadowPageOffset)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], e.Length)
		binary.LittleEndian.PutUint32(buf[off+12:off+16], e.Checksum)
		off += EntrySize
	}

	crcEnd := len(buf) - 4
	crc := crc32Checksum(buf[:crcEnd])
	binary.LittleEndian.PutUint32(buf[crcEnd:], crc)

	return buf
}

// DecodeIndex validates and parses an encoded index block.
//
// Returns a [DecodeError] on a bad magic tag, a truncated buffer, or a
// checksum mismatch. It does not itself enforce sort order or key
// uniqueness; callers that need those invariants verified should use
// [ValidateOrder].
func DecodeIndex(buf []byte) (Index, error) {
	return decodeIndex(buf, nil)
}

// DecodeIndexInto behaves like [DecodeIndex] but decodes entries into
// dst's backing array when it has enough capacity, instead of always
// allocating a fresh slice. dst is never retained beyond this call by the
// caller unless the returned Index.Entries aliases it; pass dst[:0] of a
// buffer you alternate across calls (e.g. a reader's ping-pong index
// buffers) to decode a tick's index without allocating once both buffers
// have grown to their steady-state size.
func DecodeIndexInto(buf []byte, dst []Entry) (Index, error) {
	return decodeIndex(buf, dst)
}

func decodeIndex(buf []byte, dst []Entry) (Index, error) {
	if len(buf) < indexFixedSize {
		return Index{}, &DecodeError{Kind: Truncated, Detail: "index shorter than fixed header"}
	}

	if string(buf[0:4]) != IndexMagic {
		return Index{}, &DecodeError{Kind: Magic, Detail: "bad index magic"}
	}

	tick := binary.LittleEndian.Uint64(buf[4:12])
	n := binary.LittleEndian.Uint32(buf[12:16])

	want := EncodedLen(int(n))
	if len(buf) < want {
		return Index{}, &DecodeError{Kind: Truncated, Detail: "index shorter than declared entry count"}
	}

	crcEnd := want - 4

	wantCRC := binary.LittleEndian.Uint32(buf[crcEnd : crcEnd+4])
	gotCRC := crc32Checksum(buf[:crcEnd])

	if wantCRC != gotCRC {
		return Index{}, &DecodeError{Kind: Checksum, Detail: "index checksum mismatch"}
	}

	var entries []Entry
	if cap(dst) >= int(n) {
		entries = dst[:n]
	} else {
		entries = make([]Entry, n)
	}

	off := 16

	for i := range entries {
		entries[i] = Entry{
			DataPageOffset:   binary.LittleEndian.Uint32(buf[off : off+4]),
			ShadowPageOffset: binary.LittleEndian.Uint32(buf[off+4 : off+8]),
			Length:           binary.LittleEndian.Uint32(buf[off+8 : off+12]),
			Checksum:         binary.LittleEndian.Uint32(buf[off+12 : off+16]),
		}
		off += EntrySize
	}

	return Index{Tick: tick, Entries: entries}, nil
}

// ValidateOrder reports whether entries are sorted ascending by
// DataPageOffset with unique offsets (data model invariant 2). It returns
// the first offending index and an [InvariantKind] describing the failure,
// or -1 and zero value when the index is well-formed.
func ValidateOrder(entries []Entry) (badIndex int, kind InvariantKind) {
	for i := 1; i < len(entries); i++ {
		switch {
		case entries[i].DataPageOffset < entries[i-1].DataPageOffset:
			return i, SortOrder
		case entries[i].DataPageOffset == entries[i-1].DataPageOffset:
			return i, Duplicate
		}
	}

	return -1, 0
}

func crc32Checksum(b []byte) uint32 {
	return checksum(b)
}
