// Package codec provides bit-exact encoding and decoding of the shadow
// file's header and index blocks.
//
// All multi-byte integers are little-endian. Checksums are CRC32-C
// (Castagnoli), matching the checksum family used throughout the corpus
// this engine is modeled on, computed over every byte emitted before the
// checksum field itself.
package codec

import (
	"encoding/binary"
	"hash/crc32"
)

// HeaderMagic is the 4-byte tag at the start of every shadow file.
const HeaderMagic = "VHDR"

// HeaderSize is the fixed, on-disk size of the header block in bytes.
const HeaderSize = 4 + 4 + 8 + 8 + 8 + 4

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Header is the shadow file's page-0 block.
//
// It names exactly one consistent index by offset and length; readers
// check that the index it names carries the same tick and valid checksums,
// and re-read both when decoding fails (see the reader EOT engine).
type Header struct {
	PageSize    uint32 // P: the data-file/shadow-file page size
	Tick        uint64 // T: current tick number
	IndexOffset uint64 // byte offset of the index within the shadow file
	IndexLength uint64 // byte length of the current index
}

// EncodeHeader serializes h into a HeaderSize-byte block, appending a
// trailing CRC32-C checksum over the preceding bytes.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)

	copy(buf[0:4], HeaderMagic)
	binary.LittleEndian.PutUint32(buf[4:8], h.PageSize)
	binary.LittleEndian.PutUint64(buf[8:16], h.Tick)
	binary.LittleEndian.PutUint64(buf[16:24], h.IndexOffset)
	binary.LittleEndian.PutUint64(buf[24:32], h.IndexLength)

	crc := crc32.Checksum(buf[:32], crc32cTable)
	binary.LittleEndian.PutUint32(buf[32:36], crc)

	return buf
}

// DecodeHeader validates and parses a HeaderSize-byte block.
//
// Returns a [DecodeError] if the magic tag or checksum do not match; the
// caller (always a reader — the writer never produces a malformed block)
// should retry the read per the cross-process publication contract.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, &DecodeError{Kind: Truncated, Detail: "header shorter than HeaderSize"}
	}

	if string(buf[0:4]) != HeaderMagic {
		return Header{}, &DecodeError{Kind: Magic, Detail: "bad header magic"}
	}

	wantCRC := binary.LittleEndian.Uint32(buf[32:36])
	gotCRC := crc32.Checksum(buf[:32], crc32cTable)

	if wantCRC != gotCRC {
		return Header{}, &DecodeError{Kind: Checksum, Detail: "header checksum mismatch"}
	}

	return Header{
		PageSize:    binary.LittleEndian.Uint32(buf[4:8]),
		Tick:        binary.LittleEndian.Uint64(buf[8:16]),
		IndexOffset: binary.LittleEndian.Uint64(buf[16:24]),
		IndexLength: binary.LittleEndian.Uint64(buf[24:32]),
	}, nil
}
