package codec

import "hash/crc32"

// ComputeChecksum computes the deterministic 32-bit metadata checksum used
// for header blocks, index blocks, and published metadata-page images alike.
//
// Implementers must keep this byte-for-byte compatible with the on-disk
// checksum algorithm; CRC32-C (Castagnoli) is used throughout this engine.
func ComputeChecksum(b []byte) uint32 {
	return checksum(b)
}

func checksum(b []byte) uint32 {
	return crc32.Checksum(b, crc32cTable)
}
