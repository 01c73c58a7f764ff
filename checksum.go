package tidestore

import "hash/crc32"

// crc32Checksum mirrors the checksum field sidb's HeadPage.validate uses
// (crc32.ChecksumIEEE) to guard the file header against torn or corrupt
// writes.
func crc32Checksum(buf []byte) uint32 {
	return crc32.ChecksumIEEE(buf)
}
