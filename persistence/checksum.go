package persistence

import "hash/crc32"

// Checksum computes the CRC32 (IEEE) checksum of data. CRC32 detects
// storage corruption; it is not a tamper-evidence mechanism.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
