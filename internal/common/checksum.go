package common

import "hash/crc32"

// CHECKSUM_SIZE is the width of every checksum persisted by the engine.
const CHECKSUM_SIZE = 4

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the CRC-32C of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// ChecksumExtend continues a running CRC-32C with more data.
func ChecksumExtend(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, castagnoli, data)
}
