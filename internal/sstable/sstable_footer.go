package sstable

import (
	"encoding/binary"
	"io"

	"shale/internal/common"
)

const (
	// FOOTER_SIZE is the size of the footer in bytes.
	// footerOffset = len(sstable) - FOOTER_SIZE
	FOOTER_SIZE = 8 + 8 + 8 + 8 + common.CHECKSUM_SIZE

	// MAGIC marks a completely written table ("SHALESST").
	MAGIC uint64 = 0x5453534c45414853
)

// Footer is the last FOOTER_SIZE bytes of the SSTable file.
type Footer struct {
	FilterOffset uint64 // Offset where filter block starts (8 bytes)
	IndexOffset  uint64 // Offset where index block starts (8 bytes)
	EntryCount   uint64 // Total number of entries in the SSTable (8 bytes)
}

// WriteFooter writes the footer, magic and checksum to the given writer.
// Returns the number of bytes written.
func WriteFooter(w io.Writer, f *Footer) (int, error) {
	var buf [FOOTER_SIZE]byte
	binary.LittleEndian.PutUint64(buf[0:8], f.FilterOffset)
	binary.LittleEndian.PutUint64(buf[8:16], f.IndexOffset)
	binary.LittleEndian.PutUint64(buf[16:24], f.EntryCount)
	binary.LittleEndian.PutUint64(buf[24:32], MAGIC)
	binary.LittleEndian.PutUint32(buf[32:], common.Checksum(buf[:32]))
	return w.Write(buf[:])
}

// ReadFooter reads a footer from the reader. A bad magic number or checksum
// is reported as corruption.
func ReadFooter(r io.Reader) (*Footer, error) {
	var buf [FOOTER_SIZE]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, common.Corruption("sstable footer", "short footer: %v", err)
	}
	if got, want := common.Checksum(buf[:32]), binary.LittleEndian.Uint32(buf[32:]); got != want {
		return nil, common.Corruption("sstable footer", "checksum mismatch: got %08x want %08x", got, want)
	}
	if magic := binary.LittleEndian.Uint64(buf[24:32]); magic != MAGIC {
		return nil, common.Corruption("sstable footer", "bad magic %016x", magic)
	}
	return &Footer{
		FilterOffset: binary.LittleEndian.Uint64(buf[0:8]),
		IndexOffset:  binary.LittleEndian.Uint64(buf[8:16]),
		EntryCount:   binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}
