// Package inspect prints the contents of WAL, SSTable and MANIFEST files
// for debugging.
package inspect

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"shale/internal/common"
	"shale/internal/manifest"
	"shale/internal/sstable"
	"shale/internal/wal"
)

const maxKeyWidth = 20

// Entries prints one row per entry and returns how many were printed.
func Entries(w io.Writer, iter common.EntryIterator) (int, error) {
	fmt.Fprintf(w, "%-6s %-20s %10s  %s\n", "OP", "KEY", "SEQ", "VALUE")
	fmt.Fprintln(w)

	count := 0
	for {
		entry, err := iter.Next()
		if err != nil {
			return count, err
		}
		if entry == nil {
			break
		}
		count++

		// Truncate key if longer than 20 chars
		key := string(entry.Key)
		if len(key) > maxKeyWidth {
			key = key[:maxKeyWidth]
		}
		if entry.Type == common.EntryTypePut {
			fmt.Fprintf(w, "%-6s %-20s %10d  %s\n", entry.Type, key, entry.Seq, entry.Value)
		} else {
			fmt.Fprintf(w, "%-6s %-20s %10d\n", entry.Type, key, entry.Seq)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total entries: %d\n", count)
	return count, nil
}

// File dispatches on the file name: *.log, *.sst or MANIFEST.
func File(w io.Writer, path string, dump bool) error {
	if filepath.Base(path) == common.MANIFEST_FILE {
		return Manifest(w, path)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case common.WAL_EXT:
		return WAL(w, path, dump)
	case common.SSTABLE_EXT:
		return SSTable(w, path, dump)
	default:
		return common.InvalidArgument("inspect", "unknown file type %q (expected .log, .sst or MANIFEST)", ext)
	}
}

// WAL summarizes a log without modifying it. A torn tail is reported, not
// truncated.
func WAL(w io.Writer, path string, dump bool) error {
	fmt.Fprintf(w, "Inspecting WAL: %s\n", path)
	fmt.Fprintln(w)

	iter, err := wal.NewFileIterator(context.Background(), path)
	if err != nil {
		return err
	}
	defer iter.Close()

	var count int
	if dump {
		count, err = Entries(w, iter)
		if err != nil {
			return err
		}
	} else {
		var maxSeq uint64
		for {
			entry, err := iter.Next()
			if err != nil {
				return err
			}
			if entry == nil {
				break
			}
			count++
			if entry.Seq > maxSeq {
				maxSeq = entry.Seq
			}
		}
		fmt.Fprintf(w, "Total entries: %d\n", count)
		fmt.Fprintf(w, "Max sequence:  %d\n", maxSeq)
	}

	fmt.Fprintf(w, "Valid bytes:   %d\n", iter.ValidOffset())
	if iter.Truncated() {
		fmt.Fprintln(w, "Tail:          torn or corrupt, replay stops at valid bytes")
	}
	return nil
}

// SSTable prints a table's footer and sparse index, and its entries when
// dump is set.
func SSTable(w io.Writer, path string, dump bool) error {
	fmt.Fprintf(w, "Inspecting SSTable: %s\n", path)
	fmt.Fprintln(w)

	fileNo, _ := common.ParseFileNo(path, common.SSTABLE_EXT)
	table, err := sstable.OpenSSTable(path, fileNo, nil)
	if err != nil {
		return err
	}
	defer table.Unref()

	footer := table.GetFooter()
	index := table.GetIndex()
	fmt.Fprintf(w, "File size:     %d\n", table.Size())
	fmt.Fprintf(w, "Entries:       %d\n", footer.EntryCount)
	fmt.Fprintf(w, "Filter offset: %d\n", footer.FilterOffset)
	fmt.Fprintf(w, "Index offset:  %d\n", footer.IndexOffset)
	fmt.Fprintf(w, "Key range:     %q .. %q\n", table.SmallestKey(), table.LargestKey())
	fmt.Fprintf(w, "Total blocks:  %d\n", len(index.Entries))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Index entries (first key of each block):")
	fmt.Fprintln(w)
	for i, entry := range index.Entries {
		fmt.Fprintf(w, "Block %d: offset=%d length=%d key=%q\n", i, entry.BlockOffset, entry.BlockLength, entry.Key)
	}

	if !dump {
		return nil
	}
	fmt.Fprintln(w)
	iter := table.Iterator(nil)
	defer iter.Close()
	_, err = Entries(w, iter)
	return err
}

// Manifest prints the catalog: live WALs, next file numbers and the tables
// of every level.
func Manifest(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return common.IoFailure("inspect manifest", err)
	}
	defer f.Close()

	v, err := manifest.ReadManifest(f)
	if err != nil {
		return common.Corruption("inspect manifest", "decode %s: %v", path, err)
	}

	fmt.Fprintf(w, "Inspecting MANIFEST: %s\n", path)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "DB id:         %s\n", v.DBID)
	fmt.Fprintf(w, "Current WAL:   %d\n", v.CurrentWAL)
	fmt.Fprintf(w, "Log number:    %d\n", v.LogNumber)
	fmt.Fprintf(w, "Next WAL:      %d\n", v.NextWALNumber)
	fmt.Fprintf(w, "Next SSTable:  %d\n", v.NextSSTableNumber)
	fmt.Fprintf(w, "Last sequence: %d\n", v.LastSequence)
	fmt.Fprintln(w)
	for level, files := range v.Levels {
		fmt.Fprintf(w, "L%d: %d tables, %d bytes", level, len(files), v.LevelSize(level))
		if level < len(v.CompactPointers) && v.CompactPointers[level] != nil {
			fmt.Fprintf(w, ", compact pointer %q", v.CompactPointers[level])
		}
		fmt.Fprintln(w)
		for _, fm := range files {
			fmt.Fprintf(w, "  %d.sst  %8d bytes  %6d entries  %q .. %q\n",
				fm.FileNo, fm.Size, fm.EntryCount, fm.SmallestKey, fm.LargestKey)
		}
	}
	return nil
}
