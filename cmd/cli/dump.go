package main

import (
	"fmt"
	"os"

	"shale/internal/db"
	"shale/internal/inspect"
)

// dumpRange prints every live key in [start, end).
func dumpRange(engine *db.DB, start, end []byte) {
	it, err := engine.Scan(start, end)
	if err != nil {
		fmt.Printf("scan error: %v\n", err)
		return
	}
	defer it.Close()

	count := 0
	for it.Next() {
		fmt.Printf("%-20s  %s\n", it.Key(), it.Value())
		count++
	}
	if err := it.Err(); err != nil {
		fmt.Printf("scan error: %v\n", err)
		return
	}
	fmt.Printf("(%d entries)\n", count)
}

func dumpFile(path string, entries bool) {
	if err := inspect.File(os.Stdout, path, entries); err != nil {
		fmt.Printf("inspect error: %v\n", err)
	}
}

func printStats(engine *db.DB) {
	s := engine.Stats()
	fmt.Printf("last seq=%d  memtable: %d entries, %d bytes  frozen=%d  wal=%d\n",
		s.LastSequence, s.MemtableEntries, s.MemtableBytes, s.FrozenMemtables, s.CurrentWAL)
	for _, l := range s.Levels {
		if l.Tables == 0 {
			continue
		}
		fmt.Printf("L%d: %3d tables  %10d bytes  score %.2f\n", l.Level, l.Tables, l.Bytes, l.Score)
	}
	fmt.Printf("block cache: %d entries, %d hits, %d misses\n",
		s.BlockCache.Entries, s.BlockCache.Hits, s.BlockCache.Misses)
}
