package main

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"shale/internal/common"
	"shale/internal/db"
)

// seedCursorKey stores the next round number so repeated seeds across
// sessions keep producing fresh keys.
const seedCursorKey = "__cli_seed_cursor__"

var strata = []string{
	"basalt", "chalk", "dolomite", "flint", "gneiss", "granite",
	"gypsum", "jasper", "limestone", "marble", "mudstone", "obsidian",
	"pumice", "quartzite", "sandstone", "schist", "shale", "slate",
}

func loadSeedCursor(engine *db.DB) int {
	raw, err := engine.Get([]byte(seedCursorKey))
	if err != nil {
		return 0
	}
	cursor, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0
	}
	fmt.Printf("seed cursor at round %d\n", cursor)
	return cursor
}

// runSeed writes rounds × len(strata) keys of the form <stratum>/<round>
// in a random order and advances the cursor.
func runSeed(engine *db.DB, rounds int, cursor *int) {
	start := time.Now()
	first := *cursor

	keys := make([]string, 0, rounds*len(strata))
	for r := first; r < first+rounds; r++ {
		for _, s := range strata {
			keys = append(keys, fmt.Sprintf("%s/%06d", s, r))
		}
	}
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	written := 0
	for _, k := range keys {
		value := fmt.Sprintf("layer-%d-%s", time.Now().UnixNano()%1000, k)
		if err := engine.Put([]byte(k), []byte(value)); err != nil {
			fmt.Printf("seed error at %s: %v\n", k, err)
			break
		}
		written++
	}
	*cursor = first + rounds

	if err := engine.Put([]byte(seedCursorKey), []byte(strconv.Itoa(*cursor))); err != nil {
		fmt.Printf("warning: seed cursor not saved: %v\n", err)
	}
	if written == 0 {
		return
	}
	common.LogDuration(start, "seeded %d keys, rounds %d-%d, %v/key",
		written, first, *cursor-1, time.Since(start)/time.Duration(written))
	fmt.Printf("seeded %d keys in %v\n", written, time.Since(start).Round(time.Microsecond))
}
