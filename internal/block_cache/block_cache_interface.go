package block_cache

import (
	"shale/internal/block"
	"shale/internal/common"
)

// DEFAULT_CAPACITY is the number of decoded blocks kept when none is configured.
const DEFAULT_CAPACITY = 1024

// BlockCache provides shared LRU block caching across multiple SSTables.
type BlockCache interface {
	// Get retrieves a block from the cache. Returns (block, true) if found, (nil, false) if not.
	Get(fileNo common.FileNo, blockNo common.BlockNo) (block.Block, bool)

	// Put stores a block in the cache.
	Put(fileNo common.FileNo, blockNo common.BlockNo, b block.Block)

	// EvictFile drops every cached block of a retired table.
	EvictFile(fileNo common.FileNo)

	// Stats reports hit and miss counters and the current entry count.
	Stats() Stats
}

type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}
