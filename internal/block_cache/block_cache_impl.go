package block_cache

import (
	"container/list"
	"sync"

	"shale/internal/block"
	"shale/internal/common"
)

type cacheKey struct {
	fileNo  common.FileNo
	blockNo common.BlockNo
}

type cacheEntry struct {
	key   cacheKey
	block block.Block
}

// lruCache evicts the least recently used block once capacity is reached.
type lruCache struct {
	mu       sync.Mutex
	capacity int
	items    map[cacheKey]*list.Element
	order    *list.List // front is most recent
	hits     uint64
	misses   uint64
}

var _ BlockCache = (*lruCache)(nil)

// NewBlockCache returns an LRU cache holding up to capacity blocks.
// A capacity of zero or less disables caching.
func NewBlockCache(capacity int) BlockCache {
	return &lruCache{
		capacity: capacity,
		items:    make(map[cacheKey]*list.Element),
		order:    list.New(),
	}
}

func (c *lruCache) Get(fileNo common.FileNo, blockNo common.BlockNo) (block.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[cacheKey{fileNo, blockNo}]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).block, true
}

func (c *lruCache) Put(fileNo common.FileNo, blockNo common.BlockNo, b block.Block) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{fileNo, blockNo}
	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).block = b
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.capacity {
		c.removeElement(c.order.Back())
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, block: b})
}

func (c *lruCache) EvictFile(fileNo common.FileNo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.items {
		if key.fileNo == fileNo {
			c.removeElement(elem)
		}
	}
}

func (c *lruCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}

func (c *lruCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: c.order.Len()}
}
