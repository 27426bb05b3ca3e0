package store

import (
	"sync"

	"github.com/zhangxinngang/murmur"
)

// indexEntry records where a key's latest record lives in the log.
type indexEntry struct {
	Offset int64
	Size   int64
}

// shardCount partitions the in-memory index to keep the hot GET path off a
// single lock while the write-behind worker (or a concurrent DEL) mutates
// entries for unrelated keys. Point lookups only ever take one shard's
// RLock; a full rewrite of index.dat still requires visiting every shard,
// serialized by Store.persistMu in store.go.
const shardCount = 16

type indexShard struct {
	mu      sync.RWMutex
	entries map[string]indexEntry
}

// index is the in-memory key -> (offset, size) map described in spec.md
// §3 "Index entry". Sharding is keyed on a murmur3 hash of the key, the
// same hash the teacher repo used to key its index map directly; here it
// only selects a shard, and the index itself is keyed on the real key so
// no distinct keys can collide under a hash-only index (the defect the
// teacher repo's hash-keyed index had no protection against).
type index struct {
	shards [shardCount]*indexShard
}

func newIndex() *index {
	idx := &index{}
	for i := range idx.shards {
		idx.shards[i] = &indexShard{entries: make(map[string]indexEntry)}
	}
	return idx
}

func (i *index) shardFor(key string) *indexShard {
	h := murmur.Murmur3([]byte(key))
	return i.shards[h%uint32(shardCount)]
}

func (i *index) get(key string) (indexEntry, bool) {
	shard := i.shardFor(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	e, ok := shard.entries[key]
	return e, ok
}

func (i *index) set(key string, e indexEntry) {
	shard := i.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.entries[key] = e
}

// delete removes key and reports whether it was present.
func (i *index) delete(key string) bool {
	shard := i.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	_, ok := shard.entries[key]
	delete(shard.entries, key)
	return ok
}

func (i *index) len() int {
	total := 0
	for _, shard := range i.shards {
		shard.mu.RLock()
		total += len(shard.entries)
		shard.mu.RUnlock()
	}
	return total
}

// rangeAll visits every entry. It takes each shard's lock in turn rather
// than a single global snapshot, which is sufficient for its two callers
// (persisting the index file and the engine's cache warm-up scan) since
// neither requires a point-in-time view across shards.
func (i *index) rangeAll(fn func(key string, e indexEntry)) {
	for _, shard := range i.shards {
		shard.mu.RLock()
		for k, e := range shard.entries {
			fn(k, e)
		}
		shard.mu.RUnlock()
	}
}

func (i *index) clear() {
	for _, shard := range i.shards {
		shard.mu.Lock()
		shard.entries = make(map[string]indexEntry)
		shard.mu.Unlock()
	}
}
