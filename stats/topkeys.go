package stats

import (
	"container/list"
	"sync"

	"github.com/yeqown/submemd/hash"
)

const (
	shardCount       = 8
	defaultShardSize = 50
)

type keyHit struct {
	key      string
	gets     int64
	sets     int64
}

// shard is one independently-locked LRU of recently-operated keys.
type shard struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newShard(capacity int) *shard {
	return &shard{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

func (s *shard) touch(key string, isSet bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.index[key]; ok {
		s.order.MoveToFront(el)
		hit := el.Value.(*keyHit)
		if isSet {
			hit.sets++
		} else {
			hit.gets++
		}
		return
	}

	hit := &keyHit{key: key}
	if isSet {
		hit.sets = 1
	} else {
		hit.gets = 1
	}
	el := s.order.PushFront(hit)
	s.index[key] = el

	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(*keyHit).key)
	}
}

// Topkeys is the 8-shard LRU of recently-operated keys, sharded by
// hash(key) & 7 so concurrent connections touching different keys rarely
// contend on the same lock.
type Topkeys struct {
	hasher hash.HashFunc
	shards [shardCount]*shard
}

// NewTopkeys builds a Topkeys with the given per-shard capacity.
func NewTopkeys(perShardCapacity int) *Topkeys {
	if perShardCapacity <= 0 {
		perShardCapacity = defaultShardSize
	}
	t := &Topkeys{hasher: hash.NewCRC32()}
	for i := range t.shards {
		t.shards[i] = newShard(perShardCapacity)
	}
	return t
}

func (t *Topkeys) shardFor(key []byte) *shard {
	return t.shards[t.hasher.Hash(key)&(shardCount-1)]
}

func (t *Topkeys) touchGet(key []byte) { t.shardFor(key).touch(string(key), false) }
func (t *Topkeys) touchSet(key []byte) { t.shardFor(key).touch(string(key), true) }
