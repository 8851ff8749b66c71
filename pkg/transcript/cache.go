// Package transcript caches chat transcripts keyed by chat id.
//
// Every entry carries the chat sequence number it was loaded at. Reads only
// hit when that number matches the chat's current one, and a load that
// finishes after a newer one is discarded, so a slow reload can never
// overwrite a fresher transcript.
package transcript

import (
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"studybuddy/pkg/domain"
)

const defaultSize = 512

type entry struct {
	seq      int64
	messages []domain.Message
}

// Cache is a bounded LRU of transcripts.
type Cache struct {
	// mu makes the read-compare-write in Put and Append atomic; the LRU
	// itself is already safe for single operations.
	mu  sync.Mutex
	lru *lru.Cache[string, entry]
}

// New builds a cache holding at most size chats (512 when size <= 0).
func New(size int) *Cache {
	if size <= 0 {
		size = defaultSize
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &Cache{lru: c}
}

// Get returns the cached transcript when it was loaded at seq.
func (c *Cache) Get(chatID string, seq int64) ([]domain.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(chatID)
	if !ok || e.seq != seq {
		return nil, false
	}
	return slices.Clone(e.messages), true
}

// Put stores a transcript loaded at seq. It reports false when a newer
// transcript is already cached and the load was dropped.
func (c *Cache) Put(chatID string, seq int64, messages []domain.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.lru.Peek(chatID); ok && cur.seq > seq {
		return false
	}
	c.lru.Add(chatID, entry{seq: seq, messages: slices.Clone(messages)})
	return true
}

// Append extends a cached transcript with a freshly persisted message. If the
// cache is not exactly one message behind, the entry is dropped instead.
func (c *Cache) Append(chatID string, msg domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.lru.Peek(chatID)
	if !ok {
		return
	}
	if cur.seq != msg.Seq-1 {
		c.lru.Remove(chatID)
		return
	}
	next := make([]domain.Message, len(cur.messages), len(cur.messages)+1)
	copy(next, cur.messages)
	c.lru.Add(chatID, entry{seq: msg.Seq, messages: append(next, msg)})
}

// Invalidate drops a chat from the cache.
func (c *Cache) Invalidate(chatID string) {
	c.lru.Remove(chatID)
}

// Len reports the number of cached chats.
func (c *Cache) Len() int {
	return c.lru.Len()
}
