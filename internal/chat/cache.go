package chat

import (
	"sync"

	"go.uber.org/zap"
)

// Patch lists the fields to merge into a cached message; nil fields are left alone.
type Patch struct {
	Content   *string
	IsEdited  *bool
	IsDeleted *bool
	IsRead    *bool
}

// Cache holds the messages of the open conversation in arrival order.
// Messages are never removed individually; deletes are tombstones.
type Cache struct {
	mu     sync.RWMutex
	msgs   []Message
	index  map[int64]int
	logger *zap.Logger
}

// NewCache creates an empty cache.
func NewCache(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{index: make(map[int64]int), logger: logger}
}

// Load replaces the whole cache with msgs. Messages without an id are kept
// but cannot be patched or tombstoned.
func (c *Cache) Load(msgs []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = make([]Message, len(msgs))
	copy(c.msgs, msgs)
	c.index = make(map[int64]int, len(msgs))
	for i, m := range c.msgs {
		if m.ID == 0 {
			continue
		}
		if _, dup := c.index[m.ID]; !dup {
			c.index[m.ID] = i
		}
	}
}

// Append adds m at the end. It is rejected when m has no id or the id is
// already cached.
func (c *Cache) Append(m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.ID == 0 {
		c.logger.Warn("dropping message without id")
		return false
	}
	if _, exists := c.index[m.ID]; exists {
		c.logger.Warn("dropping duplicate message", zap.Int64("message_id", m.ID))
		return false
	}
	c.index[m.ID] = len(c.msgs)
	c.msgs = append(c.msgs, m)
	return true
}

// Patch merges p into the message with the given id. Reports whether it was found.
func (c *Cache) Patch(id int64, p Patch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return false
	}
	m := &c.msgs[i]
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.IsEdited != nil {
		m.IsEdited = *p.IsEdited
	}
	if p.IsDeleted != nil {
		m.IsDeleted = *p.IsDeleted
	}
	if p.IsRead != nil {
		m.IsRead = *p.IsRead
	}
	return true
}

// Tombstone blanks the content of id and flags it deleted, keeping its position.
func (c *Cache) Tombstone(id int64) bool {
	empty, deleted := "", true
	return c.Patch(id, Patch{Content: &empty, IsDeleted: &deleted})
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.Load(nil)
}

// Messages returns a copy of the cached messages in arrival order.
func (c *Cache) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Get returns the cached message with the given id.
func (c *Cache) Get(id int64) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return Message{}, false
	}
	return c.msgs[i], true
}

// Len returns the number of cached messages.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.msgs)
}
