package packfile

import (
	"container/list"

	"github.com/distr1/dvcs/internal/otype"
)

// baseEntry is a resolved object cached by its pack offset, used to
// avoid repeatedly inflating a base that many deltas in a chain (or
// many sibling deltas) share.
type baseEntry struct {
	typ  otype.Type
	data []byte
}

// baseLRU is the "small LRU keyed by (pack, offset)" spec's §4.3 asks
// for: bounded size, evicting the least-recently-used entry. Scoped
// per-Pack, so the key is just the offset.
type baseLRU struct {
	capacity int
	ll       *list.List
	items    map[int64]*list.Element
}

type baseLRUItem struct {
	offset int64
	entry  baseEntry
}

func newBaseLRU(capacity int) *baseLRU {
	return &baseLRU{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[int64]*list.Element, capacity),
	}
}

func (c *baseLRU) get(offset int64) (baseEntry, bool) {
	e, ok := c.items[offset]
	if !ok {
		return baseEntry{}, false
	}
	c.ll.MoveToFront(e)
	return e.Value.(*baseLRUItem).entry, true
}

func (c *baseLRU) put(offset int64, typ otype.Type, data []byte) {
	if e, ok := c.items[offset]; ok {
		e.Value.(*baseLRUItem).entry = baseEntry{typ: typ, data: data}
		c.ll.MoveToFront(e)
		return
	}
	e := c.ll.PushFront(&baseLRUItem{offset: offset, entry: baseEntry{typ: typ, data: data}})
	c.items[offset] = e
	if c.ll.Len() > c.capacity {
		back := c.ll.Back()
		if back != nil {
			c.ll.Remove(back)
			delete(c.items, back.Value.(*baseLRUItem).offset)
		}
	}
}
