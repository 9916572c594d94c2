package ingestion

import "container/list"

// BatchDedup is an LRU of recently seen batch ids. JetStream redelivers on
// missed ACKs, and a replayed keeper batch must not execute twice — batch
// semantics are at-most-once per id.
//
// Not thread-safe: accessed only from the dispatcher goroutine.
type BatchDedup struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func NewBatchDedup(capacity int) *BatchDedup {
	if capacity <= 0 {
		capacity = 4096
	}
	return &BatchDedup{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Seen reports whether the key was already marked, promoting it.
func (d *BatchDedup) Seen(key string) bool {
	if elem, ok := d.cache[key]; ok {
		d.order.MoveToFront(elem)
		return true
	}
	return false
}

// Mark records the key, evicting the oldest entry past capacity.
func (d *BatchDedup) Mark(key string) {
	if elem, ok := d.cache[key]; ok {
		d.order.MoveToFront(elem)
		return
	}
	elem := d.order.PushFront(key)
	d.cache[key] = elem

	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.cache, oldest.Value.(string))
		}
	}
}

// Size returns the number of tracked keys.
func (d *BatchDedup) Size() int {
	return d.order.Len()
}
