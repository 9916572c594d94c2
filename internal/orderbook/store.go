package orderbook

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Store owns the pending-order records. Lookup by id is O(1); the
// market-type, trigger-type and per-owner index sets back the paginated
// listing operations. The store is mutated only by the processor.
type Store struct {
	nextID  uint64
	orders  map[uint64]*Order
	market  map[uint64]struct{}
	trigger map[uint64]struct{}
	byOwner map[uuid.UUID]map[uint64]struct{}
}

func NewStore() *Store {
	return &Store{
		nextID:  1,
		orders:  make(map[uint64]*Order),
		market:  make(map[uint64]struct{}),
		trigger: make(map[uint64]struct{}),
		byOwner: make(map[uuid.UUID]map[uint64]struct{}),
	}
}

// Submit appends the order under a fresh monotonically increasing id and
// indexes it by type and owner. The assigned id is returned and written
// back to the order.
func (s *Store) Submit(o *Order) uint64 {
	id := s.nextID
	s.nextID++
	o.ID = id
	s.orders[id] = o

	if o.IsTrigger() {
		s.trigger[id] = struct{}{}
	} else {
		s.market[id] = struct{}{}
	}

	owned := s.byOwner[o.Owner]
	if owned == nil {
		owned = make(map[uint64]struct{})
		s.byOwner[o.Owner] = owned
	}
	owned[id] = struct{}{}

	return id
}

// Get returns the order, or false if absent.
func (s *Store) Get(id uint64) (*Order, bool) {
	o, ok := s.orders[id]
	return o, ok
}

// Remove deletes and de-indexes an order. Removing an absent id is a
// documented no-op; the return value reports whether anything was removed.
func (s *Store) Remove(id uint64) bool {
	o, ok := s.orders[id]
	if !ok {
		return false
	}
	delete(s.orders, id)
	delete(s.market, id)
	delete(s.trigger, id)
	if owned := s.byOwner[o.Owner]; owned != nil {
		delete(owned, id)
		if len(owned) == 0 {
			delete(s.byOwner, o.Owner)
		}
	}
	return true
}

// LinkCancel sets one order's linked-cancel field for one-cancels-other
// semantics. Both orders must exist.
func (s *Store) LinkCancel(id, otherID uint64) error {
	o, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("orderbook: order %d not found", id)
	}
	if _, ok := s.orders[otherID]; !ok {
		return fmt.Errorf("orderbook: linked order %d not found", otherID)
	}
	o.CancelOrderID = otherID
	return nil
}

// Len returns the number of pending orders.
func (s *Store) Len() int {
	return len(s.orders)
}

// MarketOrders lists market-type order ids, ascending, paginated by
// offset/limit.
func (s *Store) MarketOrders(offset, limit int) []uint64 {
	return paginate(s.market, offset, limit)
}

// TriggerOrders lists limit/stop order ids, ascending, paginated.
func (s *Store) TriggerOrders(offset, limit int) []uint64 {
	return paginate(s.trigger, offset, limit)
}

// OwnerOrders lists one owner's order ids, ascending, paginated.
func (s *Store) OwnerOrders(owner uuid.UUID, offset, limit int) []uint64 {
	owned := s.byOwner[owner]
	if owned == nil {
		return nil
	}
	return paginate(owned, offset, limit)
}

func paginate(index map[uint64]struct{}, offset, limit int) []uint64 {
	ids := make([]uint64, 0, len(index))
	for id := range index {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return ids[offset:end]
}
