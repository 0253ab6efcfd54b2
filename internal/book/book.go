// Package book provides the in-memory order book for a single symbol.
//
// The book is a derived structure: it always mirrors the set of orders whose
// durable status is PENDING or PARTIAL. Each side keeps price levels in a
// B-tree (O(log n) insert/remove, O(1) access to the best price) and a FIFO
// queue of entries within each level, so maker age is preserved. Entries at
// a price are ordered by sequence ascending; the sequence is assigned at
// durable insert time and makes startup rebuilds deterministic.
//
// The Book is RWMutex-protected so read services can take snapshots, but it
// has a single logical writer: the symbol processor that owns it.
package book

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"

	"handlex/pkg/types"
)

const btreeDegree = 32

// Entry is a single resting order in the book.
type Entry struct {
	OrderID   uuid.UUID
	TraderID  uuid.UUID
	Quantity  int64 // original order quantity
	Remaining int64
	Price     int64 // cents
	Sequence  int64
	CreatedAt time.Time
}

// level is one price level: a FIFO queue of entries at the same price.
type level struct {
	price   int64
	entries []*Entry
}

func (l *level) totalQty() int64 {
	var qty int64
	for _, e := range l.entries {
		qty += e.Remaining
	}
	return qty
}

// levelItem adapts a level to the btree.Item interface, ascending by price.
type levelItem struct {
	level *level
}

func (a *levelItem) Less(b btree.Item) bool {
	return a.level.price < b.(*levelItem).level.price
}

// side is one side of the book (bids or asks).
type side struct {
	tree *btree.BTree
	desc bool // bids iterate descending (highest first), asks ascending
}

func newSide(desc bool) *side {
	return &side{tree: btree.New(btreeDegree), desc: desc}
}

func (s *side) get(price int64) *level {
	item := s.tree.Get(&levelItem{level: &level{price: price}})
	if item == nil {
		return nil
	}
	return item.(*levelItem).level
}

func (s *side) getOrCreate(price int64) *level {
	if l := s.get(price); l != nil {
		return l
	}
	l := &level{price: price}
	s.tree.ReplaceOrInsert(&levelItem{level: l})
	return l
}

func (s *side) remove(price int64) {
	s.tree.Delete(&levelItem{level: &level{price: price}})
}

// best returns the best price level for this side: the maximum price for
// bids, the minimum for asks. Nil if the side is empty.
func (s *side) best() *level {
	var item btree.Item
	if s.desc {
		item = s.tree.Max()
	} else {
		item = s.tree.Min()
	}
	if item == nil {
		return nil
	}
	return item.(*levelItem).level
}

// iterate visits price levels in priority order (bids high→low, asks low→high).
func (s *side) iterate(fn func(*level) bool) {
	wrap := func(item btree.Item) bool {
		return fn(item.(*levelItem).level)
	}
	if s.desc {
		s.tree.Descend(wrap)
	} else {
		s.tree.Ascend(wrap)
	}
}

// Book is the in-memory order book for one symbol.
type Book struct {
	mu        sync.RWMutex
	symbol    string
	bids      *side
	asks      *side
	lastPrice *int64 // last trade price cache, cents
}

// New creates an empty book for a symbol.
func New(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids:   newSide(true),
		asks:   newSide(false),
	}
}

// Symbol returns the symbol this book is for.
func (b *Book) Symbol() string {
	return b.symbol
}

// Add appends an entry to the FIFO queue at its price level, creating the
// level if needed. Entries arrive in sequence order (the processor is the
// sole writer), so FIFO order within a level equals sequence order.
func (b *Book) Add(s types.Side, price int64, entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := entry
	l := b.sideFor(s).getOrCreate(price)
	l.entries = append(l.entries, &e)
}

// Remove deletes the entry with the given order ID from the price level.
// Returns false if no such entry rests at that price. Empty levels are
// deleted from the tree.
func (b *Book) Remove(s types.Side, price int64, orderID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bs := b.sideFor(s)
	l := bs.get(price)
	if l == nil {
		return false
	}

	for i, e := range l.entries {
		if e.OrderID != orderID {
			continue
		}
		l.entries = append(l.entries[:i], l.entries[i+1:]...)
		if len(l.entries) == 0 {
			bs.remove(price)
		}
		return true
	}
	return false
}

// Reduce decrements the remaining quantity of a resting entry by qty,
// removing the entry (and its level, if emptied) when it reaches zero.
// Returns the entry's new remaining quantity and whether it was found.
func (b *Book) Reduce(s types.Side, price int64, orderID uuid.UUID, qty int64) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bs := b.sideFor(s)
	l := bs.get(price)
	if l == nil {
		return 0, false
	}

	for i, e := range l.entries {
		if e.OrderID != orderID {
			continue
		}
		e.Remaining -= qty
		if e.Remaining > 0 {
			return e.Remaining, true
		}
		l.entries = append(l.entries[:i], l.entries[i+1:]...)
		if len(l.entries) == 0 {
			bs.remove(price)
		}
		return 0, true
	}
	return 0, false
}

// BestBid returns the highest bid price and a copy of the FIFO queue resting
// there. ok is false if there are no bids.
func (b *Book) BestBid() (price int64, entries []Entry, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.bids)
}

// BestAsk returns the lowest ask price and a copy of the FIFO queue resting
// there. ok is false if there are no asks.
func (b *Book) BestAsk() (price int64, entries []Entry, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.asks)
}

func bestOf(s *side) (int64, []Entry, bool) {
	l := s.best()
	if l == nil {
		return 0, nil, false
	}
	entries := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		entries[i] = *e
	}
	return l.price, entries, true
}

// LastPrice returns the cached last trade price, or nil if none yet.
func (b *Book) LastPrice() *int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.lastPrice == nil {
		return nil
	}
	p := *b.lastPrice
	return &p
}

// SetLastPrice updates the last trade price cache.
func (b *Book) SetLastPrice(price int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := price
	b.lastPrice = &p
}

// State returns the top-of-book summary used in market data events.
func (b *Book) State() types.BookState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var st types.BookState
	if l := b.bids.best(); l != nil {
		price, size := l.price, l.totalQty()
		st.BestBid, st.BidSize = &price, &size
	}
	if l := b.asks.best(); l != nil {
		price, size := l.price, l.totalQty()
		st.BestAsk, st.AskSize = &price, &size
	}
	return st
}

// Snapshot returns the aggregated depth: total resting quantity per price
// on each side, plus the last trade price.
func (b *Book) Snapshot() types.BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := types.BookSnapshot{
		Symbol:    b.symbol,
		Bids:      make(map[int64]int64),
		Asks:      make(map[int64]int64),
		Timestamp: time.Now().UTC(),
	}
	b.bids.iterate(func(l *level) bool {
		snap.Bids[l.price] = l.totalQty()
		return true
	})
	b.asks.iterate(func(l *level) bool {
		snap.Asks[l.price] = l.totalQty()
		return true
	})
	if b.lastPrice != nil {
		p := *b.lastPrice
		snap.LastPrice = &p
	}
	return snap
}

// Clear empties both sides. Used when a rolled-back transaction may have
// disturbed the book and it must be rebuilt from durable state.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = newSide(true)
	b.asks = newSide(false)
}

func (b *Book) sideFor(s types.Side) *side {
	if s == types.BUY {
		return b.bids
	}
	return b.asks
}
