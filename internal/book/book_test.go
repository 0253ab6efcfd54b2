package book

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"handlex/pkg/types"
)

func entry(qty, price, seq int64) Entry {
	return Entry{
		OrderID:   uuid.New(),
		TraderID:  uuid.New(),
		Quantity:  qty,
		Remaining: qty,
		Price:     price,
		Sequence:  seq,
		CreatedAt: time.Now().UTC(),
	}
}

func TestBestPrices(t *testing.T) {
	t.Parallel()

	b := New("@elonmusk")

	if _, _, ok := b.BestBid(); ok {
		t.Fatal("empty book reported a best bid")
	}
	if _, _, ok := b.BestAsk(); ok {
		t.Fatal("empty book reported a best ask")
	}

	b.Add(types.BUY, 95, entry(10, 95, 1))
	b.Add(types.BUY, 98, entry(5, 98, 2))
	b.Add(types.SELL, 105, entry(7, 105, 3))
	b.Add(types.SELL, 102, entry(3, 102, 4))

	price, entries, ok := b.BestBid()
	if !ok || price != 98 {
		t.Fatalf("best bid = %d, ok=%v, want 98", price, ok)
	}
	if len(entries) != 1 || entries[0].Remaining != 5 {
		t.Fatalf("best bid entries = %+v, want one entry of 5", entries)
	}

	price, entries, ok = b.BestAsk()
	if !ok || price != 102 {
		t.Fatalf("best ask = %d, ok=%v, want 102", price, ok)
	}
	if len(entries) != 1 || entries[0].Remaining != 3 {
		t.Fatalf("best ask entries = %+v, want one entry of 3", entries)
	}
}

func TestFIFOWithinLevel(t *testing.T) {
	t.Parallel()

	b := New("@sama")
	first := entry(5, 100, 1)
	second := entry(8, 100, 2)
	b.Add(types.SELL, 100, first)
	b.Add(types.SELL, 100, second)

	_, entries, ok := b.BestAsk()
	if !ok || len(entries) != 2 {
		t.Fatalf("want 2 entries at best ask, got %d", len(entries))
	}
	if entries[0].OrderID != first.OrderID || entries[1].OrderID != second.OrderID {
		t.Fatal("entries at a level are not in arrival order")
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	b := New("@sama")
	e := entry(5, 100, 1)
	b.Add(types.BUY, 100, e)

	if !b.Remove(types.BUY, 100, e.OrderID) {
		t.Fatal("remove of a resting entry returned false")
	}
	if b.Remove(types.BUY, 100, e.OrderID) {
		t.Fatal("second remove of the same entry returned true")
	}
	if _, _, ok := b.BestBid(); ok {
		t.Fatal("level survived removal of its only entry")
	}
}

func TestReduce(t *testing.T) {
	t.Parallel()

	b := New("@karpathy")
	e := entry(10, 100, 1)
	b.Add(types.SELL, 100, e)

	left, ok := b.Reduce(types.SELL, 100, e.OrderID, 4)
	if !ok || left != 6 {
		t.Fatalf("Reduce(4) = %d, %v, want 6, true", left, ok)
	}

	left, ok = b.Reduce(types.SELL, 100, e.OrderID, 6)
	if !ok || left != 0 {
		t.Fatalf("Reduce(6) = %d, %v, want 0, true", left, ok)
	}
	if _, _, ok := b.BestAsk(); ok {
		t.Fatal("entry survived being reduced to zero")
	}

	if _, ok := b.Reduce(types.SELL, 100, e.OrderID, 1); ok {
		t.Fatal("Reduce on a consumed entry returned true")
	}
}

func TestStateAndSnapshot(t *testing.T) {
	t.Parallel()

	b := New("@elonmusk")
	b.Add(types.BUY, 95, entry(10, 95, 1))
	b.Add(types.BUY, 95, entry(2, 95, 2))
	b.Add(types.SELL, 100, entry(6, 100, 3))
	b.SetLastPrice(100)

	st := b.State()
	if st.BestBid == nil || *st.BestBid != 95 || st.BidSize == nil || *st.BidSize != 12 {
		t.Fatalf("state bid = %+v, want 95 x 12", st)
	}
	if st.BestAsk == nil || *st.BestAsk != 100 || st.AskSize == nil || *st.AskSize != 6 {
		t.Fatalf("state ask = %+v, want 100 x 6", st)
	}

	snap := b.Snapshot()
	if snap.Bids[95] != 12 || snap.Asks[100] != 6 {
		t.Fatalf("snapshot = %+v, want bids[95]=12 asks[100]=6", snap)
	}
	if snap.LastPrice == nil || *snap.LastPrice != 100 {
		t.Fatalf("snapshot last price = %v, want 100", snap.LastPrice)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	b := New("@elonmusk")
	b.Add(types.BUY, 95, entry(10, 95, 1))
	b.Add(types.SELL, 100, entry(6, 100, 2))
	b.Clear()

	if _, _, ok := b.BestBid(); ok {
		t.Fatal("bids survived Clear")
	}
	if _, _, ok := b.BestAsk(); ok {
		t.Fatal("asks survived Clear")
	}
}
