package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"handlex/pkg/types"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestRouterRejectsUnknownSymbol(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	router := NewRouter(fs, []string{"X"}, 16, testLogger())

	_, err := router.SubmitOrder(context.Background(), types.OrderRequest{Symbol: "Z"})
	if !errors.Is(err, types.ErrUnknownSymbol) {
		t.Fatalf("submit on unknown symbol = %v, want ErrUnknownSymbol", err)
	}
	if _, err := router.Book("Z"); !errors.Is(err, types.ErrUnknownSymbol) {
		t.Fatalf("book of unknown symbol = %v, want ErrUnknownSymbol", err)
	}
}

func TestRouterStartFailsWhenRebuildFails(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fs.unfilledErr = errors.New("connection refused")

	router := NewRouter(fs, []string{"X"}, 16, testLogger())
	var wg sync.WaitGroup
	if err := router.Start(context.Background(), &wg); err == nil {
		t.Fatal("start succeeded with an unreachable store, want error")
	}

	// No processors were launched.
	wg.Wait()
}

func TestExpirerCancelsLapsedOrders(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	b := fs.addTrader(false)
	fs.grantShares(b, "X", 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := NewRouter(fs, []string{"X"}, 16, testLogger())
	var wg sync.WaitGroup
	if err := router.Start(ctx, &wg); err != nil {
		t.Fatalf("start: %v", err)
	}

	// TIF of zero seconds: lapsed the moment it rests.
	req := limitReq(b, "X", types.SELL, 5, 50)
	req.TIFSeconds = 0
	order, err := router.SubmitOrder(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	bk, err := router.Book("X")
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	waitFor(t, func() bool {
		_, _, ok := bk.BestAsk()
		return ok
	})

	expirer := NewExpirer(fs, router, time.Millisecond, 100, testLogger())
	expirer.sweep(ctx)

	o := fs.order(t, order.OrderID)
	if o.Status != types.StatusExpired {
		t.Fatalf("order status = %s, want EXPIRED", o.Status)
	}
	if o.CancelReason == nil || *o.CancelReason != types.CancelExpired {
		t.Fatalf("cancel reason = %v, want EXPIRED", o.CancelReason)
	}
	if _, _, ok := bk.BestAsk(); ok {
		t.Fatal("expired order still rests in the book")
	}

	// Second sweep is a no-op: the order is terminal now.
	expirer.sweep(ctx)
	if o := fs.order(t, order.OrderID); o.Status != types.StatusExpired {
		t.Fatalf("order status changed by second sweep: %s", o.Status)
	}

	cancel()
	wg.Wait()
}
