package outbox

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeBatchStore struct {
	calls atomic.Int64
	// counts returned in order; after the script runs out, zero (empty).
	script []int
}

func (s *fakeBatchStore) PublishBatch(ctx context.Context, limit int, publish func(ctx context.Context, channel string, payload []byte) error) (int, error) {
	n := int(s.calls.Add(1))
	if n <= len(s.script) {
		return s.script[n-1], nil
	}
	return 0, nil
}

func TestPublisherDrainsAndBacksOff(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := &fakeBatchStore{script: []int{10, 10, 3}}
	p := New(st, nil, 10, 1, logger)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	p.Start(ctx, &wg)

	// Two full batches and a partial drain with no meaningful sleep, then
	// the worker settles into the empty backoff.
	deadline := time.Now().Add(time.Second)
	for st.calls.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if st.calls.Load() < 4 {
		t.Fatalf("publisher made %d claims, want at least 4", st.calls.Load())
	}

	cancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not stop on context cancel")
	}
}

func TestPublisherMultipleWorkers(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := &fakeBatchStore{}
	p := New(st, nil, 10, 3, logger)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	p.Start(ctx, &wg)

	deadline := time.Now().Add(time.Second)
	for st.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	wg.Wait()

	if st.calls.Load() < 3 {
		t.Fatalf("3 workers made %d claims, want at least 3", st.calls.Load())
	}
}
