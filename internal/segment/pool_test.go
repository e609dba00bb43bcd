package segment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/p2plink/internal/segment"
)

// checkTotal asserts the segment-count invariant on a quiescent pool.
func checkTotal(t *testing.T, p *segment.Pool, wantInFlight int) {
	t.Helper()
	st := p.Stats()
	if sum := st.Free + st.Send + st.Recv + st.Failed + st.InFlight; sum != p.Total() {
		t.Fatalf("segment count drifted: %+v sums to %d, want %d", st, sum, p.Total())
	}
	if st.InFlight != wantInFlight {
		t.Fatalf("InFlight: got %d, want %d (%+v)", st.InFlight, wantInFlight, st)
	}
}

func TestNewPoolRejectsInvalidSizes(t *testing.T) {
	testCases := []struct {
		name        string
		count, size int
	}{
		{"zero count", 0, 16},
		{"negative count", -1, 16},
		{"zero payload", 4, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := segment.NewPool(tc.count, tc.size); err == nil {
				t.Fatal("Expected error, got nil")
			}
		})
	}
}

// TestPoolCountInvariant moves segments through every queue and checks the
// total after each step.
func TestPoolCountInvariant(t *testing.T) {
	p := newTestPool(t, 4, 16)
	ctx := context.Background()
	checkTotal(t, p, 0)

	a := take(t, p)
	b := take(t, p)
	checkTotal(t, p, 2)

	if err := p.Enqueue(segment.QueueSend, a); err != nil {
		t.Fatalf("Enqueue send: %v", err)
	}
	if err := p.Enqueue(segment.QueueRecv, b); err != nil {
		t.Fatalf("Enqueue recv: %v", err)
	}
	checkTotal(t, p, 0)

	a, err := p.Dequeue(ctx, segment.QueueSend)
	if err != nil {
		t.Fatalf("Dequeue send: %v", err)
	}
	p.MarkFailedSending(a)
	checkTotal(t, p, 0)

	if st := p.Stats(); st.Free != 2 || st.Recv != 1 || st.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	p.Free(p.TakeFailedSending())
	b, err = p.Dequeue(ctx, segment.QueueRecv)
	if err != nil {
		t.Fatalf("Dequeue recv: %v", err)
	}
	p.Free(b)
	checkTotal(t, p, 0)

	if st := p.Stats(); st.Free != p.Total() {
		t.Fatalf("expected all segments free, got %+v", st)
	}
}

func TestPoolQueuesAreFIFO(t *testing.T) {
	p := newTestPool(t, 3, 4)
	ctx := context.Background()

	for seq := uint32(1); seq <= 3; seq++ {
		s := take(t, p)
		s.SetHeader(seq, 0)
		if err := p.Enqueue(segment.QueueSend, s); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	for want := uint32(1); want <= 3; want++ {
		s, err := p.Dequeue(ctx, segment.QueueSend)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if s.SeqNo != want {
			t.Errorf("Dequeue order: got seq %d, want %d", s.SeqNo, want)
		}
		p.MarkFailedSending(s)
	}

	for want := uint32(1); want <= 3; want++ {
		s := p.TakeFailedSending()
		if s == nil {
			t.Fatalf("TakeFailedSending returned nil, want seq %d", want)
		}
		if s.SeqNo != want {
			t.Errorf("failed order: got seq %d, want %d", s.SeqNo, want)
		}
		p.Free(s)
	}
}

func TestTakeFailedSendingEmptyDoesNotBlock(t *testing.T) {
	p := newTestPool(t, 1, 4)

	done := make(chan *segment.Segment, 1)
	go func() { done <- p.TakeFailedSending() }()

	select {
	case s := <-done:
		if s != nil {
			t.Fatalf("expected nil from empty failed queue, got seq %d", s.SeqNo)
		}
	case <-time.After(time.Second):
		t.Fatal("TakeFailedSending blocked on an empty queue")
	}
}

// TestGetFreeBlocksUntilFree verifies the implicit back-pressure: a caller
// waits while the pool is exhausted and resumes once a segment is freed.
func TestGetFreeBlocksUntilFree(t *testing.T) {
	p := newTestPool(t, 1, 4)
	held := take(t, p)

	got := make(chan *segment.Segment, 1)
	go func() {
		s, err := p.GetFree(context.Background())
		if err == nil {
			got <- s
		}
	}()

	select {
	case <-got:
		t.Fatal("GetFree returned while the pool was exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	p.Free(held)

	select {
	case s := <-got:
		if s != held {
			t.Error("expected the freed segment to be handed out")
		}
	case <-time.After(time.Second):
		t.Fatal("GetFree did not resume after Free")
	}
}

func TestBlockingOpsHonourContext(t *testing.T) {
	p := newTestPool(t, 1, 4)
	_ = take(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.GetFree(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetFree: got %v, want deadline exceeded", err)
	}
	if _, err := p.Dequeue(ctx, segment.QueueRecv); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Dequeue: got %v, want deadline exceeded", err)
	}
}

func TestUnknownQueue(t *testing.T) {
	p := newTestPool(t, 1, 4)
	s := take(t, p)

	if err := p.Enqueue(segment.Queue(99), s); !errors.Is(err, segment.ErrQueueUnknown) {
		t.Errorf("Enqueue: got %v, want ErrQueueUnknown", err)
	}
	if _, err := p.Dequeue(context.Background(), segment.Queue(99)); !errors.Is(err, segment.ErrQueueUnknown) {
		t.Errorf("Dequeue: got %v, want ErrQueueUnknown", err)
	}
	checkTotal(t, p, 1)
}

func TestForeignSegmentPanics(t *testing.T) {
	a := newTestPool(t, 1, 4)
	b := newTestPool(t, 1, 4)
	s := take(t, a)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when freeing a foreign segment")
		}
	}()
	b.Free(s)
}

// TestPoolConcurrentUse runs producers and consumers through the send and
// recv queues at once; afterwards every segment must be free again.
func TestPoolConcurrentUse(t *testing.T) {
	const (
		segments = 8
		perProd  = 200
		prods    = 4
	)
	p := newTestPool(t, segments, 16)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup

	// Producers: free -> send.
	for i := 0; i < prods; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perProd; j++ {
				s, err := p.GetFree(ctx)
				if err != nil {
					t.Error(err)
					return
				}
				_ = p.Enqueue(segment.QueueSend, s)
			}
		}()
	}

	// Relay: send -> recv, with every other segment detouring via failed.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < prods*perProd; j++ {
			s := p.TakeFailedSending()
			if s == nil {
				var err error
				if s, err = p.Dequeue(ctx, segment.QueueSend); err != nil {
					t.Error(err)
					return
				}
				if j%2 == 0 {
					p.MarkFailedSending(s)
					j--
					continue
				}
			}
			_ = p.Enqueue(segment.QueueRecv, s)
		}
	}()

	// Consumer: recv -> free.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < prods*perProd; j++ {
			s, err := p.Dequeue(ctx, segment.QueueRecv)
			if err != nil {
				t.Error(err)
				return
			}
			p.Free(s)
		}
	}()

	wg.Wait()
	checkTotal(t, p, 0)
	if st := p.Stats(); st.Free != segments {
		t.Fatalf("expected all segments free, got %+v", st)
	}
}
