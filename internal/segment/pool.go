package segment

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Queue identifies one of the blocking FIFO queues of a Pool.
type Queue int

const (
	QueueSend Queue = iota // segments waiting to be transmitted
	QueueRecv              // segments received and waiting for the consumer
)

func (q Queue) String() string {
	switch q {
	case QueueSend:
		return "send"
	case QueueRecv:
		return "recv"
	default:
		return fmt.Sprintf("queue(%d)", int(q))
	}
}

// ErrQueueUnknown is returned for a Queue value the pool does not own.
var ErrQueueUnknown = errors.New("segment: unknown queue")

// Pool owns a fixed set of segments. Every segment is created in NewPool and
// only ever moves between the free, send, recv and failed-sending queues (or
// is held by exactly one party in between). Channel capacities equal the
// segment count, so a push can never block while ownership is respected.
//
// All methods are safe for concurrent use.
type Pool struct {
	total       int
	payloadSize int

	free chan *Segment
	send chan *Segment
	recv chan *Segment

	mu     sync.Mutex
	failed []*Segment
}

// Stats is a snapshot of the queue lengths of a Pool.
type Stats struct {
	Free     int
	Send     int
	Recv     int
	Failed   int
	InFlight int // held by a worker or the application
}

// NewPool allocates count segments of HeaderSize+payloadSize bytes, all free.
func NewPool(count, payloadSize int) (*Pool, error) {
	if count <= 0 {
		return nil, fmt.Errorf("segment: invalid segment count %d", count)
	}
	if payloadSize <= 0 {
		return nil, fmt.Errorf("segment: invalid payload size %d", payloadSize)
	}

	p := &Pool{
		total:       count,
		payloadSize: payloadSize,
		free:        make(chan *Segment, count),
		send:        make(chan *Segment, count),
		recv:        make(chan *Segment, count),
		failed:      make([]*Segment, 0, count),
	}
	for i := 0; i < count; i++ {
		p.free <- newSegment(p, payloadSize)
	}
	return p, nil
}

// Total returns the number of segments owned by the pool.
func (p *Pool) Total() int { return p.total }

// PayloadSize returns the payload capacity of every segment.
func (p *Pool) PayloadSize() int { return p.payloadSize }

// SegmentSize returns the framed size of every segment.
func (p *Pool) SegmentSize() int { return HeaderSize + p.payloadSize }

// GetFree pops a free segment, blocking until one is available or ctx ends.
func (p *Pool) GetFree(ctx context.Context) (*Segment, error) {
	select {
	case s := <-p.free:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Free returns a segment to the free queue.
func (p *Pool) Free(s *Segment) {
	p.own(s)
	s.reset()
	p.free <- s
}

// Enqueue pushes a segment onto the tail of q.
func (p *Pool) Enqueue(q Queue, s *Segment) error {
	ch, err := p.queue(q)
	if err != nil {
		return err
	}
	p.own(s)
	ch <- s
	return nil
}

// Dequeue pops the head of q, blocking until a segment arrives or ctx ends.
func (p *Pool) Dequeue(ctx context.Context, q Queue) (*Segment, error) {
	ch, err := p.queue(q)
	if err != nil {
		return nil, err
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MarkFailedSending keeps a segment whose transmission failed so that it is
// retried before any new work.
func (p *Pool) MarkFailedSending(s *Segment) {
	p.own(s)
	p.mu.Lock()
	p.failed = append(p.failed, s)
	p.mu.Unlock()
}

// TakeFailedSending pops the oldest failed segment, or returns nil when there
// is none. It never blocks.
func (p *Pool) TakeFailedSending() *Segment {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.failed) == 0 {
		return nil
	}
	s := p.failed[0]
	p.failed[0] = nil
	p.failed = p.failed[1:]
	return s
}

// Stats returns a snapshot of the queue lengths. The snapshot is not atomic
// across queues while other goroutines are moving segments.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	failed := len(p.failed)
	p.mu.Unlock()

	st := Stats{
		Free:   len(p.free),
		Send:   len(p.send),
		Recv:   len(p.recv),
		Failed: failed,
	}
	st.InFlight = p.total - st.Free - st.Send - st.Recv - st.Failed
	return st
}

func (p *Pool) queue(q Queue) (chan *Segment, error) {
	switch q {
	case QueueSend:
		return p.send, nil
	case QueueRecv:
		return p.recv, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrQueueUnknown, q)
	}
}

func (p *Pool) own(s *Segment) {
	if s == nil || s.pool != p {
		panic("segment: segment does not belong to this pool")
	}
}
