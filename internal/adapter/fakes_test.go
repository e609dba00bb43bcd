package adapter

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/1ureka/p2plink/internal/segment"
)

// Compile-time interface checks.
var (
	_ Device          = (*fakeDevice)(nil)
	_ P2PClient       = (*fakePeer)(nil)
	_ ClientSocket    = (*fakeSocket)(nil)
	_ ConnectSignaler = (*fakeSignaler)(nil)
)

var errInjected = errors.New("injected failure")

// reply returns an already-completed single-shot result.
func reply(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

// ---------------------------------------------------------------------------
// fakeDevice
// ---------------------------------------------------------------------------

type fakeDevice struct {
	mu       sync.Mutex
	on       bool
	holds    int
	releases int
	failOn   error
	failOff  error
}

func (d *fakeDevice) HoldAndTurnOn(ctx context.Context) <-chan error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn != nil {
		return reply(d.failOn)
	}
	d.holds++
	d.on = true
	return reply(nil)
}

func (d *fakeDevice) ReleaseAndTurnOff(ctx context.Context) <-chan error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOff != nil {
		return reply(d.failOff)
	}
	d.releases++
	d.holds--
	if d.holds <= 0 {
		d.on = false
	}
	return reply(nil)
}

func (d *fakeDevice) IsOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.on
}

func (d *fakeDevice) counts() (holds, releases int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holds, d.releases
}

// ---------------------------------------------------------------------------
// fakePeer
// ---------------------------------------------------------------------------

type fakePeer struct {
	mu          sync.Mutex
	connected   bool
	discovers   int
	disconnects int
	failConnect error
	failDisc    error
	gate        chan struct{} // when set, DiscoverAndConnect waits for it to close
	ignoreCtx   bool          // keep waiting on gate after ctx ends
}

func (p *fakePeer) DiscoverAndConnect(ctx context.Context) <-chan error {
	p.mu.Lock()
	p.discovers++
	gate, ignoreCtx := p.gate, p.ignoreCtx
	p.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		switch {
		case gate != nil && ignoreCtx:
			<-gate
		case gate != nil:
			select {
			case <-gate:
			case <-ctx.Done():
				result <- ctx.Err()
				return
			}
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.failConnect != nil {
			result <- p.failConnect
			return
		}
		p.connected = true
		result <- nil
	}()
	return result
}

func (p *fakePeer) Disconnect(ctx context.Context) <-chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects++
	if p.failDisc != nil {
		return reply(p.failDisc)
	}
	p.connected = false
	return reply(nil)
}

func (p *fakePeer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePeer) counts() (discovers, disconnects int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discovers, p.disconnects
}

// ---------------------------------------------------------------------------
// fakeSocket
// ---------------------------------------------------------------------------

// frame is one scripted Receive result.
type frame struct {
	data []byte
	err  error
}

// fakeSocket records the sequence number of every segment sent and serves
// Receive calls from the inbound channel until closed.
type fakeSocket struct {
	mu       sync.Mutex
	open     bool
	opens    int
	closed   chan struct{}
	openErr  error
	closeErr error
	failSeq  map[uint32]bool // fail the next send of these sequence numbers
	sent     []uint32

	inbound chan frame
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		closed:  make(chan struct{}),
		failSeq: make(map[uint32]bool),
		inbound: make(chan frame, 16),
	}
}

func (s *fakeSocket) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.openErr != nil {
		return s.openErr
	}
	s.open = true
	s.closed = make(chan struct{})
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeErr != nil {
		return s.closeErr
	}
	if s.open {
		s.open = false
		close(s.closed)
	}
	return nil
}

func (s *fakeSocket) Send(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return 0, io.ErrClosedPipe
	}
	seq := binary.BigEndian.Uint32(buf[0:4])
	if s.failSeq[seq] {
		delete(s.failSeq, seq)
		return 3, errInjected
	}
	s.sent = append(s.sent, seq)
	return len(buf), nil
}

func (s *fakeSocket) Receive(buf []byte) (int, error) {
	s.mu.Lock()
	open, closed := s.open, s.closed
	s.mu.Unlock()
	if !open {
		return 0, io.ErrClosedPipe
	}

	select {
	case f := <-s.inbound:
		n := copy(buf, f.data)
		return n, f.err
	case <-closed:
		return 0, io.EOF
	}
}

func (s *fakeSocket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *fakeSocket) sentSeqs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint32, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSocket) failNext(seq uint32) {
	s.mu.Lock()
	s.failSeq[seq] = true
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// fakeSignaler
// ---------------------------------------------------------------------------

type fakeSignaler struct {
	mu    sync.Mutex
	ids   []int
	block chan struct{} // when set, RequestConnect waits for it to close
}

func (f *fakeSignaler) RequestConnect(ctx context.Context, adapterID int) error {
	f.mu.Lock()
	f.ids = append(f.ids, adapterID)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeSignaler) requests() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.ids...)
}

// ---------------------------------------------------------------------------
// Test harness
// ---------------------------------------------------------------------------

const (
	testSegments    = 8
	testPayloadSize = 24
)

// transitionLog records every observed transition.
type transitionLog struct {
	mu  sync.Mutex
	all [][2]State
}

func (l *transitionLog) observe(_ Identity, oldState, newState State) {
	l.mu.Lock()
	l.all = append(l.all, [2]State{oldState, newState})
	l.mu.Unlock()
}

func (l *transitionLog) snapshot() [][2]State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][2]State, len(l.all))
	copy(out, l.all)
	return out
}

type harness struct {
	a      *Adapter
	dev    *fakeDevice
	peer   *fakePeer
	sock   *fakeSocket
	sig    *fakeSignaler
	log    *transitionLog
	cancel context.CancelFunc
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	pool, err := segment.NewPool(testSegments, testPayloadSize)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		dev:    &fakeDevice{},
		peer:   &fakePeer{},
		sock:   newFakeSocket(),
		sig:    &fakeSignaler{},
		log:    &transitionLog{},
		cancel: cancel,
	}

	h.a, err = New(ctx, Options{
		ID:       7,
		Name:     "test-adapter",
		Device:   h.dev,
		P2P:      h.peer,
		Socket:   h.sock,
		Pool:     pool,
		Signaler: h.sig,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.a.OnStateChange(h.log.observe)

	t.Cleanup(func() {
		cancel()
		h.sock.mu.Lock()
		h.sock.closeErr = nil
		h.sock.mu.Unlock()
		_ = h.sock.Close()
		h.waitWorkers(t)
	})
	return h
}

// result waits for a single-shot boolean result.
func result(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case ok := <-ch:
		return ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return false
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	if !result(t, h.a.Connect(context.Background(), false)) {
		t.Fatal("Connect reported failure")
	}
}

// waitWorkers blocks until both worker goroutines have exited.
func (h *harness) waitWorkers(t *testing.T) {
	t.Helper()
	h.a.workerMu.Lock()
	workers := []*worker{h.a.sender, h.a.receiver}
	h.a.workerMu.Unlock()

	for _, w := range workers {
		if w == nil {
			continue
		}
		select {
		case <-w.done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not exit")
		}
	}
}

// enqueueSeq queues a segment with the given sequence number for sending.
func (h *harness) enqueueSeq(t *testing.T, seq uint32) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := h.a.Pool().GetFree(ctx)
	if err != nil {
		t.Fatalf("GetFree failed: %v", err)
	}
	s.SetHeader(seq, 0)
	if err := h.a.Pool().Enqueue(segment.QueueSend, s); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
}

// checkCount asserts the segment-count invariant once the pipeline is idle.
func checkCount(t *testing.T, p *segment.Pool) {
	t.Helper()
	st := p.Stats()
	if st.InFlight != 0 || st.Free+st.Send+st.Recv+st.Failed != p.Total() {
		t.Fatalf("segment count invariant broken: %+v (total %d)", st, p.Total())
	}
}
