// Package adapter drives one peer-to-peer link through its lifecycle.
// An Adapter brings up the Device, pairs the P2P client and opens the client
// socket on Connect, tears them down in reverse order on Disconnect, and runs
// the sender/receiver workers that move segments between the pool and the
// socket while connected.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/p2plink/internal/segment"
	"github.com/1ureka/p2plink/internal/util"
)

// signalTimeout bounds the out-of-band connect request.
const signalTimeout = 5 * time.Second

var (
	// ErrNotConnected is returned by socket passthroughs outside StateConnected.
	ErrNotConnected = errors.New("adapter: not connected")
	// ErrPayloadTooLarge is returned by Write for payloads that do not fit a segment.
	ErrPayloadTooLarge = errors.New("adapter: payload exceeds segment size")
	// ErrMissingCollaborator is returned by New when a required dependency is nil.
	ErrMissingCollaborator = errors.New("adapter: missing collaborator")

	errDeviceOff          = errors.New("device is not on")
	errPeerNotConnected   = errors.New("p2p client is not connected")
	errPeerStillConnected = errors.New("p2p client is still connected")
	errSocketNotOpen      = errors.New("socket is not open")
	errSocketStillOpen    = errors.New("socket is still open")
)

// Options holds the construction-time parameters of an Adapter.
type Options struct {
	ID       int
	Name     string
	Device   Device
	P2P      P2PClient
	Socket   ClientSocket
	Pool     *segment.Pool
	Signaler ConnectSignaler // optional
}

// Adapter owns one Device / P2PClient / ClientSocket triple and the segment
// pool served by its workers.
type Adapter struct {
	id  Identity
	ctx context.Context // lifetime of the workers

	device   Device
	p2p      P2PClient
	socket   ClientSocket
	signaler ConnectSignaler

	pool *segment.Pool
	seq  *segment.SeqGen

	notifyMu    sync.Mutex // held across a state change and its notification
	mu          sync.Mutex
	state       State
	holdsDevice bool

	workerMu sync.Mutex
	sender   *worker
	receiver *worker

	observers observers
}

// New creates an adapter in StateDisconnected. Workers started by the
// adapter stop when ctx is cancelled.
func New(ctx context.Context, opts Options) (*Adapter, error) {
	switch {
	case opts.Device == nil:
		return nil, fmt.Errorf("%w: device", ErrMissingCollaborator)
	case opts.P2P == nil:
		return nil, fmt.Errorf("%w: p2p client", ErrMissingCollaborator)
	case opts.Socket == nil:
		return nil, fmt.Errorf("%w: client socket", ErrMissingCollaborator)
	case opts.Pool == nil:
		return nil, fmt.Errorf("%w: segment pool", ErrMissingCollaborator)
	}

	return &Adapter{
		id:       Identity{ID: opts.ID, Name: opts.Name},
		ctx:      ctx,
		device:   opts.Device,
		p2p:      opts.P2P,
		socket:   opts.Socket,
		signaler: opts.Signaler,
		pool:     opts.Pool,
		seq:      segment.NewSeqGen(),
		state:    StateDisconnected,
	}, nil
}

// ---------------------------------------------------------------------------
// Attributes
// ---------------------------------------------------------------------------

func (a *Adapter) ID() int                    { return a.id.ID }
func (a *Adapter) Name() string               { return a.id.Name }
func (a *Adapter) Identity() Identity         { return a.id }
func (a *Adapter) Pool() *segment.Pool        { return a.pool }
func (a *Adapter) OnStateChange(fn StateFunc) { a.observers.add(fn) }

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// transition moves from one state to another atomically and notifies the
// observers. It reports false, without notifying, if the current state is
// not from.
func (a *Adapter) transition(from, to State) bool {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	if a.state != from {
		a.mu.Unlock()
		return false
	}
	a.state = to
	a.mu.Unlock()

	util.LogDebug("%s: %s -> %s", a.id.Name, from, to)
	a.observers.notify(a.id, from, to)
	return true
}

// setState moves to newState unconditionally and notifies the observers.
func (a *Adapter) setState(newState State) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()

	a.mu.Lock()
	oldState := a.state
	a.state = newState
	a.mu.Unlock()

	util.LogDebug("%s: %s -> %s", a.id.Name, oldState, newState)
	a.observers.notify(a.id, oldState, newState)
}

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

// Connect brings the link up: Device, then P2P client, then socket, then the
// workers. The result channel receives exactly one value. A request made
// outside StateDisconnected is rejected immediately.
//
// ctx bounds the waits on collaborator results; if it ends first the attempt
// fails and is rolled back.
func (a *Adapter) Connect(ctx context.Context, sendConnectSignal bool) <-chan bool {
	result := make(chan bool, 1)

	if !a.transition(StateDisconnected, StateConnecting) {
		util.LogError("%s: already connected or connection/disconnection is in progress (%s)",
			a.id.Name, a.State())
		result <- false
		return result
	}

	go a.connect(ctx, sendConnectSignal, result)
	return result
}

func (a *Adapter) connect(ctx context.Context, sendConnectSignal bool, result chan<- bool) {
	util.LogDebug("%s: connect sequence started", a.id.Name)

	fail := func(step string, err error) {
		util.LogError("%s: cannot connect - %s failed: %v", a.id.Name, step, err)
		a.setState(StateDisconnected)
		result <- false
	}

	if sendConnectSignal && a.signaler != nil {
		go a.signalConnect(ctx)
	}

	// 1. Device
	err := awaitOrUndo(ctx, a.device.HoldAndTurnOn(ctx), a.undoLateHold)
	if err != nil {
		fail("turn-on", err)
		return
	}
	a.mu.Lock()
	a.holdsDevice = true
	a.mu.Unlock()
	if !a.device.IsOn() {
		a.releaseDevice(ctx)
		fail("turn-on", errDeviceOff)
		return
	}
	util.LogDebug("%s: device on", a.id.Name)

	// 2. P2P client
	if !a.p2p.IsConnected() {
		err = awaitOrUndo(ctx, a.p2p.DiscoverAndConnect(ctx), a.undoLatePairing)
		if err == nil && !a.p2p.IsConnected() {
			a.disconnectPeer(ctx)
			err = errPeerNotConnected
		}
		if err != nil {
			a.releaseDevice(ctx)
			fail("discover-and-connect", err)
			return
		}
	}
	util.LogDebug("%s: p2p connected", a.id.Name)

	// 3. Socket
	if !a.socket.IsOpen() {
		err = a.socket.Open()
		if err == nil && !a.socket.IsOpen() {
			err = errSocketNotOpen
		}
		if err != nil {
			a.disconnectPeer(ctx)
			a.releaseDevice(ctx)
			fail("socket open", err)
			return
		}
	}
	util.LogDebug("%s: socket open", a.id.Name)

	a.setState(StateConnected)
	a.startWorkers()
	util.LogSuccess("%s: connected", a.id.Name)
	result <- true
}

// releaseDevice drops the adapter's hold on the device during rollback.
// Rollback runs to completion even if the attempt's context has ended.
func (a *Adapter) releaseDevice(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	a.mu.Lock()
	held := a.holdsDevice
	a.holdsDevice = false
	a.mu.Unlock()

	if !held {
		return
	}
	if err := await(ctx, a.device.ReleaseAndTurnOff(ctx)); err != nil {
		util.LogWarning("%s: device release failed during rollback: %v", a.id.Name, err)
	}
}

// signalConnect sends the out-of-band connect request without holding up
// the connect sequence.
func (a *Adapter) signalConnect(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signalTimeout)
	defer cancel()
	if err := a.signaler.RequestConnect(ctx, a.id.ID); err != nil {
		util.LogWarning("%s: connect request not delivered: %v", a.id.Name, err)
	}
}

// undoLateHold releases a device hold that landed after the attempt gave up.
func (a *Adapter) undoLateHold() {
	ctx := context.Background()
	if err := await(ctx, a.device.ReleaseAndTurnOff(ctx)); err != nil {
		util.LogWarning("%s: releasing late device hold failed: %v", a.id.Name, err)
	}
}

// undoLatePairing disconnects a pairing that landed after the attempt gave up.
func (a *Adapter) undoLatePairing() {
	ctx := context.Background()
	if err := await(ctx, a.p2p.Disconnect(ctx)); err != nil {
		util.LogWarning("%s: disconnecting late pairing failed: %v", a.id.Name, err)
	}
}

// disconnectPeer disconnects the P2P client during rollback.
func (a *Adapter) disconnectPeer(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := await(ctx, a.p2p.Disconnect(ctx)); err != nil {
		util.LogWarning("%s: p2p disconnect failed during rollback: %v", a.id.Name, err)
	}
}

// ---------------------------------------------------------------------------
// Disconnect
// ---------------------------------------------------------------------------

// Disconnect tears the link down: workers, socket, P2P client, Device. The
// result channel receives exactly one value. A request made outside
// StateConnected is rejected immediately.
//
// Any failure rolls the adapter back to StateConnected. The workers are
// restarted on rollback only while the socket is still open.
func (a *Adapter) Disconnect(ctx context.Context) <-chan bool {
	result := make(chan bool, 1)

	if !a.transition(StateConnected, StateDisconnecting) {
		util.LogError("%s: already disconnected or connection/disconnection is in progress (%s)",
			a.id.Name, a.State())
		result <- false
		return result
	}

	go a.disconnect(ctx, result)
	return result
}

func (a *Adapter) disconnect(ctx context.Context, result chan<- bool) {
	util.LogDebug("%s: disconnect sequence started", a.id.Name)

	fail := func(step string, err error) {
		util.LogError("%s: cannot disconnect - %s failed: %v", a.id.Name, step, err)
		a.setState(StateConnected)
		if a.socket.IsOpen() {
			a.startWorkers()
		}
		result <- false
	}

	// 1. Workers
	a.stopWorkers()

	// 2. Socket
	if a.socket.IsOpen() {
		err := a.socket.Close()
		if err == nil && a.socket.IsOpen() {
			err = errSocketStillOpen
		}
		if err != nil {
			fail("socket close", err)
			return
		}
	}

	// 3. P2P client
	if a.p2p.IsConnected() {
		err := await(ctx, a.p2p.Disconnect(ctx))
		if err == nil && a.p2p.IsConnected() {
			err = errPeerStillConnected
		}
		if err != nil {
			fail("p2p disconnect", err)
			return
		}
	}

	// 4. Device. A shared device may stay on for its other holders.
	a.mu.Lock()
	held := a.holdsDevice
	a.mu.Unlock()
	if held {
		if err := await(ctx, a.device.ReleaseAndTurnOff(ctx)); err != nil {
			fail("turn-off", err)
			return
		}
		a.mu.Lock()
		a.holdsDevice = false
		a.mu.Unlock()
	}

	a.setState(StateDisconnected)
	util.LogInfo("%s: disconnected", a.id.Name)
	result <- true
}

// ---------------------------------------------------------------------------
// Data
// ---------------------------------------------------------------------------

// Send writes buf to the socket directly, bypassing the segment queues.
func (a *Adapter) Send(buf []byte) (int, error) {
	if a.State() != StateConnected {
		return 0, ErrNotConnected
	}
	return a.socket.Send(buf)
}

// Receive reads from the socket directly, bypassing the segment queues.
func (a *Adapter) Receive(buf []byte) (int, error) {
	if a.State() != StateConnected {
		return 0, ErrNotConnected
	}
	return a.socket.Receive(buf)
}

// Write frames payload into a free segment with the next sequence number and
// queues it for the sender worker. It blocks while the pool is exhausted.
// Segments queued while disconnected are sent after the next Connect.
func (a *Adapter) Write(ctx context.Context, flagLen uint32, payload []byte) error {
	if len(payload) > a.pool.PayloadSize() {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), a.pool.PayloadSize())
	}

	s, err := a.pool.GetFree(ctx)
	if err != nil {
		return err
	}
	n := copy(s.Payload(), payload)
	clear(s.Payload()[n:])
	s.SetHeader(a.seq.Next(), flagLen)

	return a.pool.Enqueue(segment.QueueSend, s)
}

// Read returns the next received segment. The caller owns it and must hand
// it back with Pool().Free once done.
func (a *Adapter) Read(ctx context.Context) (*segment.Segment, error) {
	return a.pool.Dequeue(ctx, segment.QueueRecv)
}
