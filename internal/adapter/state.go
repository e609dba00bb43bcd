package adapter

import (
	"fmt"
	"sync"
)

// State is the lifecycle state of an Adapter.
//
// The legal transitions form one cycle
//
//	Disconnected -> Connecting -> Connected -> Disconnecting -> Disconnected
//
// plus the rollback edges Connecting -> Disconnected and
// Disconnecting -> Connected taken when a sequence fails.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Identity names an adapter in observer callbacks and logs.
type Identity struct {
	ID   int
	Name string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s(%d)", id.Name, id.ID)
}

// StateFunc observes state transitions. It is invoked synchronously on the
// goroutine performing the transition, in transition order, and must not
// block or call Connect/Disconnect on the same adapter.
type StateFunc func(id Identity, oldState, newState State)

// observers is a lock-protected list; notification iterates over a snapshot
// so callbacks may register further observers.
type observers struct {
	mu  sync.Mutex
	fns []StateFunc
}

func (o *observers) add(fn StateFunc) {
	o.mu.Lock()
	o.fns = append(o.fns, fn)
	o.mu.Unlock()
}

func (o *observers) notify(id Identity, oldState, newState State) {
	o.mu.Lock()
	snapshot := make([]StateFunc, len(o.fns))
	copy(snapshot, o.fns)
	o.mu.Unlock()

	for _, fn := range snapshot {
		fn(id, oldState, newState)
	}
}
