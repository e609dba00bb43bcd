package adapter

import "context"

// The collaborators below are driven by the adapter but owned elsewhere.
// Asynchronous operations return a single-shot result channel that receives
// exactly one value: nil on success.

// Device is the radio/power capability beneath a link. Implementations may
// share one device between several adapters by reference counting holds.
type Device interface {
	HoldAndTurnOn(ctx context.Context) <-chan error
	ReleaseAndTurnOff(ctx context.Context) <-chan error
	IsOn() bool
}

// P2PClient discovers and pairs with the target peer.
type P2PClient interface {
	DiscoverAndConnect(ctx context.Context) <-chan error
	Disconnect(ctx context.Context) <-chan error
	IsConnected() bool
}

// ClientSocket is the byte-stream endpoint over an established peer link.
// Send and Receive return the number of bytes transferred; a count shorter
// than the buffer is a failure even when err is nil.
//
// A stopped receiver may still be blocked in Receive when a new one starts,
// so implementations must serialize concurrent Receive calls: each call
// consumes one contiguous run of the stream.
type ClientSocket interface {
	Open() error
	Close() error
	Send(buf []byte) (int, error)
	Receive(buf []byte) (int, error)
	IsOpen() bool
}

// ConnectSignaler notifies the remote side, out of band, that a connection
// attempt is starting. The adapter does not wait for it.
type ConnectSignaler interface {
	RequestConnect(ctx context.Context, adapterID int) error
}

// await waits for a single-shot result or for ctx to end.
func await(ctx context.Context, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitOrUndo is await for a step that acquires something. If ctx ends
// before the result arrives, a late success is undone in the background.
func awaitOrUndo(ctx context.Context, result <-chan error, undo func()) error {
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		go func() {
			if err := <-result; err == nil {
				undo()
			}
		}()
		return ctx.Err()
	}
}
