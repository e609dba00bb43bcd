package transport

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
)

const (
	highWaterMark  = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // resume sending when bufferedAmount drops below this
	sendBufferSize = 64         // outgoing message channel capacity
)

// ErrClosed is returned by writes on a transport that has shut down.
var ErrClosed = errors.New("transport: closed")

type message struct {
	data []byte
	done chan error
}

// sender is a goroutine-based message writer that serializes all writes to a
// single DataChannel, adding open-gate and backpressure control.
type sender struct {
	inbox       chan message
	drainSignal chan struct{}
}

// newSender creates a sender, wires the backpressure callbacks on dc, and
// starts the background loop. The loop exits when ctx is cancelled.
func newSender(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) *sender {
	s := &sender{
		inbox:       make(chan message, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal)

	return s
}

// loop is the single-writer goroutine. It waits for the DataChannel to open,
// then drains the inbox with backpressure awareness.
func (s *sender) loop(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) {
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case msg := <-s.inbox:
			if dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					msg.done <- ErrClosed
					return
				}
			}
			msg.done <- dc.Send(msg.data)
		case <-ctx.Done():
			return
		}
	}
}

// send hands data to the writer goroutine and waits until the DataChannel
// has accepted it.
func (s *sender) send(ctx context.Context, data []byte) error {
	msg := message{data: data, done: make(chan error, 1)}
	select {
	case s.inbox <- msg:
	case <-ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-msg.done:
		return err
	case <-ctx.Done():
		return ErrClosed
	}
}
