package adapter

import (
	"context"

	"github.com/1ureka/p2plink/internal/segment"
	"github.com/1ureka/p2plink/internal/util"
)

// worker is the handle of one sender or receiver goroutine. Cancelling its
// context is the stop signal; it is observed at the next queue wait or after
// the in-flight socket call returns.
type worker struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func startWorker(parent context.Context, loop func(ctx context.Context)) *worker {
	ctx, cancel := context.WithCancel(parent)
	w := &worker{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		defer cancel()
		loop(ctx)
	}()
	return w
}

// running reports whether the worker was started and has not been stopped
// or exited.
func (w *worker) running() bool {
	if w == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return w.ctx.Err() == nil
	}
}

func (w *worker) stop() {
	if w != nil {
		w.cancel()
	}
}

// startWorkers starts the sender and receiver unless they are already running.
func (a *Adapter) startWorkers() {
	a.workerMu.Lock()
	defer a.workerMu.Unlock()

	if !a.sender.running() {
		a.sender = startWorker(a.ctx, a.runSender)
	}
	if !a.receiver.running() {
		a.receiver = startWorker(a.ctx, a.runReceiver)
	}
}

// stopWorkers signals both workers to stop without waiting for them.
func (a *Adapter) stopWorkers() {
	a.workerMu.Lock()
	defer a.workerMu.Unlock()

	a.sender.stop()
	a.receiver.stop()
}

// onWorkerFailure starts a Disconnect unless the worker was stopped on purpose.
func (a *Adapter) onWorkerFailure(ctx context.Context) {
	if ctx.Err() != nil || a.State() != StateConnected {
		return
	}
	a.Disconnect(a.ctx)
}

// ---------------------------------------------------------------------------
// Sender
// ---------------------------------------------------------------------------

// runSender drains the failed-sending queue first, then the send queue,
// writing each segment's full framed buffer to the socket.
func (a *Adapter) runSender(ctx context.Context) {
	util.LogDebug("%s: sender started", a.id.Name)
	defer util.LogDebug("%s: sender ends", a.id.Name)

	for ctx.Err() == nil {
		s := a.pool.TakeFailedSending()
		if s == nil {
			var err error
			if s, err = a.pool.Dequeue(ctx, segment.QueueSend); err != nil {
				return
			}
			if ctx.Err() != nil {
				// Stopped while waiting: keep it at the head for the next connection.
				a.pool.MarkFailedSending(s)
				return
			}
		}

		n, err := a.socket.Send(s.Bytes())
		if err != nil || n < s.Len() {
			util.LogWarning("%s: sending failed (seq=%d, %d/%d bytes): %v",
				a.id.Name, s.SeqNo, n, s.Len(), err)
			a.pool.MarkFailedSending(s)
			util.Stats.AddFailed()
			a.onWorkerFailure(ctx)
			return
		}

		util.Stats.AddSent(n)
		a.pool.Free(s)
	}
}

// ---------------------------------------------------------------------------
// Receiver
// ---------------------------------------------------------------------------

// runReceiver fills free segments from the socket, parses their headers and
// hands them to the receive queue.
func (a *Adapter) runReceiver(ctx context.Context) {
	util.LogDebug("%s: receiver started", a.id.Name)
	defer util.LogDebug("%s: receiver ends", a.id.Name)

	for ctx.Err() == nil {
		s, err := a.pool.GetFree(ctx)
		if err != nil {
			return
		}

		n, err := a.socket.Receive(s.Bytes())
		if err != nil || n < s.Len() {
			if ctx.Err() == nil {
				util.LogWarning("%s: receiving failed (%d/%d bytes): %v", a.id.Name, n, s.Len(), err)
			}
			a.pool.Free(s)
			a.onWorkerFailure(ctx)
			return
		}

		s.ParseHeader()
		util.Stats.AddRecv(n)
		if err := a.pool.Enqueue(segment.QueueRecv, s); err != nil {
			a.pool.Free(s)
			return
		}
	}
}
