package p2p

import (
	"io"
	"sync"
)

// Socket is the client socket over a Link. Each Send is written as one
// message; each Receive fills its buffer completely or reports a short read.
type Socket struct {
	link Link

	mu     sync.Mutex
	stream Stream
	open   bool

	readMu sync.Mutex // a stale reader must not interleave with a new one
}

// NewSocket returns a closed socket over link.
func NewSocket(link Link) *Socket {
	return &Socket{link: link}
}

// Open binds the socket to the link's current stream.
func (s *Socket) Open() error {
	st := s.link.Stream()
	if st == nil || !st.Alive() {
		return ErrNoLink
	}

	s.mu.Lock()
	s.stream = st
	s.open = true
	s.mu.Unlock()
	return nil
}

// Close unbinds the socket. The stream itself belongs to the link; a Receive
// blocked on it returns once the link is torn down.
func (s *Socket) Close() error {
	s.mu.Lock()
	s.open = false
	s.stream = nil
	s.mu.Unlock()
	return nil
}

// IsOpen reports whether the socket is open over a live stream.
func (s *Socket) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open && s.stream.Alive()
}

func (s *Socket) current() (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, io.ErrClosedPipe
	}
	return s.stream, nil
}

// Send writes buf as one message.
func (s *Socket) Send(buf []byte) (int, error) {
	st, err := s.current()
	if err != nil {
		return 0, err
	}
	return st.Write(buf)
}

// Receive reads exactly len(buf) bytes unless the stream fails first.
func (s *Socket) Receive(buf []byte) (int, error) {
	st, err := s.current()
	if err != nil {
		return 0, err
	}

	s.readMu.Lock()
	defer s.readMu.Unlock()
	return io.ReadFull(st, buf)
}
