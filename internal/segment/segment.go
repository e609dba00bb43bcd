// Package segment defines the fixed-size framed unit of transfer and the
// pool that recycles segments through the free, send, receive and
// failed-sending queues.
package segment

import (
	"encoding/binary"
)

// HeaderSize is the fixed header size: SeqNo(4) + FlagLen(4).
const HeaderSize = 8

// DefaultPayloadSize is the payload capacity used when none is configured.
const DefaultPayloadSize = 512

// Segment is a fixed-capacity buffer of HeaderSize + payload bytes.
// SeqNo and FlagLen are only meaningful after SetHeader or ParseHeader.
type Segment struct {
	SeqNo   uint32
	FlagLen uint32

	data []byte
	pool *Pool
}

func newSegment(p *Pool, payloadSize int) *Segment {
	return &Segment{
		data: make([]byte, HeaderSize+payloadSize),
		pool: p,
	}
}

// Bytes returns the full framed buffer (header followed by payload).
func (s *Segment) Bytes() []byte {
	return s.data
}

// Payload returns the payload region of the buffer.
func (s *Segment) Payload() []byte {
	return s.data[HeaderSize:]
}

// Len returns the framed size in bytes.
func (s *Segment) Len() int {
	return len(s.data)
}

// SetHeader writes the sequence number and flags/length into the buffer.
func (s *Segment) SetHeader(seqNo, flagLen uint32) {
	s.SeqNo = seqNo
	s.FlagLen = flagLen
	binary.BigEndian.PutUint32(s.data[0:4], seqNo)
	binary.BigEndian.PutUint32(s.data[4:8], flagLen)
}

// ParseHeader reads the sequence number and flags/length back from the buffer.
func (s *Segment) ParseHeader() {
	s.SeqNo = binary.BigEndian.Uint32(s.data[0:4])
	s.FlagLen = binary.BigEndian.Uint32(s.data[4:8])
}

func (s *Segment) reset() {
	s.SeqNo = 0
	s.FlagLen = 0
}
