package bearer

import (
	"context"
	"io"
	"sync"
)

// Loopback is a channel-backed bearer endpoint. Frames transmitted on one
// endpoint of a pair arrive at the other, making a two-node network out
// of a single process.
type Loopback struct {
	out  chan<- []byte
	in   <-chan []byte
	done chan struct{}
	once *sync.Once
}

// NewLoopbackPair creates two connected endpoints with the given per
// direction frame buffer.
func NewLoopbackPair(buffer int) (*Loopback, *Loopback) {
	if buffer <= 0 {
		buffer = 8
	}
	aToB := make(chan []byte, buffer)
	bToA := make(chan []byte, buffer)
	done := make(chan struct{})
	once := &sync.Once{}
	a := &Loopback{out: aToB, in: bToA, done: done, once: once}
	b := &Loopback{out: bToA, in: aToB, done: done, once: once}
	return a, b
}

// Transmit delivers a copy of the frame to the peer endpoint. A full
// buffer fails immediately with ErrInsufficientResources rather than
// blocking the protocol loop.
func (l *Loopback) Transmit(ctx context.Context, frame []byte) error {
	if len(frame) > AdvMTU {
		return ErrInsufficientResources
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrTransmissionFailure
	default:
	}
	select {
	case l.out <- out:
		return nil
	default:
		return ErrInsufficientResources
	}
}

// Receive blocks until a frame arrives, the context ends, or the pair is
// closed. A closed pair reports io.EOF.
func (l *Loopback) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, io.EOF
	case frame := <-l.in:
		return frame, nil
	}
}

// Close shuts down both endpoints of the pair.
func (l *Loopback) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

var _ Bearer = (*Loopback)(nil)
