// Package sequence provides the monotonic 24-bit sequence counter shared by
// every outbound nonce. Allocation is lock-free; exhaustion is an explicit
// error instead of a silent wrap, since a wrapped sequence would reuse
// nonces under the current IV index.
package sequence

import (
	"errors"
	"sync/atomic"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

// ErrExhausted indicates the 24-bit sequence space is spent. The node must
// not transmit again until the IV index advances.
var ErrExhausted = errors.New("sequence exhausted")

// ivUpdateWatermark is the point at which the node should start requesting
// an IV update, well before actual exhaustion.
const ivUpdateWatermark = 0xC00000

// Counter allocates strictly increasing sequence numbers. Safe for
// unsynchronized concurrent callers; access sends and relay traffic race on
// it freely.
type Counter struct {
	value atomic.Uint32
}

// New creates a counter starting at the persisted baseline.
func New(start mesh.Seq) *Counter {
	c := &Counter{}
	c.value.Store(uint32(start))
	return c
}

// Next returns the current value and increments, or ErrExhausted once the
// 24-bit space is spent. A failed call does not consume a value.
func (c *Counter) Next() (mesh.Seq, error) {
	for {
		cur := c.value.Load()
		if cur > 0xFFFFFF {
			return 0, ErrExhausted
		}
		if c.value.CompareAndSwap(cur, cur+1) {
			return mesh.Seq(cur), nil
		}
	}
}

// Current returns the next value that Next would hand out, without
// consuming it.
func (c *Counter) Current() mesh.Seq {
	return mesh.Seq(c.value.Load())
}

// NeedsIvUpdate reports whether allocation has crossed the watermark where
// the node should push for an IV index update.
func (c *Counter) NeedsIvUpdate() bool {
	return c.value.Load() >= ivUpdateWatermark
}
