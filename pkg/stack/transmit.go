package stack

import (
	"fmt"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
)

const (
	// transmitQueueCapacity bounds concurrent in-flight segmented sends.
	transmitQueueCapacity = 5
	// maxRetransmits is how many retransmission rounds an entry survives
	// before it is abandoned.
	maxRetransmits = 4
)

// transmitEntry is one segmented send awaiting acknowledgement.
type transmitEntry struct {
	upper    *pdu.UpperAccessPDU
	seqZero  mesh.SeqZero
	segN     uint8
	acked    pdu.BlockAck
	attempts uint8
}

// transmitQueue holds segmented sends until the peer's segment
// acknowledgements retire them. Unsegmented sends are fire-and-forget and
// never enter the queue.
type transmitQueue struct {
	entries [transmitQueueCapacity]*transmitEntry
}

// add enqueues a segmented send keyed by its SeqZero.
func (q *transmitQueue) add(upper *pdu.UpperAccessPDU, seqZero mesh.SeqZero, segN uint8) error {
	for i, entry := range q.entries {
		if entry == nil {
			q.entries[i] = &transmitEntry{
				upper:   upper,
				seqZero: seqZero,
				segN:    segN,
				acked:   pdu.NewBlockAck(seqZero),
			}
			return nil
		}
	}
	return fmt.Errorf("transmit queue: %w", ErrInsufficientSpace)
}

// receiveAck merges a peer's segment acknowledgement into the matching
// entry and retires it once every segment is covered.
func (q *transmitQueue) receiveAck(ack pdu.BlockAck) {
	for i, entry := range q.entries {
		if entry == nil || entry.seqZero != ack.SeqZero() {
			continue
		}
		for _, segO := range ack.AckedSegments() {
			if segO <= entry.segN {
				// Ack cannot fail below MaxSegmentIndex.
				_ = entry.acked.Ack(segO)
			}
		}
		if entry.acked.IsFullyAcked(entry.segN) {
			q.entries[i] = nil
		}
		return
	}
}

// pending returns entries due for retransmission, dropping those past the
// attempt budget.
func (q *transmitQueue) pending() []*transmitEntry {
	var out []*transmitEntry
	for i, entry := range q.entries {
		if entry == nil {
			continue
		}
		entry.attempts++
		if entry.attempts > maxRetransmits {
			q.entries[i] = nil
			continue
		}
		out = append(out, entry)
	}
	return out
}

// len reports occupied slots.
func (q *transmitQueue) len() int {
	var n int
	for _, entry := range q.entries {
		if entry != nil {
			n++
		}
	}
	return n
}
