package stack

import (
	"time"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
)

// processInboundCleartext classifies the transport payload and lifts it to
// the upper transport, reassembling segmented messages. A segmented PDU
// addressed to us yields the current block ack for its window; a complete
// window additionally yields the reassembled upper PDU.
func (s *Stack) processInboundCleartext(clear *pdu.CleartextNetworkPDU) (*AckContext, *pdu.UpperAccessPDU, *pdu.UpperControlPDU, error) {
	lower, err := pdu.ParseLowerPDU(clear.CTL, clear.TransportPDU, pdu.LowerMetadataFromNetwork(clear))
	if err != nil {
		return nil, nil, nil, err
	}

	dst := clear.Dst
	if s.deviceInfo.IsNonLocalUnicast(dst) {
		// Unicast, but not to us. Relay handles it above this layer.
		return nil, nil, nil, nil
	}
	if !dst.IsUnicast() && !s.subscriptions.Matches(dst) {
		return nil, nil, nil, nil
	}

	switch inner := lower.(type) {
	case *pdu.UnsegmentedAccessPDU:
		upper, err := pdu.ParseUpperAccess(inner.UpperPDU(), mesh.SzMic32, pdu.UpperMetadataFromLower(lower))
		if err != nil {
			return nil, nil, nil, err
		}
		return nil, upper, nil, nil
	case *pdu.UnsegmentedControlPDU:
		control := pdu.NewUpperControl(inner.Opcode(), inner.Parameters(), pdu.UpperMetadataFromLower(lower))
		return nil, nil, control, nil
	case pdu.SegmentedPDU:
		ack, access, control, err := s.inbound.process(inner)
		if !dst.IsUnicast() {
			// Segment acknowledgements answer unicast windows only.
			ack = nil
		}
		return ack, access, control, err
	default:
		return nil, nil, nil, ErrInvalidPDU
	}
}

// maxReassemblyWindows bounds how many partial windows are tracked at once.
const maxReassemblyWindows = 8

type windowKey struct {
	src     mesh.UnicastAddress
	seqZero mesh.SeqZero
}

// reassemblyWindow is the in-flight state of one segmented message.
type reassemblyWindow struct {
	segN      uint8
	isControl bool
	szmic     mesh.SzMic
	opcode    pdu.ControlOpcode
	ack       pdu.BlockAck
	segments  [][]byte
	meta      pdu.UpperMetadata
	lastSeen  time.Time
}

// inboundSegmentation reassembles segmented lower PDUs, one window per
// (source, SeqZero).
type inboundSegmentation struct {
	windows map[windowKey]*reassemblyWindow
	timeout time.Duration
	now     func() time.Time
}

func newInboundSegmentation(timeout time.Duration) *inboundSegmentation {
	return &inboundSegmentation{
		windows: make(map[windowKey]*reassemblyWindow),
		timeout: timeout,
		now:     time.Now,
	}
}

// process ingests one segment. It always returns the window's current
// block ack; a completed window also returns the reassembled upper PDU
// and is removed.
func (i *inboundSegmentation) process(seg pdu.SegmentedPDU) (*AckContext, *pdu.UpperAccessPDU, *pdu.UpperControlPDU, error) {
	key := windowKey{src: seg.LowerMeta().Src, seqZero: seg.SeqZero()}
	window, ok := i.windows[key]
	if !ok {
		if len(i.windows) >= maxReassemblyWindows {
			return nil, nil, nil, ErrInsufficientSpace
		}
		window = newWindow(seg)
		i.windows[key] = window
	}

	if err := window.validate(seg); err != nil {
		return nil, nil, nil, err
	}

	seen, err := window.ack.IsAcked(seg.SegO())
	if err != nil {
		return nil, nil, nil, err
	}
	window.lastSeen = i.now()
	ackOut := &AckContext{Meta: window.meta}

	if !seen {
		if err := window.ingest(seg); err != nil {
			return nil, nil, nil, err
		}
	}
	ackOut.BlockAck = window.ack

	if !window.ack.IsFullyAcked(window.segN) {
		return ackOut, nil, nil, nil
	}

	delete(i.windows, key)
	access, control, err := window.reassemble()
	if err != nil {
		return ackOut, nil, nil, err
	}
	return ackOut, access, control, nil
}

// expire drops windows whose last segment is older than the timeout and
// returns how many were discarded.
func (i *inboundSegmentation) expire(now time.Time) int {
	var expired int
	for key, window := range i.windows {
		if now.Sub(window.lastSeen) > i.timeout {
			delete(i.windows, key)
			expired++
		}
	}
	return expired
}

func newWindow(seg pdu.SegmentedPDU) *reassemblyWindow {
	window := &reassemblyWindow{
		segN:     seg.SegN(),
		ack:      pdu.NewBlockAck(seg.SeqZero()),
		segments: make([][]byte, int(seg.SegN())+1),
		meta:     pdu.UpperMetadataFromLower(seg),
	}
	switch inner := seg.(type) {
	case *pdu.SegmentedAccessPDU:
		window.szmic = inner.SzMic()
	case *pdu.SegmentedControlPDU:
		window.isControl = true
		window.opcode = inner.Opcode()
	}
	return window
}

// validate rejects segments inconsistent with the window they joined.
func (w *reassemblyWindow) validate(seg pdu.SegmentedPDU) error {
	if seg.SegN() != w.segN || seg.SegO() > w.segN {
		return ErrInvalidPDU
	}
	switch inner := seg.(type) {
	case *pdu.SegmentedAccessPDU:
		if w.isControl || inner.SzMic() != w.szmic {
			return ErrInvalidPDU
		}
	case *pdu.SegmentedControlPDU:
		if !w.isControl || inner.Opcode() != w.opcode {
			return ErrInvalidPDU
		}
	default:
		return ErrInvalidPDU
	}

	segmentSize := pdu.AccessSegmentSize
	if w.isControl {
		segmentSize = pdu.ControlSegmentSize
	}
	// Every segment but the last must be full.
	if seg.SegO() < w.segN && len(seg.Segment()) != segmentSize {
		return ErrInvalidPDU
	}
	return nil
}

func (w *reassemblyWindow) ingest(seg pdu.SegmentedPDU) error {
	w.segments[seg.SegO()] = append([]byte{}, seg.Segment()...)
	return w.ack.Ack(seg.SegO())
}

func (w *reassemblyWindow) reassemble() (*pdu.UpperAccessPDU, *pdu.UpperControlPDU, error) {
	var data []byte
	for _, segment := range w.segments {
		data = append(data, segment...)
	}
	if w.isControl {
		return nil, pdu.NewUpperControl(w.opcode, data, w.meta), nil
	}
	access, err := pdu.ParseUpperAccess(data, w.szmic, w.meta)
	if err != nil {
		return nil, nil, err
	}
	return access, nil, nil
}
