package stack

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/btmesh-protocol/btmesh-go/pkg/cache"
	"github.com/btmesh-protocol/btmesh-go/pkg/keys"
	"github.com/btmesh-protocol/btmesh-go/pkg/log"
	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
	"github.com/btmesh-protocol/btmesh-go/pkg/sequence"
)

var (
	// ErrNotDecryptable indicates no stored key authenticated the PDU.
	// Callers drop the PDU without aborting the receive loop.
	ErrNotDecryptable = errors.New("not decryptable")
	// ErrInvalidPDU indicates a PDU inconsistent with the state it met,
	// such as a segment that contradicts its reassembly window.
	ErrInvalidPDU = errors.New("invalid pdu")
	// ErrInsufficientSpace indicates reassembly or transmit capacity is
	// exhausted.
	ErrInsufficientSpace = errors.New("insufficient space")
)

// defaultReassemblyTimeout bounds how long a partial reassembly window is
// kept before its segments are discarded.
const defaultReassemblyTimeout = 10 * time.Second

// Subscription binds a local element to a group or virtual destination.
// Label carries the full UUID for virtual addresses.
type Subscription struct {
	ElementIndex uint8
	Address      mesh.Address
	Label        *uuid.UUID
}

// Subscriptions is the node's subscription list.
type Subscriptions []Subscription

// Matches reports whether any element subscribes to the destination.
func (s Subscriptions) Matches(dst mesh.Address) bool {
	for _, sub := range s {
		if sub.Address == dst {
			return true
		}
	}
	return false
}

// LabelsFor returns the candidate label UUIDs subscribed at a virtual
// destination, for trial decryption.
func (s Subscriptions) LabelsFor(dst mesh.Address) []uuid.UUID {
	var labels []uuid.UUID
	for _, sub := range s {
		if sub.Address == dst && sub.Label != nil {
			labels = append(labels, *sub.Label)
		}
	}
	return labels
}

// Config assembles a provisioned stack.
type Config struct {
	DeviceInfo    mesh.DeviceInfo
	Secrets       *keys.Secrets
	IvIndex       mesh.IvIndex
	IvUpdate      mesh.IvUpdateFlag
	Subscriptions Subscriptions
	// ReassemblyTimeout bounds partial reassembly windows; zero selects
	// the default.
	ReassemblyTimeout time.Duration
	// Logger receives protocol events; nil disables logging.
	Logger log.Logger
}

// Stack is the protocol pipeline of a provisioned node. Not safe for
// concurrent use: a single goroutine owns inbound processing.
type Stack struct {
	deviceInfo    mesh.DeviceInfo
	secrets       *keys.Secrets
	ivIndex       mesh.IvIndex
	ivUpdate      mesh.IvUpdateFlag
	subscriptions Subscriptions
	replay        *cache.ReplayProtection
	messages      *cache.MessageCache
	inbound       *inboundSegmentation
	queue         *transmitQueue
	logger        log.Logger
}

// New assembles a stack from a provisioned configuration.
func New(cfg Config) (*Stack, error) {
	replay, err := cache.NewReplayProtection(0)
	if err != nil {
		return nil, err
	}
	messages, err := cache.NewMessageCache(0)
	if err != nil {
		return nil, err
	}
	timeout := cfg.ReassemblyTimeout
	if timeout <= 0 {
		timeout = defaultReassemblyTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Stack{
		deviceInfo:    cfg.DeviceInfo,
		secrets:       cfg.Secrets,
		ivIndex:       cfg.IvIndex,
		ivUpdate:      cfg.IvUpdate,
		subscriptions: cfg.Subscriptions,
		replay:        replay,
		messages:      messages,
		inbound:       newInboundSegmentation(timeout),
		queue:         &transmitQueue{},
		logger:        logger,
	}, nil
}

// DeviceInfo returns the provisioned identity the stack serves.
func (s *Stack) DeviceInfo() mesh.DeviceInfo { return s.deviceInfo }

// IvIndexState returns the current IV index and update flag.
func (s *Stack) IvIndexState() (mesh.IvIndex, mesh.IvUpdateFlag) {
	return s.ivIndex, s.ivUpdate
}

// SetIvIndexState installs a new IV epoch, typically after a completed
// IV-index update procedure.
func (s *Stack) SetIvIndexState(ivIndex mesh.IvIndex, flag mesh.IvUpdateFlag) {
	s.ivIndex = ivIndex
	s.ivUpdate = flag
}

// acceptedIvIndex resolves the IVI bit of an inbound PDU against the
// current epoch.
func (s *Stack) acceptedIvIndex(ivi mesh.IVI) mesh.IvIndex {
	return s.ivIndex.Accepted(ivi)
}

// transmissionIvIndex is the epoch outbound PDUs are protected under.
func (s *Stack) transmissionIvIndex() mesh.IvIndex {
	return s.ivIndex.Transmission(s.ivUpdate)
}

// AckContext is a segment acknowledgement owed to a sender, together with
// the metadata identifying the window it answers.
type AckContext struct {
	BlockAck pdu.BlockAck
	Meta     pdu.UpperMetadata
}

// ReceiveResult is the outcome of processing one inbound network PDU.
// Cleartext is always set and feeds the relay decision; the other fields
// are set as the PDU progresses up the layers.
type ReceiveResult struct {
	Cleartext *pdu.CleartextNetworkPDU
	Ack       *AckContext
	Access    *pdu.AccessMessage
	Control   *pdu.UpperControlPDU
}

// ProcessInboundNetworkPDU drives one inbound PDU through the pipeline.
// A nil result means the PDU was dropped: undecryptable, a duplicate, or
// not for us. Per-packet failures never abort the receive loop.
func (s *Stack) ProcessInboundNetworkPDU(networkPDU *pdu.NetworkPDU) (*ReceiveResult, error) {
	clear, err := s.DecryptNetworkPDU(networkPDU)
	if err != nil {
		// No key matched; silence, not an error.
		return nil, nil
	}

	// One dedup decision governs both relay and local delivery.
	if !s.messages.Check(clear) {
		return nil, nil
	}

	result := &ReceiveResult{Cleartext: clear}

	if clear.Meta.ReplayProtected {
		// Stale (iv, seq) for this source: relay eligibility stands,
		// local processing does not.
		return result, nil
	}

	ack, access, control, err := s.processInboundCleartext(clear)
	if err != nil {
		s.logError(log.LayerLower, err, clear)
		return result, nil
	}
	result.Ack = ack

	if control != nil {
		if control.Opcode() == pdu.SegmentAcknowledgement {
			s.processSegmentAck(control)
		} else {
			result.Control = control
		}
	}

	if access != nil {
		message, err := s.DecryptUpperAccess(access)
		if err != nil {
			s.logError(log.LayerUpper, err, clear)
			return result, nil
		}
		result.Access = message
		s.logger.Log(log.Event{
			Timestamp: time.Now(),
			Direction: log.DirectionIn,
			Layer:     log.LayerAccess,
			Category:  log.CategoryMessage,
			Src:       uint16(clear.Src),
			Dst:       uint16(clear.Dst),
			Seq:       uint32(clear.Seq),
		})
	}

	return result, nil
}

// ProcessOutboundMessage encrypts and frames an access message into
// network PDUs ready for the bearer. Segmented sends are queued for
// block-ack-driven retransmission.
func (s *Stack) ProcessOutboundMessage(counter *sequence.Counter, message *pdu.AccessMessage) ([]*pdu.NetworkPDU, error) {
	upper, err := s.EncryptAccess(counter, message)
	if err != nil {
		return nil, err
	}
	clears, err := s.segmentUpperAccess(counter.Next, upper, false, nil)
	if err != nil {
		return nil, err
	}
	if len(clears) > 1 {
		seqZero := upper.UpperMeta().Seq.SeqZero()
		if err := s.queue.add(upper, seqZero, uint8(len(clears)-1)); err != nil {
			s.logError(log.LayerLower, err, nil)
		}
	}
	return s.encryptAll(clears)
}

// ProcessOutboundBlockAck frames a segment acknowledgement answering an
// inbound reassembly window.
func (s *Stack) ProcessOutboundBlockAck(counter *sequence.Counter, ack AckContext, src mesh.UnicastAddress) (*pdu.NetworkPDU, error) {
	seq, err := counter.Next()
	if err != nil {
		return nil, err
	}
	parameters := ack.BlockAck.Emit()

	meta := pdu.LowerMetadata{
		NetworkKeyHandle:  ack.Meta.NetworkKeyHandle,
		IvIndex:           s.transmissionIvIndex(),
		LocalElementIndex: pdu.NoLocalElement,
		Src:               src,
		Dst:               ack.Meta.Src.Address(),
		TTL:               ack.Meta.TTL,
		Seq:               seq,
	}
	control, err := pdu.NewUnsegmentedControl(pdu.SegmentAcknowledgement, parameters[:], meta)
	if err != nil {
		return nil, err
	}
	clear, err := s.cleartextFromLower(control, mesh.CtlControl)
	if err != nil {
		return nil, err
	}
	return s.EncryptNetworkPDU(clear)
}

// Retransmit re-frames every queued segmented send, skipping segments the
// peer has already acknowledged. Entries exceeding the attempt budget are
// dropped.
func (s *Stack) Retransmit(counter *sequence.Counter) ([]*pdu.NetworkPDU, error) {
	var out []*pdu.NetworkPDU
	for _, entry := range s.queue.pending() {
		clears, err := s.segmentUpperAccess(counter.Next, entry.upper, true, &entry.acked)
		if err != nil {
			return out, err
		}
		pdus, err := s.encryptAll(clears)
		if err != nil {
			return out, err
		}
		out = append(out, pdus...)
	}
	return out, nil
}

// ExpireReassembly drops partial reassembly windows older than the
// timeout. The driver calls this periodically.
func (s *Stack) ExpireReassembly(now time.Time) int {
	expired := s.inbound.expire(now)
	if expired > 0 {
		s.logger.Log(log.Event{
			Timestamp: now,
			Direction: log.DirectionIn,
			Layer:     log.LayerLower,
			Category:  log.CategoryState,
			StateChange: &log.StateChangeEvent{
				Entity:   log.StateEntityReassembly,
				NewState: "expired",
				Reason:   "reassembly timeout",
			},
		})
	}
	return expired
}

// processSegmentAck retires acknowledged segments from the transmit queue.
func (s *Stack) processSegmentAck(control *pdu.UpperControlPDU) {
	ack, err := pdu.ParseBlockAck(control.Parameters())
	if err != nil {
		s.logError(log.LayerLower, err, nil)
		return
	}
	s.queue.receiveAck(ack)
}

func (s *Stack) encryptAll(clears []*pdu.CleartextNetworkPDU) ([]*pdu.NetworkPDU, error) {
	out := make([]*pdu.NetworkPDU, 0, len(clears))
	for _, clear := range clears {
		networkPDU, err := s.EncryptNetworkPDU(clear)
		if err != nil {
			return nil, err
		}
		out = append(out, networkPDU)
	}
	return out, nil
}

func (s *Stack) logError(layer log.Layer, err error, clear *pdu.CleartextNetworkPDU) {
	event := log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     layer,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Layer: layer, Message: err.Error()},
	}
	if clear != nil {
		event.Src = uint16(clear.Src)
		event.Dst = uint16(clear.Dst)
		event.Seq = uint32(clear.Seq)
	}
	s.logger.Log(event)
}
