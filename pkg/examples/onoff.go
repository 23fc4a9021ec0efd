package examples

import (
	"context"
	"sync"

	"github.com/btmesh-protocol/btmesh-go/pkg/keys"
	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
	"github.com/btmesh-protocol/btmesh-go/pkg/registry"
)

// Generic on/off model identifiers and opcodes.
var (
	OnOffServerModelID = registry.SigModelID(0x1000)
	OnOffClientModelID = registry.SigModelID(0x1001)

	opOnOffGet      = mustOpcode(pdu.TwoOctetOpcode(0x82, 0x01))
	opOnOffSet      = mustOpcode(pdu.TwoOctetOpcode(0x82, 0x02))
	opOnOffSetUnack = mustOpcode(pdu.TwoOctetOpcode(0x82, 0x03))
	opOnOffStatus   = mustOpcode(pdu.TwoOctetOpcode(0x82, 0x04))
)

// defaultTTL is used for replies and client requests.
const defaultTTL = 5

func mustOpcode(opcode pdu.Opcode, err error) pdu.Opcode {
	if err != nil {
		panic(err)
	}
	return opcode
}

// OnOffServer is a generic on/off server model. It holds a single boolean
// state, answers get and set requests with a status message and notifies
// the application when the state changes.
type OnOffServer struct {
	mu    sync.Mutex
	state bool
	onSet func(on bool)
}

// NewOnOffServer creates a server in the off state. onSet may be nil.
func NewOnOffServer(onSet func(on bool)) *OnOffServer {
	return &OnOffServer{onSet: onSet}
}

// State returns the current on/off state.
func (s *OnOffServer) State() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *OnOffServer) Identifier() registry.ModelID { return OnOffServerModelID }

func (s *OnOffServer) Opcodes() []pdu.Opcode {
	return []pdu.Opcode{opOnOffGet, opOnOffSet, opOnOffSetUnack}
}

// Handle answers get and set requests. Unacknowledged sets change the state
// without a reply.
func (s *OnOffServer) Handle(ctx context.Context, message *pdu.AccessMessage, out registry.Dispatcher) error {
	opcode := message.Opcode()
	switch {
	case opcode == opOnOffSet || opcode == opOnOffSetUnack:
		parameters := message.Parameters()
		if len(parameters) < 1 {
			return mesh.ErrInvalidLength
		}
		on := parameters[0] != 0

		s.mu.Lock()
		changed := s.state != on
		s.state = on
		notify := s.onSet
		s.mu.Unlock()
		if changed && notify != nil {
			notify(on)
		}
		if opcode == opOnOffSetUnack {
			return nil
		}
	case opcode == opOnOffGet:
	default:
		return registry.ErrModelNotFound
	}
	return out.Send(ctx, s.statusFor(message))
}

// statusFor builds the status reply addressed back at the requester, under
// the same key the request arrived with.
func (s *OnOffServer) statusFor(request *pdu.AccessMessage) *pdu.AccessMessage {
	s.mu.Lock()
	state := byte(0)
	if s.state {
		state = 1
	}
	s.mu.Unlock()

	meta := request.AccessMeta()
	return pdu.NewAccessMessage(opOnOffStatus, []byte{state}, pdu.AccessMetadata{
		KeyHandle:         meta.KeyHandle,
		Dst:               meta.Src.Address(),
		TTL:               defaultTTL,
		LocalElementIndex: pdu.NoLocalElement,
	})
}

// OnOffClient is a generic on/off client model. It sends get and set
// requests and surfaces incoming status messages through a callback.
type OnOffClient struct {
	keyHandle keys.KeyHandle

	mu       sync.Mutex
	tid      uint8
	onStatus func(src mesh.UnicastAddress, on bool)
}

// NewOnOffClient creates a client sending under the given application key.
// onStatus may be nil.
func NewOnOffClient(keyHandle keys.KeyHandle, onStatus func(src mesh.UnicastAddress, on bool)) *OnOffClient {
	return &OnOffClient{keyHandle: keyHandle, onStatus: onStatus}
}

func (c *OnOffClient) Identifier() registry.ModelID { return OnOffClientModelID }

func (c *OnOffClient) Opcodes() []pdu.Opcode {
	return []pdu.Opcode{opOnOffStatus}
}

// Handle receives status messages from servers.
func (c *OnOffClient) Handle(_ context.Context, message *pdu.AccessMessage, _ registry.Dispatcher) error {
	parameters := message.Parameters()
	if len(parameters) < 1 {
		return mesh.ErrInvalidLength
	}
	c.mu.Lock()
	notify := c.onStatus
	c.mu.Unlock()
	if notify != nil {
		notify(message.AccessMeta().Src, parameters[0] != 0)
	}
	return nil
}

// Get requests the state of the server at dst.
func (c *OnOffClient) Get(ctx context.Context, out registry.Dispatcher, dst mesh.Address) error {
	return out.Send(ctx, c.request(opOnOffGet, nil, dst))
}

// Set changes the state of the server at dst, expecting a status reply.
func (c *OnOffClient) Set(ctx context.Context, out registry.Dispatcher, dst mesh.Address, on bool) error {
	return out.Send(ctx, c.request(opOnOffSet, c.setParameters(on), dst))
}

// SetUnacknowledged changes the state without soliciting a reply, for
// group-addressed switching.
func (c *OnOffClient) SetUnacknowledged(ctx context.Context, out registry.Dispatcher, dst mesh.Address, on bool) error {
	return out.Send(ctx, c.request(opOnOffSetUnack, c.setParameters(on), dst))
}

func (c *OnOffClient) setParameters(on bool) []byte {
	c.mu.Lock()
	tid := c.tid
	c.tid++
	c.mu.Unlock()
	state := byte(0)
	if on {
		state = 1
	}
	return []byte{state, tid}
}

func (c *OnOffClient) request(opcode pdu.Opcode, parameters []byte, dst mesh.Address) *pdu.AccessMessage {
	return pdu.NewAccessMessage(opcode, parameters, pdu.AccessMetadata{
		KeyHandle:         c.keyHandle,
		Dst:               dst,
		TTL:               defaultTTL,
		LocalElementIndex: pdu.NoLocalElement,
	})
}

var (
	_ registry.Model = (*OnOffServer)(nil)
	_ registry.Model = (*OnOffClient)(nil)
)
