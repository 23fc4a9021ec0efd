package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"2,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"3,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"4,keyasint"`

	// Src is the source unicast address, once the network layer knows it.
	Src uint16 `cbor:"5,keyasint,omitempty"`

	// Dst is the destination address.
	Dst uint16 `cbor:"6,keyasint,omitempty"`

	// Seq is the 24-bit sequence number.
	Seq uint32 `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"8,keyasint,omitempty"`  // Bearer layer
	PDU         *PDUEvent         `cbor:"9,keyasint,omitempty"`  // Decoded layers
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"` // Driver/reassembly state
	Error       *ErrorEventData   `cbor:"11,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an inbound message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outbound message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerBearer is the raw bearer framing layer.
	LayerBearer Layer = 0
	// LayerNetwork is the network encryption layer.
	LayerNetwork Layer = 1
	// LayerLower is the lower-transport segmentation layer.
	LayerLower Layer = 2
	// LayerUpper is the upper-transport encryption layer.
	LayerUpper Layer = 3
	// LayerAccess is the access/model layer.
	LayerAccess Layer = 4
	// LayerDriver is the top-level state machine.
	LayerDriver Layer = 5
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerBearer:
		return "BEARER"
	case LayerNetwork:
		return "NETWORK"
	case LayerLower:
		return "LOWER"
	case LayerUpper:
		return "UPPER"
	case LayerAccess:
		return "ACCESS"
	case LayerDriver:
		return "DRIVER"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message.
	CategoryMessage Category = 0
	// CategoryBeacon indicates a beacon.
	CategoryBeacon Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryBeacon:
		return "BEACON"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw bytes at the bearer layer.
type FrameEvent struct {
	// Kind is the bearer framing discriminator (advertisement kind).
	Kind uint8 `cbor:"1,keyasint"`

	// Size is the frame size in bytes.
	Size int `cbor:"2,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`
}

// PDUEvent captures a decoded PDU at the network layer or above.
type PDUEvent struct {
	// Control marks a transport control message rather than access.
	Control bool `cbor:"1,keyasint,omitempty"`

	// Segmented marks lower-transport segments.
	Segmented bool `cbor:"2,keyasint,omitempty"`

	// TTL as carried by the network layer.
	TTL uint8 `cbor:"3,keyasint,omitempty"`

	// Opcode is the control opcode or encoded access opcode.
	Opcode []byte `cbor:"4,keyasint,omitempty"`

	// Relayed marks PDUs forwarded on behalf of other nodes.
	Relayed bool `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures driver and pipeline lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityDriver indicates a provisioning state change.
	StateEntityDriver StateEntity = 0
	// StateEntityReassembly indicates a reassembly window change.
	StateEntityReassembly StateEntity = 1
	// StateEntityTransmit indicates an outbound transmit queue change.
	StateEntityTransmit StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityDriver:
		return "DRIVER"
	case StateEntityReassembly:
		return "REASSEMBLY"
	case StateEntityTransmit:
		return "TRANSMIT"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
