package bearer

import (
	"context"
	"errors"
)

// AdvMTU is the largest advertising frame a bearer must carry.
const AdvMTU = 64

// Advertising data types distinguishing mesh traffic on the bearer.
const (
	TypePbAdv       = 0x29
	TypeMeshMessage = 0x2A
	TypeMeshBeacon  = 0x2B
)

var (
	// ErrInvalidLink indicates traffic for a provisioning link the node
	// does not have open.
	ErrInvalidLink = errors.New("invalid link")
	// ErrInvalidTransaction indicates an out-of-sequence provisioning
	// transaction number.
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrTransmissionFailure indicates the bearer could not send.
	ErrTransmissionFailure = errors.New("transmission failure")
	// ErrInsufficientResources indicates a frame too large for the bearer
	// or a full outbound buffer.
	ErrInsufficientResources = errors.New("insufficient resources")
	// ErrInvalidFrame indicates a frame whose length or type octets do
	// not form a valid advertising structure.
	ErrInvalidFrame = errors.New("invalid advertising frame")
)

// Bearer carries advertising frames between the node and the medium. A
// frame is a complete advertising structure: length octet, type octet,
// payload. Receive blocks until a frame arrives or the context ends.
type Bearer interface {
	Transmit(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// FrameKind classifies an inbound advertising frame.
type FrameKind uint8

const (
	// FrameProvisioning is a PB-ADV generic provisioning frame.
	FrameProvisioning FrameKind = iota + 1
	// FrameNetwork is an encrypted network PDU.
	FrameNetwork
	// FrameBeacon is a mesh beacon.
	FrameBeacon
)

// String names the frame kind for logs.
func (k FrameKind) String() string {
	switch k {
	case FrameProvisioning:
		return "provisioning"
	case FrameNetwork:
		return "network"
	case FrameBeacon:
		return "beacon"
	default:
		return "unknown"
	}
}

// ClassifyFrame validates the advertising structure and returns its kind
// and payload. Frames with an unknown type octet are not an error at this
// layer; callers drop them by kind zero.
func ClassifyFrame(frame []byte) (FrameKind, []byte, error) {
	if len(frame) < 2 || len(frame) > AdvMTU {
		return 0, nil, ErrInvalidFrame
	}
	if int(frame[0]) != len(frame)-1 {
		return 0, nil, ErrInvalidFrame
	}
	payload := frame[2:]
	switch frame[1] {
	case TypePbAdv:
		return FrameProvisioning, payload, nil
	case TypeMeshMessage:
		return FrameNetwork, payload, nil
	case TypeMeshBeacon:
		return FrameBeacon, payload, nil
	default:
		return 0, payload, nil
	}
}

// EmitFrame wraps a payload in an advertising structure of the given type.
func EmitFrame(adType byte, payload []byte) ([]byte, error) {
	if len(payload)+2 > AdvMTU {
		return nil, ErrInsufficientResources
	}
	frame := make([]byte, 0, len(payload)+2)
	frame = append(frame, byte(len(payload)+1), adType)
	frame = append(frame, payload...)
	return frame, nil
}
