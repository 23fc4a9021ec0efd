package pdu

import (
	"fmt"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

// ControlOpcode identifies a transport control message.
type ControlOpcode uint8

const (
	SegmentAcknowledgement        ControlOpcode = 0x00
	FriendPoll                    ControlOpcode = 0x01
	FriendUpdate                  ControlOpcode = 0x02
	FriendRequest                 ControlOpcode = 0x03
	FriendOffer                   ControlOpcode = 0x04
	FriendClear                   ControlOpcode = 0x05
	FriendClearConfirm            ControlOpcode = 0x06
	FriendSubscriptionListAdd     ControlOpcode = 0x07
	FriendSubscriptionListRemove  ControlOpcode = 0x08
	FriendSubscriptionListConfirm ControlOpcode = 0x09
	Heartbeat                     ControlOpcode = 0x0A
)

// ParseControlOpcode validates a 7-bit opcode value.
func ParseControlOpcode(v uint8) (ControlOpcode, error) {
	if v > uint8(Heartbeat) {
		return 0, fmt.Errorf("control opcode %#02x: %w", v, mesh.ErrInvalidValue)
	}
	return ControlOpcode(v), nil
}

// String returns the opcode name.
func (o ControlOpcode) String() string {
	switch o {
	case SegmentAcknowledgement:
		return "SegmentAcknowledgement"
	case FriendPoll:
		return "FriendPoll"
	case FriendUpdate:
		return "FriendUpdate"
	case FriendRequest:
		return "FriendRequest"
	case FriendOffer:
		return "FriendOffer"
	case FriendClear:
		return "FriendClear"
	case FriendClearConfirm:
		return "FriendClearConfirm"
	case FriendSubscriptionListAdd:
		return "FriendSubscriptionListAdd"
	case FriendSubscriptionListRemove:
		return "FriendSubscriptionListRemove"
	case FriendSubscriptionListConfirm:
		return "FriendSubscriptionListConfirm"
	case Heartbeat:
		return "Heartbeat"
	default:
		return fmt.Sprintf("ControlOpcode(%#02x)", uint8(o))
	}
}
