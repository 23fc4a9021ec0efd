package bearer

import (
	"github.com/google/uuid"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

// Mesh beacon type octets.
const (
	beaconTypeUnprovisioned = 0x00
	beaconTypeSecureNetwork = 0x01
)

// Secure network beacon flag bits.
const (
	FlagKeyRefresh = 0x01
	FlagIvUpdate   = 0x02
)

// defaultOOB advertises "other" out-of-band capability, matching what an
// unprovisioned node without a dedicated OOB channel announces.
var defaultOOB = [2]byte{0xa0, 0x40}

// Beacon is a mesh beacon the node can emit or receive.
type Beacon interface {
	// EmitAdvertising encodes the beacon as a complete advertising frame.
	EmitAdvertising() ([]byte, error)
	beacon()
}

// UnprovisionedBeacon announces an unprovisioned device awaiting
// provisioning, carrying its device UUID and OOB information.
type UnprovisionedBeacon struct {
	UUID uuid.UUID
	OOB  [2]byte
}

// NewUnprovisionedBeacon creates an unprovisioned device beacon with the
// default OOB information.
func NewUnprovisionedBeacon(deviceUUID uuid.UUID) UnprovisionedBeacon {
	return UnprovisionedBeacon{UUID: deviceUUID, OOB: defaultOOB}
}

func (b UnprovisionedBeacon) beacon() {}

// EmitAdvertising encodes the beacon: type 0x00, device UUID, OOB info.
func (b UnprovisionedBeacon) EmitAdvertising() ([]byte, error) {
	payload := make([]byte, 0, 19)
	payload = append(payload, beaconTypeUnprovisioned)
	payload = append(payload, b.UUID[:]...)
	payload = append(payload, b.OOB[0], b.OOB[1])
	return EmitFrame(TypeMeshBeacon, payload)
}

// SecureBeacon is the secure network beacon announcing the network's IV
// index and key refresh state, authenticated with the beacon key.
type SecureBeacon struct {
	NetworkID  mesh.NetworkID
	IvIndex    mesh.IvIndex
	IvUpdate   bool
	KeyRefresh bool
	Auth       [8]byte
}

func (b SecureBeacon) beacon() {}

// Flags packs the key refresh and IV update bits.
func (b SecureBeacon) Flags() byte {
	var flags byte
	if b.KeyRefresh {
		flags |= FlagKeyRefresh
	}
	if b.IvUpdate {
		flags |= FlagIvUpdate
	}
	return flags
}

// EmitAdvertising encodes the beacon: type 0x01, flags, network ID, IV
// index, authentication value.
func (b SecureBeacon) EmitAdvertising() ([]byte, error) {
	payload := make([]byte, 0, 22)
	payload = append(payload, beaconTypeSecureNetwork, b.Flags())
	payload = append(payload, b.NetworkID[:]...)
	ivBytes := b.IvIndex.Bytes()
	payload = append(payload, ivBytes[:]...)
	payload = append(payload, b.Auth[:]...)
	return EmitFrame(TypeMeshBeacon, payload)
}

// ParseBeacon decodes a mesh beacon payload into its typed form.
func ParseBeacon(payload []byte) (Beacon, error) {
	if len(payload) < 1 {
		return nil, ErrInvalidFrame
	}
	switch payload[0] {
	case beaconTypeUnprovisioned:
		if len(payload) != 19 {
			return nil, ErrInvalidFrame
		}
		var b UnprovisionedBeacon
		copy(b.UUID[:], payload[1:17])
		b.OOB[0], b.OOB[1] = payload[17], payload[18]
		return b, nil
	case beaconTypeSecureNetwork:
		if len(payload) != 22 {
			return nil, ErrInvalidFrame
		}
		var b SecureBeacon
		b.KeyRefresh = payload[1]&FlagKeyRefresh != 0
		b.IvUpdate = payload[1]&FlagIvUpdate != 0
		copy(b.NetworkID[:], payload[2:10])
		iv, err := mesh.ParseIvIndex(payload[10:14])
		if err != nil {
			return nil, err
		}
		b.IvIndex = iv
		copy(b.Auth[:], payload[14:22])
		return b, nil
	default:
		return nil, ErrInvalidFrame
	}
}
