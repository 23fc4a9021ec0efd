package storage

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/btmesh-protocol/btmesh-go/pkg/keys"
	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

// configEncMode is the deterministic CBOR encoder for configurations.
var configEncMode cbor.EncMode

// configDecMode is the CBOR decoder for configurations.
var configDecMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	configEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create config CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	configDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create config CBOR decoder mode: %v", err))
	}
}

// UnprovisionedConfiguration is the identity of a node awaiting
// provisioning: just its device UUID, advertised in unprovisioned beacons.
type UnprovisionedConfiguration struct {
	UUID uuid.UUID `cbor:"1,keyasint"`
}

// NewUnprovisionedConfiguration generates a fresh random device UUID.
func NewUnprovisionedConfiguration() UnprovisionedConfiguration {
	return UnprovisionedConfiguration{UUID: uuid.New()}
}

// NetworkState is the network-wide epoch state the node tracks.
type NetworkState struct {
	IvIndex  uint32 `cbor:"1,keyasint"`
	IvUpdate bool   `cbor:"2,keyasint,omitempty"`
}

// IvIndexState converts to the typed IV index and update flag.
func (s NetworkState) IvIndexState() (mesh.IvIndex, mesh.IvUpdateFlag) {
	flag := mesh.IvUpdateNormal
	if s.IvUpdate {
		flag = mesh.IvUpdateInProgress
	}
	return mesh.IvIndex(s.IvIndex), flag
}

// DeviceInfoRecord is the persisted provisioned identity.
type DeviceInfoRecord struct {
	PrimaryAddress uint16 `cbor:"1,keyasint"`
	ElementCount   uint8  `cbor:"2,keyasint"`
}

// DeviceInfo converts to the runtime form.
func (r DeviceInfoRecord) DeviceInfo() (mesh.DeviceInfo, error) {
	primary, err := mesh.NewUnicastAddress(r.PrimaryAddress)
	if err != nil {
		return mesh.DeviceInfo{}, err
	}
	return mesh.DeviceInfo{PrimaryAddress: primary, ElementCount: r.ElementCount}, nil
}

// SubscriptionRecord binds an element to a group or virtual destination.
// Label carries the full UUID for virtual addresses, since the address
// alone cannot recover it.
type SubscriptionRecord struct {
	ElementIndex uint8      `cbor:"1,keyasint"`
	Address      uint16     `cbor:"2,keyasint"`
	Label        *uuid.UUID `cbor:"3,keyasint,omitempty"`
}

// ProvisionedConfiguration is everything a provisioned node must remember
// across restarts.
type ProvisionedConfiguration struct {
	Sequence      uint32               `cbor:"1,keyasint"`
	NetworkState  NetworkState         `cbor:"2,keyasint"`
	Secrets       keys.SecretsSnapshot `cbor:"3,keyasint"`
	DeviceInfo    DeviceInfoRecord     `cbor:"4,keyasint"`
	Subscriptions []SubscriptionRecord `cbor:"5,keyasint,omitempty"`
}

// LabelsFor returns the candidate label UUIDs subscribed at a virtual
// destination address.
func (c *ProvisionedConfiguration) LabelsFor(dst mesh.Address) []uuid.UUID {
	var labels []uuid.UUID
	for _, sub := range c.Subscriptions {
		if sub.Address == uint16(dst) && sub.Label != nil {
			labels = append(labels, *sub.Label)
		}
	}
	return labels
}

// EncodeConfiguration serializes a provisioned configuration.
func EncodeConfiguration(config *ProvisionedConfiguration) ([]byte, error) {
	return configEncMode.Marshal(config)
}

// DecodeConfiguration deserializes a provisioned configuration.
func DecodeConfiguration(data []byte) (*ProvisionedConfiguration, error) {
	config := &ProvisionedConfiguration{}
	if err := configDecMode.Unmarshal(data, config); err != nil {
		return nil, err
	}
	return config, nil
}
