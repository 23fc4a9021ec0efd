package keys

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btmesh-protocol/btmesh-go/pkg/crypto"
)

// SlotCount is the number of network and application key slots.
const SlotCount = 4

var (
	// ErrInvalidKeyHandle indicates a handle referring to an empty or
	// out-of-range slot.
	ErrInvalidKeyHandle = errors.New("invalid key handle")
	// ErrInvalidKeyIndex indicates a slot index outside 0..SlotCount-1.
	ErrInvalidKeyIndex = errors.New("invalid key index")
	// ErrKeyIndexOccupied indicates an add into a slot that already holds
	// a key.
	ErrKeyIndexOccupied = errors.New("key index already stored")
)

type applicationKeyEntry struct {
	netKeyIndex uint8
	key         *crypto.ApplicationKey
}

// Secrets holds the node's device key plus its network and application key
// slots. Safe for concurrent use.
type Secrets struct {
	mu              sync.RWMutex
	deviceKey       crypto.DeviceKey
	networkKeys     [SlotCount]*crypto.NetworkKey
	applicationKeys [SlotCount]*applicationKeyEntry
}

// NewSecrets creates a key store with the device key and the primary
// network key in slot 0, as handed over by provisioning.
func NewSecrets(deviceKey crypto.DeviceKey, primary *crypto.NetworkKey) *Secrets {
	s := &Secrets{deviceKey: deviceKey}
	s.networkKeys[0] = primary
	return s
}

// DeviceKey returns the node's device key.
func (s *Secrets) DeviceKey() crypto.DeviceKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceKey
}

// NetworkKeysByNID returns handles for every stored network key whose NID
// matches. The 7-bit NID is not unique, so decryption tries each candidate.
func (s *Secrets) NetworkKeysByNID(nid uint8) []NetworkKeyHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var handles []NetworkKeyHandle
	for i, key := range s.networkKeys {
		if key != nil && key.NID() == nid {
			handles = append(handles, NetworkKeyHandle{Index: uint8(i), NID: nid})
		}
	}
	return handles
}

// NetworkKey resolves a handle to its key material.
func (s *Secrets) NetworkKey(h NetworkKeyHandle) (*crypto.NetworkKey, error) {
	return s.NetworkKeyByIndex(h.Index)
}

// NetworkKeyByIndex returns the network key stored in a slot.
func (s *Secrets) NetworkKeyByIndex(index uint8) (*crypto.NetworkKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(index) >= SlotCount || s.networkKeys[index] == nil {
		return nil, fmt.Errorf("network key slot %d: %w", index, ErrInvalidKeyHandle)
	}
	return s.networkKeys[index], nil
}

// SetNetworkKey stores a network key in a slot, replacing any previous
// occupant. Slot 0 holds the primary key.
func (s *Secrets) SetNetworkKey(index uint8, key *crypto.NetworkKey) error {
	if int(index) >= SlotCount {
		return fmt.Errorf("network key slot %d: %w", index, ErrInvalidKeyIndex)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkKeys[index] = key
	return nil
}

// ApplicationKeysByAID returns handles for every stored application key
// whose AID matches.
func (s *Secrets) ApplicationKeysByAID(aid uint8) []ApplicationKeyHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var handles []ApplicationKeyHandle
	for i, entry := range s.applicationKeys {
		if entry != nil && entry.key.AID() == aid {
			handles = append(handles, ApplicationKeyHandle{Index: uint8(i), AID: aid})
		}
	}
	return handles
}

// ApplicationKey resolves a handle to its key material.
func (s *Secrets) ApplicationKey(h ApplicationKeyHandle) (*crypto.ApplicationKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(h.Index) >= SlotCount || s.applicationKeys[h.Index] == nil {
		return nil, fmt.Errorf("application key slot %d: %w", h.Index, ErrInvalidKeyHandle)
	}
	return s.applicationKeys[h.Index].key, nil
}

// NetworkKeyForApplication returns the handle of the network key slot an
// application key is bound to, for outbound network-layer protection.
func (s *Secrets) NetworkKeyForApplication(h ApplicationKeyHandle) (NetworkKeyHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(h.Index) >= SlotCount || s.applicationKeys[h.Index] == nil {
		return NetworkKeyHandle{}, fmt.Errorf("application key slot %d: %w", h.Index, ErrInvalidKeyHandle)
	}
	netKeyIndex := s.applicationKeys[h.Index].netKeyIndex
	key := s.networkKeys[netKeyIndex]
	if key == nil {
		return NetworkKeyHandle{}, fmt.Errorf("network key slot %d: %w", netKeyIndex, ErrInvalidKeyHandle)
	}
	return NetworkKeyHandle{Index: netKeyIndex, NID: key.NID()}, nil
}

// PrimaryNetworkKeyHandle returns the handle of the primary network key.
// Device-key traffic goes out under the primary subnet.
func (s *Secrets) PrimaryNetworkKeyHandle() (NetworkKeyHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.networkKeys[0] == nil {
		return NetworkKeyHandle{}, fmt.Errorf("primary network key: %w", ErrInvalidKeyHandle)
	}
	return NetworkKeyHandle{Index: 0, NID: s.networkKeys[0].NID()}, nil
}

// HasApplicationKey reports whether a slot is occupied.
func (s *Secrets) HasApplicationKey(index uint8) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(index) < SlotCount && s.applicationKeys[index] != nil
}

// AddApplicationKey stores an application key bound to a network key slot.
// Adding into an occupied slot fails; updates go through delete first.
func (s *Secrets) AddApplicationKey(index, netKeyIndex uint8, key *crypto.ApplicationKey) error {
	if int(index) >= SlotCount {
		return fmt.Errorf("application key slot %d: %w", index, ErrInvalidKeyIndex)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applicationKeys[index] != nil {
		return fmt.Errorf("application key slot %d: %w", index, ErrKeyIndexOccupied)
	}
	s.applicationKeys[index] = &applicationKeyEntry{netKeyIndex: netKeyIndex, key: key}
	return nil
}

// DeleteApplicationKey removes an application key. The bound network key
// index must match, so a delete against the wrong subnet fails.
func (s *Secrets) DeleteApplicationKey(index, netKeyIndex uint8) error {
	if int(index) >= SlotCount {
		return fmt.Errorf("application key slot %d: %w", index, ErrInvalidKeyIndex)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.applicationKeys[index]
	if entry == nil {
		return fmt.Errorf("application key slot %d: %w", index, ErrInvalidKeyHandle)
	}
	if entry.netKeyIndex != netKeyIndex {
		return fmt.Errorf("application key slot %d bound to net key %d: %w",
			index, entry.netKeyIndex, ErrInvalidKeyIndex)
	}
	s.applicationKeys[index] = nil
	return nil
}

// Snapshot exports the raw key material for persistence.
func (s *Secrets) Snapshot() SecretsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := SecretsSnapshot{DeviceKey: s.deviceKey.Bytes()}
	for i, key := range s.networkKeys {
		if key != nil {
			snap.NetworkKeys = append(snap.NetworkKeys, NetworkKeyRecord{
				Index: uint8(i),
				Key:   key.Bytes(),
			})
		}
	}
	for i, entry := range s.applicationKeys {
		if entry != nil {
			snap.ApplicationKeys = append(snap.ApplicationKeys, ApplicationKeyRecord{
				Index:       uint8(i),
				NetKeyIndex: entry.netKeyIndex,
				Key:         entry.key.Bytes(),
			})
		}
	}
	return snap
}

// Restore rebuilds a key store from persisted material, rederiving NIDs and
// AIDs.
func Restore(snap SecretsSnapshot) (*Secrets, error) {
	s := &Secrets{deviceKey: crypto.NewDeviceKey(snap.DeviceKey)}
	for _, rec := range snap.NetworkKeys {
		key, err := crypto.NewNetworkKey(rec.Key)
		if err != nil {
			return nil, err
		}
		if err := s.SetNetworkKey(rec.Index, key); err != nil {
			return nil, err
		}
	}
	for _, rec := range snap.ApplicationKeys {
		key, err := crypto.NewApplicationKey(rec.Key)
		if err != nil {
			return nil, err
		}
		if err := s.AddApplicationKey(rec.Index, rec.NetKeyIndex, key); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SecretsSnapshot is the persistable form of the key store.
type SecretsSnapshot struct {
	DeviceKey       crypto.Key             `cbor:"1,keyasint"`
	NetworkKeys     []NetworkKeyRecord     `cbor:"2,keyasint"`
	ApplicationKeys []ApplicationKeyRecord `cbor:"3,keyasint"`
}

// NetworkKeyRecord is one persisted network key slot.
type NetworkKeyRecord struct {
	Index uint8      `cbor:"1,keyasint"`
	Key   crypto.Key `cbor:"2,keyasint"`
}

// ApplicationKeyRecord is one persisted application key slot.
type ApplicationKeyRecord struct {
	Index       uint8      `cbor:"1,keyasint"`
	NetKeyIndex uint8      `cbor:"2,keyasint"`
	Key         crypto.Key `cbor:"3,keyasint"`
}
