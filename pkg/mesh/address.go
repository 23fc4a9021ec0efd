package mesh

import (
	"errors"
	"fmt"
)

// ErrInvalidAddress indicates an address whose bit pattern does not match
// the required address class.
var ErrInvalidAddress = errors.New("invalid address")

// AddressKind classifies the 16-bit address space.
type AddressKind uint8

const (
	AddressUnassigned AddressKind = iota
	AddressUnicast
	AddressVirtual
	AddressGroup
)

// String returns a human-readable kind name.
func (k AddressKind) String() string {
	switch k {
	case AddressUnassigned:
		return "UNASSIGNED"
	case AddressUnicast:
		return "UNICAST"
	case AddressVirtual:
		return "VIRTUAL"
	case AddressGroup:
		return "GROUP"
	default:
		return "UNKNOWN"
	}
}

// Address is any 16-bit destination address.
type Address uint16

// ParseAddress decodes a big-endian 2-octet address. Every bit pattern is a
// valid address of some kind, so this never fails on 2 octets.
func ParseAddress(data []byte) (Address, error) {
	if len(data) != 2 {
		return 0, fmt.Errorf("address: %w", ErrInvalidLength)
	}
	return Address(uint16(data[0])<<8 | uint16(data[1])), nil
}

// Kind classifies the address by its top bits.
func (a Address) Kind() AddressKind {
	switch {
	case a == 0:
		return AddressUnassigned
	case a&0x8000 == 0:
		return AddressUnicast
	case a&0xC000 == 0x8000:
		return AddressVirtual
	default:
		return AddressGroup
	}
}

// IsUnicast reports whether the address is a unicast address.
func (a Address) IsUnicast() bool { return a.Kind() == AddressUnicast }

// IsVirtual reports whether the address is a virtual address.
func (a Address) IsVirtual() bool { return a.Kind() == AddressVirtual }

// IsGroup reports whether the address is a group address.
func (a Address) IsGroup() bool { return a.Kind() == AddressGroup }

// Bytes returns the big-endian 2-octet encoding.
func (a Address) Bytes() [2]byte {
	return [2]byte{byte(a >> 8), byte(a)}
}

// Unicast converts to a UnicastAddress, failing for other kinds.
func (a Address) Unicast() (UnicastAddress, error) {
	if !a.IsUnicast() {
		return 0, fmt.Errorf("%#04x is %s: %w", uint16(a), a.Kind(), ErrInvalidAddress)
	}
	return UnicastAddress(a), nil
}

// UnicastAddress is a non-zero address with the top bit clear, identifying a
// single element of a single node.
type UnicastAddress uint16

// ParseUnicastAddress decodes and validates a big-endian unicast address.
func ParseUnicastAddress(data []byte) (UnicastAddress, error) {
	addr, err := ParseAddress(data)
	if err != nil {
		return 0, err
	}
	return addr.Unicast()
}

// NewUnicastAddress validates a 16-bit value as a unicast address.
func NewUnicastAddress(v uint16) (UnicastAddress, error) {
	return Address(v).Unicast()
}

// Address widens to the generic address type.
func (u UnicastAddress) Address() Address { return Address(u) }

// Bytes returns the big-endian 2-octet encoding.
func (u UnicastAddress) Bytes() [2]byte { return Address(u).Bytes() }

// VirtualAddress is a 14-bit hash of a label UUID with the 0b10 prefix.
type VirtualAddress uint16

// NewVirtualAddress validates the 0b10 prefix pattern.
func NewVirtualAddress(v uint16) (VirtualAddress, error) {
	if v&0xC000 != 0x8000 {
		return 0, fmt.Errorf("%#04x is not virtual: %w", v, ErrInvalidAddress)
	}
	return VirtualAddress(v), nil
}

// Address widens to the generic address type.
func (v VirtualAddress) Address() Address { return Address(v) }

// DeviceInfo describes the provisioned identity of the local node: its
// primary unicast address and how many consecutive elements it exposes.
type DeviceInfo struct {
	PrimaryAddress UnicastAddress
	ElementCount   uint8
}

// LocalElementIndex returns the element index addressed by dst, or false if
// dst is not one of this node's unicast addresses.
func (d DeviceInfo) LocalElementIndex(dst Address) (uint8, bool) {
	u, err := dst.Unicast()
	if err != nil {
		return 0, false
	}
	if u < d.PrimaryAddress {
		return 0, false
	}
	diff := uint16(u - d.PrimaryAddress)
	if diff >= uint16(d.ElementCount) {
		return 0, false
	}
	return uint8(diff), true
}

// IsLocalUnicast reports whether dst addresses one of this node's elements.
func (d DeviceInfo) IsLocalUnicast(dst Address) bool {
	_, ok := d.LocalElementIndex(dst)
	return ok
}

// IsNonLocalUnicast reports whether dst is unicast but not one of ours.
func (d DeviceInfo) IsNonLocalUnicast(dst Address) bool {
	return dst.IsUnicast() && !d.IsLocalUnicast(dst)
}
