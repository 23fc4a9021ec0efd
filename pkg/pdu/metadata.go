package pdu

import (
	"github.com/google/uuid"

	"github.com/btmesh-protocol/btmesh-go/pkg/keys"
	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

// NoLocalElement marks metadata not addressed to a local element.
const NoLocalElement = -1

// NetworkMetadata accompanies a cleartext network PDU through the pipeline.
type NetworkMetadata struct {
	IvIndex           mesh.IvIndex
	ReplayProtected   bool
	ShouldRelay       bool
	LocalElementIndex int
	NetworkKeyHandle  keys.NetworkKeyHandle
}

// NewNetworkMetadata builds metadata for an inbound or outbound network
// PDU. localElementIndex is NoLocalElement for non-local destinations.
func NewNetworkMetadata(ivIndex mesh.IvIndex, localElementIndex int, handle keys.NetworkKeyHandle) NetworkMetadata {
	return NetworkMetadata{
		IvIndex:           ivIndex,
		LocalElementIndex: localElementIndex,
		NetworkKeyHandle:  handle,
	}
}

// NetworkMetadataFromUpper projects upper metadata down for outbound
// network encryption.
func NetworkMetadataFromUpper(meta UpperMetadata) NetworkMetadata {
	return NetworkMetadata{
		IvIndex:           meta.IvIndex,
		LocalElementIndex: meta.LocalElementIndex,
		NetworkKeyHandle:  meta.NetworkKeyHandle,
	}
}

// LowerMetadata accompanies a lower-transport PDU.
type LowerMetadata struct {
	NetworkKeyHandle  keys.NetworkKeyHandle
	IvIndex           mesh.IvIndex
	LocalElementIndex int
	Src               mesh.UnicastAddress
	Dst               mesh.Address
	TTL               mesh.TTL
	Seq               mesh.Seq
}

// LowerMetadataFromNetwork projects a cleartext network PDU's addressing
// into lower-transport metadata.
func LowerMetadataFromNetwork(p *CleartextNetworkPDU) LowerMetadata {
	return LowerMetadata{
		NetworkKeyHandle:  p.Meta.NetworkKeyHandle,
		IvIndex:           p.Meta.IvIndex,
		LocalElementIndex: p.Meta.LocalElementIndex,
		Src:               p.Src,
		Dst:               p.Dst,
		TTL:               p.TTL,
		Seq:               p.Seq,
	}
}

// UpperMetadata accompanies an upper-transport PDU. For virtual
// destinations LabelUUIDs lists the candidate labels for trial decryption.
type UpperMetadata struct {
	NetworkKeyHandle  keys.NetworkKeyHandle
	IvIndex           mesh.IvIndex
	LocalElementIndex int
	AKF               bool
	AID               uint8
	Seq               mesh.Seq
	Src               mesh.UnicastAddress
	Dst               mesh.Address
	TTL               mesh.TTL
	LabelUUIDs        []uuid.UUID
}

// UpperMetadataFromLower lifts lower-transport metadata, picking up the
// AKF/AID discriminator from access PDUs.
func UpperMetadataFromLower(p LowerPDU) UpperMetadata {
	meta := p.LowerMeta()
	out := UpperMetadata{
		NetworkKeyHandle:  meta.NetworkKeyHandle,
		IvIndex:           meta.IvIndex,
		LocalElementIndex: meta.LocalElementIndex,
		Seq:               meta.Seq,
		Src:               meta.Src,
		Dst:               meta.Dst,
		TTL:               meta.TTL,
	}
	switch inner := p.(type) {
	case *UnsegmentedAccessPDU:
		out.AKF, out.AID = inner.AKF(), inner.AID()
	case *SegmentedAccessPDU:
		out.AKF, out.AID = inner.AKF(), inner.AID()
	}
	return out
}

// AccessMetadata accompanies a decrypted access message: which key
// authenticated it and the addressing the reply should invert.
type AccessMetadata struct {
	IvIndex           mesh.IvIndex
	KeyHandle         keys.KeyHandle
	Src               mesh.UnicastAddress
	Dst               mesh.Address
	TTL               mesh.TTL
	LocalElementIndex int
	Label             *uuid.UUID
}
