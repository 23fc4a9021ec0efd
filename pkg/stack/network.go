package stack

import (
	"fmt"

	"github.com/btmesh-protocol/btmesh-go/pkg/crypto"
	"github.com/btmesh-protocol/btmesh-go/pkg/keys"
	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
)

// EncryptNetworkPDU applies network-layer encryption and header
// obfuscation to a cleartext PDU.
func (s *Stack) EncryptNetworkPDU(clear *pdu.CleartextNetworkPDU) (*pdu.NetworkPDU, error) {
	networkKey, err := s.secrets.NetworkKey(clear.Meta.NetworkKeyHandle)
	if err != nil {
		return nil, err
	}

	ctlTTL := byte(clear.CTL)<<7 | byte(clear.TTL)&0x7F

	dstBytes := clear.Dst.Bytes()
	payload := make([]byte, 0, 2+len(clear.TransportPDU))
	payload = append(payload, dstBytes[:]...)
	payload = append(payload, clear.TransportPDU...)

	nonce := crypto.NetworkNonce(ctlTTL, clear.Seq, clear.Src, clear.Meta.IvIndex)
	ciphertext, mic, err := networkKey.EncryptNetwork(nonce, payload, clear.CTL.NetMicSize())
	if err != nil {
		return nil, err
	}
	encryptedAndMic := append(ciphertext, mic...)

	var header [crypto.ObfuscatedSize]byte
	header[0] = ctlTTL
	seqBytes := clear.Seq.Bytes()
	copy(header[1:4], seqBytes[:])
	srcBytes := clear.Src.Bytes()
	copy(header[4:6], srcBytes[:])

	obfuscated, err := networkKey.Obfuscate(header, encryptedAndMic, clear.Meta.IvIndex)
	if err != nil {
		return nil, err
	}

	return &pdu.NetworkPDU{
		IVI:             clear.Meta.IvIndex.IVI(),
		NID:             networkKey.NID(),
		Obfuscated:      obfuscated,
		EncryptedAndMic: encryptedAndMic,
	}, nil
}

// DecryptNetworkPDU tries every stored network key sharing the PDU's NID
// until one authenticates, then runs replay protection over the result.
// Returns ErrNotDecryptable when no candidate matches.
func (s *Stack) DecryptNetworkPDU(networkPDU *pdu.NetworkPDU) (*pdu.CleartextNetworkPDU, error) {
	ivIndex := s.acceptedIvIndex(networkPDU.IVI)
	for _, handle := range s.secrets.NetworkKeysByNID(networkPDU.NID) {
		clear, err := s.decryptNetworkPDUWithKey(networkPDU, ivIndex, handle)
		if err != nil {
			continue
		}
		s.replay.Check(clear)
		return clear, nil
	}
	return nil, fmt.Errorf("network pdu with nid %#02x: %w", networkPDU.NID, ErrNotDecryptable)
}

func (s *Stack) decryptNetworkPDUWithKey(networkPDU *pdu.NetworkPDU, ivIndex mesh.IvIndex, handle keys.NetworkKeyHandle) (*pdu.CleartextNetworkPDU, error) {
	networkKey, err := s.secrets.NetworkKey(handle)
	if err != nil {
		return nil, err
	}

	// Obfuscation is a XOR, so applying it again removes it.
	header, err := networkKey.Obfuscate(networkPDU.Obfuscated, networkPDU.EncryptedAndMic, ivIndex)
	if err != nil {
		return nil, err
	}

	ctl, err := mesh.ParseCTL(header[0] >> 7)
	if err != nil {
		return nil, err
	}
	ttl, err := mesh.ParseTTL(header[0] & 0x7F)
	if err != nil {
		return nil, err
	}
	seq, err := mesh.ParseSeq(uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3]))
	if err != nil {
		return nil, err
	}
	src, err := mesh.ParseUnicastAddress(header[4:6])
	if err != nil {
		return nil, err
	}

	micSize := ctl.NetMicSize()
	if len(networkPDU.EncryptedAndMic) <= micSize {
		return nil, fmt.Errorf("network payload of %d bytes: %w", len(networkPDU.EncryptedAndMic), mesh.ErrInvalidLength)
	}
	ciphertext := networkPDU.EncryptedAndMic[:len(networkPDU.EncryptedAndMic)-micSize]
	mic := networkPDU.EncryptedAndMic[len(networkPDU.EncryptedAndMic)-micSize:]

	nonce := crypto.NetworkNonce(header[0], seq, src, ivIndex)
	payload, err := networkKey.DecryptNetwork(nonce, ciphertext, mic)
	if err != nil {
		return nil, err
	}
	if len(payload) < 3 {
		return nil, fmt.Errorf("network payload of %d bytes: %w", len(payload), mesh.ErrInvalidLength)
	}

	dst, err := mesh.ParseAddress(payload[:2])
	if err != nil {
		return nil, err
	}

	localElementIndex := pdu.NoLocalElement
	if index, ok := s.deviceInfo.LocalElementIndex(dst); ok {
		localElementIndex = int(index)
	}

	return &pdu.CleartextNetworkPDU{
		IVI:          networkPDU.IVI,
		NID:          networkKey.NID(),
		CTL:          ctl,
		TTL:          ttl,
		Seq:          seq,
		Src:          src,
		Dst:          dst,
		TransportPDU: append([]byte{}, payload[2:]...),
		Meta:         pdu.NewNetworkMetadata(ivIndex, localElementIndex, handle),
	}, nil
}

// cleartextFromLower frames a lower PDU into a cleartext network PDU using
// the addressing in its metadata.
func (s *Stack) cleartextFromLower(lower pdu.LowerPDU, ctl mesh.CTL) (*pdu.CleartextNetworkPDU, error) {
	transport, err := lower.Emit()
	if err != nil {
		return nil, err
	}
	meta := lower.LowerMeta()
	return &pdu.CleartextNetworkPDU{
		IVI:          meta.IvIndex.IVI(),
		NID:          meta.NetworkKeyHandle.NID,
		CTL:          ctl,
		TTL:          meta.TTL,
		Seq:          meta.Seq,
		Src:          meta.Src,
		Dst:          meta.Dst,
		TransportPDU: transport,
		Meta:         pdu.NewNetworkMetadata(meta.IvIndex, meta.LocalElementIndex, meta.NetworkKeyHandle),
	}, nil
}
