package crypto

import (
	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

// NonceSize is the AES-CCM nonce size used throughout the mesh.
const NonceSize = 13

// Nonce is a 13-octet AEAD nonce. Construction is deterministic: identical
// inputs always produce an identical nonce, and the leading type octet keeps
// nonces of different layers disjoint.
type Nonce [NonceSize]byte

// Nonce type tags.
const (
	nonceTypeNetwork     = 0x00
	nonceTypeApplication = 0x01
	nonceTypeDevice      = 0x02
	nonceTypeProxy       = 0x03
)

// NetworkNonce builds the network-layer nonce. The second octet carries the
// CTL bit and TTL exactly as they appear in the deobfuscated header; the
// destination field is zero.
func NetworkNonce(ctlTTL uint8, seq mesh.Seq, src mesh.UnicastAddress, ivIndex mesh.IvIndex) Nonce {
	return lowerNonce(nonceTypeNetwork, ctlTTL, seq, src, ivIndex)
}

// ApplicationNonce builds the application-layer nonce.
func ApplicationNonce(szmic mesh.SzMic, seq mesh.Seq, src mesh.UnicastAddress, dst mesh.Address, ivIndex mesh.IvIndex) Nonce {
	return upperNonce(nonceTypeApplication, szmic, seq, src, dst, ivIndex)
}

// DeviceNonce builds the device-key nonce.
func DeviceNonce(szmic mesh.SzMic, seq mesh.Seq, src mesh.UnicastAddress, dst mesh.Address, ivIndex mesh.IvIndex) Nonce {
	return upperNonce(nonceTypeDevice, szmic, seq, src, dst, ivIndex)
}

// ProxyNonce builds the proxy nonce used by the GATT proxy protocol.
func ProxyNonce(seq mesh.Seq, src mesh.UnicastAddress, ivIndex mesh.IvIndex) Nonce {
	return lowerNonce(nonceTypeProxy, 0, seq, src, ivIndex)
}

// lowerNonce is the shared network/proxy layout: no destination, octet 1
// carries the CTL|TTL header octet (network) or zero (proxy).
func lowerNonce(kind, ctlTTL uint8, seq mesh.Seq, src mesh.UnicastAddress, ivIndex mesh.IvIndex) Nonce {
	var n Nonce
	n[0] = kind
	n[1] = ctlTTL
	fillNonceTail(&n, seq, 0, ivIndex)
	srcBytes := src.Bytes()
	n[5] = srcBytes[0]
	n[6] = srcBytes[1]
	return n
}

func upperNonce(kind uint8, szmic mesh.SzMic, seq mesh.Seq, src mesh.UnicastAddress, dst mesh.Address, ivIndex mesh.IvIndex) Nonce {
	var n Nonce
	n[0] = kind
	if szmic == mesh.SzMic64 {
		n[1] = 0x80
	}
	fillNonceTail(&n, seq, dst, ivIndex)
	srcBytes := src.Bytes()
	n[5] = srcBytes[0]
	n[6] = srcBytes[1]
	return n
}

// fillNonceTail writes seq (octets 2-4), dst (7-8) and the IV index (9-12).
// Octets 5-6 are the source address and are set by the callers, since the
// network nonce reuses this layout with a zeroed destination.
func fillNonceTail(n *Nonce, seq mesh.Seq, dst mesh.Address, ivIndex mesh.IvIndex) {
	seqBytes := seq.Bytes()
	n[2] = seqBytes[0]
	n[3] = seqBytes[1]
	n[4] = seqBytes[2]

	dstBytes := dst.Bytes()
	n[7] = dstBytes[0]
	n[8] = dstBytes[1]

	ivBytes := ivIndex.Bytes()
	n[9] = ivBytes[0]
	n[10] = ivBytes[1]
	n[11] = ivBytes[2]
	n[12] = ivBytes[3]
}
