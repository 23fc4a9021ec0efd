package crypto

import (
	"crypto/aes"
	"fmt"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

// NetworkKey is a network key together with the material derived from it:
// the NID discriminator, the encryption key used for the network-layer CCM
// and the privacy key used for header obfuscation.
type NetworkKey struct {
	key           Key
	encryptionKey Key
	privacyKey    Key
	nid           uint8
	networkID     mesh.NetworkID
}

// NewNetworkKey derives NID, encryption key, privacy key (k2 with the
// master credentials) and the public network ID (k3) from 128-bit key
// material.
func NewNetworkKey(key Key) (*NetworkKey, error) {
	nid, encryptionKey, privacyKey, err := K2(key[:], []byte{0x00})
	if err != nil {
		return nil, fmt.Errorf("network key derivation: %w", err)
	}
	networkID, err := K3(key)
	if err != nil {
		return nil, fmt.Errorf("network id derivation: %w", err)
	}
	return &NetworkKey{
		key:           key,
		encryptionKey: encryptionKey,
		privacyKey:    privacyKey,
		nid:           nid,
		networkID:     mesh.NetworkID(networkID),
	}, nil
}

// Bytes returns the raw key material.
func (k *NetworkKey) Bytes() Key { return k.key }

// NID returns the 7-bit network key identifier carried in network PDUs.
func (k *NetworkKey) NID() uint8 { return k.nid }

// NetworkID returns the 64-bit public network identifier (k3 output).
func (k *NetworkKey) NetworkID() mesh.NetworkID { return k.networkID }

// EncryptNetwork encrypts dst||transport payload at the network layer. The
// MIC is 4 octets for access PDUs and 8 for control PDUs, selected by the
// CTL bit folded into the nonce's second octet.
func (k *NetworkKey) EncryptNetwork(nonce Nonce, payload []byte, micSize int) (ciphertext, mic []byte, err error) {
	return ccmEncrypt(k.encryptionKey, nonce, payload, nil, micSize)
}

// DecryptNetwork authenticates and decrypts a network-layer payload.
// Returns ErrAuthenticationFailed on MIC mismatch.
func (k *NetworkKey) DecryptNetwork(nonce Nonce, ciphertext, mic []byte) ([]byte, error) {
	return ccmDecrypt(k.encryptionKey, nonce, ciphertext, mic, nil)
}

// BeaconAuthentication computes the 64-bit authentication value of a
// secure network beacon over flags || network id || iv index, using the
// beacon key derived from the network key.
func (k *NetworkKey) BeaconAuthentication(flags byte, ivIndex mesh.IvIndex) ([8]byte, error) {
	var auth [8]byte
	salt, err := S1([]byte("nkbk"))
	if err != nil {
		return auth, err
	}
	beaconKey, err := K1(k.key[:], salt, []byte{'i', 'd', '1', '2', '8', 0x01})
	if err != nil {
		return auth, err
	}

	input := make([]byte, 0, 13)
	input = append(input, flags)
	input = append(input, k.networkID[:]...)
	ivBytes := ivIndex.Bytes()
	input = append(input, ivBytes[:]...)

	mac, err := AesCmac(beaconKey, input)
	if err != nil {
		return auth, err
	}
	copy(auth[:], mac[:8])
	return auth, nil
}

// privacyRandomSize is the number of ciphertext octets mixed into the PECB.
const privacyRandomSize = 7

// ObfuscatedSize is the size of the obfuscated header region of a network
// PDU: CTL|TTL, SEQ and SRC.
const ObfuscatedSize = 6

// Obfuscate XORs the cleartext CTL|TTL / SEQ / SRC header region with the
// PECB derived from the privacy key, the IV index and the leading octets of
// the encrypted payload. The operation is its own inverse, so it also
// deobfuscates.
func (k *NetworkKey) Obfuscate(header [ObfuscatedSize]byte, encryptedAndMic []byte, ivIndex mesh.IvIndex) ([ObfuscatedSize]byte, error) {
	var out [ObfuscatedSize]byte
	if len(encryptedAndMic) < privacyRandomSize {
		return out, fmt.Errorf("privacy random needs %d bytes, got %d: %w",
			privacyRandomSize, len(encryptedAndMic), mesh.ErrInvalidLength)
	}

	var plaintext [16]byte
	ivBytes := ivIndex.Bytes()
	copy(plaintext[5:9], ivBytes[:])
	copy(plaintext[9:], encryptedAndMic[:privacyRandomSize])

	pecb, err := encryptBlock(k.privacyKey, plaintext)
	if err != nil {
		return out, err
	}
	for i := range out {
		out[i] = header[i] ^ pecb[i]
	}
	return out, nil
}

// encryptBlock is the mesh "e" function: one raw AES-128 block encryption.
func encryptBlock(key Key, data [16]byte) ([16]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return data, fmt.Errorf("aes: %w", err)
	}
	var out [16]byte
	block.Encrypt(out[:], data[:])
	return out, nil
}
