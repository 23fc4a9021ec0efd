package crypto

import (
	"crypto/aes"
	"fmt"

	"github.com/aead/cmac"
)

// KeySize is the size of all mesh key material in bytes.
const KeySize = 16

// Key is 128-bit key material.
type Key [KeySize]byte

// ParseKey copies a 16-octet slice into a Key.
func ParseKey(data []byte) (Key, error) {
	var k Key
	if len(data) != KeySize {
		return k, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(data))
	}
	copy(k[:], data)
	return k, nil
}

// AesCmac computes AES-CMAC(key, input) per RFC 4493.
func AesCmac(key Key, input []byte) (Key, error) {
	var out Key
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return out, fmt.Errorf("aes-cmac: %w", err)
	}
	mac, err := cmac.New(block)
	if err != nil {
		return out, fmt.Errorf("aes-cmac: %w", err)
	}
	mac.Write(input)
	copy(out[:], mac.Sum(nil))
	return out, nil
}

// S1 is the mesh SALT generation function: AES-CMAC with an all-zero key.
func S1(input []byte) (Key, error) {
	return AesCmac(Key{}, input)
}

// K1 is the generic mesh key derivation: T = AES-CMAC(salt, n);
// result = AES-CMAC(T, p). Every derived key (session keys, confirmation
// key, device key) is obtained by varying only the p label.
func K1(n []byte, salt Key, p []byte) (Key, error) {
	t, err := AesCmac(salt, n)
	if err != nil {
		return Key{}, err
	}
	return AesCmac(t, p)
}

// K2 is the network-key material derivation, producing the NID and the
// encryption and privacy keys for a network key n and distribution
// parameter p (0x00 for the master credentials).
func K2(n []byte, p []byte) (nid uint8, encryptionKey, privacyKey Key, err error) {
	salt, err := S1([]byte("smk2"))
	if err != nil {
		return 0, Key{}, Key{}, err
	}
	t, err := AesCmac(salt, n)
	if err != nil {
		return 0, Key{}, Key{}, err
	}

	t1, err := AesCmac(t, append(append([]byte{}, p...), 0x01))
	if err != nil {
		return 0, Key{}, Key{}, err
	}
	nid = t1[15] & 0x7F

	t2, err := AesCmac(t, append(append(append([]byte{}, t1[:]...), p...), 0x02))
	if err != nil {
		return 0, Key{}, Key{}, err
	}

	t3, err := AesCmac(t, append(append(append([]byte{}, t2[:]...), p...), 0x03))
	if err != nil {
		return 0, Key{}, Key{}, err
	}

	return nid, t2, t3, nil
}

// K3 derives the 64-bit public network ID from a network key.
func K3(n Key) ([8]byte, error) {
	var id [8]byte
	salt, err := S1([]byte("smk3"))
	if err != nil {
		return id, err
	}
	t, err := AesCmac(salt, n[:])
	if err != nil {
		return id, err
	}
	out, err := AesCmac(t, []byte{'i', 'd', '6', '4', 0x01})
	if err != nil {
		return id, err
	}
	copy(id[:], out[KeySize-8:])
	return id, nil
}

// K4 derives the 6-bit AID from an application key.
func K4(n Key) (uint8, error) {
	salt, err := S1([]byte("smk4"))
	if err != nil {
		return 0, err
	}
	t, err := AesCmac(salt, n[:])
	if err != nil {
		return 0, err
	}
	out, err := AesCmac(t, []byte{'i', 'd', '6', 0x01})
	if err != nil {
		return 0, err
	}
	return out[KeySize-1] & 0x3F, nil
}
