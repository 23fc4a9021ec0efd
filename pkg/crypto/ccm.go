package crypto

import (
	"crypto/aes"
	"errors"
	"fmt"

	"github.com/pion/dtls/v3/pkg/crypto/ccm"
)

// ErrAuthenticationFailed indicates an AEAD MIC mismatch. No plaintext is
// ever returned alongside it.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrInvalidMicSize indicates a MIC length other than 4 or 8 octets.
var ErrInvalidMicSize = errors.New("invalid mic size")

// ccmLengthSize is the CCM length-field size; with a 13-octet nonce the
// length field is 15-13 = 2 octets.
const ccmLengthSize = 2

func newCCM(key Key, micSize int) (interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}, error) {
	if micSize != 4 && micSize != 8 {
		return nil, fmt.Errorf("mic of %d bytes: %w", micSize, ErrInvalidMicSize)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("aes-ccm: %w", err)
	}
	aead, err := ccm.NewCCM(block, micSize, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("aes-ccm: %w", err)
	}
	return aead, nil
}

// ccmEncrypt performs AES-CCM encryption, returning the ciphertext and a
// detached MIC of micSize (4 or 8) octets.
func ccmEncrypt(key Key, nonce Nonce, plaintext, additionalData []byte, micSize int) (ciphertext, mic []byte, err error) {
	aead, err := newCCM(key, micSize)
	if err != nil {
		return nil, nil, err
	}
	sealed := aead.Seal(nil, nonce[:], plaintext, additionalData)
	return sealed[:len(sealed)-micSize], sealed[len(sealed)-micSize:], nil
}

// ccmDecrypt performs AES-CCM decryption with a detached MIC. On MIC
// mismatch it returns ErrAuthenticationFailed and no plaintext.
func ccmDecrypt(key Key, nonce Nonce, ciphertext, mic, additionalData []byte) ([]byte, error) {
	aead, err := newCCM(key, len(mic))
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(ciphertext)+len(mic))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, mic...)
	plaintext, err := aead.Open(nil, nonce[:], sealed, additionalData)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
