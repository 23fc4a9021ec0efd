package crypto

import "fmt"

// Provisioning session material derived from the ECDH shared secret. The
// session key and nonce protect the provisioning data PDU; the confirmation
// key feeds the confirmation value exchange.

// SessionKey derives the provisioning session key (prsk).
func SessionKey(secret []byte, salt Key) (Key, error) {
	return K1(secret, salt, []byte("prsk"))
}

// SessionNonce derives the 13-octet provisioning nonce (prsn): the least
// significant 13 octets of the k1 output.
func SessionNonce(secret []byte, salt Key) (Nonce, error) {
	var n Nonce
	out, err := K1(secret, salt, []byte("prsn"))
	if err != nil {
		return n, err
	}
	copy(n[:], out[KeySize-NonceSize:])
	return n, nil
}

// ConfirmationKey derives the provisioning confirmation key (prck).
func ConfirmationKey(secret []byte, salt Key) (Key, error) {
	return K1(secret, salt, []byte("prck"))
}

// provisioningMicSize is the MIC size of the provisioning data PDU.
const provisioningMicSize = 8

// EncryptProvisioningData encrypts the provisioning data payload under the
// session key with an 8-octet MIC, returning ciphertext||mic as sent on the
// wire.
func EncryptProvisioningData(sessionKey Key, nonce Nonce, data []byte) ([]byte, error) {
	ciphertext, mic, err := ccmEncrypt(sessionKey, nonce, data, nil, provisioningMicSize)
	if err != nil {
		return nil, err
	}
	return append(ciphertext, mic...), nil
}

// DecryptProvisioningData authenticates and decrypts a provisioning data
// PDU (ciphertext||mic).
func DecryptProvisioningData(sessionKey Key, nonce Nonce, data []byte) ([]byte, error) {
	if len(data) < provisioningMicSize {
		return nil, fmt.Errorf("provisioning data of %d bytes: %w", len(data), ErrAuthenticationFailed)
	}
	split := len(data) - provisioningMicSize
	return ccmDecrypt(sessionKey, nonce, data[:split], data[split:], nil)
}
