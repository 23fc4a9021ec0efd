package crypto

// DeviceKey is the node-private key shared only with the provisioner. It is
// derived with k1 from the provisioning ECDH secret and used with the
// device nonce for configuration traffic.
type DeviceKey struct {
	key Key
}

// NewDeviceKey wraps existing 128-bit device key material.
func NewDeviceKey(key Key) DeviceKey {
	return DeviceKey{key: key}
}

// DeriveDeviceKey derives the device key from the provisioning shared
// secret and salt.
func DeriveDeviceKey(secret []byte, salt Key) (DeviceKey, error) {
	key, err := K1(secret, salt, []byte("prdk"))
	if err != nil {
		return DeviceKey{}, err
	}
	return DeviceKey{key: key}, nil
}

// Bytes returns the raw key material.
func (k DeviceKey) Bytes() Key { return k.key }

// Encrypt encrypts an access payload under the device key.
func (k DeviceKey) Encrypt(nonce Nonce, payload []byte, micSize int) (ciphertext, mic []byte, err error) {
	return ccmEncrypt(k.key, nonce, payload, nil, micSize)
}

// Decrypt authenticates and decrypts an access payload under the device key.
func (k DeviceKey) Decrypt(nonce Nonce, ciphertext, mic []byte) ([]byte, error) {
	return ccmDecrypt(k.key, nonce, ciphertext, mic, nil)
}
