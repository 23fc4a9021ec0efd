package crypto

// ApplicationKey is an application key with its derived 6-bit AID.
type ApplicationKey struct {
	key Key
	aid uint8
}

// NewApplicationKey derives the AID (k4) from 128-bit key material.
func NewApplicationKey(key Key) (*ApplicationKey, error) {
	aid, err := K4(key)
	if err != nil {
		return nil, err
	}
	return &ApplicationKey{key: key, aid: aid}, nil
}

// Bytes returns the raw key material.
func (k *ApplicationKey) Bytes() Key { return k.key }

// AID returns the 6-bit application key identifier carried in lower
// transport PDUs.
func (k *ApplicationKey) AID() uint8 { return k.aid }

// Encrypt encrypts an access payload. For virtual destinations the label
// UUID is passed as additional authenticated data; for all other
// destinations labelUUID is nil.
func (k *ApplicationKey) Encrypt(nonce Nonce, payload, labelUUID []byte, micSize int) (ciphertext, mic []byte, err error) {
	return ccmEncrypt(k.key, nonce, payload, labelUUID, micSize)
}

// Decrypt authenticates and decrypts an access payload, with the label
// UUID as additional data for virtual destinations.
func (k *ApplicationKey) Decrypt(nonce Nonce, ciphertext, mic, labelUUID []byte) ([]byte, error) {
	return ccmDecrypt(k.key, nonce, ciphertext, mic, labelUUID)
}
