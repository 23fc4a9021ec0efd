// Package crypto implements the mesh cryptographic toolbox: the AES-CMAC
// derivation functions (s1, k1-k4), AES-CCM authenticated encryption with
// detached MICs, layer-specific nonce construction, network-header
// obfuscation and the key material types for the network, application and
// device layers.
//
// Key material is owned by whoever constructs it (normally pkg/keys); the
// functions here only borrow keys for the duration of one operation.
// Decryption is all-or-nothing: on MIC mismatch no plaintext is returned.
package crypto
