package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

func mustKey(t *testing.T, s string) Key {
	t.Helper()
	data, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	k, err := ParseKey(data)
	if err != nil {
		t.Fatalf("bad key %q: %v", s, err)
	}
	return k
}

func mustBytes(t *testing.T, s string) []byte {
	t.Helper()
	data, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return data
}

func TestS1(t *testing.T) {
	got, err := S1([]byte("test"))
	if err != nil {
		t.Fatal(err)
	}
	want := mustKey(t, "b73cefbd641ef2ea598c2b6efb62f79c")
	if got != want {
		t.Errorf("s1(test) = %x, want %x", got, want)
	}
}

func TestK1(t *testing.T) {
	n := mustBytes(t, "3216d1509884b533248541792b877f98")
	salt := mustKey(t, "2ba14ffa0df84a2831938d57d276cab4")
	p := mustBytes(t, "5a09d60797eeb4478aada59db3352a0d")

	got, err := K1(n, salt, p)
	if err != nil {
		t.Fatal(err)
	}
	want := mustKey(t, "f6ed15a8934afbe7d83e8dcb57fcf5d7")
	if got != want {
		t.Errorf("k1 = %x, want %x", got, want)
	}
}

func TestK2Master(t *testing.T) {
	n := mustBytes(t, "f7a2a44f8e8a8029064f173ddc1e2b00")

	nid, encryptionKey, privacyKey, err := K2(n, []byte{0x00})
	if err != nil {
		t.Fatal(err)
	}
	if nid != 0x7f {
		t.Errorf("nid = %#02x, want 0x7f", nid)
	}
	if want := mustKey(t, "9f589181a0f50de73c8070c7a6d27f46"); encryptionKey != want {
		t.Errorf("encryption key = %x, want %x", encryptionKey, want)
	}
	if want := mustKey(t, "4c715bd4a64b938f99b453351653124f"); privacyKey != want {
		t.Errorf("privacy key = %x, want %x", privacyKey, want)
	}
}

func TestK3(t *testing.T) {
	n := mustKey(t, "f7a2a44f8e8a8029064f173ddc1e2b00")
	got, err := K3(n)
	if err != nil {
		t.Fatal(err)
	}
	want := mustBytes(t, "ff046958233db014")
	if !bytes.Equal(got[:], want) {
		t.Errorf("k3 = %x, want %x", got, want)
	}
}

func TestK4(t *testing.T) {
	n := mustKey(t, "3216d1509884b533248541792b877f98")
	got, err := K4(n)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x38 {
		t.Errorf("k4 = %#02x, want 0x38", got)
	}
}

func TestNetworkKeyDerivation(t *testing.T) {
	key, err := NewNetworkKey(mustKey(t, "7dd7364cd842ad18c17c2b820c84c3d6"))
	if err != nil {
		t.Fatal(err)
	}
	if key.NID() != 0x68 {
		t.Errorf("nid = %#02x, want 0x68", key.NID())
	}
	if want := mustKey(t, "0953fa93e7caac9638f58820220a398e"); key.encryptionKey != want {
		t.Errorf("encryption key = %x, want %x", key.encryptionKey, want)
	}
	if want := mustKey(t, "8b84eedec100067d670971dd2aa700cf"); key.privacyKey != want {
		t.Errorf("privacy key = %x, want %x", key.privacyKey, want)
	}
}

func TestBeaconAuthentication(t *testing.T) {
	key, err := NewNetworkKey(mustKey(t, "7dd7364cd842ad18c17c2b820c84c3d6"))
	if err != nil {
		t.Fatal(err)
	}
	auth, err := key.BeaconAuthentication(0x00, 0x12345678)
	if err != nil {
		t.Fatal(err)
	}
	again, err := key.BeaconAuthentication(0x00, 0x12345678)
	if err != nil {
		t.Fatal(err)
	}
	if auth != again {
		t.Error("authentication value not deterministic")
	}
	flipped, err := key.BeaconAuthentication(0x02, 0x12345678)
	if err != nil {
		t.Fatal(err)
	}
	if flipped == auth {
		t.Error("flags not covered by authentication value")
	}
	rolled, err := key.BeaconAuthentication(0x00, 0x12345679)
	if err != nil {
		t.Fatal(err)
	}
	if rolled == auth {
		t.Error("iv index not covered by authentication value")
	}
}

func TestNetworkNonce(t *testing.T) {
	seq, err := mesh.ParseSeq(0x000001)
	if err != nil {
		t.Fatal(err)
	}
	src, err := mesh.ParseUnicastAddress([]byte{0x12, 0x01})
	if err != nil {
		t.Fatal(err)
	}
	iv, err := mesh.ParseIvIndex([]byte{0x12, 0x34, 0x56, 0x78})
	if err != nil {
		t.Fatal(err)
	}

	got := NetworkNonce(0x80, seq, src, iv)
	want := mustBytes(t, "00800000011201000012345678")
	if !bytes.Equal(got[:], want) {
		t.Errorf("nonce = %x, want %x", got, want)
	}
}

func TestApplicationNonceSzMic(t *testing.T) {
	seq, _ := mesh.ParseSeq(0x3129ab)
	src, _ := mesh.ParseUnicastAddress([]byte{0x00, 0x03})
	iv, _ := mesh.ParseIvIndex([]byte{0x12, 0x34, 0x56, 0x78})
	dst := mesh.Address(0x1201)

	small := ApplicationNonce(mesh.SzMic32, seq, src, dst, iv)
	if small[0] != 0x01 || small[1] != 0x00 {
		t.Errorf("szmic32 header = %x %x, want 01 00", small[0], small[1])
	}
	large := ApplicationNonce(mesh.SzMic64, seq, src, dst, iv)
	if large[1] != 0x80 {
		t.Errorf("szmic64 flag octet = %#02x, want 0x80", large[1])
	}
	device := DeviceNonce(mesh.SzMic32, seq, src, dst, iv)
	if device[0] != 0x02 {
		t.Errorf("device nonce type = %#02x, want 0x02", device[0])
	}
}

func TestNetworkRoundTrip(t *testing.T) {
	key, err := NewNetworkKey(mustKey(t, "7dd7364cd842ad18c17c2b820c84c3d6"))
	if err != nil {
		t.Fatal(err)
	}
	seq, _ := mesh.ParseSeq(0x000001)
	src, _ := mesh.ParseUnicastAddress([]byte{0x12, 0x01})
	iv, _ := mesh.ParseIvIndex([]byte{0x12, 0x34, 0x56, 0x78})
	nonce := NetworkNonce(0x80, seq, src, iv)

	payload := mustBytes(t, "fffd034b50057e400000010000")
	ciphertext, mic, err := key.EncryptNetwork(nonce, payload, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(mic) != 8 {
		t.Fatalf("mic length = %d, want 8", len(mic))
	}

	plaintext, err := key.DecryptNetwork(nonce, ciphertext, mic)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plaintext, payload) {
		t.Errorf("round trip = %x, want %x", plaintext, payload)
	}

	// Any bit flip must fail authentication without leaking plaintext.
	tampered := append([]byte{}, ciphertext...)
	tampered[0] ^= 0x01
	if _, err := key.DecryptNetwork(nonce, tampered, mic); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("tampered ciphertext: err = %v, want ErrAuthenticationFailed", err)
	}
	badMic := append([]byte{}, mic...)
	badMic[7] ^= 0x80
	if _, err := key.DecryptNetwork(nonce, ciphertext, badMic); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("tampered mic: err = %v, want ErrAuthenticationFailed", err)
	}
}

func TestApplicationRoundTripWithLabel(t *testing.T) {
	key, err := NewApplicationKey(mustKey(t, "63964771734fbd76e3b40519d1d94a48"))
	if err != nil {
		t.Fatal(err)
	}
	if key.AID() != 0x26 {
		t.Errorf("aid = %#02x, want 0x26", key.AID())
	}

	seq, _ := mesh.ParseSeq(0x000007)
	src, _ := mesh.ParseUnicastAddress([]byte{0x12, 0x01})
	iv, _ := mesh.ParseIvIndex([]byte{0x12, 0x34, 0x56, 0x78})
	dst := mesh.Address(0x9736)
	nonce := ApplicationNonce(mesh.SzMic32, seq, src, dst, iv)

	label := mustBytes(t, "f4a002c7fb1e4ca0a469a021de0db875")
	payload := mustBytes(t, "d50a0048656c6c6f")
	ciphertext, mic, err := key.Encrypt(nonce, payload, label, 4)
	if err != nil {
		t.Fatal(err)
	}

	plaintext, err := key.Decrypt(nonce, ciphertext, mic, label)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plaintext, payload) {
		t.Errorf("round trip = %x, want %x", plaintext, payload)
	}

	// The wrong label is an AAD mismatch, so trial decryption moves on.
	wrongLabel := mustBytes(t, "a04bf881e4a7bf702dfee1638ab8b2b3")
	if _, err := key.Decrypt(nonce, ciphertext, mic, wrongLabel); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("wrong label: err = %v, want ErrAuthenticationFailed", err)
	}
}

func TestDeviceKeyRoundTrip(t *testing.T) {
	key := NewDeviceKey(mustKey(t, "9d6dd0e96eb25dc19a40ed9914f8f03f"))

	seq, _ := mesh.ParseSeq(0x3129ab)
	src, _ := mesh.ParseUnicastAddress([]byte{0x00, 0x03})
	iv, _ := mesh.ParseIvIndex([]byte{0x12, 0x34, 0x56, 0x78})
	dst := mesh.Address(0x1201)
	nonce := DeviceNonce(mesh.SzMic32, seq, src, dst, iv)

	payload := mustBytes(t, "0056341263964771734fbd76e3b40519d1d94a48")
	ciphertext, mic, err := key.Encrypt(nonce, payload, 4)
	if err != nil {
		t.Fatal(err)
	}
	plaintext, err := key.Decrypt(nonce, ciphertext, mic)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plaintext, payload) {
		t.Errorf("round trip = %x, want %x", plaintext, payload)
	}
}

func TestObfuscateIsSelfInverse(t *testing.T) {
	key, err := NewNetworkKey(mustKey(t, "7dd7364cd842ad18c17c2b820c84c3d6"))
	if err != nil {
		t.Fatal(err)
	}
	iv, _ := mesh.ParseIvIndex([]byte{0x12, 0x34, 0x56, 0x78})

	header := [ObfuscatedSize]byte{0x80, 0x00, 0x00, 0x01, 0x12, 0x01}
	encrypted := mustBytes(t, "b5e5bfdacbaf6cb7fb6bff871f035444ce83a670df")

	obfuscated, err := key.Obfuscate(header, encrypted, iv)
	if err != nil {
		t.Fatal(err)
	}
	if obfuscated == header {
		t.Fatal("obfuscation left the header unchanged")
	}

	restored, err := key.Obfuscate(obfuscated, encrypted, iv)
	if err != nil {
		t.Fatal(err)
	}
	if restored != header {
		t.Errorf("deobfuscated = %x, want %x", restored, header)
	}

	if _, err := key.Obfuscate(header, encrypted[:5], iv); err == nil {
		t.Error("short privacy random: expected error")
	}
}

func TestVirtualAddressOf(t *testing.T) {
	label, err := uuid.FromBytes(mustBytes(t, "a04bf881e4a7bf702dfee1638ab8b2b3"))
	if err != nil {
		t.Fatal(err)
	}
	addr, err := VirtualAddressOf(label)
	if err != nil {
		t.Fatal(err)
	}
	if addr.Address() != 0x800f {
		t.Errorf("virtual address = %#04x, want 0x800f", uint16(addr))
	}
}

func TestProvisioningDataRoundTrip(t *testing.T) {
	secret := mustBytes(t, "ab85843a2f6d883f62e5684b38e307335fe6e1945ecd19604105c6f23221eb69")
	salt := mustKey(t, "5faabe187337c71cc6c973369dcaa79a")

	sessionKey, err := SessionKey(secret, salt)
	if err != nil {
		t.Fatal(err)
	}
	nonce, err := SessionNonce(secret, salt)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ConfirmationKey(secret, salt); err != nil {
		t.Fatal(err)
	}

	data := mustBytes(t, "efb2255e6422d330088e09bb015ed707056700010203040b0c")
	sealed, err := EncryptProvisioningData(sessionKey, nonce, data)
	if err != nil {
		t.Fatal(err)
	}
	if len(sealed) != len(data)+8 {
		t.Fatalf("sealed length = %d, want %d", len(sealed), len(data)+8)
	}
	opened, err := DecryptProvisioningData(sessionKey, nonce, sealed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(opened, data) {
		t.Errorf("round trip = %x, want %x", opened, data)
	}

	if _, err := DecryptProvisioningData(sessionKey, nonce, sealed[:4]); err == nil {
		t.Error("truncated provisioning data: expected error")
	}
}
