package keys

// NetworkKeyHandle identifies a stored network key slot together with the
// NID it advertises.
type NetworkKeyHandle struct {
	Index uint8
	NID   uint8
}

// ApplicationKeyHandle identifies a stored application key slot together
// with the AID it advertises.
type ApplicationKeyHandle struct {
	Index uint8
	AID   uint8
}

// KeyHandleKind discriminates the KeyHandle union.
type KeyHandleKind uint8

const (
	KeyHandleDevice KeyHandleKind = iota
	KeyHandleNetwork
	KeyHandleApplication
)

// KeyHandle selects which key protects an upper-transport payload: the
// device key, a network key or an application key.
type KeyHandle struct {
	Kind        KeyHandleKind
	Network     NetworkKeyHandle
	Application ApplicationKeyHandle
}

// DeviceKeyHandle returns the handle selecting the node's device key.
func DeviceKeyHandle() KeyHandle {
	return KeyHandle{Kind: KeyHandleDevice}
}

// ForNetworkKey wraps a network key handle.
func ForNetworkKey(h NetworkKeyHandle) KeyHandle {
	return KeyHandle{Kind: KeyHandleNetwork, Network: h}
}

// ForApplicationKey wraps an application key handle.
func ForApplicationKey(h ApplicationKeyHandle) KeyHandle {
	return KeyHandle{Kind: KeyHandleApplication, Application: h}
}
