// Package storage persists the node's provisioned configuration: sequence
// baseline, network state, key material, device identity and subscriptions.
// A BackingStore abstracts the medium (memory for tests, a CBOR file for
// real nodes); the Storage manager owns the in-memory copy and writes it
// back on state-changing events.
//
// On startup the persisted sequence baseline is snapped forward to the
// next multiple of 100, so sequence numbers allocated since the last write
// can never be reused even after an unclean shutdown.
package storage
