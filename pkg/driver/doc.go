// Package driver is the top of the node: a two-state machine over the
// protocol stack. An unprovisioned node only emits unprovisioned device
// beacons and waits for provisioning; a provisioned node runs the full
// pipeline, relaying, acknowledging segments, dispatching access messages
// to the model registry and ticking retransmissions and secure beacons.
//
// The driver owns the single inbound-processing goroutine the stack
// requires; outbound sends from models are serialized against it.
package driver
