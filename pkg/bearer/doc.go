// Package bearer defines the transport boundary of the node: the Bearer
// interface carrying advertising frames, the frame tagging that separates
// provisioning, network and beacon traffic, and the beacon payloads the
// node emits. A channel-backed loopback bearer serves tests and local
// pipelines.
package bearer
