// Package pdu defines the progressively decoded representations of a mesh
// message: the on-the-wire network PDU, its decrypted cleartext form, the
// lower-transport segmentation framing, the upper-transport payloads and
// the final access message. Each layer carries a metadata record threaded
// through the pipeline so the next layer knows addresses, sequence, TTL and
// key handles without re-parsing.
//
// Parsing is total: malformed input yields an error, never a panic.
package pdu
