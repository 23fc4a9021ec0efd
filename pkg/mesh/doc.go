// Package mesh defines the scalar protocol types shared by every layer of
// the stack: sequence numbers, the IV index epoch, TTL, addresses and the
// small bitfield types that appear in PDU headers.
//
// All parse functions in this package are total over arbitrary byte input:
// they return an error for malformed data and never panic.
package mesh
