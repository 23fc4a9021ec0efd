// Package stack is the layered pipeline of a provisioned node. Inbound
// network PDUs are deobfuscated and trial-decrypted against every network
// key sharing the advertised NID, deduplicated, checked for replay, carried
// through lower-transport reassembly and finally authenticated at the upper
// transport with the device key or an application key. The outbound path
// mirrors it: access message, upper encryption, segmentation, network
// encryption and obfuscation. Segmented sends sit in a transmit queue until
// the peer's segment acknowledgements retire them.
package stack
