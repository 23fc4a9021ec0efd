// Package registry holds the runtime element and model hierarchy of a
// node. Elements are added in order and receive consecutive indices; each
// element carries the models that answer access messages addressed to it.
// The registry routes inbound access messages to models by element index
// and opcode, and emits the composition data describing the hierarchy.
package registry
