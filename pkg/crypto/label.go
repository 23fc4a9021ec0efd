package crypto

import (
	"github.com/google/uuid"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

// VirtualAddressOf computes the virtual address a label UUID hashes to:
// the last two octets of AES-CMAC(s1("vtad"), uuid), forced into the
// virtual address range.
func VirtualAddressOf(label uuid.UUID) (mesh.VirtualAddress, error) {
	salt, err := S1([]byte("vtad"))
	if err != nil {
		return 0, err
	}
	hash, err := AesCmac(salt, label[:])
	if err != nil {
		return 0, err
	}
	raw := uint16(hash[14])<<8 | uint16(hash[15])
	return mesh.NewVirtualAddress(raw&0x3FFF | 0x8000)
}
