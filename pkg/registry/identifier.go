package registry

import (
	"fmt"

	"github.com/btmesh-protocol/btmesh-go/pkg/mesh"
)

// ModelID identifies a model: a 16-bit SIG-assigned identifier, or a
// vendor identifier qualified by a company identifier.
type ModelID struct {
	vendor    bool
	companyID uint16
	modelID   uint16
}

// SigModelID builds a SIG model identifier.
func SigModelID(id uint16) ModelID {
	return ModelID{modelID: id}
}

// VendorModelID builds a vendor model identifier.
func VendorModelID(companyID, id uint16) ModelID {
	return ModelID{vendor: true, companyID: companyID, modelID: id}
}

// ParseModelID decodes a little-endian model identifier: 2 octets for a
// SIG model, 4 for a vendor model.
func ParseModelID(data []byte) (ModelID, error) {
	switch len(data) {
	case 2:
		return SigModelID(uint16(data[0]) | uint16(data[1])<<8), nil
	case 4:
		return VendorModelID(
			uint16(data[0])|uint16(data[1])<<8,
			uint16(data[2])|uint16(data[3])<<8,
		), nil
	default:
		return ModelID{}, fmt.Errorf("model identifier of %d bytes: %w", len(data), mesh.ErrInvalidLength)
	}
}

// IsVendor reports whether this is a vendor model.
func (m ModelID) IsVendor() bool { return m.vendor }

// CompanyID returns the company identifier of a vendor model, zero for SIG
// models.
func (m ModelID) CompanyID() uint16 { return m.companyID }

// ID returns the 16-bit model identifier.
func (m ModelID) ID() uint16 { return m.modelID }

// Emit appends the little-endian encoding. Composition data and the
// configuration messages carry model identifiers little-endian, unlike the
// rest of the protocol.
func (m ModelID) Emit(out []byte) []byte {
	if m.vendor {
		out = append(out, byte(m.companyID), byte(m.companyID>>8))
	}
	return append(out, byte(m.modelID), byte(m.modelID>>8))
}

func (m ModelID) String() string {
	if m.vendor {
		return fmt.Sprintf("Vendor(%#04x, %#04x)", m.companyID, m.modelID)
	}
	return fmt.Sprintf("SIG(%#04x)", m.modelID)
}
