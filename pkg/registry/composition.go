package registry

// Features is the feature support bitmap advertised in composition data.
type Features struct {
	Relay    bool
	Proxy    bool
	Friend   bool
	LowPower bool
}

// Emit encodes the 16-bit feature field. Bits 4..15 are reserved.
func (f Features) Emit() uint16 {
	var v uint16
	if f.Relay {
		v |= 0x0001
	}
	if f.Proxy {
		v |= 0x0002
	}
	if f.Friend {
		v |= 0x0004
	}
	if f.LowPower {
		v |= 0x0008
	}
	return v
}

// Identity is the manufacturer identity carried in composition data.
type Identity struct {
	// CompanyID is the Bluetooth-assigned company identifier.
	CompanyID uint16
	// ProductID identifies the product within the company.
	ProductID uint16
	// VersionID identifies the product version.
	VersionID uint16
}

// Composition is the device description announced in composition data
// page 0: identity, replay-list capacity, features and the per-element
// model lists.
type Composition struct {
	Identity Identity
	// CRPL is the replay protection list capacity.
	CRPL     uint16
	Features Features
	Elements []ElementDescriptor
}

// ElementDescriptor is one element's entry in the composition.
type ElementDescriptor struct {
	// Location is the GATT namespace descriptor of the element.
	Location uint16
	Models   []ModelID
}

// EmitPage0 encodes composition data page 0. All fields are little-endian.
func (c Composition) EmitPage0() []byte {
	out := make([]byte, 0, 10+len(c.Elements)*4)
	out = appendUint16(out, c.Identity.CompanyID)
	out = appendUint16(out, c.Identity.ProductID)
	out = appendUint16(out, c.Identity.VersionID)
	out = appendUint16(out, c.CRPL)
	out = appendUint16(out, c.Features.Emit())
	for _, element := range c.Elements {
		out = appendUint16(out, element.Location)
		var sig, vendor []ModelID
		for _, id := range element.Models {
			if id.IsVendor() {
				vendor = append(vendor, id)
			} else {
				sig = append(sig, id)
			}
		}
		out = append(out, byte(len(sig)), byte(len(vendor)))
		for _, id := range sig {
			out = id.Emit(out)
		}
		for _, id := range vendor {
			out = id.Emit(out)
		}
	}
	return out
}

func appendUint16(out []byte, v uint16) []byte {
	return append(out, byte(v), byte(v>>8))
}
