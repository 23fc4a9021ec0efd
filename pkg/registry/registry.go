package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/btmesh-protocol/btmesh-go/pkg/pdu"
)

var (
	// ErrElementNotFound indicates a message addressed past the last
	// element.
	ErrElementNotFound = errors.New("element not found")
	// ErrModelNotFound indicates no model on the target element handles
	// the opcode. Callers drop the message without aborting.
	ErrModelNotFound = errors.New("model not found")
	// ErrDuplicateModel indicates a model identifier already present on
	// the element.
	ErrDuplicateModel = errors.New("duplicate model identifier")
	// ErrDuplicateOpcode indicates two models on one element claiming the
	// same opcode.
	ErrDuplicateOpcode = errors.New("duplicate opcode")
	// ErrTooManyElements indicates the element index space is exhausted.
	ErrTooManyElements = errors.New("too many elements")
)

// Dispatcher is the outbound path a model replies through. The message
// carries its own addressing and key-handle metadata.
type Dispatcher interface {
	Send(ctx context.Context, message *pdu.AccessMessage) error
	// SendWithCompletion completes the signal once the message has been
	// handed to the bearer, or failed.
	SendWithCompletion(ctx context.Context, message *pdu.AccessMessage, signal *Completion) error
}

// Model answers access messages on an element. Opcodes declares the
// opcodes the model handles; the registry routes on them.
type Model interface {
	Identifier() ModelID
	Opcodes() []pdu.Opcode
	Handle(ctx context.Context, message *pdu.AccessMessage, out Dispatcher) error
}

// Element is one addressable unit of the node, holding its models.
type Element struct {
	index    uint8
	location uint16
	models   []Model
	byOpcode map[pdu.Opcode]Model
}

// Index returns the element's position, element 0 being primary.
func (e *Element) Index() uint8 { return e.index }

// Location returns the element's GATT namespace descriptor.
func (e *Element) Location() uint16 { return e.location }

// AddModel registers a model on the element. Model identifiers and the
// opcodes they claim must be unique per element.
func (e *Element) AddModel(model Model) error {
	id := model.Identifier()
	for _, existing := range e.models {
		if existing.Identifier() == id {
			return fmt.Errorf("element %d model %s: %w", e.index, id, ErrDuplicateModel)
		}
	}
	for _, opcode := range model.Opcodes() {
		if _, taken := e.byOpcode[opcode]; taken {
			return fmt.Errorf("element %d opcode %x: %w", e.index, opcode.Bytes(), ErrDuplicateOpcode)
		}
	}
	for _, opcode := range model.Opcodes() {
		e.byOpcode[opcode] = model
	}
	e.models = append(e.models, model)
	return nil
}

// Models returns the element's models in registration order.
func (e *Element) Models() []Model {
	return append([]Model{}, e.models...)
}

func (e *Element) modelFor(opcode pdu.Opcode) (Model, bool) {
	model, ok := e.byOpcode[opcode]
	return model, ok
}

// Registry is the node's element and model hierarchy. Build it before
// starting the driver; it is not safe for concurrent mutation.
type Registry struct {
	identity Identity
	crpl     uint16
	features Features
	elements []*Element
}

// New starts an empty registry carrying the manufacturer identity.
func New(identity Identity) *Registry {
	return &Registry{identity: identity}
}

// SetFeatures records the feature bitmap announced in composition data.
func (r *Registry) SetFeatures(features Features) { r.features = features }

// SetCRPL records the replay protection list capacity announced in
// composition data.
func (r *Registry) SetCRPL(crpl uint16) { r.crpl = crpl }

// AddElement appends an element; indices are assigned consecutively.
func (r *Registry) AddElement(location uint16) (*Element, error) {
	if len(r.elements) > 0xFF {
		return nil, ErrTooManyElements
	}
	element := &Element{
		index:    uint8(len(r.elements)),
		location: location,
		byOpcode: make(map[pdu.Opcode]Model),
	}
	r.elements = append(r.elements, element)
	return element, nil
}

// ElementCount returns how many elements are registered.
func (r *Registry) ElementCount() uint8 { return uint8(len(r.elements)) }

// Element returns the element at an index.
func (r *Registry) Element(index uint8) (*Element, error) {
	if int(index) >= len(r.elements) {
		return nil, fmt.Errorf("element %d of %d: %w", index, len(r.elements), ErrElementNotFound)
	}
	return r.elements[index], nil
}

// Composition builds the composition data describing the hierarchy.
func (r *Registry) Composition() Composition {
	out := Composition{
		Identity: r.identity,
		CRPL:     r.crpl,
		Features: r.features,
	}
	for _, element := range r.elements {
		descriptor := ElementDescriptor{Location: element.location}
		for _, model := range element.models {
			descriptor.Models = append(descriptor.Models, model.Identifier())
		}
		out.Elements = append(out.Elements, descriptor)
	}
	return out
}

// Dispatch routes an inbound access message to the model claiming its
// opcode. A unicast destination selects one element; group and virtual
// destinations reach every element with a matching model.
func (r *Registry) Dispatch(ctx context.Context, message *pdu.AccessMessage, out Dispatcher) error {
	meta := message.AccessMeta()
	opcode := message.Opcode()

	if meta.LocalElementIndex != pdu.NoLocalElement {
		element, err := r.Element(uint8(meta.LocalElementIndex))
		if err != nil {
			return err
		}
		model, ok := element.modelFor(opcode)
		if !ok {
			return fmt.Errorf("element %d opcode %x: %w", element.index, opcode.Bytes(), ErrModelNotFound)
		}
		return model.Handle(ctx, message, out)
	}

	var handled bool
	for _, element := range r.elements {
		model, ok := element.modelFor(opcode)
		if !ok {
			continue
		}
		if err := model.Handle(ctx, message, out); err != nil {
			return err
		}
		handled = true
	}
	if !handled {
		return fmt.Errorf("opcode %x: %w", opcode.Bytes(), ErrModelNotFound)
	}
	return nil
}
