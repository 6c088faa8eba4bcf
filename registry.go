package transport

import (
	"encoding/binary"
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// tagFrameLength is the width of the fixed discriminator prefixed to every
// payload after decryption/decompression: a 4-byte big-endian tag naming
// which registered Message variant the field-tagged body deserializes into.
const tagFrameLength = 4

// unknownTag is reserved for UnknownMessage and is never handed out to a
// real registration.
const unknownTag uint32 = 0

// factory constructs a fresh zero-value Message for a registered variant.
type factory func() Message

// Registry is the process-wide, tagged-union table mapping small integer
// tags to concrete Message variants. Tags are assigned in registration
// order starting at 1. The registry must be frozen before any connection
// built from it starts accepting traffic. Register, TagOf and New are
// serialized by an internal RWMutex, so registration never races with
// concurrent serialization at the memory level.
type Registry struct {
	mu      sync.RWMutex
	byTag   map[uint32]factory
	byType  map[reflect.Type]uint32
	nextTag uint32
	frozen  bool
}

// NewRegistry returns an empty Registry. UnknownMessage is implicitly
// available at the reserved tag 0 and does not need to be registered.
func NewRegistry() *Registry {
	return &Registry{
		byTag:  make(map[uint32]factory),
		byType: make(map[reflect.Type]uint32),
	}
}

// Register adds variant to the table, assigning it the next tag in
// registration order. Re-registering a variant already present (by
// reflect.Type of sample itself, so *Ping and Ping are distinct variants)
// is a no-op and returns the tag it
// already holds. Register panics if called after Freeze: registration
// order determines wire tags, so mutating the table once connections may
// already be relying on it is always a bug, not a runtime condition to
// recover from.
func (r *Registry) Register(sample Message) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		panic("transport: Register called on a frozen Registry")
	}

	typ := variantType(sample)
	if tag, ok := r.byType[typ]; ok {
		return tag
	}

	r.nextTag++
	tag := r.nextTag
	r.byTag[tag] = newFactory(typ)
	r.byType[typ] = tag
	return tag
}

// Freeze marks the registry read-only. Subsequent Register calls panic.
// Callers are expected to register every variant and Freeze before the
// listener starts accepting connections.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// TagOf returns the wire tag assigned to msg's concrete type, and whether
// it is registered at all.
func (r *Registry) TagOf(msg Message) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tag, ok := r.byType[variantType(msg)]
	return tag, ok
}

// New constructs a fresh zero-value Message for tag. It returns an
// *UnknownMessage (with Tag set, Body left empty for the caller to fill) if
// tag is not registered.
func (r *Registry) New(tag uint32) Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if tag == unknownTag {
		return &UnknownMessage{Tag: tag}
	}
	if f, ok := r.byTag[tag]; ok {
		return f()
	}
	return &UnknownMessage{Tag: tag}
}

// EncodeEnvelope writes the tag-frame followed by msg's marshaled body.
// Returns an error if msg's concrete type was never registered.
func (r *Registry) EncodeEnvelope(msg Message) ([]byte, error) {
	tag, ok := r.TagOf(msg)
	if !ok {
		return nil, errors.Errorf("transport: message type %T is not registered", msg)
	}

	body, err := msg.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal message body")
	}

	envelope := make([]byte, tagFrameLength+len(body))
	binary.BigEndian.PutUint32(envelope[:tagFrameLength], tag)
	copy(envelope[tagFrameLength:], body)
	return envelope, nil
}

// DecodeEnvelope reads the tag-frame from payload and constructs the
// corresponding Message, unmarshaling the remaining bytes into it. An
// unrecognized tag yields an *UnknownMessage rather than an error, so a
// peer running a newer wire format doesn't take down older receivers.
func (r *Registry) DecodeEnvelope(payload []byte) (Message, error) {
	if len(payload) < tagFrameLength {
		return nil, errors.Errorf("transport: envelope too short: %d bytes", len(payload))
	}

	tag := binary.BigEndian.Uint32(payload[:tagFrameLength])
	body := payload[tagFrameLength:]

	msg := r.New(tag)
	if unknown, ok := msg.(*UnknownMessage); ok {
		unknown.Body = append([]byte(nil), body...)
		return unknown, nil
	}

	if err := msg.Unmarshal(body); err != nil {
		return nil, errors.Wrapf(err, "unmarshal message for tag %d", tag)
	}
	return msg, nil
}

func variantType(msg Message) reflect.Type {
	return reflect.TypeOf(msg)
}

func newFactory(typ reflect.Type) factory {
	elem := typ
	isPtr := typ.Kind() == reflect.Ptr
	if isPtr {
		elem = typ.Elem()
	}

	return func() Message {
		v := reflect.New(elem)
		if isPtr {
			return v.Interface().(Message)
		}
		return v.Elem().Interface().(Message)
	}
}
