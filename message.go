package transport

// Message is the interface every value carried through the transport must
// satisfy. Unlike a plain byte-oriented payload, a Message knows how to
// encode and decode its own field-tagged body; the wire-level tag that picks
// the concrete type among registered variants is owned by the Registry, not
// by the Message itself.
type Message interface {
	// Marshal encodes the message body (without the tag-frame) using the
	// field-tagged wire encoding described in the wire package.
	Marshal() ([]byte, error)
	// Unmarshal decodes body into the receiver. The receiver is always a
	// freshly constructed zero value produced by the Registry's factory.
	Unmarshal(body []byte) error
}

// UnknownMessage is the sentinel variant produced when a received tag-frame
// names a tag the Registry has no factory for. Its body is kept verbatim so
// application code can still log or forward it.
type UnknownMessage struct {
	Tag  uint32
	Body []byte
}

// Marshal returns the original body unchanged. UnknownMessage is never
// expected to be sent; it exists only as a receive-side sentinel. But
// Marshal is implemented so it satisfies Message without panicking if a
// caller ever does echo one back.
func (m *UnknownMessage) Marshal() ([]byte, error) {
	return m.Body, nil
}

// Unmarshal stores body verbatim; the Tag field is set separately by the
// registry at the point of dispatch, since the body alone doesn't carry it.
func (m *UnknownMessage) Unmarshal(body []byte) error {
	m.Body = append([]byte(nil), body...)
	return nil
}
