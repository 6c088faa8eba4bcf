// Package wire provides the field-tagged body encoding used by every
// Message variant on this transport. It encodes primitive fields the same
// way Protocol Buffers encodes them on the wire (tag/wire-type varints,
// varint and length-delimited field values) via protowire, without
// requiring .proto compilation for the small, hand-written message set this
// transport carries.
package wire

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// AppendVarintField appends a varint-typed field (wire type 0) with the
// given field number and value.
func AppendVarintField(b []byte, field protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, field, protowire.VarintType)
	b = protowire.AppendVarint(b, v)
	return b
}

// AppendBytesField appends a length-delimited field (wire type 2) with the
// given field number and value.
func AppendBytesField(b []byte, field protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	b = protowire.AppendBytes(b, v)
	return b
}

// ConsumeField reads one field-tag pair and returns the field number, wire
// type, the raw remaining bytes after the tag, and the number of bytes the
// tag itself occupied.
func ConsumeField(b []byte) (num protowire.Number, typ protowire.Type, rest []byte, err error) {
	n, t, tagLen := protowire.ConsumeTag(b)
	if tagLen < 0 {
		return 0, 0, nil, errors.Wrap(protowire.ParseError(tagLen), "consume field tag")
	}
	return n, t, b[tagLen:], nil
}

// ConsumeVarint consumes a varint value from b, returning the value and the
// bytes remaining after it.
func ConsumeVarint(b []byte) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, errors.Wrap(protowire.ParseError(n), "consume varint field")
	}
	return v, b[n:], nil
}

// ConsumeBytes consumes a length-delimited value from b, returning the value
// and the bytes remaining after it.
func ConsumeBytes(b []byte) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, nil, errors.Wrap(protowire.ParseError(n), "consume bytes field")
	}
	return v, b[n:], nil
}
