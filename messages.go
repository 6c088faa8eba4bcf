package transport

import (
	"github.com/brackenfield/wiretransport/wire"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Ping is the transport's smallest built-in message, used by tests and by
// callers that just need a liveness probe over an already-established
// connection. Field 1 carries a monotonically increasing sequence number.
type Ping struct {
	Seq uint64
}

const pingSeqField protowire.Number = 1

// Marshal encodes Seq as a single varint-typed field.
func (p *Ping) Marshal() ([]byte, error) {
	return wire.AppendVarintField(nil, pingSeqField, p.Seq), nil
}

// Unmarshal decodes Seq from its varint-typed field, ignoring any unknown
// trailing fields so the wire format can grow without breaking old peers.
func (p *Ping) Unmarshal(body []byte) error {
	for len(body) > 0 {
		num, typ, rest, err := wire.ConsumeField(body)
		if err != nil {
			return errors.Wrap(err, "ping: consume field")
		}

		switch {
		case num == pingSeqField && typ == protowire.VarintType:
			v, tail, err := wire.ConsumeVarint(rest)
			if err != nil {
				return errors.Wrap(err, "ping: consume seq")
			}
			p.Seq = v
			body = tail
		default:
			// Skip unknown or mistyped fields to stay forward compatible.
			n := protowire.ConsumeFieldValue(num, typ, rest)
			if n < 0 {
				return errors.Wrap(protowire.ParseError(n), "ping: skip unknown field")
			}
			body = rest[n:]
		}
	}
	return nil
}
