package transport

import "github.com/pkg/errors"

// receivePhase is the decoder's progress across chunks.
type receivePhase int

const (
	readingHeader receivePhase = iota
	readingPayload
)

// maxFrameLength is 2^24 - 1, the largest payload a 3-byte little-endian
// length header can describe.
const maxFrameLength = 1<<24 - 1

// headerLength is the fixed size of a frame header: 3 bytes, little-endian,
// payload length only.
const headerLength = 3

// errZeroLengthFrame is returned when a header decodes to 0, a framing
// error.
var errZeroLengthFrame = errors.New("transport: frame header decoded to zero length")

// frameDecoder is the per-connection scratch state for reassembling
// incoming bytes into discrete payloads across arbitrarily fragmented
// reads. It is touched only by a connection's single receive consumer, so
// it carries no internal locking.
type frameDecoder struct {
	phase            receivePhase
	payloadLen       uint32
	payloadBuf       []byte
	writeOffset      int
	tempHeader       [headerLength]byte
	tempHeaderOffset int
	appendHeader     bool
}

// newFrameDecoder returns a decoder in its initial ReadingHeader phase.
func newFrameDecoder() *frameDecoder {
	return &frameDecoder{phase: readingHeader}
}

// feed drains chunk, invoking emit once per complete frame payload decoded
// from it (and from any header/payload bytes carried over from a previous
// chunk). feed returns on the first framing error without losing any bytes
// already consumed from prior chunks. A framing error disconnects the
// connection, so the caller is expected to stop pumping chunks through
// this decoder once feed returns an error.
//
// emit returning an error aborts the rest of the current chunk immediately
// and propagates that error to the caller, which decides whether it is
// fatal. The decoder has already returned to ReadingHeader before emit
// runs, so the next chunk decodes normally if the caller keeps going.
func (d *frameDecoder) feed(chunk []byte, emit func(payload []byte) error) error {
	offset := 0
	readable := len(chunk)

	for offset < readable {
		switch d.phase {
		case readingHeader:
			if err := d.consumeHeader(chunk, &offset, readable); err != nil {
				return err
			}
		case readingPayload:
			d.consumePayload(chunk, &offset, readable)
			if d.writeOffset == int(d.payloadLen) {
				payload := d.payloadBuf
				d.resetAfterFrame()
				if err := emit(payload); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// consumeHeader attempts to complete the 3-byte header, either from the
// current chunk alone or by combining it with previously held
// tempHeader bytes. On success it allocates payloadBuf and transitions to
// ReadingPayload. If the chunk doesn't carry enough bytes to finish the
// header it stashes what's available and yields (offset advances to
// readable, ending the loop in feed).
func (d *frameDecoder) consumeHeader(chunk []byte, offset *int, readable int) error {
	need := headerLength - d.tempHeaderOffset
	available := readable - *offset

	if available < need {
		copy(d.tempHeader[d.tempHeaderOffset:], chunk[*offset:readable])
		d.tempHeaderOffset += available
		d.appendHeader = true
		*offset = readable
		return nil
	}

	var header [headerLength]byte
	copy(header[:], d.tempHeader[:d.tempHeaderOffset])
	copy(header[d.tempHeaderOffset:], chunk[*offset:*offset+need])
	*offset += need

	d.tempHeaderOffset = 0
	d.appendHeader = false

	payloadLen := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16
	if payloadLen == 0 {
		return errZeroLengthFrame
	}

	d.payloadLen = payloadLen
	d.payloadBuf = make([]byte, payloadLen)
	d.writeOffset = 0
	d.phase = readingPayload
	return nil
}

// consumePayload copies as much of the current chunk as will fit into the
// remaining space of payloadBuf, advancing both offset and writeOffset.
func (d *frameDecoder) consumePayload(chunk []byte, offset *int, readable int) {
	remaining := int(d.payloadLen) - d.writeOffset
	available := readable - *offset
	n := remaining
	if available < n {
		n = available
	}

	copy(d.payloadBuf[d.writeOffset:], chunk[*offset:*offset+n])
	d.writeOffset += n
	*offset += n
}

// resetAfterFrame returns the decoder to ReadingHeader and releases the
// completed payload buffer.
func (d *frameDecoder) resetAfterFrame() {
	d.phase = readingHeader
	d.payloadLen = 0
	d.payloadBuf = nil
	d.writeOffset = 0
}
