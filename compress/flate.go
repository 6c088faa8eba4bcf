// Package compress provides the default Compressor implementation for the
// transport's compress/decompress collaborator contract. No third-party
// general-purpose compression library appears anywhere in the reference
// corpus (see DESIGN.md), so this wraps the standard library's DEFLATE
// implementation directly.
package compress

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const lengthPrefixSize = 4

// FlateCompressor implements the transport's Compressor interface over
// compress/flate. Decompress needs to know exactly how many decompressed
// bytes to expect without relying on the flate reader hitting a
// self-terminating marker on a reused buffer, so Compress prepends a
// 4-byte big-endian length of the *original* (pre-compression) data ahead
// of the deflated stream.
type FlateCompressor struct {
	// Level is the flate compression level, defaulting to
	// flate.DefaultCompression when zero.
	Level int
}

// Compress deflates data and prepends a 4-byte length prefix describing the
// uncompressed size.
func (c FlateCompressor) Compress(data []byte) ([]byte, error) {
	level := c.Level
	if level == 0 {
		level = flate.DefaultCompression
	}

	var buf bytes.Buffer
	buf.Write(make([]byte, lengthPrefixSize))
	binary.BigEndian.PutUint32(buf.Bytes()[:lengthPrefixSize], uint32(len(data)))

	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, errors.Wrap(err, "construct flate writer")
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "flate write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "flate close")
	}

	return buf.Bytes(), nil
}

// Decompress reads the length prefix written by Compress and inflates
// exactly that many bytes.
func (c FlateCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) < lengthPrefixSize {
		return nil, errors.New("compress: data shorter than length prefix")
	}

	uncompressedLen := binary.BigEndian.Uint32(data[:lengthPrefixSize])
	r := flate.NewReader(bytes.NewReader(data[lengthPrefixSize:]))
	defer r.Close()

	out := make([]byte, uncompressedLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errors.Wrap(err, "flate read")
	}
	return out, nil
}
