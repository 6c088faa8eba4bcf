package transport

import "github.com/pkg/errors"

var (
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("transport: connection closed")
	// ErrSendBufferFull is returned by TrySend when the send channel's
	// high-water mark has been reached.
	ErrSendBufferFull = errors.New("transport: send buffer full")
	// ErrInvalidOption is returned by NewConnection when a required option
	// (Registry, Cipher, Compressor) is missing.
	ErrInvalidOption = errors.New("transport: missing required option")
)
