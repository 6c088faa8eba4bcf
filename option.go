package transport

// ConnOption configures a Connection at construction time: each
// constructor returns a closure that mutates the connOptions being
// assembled by NewConnection.
type ConnOption func(*connOptions)

// RegistryOption sets the Registry used to look up message types by tag
// and tag by type. Required, since there is no default registry and an
// empty one would reject every message.
func RegistryOption(registry *Registry) ConnOption {
	return func(o *connOptions) {
		o.registry = registry
	}
}

// CipherOption sets the AEAD cipher applied to every outgoing frame and
// expected on every incoming one. Required, since there is no plaintext
// default in production use.
func CipherOption(cipher Cipher) ConnOption {
	return func(o *connOptions) {
		o.cipher = cipher
	}
}

// CompressorOption sets the compressor applied before encryption on send
// and after decryption on receive. Required.
func CompressorOption(compressor Compressor) ConnOption {
	return func(o *connOptions) {
		o.compressor = compressor
	}
}

// BufferPoolOption sets the pool the read loop acquires buffers from.
// If not supplied, NewConnection installs a default-sized BufferPool.
func BufferPoolOption(pool BufferPool) ConnOption {
	return func(o *connOptions) {
		o.bufferPool = pool
	}
}

// LoggerOption sets the logger used for framing errors, pipeline
// warnings, and lifecycle messages. If not set, the default slog logger
// is used.
func LoggerOption(logger Logger) ConnOption {
	return func(o *connOptions) {
		o.logger = logger
	}
}

// ChanCapacityOption sets the high-water mark applied to both the chunk
// and send channels. If not set or non-positive, defaultChanCapacity is
// used.
func ChanCapacityOption(capacity int) ConnOption {
	return func(o *connOptions) {
		o.chanCapacity = capacity
	}
}

// OnStateChangeOption sets the callback fired once when the connection
// becomes connected and once when it disconnects.
func OnStateChangeOption(cb func(c *Connection, connected bool)) ConnOption {
	return func(o *connOptions) {
		o.onStateChange = cb
	}
}

// OnReadOption sets the callback fired for each message decoded off the
// wire, after the full decrypt/decompress/deserialize pipeline.
func OnReadOption(cb func(c *Connection, msg Message)) ConnOption {
	return func(o *connOptions) {
		o.onRead = cb
	}
}

// OnWriteOption sets the callback fired for each message handed to the
// send pump, after serialize/compress/encrypt but before the frame is
// written to the socket. length and raw describe the framed payload, not
// counting the 3-byte header.
func OnWriteOption(cb func(c *Connection, msg Message, length int, raw []byte)) ConnOption {
	return func(o *connOptions) {
		o.onWrite = cb
	}
}
