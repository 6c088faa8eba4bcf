package transport

import "github.com/pkg/errors"

// Cipher is the symmetric cipher collaborator the pipeline encrypts and
// decrypts payloads with. A pre-hashed/derived key is provisioned out of
// band; Cipher implementations never see raw passwords. See the crypto
// subpackage for concrete implementations.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Compressor is the compression collaborator the pipeline applies before
// encryption on send and after decryption on receive. Decompress must be
// able to recover the exact length of its own output without any framing
// help from the caller. See the compress subpackage for a concrete
// implementation.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// identityCipher and identityCompressor are injectable no-op collaborators
// used by unit tests that want to exercise the pipeline's ordering without
// real cryptography or compression.
type identityCipher struct{}

func (identityCipher) Encrypt(b []byte) ([]byte, error) { return b, nil }
func (identityCipher) Decrypt(b []byte) ([]byte, error) { return b, nil }

type identityCompressor struct{}

func (identityCompressor) Compress(b []byte) ([]byte, error)   { return b, nil }
func (identityCompressor) Decompress(b []byte) ([]byte, error) { return b, nil }

// pipeline bundles the two transformation layers and the registry, and
// implements the fixed send/receive ordering.
type pipeline struct {
	cipher     Cipher
	compressor Compressor
	registry   *Registry
}

// encode runs the send-side ordering: serialize (via the registry's
// tag-frame envelope) → compress → encrypt. The result is ready to be
// framed with a 3-byte length header.
func (p *pipeline) encode(msg Message) ([]byte, error) {
	envelope, err := p.registry.EncodeEnvelope(msg)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: encode envelope")
	}

	compressed, err := p.compressor.Compress(envelope)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: compress")
	}

	encrypted, err := p.cipher.Encrypt(compressed)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: encrypt")
	}

	return encrypted, nil
}

// errEmptyPipelineOutput signals that decrypt or decompress yielded empty
// output. The pump treats this as non-fatal: drop the frame, keep
// decoding.
var errEmptyPipelineOutput = errors.New("transport: pipeline stage produced empty output")

// decode runs the receive-side ordering: decrypt → decompress →
// deserialize (via the registry). It returns errEmptyPipelineOutput
// (unwrapped, checkable with errors.Is) if either transformation yields no
// bytes, matching the "swallow the frame" policy.
func (p *pipeline) decode(raw []byte) (Message, error) {
	decrypted, err := p.cipher.Decrypt(raw)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: decrypt")
	}
	if len(decrypted) == 0 {
		return nil, errEmptyPipelineOutput
	}

	decompressed, err := p.compressor.Decompress(decrypted)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: decompress")
	}
	if len(decompressed) == 0 {
		return nil, errEmptyPipelineOutput
	}

	msg, err := p.registry.DecodeEnvelope(decompressed)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: decode envelope")
	}
	return msg, nil
}
