package compress

import (
	"bytes"
	"strings"
	"testing"
)

func TestFlateCompressor_RoundTrip(t *testing.T) {
	c := FlateCompressor{Level: 6}

	data := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog ", 50))
	compressed, err := c.Compress(data)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(compressed) >= len(data) {
		t.Errorf("compressed length %d should be smaller than original %d for repetitive input", len(compressed), len(data))
	}

	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Error("decompressed data does not match original")
	}
}

func TestFlateCompressor_EmptyInput(t *testing.T) {
	c := FlateCompressor{}

	compressed, err := c.Compress(nil)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if len(decompressed) != 0 {
		t.Errorf("decompressed = %v, want empty", decompressed)
	}
}

func TestFlateCompressor_DefaultLevel(t *testing.T) {
	c := FlateCompressor{}

	data := []byte("some data to compress with the default level")
	compressed, err := c.Compress(data)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Error("decompressed data does not match original")
	}
}

func TestFlateCompressor_Decompress_TooShort(t *testing.T) {
	c := FlateCompressor{}

	_, err := c.Decompress([]byte{0x00, 0x01})
	if err == nil {
		t.Error("expected error decompressing data shorter than the length prefix")
	}
}
