package wal

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/vertextoedge/diskguard/internal/domain"
)

// Compression names a record codec
type Compression string

// Supported codecs
const (
	CompressionNone Compression = "none"
	CompressionS2   Compression = "s2"
	CompressionZstd Compression = "zstd"
)

const (
	flagRecord byte = 0x01 // set on every record, zero marks the preallocated tail
	flagS2     byte = 0x02
	flagZstd   byte = 0x04
)

// ParseCompression validates a codec name. Empty means none.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionS2, CompressionZstd:
		return Compression(s), nil
	default:
		return "", fmt.Errorf("unknown wal compression %q: %w", s, domain.ErrInvalidInput)
	}
}

type codec struct {
	kind Compression
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func newCodec(kind Compression) (*codec, error) {
	c := &codec{kind: kind}
	var err error
	if c.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest)); err != nil {
		return nil, err
	}
	if c.dec, err = zstd.NewReader(nil); err != nil {
		c.enc.Close()
		return nil, err
	}
	return c, nil
}

func (c *codec) encode(payload []byte) ([]byte, byte) {
	switch c.kind {
	case CompressionS2:
		return s2.Encode(nil, payload), flagRecord | flagS2
	case CompressionZstd:
		return c.enc.EncodeAll(payload, nil), flagRecord | flagZstd
	default:
		return payload, flagRecord
	}
}

// decode handles every codec regardless of the configured one, so segments
// stay readable after the setting changes.
func (c *codec) decode(data []byte, flags byte) ([]byte, error) {
	switch {
	case flags&flagS2 != 0:
		return s2.Decode(nil, data)
	case flags&flagZstd != 0:
		return c.dec.DecodeAll(data, nil)
	default:
		return data, nil
	}
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}
