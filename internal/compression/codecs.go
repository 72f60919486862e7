package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/bft-labs/notibatch/internal/ports"
)

// Codec names accepted by ByName.
const (
	CodecZstd = "zstd"
	CodecS2   = "s2"
	CodecGzip = "gzip"
	CodecKeys = "keys"
)

// ByName returns the codec registered under name.
func ByName(name string) (ports.Compressor, error) {
	switch name {
	case CodecZstd, "":
		return NewZstd()
	case CodecS2:
		return S2{}, nil
	case CodecGzip:
		return Gzip{Level: gzip.DefaultCompression}, nil
	case CodecKeys:
		return KeyShortener{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// Zstd compresses with Zstandard. Encoder and decoder are reused and are
// safe for concurrent EncodeAll/DecodeAll calls.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a Zstd codec at the default level.
func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Name() string { return CodecZstd }

func (z *Zstd) Compress(src []byte) ([]byte, error) {
	return z.enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

func (z *Zstd) Decompress(src []byte) ([]byte, error) {
	return z.dec.DecodeAll(src, nil)
}

// S2 is the Snappy-compatible block codec; fast with a modest ratio.
type S2 struct{}

func (S2) Name() string { return CodecS2 }

func (S2) Compress(src []byte) ([]byte, error) {
	return s2.Encode(nil, src), nil
}

func (S2) Decompress(src []byte) ([]byte, error) {
	return s2.Decode(nil, src)
}

// Gzip compresses with gzip at Level.
type Gzip struct {
	Level int
}

func (Gzip) Name() string { return CodecGzip }

func (g Gzip) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, g.Level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gzip) Decompress(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
