package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

const maxDecompressed = 256 << 20

// Compressor is the second, independent stage of the pipeline.
type Compressor interface {
	Name() string
	Compress(b []byte) ([]byte, error)
	Decompress(b []byte) ([]byte, error)
}

func NewCompressor(name string) (Compressor, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return None{}, nil
	case "zstd":
		return NewZstd()
	case "brotli":
		return Brotli{Level: brotli.DefaultCompression}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

type None struct{}

func (None) Name() string                        { return "none" }
func (None) Compress(b []byte) ([]byte, error)   { return b, nil }
func (None) Decompress(b []byte) ([]byte, error) { return b, nil }

// Zstd shares one encoder and one decoder; both are safe for concurrent EncodeAll and
// DecodeAll calls.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewZstd() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.Wrap(err, "zstd encoder")
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressed))
	if err != nil {
		return nil, errors.Wrap(err, "zstd decoder")
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Name() string { return "zstd" }

func (z *Zstd) Compress(b []byte) ([]byte, error) {
	return z.enc.EncodeAll(b, make([]byte, 0, len(b)/2+16)), nil
}

func (z *Zstd) Decompress(b []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(b, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "zstd: %v", err)
	}
	return out, nil
}

type Brotli struct {
	Level int
}

func (Brotli) Name() string { return "brotli" }

func (c Brotli) Compress(b []byte) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	w := brotli.NewWriterLevel(buf, c.Level)
	if _, err := w.Write(b); err != nil {
		return nil, errors.Wrap(err, "brotli write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "brotli close")
	}
	return append([]byte(nil), buf.B...), nil
}

func (Brotli) Decompress(b []byte) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	r := io.LimitReader(brotli.NewReader(bytes.NewReader(b)), maxDecompressed+1)
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "brotli: %v", err)
	}
	if buf.Len() > maxDecompressed {
		return nil, errors.Wrap(ErrCorrupt, "brotli: payload over limit")
	}
	return append([]byte(nil), buf.B...), nil
}
