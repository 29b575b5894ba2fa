package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec compresses cache values
type Codec interface {
	Name() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// NewCodec returns the codec with the given name
func NewCodec(name string) (Codec, error) {
	switch name {
	case CodecGzip, "":
		return gzipCodec{}, nil
	case CodecZstd:
		return newZstdCodec()
	}
	return nil, fmt.Errorf("unknown cache codec %q", name)
}

type gzipCodec struct{}

func (gzipCodec) Name() string { return CodecGzip }

func (gzipCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decode(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// zstdCodec shares one encoder and decoder; EncodeAll and DecodeAll are
// safe for concurrent use
type zstdCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCodec() (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &zstdCodec{encoder: enc, decoder: dec}, nil
}

func (c *zstdCodec) Name() string { return CodecZstd }

func (c *zstdCodec) Encode(src []byte) ([]byte, error) {
	return c.encoder.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

func (c *zstdCodec) Decode(src []byte) ([]byte, error) {
	return c.decoder.DecodeAll(src, nil)
}
