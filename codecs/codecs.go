// Package codecs provides compression codecs for blob content.
package codecs

import (
	"fmt"
	"io"
	"io/ioutil"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// CompressionCodec is a compression codec of stored blob content.
type CompressionCodec int

const (
	// NONE stores content uncompressed.
	NONE CompressionCodec = iota
	// GZIP compresses content with gzip.
	GZIP
	// SNAPPY compresses content with the snappy framing format.
	SNAPPY
	// ZSTANDARD compresses content with zstd.
	ZSTANDARD
)

var codecNames = []string{"none", "gzip", "snappy", "zstandard"}

// String returns the name of the CompressionCodec.
func (c CompressionCodec) String() string {
	if c < 0 || int(c) >= len(codecNames) {
		return fmt.Sprintf("CompressionCodec(%d)", int(c))
	}
	return codecNames[c]
}

// ParseCompressionCodec parses a codec name, as returned by String.
func ParseCompressionCodec(name string) (CompressionCodec, error) {
	for i, n := range codecNames {
		if strings.EqualFold(n, name) {
			return CompressionCodec(i), nil
		}
	}
	return NONE, fmt.Errorf("unsupported codec %q", name)
}

// Decompressor is a ReadCloser where Close closes and releases Decompressor
// state, but does not Close or affect the underlying Reader.
type Decompressor io.ReadCloser

// Compressor is a WriteCloser where Close closes and releases Compressor
// state, potentially flushing final content to the underlying Writer,
// but does not Close or otherwise affect the underlying Writer.
type Compressor io.WriteCloser

// NewCodecReader returns a Decompressor of the Reader encoded with CompressionCodec.
func NewCodecReader(r io.Reader, codec CompressionCodec) (Decompressor, error) {
	switch codec {
	case NONE:
		return ioutil.NopCloser(r), nil
	case GZIP:
		return gzip.NewReader(r)
	case SNAPPY:
		return ioutil.NopCloser(snappy.NewReader(r)), nil
	case ZSTANDARD:
		var dec, err = zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec.String())
	}
}

// NewCodecWriter returns a Compressor wrapping the Writer encoding with CompressionCodec.
func NewCodecWriter(w io.Writer, codec CompressionCodec) (Compressor, error) {
	switch codec {
	case NONE:
		return nopWriteCloser{w}, nil
	case GZIP:
		return gzip.NewWriter(w), nil
	case SNAPPY:
		return snappy.NewBufferedWriter(w), nil
	case ZSTANDARD:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec.String())
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
