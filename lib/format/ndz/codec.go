package ndz

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"

	"github.com/emulab/ndzcore/lib/core"
)

// Compressor is the opaque payload codec a chunk's data area is run
// through. The codec core never inspects the compressed bytes; it only
// needs to round-trip them, matching spec scope that treats compression
// as pluggable/opaque. Grounded on lib/format/chd/codec.go's per-codec
// dispatch, generalized into an interface so new codecs can be added
// without touching the chunk assembler.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(compressed []byte, decodedSize int) ([]byte, error)
}

// zstdCompressor wraps klauspost/compress/zstd. The decoder is created
// once at package init, mirroring chd/codec.go's package-level
// zstdDecoder, since constructing one per call is unnecessarily costly.
type zstdCompressor struct {
	level zstd.EncoderLevel
}

var zstdDecoder *zstd.Decoder

func init() {
	d, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("ndz: failed to construct zstd decoder: %v", err))
	}
	zstdDecoder = d
}

// NewZstdCompressor returns the default chunk-payload compressor.
func NewZstdCompressor() Compressor {
	return &zstdCompressor{level: zstd.SpeedDefault}
}

func (z *zstdCompressor) Name() string { return "zstd" }

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(z.level))
	if err != nil {
		return nil, core.NewError(core.IoError, "ndz.zstdCompressor.Compress", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(compressed []byte, decodedSize int) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, decodedSize))
	if err != nil {
		return nil, core.NewError(core.FormatError, "ndz.zstdCompressor.Decompress", err)
	}
	return out, nil
}

// lzmaCompressor wraps ulikunitz/xz/lzma, writing the classic .lzma stream
// with the header lzma.NewWriter produces by default (its properties and
// dictionary size are the library's defaults) rather than the full .xz
// container, since chunk payloads are short-lived.
type lzmaCompressor struct{}

// NewLZMACompressor returns an alternate chunk-payload compressor for
// images that prefer LZMA's ratio over zstd's speed.
func NewLZMACompressor() Compressor { return &lzmaCompressor{} }

func (l *lzmaCompressor) Name() string { return "lzma" }

func (l *lzmaCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, core.NewError(core.IoError, "ndz.lzmaCompressor.Compress", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, core.NewError(core.IoError, "ndz.lzmaCompressor.Compress", err)
	}
	if err := w.Close(); err != nil {
		return nil, core.NewError(core.IoError, "ndz.lzmaCompressor.Compress", err)
	}
	return buf.Bytes(), nil
}

func (l *lzmaCompressor) Decompress(compressed []byte, decodedSize int) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, core.NewError(core.FormatError, "ndz.lzmaCompressor.Decompress", err)
	}
	out := make([]byte, decodedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, core.NewError(core.FormatError, "ndz.lzmaCompressor.Decompress", err)
	}
	return out, nil
}

// CompressorByName resolves a compressor by the name stored out-of-band
// alongside an image (the chunk header itself carries no codec tag, per
// spec scope: compression is opaque to the codec core).
func CompressorByName(name string) (Compressor, error) {
	switch name {
	case "zstd", "":
		return NewZstdCompressor(), nil
	case "lzma":
		return NewLZMACompressor(), nil
	default:
		return nil, core.NewError(core.FormatError, "ndz.CompressorByName", fmt.Errorf("unknown compressor %q", name))
	}
}
