// Package stripcodec encodes a raster into TIFF strips, applying an
// optional row predictor before one of {none, LZW, Adobe Deflate}
// compression.
package stripcodec

import (
	"bytes"
	"compress/zlib"
	"fmt"

	"github.com/slidevault/wsipseudo/internal/wsierr"
)

// Compression identifies a TIFF compression scheme by its tag-259 value.
type Compression uint16

const (
	CompressionNone         Compression = 1
	CompressionLZW          Compression = 5
	CompressionAdobeDeflate Compression = 8
)

// Predictor identifies a TIFF predictor (tag 317) and, for the x2/x4
// variants, the delta distance it applies.
type Predictor uint16

const (
	PredictorNone               Predictor = 1
	PredictorHorizontal         Predictor = 2
	PredictorFloatingPoint      Predictor = 3
	PredictorHorizontalX2       Predictor = 100 // not a real TIFF tag value; internal dist=2 marker
	PredictorHorizontalX4       Predictor = 101 // internal dist=4 marker
	PredictorFloatingPointX2    Predictor = 102
	PredictorFloatingPointX4    Predictor = 103
)

// Codec encodes rasters into strips using a fixed rows-per-strip, a
// predictor, and a compression, configured via functional options
// (mirroring the teacher's StripperOption pattern).
type Codec struct {
	rowsPerStrip int
	predictor    Predictor
	compression  Compression
}

// Option configures a Codec.
type Option func(*Codec)

// WithPredictor sets the row predictor applied before compression.
func WithPredictor(p Predictor) Option {
	return func(c *Codec) { c.predictor = p }
}

// WithCompression sets the compression scheme.
func WithCompression(comp Compression) Option {
	return func(c *Codec) { c.compression = comp }
}

// New builds a Codec. rowsPerStrip must be positive.
func New(rowsPerStrip int, opts ...Option) (Codec, error) {
	if rowsPerStrip <= 0 {
		return Codec{}, fmt.Errorf("stripcodec: rows per strip must be positive, got %d", rowsPerStrip)
	}
	c := Codec{rowsPerStrip: rowsPerStrip, predictor: PredictorNone, compression: CompressionNone}
	for _, o := range opts {
		o(&c)
	}
	return c, nil
}

// ResolveCompression maps an arbitrary source tag-259 value to one this
// codec can actually produce, falling back to Adobe Deflate (and
// reporting that the tag must be rewritten) when the source used a
// historic codec this package does not implement.
func ResolveCompression(sourceTag uint16) (Compression, bool) {
	switch Compression(sourceTag) {
	case CompressionNone, CompressionLZW, CompressionAdobeDeflate:
		return Compression(sourceTag), false
	default:
		return CompressionAdobeDeflate, true
	}
}

// stripRowRanges partitions height into ⌊H/rowsPerStrip⌋ full strips plus one
// trailing remainder strip, mirroring the byte ranges a TIFF reader would
// expect for row-major top-to-bottom strip ordering.
func (c Codec) stripRowRanges(height int) [][2]int {
	var ranges [][2]int
	full := height / c.rowsPerStrip
	for i := 0; i < full; i++ {
		ranges = append(ranges, [2]int{i * c.rowsPerStrip, (i + 1) * c.rowsPerStrip})
	}
	if rem := height % c.rowsPerStrip; rem > 0 {
		start := full * c.rowsPerStrip
		ranges = append(ranges, [2]int{start, start + rem})
	}
	return ranges
}

// Encode compresses an H*W*samples byte raster (row-major, `samples`
// bytes per pixel, one byte per sample) into its strips, applying the
// configured predictor then compression to each strip independently.
func (c Codec) Encode(raster []byte, height, width, samples int) ([][]byte, error) {
	const op = "stripcodec.Encode"
	if len(raster) != height*width*samples {
		return nil, wsierr.Wrap(wsierr.Inconsistent, op, fmt.Errorf("raster length %d does not match %dx%dx%d", len(raster), height, width, samples))
	}
	rowBytes := width * samples
	ranges := c.stripRowRanges(height)
	strips := make([][]byte, len(ranges))
	for i, r := range ranges {
		plane := append([]byte{}, raster[r[0]*rowBytes:r[1]*rowBytes]...)
		rows := r[1] - r[0]
		applyPredictor(c.predictor, plane, rows, width, samples)
		encoded, err := c.compress(plane)
		if err != nil {
			return nil, wsierr.Wrap(wsierr.CodecUnavailable, op, err)
		}
		strips[i] = encoded
	}
	return strips, nil
}

func (c Codec) compress(plane []byte) ([]byte, error) {
	switch c.compression {
	case CompressionNone:
		return plane, nil
	case CompressionAdobeDeflate:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(plane); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionLZW:
		return lzwEncode(plane), nil
	default:
		return nil, fmt.Errorf("unsupported compression %d", c.compression)
	}
}

// applyPredictor runs the configured predictor over plane in place. plane
// holds `rows` rows of `width*samples` bytes each. The x2/x4 variants set
// the delta distance (in samples) used by the underlying differencing
// step, matching the source's predictor_encode_codec dist parameter.
func applyPredictor(p Predictor, plane []byte, rows, width, samples int) {
	switch p {
	case PredictorNone:
		return
	case PredictorHorizontal:
		deltaEncode(plane, rows, width, samples, samples)
	case PredictorHorizontalX2:
		deltaEncode(plane, rows, width, samples, samples*2)
	case PredictorHorizontalX4:
		deltaEncode(plane, rows, width, samples, samples*4)
	case PredictorFloatingPoint:
		deltaEncode(plane, rows, width, samples, samples)
	case PredictorFloatingPointX2:
		deltaEncode(plane, rows, width, samples, samples*2)
	case PredictorFloatingPointX4:
		deltaEncode(plane, rows, width, samples, samples*4)
	}
}

// deltaEncode replaces each byte (after the first `dist` per row) with
// its difference from the byte `dist` positions earlier in the same row,
// processed right-to-left so each difference is against the original
// (not yet overwritten) predecessor.
func deltaEncode(plane []byte, rows, width, samples, dist int) {
	rowBytes := width * samples
	if dist <= 0 || dist >= rowBytes {
		return
	}
	for r := 0; r < rows; r++ {
		row := plane[r*rowBytes : (r+1)*rowBytes]
		for i := len(row) - 1; i >= dist; i-- {
			row[i] = row[i] - row[i-dist]
		}
	}
}
