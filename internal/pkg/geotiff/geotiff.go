// Package geotiff decodes single-band elevation GeoTIFFs into
// domain.ElevationRaster values.
//
// Supported: classic (non-Big) TIFF in either byte order, strips or tiles,
// no/LZW/Deflate compression, horizontal and floating point predictors,
// 8/16/32 bit integer and 32/64 bit float samples. Only the first band of
// the first image is read.
package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"golang.org/x/image/tiff/lzw"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

// ErrFormat is returned for input that is not a readable GeoTIFF.
var ErrFormat = errors.New("geotiff: unsupported or malformed file")

// TIFF and GeoTIFF tags.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339

	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

// GeoKeys.
const (
	keyRasterType        = 1025
	keyGeographicType    = 2048
	keyProjectedCSType   = 3072
	rasterPixelIsPoint   = 2
	userDefinedGeoKeyVal = 32767
)

const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionDeflateOld = 32946

	predictorNone       = 1
	predictorHorizontal = 2
	predictorFloat      = 3

	sampleUint  = 1
	sampleInt   = 2
	sampleFloat = 3
)

// field types and their sizes in bytes.
var typeSize = map[uint16]int{
	1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8,
}

type entry struct {
	typ   uint16
	count uint32
	raw   []byte
}

type reader struct {
	data  []byte
	order binary.ByteOrder
	tags  map[uint16]entry
}

// Decoder implements ports.RasterDecoder.
type Decoder struct{}

// Decode implements ports.RasterDecoder.
func (Decoder) Decode(data []byte) (*domain.ElevationRaster, error) {
	return Decode(data)
}

// Decode reads the first band of the first image in data.
func Decode(data []byte) (*domain.ElevationRaster, error) {
	r, err := newReader(data)
	if err != nil {
		return nil, err
	}

	width, err := r.value(tagImageWidth)
	if err != nil {
		return nil, err
	}
	height, err := r.value(tagImageLength)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 || width*height > 1<<28 {
		return nil, fmt.Errorf("%w: image size %dx%d", ErrFormat, width, height)
	}

	layout, err := r.layout()
	if err != nil {
		return nil, err
	}

	raster := &domain.ElevationRaster{
		Width:  int(width),
		Height: int(height),
		Data:   make([]float64, int(width*height)),
	}
	if err := r.readPixels(raster, layout); err != nil {
		return nil, err
	}

	keys := r.geoKeys()
	if raster.Transform, err = r.transform(keys[keyRasterType] == rasterPixelIsPoint); err != nil {
		return nil, err
	}
	switch {
	case keys[keyProjectedCSType] != 0 && keys[keyProjectedCSType] != userDefinedGeoKeyVal:
		raster.EPSG = keys[keyProjectedCSType]
	case keys[keyGeographicType] != 0 && keys[keyGeographicType] != userDefinedGeoKeyVal:
		raster.EPSG = keys[keyGeographicType]
	}
	if nd, ok := r.noData(); ok {
		raster.NoData = &nd
	}
	return raster, nil
}

func newReader(data []byte) (*reader, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: short header", ErrFormat)
	}
	r := &reader{data: data, tags: make(map[uint16]entry)}
	switch string(data[:2]) {
	case "II":
		r.order = binary.LittleEndian
	case "MM":
		r.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte order mark", ErrFormat)
	}
	switch r.order.Uint16(data[2:4]) {
	case 42:
	case 43:
		return nil, fmt.Errorf("%w: BigTIFF is not supported", ErrFormat)
	default:
		return nil, fmt.Errorf("%w: bad magic number", ErrFormat)
	}

	off := int(r.order.Uint32(data[4:8]))
	if off < 8 || off+2 > len(data) {
		return nil, fmt.Errorf("%w: IFD offset out of range", ErrFormat)
	}
	n := int(r.order.Uint16(data[off : off+2]))
	if off+2+n*12 > len(data) {
		return nil, fmt.Errorf("%w: IFD truncated", ErrFormat)
	}
	for i := 0; i < n; i++ {
		p := data[off+2+i*12 : off+2+(i+1)*12]
		e := entry{typ: r.order.Uint16(p[2:4]), count: r.order.Uint32(p[4:8])}
		size, known := typeSize[e.typ]
		if !known {
			continue
		}
		total := uint64(size) * uint64(e.count)
		if total <= 4 {
			e.raw = p[8 : 8+total]
		} else {
			vo := uint64(r.order.Uint32(p[8:12]))
			if vo+total > uint64(len(data)) {
				return nil, fmt.Errorf("%w: tag %d value out of range", ErrFormat, r.order.Uint16(p[0:2]))
			}
			e.raw = data[vo : vo+total]
		}
		r.tags[r.order.Uint16(p[0:2])] = e
	}
	return r, nil
}

// uints decodes an integer-typed tag.
func (r *reader) uints(tag uint16) ([]uint64, error) {
	e, ok := r.tags[tag]
	if !ok {
		return nil, fmt.Errorf("%w: missing tag %d", ErrFormat, tag)
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case 1, 7:
			out[i] = uint64(e.raw[i])
		case 3:
			out[i] = uint64(r.order.Uint16(e.raw[i*2:]))
		case 4:
			out[i] = uint64(r.order.Uint32(e.raw[i*4:]))
		default:
			return nil, fmt.Errorf("%w: tag %d has non-integer type %d", ErrFormat, tag, e.typ)
		}
	}
	return out, nil
}

func (r *reader) value(tag uint16) (uint64, error) {
	v, err := r.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("%w: empty tag %d", ErrFormat, tag)
	}
	return v[0], nil
}

func (r *reader) valueOr(tag uint16, def uint64) uint64 {
	if _, ok := r.tags[tag]; !ok {
		return def
	}
	v, err := r.value(tag)
	if err != nil {
		return def
	}
	return v
}

// doubles decodes a DOUBLE-typed tag.
func (r *reader) doubles(tag uint16) ([]float64, bool) {
	e, ok := r.tags[tag]
	if !ok || e.typ != 12 {
		return nil, false
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(r.order.Uint64(e.raw[i*8:]))
	}
	return out, true
}

type layout struct {
	bytesPerSample  int
	samplesPerPixel int
	sampleFormat    uint64
	compression     uint64
	predictor       uint64
	tiled           bool
	chunkW, chunkH  int
	offsets, counts []uint64
}

func (r *reader) layout() (*layout, error) {
	l := &layout{
		samplesPerPixel: int(r.valueOr(tagSamplesPerPixel, 1)),
		sampleFormat:    r.valueOr(tagSampleFormat, sampleUint),
		compression:     r.valueOr(tagCompression, compressionNone),
		predictor:       r.valueOr(tagPredictor, predictorNone),
	}
	bits := r.valueOr(tagBitsPerSample, 1)
	if bits%8 != 0 || bits == 0 {
		return nil, fmt.Errorf("%w: %d bits per sample", ErrFormat, bits)
	}
	l.bytesPerSample = int(bits / 8)
	if !sampleSupported(l.sampleFormat, l.bytesPerSample) {
		return nil, fmt.Errorf("%w: sample format %d with %d bits", ErrFormat, l.sampleFormat, bits)
	}
	if l.samplesPerPixel < 1 {
		return nil, fmt.Errorf("%w: %d samples per pixel", ErrFormat, l.samplesPerPixel)
	}
	if l.samplesPerPixel > 1 && r.valueOr(tagPlanarConfig, 1) != 1 {
		return nil, fmt.Errorf("%w: planar multi-band images are not supported", ErrFormat)
	}
	switch l.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld:
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrFormat, l.compression)
	}

	width := int(r.valueOr(tagImageWidth, 0))
	height := int(r.valueOr(tagImageLength, 0))
	var err error
	if _, ok := r.tags[tagTileOffsets]; ok {
		l.tiled = true
		l.chunkW = int(r.valueOr(tagTileWidth, 0))
		l.chunkH = int(r.valueOr(tagTileLength, 0))
		if l.chunkW == 0 || l.chunkH == 0 {
			return nil, fmt.Errorf("%w: tile size %dx%d", ErrFormat, l.chunkW, l.chunkH)
		}
		if l.offsets, err = r.uints(tagTileOffsets); err != nil {
			return nil, err
		}
		if l.counts, err = r.uints(tagTileByteCounts); err != nil {
			return nil, err
		}
		across := (width + l.chunkW - 1) / l.chunkW
		down := (height + l.chunkH - 1) / l.chunkH
		if len(l.offsets) < across*down || len(l.counts) < across*down {
			return nil, fmt.Errorf("%w: %d tiles listed, %d needed", ErrFormat, len(l.offsets), across*down)
		}
	} else {
		l.chunkW = width
		l.chunkH = int(r.valueOr(tagRowsPerStrip, uint64(height)))
		if l.chunkH <= 0 || l.chunkH > height {
			l.chunkH = height
		}
		if l.offsets, err = r.uints(tagStripOffsets); err != nil {
			return nil, err
		}
		if l.counts, err = r.uints(tagStripByteCounts); err != nil {
			return nil, err
		}
		strips := (height + l.chunkH - 1) / l.chunkH
		if len(l.offsets) < strips || len(l.counts) < strips {
			return nil, fmt.Errorf("%w: %d strips listed, %d needed", ErrFormat, len(l.offsets), strips)
		}
	}
	return l, nil
}

func sampleSupported(format uint64, size int) bool {
	switch format {
	case sampleUint, sampleInt:
		return size == 1 || size == 2 || size == 4
	case sampleFloat:
		return size == 4 || size == 8
	}
	return false
}

func (r *reader) readPixels(raster *domain.ElevationRaster, l *layout) error {
	across := 1
	if l.tiled {
		across = (raster.Width + l.chunkW - 1) / l.chunkW
	}
	down := (raster.Height + l.chunkH - 1) / l.chunkH
	pixelBytes := l.bytesPerSample * l.samplesPerPixel

	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			idx := ty*across + tx
			x0, y0 := tx*l.chunkW, ty*l.chunkH
			rows := l.chunkH
			if !l.tiled && y0+rows > raster.Height {
				rows = raster.Height - y0
			}
			rowBytes := l.chunkW * pixelBytes

			chunk, err := r.chunk(l, l.offsets[idx], l.counts[idx], rows*rowBytes)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", idx, err)
			}
			for row := 0; row < rows; row++ {
				line := chunk[row*rowBytes : (row+1)*rowBytes]
				if err := unpredict(line, l, r.order); err != nil {
					return err
				}
				y := y0 + row
				if y >= raster.Height {
					break
				}
				for col := 0; col < l.chunkW; col++ {
					x := x0 + col
					if x >= raster.Width {
						break
					}
					raster.Data[y*raster.Width+x] = sample(line[col*pixelBytes:], l, r.order)
				}
			}
		}
	}
	return nil
}

// chunk returns at least want decompressed bytes of one strip or tile.
func (r *reader) chunk(l *layout, offset, count uint64, want int) ([]byte, error) {
	if offset+count > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: data out of range", ErrFormat)
	}
	raw := r.data[offset : offset+count]

	var out []byte
	switch l.compression {
	case compressionNone:
		out = raw
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close()
		buf, err := io.ReadAll(io.LimitReader(rc, int64(want)))
		if err != nil && len(buf) < want {
			return nil, fmt.Errorf("%w: lzw: %v", ErrFormat, err)
		}
		out = buf
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: deflate: %v", ErrFormat, err)
		}
		defer zr.Close()
		buf, err := io.ReadAll(io.LimitReader(zr, int64(want)))
		if err != nil && len(buf) < want {
			return nil, fmt.Errorf("%w: deflate: %v", ErrFormat, err)
		}
		out = buf
	}
	if len(out) < want {
		return nil, fmt.Errorf("%w: chunk has %d bytes, want %d", ErrFormat, len(out), want)
	}
	// Undo predictors on a private copy; raw may alias the input.
	cp := make([]byte, want)
	copy(cp, out)
	return cp, nil
}

// unpredict reverses the predictor on one row of a chunk, in place.
func unpredict(line []byte, l *layout, order binary.ByteOrder) error {
	switch l.predictor {
	case predictorNone:
		return nil
	case predictorHorizontal:
		if l.sampleFormat == sampleFloat {
			return fmt.Errorf("%w: horizontal predictor on float samples", ErrFormat)
		}
		stride := l.samplesPerPixel * l.bytesPerSample
		switch l.bytesPerSample {
		case 1:
			for i := stride; i < len(line); i++ {
				line[i] += line[i-stride]
			}
		case 2:
			for i := stride; i+2 <= len(line); i += 2 {
				order.PutUint16(line[i:], order.Uint16(line[i:])+order.Uint16(line[i-stride:]))
			}
		case 4:
			for i := stride; i+4 <= len(line); i += 4 {
				order.PutUint32(line[i:], order.Uint32(line[i:])+order.Uint32(line[i-stride:]))
			}
		}
		return nil
	case predictorFloat:
		if l.sampleFormat != sampleFloat {
			return fmt.Errorf("%w: floating point predictor on integer samples", ErrFormat)
		}
		spp := l.samplesPerPixel
		for i := spp; i < len(line); i++ {
			line[i] += line[i-spp]
		}
		// Bytes are stored most significant plane first.
		bps := l.bytesPerSample
		n := len(line) / bps
		tmp := make([]byte, len(line))
		for i := 0; i < n; i++ {
			for b := 0; b < bps; b++ {
				src := line[b*n+i]
				if order == binary.LittleEndian {
					tmp[i*bps+bps-1-b] = src
				} else {
					tmp[i*bps+b] = src
				}
			}
		}
		copy(line, tmp)
		return nil
	}
	return fmt.Errorf("%w: predictor %d", ErrFormat, l.predictor)
}

func sample(p []byte, l *layout, order binary.ByteOrder) float64 {
	switch l.sampleFormat {
	case sampleFloat:
		if l.bytesPerSample == 4 {
			return float64(math.Float32frombits(order.Uint32(p)))
		}
		return math.Float64frombits(order.Uint64(p))
	case sampleInt:
		switch l.bytesPerSample {
		case 1:
			return float64(int8(p[0]))
		case 2:
			return float64(int16(order.Uint16(p)))
		default:
			return float64(int32(order.Uint32(p)))
		}
	default:
		switch l.bytesPerSample {
		case 1:
			return float64(p[0])
		case 2:
			return float64(order.Uint16(p))
		default:
			return float64(order.Uint32(p))
		}
	}
}

// geoKeys returns the SHORT-valued GeoKeys stored inline in the directory.
func (r *reader) geoKeys() map[int]int {
	keys := make(map[int]int)
	dir, err := r.uints(tagGeoKeyDirectory)
	if err != nil || len(dir) < 4 {
		return keys
	}
	n := int(dir[3])
	for i := 0; i < n && 4+i*4+3 < len(dir); i++ {
		k := dir[4+i*4:]
		if k[1] == 0 {
			keys[int(k[0])] = int(k[3])
		}
	}
	return keys
}

// transform builds the pixel-corner to model affine transform.
func (r *reader) transform(pixelIsPoint bool) (domain.Affine, error) {
	var t domain.Affine
	if m, ok := r.doubles(tagModelTransformation); ok && len(m) >= 8 {
		t = domain.Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	} else {
		scale, okS := r.doubles(tagModelPixelScale)
		tie, okT := r.doubles(tagModelTiepoint)
		if !okS || !okT || len(scale) < 2 || len(tie) < 6 {
			return t, fmt.Errorf("%w: no georeferencing tags", ErrFormat)
		}
		t = domain.Affine{
			A: scale[0],
			C: tie[3] - tie[0]*scale[0],
			E: -scale[1],
			F: tie[4] + tie[1]*scale[1],
		}
	}
	if pixelIsPoint {
		t.C -= (t.A + t.B) / 2
		t.F -= (t.D + t.E) / 2
	}
	return t, nil
}

func (r *reader) noData() (float64, bool) {
	e, ok := r.tags[tagGDALNoData]
	if !ok || e.typ != 2 {
		return 0, false
	}
	s := strings.TrimSpace(strings.TrimRight(string(e.raw), "\x00"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
