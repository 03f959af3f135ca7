package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type field struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shorts(tag uint16, v ...uint16) field {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(b[i*2:], x)
	}
	return field{tag, 3, uint32(len(v)), b}
}

func longs(tag uint16, v ...uint32) field {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], x)
	}
	return field{tag, 4, uint32(len(v)), b}
}

func doubles(tag uint16, v ...float64) field {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[i*8:], math.Float64bits(x))
	}
	return field{tag, 12, uint32(len(v)), b}
}

func ascii(tag uint16, s string) field {
	b := append([]byte(s), 0)
	return field{tag, 2, uint32(len(b)), b}
}

// geoFields georeferences a grid whose upper-left corner is (-106, 41) with
// 0.5 degree pixels, in EPSG:4326.
func geoFields() []field {
	return []field{
		doubles(tagModelPixelScale, 0.5, 0.5, 0),
		doubles(tagModelTiepoint, 0, 0, 0, -106, 41, 0),
		shorts(tagGeoKeyDirectory,
			1, 1, 0, 2,
			1024, 0, 1, 2,
			keyGeographicType, 0, 1, 4326,
		),
	}
}

// buildTIFF lays out a little-endian TIFF: header, chunk data, IFD, then
// out-of-line tag values.
func buildTIFF(fields []field, chunks [][]byte, offsetsTag, countsTag uint16) []byte {
	var body bytes.Buffer
	offsets := make([]uint32, len(chunks))
	counts := make([]uint32, len(chunks))
	pos := uint32(8)
	for i, c := range chunks {
		offsets[i] = pos
		counts[i] = uint32(len(c))
		body.Write(c)
		pos += uint32(len(c))
	}
	if pos%2 == 1 {
		body.WriteByte(0)
		pos++
	}

	fields = append(fields, longs(offsetsTag, offsets...), longs(countsTag, counts...))
	sort.Slice(fields, func(i, j int) bool { return fields[i].tag < fields[j].tag })

	ifdOffset := pos
	extraOffset := ifdOffset + 2 + uint32(len(fields))*12 + 4
	var ifd, extra bytes.Buffer
	_ = binary.Write(&ifd, binary.LittleEndian, uint16(len(fields)))
	for _, f := range fields {
		_ = binary.Write(&ifd, binary.LittleEndian, f.tag)
		_ = binary.Write(&ifd, binary.LittleEndian, f.typ)
		_ = binary.Write(&ifd, binary.LittleEndian, f.count)
		if len(f.data) <= 4 {
			v := make([]byte, 4)
			copy(v, f.data)
			ifd.Write(v)
			continue
		}
		_ = binary.Write(&ifd, binary.LittleEndian, extraOffset+uint32(extra.Len()))
		extra.Write(f.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	_ = binary.Write(&ifd, binary.LittleEndian, uint32(0))

	var out bytes.Buffer
	out.WriteString("II")
	_ = binary.Write(&out, binary.LittleEndian, uint16(42))
	_ = binary.Write(&out, binary.LittleEndian, ifdOffset)
	out.Write(body.Bytes())
	out.Write(ifd.Bytes())
	out.Write(extra.Bytes())
	return out.Bytes()
}

func int16Bytes(v ...int16) []byte {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(x))
	}
	return b
}

// lzwLiterals encodes data as a TIFF LZW stream made only of literal codes.
func lzwLiterals(data []byte) []byte {
	var out []byte
	var acc uint32
	var nbits uint
	put := func(code uint32) {
		acc = acc<<9 | code
		nbits += 9
		for nbits >= 8 {
			out = append(out, byte(acc>>(nbits-8)))
			nbits -= 8
		}
	}
	put(256)
	for _, b := range data {
		put(uint32(b))
	}
	put(257)
	if nbits > 0 {
		out = append(out, byte(acc<<(8-nbits)))
	}
	return out
}

func TestDecode_UncompressedInt16Strips(t *testing.T) {
	// 3x2 grid, one row per strip.
	fields := append(geoFields(),
		longs(tagImageWidth, 3),
		longs(tagImageLength, 2),
		shorts(tagBitsPerSample, 16),
		shorts(tagCompression, compressionNone),
		shorts(tagSamplesPerPixel, 1),
		longs(tagRowsPerStrip, 1),
		shorts(tagSampleFormat, sampleInt),
		ascii(tagGDALNoData, "-32768"),
	)
	chunks := [][]byte{int16Bytes(100, 130, -32768), int16Bytes(-5, 0, 2500)}
	r, err := Decode(buildTIFF(fields, chunks, tagStripOffsets, tagStripByteCounts))
	require.NoError(t, err)

	assert.Equal(t, 3, r.Width)
	assert.Equal(t, 2, r.Height)
	assert.Equal(t, []float64{100, 130, -32768, -5, 0, 2500}, r.Data)
	assert.Equal(t, 4326, r.EPSG)
	require.NotNil(t, r.NoData)
	assert.Equal(t, -32768.0, *r.NoData)

	assert.Equal(t, -106.0, r.Transform.C)
	assert.Equal(t, 41.0, r.Transform.F)
	assert.Equal(t, 0.5, r.Transform.A)
	assert.Equal(t, -0.5, r.Transform.E)

	row, col := r.RowCol(-105.2, 40.7)
	assert.Equal(t, 0, row)
	assert.Equal(t, 1, col)
	v, ok := r.At(row, col)
	assert.True(t, ok)
	assert.Equal(t, 130.0, v)

	_, ok = r.At(0, 2)
	assert.False(t, ok, "nodata cell must not yield a value")
}

func TestDecode_LZWWithHorizontalPredictor(t *testing.T) {
	// Row values 10, 12, 9 are stored as differences 10, 2, -3.
	fields := append(geoFields(),
		longs(tagImageWidth, 3),
		longs(tagImageLength, 2),
		shorts(tagBitsPerSample, 16),
		shorts(tagCompression, compressionLZW),
		shorts(tagPredictor, predictorHorizontal),
		shorts(tagSampleFormat, sampleInt),
		longs(tagRowsPerStrip, 2),
	)
	raw := append(int16Bytes(10, 2, -3), int16Bytes(-1, -1, -1)...)
	r, err := Decode(buildTIFF(fields, [][]byte{lzwLiterals(raw)}, tagStripOffsets, tagStripByteCounts))
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 12, 9, -1, -2, -3}, r.Data)
}

func TestDecode_DeflateFloat32WithFloatPredictor(t *testing.T) {
	values := []float32{1500.5, 1501.25, 1499}
	// Byte planes, most significant first, then byte-wise differencing.
	n := len(values)
	planes := make([]byte, 4*n)
	for i, v := range values {
		bits := math.Float32bits(v)
		for b := 0; b < 4; b++ {
			planes[b*n+i] = byte(bits >> (24 - 8*b))
		}
	}
	for i := len(planes) - 1; i > 0; i-- {
		planes[i] -= planes[i-1]
	}
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, _ = zw.Write(planes)
	require.NoError(t, zw.Close())

	fields := append(geoFields(),
		longs(tagImageWidth, 3),
		longs(tagImageLength, 1),
		shorts(tagBitsPerSample, 32),
		shorts(tagCompression, compressionDeflate),
		shorts(tagPredictor, predictorFloat),
		shorts(tagSampleFormat, sampleFloat),
	)
	r, err := Decode(buildTIFF(fields, [][]byte{z.Bytes()}, tagStripOffsets, tagStripByteCounts))
	require.NoError(t, err)
	assert.Equal(t, []float64{1500.5, 1501.25, 1499}, r.Data)
}

func TestDecode_Tiles(t *testing.T) {
	// 3x3 image in 2x2 uint16 tiles; edge tiles are padded.
	tile := func(v ...uint16) []byte {
		b := make([]byte, 8)
		for i, x := range v {
			binary.LittleEndian.PutUint16(b[i*2:], x)
		}
		return b
	}
	fields := append(geoFields(),
		longs(tagImageWidth, 3),
		longs(tagImageLength, 3),
		shorts(tagBitsPerSample, 16),
		shorts(tagTileWidth, 2),
		shorts(tagTileLength, 2),
	)
	chunks := [][]byte{
		tile(1, 2, 4, 5),
		tile(3, 0, 6, 0),
		tile(7, 8, 0, 0),
		tile(9, 0, 0, 0),
	}
	r, err := Decode(buildTIFF(fields, chunks, tagTileOffsets, tagTileByteCounts))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, r.Data)
}

func TestDecode_Float32DeflateTilesWithNoData(t *testing.T) {
	// 3x2 float32 grid in 2x2 deflated tiles, the layout OpenTopography
	// serves for float DEM products.
	tile := func(v ...float32) []byte {
		raw := make([]byte, 16)
		for i, x := range v {
			binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(x))
		}
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		_, _ = zw.Write(raw)
		require.NoError(t, zw.Close())
		return z.Bytes()
	}
	fields := append(geoFields(),
		longs(tagImageWidth, 3),
		longs(tagImageLength, 2),
		shorts(tagBitsPerSample, 32),
		shorts(tagCompression, compressionDeflate),
		shorts(tagSampleFormat, sampleFloat),
		shorts(tagTileWidth, 2),
		shorts(tagTileLength, 2),
		ascii(tagGDALNoData, "-32768"),
	)
	chunks := [][]byte{
		tile(1500.5, 1501, 1499.75, 1502),
		tile(-32768, 0, 1503.25, 0),
	}
	r, err := Decode(buildTIFF(fields, chunks, tagTileOffsets, tagTileByteCounts))
	require.NoError(t, err)
	assert.Equal(t, []float64{1500.5, 1501, -32768, 1499.75, 1502, 1503.25}, r.Data)
	require.NotNil(t, r.NoData)

	_, ok := r.At(0, 2)
	assert.False(t, ok, "nodata cell must read as empty")
	v, ok := r.At(1, 2)
	assert.True(t, ok)
	assert.Equal(t, 1503.25, v)
	assert.Equal(t, 4326, r.EPSG)
}

func TestDecode_TransformationMatrixAndPixelIsPoint(t *testing.T) {
	fields := []field{
		longs(tagImageWidth, 2),
		longs(tagImageLength, 1),
		shorts(tagBitsPerSample, 8),
		doubles(tagModelTransformation,
			0.25, 0, 0, -106,
			0, -0.25, 0, 41,
			0, 0, 0, 0,
			0, 0, 0, 1,
		),
		shorts(tagGeoKeyDirectory,
			1, 1, 0, 2,
			keyRasterType, 0, 1, rasterPixelIsPoint,
			keyGeographicType, 0, 1, 4326,
		),
	}
	r, err := Decode(buildTIFF(fields, [][]byte{{7, 8}}, tagStripOffsets, tagStripByteCounts))
	require.NoError(t, err)
	assert.Equal(t, -106.125, r.Transform.C)
	assert.Equal(t, 41.125, r.Transform.F)
	assert.Nil(t, r.NoData)
	assert.Equal(t, []float64{7, 8}, r.Data)
}

func TestDecode_Rejects(t *testing.T) {
	tests := map[string][]byte{
		"empty":     nil,
		"not tiff":  []byte("<html>error</html>"),
		"bigtiff":   {'I', 'I', 43, 0, 8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		"bad ifd":   {'I', 'I', 42, 0, 0xff, 0xff, 0, 0},
		"no georef": buildTIFF([]field{longs(tagImageWidth, 1), longs(tagImageLength, 1), shorts(tagBitsPerSample, 8)}, [][]byte{{1}}, tagStripOffsets, tagStripByteCounts),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(data)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}
