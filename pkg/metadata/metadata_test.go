package metadata

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil))
	return buf.Bytes()
}

func pngChunk(typ string, payload []byte) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(payload)))
	buf.WriteString(typ)
	buf.Write(payload)
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(payload)
	_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	return buf.Bytes()
}

func jpegSegment(marker byte, payload []byte) []byte {
	seg := []byte{0xFF, marker, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}

// insert places extra right after the first n bytes of data
func insert(data []byte, n int, extra ...[]byte) []byte {
	out := append([]byte(nil), data[:n]...)
	for _, e := range extra {
		out = append(out, e...)
	}
	return append(out, data[n:]...)
}

func TestPNGRoundTrip(t *testing.T) {
	text := pngChunk("tEXt", []byte("parameters\x00steps: 20"))
	phys := pngChunk("pHYs", []byte{0, 0, 11, 19, 0, 0, 11, 19, 1})
	private := pngChunk("prVt", []byte("dropped"))
	src := insert(encodePNG(t), 33, text, phys, private)

	b, err := Extract(src)
	require.NoError(t, err)
	assert.Equal(t, "png", b.Format)
	assert.Equal(t, [][]byte{text, phys}, b.Raw)

	out, err := Inject(encodePNG(t), b)
	require.NoError(t, err)

	_, err = png.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	again, err := Extract(out)
	require.NoError(t, err)
	assert.Equal(t, b.Raw, again.Raw)
}

func TestJPEGRoundTrip(t *testing.T) {
	exif := jpegSegment(0xE1, []byte("Exif\x00\x00MM\x00\x2a"))
	icc := jpegSegment(0xE2, []byte("ICC_PROFILE\x00\x01\x01"))
	comment := jpegSegment(0xFE, []byte("not kept"))
	src := insert(encodeJPEG(t), 2, exif, icc, comment)

	b, err := Extract(src)
	require.NoError(t, err)
	assert.Equal(t, "jpg", b.Format)
	assert.Equal(t, [][]byte{exif, icc}, b.Raw)

	out, err := Inject(encodeJPEG(t), b)
	require.NoError(t, err)

	_, err = jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	again, err := Extract(out)
	require.NoError(t, err)
	assert.Equal(t, b.Raw, again.Raw)
}

func TestMetadataFreeSource(t *testing.T) {
	b, err := Extract(encodePNG(t))
	require.NoError(t, err)
	assert.True(t, b.Empty())

	dst := encodePNG(t)
	out, err := Inject(dst, b)
	require.NoError(t, err)
	assert.Equal(t, dst, out)
}

func TestFormatMismatch(t *testing.T) {
	b := Block{Format: "png", Raw: [][]byte{pngChunk("tEXt", []byte("k\x00v"))}}
	_, err := Inject(encodeJPEG(t), b)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Extract([]byte("GIF89a not really"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestTruncatedPNG(t *testing.T) {
	src := insert(encodePNG(t), 33, pngChunk("tEXt", []byte("k\x00v")))
	_, err := Extract(src[:45])
	assert.Error(t, err)
}

func TestPNGPayloadsMoveToJPEG(t *testing.T) {
	exif := []byte("MM\x00\x2a\x00\x00\x00\x08")
	icc := bytes.Repeat([]byte("profile"), 20)
	src, err := InjectPayloads(encodePNG(t), Payloads{EXIF: exif, ICC: icc})
	require.NoError(t, err)

	p, err := ExtractPayloads(src)
	require.NoError(t, err)
	assert.Equal(t, exif, p.EXIF)
	assert.Equal(t, icc, p.ICC)

	out, err := Carry(src, encodeJPEG(t))
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	b, err := Extract(out)
	require.NoError(t, err)
	require.Len(t, b.Raw, 2)
	assert.Equal(t, byte(0xE1), b.Raw[0][1])
	assert.True(t, bytes.HasPrefix(b.Raw[0][4:], []byte("Exif\x00\x00")))

	moved, err := ExtractPayloads(out)
	require.NoError(t, err)
	assert.Equal(t, p, moved)
}

func TestJPEGPayloadsMoveToPNG(t *testing.T) {
	src := insert(encodeJPEG(t), 2,
		jpegSegment(0xE1, []byte("Exif\x00\x00II\x2a\x00")),
		jpegSegment(0xE2, []byte("ICC_PROFILE\x00\x02\x02tail")),
		jpegSegment(0xE2, []byte("ICC_PROFILE\x00\x01\x02head-")),
	)

	out, err := Carry(src, encodePNG(t))
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	p, err := ExtractPayloads(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("II\x2a\x00"), p.EXIF)
	assert.Equal(t, []byte("head-tail"), p.ICC)
}

func TestLargeProfileSpansSegments(t *testing.T) {
	icc := bytes.Repeat([]byte{7}, iccChunkSize+10)
	out, err := InjectPayloads(encodeJPEG(t), Payloads{ICC: icc})
	require.NoError(t, err)

	b, err := Extract(out)
	require.NoError(t, err)
	assert.Len(t, b.Raw, 2)

	p, err := ExtractPayloads(out)
	require.NoError(t, err)
	assert.Equal(t, icc, p.ICC)
}

func TestCarryKeepsSameContainerVerbatim(t *testing.T) {
	text := pngChunk("tEXt", []byte("parameters\x00steps: 20"))
	out, err := Carry(insert(encodePNG(t), 33, text), encodePNG(t))
	require.NoError(t, err)

	b, err := Extract(out)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{text}, b.Raw)
}
