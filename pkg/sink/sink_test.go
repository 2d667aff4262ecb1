package sink

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-redactor/pkg/metadata"
	"github.com/menta2k/image-redactor/pkg/types"
)

type memSources map[string][]byte

func (m memSources) ReadSource(_ context.Context, source string) ([]byte, error) {
	data, ok := m[source]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 16), uint8(y * 16), 100, 255})
		}
	}
	return img
}

func pngWithText(t *testing.T, key, value string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, createTestImage(4, 4)))
	data := buf.Bytes()

	payload := []byte(key + "\x00" + value)
	var chunk bytes.Buffer
	_ = binary.Write(&chunk, binary.BigEndian, uint32(len(payload)))
	chunk.WriteString("tEXt")
	chunk.Write(payload)
	_ = binary.Write(&chunk, binary.BigEndian, crc32.ChecksumIEEE(append([]byte("tEXt"), payload...)))

	out := append([]byte(nil), data[:33]...)
	out = append(out, chunk.Bytes()...)
	return append(out, data[33:]...)
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestSaveDefaultsToPNG(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(nil, quietLogger())
	img := createTestImage(16, 16)

	path, err := s.Save(context.Background(), Request{ItemID: "a", Image: img, Filename: "a_censored.png", Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a_censored.png"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, imaging.Clone(got).Pix)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFormatDecidesExtension(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(nil, quietLogger())

	for _, format := range []string{"webp", "jpg"} {
		path, err := s.Save(context.Background(), Request{
			ItemID: "a", Image: createTestImage(16, 16), Filename: "a_censored.png", Dir: dir, Format: format,
		})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "a_censored."+format), path)

		f, err := os.Open(path)
		require.NoError(t, err)
		_, kind, err := image.Decode(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"webp": "webp", "jpg": "jpeg"}[format], kind)
	}
}

func TestKeepCopiesMetadata(t *testing.T) {
	dir := t.TempDir()
	sources := memSources{"/src/a.png": pngWithText(t, "parameters", "steps: 20")}
	s := NewFileSink(sources, quietLogger())

	path, err := s.Save(context.Background(), Request{
		ItemID: "a", Source: "/src/a.png", Image: createTestImage(8, 8),
		Filename: "a.png", Dir: dir, Metadata: types.MetadataKeep,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	block, err := metadata.Extract(data)
	require.NoError(t, err)
	require.Len(t, block.Raw, 1)
	assert.Contains(t, string(block.Raw[0]), "steps: 20")
}

func TestKeepCarriesEXIFAcrossFormats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, createTestImage(4, 4)))
	exif := []byte("MM\x00\x2a\x00\x00\x00\x08")
	src, err := metadata.InjectPayloads(buf.Bytes(), metadata.Payloads{EXIF: exif})
	require.NoError(t, err)
	s := NewFileSink(memSources{"/src/a.png": src}, quietLogger())

	path, err := s.Save(context.Background(), Request{
		ItemID: "a", Source: "/src/a.png", Image: createTestImage(8, 8),
		Filename: "a.jpg", Dir: t.TempDir(), Format: "jpg", Metadata: types.MetadataKeep,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "jpg", metadata.Format(data))
	p, err := metadata.ExtractPayloads(data)
	require.NoError(t, err)
	assert.Equal(t, exif, p.EXIF)
}

func TestWashStripsMetadata(t *testing.T) {
	dir := t.TempDir()
	sources := memSources{"/src/a.png": pngWithText(t, "parameters", "steps: 20")}
	s := NewFileSink(sources, quietLogger())

	path, err := s.Save(context.Background(), Request{
		ItemID: "a", Source: "/src/a.png", Image: createTestImage(8, 8),
		Filename: "a.png", Dir: dir, Metadata: types.MetadataWash,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	block, err := metadata.Extract(data)
	require.NoError(t, err)
	assert.True(t, block.Empty())
}

func TestWashOnMetadataFreeSource(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, createTestImage(4, 4)))
	s := NewFileSink(memSources{"/src/plain.png": buf.Bytes()}, quietLogger())

	_, err := s.Save(context.Background(), Request{
		ItemID: "plain", Source: "/src/plain.png", Image: createTestImage(4, 4),
		Filename: "plain.png", Dir: t.TempDir(), Metadata: types.MetadataWash,
	})
	assert.NoError(t, err)
}

func TestKeepSurvivesUnreadableSource(t *testing.T) {
	var logs bytes.Buffer
	s := NewFileSink(memSources{}, log.New(&logs, "", 0))

	_, err := s.Save(context.Background(), Request{
		ItemID: "a", Source: "/gone.png", Image: createTestImage(4, 4),
		Filename: "a.png", Dir: t.TempDir(), Metadata: types.MetadataKeep,
	})
	assert.NoError(t, err)
	assert.Contains(t, logs.String(), "Warning")
}

func TestFailuresArePersistenceErrors(t *testing.T) {
	s := NewFileSink(nil, quietLogger())

	_, err := s.Save(context.Background(), Request{ItemID: "a", Image: createTestImage(4, 4), Filename: "a.png", Dir: t.TempDir(), Format: "bmp"})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "a", pe.ItemID)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	_, err = s.Save(context.Background(), Request{ItemID: "b", Image: createTestImage(4, 4), Filename: "b.png", Dir: blocker})
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "b", pe.ItemID)
}

func TestFilenameIsSanitized(t *testing.T) {
	dir := t.TempDir()
	s := NewFileSink(nil, quietLogger())

	path, err := s.Save(context.Background(), Request{ItemID: "a", Image: createTestImage(4, 4), Filename: "../../escape.png", Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
}
