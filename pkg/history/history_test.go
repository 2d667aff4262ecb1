package history

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func shade(i int) color.NRGBA {
	return color.NRGBA{uint8(i * 10), uint8(255 - i*10), 100, 255}
}

func TestPopEmpty(t *testing.T) {
	m := New()
	_, err := m.Pop()
	assert.True(t, errors.Is(err, ErrEmptyHistory))
}

func TestPushPopRoundTripLossless(t *testing.T) {
	m := NewWithConfig(Config{Capacity: 20, Lossless: true})
	states := make([]*image.NRGBA, 5)
	for i := range states {
		states[i] = solidImage(16, 16, shade(i))
		require.NoError(t, m.Push(states[i]))
	}

	var last *image.NRGBA
	for i := len(states) - 1; i >= 0; i-- {
		snap, err := m.Pop()
		require.NoError(t, err)
		last, err = snap.Decode()
		require.NoError(t, err)
		assert.Equal(t, states[i].Pix, last.Pix, "snapshot %d", i)
	}
	assert.Equal(t, states[0].Pix, last.Pix)

	_, err := m.Pop()
	assert.ErrorIs(t, err, ErrEmptyHistory)
}

func TestLossyRoundTripIsClose(t *testing.T) {
	m := New()
	img := solidImage(32, 32, color.NRGBA{120, 60, 200, 255})
	require.NoError(t, m.Push(img))

	snap, err := m.Pop()
	require.NoError(t, err)
	assert.Equal(t, "webp", snap.Format)

	out, err := snap.Decode()
	require.NoError(t, err)
	got := out.NRGBAAt(10, 10)
	assert.InDelta(t, 120, int(got.R), 12)
	assert.InDelta(t, 60, int(got.G), 12)
	assert.InDelta(t, 200, int(got.B), 12)
}

func TestCapacityAndFIFOEviction(t *testing.T) {
	m := NewWithConfig(Config{Capacity: 20, Lossless: true})
	for i := 0; i < 25; i++ {
		require.NoError(t, m.Push(solidImage(4, 4, shade(i))))
		assert.LessOrEqual(t, m.Len(), 20)
	}
	require.Equal(t, 20, m.Len())

	// the five oldest were evicted; the newest come out first
	for i := 24; i >= 5; i-- {
		snap, err := m.Pop()
		require.NoError(t, err)
		img, err := snap.Decode()
		require.NoError(t, err)
		assert.Equal(t, shade(i), img.NRGBAAt(0, 0))
	}
	_, err := m.Pop()
	assert.ErrorIs(t, err, ErrEmptyHistory)
}

func TestInterleavedPushPop(t *testing.T) {
	m := NewWithConfig(Config{Capacity: 3, Lossless: true})
	push := func(i int) { require.NoError(t, m.Push(solidImage(2, 2, shade(i)))) }
	pop := func() color.NRGBA {
		snap, err := m.Pop()
		require.NoError(t, err)
		img, err := snap.Decode()
		require.NoError(t, err)
		return img.NRGBAAt(0, 0)
	}

	push(1)
	push(2)
	push(3)
	push(4) // evicts 1
	assert.Equal(t, shade(4), pop())
	push(5)
	push(6) // evicts 2
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, shade(6), pop())
	assert.Equal(t, shade(5), pop())
	assert.Equal(t, shade(3), pop())
	assert.Equal(t, 0, m.Len())
}

func TestResetSeedsOriginal(t *testing.T) {
	m := NewWithConfig(Config{Lossless: true})
	for i := 0; i < 4; i++ {
		require.NoError(t, m.Push(solidImage(4, 4, shade(i))))
	}
	original := solidImage(4, 4, color.NRGBA{1, 2, 3, 255})
	require.NoError(t, m.Reset(original))
	require.Equal(t, 1, m.Len())

	snap, err := m.Pop()
	require.NoError(t, err)
	img, err := snap.Decode()
	require.NoError(t, err)
	assert.Equal(t, original.Pix, img.Pix)
}

func TestFallbackToPNG(t *testing.T) {
	m := New()
	m.encode = func(image.Image) ([]byte, error) { return []byte("not an image"), nil }
	require.NoError(t, m.Push(solidImage(4, 4, shade(1))))

	snap, err := m.Pop()
	require.NoError(t, err)
	assert.Equal(t, "png", snap.Format)

	img, err := snap.Decode()
	require.NoError(t, err)
	assert.Equal(t, shade(1), img.NRGBAAt(0, 0))

	m.encode = func(image.Image) ([]byte, error) { return nil, errors.New("boom") }
	require.NoError(t, m.Push(solidImage(4, 4, shade(2))))
	snap, err = m.Pop()
	require.NoError(t, err)
	assert.Equal(t, "png", snap.Format)
}
