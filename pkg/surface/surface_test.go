package surface

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-redactor/pkg/history"
	"github.com/menta2k/image-redactor/pkg/queue"
	"github.com/menta2k/image-redactor/pkg/tools"
	"github.com/menta2k/image-redactor/pkg/types"
)

func createTestImage(width, height int, base uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 255 / width), uint8(y * 255 / height), base, 255})
		}
	}
	return img
}

type mapLoader map[string]image.Image

func (l mapLoader) LoadReference(_ context.Context, source string) (image.Image, error) {
	img, ok := l[source]
	if !ok {
		return nil, errors.New("no such source")
	}
	return img, nil
}

func newSurface(loader queue.Loader) *Surface {
	hist := history.NewWithConfig(history.Config{Capacity: 5, Lossless: true})
	return New(loader, tools.NewMachine(), hist)
}

func setup(t *testing.T) (*Surface, *queue.Manager) {
	t.Helper()
	loader := mapLoader{
		"a.png": createTestImage(64, 48, 10),
		"b.png": createTestImage(32, 80, 200),
	}
	s := newSurface(loader)
	q := queue.New(s)
	q.Add(queue.NewItem("a", "a.png"), queue.NewItem("b", "b.png"), queue.NewItem("c", "missing.png"))
	require.NoError(t, q.Activate(context.Background(), 0))
	return s, q
}

func TestLoadShowsOriginal(t *testing.T) {
	s, _ := setup(t)
	assert.Equal(t, "a", s.Item().ID)
	assert.Equal(t, s.Original().Pix, s.Image().Pix)
	assert.False(t, s.Dirty())
}

func TestEditSurvivesSwitching(t *testing.T) {
	s, q := setup(t)
	ctx := context.Background()

	require.NoError(t, s.BeginStroke(types.Point{X: 20, Y: 20}))
	s.ContinueStroke(types.Point{X: 40, Y: 20})
	s.EndStroke()
	edited := append([]byte(nil), s.Image().Pix...)
	assert.NotEqual(t, s.Original().Pix, edited)

	require.NoError(t, q.Activate(ctx, 1))
	assert.Equal(t, "b", s.Item().ID)
	assert.Equal(t, image.Rect(0, 0, 32, 80), s.Image().Bounds())

	require.NoError(t, q.Activate(ctx, 0))
	assert.Equal(t, edited, s.Image().Pix)

	a, _ := q.Find("a")
	assert.True(t, a.Modified)
	b, _ := q.Find("b")
	assert.False(t, b.Modified)
}

func TestLoadErrorKeepsPrevious(t *testing.T) {
	s, q := setup(t)
	before := append([]byte(nil), s.Image().Pix...)

	err := q.Activate(context.Background(), 2)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "c", loadErr.ItemID)

	assert.Equal(t, "a", s.Item().ID)
	assert.Equal(t, "a", q.Active().ID)
	assert.Equal(t, before, s.Image().Pix)
}

func TestMapInputToBuffer(t *testing.T) {
	s, _ := setup(t)

	assert.Equal(t, image.Pt(5, 7), s.MapInputToBuffer(types.Point{X: 5.4, Y: 7.9}))

	// 64x48 buffer shown at twice its size, offset by (100, 50)
	s.SetDisplayRect(types.RectF{
		Min: types.Point{X: 100, Y: 50},
		Max: types.Point{X: 228, Y: 146},
	})
	assert.Equal(t, image.Pt(0, 0), s.MapInputToBuffer(types.Point{X: 100, Y: 50}))
	assert.Equal(t, image.Pt(10, 5), s.MapInputToBuffer(types.Point{X: 120, Y: 60}))
	assert.Equal(t, image.Pt(63, 47), s.MapInputToBuffer(types.Point{X: 227, Y: 145}))
	assert.Equal(t, image.Rect(0, 0, 64, 48), s.Image().Bounds())
}

func TestUndoRestoresPreviousState(t *testing.T) {
	s, _ := setup(t)
	orig := append([]byte(nil), s.Image().Pix...)

	require.NoError(t, s.BeginStroke(types.Point{X: 10, Y: 10}))
	s.EndStroke()
	afterFirst := append([]byte(nil), s.Image().Pix...)

	require.NoError(t, s.BeginStroke(types.Point{X: 50, Y: 30}))
	s.EndStroke()

	require.NoError(t, s.Undo())
	assert.Equal(t, afterFirst, s.Image().Pix)
	require.NoError(t, s.Undo())
	assert.Equal(t, orig, s.Image().Pix)
	assert.ErrorIs(t, s.Undo(), history.ErrEmptyHistory)
}

func TestResetToOriginal(t *testing.T) {
	s, _ := setup(t)

	require.NoError(t, s.BeginStroke(types.Point{X: 10, Y: 10}))
	s.ContinueStroke(types.Point{X: 60, Y: 40})
	s.EndStroke()

	require.NoError(t, s.ResetToOriginal())
	assert.Equal(t, s.Original().Pix, s.Image().Pix)
	assert.Equal(t, 1, s.History().Len())

	require.NoError(t, s.Undo())
	assert.Equal(t, s.Original().Pix, s.Image().Pix)
}

func TestCommitWithoutEdits(t *testing.T) {
	s, _ := setup(t)
	assert.False(t, s.Commit())
	assert.Nil(t, s.Item().Working())
}

func TestReplace(t *testing.T) {
	s, _ := setup(t)

	assert.Error(t, s.Replace(image.NewNRGBA(image.Rect(0, 0, 2, 2))))

	black := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	require.NoError(t, s.Replace(black))
	assert.Equal(t, black.Pix, s.Image().Pix)
	assert.True(t, s.Dirty())

	require.NoError(t, s.Undo())
	assert.Equal(t, s.Original().Pix, s.Image().Pix)
}

func TestOperationsNeedItem(t *testing.T) {
	s := newSurface(mapLoader{})
	assert.ErrorIs(t, s.BeginStroke(types.Point{}), ErrNoItem)
	assert.ErrorIs(t, s.Undo(), ErrNoItem)
	assert.ErrorIs(t, s.ResetToOriginal(), ErrNoItem)
	_, err := s.DiffOverlay(color.NRGBA{R: 255, A: 255})
	assert.ErrorIs(t, err, ErrNoItem)
	assert.False(t, s.Commit())
}

func TestBuffersAreReused(t *testing.T) {
	s, q := setup(t)
	ctx := context.Background()
	first := s.Image()

	require.NoError(t, q.Activate(ctx, 1))
	second := s.Image()
	assert.NotSame(t, first, second)

	require.NoError(t, q.Activate(ctx, 0))
	assert.Same(t, first, s.Image())
	require.NoError(t, q.Activate(ctx, 1))
	assert.Same(t, second, s.Image())
}
