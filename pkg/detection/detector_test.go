package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/image-redactor/pkg/client"
	"github.com/menta2k/image-redactor/pkg/types"
)

type fakeClient struct {
	result  *types.DetectionResult
	err     error
	calls   int
	prompt  string
	known   string
	queried bool
}

func (f *fakeClient) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	f.queried = true
	return "a gradient", f.err
}

func (f *fakeClient) DetectRegions(ctx context.Context, model, prompt, imgB64 string) (*types.DetectionResult, error) {
	f.calls++
	f.prompt = prompt
	if imgB64 == "" {
		return nil, errors.New("no image sent")
	}
	return f.result, f.err
}

func (f *fakeClient) ValidateModel(ctx context.Context, model string) error {
	if model != f.known {
		return fmt.Errorf("%w: %s", client.ErrModelNotFound, model)
	}
	return nil
}

func createTestImage(width, height int) image.Image {
	return image.NewNRGBA(image.Rect(0, 0, width, height))
}

func TestDetectConvertsAndFilters(t *testing.T) {
	fc := &fakeClient{result: &types.DetectionResult{Regions: []types.ModelRegion{
		{Label: "Breasts", Confidence: 0.9, Box: types.NormBox{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}},
		{Label: "pussy", Confidence: 0.3, Box: types.NormBox{X: 0.5, Y: 0.5, W: 0.2, H: 0.2}},
		{Label: "dick", Confidence: 0.7, Box: types.NormBox{X: 0.9, Y: 0.9, W: 0.5, H: 0.5}},
	}}}
	d := NewDetector(fc)

	regions, err := d.Detect(context.Background(), createTestImage(200, 100), "censor", 0.5)
	require.NoError(t, err)
	require.Len(t, regions, 2)

	assert.Equal(t, "breasts", regions[0].Label)
	assert.Equal(t, types.Box{X1: 20, Y1: 10, X2: 60, Y2: 30}, regions[0].Box)
	// clipped to the image
	assert.Equal(t, types.Box{X1: 180, Y1: 90, X2: 200, Y2: 100}, regions[1].Box)
	assert.Equal(t, d.Prompt(), fc.prompt)
}

func TestDetectScalesPixelBoxesFromSentSize(t *testing.T) {
	fc := &fakeClient{result: &types.DetectionResult{Regions: []types.ModelRegion{
		{Label: "anus", Confidence: 0.8, Box: types.NormBox{X: 10, Y: 10, W: 20, H: 20}},
	}}}
	d := NewDetectorWithConfig(fc, Config{SendSize: 100})

	// sent at 100x50, so every pixel coordinate is worth four
	regions, err := d.Detect(context.Background(), createTestImage(400, 200), "censor", 0.5)
	require.NoError(t, err)
	require.Len(t, regions, 1)
	assert.Equal(t, types.Box{X1: 40, Y1: 40, X2: 120, Y2: 120}, regions[0].Box)
}

func TestDetectEmptyIsNil(t *testing.T) {
	fc := &fakeClient{result: &types.DetectionResult{}}
	regions, err := NewDetector(fc).Detect(context.Background(), createTestImage(10, 10), "censor", 0.5)
	assert.NoError(t, err)
	assert.Nil(t, regions)
}

func TestEmptyModelIsRejectedBeforeCall(t *testing.T) {
	fc := &fakeClient{}
	_, err := NewDetector(fc).Detect(context.Background(), createTestImage(10, 10), "  ", 0.5)

	var de *DetectionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, InvalidModel, de.Kind)
	assert.Zero(t, fc.calls, "no backend call expected")
}

func TestUnencodableImageIsInvalidInput(t *testing.T) {
	fc := &fakeClient{result: &types.DetectionResult{}}
	d := NewDetectorWithConfig(fc, Config{SendFormat: "png"})

	_, err := d.Detect(context.Background(), createTestImage(0, 0), "censor", 0.5)
	var de *DetectionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, InvalidInput, de.Kind)
	assert.Equal(t, "censor", de.Model)
	assert.Zero(t, fc.calls)

	_, err = d.TestVision(context.Background(), "censor", createTestImage(0, 0))
	require.ErrorAs(t, err, &de)
	assert.Equal(t, InvalidInput, de.Kind)
	assert.False(t, fc.queried)
}

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{fmt.Errorf("%w: dial tcp", client.ErrUnreachable), Unreachable},
		{fmt.Errorf("%w: pull it first", client.ErrModelNotFound), InvalidModel},
		{fmt.Errorf("%w: not JSON", client.ErrMalformedResponse), MalformedResponse},
		{context.DeadlineExceeded, Unreachable},
	}

	for _, tt := range tests {
		fc := &fakeClient{err: tt.err}
		_, err := NewDetector(fc).Detect(context.Background(), createTestImage(10, 10), "censor", 0.5)
		var de *DetectionError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, tt.kind, de.Kind, "%v", tt.err)
		assert.ErrorIs(t, err, tt.err)
	}
}

func TestValidate(t *testing.T) {
	d := NewDetector(&fakeClient{known: "censor"})
	assert.NoError(t, d.Validate(context.Background(), "censor"))

	var de *DetectionError
	require.ErrorAs(t, d.Validate(context.Background(), "other"), &de)
	assert.Equal(t, InvalidModel, de.Kind)
}

func TestTestVision(t *testing.T) {
	fc := &fakeClient{}
	reply, err := NewDetector(fc).TestVision(context.Background(), "censor", createTestImage(10, 10))
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
	assert.True(t, fc.queried)
}

func TestNMS(t *testing.T) {
	regions := []types.Region{
		{Box: types.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, Confidence: 0.7},
		{Box: types.Box{X1: 1, Y1: 1, X2: 11, Y2: 11}, Confidence: 0.9},
		{Box: types.Box{X1: 50, Y1: 50, X2: 60, Y2: 60}, Confidence: 0.8},
		{Box: types.Box{X1: 5, Y1: 0, X2: 15, Y2: 10}, Confidence: 0.6},
	}

	kept := NMS(regions, DefaultIoUThreshold)
	require.Len(t, kept, 3)
	var got []float64
	for _, r := range kept {
		got = append(got, r.Confidence)
	}
	assert.Equal(t, []float64{0.9, 0.8, 0.6}, got)
}

func TestIoU(t *testing.T) {
	a := types.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	assert.Equal(t, 1.0, IoU(a, a))
	assert.Zero(t, IoU(a, types.Box{X1: 20, Y1: 20, X2: 30, Y2: 30}))
	assert.InDelta(t, 1.0/3, IoU(a, types.Box{X1: 5, Y1: 0, X2: 15, Y2: 10}), 1e-3)
}

func TestToPixelRegionsAcceptsPixelBoxes(t *testing.T) {
	in := []types.ModelRegion{{Label: "cum", Confidence: 1.4, Box: types.NormBox{X: 10, Y: 20, W: 30, H: 40}}}
	out := ToPixelRegions(in, 100, 100, 100, 100, 0.5)
	require.Len(t, out, 1)
	assert.Equal(t, types.Box{X1: 10, Y1: 20, X2: 40, Y2: 60}, out[0].Box)
	assert.Equal(t, 1.0, out[0].Confidence, "confidence is clamped to 1")

	// a 4096 square original shown to the model at 1024
	in = []types.ModelRegion{{Label: "breasts", Confidence: 0.9, Box: types.NormBox{X: 512, Y: 512, W: 256, H: 256}}}
	out = ToPixelRegions(in, 4096, 4096, 1024, 1024, 0.5)
	require.Len(t, out, 1)
	assert.Equal(t, types.Box{X1: 2048, Y1: 2048, X2: 3072, Y2: 3072}, out[0].Box)

	// unknown sent size falls back to the original
	out = ToPixelRegions(in, 4096, 4096, 0, 0, 0.5)
	require.Len(t, out, 1)
	assert.Equal(t, types.Box{X1: 512, Y1: 512, X2: 768, Y2: 768}, out[0].Box)
}
