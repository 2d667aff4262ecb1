package client

import (
	"context"
	"errors"

	"github.com/menta2k/image-redactor/pkg/types"
)

var (
	// ErrUnreachable is returned when the model server cannot be contacted
	ErrUnreachable = errors.New("vision server unreachable")
	// ErrModelNotFound is returned when the server does not know the requested model
	ErrModelNotFound = errors.New("model not found")
	// ErrMalformedResponse is returned when the model output cannot be parsed
	ErrMalformedResponse = errors.New("malformed model response")
)

type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DetectRegions(ctx context.Context, model, prompt, imgB64 string) (*types.DetectionResult, error)
}
