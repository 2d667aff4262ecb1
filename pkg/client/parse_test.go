package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDetectionResult(t *testing.T) {
	raw := "```json\n{\n  // detections\n  \"regions\": [\n    {\"label\": \"breasts\", \"confidence\": 0.9, \"box\": {\"x\": 0.1, \"y\": 0.2, \"w\": 0.3, \"h\": 0.4}},\n  ]\n}\n```"

	result, err := ParseDetectionResult(raw)
	require.NoError(t, err)
	require.Len(t, result.Regions, 1)
	r := result.Regions[0]
	assert.Equal(t, "breasts", r.Label)
	assert.Equal(t, 0.9, r.Confidence)
	assert.Equal(t, 0.3, r.Box.W)
	assert.Equal(t, 0.4, r.Box.H)
}

func TestParseDetectionResultEmpty(t *testing.T) {
	result, err := ParseDetectionResult(`{"regions": []}`)
	require.NoError(t, err, "empty regions must not be an error")
	assert.Empty(t, result.Regions)
}

func TestParseDetectionResultMalformed(t *testing.T) {
	inputs := []string{
		"I can see a cat",
		`{"primary": {"label": "cat"}}`,
		`{"regions": "none"}`,
		`{"regions": [`,
	}
	for _, in := range inputs {
		_, err := ParseDetectionResult(in)
		assert.ErrorIs(t, err, ErrMalformedResponse, "input %q", in)
	}
}

func TestSanitizeModelJSON(t *testing.T) {
	got := SanitizeModelJSON("Sure! {\"a\": 1, /* note */ \"b\": [1,2,],}")
	assert.Equal(t, `{"a": 1,  "b": [1,2]}`, got)
}
