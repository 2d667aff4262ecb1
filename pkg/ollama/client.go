package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/image-redactor/pkg/client"
	"github.com/menta2k/image-redactor/pkg/types"
)

// DefaultTimeout bounds a single request when the caller's context has no deadline
const DefaultTimeout = 300 * time.Second

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host required", ollamaURL)
	}

	// Drop any path such as /api/chat
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{client: api.NewClient(baseURL, http.DefaultClient)}, nil
}

// SimpleQuery performs a simple query with an image without expecting JSON
func (c *Client) SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	return c.chat(ctx, model, prompt, imgB64, nil)
}

// DetectRegions asks the model for redaction regions in JSON form
func (c *Client) DetectRegions(ctx context.Context, model, prompt, imgB64 string) (*types.DetectionResult, error) {
	raw, err := c.chat(ctx, model, prompt, imgB64, json.RawMessage(`"json"`))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: empty response from ollama", client.ErrMalformedResponse)
	}
	return client.ParseDetectionResult(raw)
}

// ValidateModel checks that the server knows model
func (c *Client) ValidateModel(ctx context.Context, model string) error {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	if _, err := c.client.Show(ctx, &api.ShowRequest{Model: model}); err != nil {
		return classify(err)
	}
	return nil
}

func (c *Client) chat(ctx context.Context, model, prompt, imgB64 string, format json.RawMessage) (string, error) {
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()

	imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 image: %w", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Format:  format,
		Options: modelOptions(model),
	}

	var responseContent string
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", classify(err)
	}
	return responseContent, nil
}

// modelOptions returns sampling parameters for models that need them
func modelOptions(model string) map[string]any {
	options := map[string]any{"temperature": 0}
	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["num_ctx"] = 4096
	}
	return options
}

// classify maps an API error onto the client sentinels
func classify(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", client.ErrModelNotFound, statusErr.ErrorMessage)
		}
		return fmt.Errorf("%w: ollama status %d: %s", client.ErrUnreachable, statusErr.StatusCode, statusErr.ErrorMessage)
	}
	return fmt.Errorf("%w: ollama chat error: %v", client.ErrUnreachable, err)
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultTimeout)
}
