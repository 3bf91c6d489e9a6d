package llm

import (
	"context"
	"errors"
	"fmt"

	"tldread/internal/config"

	"google.golang.org/genai"
)

// DefaultModel is the default Gemini model used for summarization and
// clustering.
const DefaultModel = "gemini-flash-lite-latest"

// Client wraps the Gemini SDK behind the one call the pipeline needs.
type Client struct {
	modelName string
	gClient   *genai.Client
}

// NewClient creates a Gemini client from configuration.
func NewClient(ctx context.Context, cfg config.Gemini) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY or gemini.api_key in the config file")
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultModel
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{modelName: modelName, gClient: gClient}, nil
}

// GenerateText sends a prompt and returns the response text.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}

// IsRetryable classifies an error from the service as a transient
// transport/rate-limit fault worth retrying. Authentication failures and
// client-side mistakes are not.
func IsRetryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	// Anything that is not a structured API error is treated as a
	// transport-level fault.
	return true
}

// IsAuth reports whether the error is an authentication/authorization
// failure, which is surfaced immediately and never retried.
func IsAuth(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 401 || apiErr.Code == 403
	}
	return false
}
