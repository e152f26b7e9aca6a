package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

var (
	// ErrUnconfigured indicates missing evaluator credentials. Detected
	// eagerly, before any request is built.
	ErrUnconfigured = errors.New("evaluator not configured")
	// ErrUnavailable indicates a transport, auth, or quota failure from the
	// evaluator. The client makes a single attempt; retrying is the caller's
	// call.
	ErrUnavailable = errors.New("evaluator unavailable")
)

// ResponseSchema names the JSON schema the model output must conform to.
type ResponseSchema struct {
	Name   string
	Schema map[string]any
}

// CerebrasClient evaluates grading prompts against an OpenAI-compatible
// chat-completions endpoint with structured output enforcement.
type CerebrasClient struct {
	Model  string
	apiKey string
	client *openai.Client
}

func NewCerebrasClient(apiKey, model, baseURL string) *CerebrasClient {
	client := openai.NewClient(
		option.WithBaseURL(strings.TrimRight(baseURL, "/")),
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
		// single attempt; callers own retry policy
		option.WithMaxRetries(0),
	)
	return &CerebrasClient{Model: model, apiKey: apiKey, client: &client}
}

// GenerateStructured returns the raw schema-constrained JSON text for the
// given system instruction and prompt.
func (c *CerebrasClient) GenerateStructured(ctx context.Context, system, prompt string, schema ResponseSchema) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("%w: api key missing", ErrUnconfigured)
	}

	params := openai.ChatCompletionNewParams{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0.3),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   schema.Name,
					Strict: openai.Bool(true),
					Schema: schema.Schema,
				},
			},
		},
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: status=%d %s", ErrUnavailable, apiErr.StatusCode, strings.TrimSpace(apiErr.Message))
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
