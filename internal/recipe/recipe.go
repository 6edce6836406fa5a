// Package recipe asks a generative-text service for a recipe matching a
// food label. Any OpenAI-compatible chat completions endpoint works; the
// default is Gemini's.
package recipe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Brownie44l1/food-ai-api/internal/upstream"
	"github.com/sashabaranov/go-openai"
)

const (
	// FallbackText is returned when the service produces no text.
	FallbackText = "No recipe available."

	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	// DefaultModel is the generative model used for recipes.
	DefaultModel = "gemini-1.5-flash"

	serviceName = "recipe"
)

// Config configures the generator.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Generator produces recipes. It is safe for concurrent use.
type Generator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewGenerator creates a generator. An empty API key is passed through and
// surfaces as an authentication failure on the first call.
func NewGenerator(cfg Config) *Generator {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Generator{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}
}

// Prompt builds the request sent for label.
func Prompt(label string) string {
	return fmt.Sprintf("Give me a healthy recipe for %s with ingredients and step-by-step instructions.", label)
}

// Generate returns the generated recipe verbatim, or FallbackText when the
// service answers with no text. Service errors are returned as
// *upstream.StatusError when an HTTP status is known.
func (g *Generator) Generate(ctx context.Context, label string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: Prompt(label)},
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return FallbackText, nil
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps go-openai errors onto upstream.StatusError so the retry
// policy can tell client errors from server errors.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &upstream.StatusError{Service: serviceName, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &upstream.StatusError{Service: serviceName, StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return fmt.Errorf("recipe request failed: %w", err)
}
