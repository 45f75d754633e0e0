// Package google adapts Google's Gemini API to the pipeline's transform
// interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/bookflow-go/flow/provider"
)

const providerName = "google"

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

// Client wraps the official generative-ai-go client as a transform
// provider. Close releases the underlying gRPC connection.
type Client struct {
	client *genai.Client
	model  string
}

// New creates a Gemini-backed transform provider. An empty model selects
// DefaultModel.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key cannot be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Transform sends one unit's payload to Gemini with the given
// instructions and returns the transformed text.
func (c *Client) Transform(ctx context.Context, req provider.TransformRequest) (string, error) {
	prompt := req.Instructions + "\n\nText to transform:\n\n" + req.Payload +
		"\n\nReturn ONLY the transformed text, with no preamble or commentary."

	text, err := c.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", provider.NewUnitError(providerName, "empty_response",
			fmt.Sprintf("no text content in response for unit %s", req.UnitID), nil)
	}
	return text, nil
}

// Validate asks Gemini to score a transformed payload against its
// original and returns the parsed report.
func (c *Client) Validate(ctx context.Context, original, transformed string) (provider.Report, error) {
	text, err := c.generate(ctx, buildValidatePrompt(original, transformed))
	if err != nil {
		return provider.Report{}, err
	}

	report, err := provider.ParseReport(text)
	if err != nil {
		return provider.Report{}, provider.NewUnitError(providerName, "parse_error",
			fmt.Sprintf("failed to parse validation response: %v", err), err)
	}
	return report, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", mapError(err)
	}

	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String(), nil
}

func buildValidatePrompt(original, transformed string) string {
	var sb strings.Builder
	sb.WriteString("You are a quality reviewer. Compare the transformed text against the original ")
	sb.WriteString("and score how faithfully meaning was preserved.\n\n")
	sb.WriteString("Original text:\n\n")
	sb.WriteString(original)
	sb.WriteString("\n\nTransformed text:\n\n")
	sb.WriteString(transformed)
	sb.WriteString("\n\nRespond with ONLY a JSON object with these fields:\n")
	sb.WriteString("- fidelity: integer 0-100, how faithfully the transformation preserves meaning\n")
	sb.WriteString("- readability: number, the US reading-grade level of the transformed text\n")
	sb.WriteString("- issues: array of {type, description, severity, suggestion}, severity one of [low, medium, high, critical]\n")
	sb.WriteString("- confidence: number 0.0-1.0 in your own assessment\n")
	sb.WriteString("- reasoning: brief rationale\n\n")
	sb.WriteString(`Example: {"fidelity":97,"readability":8.2,"issues":[],"confidence":0.9,"reasoning":"Meaning preserved throughout."}`)
	return sb.String()
}

func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewTransientError(providerName, "timeout", "Gemini API request timed out", err)
	}

	lowerErr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lowerErr, "api key"),
		strings.Contains(lowerErr, "401"),
		strings.Contains(lowerErr, "403"),
		strings.Contains(lowerErr, "permission"),
		strings.Contains(lowerErr, "unauthenticated"):
		return provider.NewTerminalError(providerName, "invalid_api_key", "Google API key is invalid or unauthorized", err)

	case strings.Contains(lowerErr, "quota"),
		strings.Contains(lowerErr, "billing"):
		return provider.NewTerminalError(providerName, "quota_exceeded", "Google API quota exceeded", err)

	case strings.Contains(lowerErr, "429"),
		strings.Contains(lowerErr, "rate limit"),
		strings.Contains(lowerErr, "resource exhausted"):
		return provider.NewTransientError(providerName, "rate_limited", "Gemini API rate limit exceeded", err)

	case strings.Contains(lowerErr, "500"),
		strings.Contains(lowerErr, "503"),
		strings.Contains(lowerErr, "internal"),
		strings.Contains(lowerErr, "unavailable"):
		return provider.NewTransientError(providerName, "server_error",
			fmt.Sprintf("Gemini API server error: %v", err), err)

	case strings.Contains(lowerErr, "timeout"),
		strings.Contains(lowerErr, "deadline"),
		strings.Contains(lowerErr, "connection"):
		return provider.NewTransientError(providerName, "network_error",
			fmt.Sprintf("network error calling Gemini API: %v", err), err)
	}

	return provider.NewUnitError(providerName, "api_error",
		fmt.Sprintf("Gemini API error: %v", err), err)
}
