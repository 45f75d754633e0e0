// Package anthropic adapts Anthropic's Claude API to the pipeline's
// transform and validation interfaces.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/bookflow-go/flow/provider"
)

const providerName = "anthropic"

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-3-5-sonnet-20241022"

// Client wraps the official anthropic-sdk-go client. It implements both
// provider.TransformProvider and provider.Validator, so one Anthropic
// credential can serve either role in a pipeline.
//
// Client is safe for concurrent use; the underlying SDK client handles
// concurrent requests.
type Client struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Claude-backed client. An empty model selects DefaultModel.
func New(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key cannot be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client:    &client,
		model:     model,
		maxTokens: 8192,
	}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Transform sends one unit's payload to Claude with the given
// instructions and returns the transformed text.
func (c *Client) Transform(ctx context.Context, req provider.TransformRequest) (string, error) {
	prompt := buildTransformPrompt(req)

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", mapError(err)
	}

	text := messageText(message)
	if text == "" {
		return "", provider.NewUnitError(providerName, "empty_response",
			fmt.Sprintf("no text content in response for unit %s", req.UnitID), nil)
	}
	return text, nil
}

// Validate asks Claude to score a transformed payload against its
// original and returns the parsed report.
func (c *Client) Validate(ctx context.Context, original, transformed string) (provider.Report, error) {
	prompt := buildValidatePrompt(original, transformed)

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return provider.Report{}, mapError(err)
	}

	report, err := provider.ParseReport(messageText(message))
	if err != nil {
		return provider.Report{}, provider.NewUnitError(providerName, "parse_error",
			fmt.Sprintf("failed to parse validation response: %v", err), err)
	}
	return report, nil
}

func messageText(message *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

func buildTransformPrompt(req provider.TransformRequest) string {
	var sb strings.Builder
	sb.WriteString(req.Instructions)
	sb.WriteString("\n\nText to transform:\n\n")
	sb.WriteString(req.Payload)
	sb.WriteString("\n\nReturn ONLY the transformed text, with no preamble or commentary.")
	return sb.String()
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

// mapError converts SDK errors to classified provider errors.
// Authentication and quota failures are fatal; rate limits, timeouts, and
// server errors are retryable; everything else is unit-local.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewTransientError(providerName, "timeout", "request timed out", err)
	}

	lowerErr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lowerErr, "401"),
		strings.Contains(lowerErr, "403"),
		strings.Contains(lowerErr, "authentication"),
		strings.Contains(lowerErr, "api_key"):
		return provider.NewTerminalError(providerName, "invalid_api_key", "API key is invalid or expired", err)

	case strings.Contains(lowerErr, "quota"),
		strings.Contains(lowerErr, "insufficient_quota"),
		strings.Contains(lowerErr, "billing"):
		return provider.NewTerminalError(providerName, "quota_exceeded", "API quota exceeded", err)

	case strings.Contains(lowerErr, "429"),
		strings.Contains(lowerErr, "rate_limit"),
		strings.Contains(lowerErr, "too many requests"):
		return provider.NewTransientError(providerName, "rate_limited", "API rate limit exceeded", err)

	case strings.Contains(lowerErr, "500"),
		strings.Contains(lowerErr, "502"),
		strings.Contains(lowerErr, "503"),
		strings.Contains(lowerErr, "529"),
		strings.Contains(lowerErr, "overloaded"):
		return provider.NewTransientError(providerName, "server_error",
			fmt.Sprintf("Anthropic API server error: %v", err), err)

	case strings.Contains(lowerErr, "timeout"),
		strings.Contains(lowerErr, "deadline"),
		strings.Contains(lowerErr, "connection"):
		return provider.NewTransientError(providerName, "network_error",
			fmt.Sprintf("network error calling Anthropic API: %v", err), err)
	}

	return provider.NewUnitError(providerName, "api_error",
		fmt.Sprintf("Anthropic API error: %v", err), err)
}
