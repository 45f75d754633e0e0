// Package openai adapts OpenAI's chat completion API to the pipeline's
// transform and validation interfaces.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/bookflow-go/flow/provider"
)

const providerName = "openai"

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o"

// Client wraps the official OpenAI Go SDK. It implements both
// provider.TransformProvider and provider.Validator, and is typically
// wired as the fallback behind a primary Anthropic transform.
//
// Client is safe for concurrent use.
type Client struct {
	client *openai.Client
	model  string
}

// New creates an OpenAI-backed client. An empty model selects DefaultModel.
func New(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key cannot be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{client: &client, model: model}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Transform sends one unit's payload with the given instructions and
// returns the transformed text.
func (c *Client) Transform(ctx context.Context, req provider.TransformRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	prompt := req.Instructions + "\n\nText to transform:\n\n" + req.Payload +
		"\n\nReturn ONLY the transformed text, with no preamble or commentary."

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
	})
	if err != nil {
		return "", mapError(err)
	}
	if len(completion.Choices) == 0 {
		return "", provider.NewUnitError(providerName, "empty_response",
			fmt.Sprintf("no choices in response for unit %s", req.UnitID), nil)
	}
	return completion.Choices[0].Message.Content, nil
}

// Validate asks the model to score a transformed payload against its
// original, using JSON mode for a parseable response.
func (c *Client) Validate(ctx context.Context, original, transformed string) (provider.Report, error) {
	if err := ctx.Err(); err != nil {
		return provider.Report{}, err
	}

	prompt := buildValidatePrompt(original, transformed)

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(prompt),
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		},
	})
	if err != nil {
		return provider.Report{}, mapError(err)
	}
	if len(completion.Choices) == 0 {
		return provider.Report{}, provider.NewUnitError(providerName, "empty_response",
			"no choices in validation response", nil)
	}

	report, err := provider.ParseReport(completion.Choices[0].Message.Content)
	if err != nil {
		return provider.Report{}, provider.NewUnitError(providerName, "parse_error",
			fmt.Sprintf("failed to parse validation response: %v", err), err)
	}
	return report, nil
}

func buildValidatePrompt(original, transformed string) string {
	var sb strings.Builder
	sb.WriteString("You are a quality reviewer. Compare the transformed text against the original ")
	sb.WriteString("and score how faithfully meaning was preserved.\n\n")
	sb.WriteString("Original text:\n\n")
	sb.WriteString(original)
	sb.WriteString("\n\nTransformed text:\n\n")
	sb.WriteString(transformed)
	sb.WriteString("\n\nRespond with a JSON object with these fields:\n")
	sb.WriteString("- fidelity: integer 0-100, how faithfully the transformation preserves meaning\n")
	sb.WriteString("- readability: number, the US reading-grade level of the transformed text\n")
	sb.WriteString("- issues: array of {type, description, severity, suggestion}, severity one of [low, medium, high, critical]\n")
	sb.WriteString("- confidence: number 0.0-1.0 in your own assessment\n")
	sb.WriteString("- reasoning: brief rationale\n")
	return sb.String()
}

// mapError converts SDK errors to classified provider errors, mirroring
// the Anthropic adapter's taxonomy so the engine treats both the same.
func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewTransientError(providerName, "timeout", "OpenAI API request timed out", err)
	}

	lowerErr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(lowerErr, "invalid api key"),
		strings.Contains(lowerErr, "incorrect api key"),
		strings.Contains(lowerErr, "401"),
		strings.Contains(lowerErr, "unauthorized"),
		strings.Contains(lowerErr, "authentication"):
		return provider.NewTerminalError(providerName, "invalid_api_key", "OpenAI API key is invalid or expired", err)

	case strings.Contains(lowerErr, "quota"),
		strings.Contains(lowerErr, "insufficient_quota"),
		strings.Contains(lowerErr, "billing"):
		return provider.NewTerminalError(providerName, "quota_exceeded", "OpenAI API quota exceeded", err)

	case strings.Contains(lowerErr, "rate limit"),
		strings.Contains(lowerErr, "429"),
		strings.Contains(lowerErr, "too many requests"):
		return provider.NewTransientError(providerName, "rate_limited", "OpenAI API rate limit exceeded", err)

	case strings.Contains(lowerErr, "500"),
		strings.Contains(lowerErr, "502"),
		strings.Contains(lowerErr, "503"),
		strings.Contains(lowerErr, "504"),
		strings.Contains(lowerErr, "internal server error"),
		strings.Contains(lowerErr, "bad gateway"),
		strings.Contains(lowerErr, "service unavailable"),
		strings.Contains(lowerErr, "gateway timeout"):
		return provider.NewTransientError(providerName, "server_error",
			fmt.Sprintf("OpenAI API server error: %v", err), err)

	case strings.Contains(lowerErr, "connection"),
		strings.Contains(lowerErr, "timeout"),
		strings.Contains(lowerErr, "network"):
		return provider.NewTransientError(providerName, "network_error",
			fmt.Sprintf("network error calling OpenAI API: %v", err), err)
	}

	return provider.NewUnitError(providerName, "api_error",
		fmt.Sprintf("OpenAI API error: %v", err), err)
}
