// Package llm provides wrapper interfaces and implementations for LLM interactions.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// Embedder provides text embedding capability.
type Embedder interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures the models used by a Client.
type Options struct {
	APIKey     string
	ChatModel  string
	EvalModel  string
	EmbedModel string
}

// Client wraps the Google GenAI client and provides LLM interaction methods.
type Client struct {
	client     *genai.Client
	chatModel  string
	evalModel  string
	embedModel string
}

// NewClient creates a new LLM client with the given options.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		client:     client,
		chatModel:  opts.ChatModel,
		evalModel:  opts.EvalModel,
		embedModel: opts.EmbedModel,
	}, nil
}

// GenerateTurn sends the conversation history to the chat model with the given
// tool declarations and returns the model's next content. The returned content
// may contain a function call part, plain text, or both.
func (c *Client) GenerateTurn(ctx context.Context, system string, history []*genai.Content, tools []*genai.FunctionDeclaration) (*genai.Content, error) {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: tools}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.chatModel, history, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no candidates returned")
	}
	return resp.Candidates[0].Content, nil
}

// GenerateText runs a single-shot text completion on the evaluation model.
// Used by the gatekeeper, which requires a structured textual response rather
// than a tool call.
func (c *Client) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.evalModel, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return resp.Text(), nil
}

// Embed generates an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Models.EmbedContent(ctx, c.embedModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Embeddings[0].Values, nil
}

// IsTransient reports whether an error from the provider is a transient
// overload condition worth retrying (rate limit or temporary unavailability).
func IsTransient(err error) bool {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return true
	}
	return false
}

// Ensure Client implements Embedder
var _ Embedder = (*Client)(nil)
