// Package openai wraps the Assistants API surface this system needs:
// creating and deleting an assistant bound to an agent. Single-shot
// calls, no internal state.
package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.openai.com/v1"

type Client struct {
	httpClient *resty.Client
}

// Assistant is the subset of the assistant object we keep.
type Assistant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

type assistantPayload struct {
	Name         string `json:"name"`
	Instructions string `json:"instructions"`
	Model        string `json:"model"`
}

func NewClient(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key cannot be empty")
	}

	httpClient := resty.New().
		SetBaseURL(defaultBaseURL).
		SetAuthToken(apiKey).
		SetHeader("OpenAI-Beta", "assistants=v2").
		SetTimeout(30 * time.Second)

	return &Client{httpClient: httpClient}, nil
}

// CreateAssistant provisions an assistant with the agent's behavioral
// prompt as instructions and returns its id.
func (c *Client) CreateAssistant(ctx context.Context, name, instructions string) (string, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(assistantPayload{
			Name:         name,
			Instructions: instructions,
			Model:        "gpt-4o-mini",
		}).
		SetResult(&Assistant{}).
		Post("/assistants")
	if err != nil {
		return "", fmt.Errorf("OpenAI CreateAssistant request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("OpenAI CreateAssistant error: status %s, body: %s", resp.Status(), resp.String())
	}

	assistant := resp.Result().(*Assistant)
	log.Info().Str("assistantID", assistant.ID).Str("name", name).Msg("OpenAI assistant created")
	return assistant.ID, nil
}

// UpdateAssistant pushes a changed name or prompt to an existing
// assistant.
func (c *Client) UpdateAssistant(ctx context.Context, assistantID, name, instructions string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(assistantPayload{
			Name:         name,
			Instructions: instructions,
			Model:        "gpt-4o-mini",
		}).
		Post("/assistants/" + assistantID)
	if err != nil {
		return fmt.Errorf("OpenAI UpdateAssistant request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("OpenAI UpdateAssistant error: status %s, body: %s", resp.Status(), resp.String())
	}
	return nil
}

// DeleteAssistant removes an assistant. Callers treat failures as
// non-fatal; the local agent record is the source of truth.
func (c *Client) DeleteAssistant(ctx context.Context, assistantID string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Delete("/assistants/" + assistantID)
	if err != nil {
		return fmt.Errorf("OpenAI DeleteAssistant request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("OpenAI DeleteAssistant error: status %s, body: %s", resp.Status(), resp.String())
	}
	return nil
}
