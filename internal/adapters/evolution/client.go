package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// WebhookEvents is the event list subscribed on instance creation.
// Only these classes are consumed by the ingest handler.
var WebhookEvents = []string{
	"MESSAGES_UPSERT",
	"CONNECTION_UPDATE",
	"QRCODE_UPDATED",
}

// Client is a thin wrapper over the Evolution API REST surface. It
// performs no retries or backoff; failures bubble up to the caller.
type Client struct {
	httpClient *resty.Client
}

// NewClient configures a gateway client. The timeout bounds every
// call so a hung gateway cannot wedge an interactive sync.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("Evolution baseURL cannot be empty")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Evolution API key cannot be empty")
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)

	log.Info().Str("baseURL", baseURL).Msg("Evolution client configured")
	return &Client{httpClient: httpClient}, nil
}

// CreateInstance provisions a new gateway instance with our webhook
// registered. The raw response body is returned alongside so callers
// can persist the gateway's instance descriptor verbatim.
func (c *Client) CreateInstance(ctx context.Context, req CreateInstanceRequest) (json.RawMessage, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		Post("/instance/create")
	if err != nil {
		return nil, fmt.Errorf("Evolution CreateInstance request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("Evolution CreateInstance error: status %s, body: %s", resp.Status(), resp.String())
	}

	log.Info().Str("instance", req.InstanceName).Msg("Evolution instance created")
	return json.RawMessage(resp.Body()), nil
}

// Connect requests a fresh QR payload for an instance.
func (c *Client) Connect(ctx context.Context, instance string) (*QRPayload, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&QRPayload{}).
		Get("/instance/connect/" + instance)
	if err != nil {
		return nil, fmt.Errorf("Evolution Connect request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("Evolution Connect error: status %s, body: %s", resp.Status(), resp.String())
	}
	return resp.Result().(*QRPayload), nil
}

// FetchState polls the gateway for an instance's session state.
// "open" means connected.
func (c *Client) FetchState(ctx context.Context, instance string) (string, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("instanceName", instance).
		Get("/instance/fetchInstances")
	if err != nil {
		return "", fmt.Errorf("Evolution FetchState request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("Evolution FetchState error: status %s, body: %s", resp.Status(), resp.String())
	}

	// The endpoint returns either a bare array of instances or a
	// single instance object.
	body := bytes.TrimSpace(resp.Body())
	var infos []InstanceInfo
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &infos); err != nil {
			return "", fmt.Errorf("Evolution FetchState: unexpected response: %w", err)
		}
	} else {
		var info InstanceInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return "", fmt.Errorf("Evolution FetchState: unexpected response: %w", err)
		}
		infos = []InstanceInfo{info}
	}

	if len(infos) == 0 {
		return "", fmt.Errorf("Evolution FetchState: instance %q not found", instance)
	}
	return infos[0].State(), nil
}

// Logout terminates an instance's session on the gateway.
func (c *Client) Logout(ctx context.Context, instance string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		Delete("/instance/logout/" + instance)
	if err != nil {
		return fmt.Errorf("Evolution Logout request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("Evolution Logout error: status %s, body: %s", resp.Status(), resp.String())
	}
	return nil
}

// SendText sends one text message through an instance and returns the
// gateway-assigned message key.
func (c *Client) SendText(ctx context.Context, instance, number, text string) (*SendResponse, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(SendTextRequest{Number: number, Text: text}).
		SetResult(&SendResponse{}).
		Post("/message/sendText/" + instance)
	if err != nil {
		return nil, fmt.Errorf("Evolution SendText request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("Evolution SendText error: status %s, body: %s", resp.Status(), resp.String())
	}
	return resp.Result().(*SendResponse), nil
}

// findFilter is the body of the chat/contact/message listing endpoints.
type findFilter struct {
	Where map[string]any `json:"where"`
	Limit int            `json:"limit,omitempty"`
}

// FindChats pulls the remote chat list for an instance.
func (c *Client) FindChats(ctx context.Context, instance string) ([]ChatRecord, error) {
	var chats []ChatRecord
	if err := c.find(ctx, "/chat/findChats/"+instance, findFilter{Where: map[string]any{}}, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// FindContacts pulls the remote contact directory for an instance.
func (c *Client) FindContacts(ctx context.Context, instance string) ([]ContactRecord, error) {
	var contacts []ContactRecord
	if err := c.find(ctx, "/chat/findContacts/"+instance, findFilter{Where: map[string]any{}}, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// FindMessages pulls message history for an instance, optionally
// scoped to one remote JID for a focused resync.
func (c *Client) FindMessages(ctx context.Context, instance, remoteJID string) ([]MessageRecord, error) {
	where := map[string]any{}
	if remoteJID != "" {
		where["key"] = map[string]any{"remoteJid": remoteJID}
	}
	var messages []MessageRecord
	if err := c.find(ctx, "/chat/findMessages/"+instance, findFilter{Where: where, Limit: 500}, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) find(ctx context.Context, path string, filter findFilter, out any) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(filter).
		Post(path)
	if err != nil {
		return fmt.Errorf("Evolution %s request failed: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("Evolution %s error: status %s, body: %s", path, resp.Status(), resp.String())
	}

	records, err := extractRecords(resp.Body())
	if err != nil {
		return fmt.Errorf("Evolution %s: %w", path, err)
	}
	if err := json.Unmarshal(records, out); err != nil {
		return fmt.Errorf("Evolution %s: decoding records: %w", path, err)
	}
	return nil
}

// extractRecords unwraps the three response envelopes the gateway is
// known to produce for the find* endpoints, tried in fixed order: a
// bare array, {"data": [...]}, or {"messages": {"records": [...]}}.
// This is a compatibility shim across gateway versions.
func extractRecords(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}
	if trimmed[0] == '[' {
		return trimmed, nil
	}

	var withData struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &withData); err == nil {
		if d := bytes.TrimSpace(withData.Data); len(d) > 0 && d[0] == '[' {
			return d, nil
		}
	}

	var withRecords struct {
		Messages struct {
			Records json.RawMessage `json:"records"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(trimmed, &withRecords); err == nil {
		if r := bytes.TrimSpace(withRecords.Messages.Records); len(r) > 0 && r[0] == '[' {
			return r, nil
		}
	}

	return nil, fmt.Errorf("unrecognized response envelope")
}
