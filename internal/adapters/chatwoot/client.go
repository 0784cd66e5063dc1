// Package chatwoot wraps the support-inbox mirror. Every call is a
// single-shot HTTP request; there is no state machine on this side.
package chatwoot

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Client talks to one Chatwoot installation. Account ids are passed
// per call because each WhatsApp number may mirror into a different
// account.
type Client struct {
	httpClient *resty.Client
}

func NewClient(baseURL, accessToken string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("Chatwoot baseURL cannot be empty")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("Chatwoot accessToken cannot be empty")
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("api_access_token", accessToken).
		SetTimeout(10 * time.Second)

	log.Info().Str("baseURL", baseURL).Msg("Chatwoot client configured")
	return &Client{httpClient: httpClient}, nil
}

// CreateInbox provisions an API-channel inbox under an account.
func (c *Client) CreateInbox(ctx context.Context, accountID, name string) (*Inbox, error) {
	url := fmt.Sprintf("/api/v1/accounts/%s/inboxes", accountID)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(InboxPayload{Name: name, Channel: InboxChannel{Type: "api"}}).
		SetResult(&Inbox{}).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("Chatwoot CreateInbox request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("Chatwoot CreateInbox error: status %s, body: %s", resp.Status(), resp.String())
	}
	inbox := resp.Result().(*Inbox)
	log.Info().Int("inboxID", inbox.ID).Str("name", name).Msg("Chatwoot inbox created")
	return inbox, nil
}

// FindContactByPhone searches for a contact with an exact phone match.
// A missing contact is (nil, nil), not an error.
func (c *Client) FindContactByPhone(ctx context.Context, accountID, phone string) (*Contact, error) {
	url := fmt.Sprintf("/api/v1/accounts/%s/contacts/search", accountID)

	var result contactSearchResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("q", phone).
		SetResult(&result).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("Chatwoot FindContactByPhone request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("Chatwoot FindContactByPhone error: status %s, body: %s", resp.Status(), resp.String())
	}

	// Search is broad; only an exact phone match counts.
	for _, contact := range result.Payload {
		if contact.PhoneNumber == phone {
			return &contact, nil
		}
	}
	return nil, nil
}

// CreateContact creates a contact under an inbox.
func (c *Client) CreateContact(ctx context.Context, accountID string, payload ContactPayload) (*Contact, error) {
	url := fmt.Sprintf("/api/v1/accounts/%s/contacts", accountID)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&Contact{}).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("Chatwoot CreateContact request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("Chatwoot CreateContact error: status %s, body: %s", resp.Status(), resp.String())
	}
	return resp.Result().(*Contact), nil
}

// CreateConversation opens a conversation for a contact.
func (c *Client) CreateConversation(ctx context.Context, accountID string, payload ConversationPayload) (*Conversation, error) {
	url := fmt.Sprintf("/api/v1/accounts/%s/conversations", accountID)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&Conversation{}).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("Chatwoot CreateConversation request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("Chatwoot CreateConversation error: status %s, body: %s", resp.Status(), resp.String())
	}
	return resp.Result().(*Conversation), nil
}

// CreateMessage mirrors one message into a conversation.
func (c *Client) CreateMessage(ctx context.Context, accountID string, conversationID int, payload MessagePayload) (*Message, error) {
	url := fmt.Sprintf("/api/v1/accounts/%s/conversations/%d/messages", accountID, conversationID)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&Message{}).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("Chatwoot CreateMessage request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("Chatwoot CreateMessage error: status %s, body: %s", resp.Status(), resp.String())
	}
	return resp.Result().(*Message), nil
}
