package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/adapters/evolution"
	"zapdesk/internal/models"
	"zapdesk/internal/store"
)

// ConnectionService drives the WhatsAppNumber connection state
// machine: disconnected -> connecting (QR issued) -> connected, and
// back to disconnected on logout or a non-open status poll.
// Invariant: the QR payload is present only while connecting.
type ConnectionService struct {
	gateway          *evolution.Client
	store            *store.Store
	webhookPublicURL string
}

func NewConnectionService(gateway *evolution.Client, st *store.Store, webhookPublicURL string) (*ConnectionService, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway client cannot be nil for ConnectionService")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil for ConnectionService")
	}
	return &ConnectionService{
		gateway:          gateway,
		store:            st,
		webhookPublicURL: webhookPublicURL,
	}, nil
}

// CreateNumber provisions a gateway instance for an agent and persists
// the binding. A freshly created instance is never auto-connected.
func (c *ConnectionService) CreateNumber(ctx context.Context, agentID, phone string) (*models.WhatsAppNumber, error) {
	if _, err := c.store.GetAgent(agentID); err != nil {
		return nil, err
	}

	instanceName := "zapdesk-" + uuid.NewString()[:8]
	descriptor, err := c.gateway.CreateInstance(ctx, evolution.CreateInstanceRequest{
		InstanceName: instanceName,
		Token:        uuid.NewString(),
		Number:       phone,
		QRCode:       true,
		Integration:  "WHATSAPP-BAILEYS",
		Webhook: evolution.WebhookConfig{
			URL:    c.webhookPublicURL,
			Events: evolution.WebhookEvents,
		},
	})
	if err != nil {
		return nil, err
	}

	number := &models.WhatsAppNumber{
		AgentID:         agentID,
		InstanceName:    instanceName,
		Number:          phone,
		IsConnected:     false,
		EvolutionStatus: models.StateDisconnected,
		SessionData:     string(descriptor),
	}
	if err := c.store.CreateNumber(number); err != nil {
		return nil, err
	}

	log.Info().Str("instance", instanceName).Str("agentID", agentID).Msg("WhatsApp number created")
	return number, nil
}

// RequestQR fetches a fresh QR payload and moves the number into the
// connecting state. Refused while connected; the session must be
// logged out first.
func (c *ConnectionService) RequestQR(ctx context.Context, numberID string) (*models.WhatsAppNumber, *evolution.QRPayload, error) {
	number, err := c.store.GetNumber(numberID)
	if err != nil {
		return nil, nil, err
	}
	if number.IsConnected {
		return nil, nil, fmt.Errorf("instance %s is already connected", number.InstanceName)
	}

	qr, err := c.gateway.Connect(ctx, number.InstanceName)
	if err != nil {
		return nil, nil, err
	}

	payload := qr.Base64
	if payload == "" {
		payload = qr.Code
	}
	number.QRCode = &payload
	number.EvolutionStatus = models.StateConnecting
	number.ConnectionAttempts++
	if err := c.store.SaveNumber(number); err != nil {
		return nil, nil, err
	}

	log.Info().Str("instance", number.InstanceName).Int("attempts", number.ConnectionAttempts).Msg("QR code issued, instance connecting")
	return number, qr, nil
}

// PollStatus asks the gateway for the session state and applies the
// corresponding transition. "open" means connected: the QR is cleared,
// the attempt counter reset and the last-connected timestamp recorded.
// Anything else while previously connected drops back to disconnected.
func (c *ConnectionService) PollStatus(ctx context.Context, numberID string) (*models.WhatsAppNumber, error) {
	number, err := c.store.GetNumber(numberID)
	if err != nil {
		return nil, err
	}

	state, err := c.gateway.FetchState(ctx, number.InstanceName)
	if err != nil {
		return nil, err
	}

	if err := c.applyState(number, state); err != nil {
		return nil, err
	}
	return number, nil
}

// ApplyRemoteState applies a gateway-reported session state to a
// number. Shared by the status poll and the webhook's
// connection.update events; local state is eventually consistent with
// the remote gateway either way.
func (c *ConnectionService) ApplyRemoteState(number *models.WhatsAppNumber, state string) error {
	return c.applyState(number, state)
}

func (c *ConnectionService) applyState(number *models.WhatsAppNumber, state string) error {
	switch {
	case state == "open":
		now := time.Now().UTC()
		number.IsConnected = true
		number.EvolutionStatus = models.StateConnected
		number.QRCode = nil
		number.LastConnectedAt = &now
		number.ConnectionAttempts = 0
	case number.IsConnected:
		number.IsConnected = false
		number.EvolutionStatus = models.StateDisconnected
		number.QRCode = nil
	default:
		// Not connected and still not open: no transition.
		return nil
	}

	if err := c.store.SaveNumber(number); err != nil {
		return err
	}
	log.Info().
		Str("instance", number.InstanceName).
		Str("state", state).
		Str("status", string(number.EvolutionStatus)).
		Msg("Connection state applied")
	return nil
}

// StoreQR records a gateway-pushed QR refresh for a not-connected
// number, moving it into the connecting state.
func (c *ConnectionService) StoreQR(number *models.WhatsAppNumber, payload string) error {
	if number.IsConnected || payload == "" {
		return nil
	}
	number.QRCode = &payload
	number.EvolutionStatus = models.StateConnecting
	return c.store.SaveNumber(number)
}

// Logout terminates the gateway session and resets local connection
// state.
func (c *ConnectionService) Logout(ctx context.Context, numberID string) (*models.WhatsAppNumber, error) {
	number, err := c.store.GetNumber(numberID)
	if err != nil {
		return nil, err
	}

	if err := c.gateway.Logout(ctx, number.InstanceName); err != nil {
		return nil, err
	}

	number.IsConnected = false
	number.EvolutionStatus = models.StateDisconnected
	number.QRCode = nil
	number.ConnectionAttempts = 0
	if err := c.store.SaveNumber(number); err != nil {
		return nil, err
	}

	log.Info().Str("instance", number.InstanceName).Msg("Instance logged out")
	return number, nil
}
