// Package whatsapp provides the WhatsApp chat channel adapter.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/bissquit/lead-garden/internal/domain"
	"github.com/bissquit/lead-garden/internal/messaging"
	"golang.org/x/time/rate"
)

// Identity is one configured WhatsApp sender identity (a phone number
// registered with the provider). First-touch messages may use a different
// identity than follow-ups.
type Identity struct {
	Name        string
	PhoneID     string
	AccessToken string
}

// Config holds WhatsApp sender configuration.
type Config struct {
	Enabled            bool
	APIBaseURL         string
	Identities         []Identity
	DefaultIdentity    string
	FirstTouchIdentity string
	RateLimit          float64 // messages per second across all identities

	// HTTPClient overrides the default client; tests point it at a fake API.
	HTTPClient *http.Client
}

// Sender implements the chat channel via the WhatsApp Cloud API.
type Sender struct {
	config     Config
	identities map[string]Identity
	limiter    *rate.Limiter
	client     *http.Client
}

// NewSender creates a new WhatsApp sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	identities := make(map[string]Identity, len(config.Identities))
	for _, id := range config.Identities {
		identities[id.Name] = id
	}

	if config.Enabled {
		if len(config.Identities) == 0 {
			return nil, errors.New("whatsapp sender: at least one identity is required when enabled")
		}
		if _, ok := identities[config.DefaultIdentity]; !ok {
			return nil, fmt.Errorf("whatsapp sender: default identity %q not configured", config.DefaultIdentity)
		}
	}

	if config.RateLimit <= 0 {
		config.RateLimit = 10
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	slog.Info("whatsapp sender configured",
		"enabled", config.Enabled,
		"identities", len(config.Identities),
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:     config,
		identities: identities,
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		client:     client,
	}, nil
}

// Channel returns the channel this sender serves.
func (s *Sender) Channel() domain.Channel {
	return domain.ChannelChat
}

// Send delivers one chat message and returns the provider message id.
func (s *Sender) Send(ctx context.Context, msg messaging.Message) (messaging.SendResult, error) {
	if !s.config.Enabled {
		slog.Warn("whatsapp sender disabled", "to", msg.To)
		return messaging.SendResult{}, fmt.Errorf("whatsapp: %w", messaging.ErrNotConfigured)
	}

	identity := s.pickIdentity(msg.FirstTouch)

	if err := s.limiter.Wait(ctx); err != nil {
		return messaging.SendResult{}, fmt.Errorf("rate limit wait: %w", err)
	}

	providerID, err := s.post(ctx, identity, msg.To, msg.Body)
	if err != nil {
		return messaging.SendResult{}, err
	}

	return messaging.SendResult{ProviderID: providerID}, nil
}

// pickIdentity selects the sender identity for a message.
func (s *Sender) pickIdentity(firstTouch bool) Identity {
	if firstTouch && s.config.FirstTouchIdentity != "" {
		if id, ok := s.identities[s.config.FirstTouchIdentity]; ok {
			return id
		}
	}
	return s.identities[s.config.DefaultIdentity]
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (s *Sender) post(ctx context.Context, identity Identity, to, body string) (string, error) {
	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.config.APIBaseURL, identity.PhoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+identity.AccessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send whatsapp message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, data)
	}

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return "", errors.New("whatsapp api returned no message id")
	}

	return parsed.Messages[0].ID, nil
}
