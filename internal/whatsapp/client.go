package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/comigor/whatsapp-relay/internal/config"
)

// Client is a client for the WhatsApp Cloud API messages endpoint
type Client struct {
	cfg    config.WhatsAppConfig
	client *http.Client
}

// APIError is returned when the Graph API answers with a non-200 status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status code: %d - %s", e.StatusCode, e.Body)
}

// NewClient creates a new Client
func NewClient(cfg config.WhatsAppConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type textBody struct {
	Body string `json:"body"`
}

type typingIndicator struct {
	Type string `json:"type"`
}

type messageRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to,omitempty"`
	Type             string           `json:"type,omitempty"`
	Text             *textBody        `json:"text,omitempty"`
	Status           string           `json:"status,omitempty"`
	MessageID        string           `json:"message_id,omitempty"`
	TypingIndicator  *typingIndicator `json:"typing_indicator,omitempty"`
}

// SendText sends a text message to the given phone number
func (c *Client) SendText(ctx context.Context, to, text string) error {
	return c.post(ctx, messageRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &textBody{Body: text},
	})
}

// NotifyTyping marks the inbound message as read and shows a typing indicator
func (c *Client) NotifyTyping(ctx context.Context, messageID string) error {
	return c.post(ctx, messageRequest{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
		TypingIndicator:  &typingIndicator{Type: "text"},
	})
}

func (c *Client) post(ctx context.Context, payload messageRequest) error {
	url := fmt.Sprintf("%s/%s/messages", strings.TrimRight(c.cfg.APIBase, "/"), c.cfg.PhoneID)

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.Token))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
