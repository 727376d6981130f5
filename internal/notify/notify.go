// Package notify is the narrow client for the platform's notification
// service. Delivery (push, email) happens there; this subsystem only
// emits and forgets.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/givebridge/messaging/internal/logger"
)

var log = logger.New("notify")

// Client posts notification requests to the notification service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type emitRequest struct {
	RecipientID uuid.UUID         `json:"recipient_id"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Data        map[string]string `json:"data,omitempty"`
}

// Emit sends one notification request. Callers treat failures as
// log-and-continue; this method never retries.
func (c *Client) Emit(recipient uuid.UUID, notifType, title, message string, data map[string]string) error {
	if c.baseURL == "" {
		log.Debug("Notification service not configured, dropping %s for %s", notifType, recipient)
		return nil
	}

	body, err := json.Marshal(emitRequest{
		RecipientID: recipient,
		Type:        notifType,
		Title:       title,
		Message:     message,
		Data:        data,
	})
	if err != nil {
		return err
	}

	resp, err := c.http.Post(c.baseURL+"/notifications", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification service returned %d", resp.StatusCode)
	}
	return nil
}
