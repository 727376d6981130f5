package models

import "github.com/google/uuid"

// DisplayProfile is the minimal identity decoration fetched from the
// platform's user service. This subsystem never owns user records.
type DisplayProfile struct {
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
}
