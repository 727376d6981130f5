// Package profile looks up display decoration (name, avatar) from the
// platform's user service. Profiles are cached briefly so decorating a
// page of conversations costs one call per distinct user at most.
package profile

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/givebridge/messaging/internal/logger"
	"github.com/givebridge/messaging/internal/models"
)

var log = logger.New("profile")

const cacheTTL = 30 * time.Second

type cachedProfile struct {
	profile   *models.DisplayProfile
	fetchedAt time.Time
}

// Client fetches display profiles from the user service.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	cache map[uuid.UUID]cachedProfile
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		cache:   make(map[uuid.UUID]cachedProfile),
	}
}

// Lookup resolves a user identity to its display profile.
func (c *Client) Lookup(userID uuid.UUID) (*models.DisplayProfile, error) {
	c.mu.Lock()
	if entry, ok := c.cache[userID]; ok && time.Since(entry.fetchedAt) < cacheTTL {
		c.mu.Unlock()
		return entry.profile, nil
	}
	c.mu.Unlock()

	if c.baseURL == "" {
		return nil, fmt.Errorf("profile service not configured")
	}

	resp, err := c.http.Get(fmt.Sprintf("%s/users/%s/profile", c.baseURL, userID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile service returned %d", resp.StatusCode)
	}

	var profile models.DisplayProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, err
	}
	profile.UserID = userID

	c.mu.Lock()
	c.cache[userID] = cachedProfile{profile: &profile, fetchedAt: time.Now()}
	c.mu.Unlock()

	log.Debug("Fetched profile for %s", userID)
	return &profile, nil
}
