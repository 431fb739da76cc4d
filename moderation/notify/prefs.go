package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/fernwood/warden/util"
)

// HTTPPreferences reads the emailNotification flag from the user profile
// service.
type HTTPPreferences struct {
	Host   string
	Client *http.Client
}

var _ Preferences = (*HTTPPreferences)(nil)

func NewHTTPPreferences(host string) *HTTPPreferences {
	return &HTTPPreferences{
		Host:   host,
		Client: util.RobustHTTPClient(),
	}
}

func (p *HTTPPreferences) EmailEnabled(ctx context.Context, userID string) (bool, error) {
	u := fmt.Sprintf("%s/internal/users/%s/preferences", p.Host, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("preference fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("preference fetch failed: status=%d", resp.StatusCode)
	}

	var out struct {
		EmailNotification bool `json:"emailNotification"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("parsing preference response: %w", err)
	}
	return out.EmailNotification, nil
}

// MemPreferences is an in-memory Preferences, for tests. Users default to
// email enabled.
type MemPreferences struct {
	lk       sync.RWMutex
	disabled map[string]bool
}

var _ Preferences = (*MemPreferences)(nil)

func NewMemPreferences() *MemPreferences {
	return &MemPreferences{
		disabled: make(map[string]bool),
	}
}

func (p *MemPreferences) EmailEnabled(ctx context.Context, userID string) (bool, error) {
	p.lk.RLock()
	defer p.lk.RUnlock()
	return !p.disabled[userID], nil
}

func (p *MemPreferences) SetEmailEnabled(userID string, enabled bool) {
	p.lk.Lock()
	defer p.lk.Unlock()
	p.disabled[userID] = !enabled
}
