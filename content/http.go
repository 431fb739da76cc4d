package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/fernwood/warden/util"
)

// HTTPSource reads content over the platform's internal HTTP API.
type HTTPSource struct {
	Host   string
	Client *http.Client
}

var _ Source = (*HTTPSource)(nil)

func NewHTTPSource(host string) *HTTPSource {
	return &HTTPSource{
		Host:   host,
		Client: util.RobustHTTPClient(),
	}
}

func (s *HTTPSource) Get(ctx context.Context, t ContentType, id string) (*ContentRef, error) {
	u := fmt.Sprintf("%s/internal/content/%s/%s", s.Host, url.PathEscape(string(t)), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content fetch failed: status=%d", resp.StatusCode)
	}

	var ref ContentRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return nil, fmt.Errorf("parsing content response: %w", err)
	}
	return &ref, nil
}
