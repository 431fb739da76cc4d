package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fernwood/warden/util"
)

// HTTPMailer calls the platform's mailer service over HTTP. The mailer
// resolves userID to an email address itself; warden never handles
// addresses.
type HTTPMailer struct {
	Host   string
	Client *http.Client
}

var _ Mailer = (*HTTPMailer)(nil)

func NewHTTPMailer(host string) *HTTPMailer {
	return &HTTPMailer{
		Host:   host,
		Client: util.RobustHTTPClient(),
	}
}

type sendEmailRequest struct {
	UserID     string            `json:"userId"`
	TemplateID string            `json:"templateId"`
	Context    map[string]string `json:"context"`
}

func (m *HTTPMailer) SendEmail(ctx context.Context, userID, templateID string, templateContext map[string]string) error {
	body, err := json.Marshal(sendEmailRequest{
		UserID:     userID,
		TemplateID: templateID,
		Context:    templateContext,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Host+"/internal/email/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return fmt.Errorf("email send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("email send failed: status=%d", resp.StatusCode)
	}
	return nil
}
