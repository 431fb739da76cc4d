package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// SlackNotifier posts ops-channel messages about pipeline events (new flags,
// dead-lettered jobs) via a Slack incoming webhook. Informational only; a
// failed post is the caller's to log and forget.
type SlackNotifier struct {
	SlackWebhookURL string
}

func (n *SlackNotifier) SendFlagCreated(ctx context.Context, contentType, contentID, authorID, reason string) error {
	msg := "⚠️ New moderation flag ⚠️\n"
	msg += fmt.Sprintf("`%s/%s` by `%s`\n", contentType, contentID, authorID)
	msg += fmt.Sprintf("Reason: %s\n", reason)
	return n.sendSlackMsg(ctx, msg)
}

func (n *SlackNotifier) SendDeadLetter(ctx context.Context, contentType, contentID string, attempts int, lastError string) error {
	msg := "🚨 Moderation job dead-lettered 🚨\n"
	msg += fmt.Sprintf("`%s/%s` after %d attempts\n", contentType, contentID, attempts)
	msg += fmt.Sprintf("Last error: %s\n", lastError)
	return n.sendSlackMsg(ctx, msg)
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}
