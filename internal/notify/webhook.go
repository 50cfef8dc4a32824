package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/opsforge/remedy/internal/utils"
)

// WebhookNotifier posts notifications to an external collaborator endpoint.
// The channel id is appended to the base path, so one receiver can fan out to
// per-collaborator inboxes.
type WebhookNotifier struct {
	baseURL    string
	httpClient *http.Client
}

// NewWebhookNotifier constructs a notifier targeting the configured receiver.
func NewWebhookNotifier(baseURL string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send implements Notifier.
func (n *WebhookNotifier) Send(ctx context.Context, channelID, message string) error {
	if n == nil || n.baseURL == "" {
		return fmt.Errorf("webhook notifier not configured")
	}

	payload := map[string]string{
		"channel": channelID,
		"message": message,
		"sentAt":  time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.channelURL(channelID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return utils.OperationalError("notify.webhook", "post notification", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.OperationalError("notify.webhook",
			fmt.Sprintf("notification receiver returned %s", resp.Status), nil)
	}
	return nil
}

func (n *WebhookNotifier) channelURL(channelID string) string {
	cleaned := "/" + strings.TrimLeft(channelID, "/")
	u, err := url.Parse(n.baseURL)
	if err != nil {
		return n.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}
