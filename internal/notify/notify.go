// Package notify posts optional Slack notices when a device goes
// offline or a circuit breaker opens. Purely additive: the zero value
// is a no-op notifier so the core control plane never depends on it.
package notify

import (
	"github.com/slack-go/slack"

	"github.com/goranbacvar/Cyviz/internal/logging"
)

// Notifier posts operational notices to a Slack incoming webhook.
type Notifier struct {
	webhookURL string
}

// New returns a Notifier. An empty webhookURL makes every call a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{webhookURL: webhookURL}
}

func (n *Notifier) post(text string) {
	if n == nil || n.webhookURL == "" {
		return
	}
	msg := &slack.WebhookMessage{Text: text}
	if err := slack.PostWebhook(n.webhookURL, msg); err != nil {
		logging.Warn("slack_notify", "fail", err.Error(), nil)
	}
}

// DeviceOffline notifies that a device transitioned to offline.
func (n *Notifier) DeviceOffline(deviceID, name string) {
	n.post(":red_circle: device `" + deviceID + "` (" + name + ") went offline")
}

// BreakerOpen notifies that a device's circuit breaker tripped open.
func (n *Notifier) BreakerOpen(deviceID string) {
	n.post(":warning: circuit breaker open for device `" + deviceID + "`")
}
