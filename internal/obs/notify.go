package obs

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Severity ranks a notification.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Notifier delivers operational events (halts, rejects, reconciliation
// mismatches) to a human channel.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, message string) error
}

// LogNotifier is the fallback sink when no external channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, severity Severity, message string) error {
	switch severity {
	case SeverityCritical:
		logs.Errorf("notify: %s", message)
	case SeverityWarn:
		logs.Warnf("notify: %s", message)
	default:
		logs.Infof("notify: %s", message)
	}
	return nil
}

// TelegramNotifier pushes messages through the Bot API sendMessage call.
type TelegramNotifier struct {
	token  string
	chatID string
	client *http.Client

	base string
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
		base:   "https://api.telegram.org",
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, severity Severity, message string) error {
	body, err := sonic.ConfigFastest.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    "[" + severity.String() + "] " + message,
	})
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}

	url := n.base + "/bot" + n.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send message")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("telegram: status %d", resp.StatusCode)
	}
	return nil
}
