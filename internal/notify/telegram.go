package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dockerflow/internal/store"
)

// Telegram pushes alert notifications to a chat. A nil receiver is a valid
// disabled notifier, so callers never branch on configuration.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
}

type telegramPayload struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func NewTelegram(token, chatID string) *Telegram {
	if token == "" || chatID == "" {
		return nil
	}
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if t == nil {
		return nil
	}
	payload := telegramPayload{ChatID: t.chatID, Text: text}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %s", resp.Status)
	}
	return nil
}

func (t *Telegram) SendAlert(ctx context.Context, a store.Alert) error {
	return t.Send(ctx, fmt.Sprintf("[%s] %s\n%s", a.Severity, a.Title, a.Message))
}
