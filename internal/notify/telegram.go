package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	telegramMaxText    = 4096
)

// TelegramBot talks to the Bot API. It is both a Sender for alerts and the
// update source of the command listener.
type TelegramBot struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramBot creates a bot that alerts chatID. baseURL may be empty.
func NewTelegramBot(baseURL, token, chatID string) *TelegramBot {
	if baseURL == "" {
		baseURL = defaultTelegramAPI
	}
	return &TelegramBot{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: 70 * time.Second},
	}
}

// ChatID returns the configured operator chat.
func (t *TelegramBot) ChatID() string {
	return t.chatID
}

// Send posts an alert to the operator chat. Plain text is used because
// strategy names contain underscores that Markdown would eat.
func (t *TelegramBot) Send(ctx context.Context, title, message string) error {
	return t.SendMessage(ctx, t.chatID, title+"\n"+message)
}

// Name returns "telegram".
func (t *TelegramBot) Name() string {
	return "telegram"
}

// SendMessage posts text to chatID.
func (t *TelegramBot) SendMessage(ctx context.Context, chatID, text string) error {
	payload := map[string]string{
		"chat_id": chatID,
		"text":    truncate(text, telegramMaxText),
	}
	var ok apiResponse[json.RawMessage]
	return t.call(ctx, http.MethodPost, "sendMessage", nil, payload, &ok)
}

// Update is the subset of a Bot API update the listener reads.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// GetUpdates long-polls for updates after offset.
func (t *TelegramBot) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(int(timeout.Seconds())))
	q.Set("allowed_updates", `["message"]`)

	var resp apiResponse[[]Update]
	if err := t.call(ctx, http.MethodGet, "getUpdates", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      T      `json:"result"`
}

func (t *TelegramBot) call(ctx context.Context, method, apiMethod string, q url.Values, payload any, out interface{ failure() string }) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, apiMethod)
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("telegram: marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// The token is part of the URL; never surface it.
		return fmt.Errorf("telegram: %s: %w", apiMethod, redactURLError(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", apiMethod, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram: %s: unexpected status %d: %s", apiMethod, resp.StatusCode, truncate(string(raw), 256))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("telegram: decode %s response: %w", apiMethod, err)
	}
	if msg := out.failure(); msg != "" {
		return fmt.Errorf("telegram: %s: %s", apiMethod, msg)
	}
	return nil
}

func (r *apiResponse[T]) failure() string {
	if r.OK {
		return ""
	}
	if r.Description == "" {
		return "request not ok"
	}
	return r.Description
}

func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
