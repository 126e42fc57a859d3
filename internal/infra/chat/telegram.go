package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"director/internal/resilience/retry"
)

// ErrUnauthorized is matched by errors returned for a rejected bot token.
var ErrUnauthorized = errors.New("telegram: unauthorized")

// Transport is the bot-protocol surface the Bot depends on.
type Transport interface {
	GetMe(ctx context.Context) (User, error)
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Is matches ErrUnauthorized for 401 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Code == http.StatusUnauthorized
}

// Unwrap exposes the status as a *retry.HTTPError so 429 and 5xx responses
// are classified as retryable.
func (e *APIError) Unwrap() error {
	return &retry.HTTPError{StatusCode: e.Code, Message: e.Description}
}

// APIConfig configures TelegramAPI.
type APIConfig struct {
	Token   string
	BaseURL string // defaults to https://api.telegram.org
	// SendRate caps outgoing messages per second. Zero disables the limit.
	SendRate float64
	// RequestTimeout bounds calls other than the long poll, which gets the
	// poll timeout on top of it.
	RequestTimeout time.Duration
	// Transport carries the HTTP requests (a traced transport in production).
	Transport http.RoundTripper
}

// TelegramAPI implements Transport over the Telegram Bot HTTP API.
type TelegramAPI struct {
	client  *resty.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewTelegramAPI creates a Bot API client.
func NewTelegramAPI(cfg APIConfig) *TelegramAPI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL + "/bot" + cfg.Token).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "director-bot/1.0")
	if cfg.Transport != nil {
		client.SetTransport(cfg.Transport)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.SendRate > 0 {
		burst := int(cfg.SendRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}

	return &TelegramAPI{client: client, limiter: limiter, timeout: cfg.RequestTimeout}
}

type envelope[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

func call[T any](ctx context.Context, api *TelegramAPI, method string, timeout time.Duration, body any) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var env envelope[T]
	req := api.client.R().
		SetContext(ctx).
		SetResult(&env).
		SetError(&env)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Post("/" + method)
	if err != nil {
		// The request URL embeds the token; report only the cause.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return zero, fmt.Errorf("telegram %s: %w", method, err)
	}

	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode()
		}
		if apiErr.Description == "" {
			apiErr.Description = http.StatusText(resp.StatusCode())
		}
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return zero, apiErr
	}
	return env.Result, nil
}

// GetMe returns the bot's own account.
func (t *TelegramAPI) GetMe(ctx context.Context) (User, error) {
	return call[User](ctx, t, "getMe", t.timeout, nil)
}

// GetUpdates long-polls for updates with id >= offset.
func (t *TelegramAPI) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{KindMessage, KindInline, KindCallback},
	}
	return call[[]Update](ctx, t, "getUpdates", timeout+t.timeout, body)
}

// SendMessage sends text to chatID, as a reply when replyTo is non-zero.
func (t *TelegramAPI) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	body := map[string]any{"chat_id": chatID, "text": text}
	if replyTo != 0 {
		body["reply_to_message_id"] = replyTo
	}
	_, err := call[Message](ctx, t, "sendMessage", t.timeout, body)
	return err
}

// AnswerCallback acknowledges a callback query, optionally with a notification text.
func (t *TelegramAPI) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram answerCallbackQuery: %w", err)
	}
	body := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		body["text"] = text
	}
	_, err := call[bool](ctx, t, "answerCallbackQuery", t.timeout, body)
	return err
}
