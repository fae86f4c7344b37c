package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	defaultTimeout = 120 * time.Second
	maxBodyBytes   = 4 << 20
)

// ErrEmptyContent is returned when the provider answered but produced no text.
var ErrEmptyContent = errors.New("model returned empty content")

type APIError struct {
	Model      string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openrouter api model=%s status=%d body=%s", e.Model, e.StatusCode, e.Body)
}

type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func UserMessage(text string) Message {
	return Message{Role: "user", Content: text}
}

type Response struct {
	Content          string          `json:"content"`
	ReasoningDetails json.RawMessage `json:"reasoning_details,omitempty"`
}

type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Referer    string
	Title      string
	// RequestsPerSecond caps outbound calls across all models. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int
}

type Client struct {
	apiKey     string
	baseURL    string
	referer    string
	title      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func New(opts Options) *Client {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// per-call deadlines come from the request context
		httpClient = &http.Client{}
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		referer:    strings.TrimSpace(opts.Referer),
		title:      strings.TrimSpace(opts.Title),
		httpClient: httpClient,
		limiter:    limiter,
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          json.RawMessage `json:"content"`
			ReasoningDetails json.RawMessage `json:"reasoning_details,omitempty"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Query sends one chat completion request to model. A non-positive timeout
// falls back to the client default.
func (c *Client) Query(ctx context.Context, model string, messages []Message, timeout time.Duration) (*Response, error) {
	if c == nil {
		return nil, fmt.Errorf("llm client unavailable")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("query %s: rate limit: %w", model, err)
		}
	}

	buf, err := json.Marshal(chatRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, &APIError{Model: model, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", model, err)
	}
	if out.Error != nil && strings.TrimSpace(out.Error.Message) != "" {
		return nil, &APIError{Model: model, StatusCode: resp.StatusCode, Body: out.Error.Message}
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("query %s: %w", model, ErrEmptyContent)
	}

	msg := out.Choices[0].Message
	text, err := ContentText(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", model, err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("query %s: %w", model, ErrEmptyContent)
	}
	return &Response{Content: text, ReasoningDetails: msg.ReasoningDetails}, nil
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ContentText flattens a message content value that is either a plain string
// or a list of typed parts. Non-text parts are skipped.
func ContentText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("decode content string: %w", err)
		}
		return s, nil
	case '[':
		var parts []contentPart
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return "", fmt.Errorf("decode content parts: %w", err)
		}
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n"), nil
	default:
		return "", fmt.Errorf("unexpected content type: %s", truncate(string(trimmed), 40))
	}
}

func truncate(v string, max int) string {
	v = strings.TrimSpace(v)
	if max <= 0 || len(v) <= max {
		return v
	}
	if max <= 3 {
		return v[:max]
	}
	return v[:max-3] + "..."
}
