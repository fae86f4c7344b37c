package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, v any) *http.Response {
	buf, _ := json.Marshal(v)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(string(buf))),
	}
}

func TestQuerySendsModelAndBearerKey(t *testing.T) {
	var gotAuth, gotModel string
	client := New(Options{
		APIKey:  "secret",
		BaseURL: "http://mock/api/v1/chat/completions",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			var body chatRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			gotModel = body.Model
			if len(body.Messages) != 1 || body.Messages[0].Content != "hello" {
				t.Fatalf("messages=%v", body.Messages)
			}
			return jsonResponse(http.StatusOK, map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{"content": "hi there"}}},
			}), nil
		})},
	})

	resp, err := client.Query(context.Background(), "openai/gpt-5.1", []Message{UserMessage("hello")}, time.Second)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Content != "hi there" {
		t.Fatalf("content=%q", resp.Content)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header=%q", gotAuth)
	}
	if gotModel != "openai/gpt-5.1" {
		t.Fatalf("model=%q", gotModel)
	}
}

func TestQueryFlattensContentParts(t *testing.T) {
	client := New(Options{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{"content": []any{
					map[string]any{"type": "text", "text": "first"},
					map[string]any{"type": "image_url"},
					map[string]any{"type": "text", "text": "second"},
				}}}},
			}), nil
		})},
	})

	resp, err := client.Query(context.Background(), "m", nil, time.Second)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Content != "first\nsecond" {
		t.Fatalf("content=%q", resp.Content)
	}
}

func TestQueryNon2xxReturnsAPIError(t *testing.T) {
	client := New(Options{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusTooManyRequests, map[string]any{"error": map[string]any{"message": "slow down"}}), nil
		})},
	})

	_, err := client.Query(context.Background(), "m", nil, time.Second)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%v want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status=%d", apiErr.StatusCode)
	}
}

func TestQueryEmptyContent(t *testing.T) {
	client := New(Options{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{"content": "   "}}},
			}), nil
		})},
	})

	_, err := client.Query(context.Background(), "m", nil, time.Second)
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("err=%v want ErrEmptyContent", err)
	}
}

func TestQueryHonorsTimeout(t *testing.T) {
	client := New(Options{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		})},
	})

	start := time.Now()
	_, err := client.Query(context.Background(), "m", nil, 20*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not honored")
	}
}

func TestQueryRequiresModel(t *testing.T) {
	if _, err := New(Options{}).Query(context.Background(), "  ", nil, time.Second); err == nil {
		t.Fatalf("expected error for blank model")
	}
}

func TestQueryRateLimitWaitRespectsDeadline(t *testing.T) {
	calls := 0
	client := New(Options{
		APIKey:            "k",
		RequestsPerSecond: 0.01,
		HTTPClient: &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			calls++
			return jsonResponse(http.StatusOK, map[string]any{
				"choices": []any{map[string]any{"message": map[string]any{"content": "ok"}}},
			}), nil
		})},
	})

	if _, err := client.Query(context.Background(), "m", nil, time.Second); err != nil {
		t.Fatalf("first query: %v", err)
	}
	// the single burst token is spent; the next one is ~100s away
	if _, err := client.Query(context.Background(), "m", nil, 50*time.Millisecond); err == nil {
		t.Fatalf("expected rate limit error")
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}
