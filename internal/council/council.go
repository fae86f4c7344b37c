// Package council runs the three-stage council round: independent answers,
// anonymous peer ranking, and chairman synthesis.
package council

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/user/llmcouncil/internal/llm"
)

const (
	defaultQueryTimeout     = 120 * time.Second
	defaultChairmanTimeout  = 180 * time.Second
	defaultClarifierTimeout = 30 * time.Second
	defaultTitleTimeout     = 30 * time.Second
	defaultTitle            = "New Conversation"
)

// ModelClient sends a single chat request to one model.
type ModelClient interface {
	Query(ctx context.Context, model string, messages []llm.Message, timeout time.Duration) (*llm.Response, error)
}

// Defaults supplies the process-wide model selection. It is read once per
// run so catalog edits apply to the next round.
type Defaults func() ModelDefaults

type ModelDefaults struct {
	Council   []string
	Chairman  string
	Clarifier string
	Title     string
}

type Options struct {
	Client   ModelClient
	Defaults Defaults
	Logger   *slog.Logger

	QueryTimeout     time.Duration
	ChairmanTimeout  time.Duration
	ClarifierTimeout time.Duration
	TitleTimeout     time.Duration
}

type Council struct {
	client   ModelClient
	defaults Defaults
	logger   *slog.Logger

	queryTimeout     time.Duration
	chairmanTimeout  time.Duration
	clarifierTimeout time.Duration
	titleTimeout     time.Duration
}

func New(opts Options) *Council {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	defaults := opts.Defaults
	if defaults == nil {
		defaults = func() ModelDefaults { return ModelDefaults{} }
	}
	return &Council{
		client:           opts.Client,
		defaults:         defaults,
		logger:           logger,
		queryTimeout:     orDefault(opts.QueryTimeout, defaultQueryTimeout),
		chairmanTimeout:  orDefault(opts.ChairmanTimeout, defaultChairmanTimeout),
		clarifierTimeout: orDefault(opts.ClarifierTimeout, defaultClarifierTimeout),
		titleTimeout:     orDefault(opts.TitleTimeout, defaultTitleTimeout),
	}
}

func orDefault(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

// ResolveRoster returns the override roster when it names at least one model,
// else the default council. Blank and repeated ids are dropped, order kept.
func (c *Council) ResolveRoster(override []string) []string {
	roster := normalizeRoster(override)
	if len(roster) == 0 {
		roster = normalizeRoster(c.defaults().Council)
	}
	return roster
}

// ResolveChairman returns override unless it is blank.
func (c *Council) ResolveChairman(override string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return strings.TrimSpace(c.defaults().Chairman)
}

func normalizeRoster(models []string) []string {
	out := make([]string, 0, len(models))
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// ask sends a single user prompt and returns trimmed text.
func (c *Council) ask(ctx context.Context, model, prompt string, timeout time.Duration) (string, error) {
	resp, err := c.query(ctx, model, prompt, timeout)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// query is ask that keeps the provider's reasoning trace.
func (c *Council) query(ctx context.Context, model, prompt string, timeout time.Duration) (*llm.Response, error) {
	resp, err := c.client.Query(ctx, model, []llm.Message{llm.UserMessage(prompt)}, timeout)
	if err != nil {
		return nil, err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, llm.ErrEmptyContent
	}
	return &llm.Response{Content: strings.TrimSpace(resp.Content), ReasoningDetails: resp.ReasoningDetails}, nil
}
