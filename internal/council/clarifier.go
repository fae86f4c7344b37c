package council

import (
	"context"
	"encoding/json"
	"strings"
)

// CheckForClarifications asks the clarifier model whether query needs a
// clarifying question. Any failure yields nil so the round proceeds.
func (c *Council) CheckForClarifications(ctx context.Context, query string) *ClarificationVerdict {
	model := strings.TrimSpace(c.defaults().Clarifier)
	if model == "" || strings.TrimSpace(query) == "" {
		return nil
	}
	text, err := c.ask(ctx, model, buildClarifierPrompt(query), c.clarifierTimeout)
	if err != nil {
		c.logger.Warn("clarifier unavailable, continuing without clarification", "model", model, "error", err)
		return nil
	}
	verdict, ok := parseClarification(text)
	if !ok {
		c.logger.Warn("clarifier reply not parseable, continuing without clarification", "model", model)
		return nil
	}
	return verdict
}

func parseClarification(text string) (*ClarificationVerdict, bool) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, false
	}
	var verdict ClarificationVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, false
	}
	verdict.Question = strings.TrimSpace(verdict.Question)
	options := make([]string, 0, len(verdict.Options))
	for _, o := range verdict.Options {
		if o = strings.TrimSpace(o); o != "" {
			options = append(options, o)
		}
	}
	verdict.Options = options
	if verdict.NeedsClarification && verdict.Question == "" {
		return nil, false
	}
	if !verdict.NeedsClarification {
		verdict.Question = ""
		verdict.Options = nil
	}
	return &verdict, true
}

// extractJSONObject returns the outermost {...} span, tolerating code fences
// and surrounding prose.
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
