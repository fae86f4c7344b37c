package council

import (
	"context"
	"strings"
)

const maxTitleLen = 50

// GenerateTitle produces a short conversation title. Failures degrade to a
// placeholder.
func (c *Council) GenerateTitle(ctx context.Context, firstMessage string) string {
	model := strings.TrimSpace(c.defaults().Title)
	if model == "" || strings.TrimSpace(firstMessage) == "" {
		return defaultTitle
	}
	text, err := c.ask(ctx, model, buildTitlePrompt(firstMessage), c.titleTimeout)
	if err != nil {
		c.logger.Warn("title generation failed", "model", model, "error", err)
		return defaultTitle
	}
	title := cleanTitle(text)
	if title == "" {
		return defaultTitle
	}
	return title
}

func cleanTitle(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "Title:")
	text = strings.Trim(strings.TrimSpace(text), "\"'`*# ")
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > maxTitleLen {
		text = strings.TrimSpace(string(r[:maxTitleLen-3])) + "..."
	}
	return text
}
