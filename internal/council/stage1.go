package council

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// CollectResponses asks every roster member the query concurrently. Members
// that fail, time out or answer empty are dropped; results follow roster order.
func (c *Council) CollectResponses(ctx context.Context, query string, roster []string) ([]StageOneResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &StageError{Stage: 1, Err: ErrEmptyQuery}
	}
	roster = normalizeRoster(roster)
	if len(roster) == 0 {
		return nil, &StageError{Stage: 1, Err: ErrEmptyRoster}
	}

	slots := make([]*StageOneResult, len(roster))
	var g errgroup.Group
	for i, model := range roster {
		i, model := i, model
		g.Go(func() error {
			start := time.Now()
			resp, err := c.query(ctx, model, query, c.queryTimeout)
			if err != nil {
				c.logger.Warn("council member failed", "stage", 1, "model", model, "error", err)
				return nil
			}
			slots[i] = &StageOneResult{
				Model:            model,
				Response:         resp.Content,
				ReasoningDetails: resp.ReasoningDetails,
				Elapsed:          time.Since(start),
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results := make([]StageOneResult, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			results = append(results, *s)
		}
	}
	if len(results) == 0 {
		return nil, &StageError{Stage: 1, Err: ErrStageExhausted}
	}
	c.logger.Info("stage 1 complete", "responded", len(results), "roster", len(roster))
	return results, nil
}
