package council

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// CollectRankings anonymizes the Stage 1 answers and asks every roster member
// to rank them. Judges whose reply does not parse into a full permutation are
// dropped. The returned map is the label to model side table for this run.
func (c *Council) CollectRankings(ctx context.Context, query string, stage1 []StageOneResult, roster []string) ([]StageTwoResult, map[string]string, error) {
	if len(stage1) == 0 {
		return nil, nil, &StageError{Stage: 2, Err: ErrStageExhausted}
	}
	roster = normalizeRoster(roster)
	if len(roster) == 0 {
		return nil, nil, &StageError{Stage: 2, Err: ErrEmptyRoster}
	}

	labels, labelToModel := AssignLabels(stage1)
	prompt := buildRankingPrompt(query, labelResponses(stage1, labels))

	slots := make([]*StageTwoResult, len(roster))
	var g errgroup.Group
	for i, judge := range roster {
		i, judge := i, judge
		g.Go(func() error {
			text, err := c.ask(ctx, judge, prompt, c.queryTimeout)
			if err != nil {
				c.logger.Warn("council member failed", "stage", 2, "model", judge, "error", err)
				return nil
			}
			parsed, ok := ParseRanking(text, labels)
			if !ok {
				c.logger.Warn("ranking not parseable, dropping judge", "model", judge)
				return nil
			}
			slots[i] = &StageTwoResult{Model: judge, Ranking: strings.TrimSpace(text), ParsedRanking: parsed}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	results := make([]StageTwoResult, 0, len(slots))
	for _, s := range slots {
		if s != nil {
			results = append(results, *s)
		}
	}
	if len(results) == 0 {
		return nil, labelToModel, &StageError{Stage: 2, Err: ErrStageExhausted}
	}
	c.logger.Info("stage 2 complete", "judges", len(results), "roster", len(roster), "labels", len(labels))
	return results, labelToModel, nil
}
