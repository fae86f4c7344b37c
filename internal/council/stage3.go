package council

import (
	"context"
	"fmt"
)

// Synthesize asks the chairman for the final answer. labelToModel is the side
// table CollectRankings returned; Stage 1 answers and label references are
// attributed to their real models. There is no fallback chairman.
func (c *Council) Synthesize(ctx context.Context, query string, stage1 []StageOneResult, stage2 []StageTwoResult, labelToModel map[string]string, chairmanOverride string) (StageThreeResult, error) {
	chairman := c.ResolveChairman(chairmanOverride)
	if chairman == "" {
		return StageThreeResult{}, &StageError{Stage: 3, Err: fmt.Errorf("%w: no chairman model configured", ErrChairmanFailed)}
	}
	prompt := buildChairmanPrompt(query, stage1, stage2, labelToModel)

	text, err := c.ask(ctx, chairman, prompt, c.chairmanTimeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return StageThreeResult{}, ctxErr
		}
		c.logger.Error("chairman failed", "model", chairman, "error", err)
		return StageThreeResult{}, &StageError{Stage: 3, Err: fmt.Errorf("%w: %s: %v", ErrChairmanFailed, chairman, err)}
	}
	return StageThreeResult{Model: chairman, Response: text}, nil
}
