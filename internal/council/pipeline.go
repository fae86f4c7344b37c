package council

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

const eventBuffer = 16

// Stream runs a council round in the background and reports progress on the
// returned channel, which is closed after the final event. Cancelling ctx
// aborts outstanding model calls and suppresses any further events.
func (c *Council) Stream(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event, eventBuffer)
	go func() {
		defer close(ch)
		emit := func(evt Event) {
			if ctx.Err() != nil {
				return
			}
			select {
			case ch <- evt:
			case <-ctx.Done():
			}
		}
		_, _ = c.run(ctx, req, emit)
	}()
	return ch
}

// Run executes a council round by folding its event stream and returns the
// full result. When the round stops for clarification the result carries
// only the verdict and title.
func (c *Council) Run(ctx context.Context, req Request) (*Result, error) {
	t := Fold(c.Stream(ctx, req))
	switch {
	case t.Err != nil:
		return nil, t.Err
	case t.Done:
		return &t.Result, nil
	case t.Clarification != nil:
		return &t.Result, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, errors.New("council round ended without a result")
	}
}

func (c *Council) run(ctx context.Context, req Request, emit func(Event)) (*Result, error) {
	logger := c.logger.With("run_id", uuid.NewString())

	titleCtx, cancelTitle := context.WithCancel(ctx)
	defer cancelTitle()
	var titleCh chan string
	if req.GenerateTitle && strings.TrimSpace(req.Query) != "" {
		titleCh = make(chan string, 1)
		go func() {
			titleCh <- c.GenerateTitle(titleCtx, req.Query)
		}()
	}
	joinTitle := func() (string, bool) {
		if titleCh == nil {
			return "", false
		}
		title := <-titleCh
		titleCh = nil
		return title, true
	}
	emitTitle := func(meta *Metadata) {
		if title, ok := joinTitle(); ok {
			meta.Title = title
			emit(Event{Type: EventTitleComplete, Data: TitlePayload{Title: title}})
		}
	}
	fail := func(err error) (*Result, error) {
		cancelTitle()
		joinTitle()
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Info("council round cancelled", "error", ctxErr)
			return nil, ctxErr
		}
		logger.Error("council round failed", "error", err)
		emit(Event{Type: EventError, Message: err.Error(), Err: err})
		return nil, err
	}

	if strings.TrimSpace(req.Query) == "" {
		return fail(ErrEmptyQuery)
	}
	roster := c.ResolveRoster(req.Roster)
	if len(roster) == 0 {
		return fail(ErrEmptyRoster)
	}
	logger.Info("council round started", "roster", roster, "clarify", !req.SkipClarification)

	result := &Result{}

	if !req.SkipClarification {
		emit(Event{Type: EventClarificationStart})
		verdict := c.CheckForClarifications(ctx, req.Query)
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		if verdict != nil && verdict.NeedsClarification {
			emit(Event{Type: EventClarificationNeeded, Data: verdict})
			result.Clarification = verdict
			emitTitle(&result.Metadata)
			logger.Info("council round stopped for clarification")
			return result, nil
		}
		emit(Event{Type: EventClarificationComplete, Data: &ClarificationVerdict{NeedsClarification: false}})
	}

	emit(Event{Type: EventStage1Start})
	stage1, err := c.CollectResponses(ctx, req.Query, roster)
	if err != nil {
		return fail(err)
	}
	result.Stage1 = stage1
	emit(Event{Type: EventStage1Complete, Data: stage1})

	emit(Event{Type: EventStage2Start})
	stage2, labelToModel, err := c.CollectRankings(ctx, req.Query, stage1, roster)
	if err != nil {
		return fail(err)
	}
	aggregate := Aggregate(stage2, labelToModel)
	result.Stage2 = stage2
	result.Metadata.LabelToModel = labelToModel
	result.Metadata.AggregateRankings = aggregate
	emit(Event{Type: EventStage2Complete, Data: stage2, Metadata: &StageTwoMetadata{
		LabelToModel:      labelToModel,
		AggregateRankings: aggregate,
	}})

	emit(Event{Type: EventStage3Start})
	stage3, err := c.Synthesize(ctx, req.Query, stage1, stage2, labelToModel, req.Chairman)
	if err != nil {
		return fail(err)
	}
	result.Stage3 = stage3
	emit(Event{Type: EventStage3Complete, Data: stage3})

	emitTitle(&result.Metadata)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	emit(Event{Type: EventComplete})
	logger.Info("council round complete", "chairman", stage3.Model, "responses", len(stage1), "judges", len(stage2))
	return result, nil
}

// IsStageExhausted reports whether err means a fan-out stage produced nothing.
func IsStageExhausted(err error) bool {
	return errors.Is(err, ErrStageExhausted)
}

// IsChairmanFailure reports whether err came from the synthesis stage.
func IsChairmanFailure(err error) bool {
	return errors.Is(err, ErrChairmanFailed)
}
