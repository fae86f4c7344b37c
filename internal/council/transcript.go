package council

import "errors"

// Transcript rebuilds the state of a council round from its event sequence.
type Transcript struct {
	Result
	Done bool
	Err  error
}

func (t *Transcript) Apply(evt Event) {
	switch evt.Type {
	case EventClarificationNeeded:
		if v, ok := evt.Data.(*ClarificationVerdict); ok {
			t.Clarification = v
		}
	case EventStage1Complete:
		if v, ok := evt.Data.([]StageOneResult); ok {
			t.Stage1 = v
		}
	case EventStage2Complete:
		if v, ok := evt.Data.([]StageTwoResult); ok {
			t.Stage2 = v
		}
		if evt.Metadata != nil {
			t.Metadata.LabelToModel = evt.Metadata.LabelToModel
			t.Metadata.AggregateRankings = evt.Metadata.AggregateRankings
		}
	case EventStage3Complete:
		if v, ok := evt.Data.(StageThreeResult); ok {
			t.Stage3 = v
		}
	case EventTitleComplete:
		if v, ok := evt.Data.(TitlePayload); ok {
			t.Metadata.Title = v.Title
		}
	case EventError:
		t.Err = evt.Err
		if t.Err == nil {
			t.Err = errors.New(evt.Message)
		}
	}
	if evt.Terminal() {
		t.Done = true
	}
}

// Fold drains events into a Transcript.
func Fold(events <-chan Event) *Transcript {
	t := &Transcript{}
	for evt := range events {
		t.Apply(evt)
	}
	return t
}
