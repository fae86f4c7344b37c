package council

import (
	"encoding/json"
	"fmt"
)

type EventType string

const (
	EventClarificationStart    EventType = "clarification_start"
	EventClarificationNeeded   EventType = "clarification_needed"
	EventClarificationComplete EventType = "clarification_complete"
	EventStage1Start           EventType = "stage1_start"
	EventStage1Complete        EventType = "stage1_complete"
	EventStage2Start           EventType = "stage2_start"
	EventStage2Complete        EventType = "stage2_complete"
	EventStage3Start           EventType = "stage3_start"
	EventStage3Complete        EventType = "stage3_complete"
	EventTitleComplete         EventType = "title_complete"
	EventComplete              EventType = "complete"
	EventError                 EventType = "error"
)

// Event is one progress record of a council round. Data carries the stage
// payload: *ClarificationVerdict, []StageOneResult, []StageTwoResult,
// StageThreeResult or TitlePayload depending on Type.
type Event struct {
	Type     EventType         `json:"type"`
	Data     any               `json:"data,omitempty"`
	Metadata *StageTwoMetadata `json:"metadata,omitempty"`
	Message  string            `json:"message,omitempty"`
	// Err is the typed cause behind an error event. It does not cross the wire.
	Err error `json:"-"`
}

type StageTwoMetadata struct {
	LabelToModel      map[string]string `json:"label_to_model"`
	AggregateRankings AggregateRanking  `json:"aggregate_rankings"`
}

type TitlePayload struct {
	Title string `json:"title"`
}

// Terminal reports whether no event can follow e.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// UnmarshalJSON restores the typed Data payload for the event kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type     EventType         `json:"type"`
		Data     json.RawMessage   `json:"data"`
		Metadata *StageTwoMetadata `json:"metadata"`
		Message  string            `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Type = raw.Type
	e.Metadata = raw.Metadata
	e.Message = raw.Message
	e.Data = nil
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return nil
	}

	var target any
	switch raw.Type {
	case EventClarificationNeeded, EventClarificationComplete:
		target = &ClarificationVerdict{}
	case EventStage1Complete:
		target = &[]StageOneResult{}
	case EventStage2Complete:
		target = &[]StageTwoResult{}
	case EventStage3Complete:
		target = &StageThreeResult{}
	case EventTitleComplete:
		target = &TitlePayload{}
	default:
		var v any
		if err := json.Unmarshal(raw.Data, &v); err != nil {
			return err
		}
		e.Data = v
		return nil
	}
	if err := json.Unmarshal(raw.Data, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", raw.Type, err)
	}
	switch v := target.(type) {
	case *ClarificationVerdict:
		e.Data = v
	case *[]StageOneResult:
		e.Data = *v
	case *[]StageTwoResult:
		e.Data = *v
	case *StageThreeResult:
		e.Data = *v
	case *TitlePayload:
		e.Data = *v
	}
	return nil
}
