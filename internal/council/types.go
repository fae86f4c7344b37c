package council

import (
	"encoding/json"
	"time"
)

type StageOneResult struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	// ReasoningDetails is the provider's raw reasoning trace, when it sends one.
	ReasoningDetails json.RawMessage `json:"reasoning_details,omitempty"`
	Elapsed          time.Duration   `json:"-"`
}

type stageOneWire struct {
	Model            string          `json:"model"`
	Response         string          `json:"response"`
	ReasoningDetails json.RawMessage `json:"reasoning_details,omitempty"`
	ElapsedMS        int64           `json:"elapsed_ms"`
}

// MarshalJSON reports elapsed time in milliseconds.
func (r StageOneResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(stageOneWire{r.Model, r.Response, r.ReasoningDetails, r.Elapsed.Milliseconds()})
}

func (r *StageOneResult) UnmarshalJSON(data []byte) error {
	var raw stageOneWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Model = raw.Model
	r.Response = raw.Response
	r.ReasoningDetails = raw.ReasoningDetails
	r.Elapsed = time.Duration(raw.ElapsedMS) * time.Millisecond
	return nil
}

type StageTwoResult struct {
	Model         string   `json:"model"`
	Ranking       string   `json:"ranking"`
	ParsedRanking []string `json:"parsed_ranking"`
}

type AggregateEntry struct {
	Label          string  `json:"label"`
	Model          string  `json:"model"`
	Score          int     `json:"score"`
	Rank           int     `json:"rank"`
	AverageRank    float64 `json:"average_rank"`
	RankingsCount  int     `json:"rankings_count"`
	LastPlaceCount int     `json:"last_place_count"`
}

type AggregateRanking []AggregateEntry

type StageThreeResult struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

type ClarificationVerdict struct {
	NeedsClarification bool     `json:"needs_clarification"`
	Question           string   `json:"question,omitempty"`
	Options            []string `json:"options,omitempty"`
}

type Metadata struct {
	LabelToModel      map[string]string `json:"label_to_model"`
	AggregateRankings AggregateRanking  `json:"aggregate_rankings"`
	Title             string            `json:"title,omitempty"`
}

// Result is the non-streaming outcome of a full council round.
type Result struct {
	Stage1        []StageOneResult      `json:"stage1"`
	Stage2        []StageTwoResult      `json:"stage2"`
	Stage3        StageThreeResult      `json:"stage3"`
	Metadata      Metadata              `json:"metadata"`
	Clarification *ClarificationVerdict `json:"clarification,omitempty"`
}

// NeedsClarification reports whether the round stopped to ask the user first.
func (r *Result) NeedsClarification() bool {
	return r != nil && r.Clarification != nil && r.Clarification.NeedsClarification
}

type Request struct {
	Query             string
	Roster            []string
	Chairman          string
	SkipClarification bool
	GenerateTitle     bool
}
