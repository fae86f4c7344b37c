package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/user/llmcouncil/internal/council"
	"github.com/user/llmcouncil/internal/db"
	"github.com/user/llmcouncil/internal/registry"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []council.Request
	result   *council.Result
	err      error
	events   []council.Event
}

func (f *fakeRunner) Run(ctx context.Context, req council.Request) (*council.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	if !req.GenerateTitle {
		res.Metadata.Title = ""
	}
	return &res, nil
}

func (f *fakeRunner) Stream(ctx context.Context, req council.Request) <-chan council.Event {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	ch := make(chan council.Event, len(f.events))
	for _, evt := range f.events {
		ch <- evt
	}
	close(ch)
	return ch
}

func (f *fakeRunner) lastRequest() council.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type fakePublisher struct {
	mu            sync.Mutex
	councilEvents []string
	convEvents    []string
}

func (p *fakePublisher) PublishCouncilEvent(conversationID string, evt any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.councilEvents = append(p.councilEvents, fmt.Sprintf("%s:%s", conversationID, evt.(council.Event).Type))
}

func (p *fakePublisher) PublishConversationEvent(conversationID, event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.convEvents = append(p.convEvents, event)
}

func sampleResult() *council.Result {
	return &council.Result{
		Stage1: []council.StageOneResult{{Model: "m1", Response: "one"}, {Model: "m2", Response: "two"}},
		Stage2: []council.StageTwoResult{{Model: "m1", Ranking: "FINAL RANKING:\n1. Response B\n2. Response A", ParsedRanking: []string{"Response B", "Response A"}}},
		Stage3: council.StageThreeResult{Model: "chair", Response: "final"},
		Metadata: council.Metadata{
			LabelToModel:      map[string]string{"Response A": "m1", "Response B": "m2"},
			AggregateRankings: council.AggregateRanking{{Label: "Response B", Model: "m2", Score: 2, Rank: 1, AverageRank: 1, RankingsCount: 1}},
			Title:             "Explaining X",
		},
	}
}

func sampleEvents() []council.Event {
	res := sampleResult()
	return []council.Event{
		{Type: council.EventStage1Start},
		{Type: council.EventStage1Complete, Data: res.Stage1},
		{Type: council.EventStage2Start},
		{Type: council.EventStage2Complete, Data: res.Stage2, Metadata: &council.StageTwoMetadata{
			LabelToModel: res.Metadata.LabelToModel, AggregateRankings: res.Metadata.AggregateRankings,
		}},
		{Type: council.EventStage3Start},
		{Type: council.EventStage3Complete, Data: res.Stage3},
		{Type: council.EventTitleComplete, Data: council.TitlePayload{Title: "Explaining X"}},
		{Type: council.EventComplete},
	}
}

type testAPI struct {
	handler http.Handler
	db      *db.DB
	runner  *fakeRunner
	models  *registry.Registry
	events  *fakePublisher
}

func openAPI(t *testing.T) *testAPI {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(context.Background(), filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	models, err := registry.NewRegistry(filepath.Join(dir, "models.yaml"))
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}

	runner := &fakeRunner{result: sampleResult(), events: sampleEvents()}
	events := &fakePublisher{}
	h := newHandler(database.SQL(), runner, models, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.events = events
	return &testAPI{handler: h.routes("test-token"), db: database, runner: runner, models: models, events: events}
}

func apiRequest(t *testing.T, h http.Handler, method, path string, body any, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer test-token")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if rr.Body.Len() == 0 {
		return
	}
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode body: %v body=%s", err, rr.Body.String())
	}
}

func createConversation(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := apiRequest(t, h, http.MethodPost, "/api/conversations", nil, true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	var conv struct {
		ID       string            `json:"id"`
		Title    string            `json:"title"`
		Messages []json.RawMessage `json:"messages"`
	}
	decodeBody(t, rr, &conv)
	if conv.ID == "" || conv.Title != db.DefaultConversationTitle || conv.Messages == nil {
		t.Fatalf("created conversation = %+v", conv)
	}
	return conv.ID
}

func TestAuthMiddleware(t *testing.T) {
	api := openAPI(t)
	unauth := apiRequest(t, api.handler, http.MethodGet, "/api/conversations", nil, false)
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d want %d", unauth.Code, http.StatusUnauthorized)
	}
	wrong := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	wrong.Header.Set("Authorization", "Bearer wrong-token")
	rr := httptest.NewRecorder()
	api.handler.ServeHTTP(rr, wrong)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status=%d", rr.Code)
	}
	query := apiRequest(t, api.handler, http.MethodGet, "/api/conversations?token=test-token", nil, false)
	if query.Code != http.StatusOK {
		t.Fatalf("query token status=%d", query.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	api := openAPI(t)
	rr := apiRequest(t, api.handler, http.MethodGet, "/api/health", nil, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr, &body)
	if body["status"] != "ok" || body["service"] != "LLM Council API" {
		t.Fatalf("body=%v", body)
	}

	_ = api.db.Close()
	if rr := apiRequest(t, api.handler, http.MethodGet, "/api/health", nil, false); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("closed db status=%d", rr.Code)
	}
}

func TestModelsGetAndUpdate(t *testing.T) {
	api := openAPI(t)

	rr := apiRequest(t, api.handler, http.MethodGet, "/api/models", nil, true)
	var models modelsResponse
	decodeBody(t, rr, &models)
	if rr.Code != http.StatusOK || len(models.DefaultCouncilModels) == 0 || models.DefaultChairmanModel == "" {
		t.Fatalf("status=%d models=%+v", rr.Code, models)
	}

	update := map[string]any{"default_council_models": []string{"x/a", "x/b"}, "default_chairman_model": "x/b"}
	rr = apiRequest(t, api.handler, http.MethodPut, "/api/models", update, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := api.models.Get(); got.ChairmanModel != "x/b" || len(got.CouncilModels) != 2 || !got.HasModel("x/a") {
		t.Fatalf("catalog after update = %+v", got)
	}

	bad := map[string]any{"default_council_models": []string{}}
	if rr := apiRequest(t, api.handler, http.MethodPut, "/api/models", bad, true); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty council status=%d", rr.Code)
	}
	unknown := map[string]any{"nope": true}
	if rr := apiRequest(t, api.handler, http.MethodPut, "/api/models", unknown, true); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown field status=%d", rr.Code)
	}
}

func TestConversationCRUD(t *testing.T) {
	api := openAPI(t)
	id := createConversation(t, api.handler)

	rr := apiRequest(t, api.handler, http.MethodGet, "/api/conversations", nil, true)
	var list []db.Conversation
	decodeBody(t, rr, &list)
	if len(list) != 1 || list[0].ID != id || list[0].MessageCount != 0 {
		t.Fatalf("list=%+v", list)
	}

	if rr := apiRequest(t, api.handler, http.MethodGet, "/api/conversations/"+id, nil, true); rr.Code != http.StatusOK {
		t.Fatalf("get status=%d", rr.Code)
	}
	if rr := apiRequest(t, api.handler, http.MethodGet, "/api/conversations/missing", nil, true); rr.Code != http.StatusNotFound {
		t.Fatalf("get missing status=%d", rr.Code)
	}
	if rr := apiRequest(t, api.handler, http.MethodDelete, "/api/conversations/"+id, nil, true); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if rr := apiRequest(t, api.handler, http.MethodDelete, "/api/conversations/"+id, nil, true); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rr.Code)
	}
	if strings.Join(api.events.convEvents, ",") != "created,deleted" {
		t.Fatalf("conversation events=%v", api.events.convEvents)
	}
}

func TestSendMessagePersistsAndTitles(t *testing.T) {
	api := openAPI(t)
	id := createConversation(t, api.handler)

	body := map[string]any{"content": "Explain X", "council_models": []string{"m1", "m2"}, "chairman_model": "chair"}
	rr := apiRequest(t, api.handler, http.MethodPost, "/api/conversations/"+id+"/message", body, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var res council.Result
	decodeBody(t, rr, &res)
	if res.Stage3.Response != "final" || res.Metadata.Title != "Explaining X" {
		t.Fatalf("result=%+v", res)
	}

	req := api.runner.lastRequest()
	if !req.SkipClarification || !req.GenerateTitle || req.Chairman != "chair" || len(req.Roster) != 2 {
		t.Fatalf("council request=%+v", req)
	}

	rr = apiRequest(t, api.handler, http.MethodGet, "/api/conversations/"+id, nil, true)
	var conv conversationResponse
	decodeBody(t, rr, &conv)
	if conv.Title != "Explaining X" || len(conv.Messages) != 2 {
		t.Fatalf("conversation=%+v", conv)
	}
	if conv.Messages[0].Role != db.RoleUser || conv.Messages[1].Role != db.RoleAssistant {
		t.Fatalf("roles=%s,%s", conv.Messages[0].Role, conv.Messages[1].Role)
	}

	rr = apiRequest(t, api.handler, http.MethodPost, "/api/conversations/"+id+"/message", map[string]any{"content": "More"}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("second status=%d", rr.Code)
	}
	if api.runner.lastRequest().GenerateTitle {
		t.Fatalf("title requested for a follow-up message")
	}
}

func TestSendMessageValidationAndFailures(t *testing.T) {
	api := openAPI(t)
	id := createConversation(t, api.handler)

	if rr := apiRequest(t, api.handler, http.MethodPost, "/api/conversations/"+id+"/message", map[string]any{"content": "  "}, true); rr.Code != http.StatusBadRequest {
		t.Fatalf("blank content status=%d", rr.Code)
	}
	if rr := apiRequest(t, api.handler, http.MethodPost, "/api/conversations/"+id+"/message", []string{"q"}, true); rr.Code != http.StatusBadRequest {
		t.Fatalf("non-object body status=%d", rr.Code)
	}

	api.runner.err = &council.StageError{Stage: 1, Err: council.ErrStageExhausted}
	rr := apiRequest(t, api.handler, http.MethodPost, "/api/conversations/"+id+"/message", map[string]any{"content": "q"}, true)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("exhausted status=%d", rr.Code)
	}
	var body errorBody
	decodeBody(t, rr, &body)
	if !strings.Contains(body.Error, "stage 1") || body.Detail != body.Error {
		t.Fatalf("error=%q detail=%q", body.Error, body.Detail)
	}
}

func TestSendMessageUnknownConversationIsStateless(t *testing.T) {
	api := openAPI(t)

	body := map[string]any{"content": "Explain X", "is_first_message": true, "client_ts": 1700000000}
	rr := apiRequest(t, api.handler, http.MethodPost, "/api/conversations/local-123/message", body, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var res council.Result
	decodeBody(t, rr, &res)
	if len(res.Stage1) != 2 || len(res.Stage2) != 1 || res.Stage3.Response != "final" || res.Metadata.Title != "Explaining X" {
		t.Fatalf("result=%+v", res)
	}
	if !api.runner.lastRequest().GenerateTitle {
		t.Fatalf("is_first_message not honored: %+v", api.runner.lastRequest())
	}

	rr = apiRequest(t, api.handler, http.MethodPost, "/api/conversations/local-123/message", map[string]any{"content": "More"}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("follow-up status=%d", rr.Code)
	}
	if api.runner.lastRequest().GenerateTitle {
		t.Fatalf("title requested without is_first_message")
	}

	if rr := apiRequest(t, api.handler, http.MethodGet, "/api/conversations/local-123", nil, true); rr.Code != http.StatusNotFound {
		t.Fatalf("stateless round created a conversation: status=%d", rr.Code)
	}
	var list []db.Conversation
	decodeBody(t, apiRequest(t, api.handler, http.MethodGet, "/api/conversations", nil, true), &list)
	if len(list) != 0 {
		t.Fatalf("conversations=%+v", list)
	}
}

func TestStreamMessageUnknownConversationIsStateless(t *testing.T) {
	api := openAPI(t)

	body := map[string]any{"content": "Explain X", "is_first_message": true, "client_ts": 1700000000}
	rr := apiRequest(t, api.handler, http.MethodPost, "/api/conversations/local-456/message/stream", body, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	events := readSSE(t, rr.Body.String())
	if len(events) != len(sampleEvents()) || events[len(events)-1].Type != council.EventComplete {
		t.Fatalf("events=%+v", events)
	}
	if len(api.events.convEvents) != 0 {
		t.Fatalf("conversation events=%v", api.events.convEvents)
	}
	if rr := apiRequest(t, api.handler, http.MethodGet, "/api/conversations/local-456", nil, true); rr.Code != http.StatusNotFound {
		t.Fatalf("stateless stream created a conversation: status=%d", rr.Code)
	}
}

func readSSE(t *testing.T, body string) []council.Event {
	t.Helper()
	var events []council.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt council.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		events = append(events, evt)
	}
	return events
}

func TestStreamMessageWritesSSEAndPersists(t *testing.T) {
	api := openAPI(t)
	id := createConversation(t, api.handler)

	rr := apiRequest(t, api.handler, http.MethodPost, "/api/conversations/"+id+"/message/stream", map[string]any{"content": "Explain X"}, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}

	events := readSSE(t, rr.Body.String())
	if len(events) != len(sampleEvents()) || events[len(events)-1].Type != council.EventComplete {
		t.Fatalf("events=%+v", events)
	}
	if stage1, ok := events[1].Data.([]council.StageOneResult); !ok || len(stage1) != 2 {
		t.Fatalf("stage1 data=%#v", events[1].Data)
	}

	msgs, err := db.NewMessageRepo(api.db.SQL()).ListByConversation(context.Background(), id)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Role != db.RoleAssistant {
		t.Fatalf("messages=%+v", msgs)
	}
	var stage3 council.StageThreeResult
	if err := json.Unmarshal(msgs[1].Stage3, &stage3); err != nil || stage3.Response != "final" {
		t.Fatalf("stored stage3=%s err=%v", msgs[1].Stage3, err)
	}
	var meta assistantMetadata
	if err := json.Unmarshal(msgs[1].Metadata, &meta); err != nil || meta.LabelToModel["Response A"] != "m1" || meta.Title != "Explaining X" {
		t.Fatalf("stored metadata=%s err=%v", msgs[1].Metadata, err)
	}

	conv, _ := db.NewConversationRepo(api.db.SQL()).Get(context.Background(), id)
	if conv.Title != "Explaining X" {
		t.Fatalf("title=%q", conv.Title)
	}
	if len(api.events.councilEvents) != len(events) || api.events.councilEvents[0] != id+":stage1_start" {
		t.Fatalf("published=%v", api.events.councilEvents)
	}
	if !api.runner.lastRequest().GenerateTitle || api.runner.lastRequest().SkipClarification {
		t.Fatalf("stream request=%+v", api.runner.lastRequest())
	}
}

func TestStreamMessageClarificationStoresQuestion(t *testing.T) {
	api := openAPI(t)
	id := createConversation(t, api.handler)
	verdict := &council.ClarificationVerdict{NeedsClarification: true, Question: "Which X?", Options: []string{"X1", "X2"}}
	api.runner.events = []council.Event{
		{Type: council.EventClarificationStart},
		{Type: council.EventClarificationNeeded, Data: verdict},
	}

	rr := apiRequest(t, api.handler, http.MethodPost, "/api/conversations/"+id+"/message/stream", map[string]any{"content": "Tell me about X"}, true)
	events := readSSE(t, rr.Body.String())
	if len(events) != 2 || events[1].Type != council.EventClarificationNeeded {
		t.Fatalf("events=%+v", events)
	}

	msgs, _ := db.NewMessageRepo(api.db.SQL()).ListByConversation(context.Background(), id)
	if len(msgs) != 2 || msgs[1].Stage1 != nil {
		t.Fatalf("messages=%+v", msgs)
	}
	var meta assistantMetadata
	if err := json.Unmarshal(msgs[1].Metadata, &meta); err != nil || meta.Clarification == nil || meta.Clarification.Question != "Which X?" {
		t.Fatalf("stored metadata=%s err=%v", msgs[1].Metadata, err)
	}
}

func TestStreamMessageErrorDoesNotStoreAssistant(t *testing.T) {
	api := openAPI(t)
	id := createConversation(t, api.handler)
	api.runner.events = []council.Event{
		{Type: council.EventStage1Start},
		{Type: council.EventError, Message: "stage 1 (collecting responses): all council members failed"},
	}

	rr := apiRequest(t, api.handler, http.MethodPost, "/api/conversations/"+id+"/message/stream", map[string]any{"content": "q", "skip_clarification": true}, true)
	events := readSSE(t, rr.Body.String())
	if len(events) != 2 || events[1].Type != council.EventError {
		t.Fatalf("events=%+v", events)
	}
	msgs, _ := db.NewMessageRepo(api.db.SQL()).ListByConversation(context.Background(), id)
	if len(msgs) != 1 || msgs[0].Role != db.RoleUser {
		t.Fatalf("messages=%+v", msgs)
	}
}

func TestNewRouterWithoutHub(t *testing.T) {
	database, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	h := NewRouter(database.SQL(), &fakeRunner{result: sampleResult()}, nil, nil, "test-token", nil)
	if rr := apiRequest(t, h, http.MethodGet, "/api/models", nil, true); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("models without catalog status=%d", rr.Code)
	}
	id := createConversation(t, h)
	if rr := apiRequest(t, h, http.MethodDelete, "/api/conversations/"+id, nil, true); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
}
