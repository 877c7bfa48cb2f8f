package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/contextpilot/contextpilot/internal/catalog"
	"github.com/contextpilot/contextpilot/internal/conversation"
	"github.com/contextpilot/contextpilot/internal/dispatch"
	"github.com/contextpilot/contextpilot/internal/model"
	"github.com/contextpilot/contextpilot/internal/provider"
	"github.com/contextpilot/contextpilot/internal/relevance"
	"github.com/contextpilot/contextpilot/internal/store"
)

// echoProvider answers every generation with a fixed string.
type echoProvider struct {
	name string
}

func (p *echoProvider) Name() string                        { return p.name }
func (p *echoProvider) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (p *echoProvider) Initialize(context.Context) error    { return nil }
func (p *echoProvider) GenerateResponse(context.Context, []provider.Message, provider.GenerateOptions) (string, provider.Metadata, error) {
	return "echo response", provider.Metadata{Provider: p.name, ModelUsed: "echo-1", FinishReason: "stop"}, nil
}
func (p *echoProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{{ID: "echo-1"}}, nil
}
func (p *echoProvider) ValidateModel(context.Context, string) bool { return true }
func (p *echoProvider) HealthCheck(context.Context) (bool, string) { return true, "" }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	convs, err := conversation.NewStore(db)
	if err != nil {
		t.Fatalf("failed to create conversation store: %v", err)
	}

	st := store.NewMemoryStore()
	engine := relevance.New(nil)

	reg := provider.NewRegistry()
	reg.Register(&echoProvider{name: "openai"}, "Echo")

	cat := catalog.New(reg)
	cat.Refresh(context.Background())

	dispatcher := dispatch.NewService(st, engine, reg, convs)
	srv := httptest.NewServer(New(st, engine, dispatcher, reg, cat, convs, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func TestContextCRUD(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, "POST", srv.URL+"/api/context", map[string]any{
		"kind":       "preference",
		"content":    "I prefer concise answers",
		"confidence": 0.9,
		"tags":       []string{"style"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}

	var unit model.ContextUnit
	if err := json.Unmarshal(body, &unit); err != nil {
		t.Fatalf("decode unit: %v", err)
	}
	if unit.ID == "" || unit.Status != model.StatusActive {
		t.Fatalf("unexpected unit: %+v", unit)
	}

	resp, body = doJSON(t, "GET", srv.URL+"/api/context/"+unit.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, "PATCH", srv.URL+"/api/context/"+unit.ID, map[string]any{
		"confidence": 0.5,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var updated model.ContextUnit
	json.Unmarshal(body, &updated)
	if updated.Confidence != 0.5 {
		t.Errorf("confidence not updated: %v", updated.Confidence)
	}

	resp, _ = doJSON(t, "GET", srv.URL+"/api/context?kind=preference", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, "DELETE", srv.URL+"/api/context/"+unit.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, "DELETE", srv.URL+"/api/context/"+unit.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	srv := newTestServer(t)

	// invalid input -> 400 VALIDATION_ERROR
	resp, body := doJSON(t, "POST", srv.URL+"/api/context", map[string]any{
		"kind":       "opinion",
		"content":    "x",
		"confidence": 0.5,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var errResp errorBody
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %s", errResp.Error.Code)
	}

	// missing resource -> 404 RESOURCE_NOT_FOUND
	resp, body = doJSON(t, "GET", srv.URL+"/api/context/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	json.Unmarshal(body, &errResp)
	if errResp.Error.Code != "RESOURCE_NOT_FOUND" {
		t.Errorf("expected RESOURCE_NOT_FOUND, got %s", errResp.Error.Code)
	}
}

func TestSupersedeEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, oldBody := doJSON(t, "POST", srv.URL+"/api/context", map[string]any{
		"kind": "preference", "content": "tabs", "confidence": 0.9,
	})
	_, newBody := doJSON(t, "POST", srv.URL+"/api/context", map[string]any{
		"kind": "preference", "content": "spaces", "confidence": 0.9,
	})
	var oldUnit, newUnit model.ContextUnit
	json.Unmarshal(oldBody, &oldUnit)
	json.Unmarshal(newBody, &newUnit)

	resp, body := doJSON(t, "POST", srv.URL+"/api/context/"+oldUnit.ID+"/supersede", map[string]any{
		"new_id": newUnit.ID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var got model.ContextUnit
	json.Unmarshal(body, &got)
	if got.Status != model.StatusSuperseded {
		t.Errorf("expected superseded, got %s", got.Status)
	}
}

func TestRankAndDispatchEndpoints(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, "POST", srv.URL+"/api/context", map[string]any{
		"kind": "preference", "content": "answer in short python snippets", "confidence": 1.0,
	})

	resp, body := doJSON(t, "POST", srv.URL+"/api/rank", map[string]any{
		"task": "write python code",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rank: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var ranked []model.RankedUnit
	if err := json.Unmarshal(body, &ranked); err != nil {
		t.Fatalf("decode ranked: %v", err)
	}
	if len(ranked) != 1 {
		t.Fatalf("expected 1 ranked unit, got %d", len(ranked))
	}

	resp, body = doJSON(t, "POST", srv.URL+"/api/preview", map[string]any{
		"task": "write python code", "layout": "compact",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var preview dispatch.Preview
	json.Unmarshal(body, &preview)
	if !strings.Contains(preview.Prompt, "python snippets") {
		t.Errorf("preview prompt missing context:\n%s", preview.Prompt)
	}

	resp, body = doJSON(t, "POST", srv.URL+"/api/dispatch", map[string]any{
		"task": "write python code",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dispatch: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var result dispatch.Result
	json.Unmarshal(body, &result)
	if result.ResponseText != "echo response" || result.ProviderUsed != "openai" {
		t.Errorf("unexpected dispatch result: %+v", result)
	}
	if result.ConversationID == "" {
		t.Fatal("conversation id missing")
	}

	// the conversation is retrievable afterwards
	resp, body = doJSON(t, "GET", srv.URL+"/api/conversations/"+result.ConversationID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get conversation: expected 200, got %d", resp.StatusCode)
	}
	var conv model.Conversation
	json.Unmarshal(body, &conv)
	if len(conv.Messages) != 2 {
		t.Errorf("expected 2 persisted messages, got %d", len(conv.Messages))
	}
}

func TestProvidersAndModelsEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, "GET", srv.URL+"/api/providers", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("providers: expected 200, got %d", resp.StatusCode)
	}
	var infos []provider.Info
	if err := json.Unmarshal(body, &infos); err != nil {
		t.Fatalf("decode providers: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "openai" || !infos[0].Healthy {
		t.Errorf("unexpected providers: %+v", infos)
	}

	resp, body = doJSON(t, "GET", srv.URL+"/api/models?provider=openai", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("models: expected 200, got %d", resp.StatusCode)
	}
	var models []provider.ModelInfo
	json.Unmarshal(body, &models)
	if len(models) != 1 || models[0].ID != "echo-1" {
		t.Errorf("unexpected models: %+v", models)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, "GET", srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "ok") {
		t.Errorf("unexpected health body: %s", body)
	}
}
