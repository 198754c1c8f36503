package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/triage-ai/agentgate/internal/agents"
	"github.com/triage-ai/agentgate/internal/auth"
	"github.com/triage-ai/agentgate/internal/findings"
	"github.com/triage-ai/agentgate/internal/gate"
	"github.com/triage-ai/agentgate/internal/storage"
)

const reviewerDoc = `---
description: Reviews code
mode: primary
permission:
  bash:
    "git *": allow
    "*": deny
---
Review the change.
`

const helperDoc = `---
description: Helper only
mode: subagent
---
Help.
`

// MockRunner implements Runner for testing
type MockRunner struct {
	RunFunc func(ctx context.Context, agentName, input string) (*findings.Report, error)
}

func (m *MockRunner) Run(ctx context.Context, agentName, input string) (*findings.Report, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, agentName, input)
	}
	return &findings.Report{Agent: agentName, State: "done"}, nil
}

type testDeps struct {
	router *gin.Engine
	deps   *Dependencies
	queue  *gate.QueueConfirmer
	audit  *storage.MemoryStore
}

func setupTestRouter(t *testing.T) *testDeps {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	reg, err := agents.Load(context.Background(), logger, &agents.FSSource{
		FS: fstest.MapFS{
			"reviewer.md": {Data: []byte(reviewerDoc)},
			"helper.md":   {Data: []byte(helperDoc)},
		},
		Dir:   ".",
		Label: "test",
	})
	require.NoError(t, err)

	audit := storage.NewMemoryStore(100)
	g, err := gate.New(gate.Options{Workspace: t.TempDir(), Audit: audit, Logger: logger})
	require.NoError(t, err)
	queue := gate.NewQueueConfirmer(0)

	deps := &Dependencies{
		Registry:      reg,
		Gate:          g,
		Runner:        &MockRunner{},
		Confirmations: queue,
		Audit:         audit,
		Auth:          auth.NewStaticAuthenticator(""),
		Logger:        logger,
	}
	return &testDeps{router: NewRouter(deps), deps: deps, queue: queue, audit: audit}
}

func (td *testDeps) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer agk_test_key_123")
	w := httptest.NewRecorder()
	td.router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	td := setupTestRouter(t)

	w := httptest.NewRecorder()
	td.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	td := setupTestRouter(t)

	w := httptest.NewRecorder()
	td.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	td := setupTestRouter(t)

	w := httptest.NewRecorder()
	td.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/agents", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	req.Header.Set("Authorization", "Bearer sk_not_ours")
	w = httptest.NewRecorder()
	td.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListAgents(t *testing.T) {
	td := setupTestRouter(t)

	w := td.do(t, http.MethodGet, "/v1/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp AgentListResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Agents, 2)
	assert.Equal(t, "helper", resp.Agents[0].Name)
	assert.Equal(t, "reviewer", resp.Agents[1].Name)

	w = td.do(t, http.MethodGet, "/v1/agents?mode=primary", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Agents, 1)
	assert.Equal(t, agents.ModePrimary, resp.Agents[0].Mode)
}

func TestGetAgent(t *testing.T) {
	td := setupTestRouter(t)

	w := td.do(t, http.MethodGet, "/v1/agents/reviewer", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "reviewer", body["name"])
	assert.Contains(t, body["prompt"], "Review the change.")
}

func TestGetAgent_NotFoundSuggests(t *testing.T) {
	td := setupTestRouter(t)

	w := td.do(t, http.MethodGet, "/v1/agents/reviewr", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Suggestions, "reviewer")
}

func TestAuthorize(t *testing.T) {
	td := setupTestRouter(t)

	tests := []struct {
		command string
		want    agents.Action
	}{
		{"git log", agents.ActionAllow},
		{"git push --force", agents.ActionAsk},
		{"rm -rf /", agents.ActionDeny},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			w := td.do(t, http.MethodPost, "/v1/authorize", AuthorizeReq{
				Agent: "reviewer",
				Tool:  "bash",
				Args:  map[string]any{"command": tt.command},
			})
			require.Equal(t, http.StatusOK, w.Code)

			var dec gate.Decision
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dec))
			assert.Equal(t, tt.want, dec.Action)
		})
	}
}

func TestAuthorize_BadRequest(t *testing.T) {
	td := setupTestRouter(t)

	w := td.do(t, http.MethodPost, "/v1/authorize", map[string]any{"agent": "reviewer"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRun(t *testing.T) {
	td := setupTestRouter(t)
	td.deps.Runner = &MockRunner{RunFunc: func(_ context.Context, agentName, input string) (*findings.Report, error) {
		assert.Equal(t, "reviewer", agentName)
		assert.Equal(t, "HEAD~1", input)
		return &findings.Report{RunID: "run-1", Agent: agentName, State: "partial_failure"}, nil
	}}

	w := td.do(t, http.MethodPost, "/v1/runs", RunReq{Agent: "reviewer", Input: "HEAD~1"})
	require.Equal(t, http.StatusOK, w.Code)

	var report findings.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "partial_failure", report.State)
}

func TestRun_UnknownAgent(t *testing.T) {
	td := setupTestRouter(t)
	td.deps.Runner = &MockRunner{RunFunc: func(context.Context, string, string) (*findings.Report, error) {
		return nil, &agents.LookupError{Name: "revew", Suggestions: []string{"review"}}
	}}

	w := td.do(t, http.MethodPost, "/v1/runs", RunReq{Agent: "revew"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfirmations(t *testing.T) {
	td := setupTestRouter(t)

	done := make(chan bool, 1)
	go func() {
		ok, _ := td.queue.Confirm(context.Background(), &gate.Pending{ID: "conf-1", Tool: "bash", CreatedAt: time.Now()})
		done <- ok
	}()
	require.Eventually(t, func() bool { return len(td.queue.Pending()) == 1 }, 2*time.Second, 5*time.Millisecond)

	w := td.do(t, http.MethodGet, "/v1/confirmations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "conf-1")

	w = td.do(t, http.MethodPost, "/v1/confirmations/conf-1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = td.do(t, http.MethodPost, "/v1/confirmations/conf-1", map[string]any{"approve": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, <-done)

	w = td.do(t, http.MethodPost, "/v1/confirmations/conf-1", map[string]any{"approve": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAudit(t *testing.T) {
	td := setupTestRouter(t)

	td.do(t, http.MethodPost, "/v1/authorize", AuthorizeReq{Agent: "reviewer", Tool: "bash", Args: map[string]any{"command": "git log"}, RunID: "r1"})
	td.do(t, http.MethodPost, "/v1/authorize", AuthorizeReq{Agent: "reviewer", Tool: "bash", Args: map[string]any{"command": "rm -rf /"}, RunID: "r2"})

	w := td.do(t, http.MethodGet, "/v1/audit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp AuditListResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)

	w = td.do(t, http.MethodGet, "/v1/audit?decision=deny", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "r2", resp.Records[0].RunID)

	w = td.do(t, http.MethodGet, "/v1/audit?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAudit_NotConfigured(t *testing.T) {
	td := setupTestRouter(t)
	td.deps.Audit = nil

	w := td.do(t, http.MethodGet, "/v1/audit", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
