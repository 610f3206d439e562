package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentgraph/internal/httpapi"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability/capabilitytest"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/checkpoint"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/service"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/telemetry"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/workflow/extractor"
)

func newServer(t *testing.T, withStore bool) http.Handler {
	t.Helper()
	llm := capabilitytest.NewGateway().
		On(extractor.NodeExtract, capabilitytest.JSON(map[string]any{"location": "Lyon"}))
	configs := capability.NewStaticConfigStore(
		capability.AgentConfig{ID: "weather", Type: "extractor", RequiredFields: []string{"location"}},
		capability.AgentConfig{ID: "poet", Type: "poetry"},
	)
	reg := prometheus.NewRegistry()

	opts := []service.Option{service.WithTelemetry(telemetry.NewPrometheusSink(reg, "agentgraph"))}
	if withStore {
		opts = append(opts, service.WithCheckpointStore(checkpoint.NewMemoryStore()))
	}
	svc, err := service.New(configs, capability.Set{LLM: llm}, opts...)
	require.NoError(t, err)
	return httpapi.NewServer(svc, httpapi.WithMetrics(reg)).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestExecute(t *testing.T) {
	h := newServer(t, true)

	rec := do(t, h, http.MethodPost, "/v1/agents/weather/execute",
		`{"input":{"text":"Sunny in Lyon"},"correlation_id":"req-1"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res service.WorkflowResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, "weather:req-1", res.ThreadID)

	rec = do(t, h, http.MethodGet, "/v1/threads/weather:req-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view service.ThreadView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.Completed)
	assert.Equal(t, "weather", view.AgentID)
}

func TestExecute_WorkflowFailureIsOK(t *testing.T) {
	h := newServer(t, false)

	rec := do(t, h, http.MethodPost, "/v1/agents/weather/execute", `{"input":{}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var res service.WorkflowResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, "text", res.ErrorField)
}

func TestExecute_Errors(t *testing.T) {
	h := newServer(t, false)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"unknown agent", "/v1/agents/nobody/execute", `{}`, http.StatusNotFound},
		{"unsupported type", "/v1/agents/poet/execute", `{}`, http.StatusUnprocessableEntity},
		{"bad body", "/v1/agents/weather/execute", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestThread_Errors(t *testing.T) {
	assert.Equal(t, http.StatusNotImplemented, do(t, newServer(t, false), http.MethodGet, "/v1/threads/x:1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, newServer(t, true), http.MethodGet, "/v1/threads/x:1", "").Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newServer(t, false)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)

	do(t, h, http.MethodPost, "/v1/agents/weather/execute", `{"input":{"text":"Lyon"}}`)
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "agentgraph_runs_total")
}
