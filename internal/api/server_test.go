package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskoracle/internal/analysis"
	"riskoracle/internal/config"
	"riskoracle/internal/decoder"
	"riskoracle/internal/explorer"
	"riskoracle/internal/history"
	"riskoracle/internal/pipeline"
	"riskoracle/internal/scheduler"
	"riskoracle/internal/secrets"
	"riskoracle/internal/transport/transporttest"
	"riskoracle/internal/workflow"
	"riskoracle/pkg/models"
)

const (
	testAddress = "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984"
	testChain   = "11155111"
	tokenABI    = `[{"type":"function","name":"pause","inputs":[],"outputs":[]}]`
	pauseCall   = "0x8456cb59"
)

func explorerBody(t *testing.T) string {
	t.Helper()
	body, err := json.Marshal(map[string]string{"status": "1", "message": "OK", "result": tokenABI})
	require.NoError(t, err)
	return string(body)
}

func modelBody(t *testing.T) string {
	t.Helper()
	body, err := json.Marshal(models.ModelResponse{Choices: []models.Choice{{Message: models.Message{
		Role:    "assistant",
		Content: `{"risk_level":"High","explanation":"owner can pause","dangerous_functions":["pause"]}`,
	}}}})
	require.NoError(t, err)
	return string(body)
}

func newTestServer(t *testing.T, resolver secrets.Resolver) (*Server, *logrus.Logger) {
	t.Helper()
	logger, _ := test.NewNullLogger()

	runner := pipeline.NewRunner(pipeline.Options{
		Resolver: resolver,
		Fetcher:  explorer.NewStep(explorer.Config{BaseURL: "https://api.etherscan.io"}, transporttest.Static(200, explorerBody(t)), logger),
		Analyzer: analysis.NewStep(analysis.Config{BaseURL: "https://api.deepseek.com"}, transporttest.Static(200, modelBody(t)), logger),
		Clock:    pipeline.ClockFunc(func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }),
		Logger:   logger,
	})

	store, err := history.NewStore(filepath.Join(t.TempDir(), "history.db"), 10, logger)
	require.NoError(t, err)

	cfg := config.GetDefaultConfig()
	cfg.Workflow.ContractAddress = testAddress

	svc := workflow.New(workflow.Options{
		Runner:   runner,
		Workflow: cfg.AuditConfig(),
		History:  store,
		Decoder:  decoder.NewInputDecoder(decoder.StaticSource{testAddress: tokenABI}, 0, logger),
		Logger:   logger,
	})
	t.Cleanup(func() { svc.Close() })

	return NewServer(svc, cfg, logger, 0), logger
}

func validResolver() secrets.Resolver {
	return secrets.StaticStore{models.ExplorerKeyID: "e", models.ModelKeyID: "m"}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, validResolver())
	router := s.Router()

	w, body := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "riskoracle_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, validResolver())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/audit", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRunAudit(t *testing.T) {
	s, _ := newTestServer(t, validResolver())
	router := s.Router()

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/audit", map[string]string{
		"contract_address":   testAddress,
		"call_data":          pauseCall,
		"initial_risk_level": "Critical",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "High", body["risk_level"])
	assert.Equal(t, "owner can pause", body["explanation"])
	assert.Equal(t, "pause", body["dangerous_functions"])
	assert.Equal(t, "2026-01-02T03:04:05.000Z", body["verified_timestamp"])
	assert.Equal(t, "verdict", body["path"])
	assert.Equal(t, true, body["levels_match"])

	digest, err := pipeline.Digest(models.AuditResult{
		RiskLevel:          "High",
		Explanation:        "owner can pause",
		DangerousFunctions: "pause",
		Auditor:            pipeline.DefaultAuditor,
		ContractAddress:    testAddress,
		ChainID:            testChain,
		Timestamp:          "2026-01-02T03:04:05.000Z",
	})
	require.NoError(t, err)
	assert.Equal(t, digest, body["verification_hash"])

	call, ok := body["decoded_call"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "pause", call["function_name"])

	// 结果进入历史库
	w, body = doJSON(t, router, http.MethodGet, "/api/v1/results?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestRunAudit_CredentialMissing(t *testing.T) {
	s, _ := newTestServer(t, secrets.StaticStore{})

	w, body := doJSON(t, s.Router(), http.MethodPost, "/api/v1/audit", map[string]string{
		"contract_address": testAddress,
	})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "error", body["status"])
	assert.Equal(t, models.RiskLevelError, body["risk_level"])
	assert.Equal(t, "credential_missing", body["path"])
	assert.NotEmpty(t, body["message"])
	assert.NotContains(t, body, "levels_match")
}

func TestRunAudit_BadRequest(t *testing.T) {
	s, _ := newTestServer(t, validResolver())
	router := s.Router()

	tests := []struct {
		name string
		body interface{}
	}{
		{"缺少地址", map[string]string{}},
		{"地址无前缀", map[string]string{"contract_address": "1f9840a85d5af5bf1d1762f925bdaddc4201f984"}},
		{"地址过短", map[string]string{"contract_address": "0x1234"}},
		{"链ID非数字", map[string]string{"contract_address": testAddress, "chain_id": "sepolia"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := doJSON(t, router, http.MethodPost, "/api/v1/audit", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "error", body["status"])
		})
	}
}

func TestRunSimulation(t *testing.T) {
	s, _ := newTestServer(t, validResolver())
	router := s.Router()

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/simulate", map[string]int{"nodes": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["unanimous"])
	assert.EqualValues(t, 3, body["agreement"])

	w, _ = doJSON(t, router, http.MethodPost, "/api/v1/simulate", map[string]int{"nodes": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, router, http.MethodPost, "/api/v1/simulate", map[string]int{"nodes": maxSimulationNodes + 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDecodeCall(t *testing.T) {
	s, _ := newTestServer(t, validResolver())
	router := s.Router()

	w, body := doJSON(t, router, http.MethodPost, "/api/v1/decode", map[string]string{
		"contract_address": testAddress,
		"call_data":        pauseCall,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "pause", body["function_name"])
	assert.Equal(t, "pause()", body["signature"])
	assert.Equal(t, true, body["from_abi"])

	w, body = doJSON(t, router, http.MethodPost, "/api/v1/decode", map[string]string{
		"contract_address": testAddress,
		"call_data":        "0xzz",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "error", body["status"])
}

func TestGetResults_Empty(t *testing.T) {
	s, _ := newTestServer(t, validResolver())

	w, body := doJSON(t, s.Router(), http.MethodGet, "/api/v1/results?contract_address=0x0000000000000000000000000000000000000001", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["count"])
	assert.Equal(t, testChain, body["chain_id"])
}

func TestStatusAndStats(t *testing.T) {
	s, _ := newTestServer(t, validResolver())
	router := s.Router()

	w, body := doJSON(t, router, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["scheduled"])
	wf, ok := body["workflow"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, testAddress, wf["contract_address"])
	// 未挂接调度器时按配置的表达式推算下一次触发
	assert.Equal(t, scheduler.DefaultSchedule, body["active_schedule"])
	next, err := time.Parse(time.RFC3339, body["next_run"].(string))
	require.NoError(t, err)
	assert.True(t, next.After(time.Now().Add(-time.Second)))

	w, body = doJSON(t, router, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body, "errors")
	assert.Contains(t, body, "history")
}

func TestLogsEndpoint(t *testing.T) {
	s, logger := newTestServer(t, validResolver())
	router := s.Router()

	logger.WithField("run_id", "r-1").Info("第一条")
	logger.WithField("run_id", "r-2").Warn("第二条")
	logger.Debug("不会被收集")

	w, body := doJSON(t, router, http.MethodGet, "/api/v1/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["total"])

	w, body = doJSON(t, router, http.MethodGet, "/api/v1/logs?level=warning", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])

	w, body = doJSON(t, router, http.MethodGet, "/api/v1/logs?run_id=r-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total"])

	w, _ = doJSON(t, router, http.MethodDelete, "/api/v1/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, body = doJSON(t, router, http.MethodGet, "/api/v1/logs", nil)
	assert.EqualValues(t, 0, body["total"])
}

type fakeWorkflowStore struct {
	rows    []config.WorkflowRow
	updated []config.WorkflowRow
	err     error
}

func (f *fakeWorkflowStore) LoadWorkflows() ([]config.WorkflowRow, error) {
	return f.rows, f.err
}

func (f *fakeWorkflowStore) UpdateWorkflow(w config.WorkflowRow, priority int) error {
	if f.err != nil {
		return f.err
	}
	f.updated = append(f.updated, w)
	return nil
}

func TestWorkflowEndpoints(t *testing.T) {
	s, logger := newTestServer(t, validResolver())
	router := s.Router()

	w, _ := doJSON(t, router, http.MethodGet, "/api/v1/workflows", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	store := &fakeWorkflowStore{rows: []config.WorkflowRow{
		{Name: "uni", Schedule: "0 */5 * * * *", ContractAddress: testAddress, ChainID: testChain},
	}}
	s.SetWorkflowManager(NewWorkflowManager(store, logger))

	w, body := doJSON(t, router, http.MethodGet, "/api/v1/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)
	workflows, ok := body["workflows"].([]interface{})
	require.True(t, ok)
	assert.Len(t, workflows, 1)

	w, _ = doJSON(t, router, http.MethodPut, "/api/v1/workflows", map[string]interface{}{
		"name":             "uni",
		"schedule":         "@every 10m",
		"contract_address": testAddress,
		"chain_id":         "1",
		"priority":         2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, store.updated, 1)
	assert.Equal(t, "1", store.updated[0].ChainID)

	w, _ = doJSON(t, router, http.MethodPut, "/api/v1/workflows", map[string]interface{}{
		"name":             "bad",
		"schedule":         "not a cron",
		"contract_address": testAddress,
		"chain_id":         "1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	store.err = errors.New("db down")
	w, _ = doJSON(t, router, http.MethodGet, "/api/v1/workflows", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestLogManager_RingBuffer(t *testing.T) {
	lm := NewLogManager(3)
	logger := logrus.New()
	for _, id := range []string{"a", "b", "c", "d"} {
		entry := logrus.NewEntry(logger).WithField("run_id", id).WithField("err", errors.New("boom"))
		entry.Level = logrus.InfoLevel
		entry.Message = "run " + id
		lm.AddLog(entry)
	}

	logs := lm.GetLogs(LogFilter{}, 0)
	require.Len(t, logs, 3)
	assert.Equal(t, "d", logs[0].RunID)
	assert.Equal(t, "b", logs[2].RunID)
	assert.Equal(t, "boom", logs[0].Fields["err"])
	assert.NotContains(t, logs[0].Fields, "run_id")

	assert.Len(t, lm.GetLogs(LogFilter{}, 2), 2)

	page, total := lm.GetLogsWithPagination(LogFilter{}, 2, 2)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].RunID)

	page, _ = lm.GetLogsWithPagination(LogFilter{}, 5, 2)
	assert.Empty(t, page)
}

func TestLogFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter LogFilter
		entry  LogEntry
		want   bool
	}{
		{"空条件", LogFilter{}, LogEntry{Level: "debug"}, true},
		{"级别相同", LogFilter{Level: "warning"}, LogEntry{Level: "warning"}, true},
		{"更严重的级别", LogFilter{Level: "warning"}, LogEntry{Level: "error"}, true},
		{"较低级别", LogFilter{Level: "warning"}, LogEntry{Level: "info"}, false},
		{"运行ID不同", LogFilter{RunID: "r-1"}, LogEntry{Level: "info", RunID: "r-2"}, false},
		{"未知级别按字面匹配", LogFilter{Level: "custom"}, LogEntry{Level: "custom"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.match(tt.entry))
		})
	}
}

func TestStatus_WithScheduler(t *testing.T) {
	s, logger := newTestServer(t, validResolver())
	sched, err := scheduler.New("@every 1h", time.Minute, func(context.Context) {}, logger)
	require.NoError(t, err)
	s.SetScheduler(sched)

	// 调度器未启动，next_run 由其表达式推算
	w, body := doJSON(t, s.Router(), http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["scheduled"])
	assert.Equal(t, "@every 1h", body["active_schedule"])
	next, err := time.Parse(time.RFC3339, body["next_run"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, time.Minute)
}
