package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskoracle/internal/codec"
	"riskoracle/internal/transport"
	"riskoracle/internal/transport/transporttest"
	"riskoracle/pkg/models"
)

const (
	testAddress = "0x1234567890abcdef1234567890abcdef12345678"
	testABI     = `[{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"}]}]`
)

func newTestStep(rec *transporttest.Recorder) *Step {
	logger, _ := test.NewNullLogger()
	return NewStep(Config{BaseURL: "https://api.deepseek.com/"}, rec, logger)
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(testAddress, testABI)

	assert.True(t, strings.HasPrefix(prompt, "Analyze the security risks of the following smart contract ABI.\nContract address: "+testAddress))
	assert.Contains(t, prompt, "Contract ABI:\n"+testABI+"\n")
	assert.Contains(t, prompt, `"risk_level": "Low|Medium|High|Critical"`)
	assert.Equal(t, prompt, BuildPrompt(testAddress, testABI))
}

func TestBuildRequest(t *testing.T) {
	req := BuildRequest(Config{}, testAddress, testABI)

	assert.Equal(t, DefaultModel, req.Model)
	assert.Equal(t, 0.0, req.Temperature)
	assert.Equal(t, 42, req.Seed)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, DefaultSystemPrompt, req.Messages[0].Content)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Equal(t, BuildPrompt(testAddress, testABI), req.Messages[1].Content)
}

func TestMarshalRequest_Stable(t *testing.T) {
	req := BuildRequest(Config{MaxTokens: 512}, testAddress, testABI)

	first, err := MarshalRequest(req)
	require.NoError(t, err)
	second, err := MarshalRequest(req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, first, `"temperature":0,"seed":42,"max_tokens":512`)
	assert.True(t, strings.HasPrefix(first, `{"model":"deepseek-chat","messages":[`))
}

func TestAnalyze_Success(t *testing.T) {
	body := `{"choices":[{"message":{"content":"{\"risk_level\":\"Low\"}"}}]}`
	rec := transporttest.Static(200, body)
	step := newTestStep(rec)

	got := step.Analyze(context.Background(), testAddress, testABI, "sk-test")
	assert.Equal(t, body, got)

	reqs := rec.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].Method)
	assert.Equal(t, "https://api.deepseek.com/chat/completions", reqs[0].URL)
	assert.Equal(t, "Bearer sk-test", reqs[0].Headers["Authorization"])
	assert.Equal(t, "application/json", reqs[0].Headers["Content-Type"])

	decoded, err := codec.Decode(reqs[0].Body)
	require.NoError(t, err)

	var sent models.ModelRequest
	require.NoError(t, json.Unmarshal([]byte(decoded), &sent))
	assert.Equal(t, BuildRequest(Config{}, testAddress, testABI), sent)
}

func TestAnalyze_Failures(t *testing.T) {
	tests := []struct {
		name string
		rec  *transporttest.Recorder
		want string
	}{
		{"server error", transporttest.Static(500, "internal"), `{"error":true,"message":"DeepSeek API returned status 500"}`},
		{"unauthorized", transporttest.Static(401, `{"error":{"message":"Authentication Fails"}}`), `{"error":true,"message":"DeepSeek API returned status 401"}`},
		{"transport failure", transporttest.Failing(errors.New("connection reset")), `{"error":true,"message":"DeepSeek API request failed"}`},
		{"oversized body", transporttest.Failing(fmt.Errorf("%w: 上限 8 字节", transport.ErrResponseTooLarge)), `{"error":true,"message":"DeepSeek API response too large"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := newTestStep(tt.rec)
			assert.Equal(t, tt.want, step.Analyze(context.Background(), testAddress, testABI, "sk-test"))
			assert.Equal(t, 1, tt.rec.Calls())
		})
	}
}

func TestAnalyze_NoKeyInLogs(t *testing.T) {
	logger, hook := test.NewNullLogger()
	step := NewStep(Config{BaseURL: "https://api.deepseek.com"}, transporttest.Failing(errors.New("boom")), logger)
	step.Analyze(context.Background(), testAddress, testABI, "sk-very-secret")

	for _, entry := range hook.AllEntries() {
		s, _ := entry.String()
		assert.NotContains(t, s, "sk-very-secret")
	}
}

func TestAnalyze_LogsFinishReason(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantLevel logrus.Level
		wantField string
	}{
		{"stop", `{"model":"deepseek-chat","choices":[{"message":{"content":"{}"},"finish_reason":"stop"}]}`, logrus.DebugLevel, "stop"},
		{"truncated", `{"model":"deepseek-chat","choices":[{"message":{"content":"{\"risk"},"finish_reason":"length"}]}`, logrus.WarnLevel, "length"},
		{"no choices", `{"choices":[]}`, logrus.DebugLevel, ""},
		{"not json", `oops`, logrus.DebugLevel, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			logger.SetLevel(logrus.DebugLevel)
			step := NewStep(Config{BaseURL: "https://api.deepseek.com"}, transporttest.Static(200, tt.body), logger)

			// 返回值始终是原始响应体
			assert.Equal(t, tt.body, step.Analyze(context.Background(), testAddress, testABI, "sk-test"))

			last := hook.LastEntry()
			require.NotNil(t, last)
			assert.Equal(t, tt.wantLevel, last.Level)
			if tt.wantField == "" {
				assert.NotContains(t, last.Data, "finish_reason")
				return
			}
			assert.Equal(t, tt.wantField, last.Data["finish_reason"])
			assert.Equal(t, "deepseek-chat", last.Data["model"])
		})
	}
}
