package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"riskoracle/internal/codec"
	"riskoracle/internal/errors"
	"riskoracle/internal/logging"
	"riskoracle/internal/transport"
	"riskoracle/pkg/models"
)

// Step 风险分析步骤。不重试，从不返回 error。
type Step struct {
	cfg    Config
	client transport.Capability
	logger *logrus.Logger
}

// NewStep 创建风险分析步骤
func NewStep(cfg Config, client transport.Capability, logger *logrus.Logger) *Step {
	cfg = cfg.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Step{cfg: cfg, client: client, logger: logger}
}

// Endpoint chat/completions 地址
func (s *Step) Endpoint() string {
	return s.cfg.BaseURL + "/chat/completions"
}

// Analyze 返回模型原始响应体，或规范错误串
func (s *Step) Analyze(ctx context.Context, contractAddress, abiText, apiKey string) string {
	log := logging.NewStepLogger(s.logger, "analyze").WithField("contract_address", contractAddress)

	body, err := MarshalRequest(BuildRequest(s.cfg, contractAddress, abiText))
	if err != nil {
		log.WithError(err).Error("序列化模型请求失败")
		return models.NewErrorEnvelope(fmt.Sprintf("%s API request could not be encoded", s.cfg.Provider))
	}

	resp, err := s.client.SendRequest(ctx, transport.Request{
		Method: http.MethodPost,
		URL:    s.Endpoint(),
		Headers: map[string]string{
			"Content-Type":  "application/json",
			"Authorization": "Bearer " + apiKey,
		},
		Body: codec.Encode(body),
	})
	if transport.IsResponseTooLarge(err) {
		// 各节点收到同一响应体，超限结论一致
		log.WithError(err).Warn("响应体超过上限")
		return models.NewErrorEnvelope(fmt.Sprintf("%s API response too large", s.cfg.Provider))
	}
	if err != nil {
		log.WithError(errors.ErrTransportFailed.Wrap(err).WithComponent("analysis")).Warn("模型请求失败")
		return models.NewErrorEnvelope(fmt.Sprintf("%s API request failed", s.cfg.Provider))
	}

	if !resp.OK() {
		log.WithField("status", resp.StatusCode).Warn("模型接口返回非成功状态")
		return models.NewErrorEnvelope(fmt.Sprintf("%s API returned status %d", s.cfg.Provider, resp.StatusCode))
	}

	logReply(log.WithField("bytes", len(resp.Body)), resp.Body)
	return string(resp.Body)
}

// logReply 记录响应包的模型与结束原因，只用于日志，不影响返回值
func logReply(log *logrus.Entry, body []byte) {
	var reply models.ModelResponse
	if err := json.Unmarshal(body, &reply); err != nil || len(reply.Choices) == 0 {
		log.Debug("模型响应已接收")
		return
	}

	choice := reply.Choices[0]
	log = log.WithFields(logrus.Fields{
		"model":         reply.Model,
		"finish_reason": choice.FinishReason,
	})
	// length 表示输出被 max_tokens 截断，内容多半不是完整 JSON
	if choice.FinishReason == "length" {
		log.Warn("模型输出被截断")
		return
	}
	log.Debug("模型响应已接收")
}
