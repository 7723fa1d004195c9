// Package explorer 实现合约 ABI 拉取步骤
package explorer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"riskoracle/internal/errors"
	"riskoracle/internal/logging"
	"riskoracle/internal/transport"
	"riskoracle/pkg/models"
)

// Config 浏览器接口配置
type Config struct {
	BaseURL  string `mapstructure:"base_url"`
	Provider string `mapstructure:"provider"`
}

// Step ABI 拉取步骤。同样的输入总是得到同样的输出串，从不返回 error。
type Step struct {
	baseURL  string
	provider string
	client   transport.Capability
	logger   *logrus.Logger
}

// NewStep 创建ABI拉取步骤
func NewStep(cfg Config, client transport.Capability, logger *logrus.Logger) *Step {
	provider := cfg.Provider
	if provider == "" {
		provider = "Etherscan"
	}
	return &Step{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		provider: provider,
		client:   client,
		logger:   logger,
	}
}

// BuildURL 拼接 getabi 地址，参数按原样插入
func (s *Step) BuildURL(contractAddress, chainID, apiKey string) string {
	return fmt.Sprintf("%s/v2/api?chainid=%s&module=contract&action=getabi&address=%s&apikey=%s",
		s.baseURL, chainID, contractAddress, apiKey)
}

// FetchABI 返回原始响应体，或规范错误串
func (s *Step) FetchABI(ctx context.Context, contractAddress, chainID, apiKey string) string {
	log := logging.NewStepLogger(s.logger, "fetch_abi").WithField("contract_address", contractAddress)

	resp, err := s.client.SendRequest(ctx, transport.Request{
		Method: http.MethodGet,
		URL:    s.BuildURL(contractAddress, chainID, apiKey),
	})
	if transport.IsResponseTooLarge(err) {
		// 各节点收到同一响应体，超限结论一致
		log.WithError(err).Warn("响应体超过上限")
		return models.NewErrorEnvelope(fmt.Sprintf("%s API response too large", s.provider))
	}
	if err != nil {
		// 具体原因因节点而异，只记日志，不进入输出
		log.WithError(errors.ErrTransportFailed.Wrap(err).WithComponent("explorer")).Warn("ABI请求失败")
		return models.NewErrorEnvelope(fmt.Sprintf("%s API request failed", s.provider))
	}

	if !resp.OK() {
		log.WithField("status", resp.StatusCode).Warn("浏览器返回非成功状态")
		return models.NewErrorEnvelope(fmt.Sprintf("%s API returned status %d", s.provider, resp.StatusCode))
	}

	log.WithField("bytes", len(resp.Body)).Debug("ABI响应已接收")
	return string(resp.Body)
}
