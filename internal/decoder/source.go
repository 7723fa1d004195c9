package decoder

import (
	"context"

	"riskoracle/internal/errors"
	"riskoracle/internal/explorer"
	"riskoracle/internal/secrets"
	"riskoracle/pkg/models"
)

// ExplorerSource 通过ABI拉取步骤获取ABI
type ExplorerSource struct {
	Resolver secrets.Resolver
	Step     *explorer.Step
	ChainID  string
}

// ABI 实现 ABISource
func (s *ExplorerSource) ABI(ctx context.Context, contractAddress string) (string, error) {
	credential, err := s.Resolver.Resolve(ctx, models.ExplorerKeyID)
	if err != nil {
		return "", err
	}

	outcome := explorer.ParseABIResponse(s.Step.FetchABI(ctx, contractAddress, s.ChainID, credential.Value))
	switch outcome.Kind {
	case explorer.ABIOK:
		return outcome.ABI, nil
	case explorer.ABIRejected:
		return "", errors.ErrUpstreamStatus.Newf("%s", outcome.Message).WithComponent("decoder")
	default:
		return "", errors.ErrMalformedUpstream.Newf("ABI响应不是JSON").WithComponent("decoder")
	}
}

// StaticSource 固定的 地址 -> ABI 映射
type StaticSource map[string]string

// ABI 实现 ABISource
func (s StaticSource) ABI(ctx context.Context, contractAddress string) (string, error) {
	text, ok := s[contractAddress]
	if !ok {
		return "", errors.ErrUpstreamStatus.Newf("未找到合约ABI: %s", contractAddress).WithComponent("decoder")
	}
	return text, nil
}
