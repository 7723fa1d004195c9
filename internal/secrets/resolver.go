// Package secrets 在每次运行时解析命名凭据
package secrets

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"riskoracle/internal/errors"
	"riskoracle/pkg/models"
)

// Resolver 凭据解析接口。每次调用都重新读取，不做缓存。
type Resolver interface {
	Resolve(ctx context.Context, id string) (models.Credential, error)
}

// IsNotFound 判断是否为凭据不存在
func IsNotFound(err error) bool {
	return stderrors.Is(err, errors.ErrSecretNotFound)
}

func notFound(id string) error {
	return errors.ErrSecretNotFound.Newf("%s", id).WithComponent("secrets")
}

// NewEnvStore 创建环境变量凭据源：进程环境变量优先，其次依次查找 .env 文件
//
// 文件在每次解析时重新读取，以便感知轮换。
func NewEnvStore(files ...string) ChainResolver {
	return ChainResolver{processEnv{lookup: os.LookupEnv}, dotEnvFiles(files)}
}

// processEnv 进程环境变量
type processEnv struct {
	lookup func(string) (string, bool)
}

// Resolve 实现Resolver
func (p processEnv) Resolve(ctx context.Context, id string) (models.Credential, error) {
	if err := ctx.Err(); err != nil {
		return models.Credential{}, err
	}
	if value, ok := p.lookup(id); ok && strings.TrimSpace(value) != "" {
		return models.Credential{ID: id, Value: value}, nil
	}
	return models.Credential{}, notFound(id)
}

// dotEnvFiles 按顺序读取的 .env 文件，不存在的文件跳过
type dotEnvFiles []string

// Resolve 实现Resolver
func (d dotEnvFiles) Resolve(ctx context.Context, id string) (models.Credential, error) {
	if err := ctx.Err(); err != nil {
		return models.Credential{}, err
	}
	for _, file := range d {
		values, err := godotenv.Read(file)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return models.Credential{}, fmt.Errorf("读取凭据文件 %s 失败: %w", file, err)
		}
		if value := strings.TrimSpace(values[id]); value != "" {
			return models.Credential{ID: id, Value: value}, nil
		}
	}
	return models.Credential{}, notFound(id)
}

// StaticStore 固定映射，用于测试与模拟运行
type StaticStore map[string]string

// Resolve 实现Resolver
func (s StaticStore) Resolve(ctx context.Context, id string) (models.Credential, error) {
	if err := ctx.Err(); err != nil {
		return models.Credential{}, err
	}
	value, ok := s[id]
	if !ok || value == "" {
		return models.Credential{}, notFound(id)
	}
	return models.Credential{ID: id, Value: value}, nil
}

// ChainResolver 按顺序尝试多个凭据源，第一个命中者生效
type ChainResolver []Resolver

// Resolve 实现Resolver
func (c ChainResolver) Resolve(ctx context.Context, id string) (models.Credential, error) {
	for _, r := range c {
		cred, err := r.Resolve(ctx, id)
		if err == nil {
			return cred, nil
		}
		if !IsNotFound(err) {
			return models.Credential{}, err
		}
	}
	return models.Credential{}, notFound(id)
}
