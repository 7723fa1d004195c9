// Package transporttest 提供记录调用的假 HTTP 能力，供各步骤测试使用
package transporttest

import (
	"context"
	"sync"

	"riskoracle/internal/transport"
)

// Route 按请求返回预置响应
type Route func(req transport.Request) (*transport.Response, error)

// Recorder 记录每次请求并按路由应答
type Recorder struct {
	mu       sync.Mutex
	route    Route
	requests []transport.Request
}

// NewRecorder 创建记录器
func NewRecorder(route Route) *Recorder {
	return &Recorder{route: route}
}

// Static 总是返回同一响应
func Static(status int, body string) *Recorder {
	return NewRecorder(func(transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: status, Body: []byte(body)}, nil
	})
}

// Failing 总是返回传输错误
func Failing(err error) *Recorder {
	return NewRecorder(func(transport.Request) (*transport.Response, error) {
		return nil, err
	})
}

// SendRequest 实现transport.Capability
func (r *Recorder) SendRequest(ctx context.Context, req transport.Request) (*transport.Response, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.route(req)
}

// Requests 已记录的请求副本
func (r *Recorder) Requests() []transport.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transport.Request, len(r.requests))
	copy(out, r.requests)
	return out
}

// Calls 调用次数
func (r *Recorder) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}
