// Package transport 定义流水线步骤使用的单次HTTP调用能力
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"riskoracle/internal/codec"
	"riskoracle/internal/logging"
)

// DefaultMaxResponseBytes 默认响应体上限
const DefaultMaxResponseBytes int64 = 8 << 20

// ErrResponseTooLarge 响应体超过上限。不截断，整个响应作废。
var ErrResponseTooLarge = errors.New("响应体超过上限")

// IsResponseTooLarge 判断是否为响应体超限错误
func IsResponseTooLarge(err error) bool {
	return errors.Is(err, ErrResponseTooLarge)
}

// Request 出站请求，Body 为 Base64 编码后的文本
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// Response 上游响应
type Response struct {
	StatusCode int
	Body       []byte
}

// OK 是否为 2xx
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Capability 每个节点注入给步骤的HTTP调用能力
type Capability interface {
	SendRequest(ctx context.Context, req Request) (*Response, error)
}

// Options HTTP能力配置
type Options struct {
	Timeout          time.Duration
	ProxyURL         string
	MaxResponseBytes int64
}

// HTTPCapability 基于 net/http 的实现
type HTTPCapability struct {
	client   *http.Client
	maxBytes int64
	logger   *logrus.Logger
}

// NewHTTPCapability 创建HTTP能力，可选代理
func NewHTTPCapability(opts Options, logger *logrus.Logger) (*HTTPCapability, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = DefaultMaxResponseBytes
	}

	transport := &http.Transport{
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     30 * time.Second,
	}
	if proxy := strings.TrimSpace(opts.ProxyURL); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("代理地址无效: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &HTTPCapability{
		client:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		maxBytes: opts.MaxResponseBytes,
		logger:   logger,
	}, nil
}

// SendRequest 解码请求体后发送，读取完整响应体，超过上限时返回 ErrResponseTooLarge
func (c *HTTPCapability) SendRequest(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if req.Body != "" {
		raw, err := codec.Decode(req.Body)
		if err != nil {
			return nil, fmt.Errorf("解码请求体失败: %w", err)
		}
		body = strings.NewReader(raw)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", redactURLError(err))
	}

	keys := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		httpReq.Header.Set(k, req.Headers[k])
	}

	log := logging.NewHTTPLogger(c.logger, method, httpReq.URL.Host)
	start := time.Now()

	resp, err := c.client.Do(httpReq)
	if err != nil {
		err = redactURLError(err)
		log.WithError(err).Warn("HTTP请求失败")
		return nil, err
	}
	defer resp.Body.Close()

	// 多读一个字节用来区分“恰好等于上限”和“超过上限”
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"limit":  c.maxBytes,
		}).Warn("响应体超过上限")
		return nil, fmt.Errorf("%w: 上限 %d 字节", ErrResponseTooLarge, c.maxBytes)
	}

	log.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"bytes":    len(data),
		"duration": time.Since(start).String(),
	}).Debug("HTTP请求完成")

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// url.Error 会带上完整查询串（含 apikey），只保留操作与原因
func redactURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
