package utils

import (
	"crypto/tls"
	"net/http"
	"time"
)

// ClientOption 调整 NewHTTPClient 创建的客户端
type ClientOption func(*http.Client)

// WithRoundTripper 用 wrap 包装底层 Transport，wrap 为 nil 时不生效
func WithRoundTripper(wrap func(http.RoundTripper) http.RoundTripper) ClientOption {
	return func(c *http.Client) {
		if wrap != nil {
			c.Transport = wrap(c.Transport)
		}
	}
}

// NewHTTPClient 创建访问模型服务用的客户端。timeout <= 0 时不设超时。
func NewHTTPClient(timeout time.Duration, opts ...ClientOption) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}
