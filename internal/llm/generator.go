// Package llm 把组装好的请求发给托管的多模态模型并返回生成的文本
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"prompt-architect-backend/internal/config"
	"prompt-architect-backend/internal/encoder"
	"prompt-architect-backend/internal/utils"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderDoubao    = "doubao"
	ProviderQwen      = "qwen"
	ProviderAnthropic = "anthropic"
)

var (
	ErrMissingCredential   = errors.New("API key is missing")
	ErrUnsupportedProvider = errors.New("unsupported model provider")
)

// Request 是一次生成调用的全部输入：图片在前，文本块在后
type Request struct {
	Images            []encoder.Part
	Text              string
	SystemInstruction string
	Temperature       float32
}

// Generator 调用远程模型。空响应返回 "" 且 err 为 nil。
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// CredentialSource 每次调用时读取一次凭证
type CredentialSource func() string

// RemoteCallError 包装网络或接口层面的失败
type RemoteCallError struct {
	Provider string
	Err      error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("%s: remote call failed: %v", e.Provider, e.Err)
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

func requireCredential(provider string, src CredentialSource) (string, error) {
	var key string
	if src != nil {
		key = src()
	}
	if key == "" {
		return "", fmt.Errorf("%s: %w", provider, ErrMissingCredential)
	}
	return key, nil
}

// New 根据配置创建对应 provider 的 Generator
func New(cfg *config.Config) (Generator, error) {
	debug := cfg.Generation.DebugRequest

	switch cfg.Model.Provider {
	case ProviderGemini, "":
		c := cfg.Gemini
		return NewGeminiGenerator(GeminiOptions{
			Model:      c.Model,
			BaseURL:    c.BaseURL,
			Credential: c.ResolveAPIKey,
			HTTPClient: newHTTPClient(c.Timeout, debug),
		}), nil
	case ProviderOpenAI:
		c := cfg.OpenAI
		return NewOpenAIGenerator(OpenAIOptions{
			Model:      c.Model,
			BaseURL:    c.BaseURL,
			MaxTokens:  c.MaxTokens,
			Credential: c.ResolveAPIKey,
			HTTPClient: newHTTPClient(c.Timeout, debug),
		}), nil
	case ProviderDoubao:
		return NewDoubaoGenerator(cfg.Doubao, debug), nil
	case ProviderQwen:
		return NewQwenGenerator(cfg.Qwen, debug || cfg.Qwen.DebugRequest), nil
	case ProviderAnthropic:
		c := cfg.Anthropic
		return NewAnthropicGenerator(AnthropicOptions{
			Model:      c.Model,
			BaseURL:    c.BaseURL,
			MaxTokens:  c.MaxTokens,
			Credential: c.ResolveAPIKey,
			HTTPClient: newHTTPClient(c.Timeout, debug),
		}), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Model.Provider)
	}
}

func newHTTPClient(timeout time.Duration, debug bool) *http.Client {
	if !debug {
		return utils.NewHTTPClient(timeout)
	}
	return utils.NewHTTPClient(timeout, withDebug(true))
}
