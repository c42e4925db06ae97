package llm

import (
	"context"

	"prompt-architect-backend/internal/config"
	"prompt-architect-backend/internal/utils"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModelFactory 用调用时取得的凭证创建 eino ChatModel
type ChatModelFactory func(ctx context.Context, apiKey string) (einoModel.ChatModel, error)

// EinoGenerator 通过 eino 的 ChatModel 抽象调用豆包、通义等模型
type EinoGenerator struct {
	provider   string
	credential CredentialSource
	newModel   ChatModelFactory
}

func NewEinoGenerator(provider string, credential CredentialSource, factory ChatModelFactory) *EinoGenerator {
	return &EinoGenerator{
		provider:   provider,
		credential: credential,
		newModel:   factory,
	}
}

func (g *EinoGenerator) Name() string {
	return g.provider
}

func (g *EinoGenerator) Generate(ctx context.Context, req Request) (string, error) {
	apiKey, err := requireCredential(g.provider, g.credential)
	if err != nil {
		return "", err
	}

	chatModel, err := g.newModel(ctx, apiKey)
	if err != nil {
		return "", &RemoteCallError{Provider: g.provider, Err: err}
	}

	out, err := chatModel.Generate(ctx, buildEinoMessages(req), einoModel.WithTemperature(req.Temperature))
	if err != nil {
		return "", &RemoteCallError{Provider: g.provider, Err: err}
	}
	if out == nil {
		return "", nil
	}
	return out.Content, nil
}

func buildEinoMessages(req Request) []*schema.Message {
	parts := make([]schema.ChatMessagePart, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{
				URL:      img.DataURL(),
				MIMEType: img.MIMEType,
			},
		})
	}
	parts = append(parts, schema.ChatMessagePart{
		Type: schema.ChatMessagePartTypeText,
		Text: req.Text,
	})

	return []*schema.Message{
		schema.SystemMessage(req.SystemInstruction),
		{
			Role:         schema.User,
			MultiContent: parts,
		},
	}
}

func NewDoubaoGenerator(cfg config.DoubaoConfig, debug bool) *EinoGenerator {
	return NewEinoGenerator(ProviderDoubao, cfg.ResolveAPIKey, func(ctx context.Context, apiKey string) (einoModel.ChatModel, error) {
		// ark 默认失败重试两次，这里关闭
		retryTimes := 0
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     apiKey,
			Model:      cfg.Model,
			RetryTimes: &retryTimes,
			HTTPClient: utils.NewHTTPClient(cfg.Timeout, withDebug(debug)),
			CustomHeader: map[string]string{
				"X-Ark-Thinking-Mode": "disable",
			},
		})
	})
}

func NewQwenGenerator(cfg config.QwenConfig, debug bool) *EinoGenerator {
	return NewEinoGenerator(ProviderQwen, cfg.ResolveAPIKey, func(ctx context.Context, apiKey string) (einoModel.ChatModel, error) {
		httpClient := utils.NewHTTPClient(cfg.Timeout, withDebug(debug))

		maxTokens := cfg.MaxTokens
		topP := cfg.TopP
		return qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     apiKey,
			Model:      cfg.Model,
			MaxTokens:  &maxTokens,
			TopP:       &topP,
			Timeout:    cfg.Timeout,
			HTTPClient: httpClient,
		})
	})
}
