package llm

import (
	"context"
	"net/http"

	"prompt-architect-backend/internal/config"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIOptions struct {
	Model      string
	BaseURL    string
	MaxTokens  int
	Credential CredentialSource
	HTTPClient *http.Client
}

// OpenAIGenerator 适用于任何 OpenAI 兼容的 chat completions 接口
type OpenAIGenerator struct {
	opts OpenAIOptions
}

func NewOpenAIGenerator(opts OpenAIOptions) *OpenAIGenerator {
	if opts.Model == "" {
		opts.Model = config.DefaultOpenAIModel
	}
	return &OpenAIGenerator{opts: opts}
}

func (g *OpenAIGenerator) Name() string {
	return ProviderOpenAI
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	apiKey, err := requireCredential(ProviderOpenAI, g.opts.Credential)
	if err != nil {
		return "", err
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if g.opts.BaseURL != "" {
		clientConfig.BaseURL = g.opts.BaseURL
	}
	if g.opts.HTTPClient != nil {
		clientConfig.HTTPClient = g.opts.HTTPClient
	}
	client := openai.NewClientWithConfig(clientConfig)

	resp, err := client.CreateChatCompletion(ctx, g.buildRequest(req))
	if err != nil {
		return "", &RemoteCallError{Provider: ProviderOpenAI, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *OpenAIGenerator) buildRequest(req Request) openai.ChatCompletionRequest {
	parts := make([]openai.ChatMessagePart, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    img.DataURL(),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	parts = append(parts, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeText,
		Text: req.Text,
	})

	return openai.ChatCompletionRequest{
		Model:       g.opts.Model,
		MaxTokens:   g.opts.MaxTokens,
		Temperature: req.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: req.SystemInstruction,
			},
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
	}
}
