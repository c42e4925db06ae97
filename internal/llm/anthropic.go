package llm

import (
	"context"
	"net/http"
	"strings"

	"prompt-architect-backend/internal/config"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicOptions struct {
	Model      string
	BaseURL    string
	MaxTokens  int
	Credential CredentialSource
	HTTPClient *http.Client
}

type AnthropicGenerator struct {
	opts AnthropicOptions
}

func NewAnthropicGenerator(opts AnthropicOptions) *AnthropicGenerator {
	if opts.Model == "" {
		opts.Model = config.DefaultAnthropicModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return &AnthropicGenerator{opts: opts}
}

func (g *AnthropicGenerator) Name() string {
	return ProviderAnthropic
}

func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (string, error) {
	apiKey, err := requireCredential(ProviderAnthropic, g.opts.Credential)
	if err != nil {
		return "", err
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if g.opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(g.opts.BaseURL))
	}
	if g.opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(g.opts.HTTPClient))
	}
	client := anthropic.NewClient(clientOpts...)

	msg, err := client.Messages.New(ctx, g.buildParams(req))
	if err != nil {
		return "", &RemoteCallError{Provider: ProviderAnthropic, Err: err}
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

func (g *AnthropicGenerator) buildParams(req Request) anthropic.MessageNewParams {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Images)+1)
	for _, img := range req.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MIMEType, img.Data))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Text))

	return anthropic.MessageNewParams{
		Model:       anthropic.Model(g.opts.Model),
		MaxTokens:   int64(g.opts.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
		System: []anthropic.TextBlockParam{
			{Text: req.SystemInstruction},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	}
}
