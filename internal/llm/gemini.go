package llm

import (
	"context"
	"fmt"
	"net/http"

	"prompt-architect-backend/internal/config"

	"google.golang.org/genai"
)

type GeminiOptions struct {
	Model      string
	BaseURL    string
	Credential CredentialSource
	HTTPClient *http.Client
}

type GeminiGenerator struct {
	opts GeminiOptions
}

func NewGeminiGenerator(opts GeminiOptions) *GeminiGenerator {
	if opts.Model == "" {
		opts.Model = config.DefaultGeminiModel
	}
	return &GeminiGenerator{opts: opts}
}

func (g *GeminiGenerator) Name() string {
	return ProviderGemini
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	apiKey, err := requireCredential(ProviderGemini, g.opts.Credential)
	if err != nil {
		return "", err
	}

	contents, genCfg, err := buildGeminiRequest(req)
	if err != nil {
		return "", err
	}

	// 每次调用都用当前凭证新建客户端
	clientCfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.opts.HTTPClient,
	}
	if g.opts.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: g.opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return "", &RemoteCallError{Provider: ProviderGemini, Err: err}
	}

	resp, err := client.Models.GenerateContent(ctx, g.opts.Model, contents, genCfg)
	if err != nil {
		return "", &RemoteCallError{Provider: ProviderGemini, Err: err}
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

func buildGeminiRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for i, img := range req.Images {
		data, err := img.Bytes()
		if err != nil {
			return nil, nil, fmt.Errorf("decode image %d: %w", i, err)
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: img.MIMEType,
				Data:     data,
			},
		})
	}
	parts = append(parts, genai.NewPartFromText(req.Text))

	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(req.Temperature),
	}
	return contents, genCfg, nil
}
