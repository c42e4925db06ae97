package service

import (
	"context"

	"prompt-architect-backend/internal/config"
	"prompt-architect-backend/internal/encoder"
	"prompt-architect-backend/internal/llm"
	"prompt-architect-backend/internal/model"
	"prompt-architect-backend/internal/prompt"
)

// RequestBuilder 把暂存文件和用户文本组装成一次生成请求
type RequestBuilder struct {
	systemInstruction string
	temperature       float32
}

func NewRequestBuilder(gen config.GenerationConfig) *RequestBuilder {
	// 默认值由配置层提供，0 是合法取值
	temp := gen.Temperature
	if temp < 0 {
		temp = config.DefaultTemperature
	}
	return &RequestBuilder{
		systemInstruction: prompt.Resolve(gen.SystemInstruction),
		temperature:       temp,
	}
}

// Build 编码所有文件，并把模式说明作为最后一个文本部分，图片顺序与暂存顺序一致
func (b *RequestBuilder) Build(ctx context.Context, text string, sources []encoder.Source, mode model.Mode) (llm.Request, error) {
	parts, err := encoder.EncodeAll(ctx, sources)
	if err != nil {
		return llm.Request{}, err
	}

	return llm.Request{
		Images:            parts,
		Text:              prompt.ModeInstruction(mode, text),
		SystemInstruction: b.systemInstruction,
		Temperature:       b.temperature,
	}, nil
}
