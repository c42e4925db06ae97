package model

import (
	"errors"
	"fmt"
	"strings"
)

// Mode 是三种固定的生成模式之一，远程模型根据它选择模板
type Mode string

const (
	ModeComposite   Mode = "COMPOSITE"
	ModeInpainting  Mode = "INPAINTING"
	ModeOutpainting Mode = "OUTPAINTING"

	DefaultMode = ModeComposite
)

var ErrUnknownMode = errors.New("unknown generation mode")

type ModeInfo struct {
	ID          Mode   `json:"id"`
	Label       string `json:"label"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
	MaxImages   int    `json:"max_images"`
}

var modeInfos = map[Mode]ModeInfo{
	ModeComposite: {
		ID:          ModeComposite,
		Label:       "Composite",
		Icon:        "layers",
		Description: "Merge Object + Subject",
		MaxImages:   2,
	},
	ModeInpainting: {
		ID:          ModeInpainting,
		Label:       "Inpainting",
		Icon:        "shirt",
		Description: "Change Cloth/Attribute",
		MaxImages:   1,
	},
	ModeOutpainting: {
		ID:          ModeOutpainting,
		Label:       "Outpainting",
		Icon:        "maximize",
		Description: "Expand/Ratio Change",
		MaxImages:   1,
	},
}

// Modes 按界面显示顺序返回全部模式
func Modes() []ModeInfo {
	return []ModeInfo{
		modeInfos[ModeComposite],
		modeInfos[ModeInpainting],
		modeInfos[ModeOutpainting],
	}
}

// Info 对未定义的模式会 panic
func (m Mode) Info() ModeInfo {
	info, ok := modeInfos[m]
	if !ok {
		panic(fmt.Sprintf("model: invalid mode %q", string(m)))
	}
	return info
}

func (m Mode) MaxImages() int {
	return m.Info().MaxImages
}

func (m Mode) Valid() bool {
	_, ok := modeInfos[m]
	return ok
}

func (m Mode) String() string {
	return string(m)
}

// ParseMode 把外部输入转换为 Mode，大小写不敏感
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}
