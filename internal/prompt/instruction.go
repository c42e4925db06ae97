package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	"prompt-architect-backend/internal/model"
)

// SystemInstruction 描述全部三个模板，每次请求都原样附带，与模式无关
//
//go:embed system_instruction.txt
var SystemInstruction string

// Resolve 有覆盖值时返回覆盖值，否则返回内置说明
func Resolve(override string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return SystemInstruction
}

const modeInstructionFormat = `
CURRENT MODE: %s
USER INPUT: "%s"

Please analyze the attached image(s) if provided. Use the visual context from the images (lighting, pose, colors) to construct the perfect prompt according to the %s template rules.
Output ONLY the final optimized prompt string. Do not output markdown or explanations unless requested.
`

// ModeInstruction 生成单次请求的文本块。用户文本原样嵌入，不做任何替换。
func ModeInstruction(mode model.Mode, text string) string {
	return fmt.Sprintf(modeInstructionFormat, mode, text, mode)
}
