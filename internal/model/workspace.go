package model

import "time"

// SubmissionStatus 是一次提交所处的状态
type SubmissionStatus string

const (
	StatusIdle       SubmissionStatus = "IDLE"
	StatusValidating SubmissionStatus = "VALIDATING"
	StatusSubmitting SubmissionStatus = "SUBMITTING"
	StatusSuccess    SubmissionStatus = "SUCCESS"
	StatusFailed     SubmissionStatus = "FAILED"
)

// 用户可见的固定文案
const (
	MessageValidation     = "Please provide text instructions or upload an image to analyze."
	MessageGenericFailure = "Failed to generate prompt. Please check your API key and try again."
	FallbackResult        = "No prompt generated."
)

// StagedFile 是已选择但尚未提交的图片。原始字节保存在 blob 存储里，按 ID 索引。
type StagedFile struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MIMEType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	PreviewURL string    `json:"preview_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// Workspace 对应一个页面会话的全部状态
type Workspace struct {
	ID        string           `json:"id"`
	Mode      Mode             `json:"mode"`
	InputText string           `json:"input_text"`
	Files     []StagedFile     `json:"files"`
	Status    SubmissionStatus `json:"status"`
	Result    *string          `json:"result"`
	Error     *string          `json:"error"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func NewWorkspace(id string, now time.Time) *Workspace {
	return &Workspace{
		ID:        id,
		Mode:      DefaultMode,
		Files:     make([]StagedFile, 0),
		Status:    StatusIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone 返回深拷贝，存储中的状态不与调用方共享
func (w *Workspace) Clone() *Workspace {
	if w == nil {
		return nil
	}
	c := *w
	c.Files = make([]StagedFile, len(w.Files))
	copy(c.Files, w.Files)
	if w.Result != nil {
		r := *w.Result
		c.Result = &r
	}
	if w.Error != nil {
		e := *w.Error
		c.Error = &e
	}
	return &c
}

func (w *Workspace) MaxImages() int {
	return w.Mode.MaxImages()
}

func (w *Workspace) CanStage() bool {
	return len(w.Files) < w.MaxImages()
}

func (w *Workspace) SetResult(text string) {
	w.Result = &text
	w.Error = nil
}

func (w *Workspace) SetError(msg string) {
	w.Error = &msg
	w.Result = nil
}

func (w *Workspace) ClearOutcome() {
	w.Result = nil
	w.Error = nil
}
