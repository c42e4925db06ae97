package model

import "time"

type WorkspaceResponse struct {
	*Workspace
	MaxImages int  `json:"max_images"`
	CanStage  bool `json:"can_stage"`
	CanSubmit bool `json:"can_submit"`
}

func NewWorkspaceResponse(w *Workspace) WorkspaceResponse {
	return WorkspaceResponse{
		Workspace: w,
		MaxImages: w.MaxImages(),
		CanStage:  w.CanStage(),
		CanSubmit: w.Status != StatusSubmitting,
	}
}

type WorkspaceSummary struct {
	ID        string           `json:"id"`
	Mode      Mode             `json:"mode"`
	Status    SubmissionStatus `json:"status"`
	FileCount int              `json:"file_count"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func NewWorkspaceSummary(w *Workspace) WorkspaceSummary {
	return WorkspaceSummary{
		ID:        w.ID,
		Mode:      w.Mode,
		Status:    w.Status,
		FileCount: len(w.Files),
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
}

// StatusEvent 是提交过程中推送给前端的状态事件
type StatusEvent struct {
	WorkspaceID string           `json:"workspace_id"`
	Status      SubmissionStatus `json:"status"`
	Result      *string          `json:"result,omitempty"`
	Error       *string          `json:"error,omitempty"`
	Timestamp   int64            `json:"timestamp"`
}
