package storage

import (
	"prompt-architect-backend/internal/model"
)

type Storage interface {
	// 工作区管理
	CreateWorkspace(ws *model.Workspace) error
	GetWorkspace(id string) (*model.Workspace, error)
	UpdateWorkspace(ws *model.Workspace) error
	DeleteWorkspace(id string) error
	ListWorkspaces() ([]*model.Workspace, error)

	// 暂存图片的原始字节，按文件 ID 存取
	PutBlob(fileID string, data []byte) error
	GetBlob(fileID string) ([]byte, error)
	DeleteBlob(fileID string) error

	// 存储管理
	Init() error
	Close() error
	Backup() error
}
