package service

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"prompt-architect-backend/internal/config"
	"prompt-architect-backend/internal/encoder"
	"prompt-architect-backend/internal/llm"
	"prompt-architect-backend/internal/model"
	"prompt-architect-backend/internal/storage"
	"prompt-architect-backend/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrWorkspaceNotFound   = errors.New("workspace not found")
	ErrFileIndexOutOfRange = errors.New("file index out of range")
	ErrFileNotFound        = errors.New("staged file not found")
	ErrFileTooLarge        = errors.New("file exceeds the upload size limit")
	ErrEmptyFile           = errors.New("file is empty")
	ErrSubmissionInFlight  = errors.New("a submission is already in progress")
)

// Upload 是一次选择中的单个文件
type Upload struct {
	Name     string
	MIMEType string
	Data     []byte
}

type WorkspaceService struct {
	storage   storage.Storage
	generator llm.Generator
	builder   *RequestBuilder
	maxBytes  int64

	locks sync.Map // 工作区 ID -> *sync.Mutex
	now   func() time.Time
}

func NewWorkspaceService(store storage.Storage, gen llm.Generator, cfg *config.Config) *WorkspaceService {
	return &WorkspaceService{
		storage:   store,
		generator: gen,
		builder:   NewRequestBuilder(cfg.Generation),
		maxBytes:  cfg.Upload.MaxFileBytes,
		now:       time.Now,
	}
}

func (s *WorkspaceService) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *WorkspaceService) load(id string) (*model.Workspace, error) {
	ws, err := s.storage.GetWorkspace(id)
	if err != nil {
		if errors.Is(err, storage.ErrWorkspaceNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return ws, nil
}

func (s *WorkspaceService) save(ws *model.Workspace) error {
	ws.UpdatedAt = s.now()
	if err := s.storage.UpdateWorkspace(ws); err != nil {
		if errors.Is(err, storage.ErrWorkspaceNotFound) {
			return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, ws.ID)
		}
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	return nil
}

// mutate 在工作区锁内读取、修改并保存
func (s *WorkspaceService) mutate(id string, fn func(ws *model.Workspace) error) (*model.Workspace, error) {
	unlock := s.lock(id)
	defer unlock()

	ws, err := s.load(id)
	if err != nil {
		return nil, err
	}
	if err := fn(ws); err != nil {
		return nil, err
	}
	if err := s.save(ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (s *WorkspaceService) CreateWorkspace() (*model.Workspace, error) {
	ws := model.NewWorkspace(uuid.New().String(), s.now())
	if err := s.storage.CreateWorkspace(ws); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	logger.Infof("Created workspace %s", ws.ID)
	return ws, nil
}

func (s *WorkspaceService) GetWorkspace(id string) (*model.Workspace, error) {
	return s.load(id)
}

func (s *WorkspaceService) ListWorkspaces() ([]*model.Workspace, error) {
	list, err := s.storage.ListWorkspaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	return list, nil
}

// DeleteWorkspace 删除工作区及其全部暂存图片
func (s *WorkspaceService) DeleteWorkspace(id string) error {
	unlock := s.lock(id)
	defer unlock()

	if err := s.storage.DeleteWorkspace(id); err != nil {
		if errors.Is(err, storage.ErrWorkspaceNotFound) {
			return fmt.Errorf("%w: %s", ErrWorkspaceNotFound, id)
		}
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	// 锁条目保留，可能还有 goroutine 在等待同一把锁
	return nil
}

func (s *WorkspaceService) ClearAll() error {
	list, err := s.storage.ListWorkspaces()
	if err != nil {
		return fmt.Errorf("failed to list workspaces: %w", err)
	}

	for _, ws := range list {
		if err := s.DeleteWorkspace(ws.ID); err != nil && !errors.Is(err, ErrWorkspaceNotFound) {
			logger.Errorf("Failed to delete workspace %s: %v", ws.ID, err)
		}
	}
	return nil
}

// SetMode 只切换模式，已暂存的文件保持不变，即使超过新模式的上限
func (s *WorkspaceService) SetMode(id string, mode model.Mode) (*model.Workspace, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownMode, mode)
	}
	return s.mutate(id, func(ws *model.Workspace) error {
		ws.Mode = mode
		return nil
	})
}

func (s *WorkspaceService) SetInput(id, text string) (*model.Workspace, error) {
	return s.mutate(id, func(ws *model.Workspace) error {
		ws.InputText = text
		return nil
	})
}

func (s *WorkspaceService) validateUpload(u *Upload) error {
	if len(u.Data) == 0 {
		return fmt.Errorf("%q: %w", u.Name, ErrEmptyFile)
	}
	if s.maxBytes > 0 && int64(len(u.Data)) > s.maxBytes {
		return fmt.Errorf("%q: %w", u.Name, ErrFileTooLarge)
	}
	u.MIMEType = encoder.ResolveMIMEType(u.MIMEType, u.Data)
	if !encoder.IsImage(u.MIMEType) {
		return fmt.Errorf("%q (%s): %w", u.Name, u.MIMEType, encoder.ErrNotImage)
	}
	return nil
}

// StageFiles 把一次选择追加到暂存文件，合并后按当前模式的上限截断，
// 超出的文件在写入存储前就被丢弃
func (s *WorkspaceService) StageFiles(id string, uploads []Upload) (*model.Workspace, error) {
	for i := range uploads {
		if err := s.validateUpload(&uploads[i]); err != nil {
			return nil, err
		}
	}

	var stored []string
	ws, err := s.mutate(id, func(ws *model.Workspace) error {
		free := ws.MaxImages() - len(ws.Files)
		if free < 0 {
			free = 0
		}
		if len(uploads) > free {
			logger.Infof("Workspace %s: %d of %d selected files exceed the %s limit and were dropped",
				id, len(uploads)-free, len(uploads), ws.Mode)
			uploads = uploads[:free]
		}

		now := s.now()
		for _, u := range uploads {
			fileID := uuid.New().String()
			if err := s.storage.PutBlob(fileID, u.Data); err != nil {
				return fmt.Errorf("failed to store %q: %w", u.Name, err)
			}
			stored = append(stored, fileID)
			ws.Files = append(ws.Files, model.StagedFile{
				ID:         fileID,
				Name:       u.Name,
				MIMEType:   u.MIMEType,
				Size:       int64(len(u.Data)),
				PreviewURL: previewURL(id, fileID),
				CreatedAt:  now,
			})
		}
		return nil
	})
	if err != nil {
		// 工作区没有保存成功，已写入的文件一并释放
		for _, fileID := range stored {
			s.releaseBlob(fileID)
		}
		return nil, err
	}
	return ws, nil
}

func previewURL(workspaceID, fileID string) string {
	return fmt.Sprintf("/api/workspaces/%s/files/%s/preview", workspaceID, fileID)
}

// RemoveFile 删除指定位置的文件，其余文件保持原顺序
func (s *WorkspaceService) RemoveFile(id string, index int) (*model.Workspace, error) {
	return s.mutate(id, func(ws *model.Workspace) error {
		if index < 0 || index >= len(ws.Files) {
			return fmt.Errorf("%w: %d (staged %d)", ErrFileIndexOutOfRange, index, len(ws.Files))
		}
		removed := ws.Files[index]
		ws.Files = append(ws.Files[:index:index], ws.Files[index+1:]...)
		s.releaseBlob(removed.ID)
		return nil
	})
}

func (s *WorkspaceService) ClearFiles(id string) (*model.Workspace, error) {
	return s.mutate(id, func(ws *model.Workspace) error {
		for _, f := range ws.Files {
			s.releaseBlob(f.ID)
		}
		ws.Files = make([]model.StagedFile, 0)
		return nil
	})
}

func (s *WorkspaceService) releaseBlob(fileID string) {
	if err := s.storage.DeleteBlob(fileID); err != nil {
		logger.Warnf("Failed to release staged file %s: %v", fileID, err)
	}
}

// OpenPreview 返回暂存图片的原始字节和媒体类型
func (s *WorkspaceService) OpenPreview(id, fileID string) ([]byte, string, error) {
	ws, err := s.load(id)
	if err != nil {
		return nil, "", err
	}
	for _, f := range ws.Files {
		if f.ID != fileID {
			continue
		}
		data, err := s.storage.GetBlob(fileID)
		if err != nil {
			if errors.Is(err, storage.ErrBlobNotFound) {
				return nil, "", fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
			}
			return nil, "", fmt.Errorf("failed to read staged file: %w", err)
		}
		return data, f.MIMEType, nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
}

// missingSource 表示取快照时已读不到的暂存文件，编码时返回原错误
type missingSource struct {
	file model.StagedFile
	err  error
}

func (m missingSource) Name() string     { return m.file.Name }
func (m missingSource) MIMEType() string { return m.file.MIMEType }

func (m missingSource) Open() (io.ReadCloser, error) {
	return nil, m.err
}

// snapshot 把暂存文件的字节读入内存，调用方须持有工作区锁
func (s *WorkspaceService) snapshot(files []model.StagedFile) []encoder.Source {
	out := make([]encoder.Source, len(files))
	for i, f := range files {
		data, err := s.storage.GetBlob(f.ID)
		if err != nil {
			out[i] = missingSource{file: f, err: err}
			continue
		}
		out[i] = encoder.BytesSource{FileName: f.Name, Type: f.MIMEType, Data: data}
	}
	return out
}
