package storage

import (
	"sort"
	"sync"
	"time"

	"prompt-architect-backend/internal/model"
	"prompt-architect-backend/pkg/logger"

	"github.com/patrickmn/go-cache"
)

// MemoryStorage 把工作区放在带过期时间的内存缓存里。
// 工作区过期或删除时，其暂存图片一并释放。
type MemoryStorage struct {
	workspaces *cache.Cache
	blobs      map[string][]byte
	mu         sync.RWMutex
}

// NewMemoryStorage 的 ttl <= 0 表示永不过期
func NewMemoryStorage(ttl, cleanupInterval time.Duration) *MemoryStorage {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	m := &MemoryStorage{
		workspaces: cache.New(ttl, cleanupInterval),
		blobs:      make(map[string][]byte),
	}
	m.workspaces.OnEvicted(m.releaseBlobs)
	return m
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	m.workspaces.Flush()
	m.mu.Lock()
	m.blobs = make(map[string][]byte)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Backup() error {
	return nil
}

func (m *MemoryStorage) releaseBlobs(id string, v interface{}) {
	ws, ok := v.(*model.Workspace)
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range ws.Files {
		delete(m.blobs, f.ID)
	}
	logger.Debugf("workspace %s evicted, released %d staged files", id, len(ws.Files))
}

func (m *MemoryStorage) CreateWorkspace(ws *model.Workspace) error {
	if err := m.workspaces.Add(ws.ID, ws.Clone(), cache.DefaultExpiration); err != nil {
		return ErrWorkspaceExists
	}
	return nil
}

func (m *MemoryStorage) GetWorkspace(id string) (*model.Workspace, error) {
	v, ok := m.workspaces.Get(id)
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	return v.(*model.Workspace).Clone(), nil
}

// UpdateWorkspace 同时刷新过期时间
func (m *MemoryStorage) UpdateWorkspace(ws *model.Workspace) error {
	if err := m.workspaces.Replace(ws.ID, ws.Clone(), cache.DefaultExpiration); err != nil {
		return ErrWorkspaceNotFound
	}
	return nil
}

func (m *MemoryStorage) DeleteWorkspace(id string) error {
	if _, ok := m.workspaces.Get(id); !ok {
		return ErrWorkspaceNotFound
	}
	m.workspaces.Delete(id)
	return nil
}

func (m *MemoryStorage) ListWorkspaces() ([]*model.Workspace, error) {
	items := m.workspaces.Items()

	list := make([]*model.Workspace, 0, len(items))
	for _, item := range items {
		if ws, ok := item.Object.(*model.Workspace); ok {
			list = append(list, ws.Clone())
		}
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list, nil
}

func (m *MemoryStorage) PutBlob(fileID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[fileID] = buf
	return nil
}

func (m *MemoryStorage) GetBlob(fileID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[fileID]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return data, nil
}

func (m *MemoryStorage) DeleteBlob(fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, fileID)
	return nil
}
