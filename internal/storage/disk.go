package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"prompt-architect-backend/internal/model"
	"prompt-architect-backend/pkg/logger"
)

// DiskStorage 把工作区保存为 JSON 文件，暂存图片保存在 blobs 目录下
type DiskStorage struct {
	dataDir   string
	mu        sync.RWMutex
	cache     map[string]*model.Workspace
	cacheSize int
}

type WorkspaceIndex struct {
	ID        string                 `json:"id"`
	Mode      model.Mode             `json:"mode"`
	Status    model.SubmissionStatus `json:"status"`
	FileCount int                    `json:"file_count"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func NewDiskStorage(dataDir string, cacheSize int) *DiskStorage {
	if cacheSize <= 0 {
		cacheSize = 100
	}
	return &DiskStorage{
		dataDir:   dataDir,
		cache:     make(map[string]*model.Workspace),
		cacheSize: cacheSize,
	}
}

func (d *DiskStorage) Init() error {
	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	if err := d.loadWorkspaces(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Info("Disk storage initialized successfully")
	return nil
}

func (d *DiskStorage) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string]*model.Workspace)
	return nil
}

func (d *DiskStorage) workspacesDir() string { return filepath.Join(d.dataDir, "workspaces") }
func (d *DiskStorage) blobsDir() string      { return filepath.Join(d.dataDir, "blobs") }
func (d *DiskStorage) indexPath() string     { return filepath.Join(d.dataDir, "workspaces.json") }

func (d *DiskStorage) workspacePath(id string) string {
	return filepath.Join(d.workspacesDir(), id+".json")
}

func (d *DiskStorage) blobPath(id string) string {
	return filepath.Join(d.blobsDir(), id)
}

// validID 拒绝可能跳出数据目录的 ID
func validID(id string) bool {
	return id != "" && id != "." && id != ".." &&
		!strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}

func (d *DiskStorage) createDirectories() error {
	dirs := []string{
		d.dataDir,
		d.workspacesDir(),
		d.blobsDir(),
		filepath.Join(d.dataDir, "backup"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

func (d *DiskStorage) loadWorkspaces() error {
	if _, err := os.Stat(d.indexPath()); os.IsNotExist(err) {
		return d.saveIndex([]*WorkspaceIndex{})
	}

	data, err := os.ReadFile(d.indexPath())
	if err != nil {
		return err
	}

	var indexes []*WorkspaceIndex
	if err := json.Unmarshal(data, &indexes); err != nil {
		return err
	}

	for _, index := range indexes {
		if len(d.cache) >= d.cacheSize {
			break
		}

		ws, err := d.loadWorkspaceFromFile(index.ID)
		if err != nil {
			logger.Errorf("Failed to load workspace %s: %v", index.ID, err)
			continue
		}

		d.cache[index.ID] = ws
	}

	return nil
}

func (d *DiskStorage) loadWorkspaceFromFile(id string) (*model.Workspace, error) {
	data, err := os.ReadFile(d.workspacePath(id))
	if err != nil {
		return nil, err
	}

	var ws model.Workspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, err
	}
	if ws.Files == nil {
		ws.Files = make([]model.StagedFile, 0)
	}
	return &ws, nil
}

// writeAtomic 先写临时文件再重命名
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

func (d *DiskStorage) saveIndex(indexes []*WorkspaceIndex) error {
	data, err := json.MarshalIndent(indexes, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(d.indexPath(), data)
}

func (d *DiskStorage) saveWorkspaceToFile(ws *model.Workspace) error {
	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(d.workspacePath(ws.ID), data)
}

func (d *DiskStorage) CreateWorkspace(ws *model.Workspace) error {
	if !validID(ws.ID) {
		return ErrInvalidData
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(d.workspacePath(ws.ID)); err == nil {
		return ErrWorkspaceExists
	}

	if err := d.saveWorkspaceToFile(ws); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := d.updateIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache[ws.ID] = ws.Clone()
	d.evictCache()

	return nil
}

func (d *DiskStorage) GetWorkspace(id string) (*model.Workspace, error) {
	if !validID(id) {
		return nil, ErrWorkspaceNotFound
	}

	d.mu.RLock()
	if ws, exists := d.cache[id]; exists {
		d.mu.RUnlock()
		return ws.Clone(), nil
	}
	d.mu.RUnlock()

	ws, err := d.loadWorkspaceFromFile(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.mu.Lock()
	d.cache[id] = ws
	d.evictCache()
	d.mu.Unlock()

	return ws.Clone(), nil
}

func (d *DiskStorage) UpdateWorkspace(ws *model.Workspace) error {
	if !validID(ws.ID) {
		return ErrWorkspaceNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(d.workspacePath(ws.ID)); err != nil {
		if os.IsNotExist(err) {
			return ErrWorkspaceNotFound
		}
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := d.saveWorkspaceToFile(ws); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := d.updateIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache[ws.ID] = ws.Clone()
	d.evictCache()

	return nil
}

func (d *DiskStorage) DeleteWorkspace(id string) error {
	if !validID(id) {
		return ErrWorkspaceNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	path := d.workspacePath(id)
	ws, err := d.loadWorkspaceFromFile(id)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrWorkspaceNotFound
		}
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	for _, f := range ws.Files {
		if err := os.Remove(d.blobPath(f.ID)); err != nil && !os.IsNotExist(err) {
			logger.Warnf("Failed to remove blob %s of workspace %s: %v", f.ID, id, err)
		}
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	delete(d.cache, id)

	return d.updateIndex()
}

func (d *DiskStorage) ListWorkspaces() ([]*model.Workspace, error) {
	d.mu.RLock()
	data, err := os.ReadFile(d.indexPath())
	d.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	var indexes []*WorkspaceIndex
	if err := json.Unmarshal(data, &indexes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	list := make([]*model.Workspace, 0, len(indexes))
	for _, index := range indexes {
		ws, err := d.GetWorkspace(index.ID)
		if err != nil {
			logger.Warnf("Workspace %s listed in index but not loadable: %v", index.ID, err)
			continue
		}
		list = append(list, ws)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})

	return list, nil
}

func (d *DiskStorage) PutBlob(fileID string, data []byte) error {
	if !validID(fileID) {
		return ErrInvalidData
	}
	if err := writeAtomic(d.blobPath(fileID), data); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStorage) GetBlob(fileID string) ([]byte, error) {
	if !validID(fileID) {
		return nil, ErrBlobNotFound
	}
	data, err := os.ReadFile(d.blobPath(fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return data, nil
}

func (d *DiskStorage) DeleteBlob(fileID string) error {
	if !validID(fileID) {
		return nil
	}
	if err := os.Remove(d.blobPath(fileID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

// updateIndex 重建 workspaces.json，调用方需持有写锁
func (d *DiskStorage) updateIndex() error {
	files, err := os.ReadDir(d.workspacesDir())
	if err != nil {
		return err
	}

	var indexes []*WorkspaceIndex
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}

		id := strings.TrimSuffix(file.Name(), ".json")
		ws, err := d.loadWorkspaceFromFile(id)
		if err != nil {
			logger.Errorf("Failed to load workspace %s for index update: %v", id, err)
			continue
		}

		indexes = append(indexes, &WorkspaceIndex{
			ID:        ws.ID,
			Mode:      ws.Mode,
			Status:    ws.Status,
			FileCount: len(ws.Files),
			CreatedAt: ws.CreatedAt,
			UpdatedAt: ws.UpdatedAt,
		})
	}

	if indexes == nil {
		indexes = []*WorkspaceIndex{}
	}
	return d.saveIndex(indexes)
}

// evictCache 淘汰最久未更新的工作区，调用方需持有写锁
func (d *DiskStorage) evictCache() {
	if len(d.cache) <= d.cacheSize {
		return
	}

	type cacheEntry struct {
		id        string
		updatedAt time.Time
	}

	entries := make([]cacheEntry, 0, len(d.cache))
	for id, ws := range d.cache {
		entries = append(entries, cacheEntry{id: id, updatedAt: ws.UpdatedAt})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].updatedAt.Before(entries[j].updatedAt)
	})

	for i := 0; i < len(entries)-d.cacheSize; i++ {
		delete(d.cache, entries[i].id)
	}
}

// Backup 把索引和工作区文件复制到 backup/<时间戳>/ 下
func (d *DiskStorage) Backup() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	backupDir := filepath.Join(d.dataDir, "backup", time.Now().Format("20060102-150405.000"))
	if err := os.MkdirAll(filepath.Join(backupDir, "workspaces"), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	if err := copyFile(d.indexPath(), filepath.Join(backupDir, "workspaces.json")); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	files, err := os.ReadDir(d.workspacesDir())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	for _, file := range files {
		if filepath.Ext(file.Name()) != ".json" {
			continue
		}
		src := filepath.Join(d.workspacesDir(), file.Name())
		dst := filepath.Join(backupDir, "workspaces", file.Name())
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	logger.Infof("Backup created at %s", backupDir)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
