package service

import (
	"context"
	"time"

	"prompt-architect-backend/pkg/logger"
)

// RunCleanup 定期删除超过 ttl 未更新的工作区，直到 ctx 结束。
// 内存存储自带过期，这里主要服务于磁盘存储。
func (s *WorkspaceService) RunCleanup(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired(ttl)
		case <-ctx.Done():
			return
		}
	}
}

func (s *WorkspaceService) cleanupExpired(ttl time.Duration) int {
	list, err := s.storage.ListWorkspaces()
	if err != nil {
		logger.Errorf("Failed to list workspaces for cleanup: %v", err)
		return 0
	}

	cutoff := s.now().Add(-ttl)
	removed := 0
	for _, ws := range list {
		if !ws.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.DeleteWorkspace(ws.ID); err != nil {
			logger.Errorf("Failed to delete expired workspace %s: %v", ws.ID, err)
			continue
		}
		logger.Infof("Cleaned up expired workspace: %s", ws.ID)
		removed++
	}
	return removed
}
