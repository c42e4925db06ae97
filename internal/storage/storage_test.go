package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"prompt-architect-backend/internal/model"
)

func newWorkspace(id string, updated time.Time) *model.Workspace {
	return model.NewWorkspace(id, updated)
}

func backends(t *testing.T) map[string]Storage {
	t.Helper()

	disk := NewDiskStorage(t.TempDir(), 10)
	if err := disk.Init(); err != nil {
		t.Fatalf("disk init: %v", err)
	}

	return map[string]Storage{
		"memory": NewMemoryStorage(time.Hour, 0),
		"disk":   disk,
	}
}

func TestWorkspaceCRUD(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ws := newWorkspace("ws-1", time.Now())
			if err := s.CreateWorkspace(ws); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := s.CreateWorkspace(ws); !errors.Is(err, ErrWorkspaceExists) {
				t.Fatalf("duplicate create: %v", err)
			}

			got, err := s.GetWorkspace("ws-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Mode != model.DefaultMode || got.Status != model.StatusIdle {
				t.Fatalf("unexpected workspace %+v", got)
			}

			got.Mode = model.ModeOutpainting
			got.InputText = "widen to 16:9"
			got.Files = append(got.Files, model.StagedFile{ID: "f-1", Name: "a.png"})
			got.SetResult("prompt")
			if err := s.UpdateWorkspace(got); err != nil {
				t.Fatalf("update: %v", err)
			}

			again, err := s.GetWorkspace("ws-1")
			if err != nil {
				t.Fatalf("get after update: %v", err)
			}
			if again.Mode != model.ModeOutpainting || again.InputText != "widen to 16:9" ||
				len(again.Files) != 1 || again.Result == nil || *again.Result != "prompt" {
				t.Fatalf("update not persisted: %+v", again)
			}

			if err := s.DeleteWorkspace("ws-1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := s.GetWorkspace("ws-1"); !errors.Is(err, ErrWorkspaceNotFound) {
				t.Fatalf("get after delete: %v", err)
			}
			if err := s.DeleteWorkspace("ws-1"); !errors.Is(err, ErrWorkspaceNotFound) {
				t.Fatalf("second delete: %v", err)
			}
			if err := s.UpdateWorkspace(got); !errors.Is(err, ErrWorkspaceNotFound) {
				t.Fatalf("update after delete: %v", err)
			}
		})
	}
}

func TestGetReturnsCopy(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.CreateWorkspace(newWorkspace("ws-1", time.Now())); err != nil {
				t.Fatal(err)
			}
			got, _ := s.GetWorkspace("ws-1")
			got.InputText = "mutated without update"

			again, _ := s.GetWorkspace("ws-1")
			if again.InputText != "" {
				t.Fatal("stored workspace was mutated through a returned pointer")
			}
		})
	}
}

func TestListSortedByUpdate(t *testing.T) {
	base := time.Now()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			offsets := map[string]time.Duration{"old": 0, "mid": time.Minute, "new": 2 * time.Minute}
			for _, id := range []string{"old", "new", "mid"} {
				if err := s.CreateWorkspace(newWorkspace(id, base.Add(offsets[id]))); err != nil {
					t.Fatal(err)
				}
			}

			list, err := s.ListWorkspaces()
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("got %d workspaces", len(list))
			}
			want := []string{"new", "mid", "old"}
			for i, id := range want {
				if list[i].ID != id {
					t.Errorf("list[%d] = %s, want %s", i, list[i].ID, id)
				}
			}
		})
	}
}

func TestBlobs(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.PutBlob("f-1", []byte("png bytes")); err != nil {
				t.Fatalf("put: %v", err)
			}
			data, err := s.GetBlob("f-1")
			if err != nil || string(data) != "png bytes" {
				t.Fatalf("get: %q, %v", data, err)
			}
			if err := s.DeleteBlob("f-1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := s.GetBlob("f-1"); !errors.Is(err, ErrBlobNotFound) {
				t.Fatalf("get after delete: %v", err)
			}
			// 删除不存在的 blob 不是错误
			if err := s.DeleteBlob("f-1"); err != nil {
				t.Fatalf("second delete: %v", err)
			}
		})
	}
}

func TestDeleteWorkspaceReleasesBlobs(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ws := newWorkspace("ws-1", time.Now())
			ws.Files = []model.StagedFile{{ID: "f-1"}, {ID: "f-2"}}
			if err := s.CreateWorkspace(ws); err != nil {
				t.Fatal(err)
			}
			_ = s.PutBlob("f-1", []byte("a"))
			_ = s.PutBlob("f-2", []byte("b"))

			if err := s.DeleteWorkspace("ws-1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			for _, id := range []string{"f-1", "f-2"} {
				if _, err := s.GetBlob(id); !errors.Is(err, ErrBlobNotFound) {
					t.Errorf("blob %s still present: %v", id, err)
				}
			}
		})
	}
}

func TestMemoryExpiryReleasesBlobs(t *testing.T) {
	s := NewMemoryStorage(20*time.Millisecond, 0)

	ws := newWorkspace("ws-1", time.Now())
	ws.Files = []model.StagedFile{{ID: "f-1"}}
	if err := s.CreateWorkspace(ws); err != nil {
		t.Fatal(err)
	}
	_ = s.PutBlob("f-1", []byte("a"))

	time.Sleep(40 * time.Millisecond)
	if _, err := s.GetWorkspace("ws-1"); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Fatalf("expired workspace still readable: %v", err)
	}

	s.workspaces.DeleteExpired()
	if _, err := s.GetBlob("f-1"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("blob of expired workspace not released: %v", err)
	}
}

func TestDiskReload(t *testing.T) {
	dir := t.TempDir()

	first := NewDiskStorage(dir, 10)
	if err := first.Init(); err != nil {
		t.Fatal(err)
	}
	ws := newWorkspace("ws-1", time.Now())
	ws.InputText = "persist me"
	if err := first.CreateWorkspace(ws); err != nil {
		t.Fatal(err)
	}

	second := NewDiskStorage(dir, 10)
	if err := second.Init(); err != nil {
		t.Fatal(err)
	}
	got, err := second.GetWorkspace("ws-1")
	if err != nil || got.InputText != "persist me" {
		t.Fatalf("reloaded workspace = %+v, %v", got, err)
	}
}

func TestDiskRejectsTraversal(t *testing.T) {
	s := NewDiskStorage(t.TempDir(), 10)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetWorkspace("../workspaces"); !errors.Is(err, ErrWorkspaceNotFound) {
		t.Fatalf("traversal id: %v", err)
	}
	if err := s.PutBlob("../evil", []byte("x")); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("traversal blob id: %v", err)
	}
}

func TestDiskBackup(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStorage(dir, 10)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateWorkspace(newWorkspace("ws-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	if err := s.Backup(); err != nil {
		t.Fatalf("backup: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "backup", "*", "workspaces", "ws-1.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("backup copy not found: %v %v", matches, err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(filepath.Dir(matches[0])), "workspaces.json")); err != nil {
		t.Fatalf("index not backed up: %v", err)
	}
}

func TestDiskCacheEviction(t *testing.T) {
	s := NewDiskStorage(t.TempDir(), 2)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		if err := s.CreateWorkspace(newWorkspace(id, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	if len(s.cache) != 2 {
		t.Fatalf("cache holds %d entries, want 2", len(s.cache))
	}
	if _, ok := s.cache["a"]; ok {
		t.Fatal("oldest entry should have been evicted")
	}
	// 被淘汰的工作区仍可从磁盘读取
	if _, err := s.GetWorkspace("a"); err != nil {
		t.Fatalf("evicted workspace not readable: %v", err)
	}
}
