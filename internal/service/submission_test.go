package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"prompt-architect-backend/internal/encoder"
	"prompt-architect-backend/internal/llm"
	"prompt-architect-backend/internal/model"
	"prompt-architect-backend/internal/prompt"
	"prompt-architect-backend/internal/storage"
)

type eventLog struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (l *eventLog) observe(ev model.StatusEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) statuses() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, ev := range l.events {
		out[i] = string(ev.Status)
	}
	return out
}

func TestSubmitValidationFailure(t *testing.T) {
	gen := &fakeGenerator{text: "unused"}
	s, _ := newTestService(t, gen)
	ws := mustCreate(t, s)
	log := &eventLog{}

	got, err := s.Submit(context.Background(), ws.ID, log.observe)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Status != model.StatusFailed || got.Error == nil || *got.Error != model.MessageValidation {
		t.Fatalf("unexpected state %+v", got)
	}
	if gen.callCount() != 0 {
		t.Fatal("validation failure must not reach the generator")
	}
	if want := []string{"VALIDATING", "FAILED"}; !equalStrings(log.statuses(), want) {
		t.Fatalf("events %v, want %v", log.statuses(), want)
	}
}

func TestSubmitCompositeWithImage(t *testing.T) {
	gen := &fakeGenerator{text: "A giant bottle towering over the city"}
	s, _ := newTestService(t, gen)
	ws := mustCreate(t, s)
	if _, err := s.StageFiles(ws.ID, []Upload{png("bottle.png")}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetInput(ws.ID, "Make the bottle huge"); err != nil {
		t.Fatal(err)
	}
	log := &eventLog{}

	got, err := s.Submit(context.Background(), ws.ID, log.observe)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Status != model.StatusSuccess || got.Result == nil || *got.Result != gen.text {
		t.Fatalf("unexpected state %+v", got)
	}
	if got.Error != nil {
		t.Fatalf("error should be cleared on success: %s", *got.Error)
	}
	if want := []string{"VALIDATING", "SUBMITTING", "SUCCESS"}; !equalStrings(log.statuses(), want) {
		t.Fatalf("events %v, want %v", log.statuses(), want)
	}

	req := gen.calls[0]
	if len(req.Images) != 1 || req.Images[0].MIMEType != "image/png" {
		t.Fatalf("images = %+v", req.Images)
	}
	raw, err := req.Images[0].Bytes()
	if err != nil || string(raw) != string(pngBytes) {
		t.Fatalf("image payload mismatch: %v", err)
	}
	if !strings.Contains(req.Text, "CURRENT MODE: COMPOSITE") || !strings.Contains(req.Text, `USER INPUT: "Make the bottle huge"`) {
		t.Fatalf("text part = %q", req.Text)
	}
	if req.SystemInstruction != prompt.SystemInstruction || req.Temperature != 0.4 {
		t.Fatalf("system/temperature not applied: %.2f", req.Temperature)
	}
}

func TestSubmitTextOnly(t *testing.T) {
	gen := &fakeGenerator{text: "prompt"}
	s, _ := newTestService(t, gen)
	ws := mustCreate(t, s)
	_, _ = s.SetMode(ws.ID, model.ModeOutpainting)
	_, _ = s.SetInput(ws.ID, "widen to 16:9")

	got, err := s.Submit(context.Background(), ws.ID, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Status != model.StatusSuccess {
		t.Fatalf("status = %s", got.Status)
	}
	if len(gen.calls[0].Images) != 0 || !strings.Contains(gen.calls[0].Text, "OUTPAINTING") {
		t.Fatalf("unexpected request %+v", gen.calls[0])
	}
}

func TestSubmitEmptyResultFallsBack(t *testing.T) {
	gen := &fakeGenerator{text: ""}
	s, _ := newTestService(t, gen)
	ws := mustCreate(t, s)
	_, _ = s.SetInput(ws.ID, "anything")

	got, err := s.Submit(context.Background(), ws.ID, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Status != model.StatusSuccess || got.Result == nil || *got.Result != model.FallbackResult {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestSubmitFailuresShowGenericMessage(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		setup func(t *testing.T, s *WorkspaceService, id string)
		kind  ErrorKind
	}{
		{
			name: "remote failure",
			err:  &llm.RemoteCallError{Provider: "fake", Err: errors.New("503 upstream")},
			kind: KindRemote,
		},
		{
			name: "missing credential",
			err:  fmt.Errorf("fake: %w", llm.ErrMissingCredential),
			kind: KindCredential,
		},
		{
			name: "unreadable staged file",
			setup: func(t *testing.T, s *WorkspaceService, id string) {
				ws, err := s.StageFiles(id, []Upload{png("a")})
				if err != nil {
					t.Fatal(err)
				}
				_ = s.storage.DeleteBlob(ws.Files[0].ID)
			},
			kind: KindEncoding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{text: "never shown", err: tt.err}
			s, _ := newTestService(t, gen)
			ws := mustCreate(t, s)
			_, _ = s.SetInput(ws.ID, "text")
			if tt.setup != nil {
				tt.setup(t, s, ws.ID)
			}

			got, err := s.Submit(context.Background(), ws.ID, nil)
			if err != nil {
				t.Fatalf("Submit: %v", err)
			}
			if got.Status != model.StatusFailed || got.Error == nil || *got.Error != model.MessageGenericFailure {
				t.Fatalf("unexpected state %+v", got)
			}
			if got.Result != nil {
				t.Fatal("result must be cleared on failure")
			}
			if tt.kind == KindEncoding && gen.callCount() != 0 {
				t.Fatal("encoding failure must not reach the generator")
			}
		})
	}
}

// gatedStore 在第一次读取 blob 时暂停，直到 proceed 关闭
type gatedStore struct {
	storage.Storage
	once    sync.Once
	reading chan struct{}
	proceed chan struct{}
}

func (g *gatedStore) GetBlob(fileID string) ([]byte, error) {
	g.once.Do(func() {
		close(g.reading)
		<-g.proceed
	})
	return g.Storage.GetBlob(fileID)
}

func TestSubmitUsesFilesStagedAtSubmit(t *testing.T) {
	store := &gatedStore{
		Storage: storage.NewMemoryStorage(time.Hour, 0),
		reading: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	gen := &fakeGenerator{text: "ok"}
	s := NewWorkspaceService(store, gen, testConfig())
	ws := mustCreate(t, s)
	if _, err := s.StageFiles(ws.ID, []Upload{png("a.png")}); err != nil {
		t.Fatal(err)
	}

	done := make(chan *model.Workspace, 1)
	go func() {
		got, err := s.Submit(context.Background(), ws.ID, nil)
		if err != nil {
			t.Errorf("Submit: %v", err)
		}
		done <- got
	}()
	<-store.reading

	removed := make(chan error, 1)
	go func() {
		_, err := s.RemoveFile(ws.ID, 0)
		removed <- err
	}()
	close(store.proceed)

	got := <-done
	if err := <-removed; err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if got == nil || got.Status != model.StatusSuccess {
		t.Fatalf("submission ended as %+v", got)
	}
	if gen.callCount() != 1 || len(gen.calls[0].Images) != 1 {
		t.Fatalf("generator calls = %d", gen.callCount())
	}
	raw, err := gen.calls[0].Images[0].Bytes()
	if err != nil || string(raw) != string(pngBytes) {
		t.Fatalf("image payload mismatch: %v", err)
	}
}

func TestFileChangesAfterSubmitDoNotAffectRequest(t *testing.T) {
	gen := &fakeGenerator{
		text:    "done",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _ := newTestService(t, gen)
	ws := mustCreate(t, s)
	if _, err := s.StageFiles(ws.ID, []Upload{png("a.png"), png("b.png")}); err != nil {
		t.Fatal(err)
	}

	done := make(chan *model.Workspace, 1)
	go func() {
		got, _ := s.Submit(context.Background(), ws.ID, nil)
		done <- got
	}()
	<-gen.started

	if _, err := s.ClearFiles(ws.ID); err != nil {
		t.Fatalf("ClearFiles: %v", err)
	}
	close(gen.release)

	got := <-done
	if got == nil || got.Status != model.StatusSuccess || len(got.Files) != 0 {
		t.Fatalf("submission ended as %+v", got)
	}
	if len(gen.calls[0].Images) != 2 {
		t.Fatalf("request carried %d images, want 2", len(gen.calls[0].Images))
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{&encoder.EncodingError{Name: "a", Err: errors.New("read")}, KindEncoding},
		{fmt.Errorf("gemini: %w", llm.ErrMissingCredential), KindCredential},
		{&llm.RemoteCallError{Provider: "openai", Err: errors.New("timeout")}, KindRemote},
		{errors.New("disk full"), KindInternal},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestSubmitClearsPreviousOutcome(t *testing.T) {
	gen := &fakeGenerator{text: "first"}
	s, _ := newTestService(t, gen)
	ws := mustCreate(t, s)

	// 先产生一次校验失败
	if got, _ := s.Submit(context.Background(), ws.ID, nil); got.Error == nil {
		t.Fatal("expected validation error")
	}

	_, _ = s.SetInput(ws.ID, "now with text")
	log := &eventLog{}
	got, err := s.Submit(context.Background(), ws.ID, log.observe)
	if err != nil {
		t.Fatal(err)
	}
	if got.Error != nil || got.Result == nil || *got.Result != "first" {
		t.Fatalf("unexpected state %+v", got)
	}
	for _, ev := range log.events {
		if ev.Status == model.StatusSubmitting && (ev.Error != nil || ev.Result != nil) {
			t.Fatal("outcome not cleared when entering SUBMITTING")
		}
	}
}

func TestSubmitRejectsConcurrentSubmission(t *testing.T) {
	gen := &fakeGenerator{
		text:    "done",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _ := newTestService(t, gen)
	ws := mustCreate(t, s)
	_, _ = s.SetInput(ws.ID, "text")

	done := make(chan *model.Workspace, 1)
	go func() {
		got, err := s.Submit(context.Background(), ws.ID, nil)
		if err != nil {
			t.Errorf("first Submit: %v", err)
		}
		done <- got
	}()
	<-gen.started

	if _, err := s.Submit(context.Background(), ws.ID, nil); !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("expected ErrSubmissionInFlight, got %v", err)
	}
	mid, _ := s.GetWorkspace(ws.ID)
	if mid.Status != model.StatusSubmitting {
		t.Fatalf("status while in flight = %s", mid.Status)
	}

	close(gen.release)
	if got := <-done; got == nil || got.Status != model.StatusSuccess {
		t.Fatalf("first submission ended as %+v", got)
	}
	if gen.callCount() != 1 {
		t.Fatalf("generator called %d times", gen.callCount())
	}
}

func TestSubmitSurvivesCallerCancellation(t *testing.T) {
	gen := &fakeGenerator{
		text:    "finished anyway",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _ := newTestService(t, gen)
	ws := mustCreate(t, s)
	_, _ = s.SetInput(ws.ID, "text")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *model.Workspace, 1)
	go func() {
		got, _ := s.Submit(ctx, ws.ID, nil)
		done <- got
	}()
	<-gen.started
	cancel()
	close(gen.release)

	if got := <-done; got == nil || got.Status != model.StatusSuccess || *got.Result != "finished anyway" {
		t.Fatalf("submission did not complete after cancel: %+v", got)
	}
}

func TestResult(t *testing.T) {
	gen := &fakeGenerator{text: "copy me"}
	s, _ := newTestService(t, gen)
	ws := mustCreate(t, s)

	if _, ok, err := s.Result(ws.ID); err != nil || ok {
		t.Fatalf("fresh workspace result ok=%v err=%v", ok, err)
	}

	_, _ = s.SetInput(ws.ID, "text")
	_, _ = s.Submit(context.Background(), ws.ID, nil)
	text, ok, err := s.Result(ws.ID)
	if err != nil || !ok || text != "copy me" {
		t.Fatalf("Result = %q %v %v", text, ok, err)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	s, store := newTestService(t, &fakeGenerator{})
	ws := mustCreate(t, s)
	stuck, _ := store.GetWorkspace(ws.ID)
	stuck.Status = model.StatusSubmitting
	if err := store.UpdateWorkspace(stuck); err != nil {
		t.Fatal(err)
	}

	if err := s.RecoverInterrupted(); err != nil {
		t.Fatalf("RecoverInterrupted: %v", err)
	}
	got, _ := s.GetWorkspace(ws.ID)
	if got.Status != model.StatusFailed || got.Error == nil {
		t.Fatalf("workspace not recovered: %+v", got)
	}
}
