package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"prompt-architect-backend/internal/encoder"
	"prompt-architect-backend/internal/llm"
	"prompt-architect-backend/internal/model"
	"prompt-architect-backend/pkg/logger"
)

// ErrorKind 对提交流程中的失败分类，只用于日志
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindEncoding   ErrorKind = "encoding"
	KindCredential ErrorKind = "credential"
	KindRemote     ErrorKind = "remote"
	KindInternal   ErrorKind = "internal"
)

func ClassifyError(err error) ErrorKind {
	var encErr *encoder.EncodingError
	var remoteErr *llm.RemoteCallError

	switch {
	case errors.As(err, &encErr):
		return KindEncoding
	case errors.Is(err, llm.ErrMissingCredential):
		return KindCredential
	case errors.As(err, &remoteErr):
		return KindRemote
	default:
		return KindInternal
	}
}

// Observer 接收提交过程中的每一次状态变化
type Observer func(model.StatusEvent)

func notify(obs Observer, ws *model.Workspace) {
	if obs == nil {
		return
	}
	obs(model.StatusEvent{
		WorkspaceID: ws.ID,
		Status:      ws.Status,
		Result:      ws.Result,
		Error:       ws.Error,
		Timestamp:   time.Now().Unix(),
	})
}

// Submit 为工作区执行一次提交并返回最终状态。
//
// 既没有文本也没有暂存文件时在本地直接失败，不做编码和网络请求。
// 之后的任何失败都只向用户展示通用提示，细节只写日志。
// 远程调用不受 ctx 取消影响，也不会重试。
func (s *WorkspaceService) Submit(ctx context.Context, id string, obs Observer) (*model.Workspace, error) {
	ws, sources, err := s.beginSubmission(id, obs)
	if err != nil {
		return nil, err
	}
	if ws.Status != model.StatusSubmitting {
		return ws, nil
	}

	text, err := s.generate(context.WithoutCancel(ctx), ws, sources)

	unlock := s.lock(id)
	defer unlock()

	final, loadErr := s.load(id)
	if loadErr != nil {
		logger.Warnf("Workspace %s disappeared during submission: %v", id, loadErr)
		return nil, loadErr
	}

	if err != nil {
		logger.WithFields(logger.Fields{
			"workspace_id": id,
			"mode":         ws.Mode,
			"kind":         ClassifyError(err),
			"provider":     s.generator.Name(),
		}).Errorf("Prompt generation failed: %v", err)
		final.Status = model.StatusFailed
		final.SetError(model.MessageGenericFailure)
	} else {
		if text == "" {
			text = model.FallbackResult
		}
		final.Status = model.StatusSuccess
		final.SetResult(text)
	}

	if err := s.save(final); err != nil {
		return nil, err
	}
	notify(obs, final)
	return final, nil
}

// beginSubmission 在锁内完成校验并切换到 SUBMITTING，同时取下暂存文件的快照，
// 之后对工作区文件的修改不影响这次提交。校验失败时直接落到 FAILED 并返回。
func (s *WorkspaceService) beginSubmission(id string, obs Observer) (*model.Workspace, []encoder.Source, error) {
	unlock := s.lock(id)
	defer unlock()

	ws, err := s.load(id)
	if err != nil {
		return nil, nil, err
	}
	if ws.Status == model.StatusSubmitting {
		return nil, nil, ErrSubmissionInFlight
	}

	ws.Status = model.StatusValidating
	notify(obs, ws)

	if ws.InputText == "" && len(ws.Files) == 0 {
		logger.WithFields(logger.Fields{
			"workspace_id": id,
			"kind":         KindValidation,
		}).Infof("Submission rejected: no input")
		ws.Status = model.StatusFailed
		ws.SetError(model.MessageValidation)
		if err := s.save(ws); err != nil {
			return nil, nil, err
		}
		notify(obs, ws)
		return ws, nil, nil
	}

	sources := s.snapshot(ws.Files)
	ws.ClearOutcome()
	ws.Status = model.StatusSubmitting
	if err := s.save(ws); err != nil {
		return nil, nil, err
	}
	notify(obs, ws)
	return ws, sources, nil
}

func (s *WorkspaceService) generate(ctx context.Context, ws *model.Workspace, sources []encoder.Source) (string, error) {
	start := time.Now()

	req, err := s.builder.Build(ctx, ws.InputText, sources, ws.Mode)
	if err != nil {
		return "", err
	}

	text, err := s.generator.Generate(ctx, req)
	if err != nil {
		return "", err
	}

	logger.WithFields(logger.Fields{
		"workspace_id": ws.ID,
		"mode":         ws.Mode,
		"images":       len(req.Images),
		"provider":     s.generator.Name(),
		"elapsed_ms":   time.Since(start).Milliseconds(),
	}).Infof("Prompt generated (%d chars)", len(text))
	return text, nil
}

// Result 返回最近一次成功生成的提示词
func (s *WorkspaceService) Result(id string) (string, bool, error) {
	ws, err := s.load(id)
	if err != nil {
		return "", false, err
	}
	if ws.Status != model.StatusSuccess || ws.Result == nil {
		return "", false, nil
	}
	return *ws.Result, true, nil
}

// RecoverInterrupted 把上次进程退出时仍在提交中的工作区标记为失败
func (s *WorkspaceService) RecoverInterrupted() error {
	list, err := s.storage.ListWorkspaces()
	if err != nil {
		return fmt.Errorf("failed to list workspaces: %w", err)
	}

	for _, ws := range list {
		if ws.Status != model.StatusSubmitting && ws.Status != model.StatusValidating {
			continue
		}
		_, err := s.mutate(ws.ID, func(w *model.Workspace) error {
			w.Status = model.StatusFailed
			w.SetError(model.MessageGenericFailure)
			return nil
		})
		if err != nil {
			logger.Errorf("Failed to recover workspace %s: %v", ws.ID, err)
			continue
		}
		logger.Warnf("Workspace %s was left in %s, marked as failed", ws.ID, ws.Status)
	}
	return nil
}
