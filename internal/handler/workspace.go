package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"prompt-architect-backend/internal/encoder"
	"prompt-architect-backend/internal/model"
	"prompt-architect-backend/internal/service"
	"prompt-architect-backend/internal/utils"
	"prompt-architect-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const heartbeatEvery = 15 * time.Second

var (
	errNoFiles    = errors.New("no files in request")
	errBadDataURL = errors.New("file data is not valid base64")
)

type WorkspaceHandler struct {
	service         *service.WorkspaceService
	maxFileBytes    int64
	maxRequestBytes int64
}

func NewWorkspaceHandler(svc *service.WorkspaceService, maxFileBytes, maxRequestBytes int64) *WorkspaceHandler {
	return &WorkspaceHandler{
		service:         svc,
		maxFileBytes:    maxFileBytes,
		maxRequestBytes: maxRequestBytes,
	}
}

// statusFor 把服务层错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrWorkspaceNotFound),
		errors.Is(err, service.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSubmissionInFlight):
		return http.StatusConflict
	case errors.Is(err, service.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrFileIndexOutOfRange),
		errors.Is(err, service.ErrEmptyFile),
		errors.Is(err, model.ErrUnknownMode),
		errors.Is(err, encoder.ErrNotImage),
		errors.Is(err, errNoFiles),
		errors.Is(err, errBadDataURL):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func respondWorkspace(c *gin.Context, ws *model.Workspace) {
	c.JSON(http.StatusOK, model.NewWorkspaceResponse(ws))
}

func (h *WorkspaceHandler) ListModes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"modes":   model.Modes(),
		"default": model.DefaultMode,
	})
}

func (h *WorkspaceHandler) CreateWorkspace(c *gin.Context) {
	ws, err := h.service.CreateWorkspace()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model.NewWorkspaceResponse(ws))
}

func (h *WorkspaceHandler) ListWorkspaces(c *gin.Context) {
	list, err := h.service.ListWorkspaces()
	if err != nil {
		respondError(c, err)
		return
	}

	summaries := make([]model.WorkspaceSummary, len(list))
	for i, ws := range list {
		summaries[i] = model.NewWorkspaceSummary(ws)
	}
	c.JSON(http.StatusOK, gin.H{"workspaces": summaries})
}

func (h *WorkspaceHandler) GetWorkspace(c *gin.Context) {
	ws, err := h.service.GetWorkspace(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondWorkspace(c, ws)
}

func (h *WorkspaceHandler) DeleteWorkspace(c *gin.Context) {
	if err := h.service.DeleteWorkspace(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Workspace deleted successfully"})
}

func (h *WorkspaceHandler) ClearAll(c *gin.Context) {
	if err := h.service.ClearAll(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "All workspaces cleared successfully"})
}

func (h *WorkspaceHandler) SetMode(c *gin.Context) {
	var req model.SetModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode, err := model.ParseMode(req.Mode)
	if err != nil {
		respondError(c, err)
		return
	}

	ws, err := h.service.SetMode(c.Param("id"), mode)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWorkspace(c, ws)
}

func (h *WorkspaceHandler) SetInput(c *gin.Context) {
	var req model.SetInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ws, err := h.service.SetInput(c.Param("id"), req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWorkspace(c, ws)
}

// StageFiles 接受 multipart 的 files 字段，或 JSON 形式的 data URL 列表
func (h *WorkspaceHandler) StageFiles(c *gin.Context) {
	if h.maxRequestBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRequestBytes)
	}

	var (
		uploads []service.Upload
		err     error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		uploads, err = h.readMultipart(c)
	} else {
		uploads, err = h.readDataURLs(c)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		respondError(c, err)
		return
	}

	ws, err := h.service.StageFiles(c.Param("id"), uploads)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWorkspace(c, ws)
}

func (h *WorkspaceHandler) readMultipart(c *gin.Context) ([]service.Upload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errNoFiles, err)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return nil, errNoFiles
	}

	uploads := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		data, err := h.readPart(fh)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, service.Upload{
			Name:     fh.Filename,
			MIMEType: fh.Header.Get("Content-Type"),
			Data:     data,
		})
	}
	return uploads, nil
}

func (h *WorkspaceHandler) readPart(fh *multipart.FileHeader) ([]byte, error) {
	if h.maxFileBytes > 0 && fh.Size > h.maxFileBytes {
		return nil, fmt.Errorf("%q: %w", fh.Filename, service.ErrFileTooLarge)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (h *WorkspaceHandler) readDataURLs(c *gin.Context) ([]service.Upload, error) {
	var req model.StageFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errNoFiles, err)
	}

	uploads := make([]service.Upload, 0, len(req.Files))
	for _, f := range req.Files {
		data, err := base64.StdEncoding.DecodeString(encoder.StripDataURLPrefix(f.Data))
		if err != nil {
			return nil, fmt.Errorf("%q: %w", f.Name, errBadDataURL)
		}
		mimeType := f.MIMEType
		if mimeType == "" {
			mimeType = encoder.DataURLMIMEType(f.Data)
		}
		uploads = append(uploads, service.Upload{Name: f.Name, MIMEType: mimeType, Data: data})
	}
	return uploads, nil
}

func (h *WorkspaceHandler) RemoveFile(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}

	ws, err := h.service.RemoveFile(c.Param("id"), index)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWorkspace(c, ws)
}

func (h *WorkspaceHandler) ClearFiles(c *gin.Context) {
	ws, err := h.service.ClearFiles(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondWorkspace(c, ws)
}

func (h *WorkspaceHandler) PreviewFile(c *gin.Context) {
	data, mimeType, err := h.service.OpenPreview(c.Param("id"), c.Param("file_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, mimeType, data)
}

func (h *WorkspaceHandler) Submit(c *gin.Context) {
	ws, err := h.service.Submit(c.Request.Context(), c.Param("id"), nil)
	if err != nil {
		respondError(c, err)
		return
	}
	respondWorkspace(c, ws)
}

// SubmitStream 与 Submit 相同，但把每次状态变化作为 SSE 事件推送
func (h *WorkspaceHandler) SubmitStream(c *gin.Context) {
	id := c.Param("id")
	ws, err := h.service.GetWorkspace(id)
	if err != nil {
		respondError(c, err)
		return
	}
	// 与 Submit 一致，进行中的提交直接返回 409，不建立事件流
	if ws.Status == model.StatusSubmitting {
		respondError(c, service.ErrSubmissionInFlight)
		return
	}

	sseWriter := utils.NewSSEWriter(c.Writer)
	ctx := c.Request.Context()

	// 一次提交最多产生三个状态事件
	events := make(chan model.StatusEvent, 4)
	type outcome struct {
		ws  *model.Workspace
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		ws, err := h.service.Submit(ctx, id, func(ev model.StatusEvent) {
			select {
			case events <- ev:
			default:
				logger.Warnf("Workspace %s: status event %s dropped", id, ev.Status)
			}
		})
		done <- outcome{ws: ws, err: err}
	}()

	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()

	writeJSON := func(event string, v interface{}) bool {
		if err := sseWriter.WriteJSON(event, v); err != nil {
			logger.Warnf("Failed to write SSE: %v", err)
			return false
		}
		return true
	}

	for {
		select {
		case ev := <-events:
			if !writeJSON("status", ev) {
				return
			}

		case res := <-done:
			// 先把缓冲中剩余的事件写完
			for drained := false; !drained; {
				select {
				case ev := <-events:
					writeJSON("status", ev)
				default:
					drained = true
				}
			}
			if res.err != nil {
				writeJSON("error", gin.H{
					"error":     res.err.Error(),
					"status":    statusFor(res.err),
					"timestamp": time.Now().Unix(),
				})
			} else {
				writeJSON("workspace", model.NewWorkspaceResponse(res.ws))
			}
			sseWriter.Close()
			return

		case <-heartbeat.C:
			if !writeJSON("heartbeat", gin.H{"timestamp": time.Now().Unix()}) {
				return
			}

		case <-ctx.Done():
			// 客户端断开后提交仍会在后台完成
			logger.Infof("Workspace %s: stream client disconnected", id)
			return
		}
	}
}

// GetResult 以纯文本返回最近一次生成的提示词，供前端复制
func (h *WorkspaceHandler) GetResult(c *gin.Context) {
	text, ok, err := h.service.Result(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no generated prompt yet"})
		return
	}
	c.String(http.StatusOK, text)
}
