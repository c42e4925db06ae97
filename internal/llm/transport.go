package llm

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"prompt-architect-backend/internal/utils"
	"prompt-architect-backend/pkg/logger"

	"github.com/sirupsen/logrus"
)

// DebugTransport 记录发往模型服务的请求，用于排查请求体问题
type DebugTransport struct {
	base         http.RoundTripper
	debugEnabled bool
	logger       *logrus.Logger
}

func NewDebugTransport(base http.RoundTripper, debugEnabled bool) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{
		base:         base,
		debugEnabled: debugEnabled,
		logger:       logger.L(),
	}
}

// withDebug 供 utils.NewHTTPClient 使用
func withDebug(enabled bool) utils.ClientOption {
	return utils.WithRoundTripper(func(base http.RoundTripper) http.RoundTripper {
		return NewDebugTransport(base, enabled)
	})
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.debugEnabled && req.Method == http.MethodPost {
		t.logRequest(req)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil && t.debugEnabled {
		t.logger.Errorf("[llm debug] request to %s failed: %v", req.URL.Host, err)
	}
	return resp, err
}

func (t *DebugTransport) logRequest(req *http.Request) {
	fields := logrus.Fields{
		"method": req.Method,
		"url":    redactQuery(req.URL.String()),
	}
	for name, values := range req.Header {
		if isSensitiveHeader(name) {
			fields["header."+name] = "[REDACTED]"
		} else {
			fields["header."+name] = strings.Join(values, ", ")
		}
	}

	if req.Body != nil && req.Body != http.NoBody {
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			t.logger.Errorf("[llm debug] failed to read request body: %v", err)
			return
		}
		// 恢复请求体，以免影响实际请求
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		fields["body_size"] = len(bodyBytes)
		fields["body"] = SanitizeBody(string(bodyBytes))
	}

	t.logger.WithFields(fields).Info("[llm debug] outgoing request")
}

var (
	sensitiveFieldPattern = regexp.MustCompile(`(?i)"(api_key|apikey|password|secret|token)"\s*:\s*"[^"]*"`)
	base64PayloadPattern  = regexp.MustCompile(`[A-Za-z0-9+/=]{256,}`)
	keyQueryPattern       = regexp.MustCompile(`(?i)([?&]key=)[^&]+`)
)

// SanitizeBody 遮盖凭证字段并截断过长的 base64 图片数据
func SanitizeBody(body string) string {
	body = sensitiveFieldPattern.ReplaceAllString(body, `"$1": "[REDACTED]"`)
	return base64PayloadPattern.ReplaceAllStringFunc(body, func(m string) string {
		return "[base64 " + strconv.Itoa(len(m)) + " bytes]"
	})
}

func redactQuery(u string) string {
	return keyQueryPattern.ReplaceAllString(u, "${1}[REDACTED]")
}

func isSensitiveHeader(name string) bool {
	switch strings.ToLower(name) {
	case "authorization", "x-api-key", "x-goog-api-key", "x-auth-token", "cookie":
		return true
	}
	return false
}
