// Package encoder 把暂存的图片文件编码为生成请求中的 base64 数据
package encoder

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
)

const octetStream = "application/octet-stream"

var ErrNotImage = errors.New("file is not an image")

// Source 是一个可读取的文件
type Source interface {
	Name() string
	MIMEType() string
	Open() (io.ReadCloser, error)
}

// Part 是编码后的图片：纯 base64 数据加上声明的媒体类型
type Part struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

// Bytes 把 Data 解码回原始字节
func (p Part) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

// DataURL 重新拼上 data URL 前缀
func (p Part) DataURL() string {
	return "data:" + p.MIMEType + ";base64," + p.Data
}

// EncodingError 表示某个文件无法读取
type EncodingError struct {
	Name string
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %q: %v", e.Name, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// Encode 完整读取文件并返回 base64 数据，要么返回完整结果，要么返回 *EncodingError
func Encode(ctx context.Context, src Source) (Part, error) {
	if err := ctx.Err(); err != nil {
		return Part{}, &EncodingError{Name: src.Name(), Err: err}
	}

	rc, err := src.Open()
	if err != nil {
		return Part{}, &EncodingError{Name: src.Name(), Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return Part{}, &EncodingError{Name: src.Name(), Err: err}
	}

	mimeType := ResolveMIMEType(src.MIMEType(), data)
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

	return Part{
		Data:     StripDataURLPrefix(dataURL),
		MIMEType: mimeType,
	}, nil
}

// EncodeAll 并发编码所有文件，结果按输入顺序返回。
// 任一文件失败时立即返回该错误，其余仍在读取的文件在后台结束，结果被丢弃。
func EncodeAll(ctx context.Context, sources []Source) ([]Part, error) {
	parts := make([]Part, len(sources))
	if len(sources) == 0 {
		return parts, nil
	}

	type result struct {
		index int
		part  Part
	}
	// 缓冲足够大，提前返回后后台读取也不会阻塞
	results := make(chan result, len(sources))
	failed := make(chan error, 1)

	eg, egCtx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		eg.Go(func() error {
			p, err := Encode(egCtx, src)
			if err != nil {
				select {
				case failed <- err:
				default:
				}
				return err
			}
			results <- result{index: i, part: p}
			return nil
		})
	}

	for remaining := len(sources); remaining > 0; remaining-- {
		select {
		case r := <-results:
			parts[r.index] = r.part
		case err := <-failed:
			return nil, err
		}
	}
	// 全部成功时所有 goroutine 已退出，Wait 只负责释放 egCtx
	_ = eg.Wait()
	return parts, nil
}

// StripDataURLPrefix 去掉 "data:<mime>;base64," 前缀，没有前缀时原样返回
func StripDataURLPrefix(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// DataURLMIMEType 返回 data URL 中声明的媒体类型，没有则返回空串
func DataURLMIMEType(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return ""
	}
	meta := s[len("data:"):]
	if i := strings.IndexByte(meta, ','); i >= 0 {
		meta = meta[:i]
	}
	if i := strings.IndexByte(meta, ';'); i >= 0 {
		meta = meta[:i]
	}
	return meta
}

// ResolveMIMEType 优先使用声明的类型，缺失或为通用类型时按内容识别
func ResolveMIMEType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != octetStream {
		return declared
	}
	return mimetype.Detect(data).String()
}

// IsImage 判断媒体类型是否为图片
func IsImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// BytesSource 是内存中的 Source 实现
type BytesSource struct {
	FileName string
	Type     string
	Data     []byte
}

func (b BytesSource) Name() string     { return b.FileName }
func (b BytesSource) MIMEType() string { return b.Type }

func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}
