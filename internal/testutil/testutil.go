package testutil

import (
	"bytes"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"testing"
	"time"

	"github.com/lvdashuaibi/littlepolls/config"
	"github.com/lvdashuaibi/littlepolls/internal/media"
)

// PNGPixel 1x1 透明PNG
var PNGPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// Now 测试使用的固定时间
var Now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// Clock 返回固定时间的时钟函数
func Clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// QuietLogs 测试期间丢弃默认logger的输出
func QuietLogs(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
}

// FileHeader 构造一个上传文件
func FileHeader(t *testing.T, field, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	body, contentType := MultipartBody(t, nil, map[string]File{field: {Name: filename, Content: content}})
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		t.Fatalf("Failed to parse content type: %v", err)
	}
	form, err := multipart.NewReader(body, params["boundary"]).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("Failed to read multipart form: %v", err)
	}
	t.Cleanup(func() { form.RemoveAll() })
	return form.File[field][0]
}

// File 上传文件内容
type File struct {
	Name    string
	Content []byte
}

// MultipartBody 构造multipart请求体，返回请求体与Content-Type
func MultipartBody(t *testing.T, fields map[string]string, files map[string]File) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("Failed to write field %s: %v", k, err)
		}
	}
	for k, f := range files {
		part, err := w.CreateFormFile(k, f.Name)
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		if _, err := part.Write(f.Content); err != nil {
			t.Fatalf("Failed to write form file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}
	return &body, w.FormDataContentType()
}

// AvatarStore 在临时目录中创建头像存储
func AvatarStore(t *testing.T) *media.AvatarStore {
	t.Helper()

	store, err := media.NewAvatarStore(config.MediaConfig{
		Root:           t.TempDir(),
		URLPrefix:      "/media",
		MaxAvatarBytes: 1 << 20,
	})
	if err != nil {
		t.Fatalf("Failed to create avatar store: %v", err)
	}
	return store
}
