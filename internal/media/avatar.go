package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/lvdashuaibi/littlepolls/config"
)

const avatarDir = "avatars"

var (
	ErrNotImage = errors.New("文件不是支持的图片格式")
	ErrTooLarge = errors.New("文件过大")
)

// 允许的头像格式及其扩展名
var imageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type AvatarStore struct {
	root      string
	urlPrefix string
	maxBytes  int64
}

func NewAvatarStore(cfg config.MediaConfig) (*AvatarStore, error) {
	if err := os.MkdirAll(filepath.Join(cfg.Root, avatarDir), 0o755); err != nil {
		return nil, fmt.Errorf("创建头像目录失败: %w", err)
	}
	return &AvatarStore{
		root:      cfg.Root,
		urlPrefix: strings.TrimRight(cfg.URLPrefix, "/"),
		maxBytes:  cfg.MaxAvatarBytes,
	}, nil
}

// Root 媒体文件根目录
func (s *AvatarStore) Root() string {
	return s.root
}

// Save 校验并保存上传的头像，返回相对于根目录的文件名
func (s *AvatarStore) Save(ctx context.Context, file *multipart.FileHeader) (string, error) {
	if file == nil {
		return "", ErrNotImage
	}
	if s.maxBytes > 0 && file.Size > s.maxBytes {
		return "", ErrTooLarge
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("打开上传文件失败: %w", err)
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		return "", fmt.Errorf("识别文件类型失败: %w", err)
	}
	ext, ok := imageTypes[mtype.String()]
	if !ok {
		return "", ErrNotImage
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("重置上传文件失败: %w", err)
	}

	name := path.Join(avatarDir, uuid.NewString()+ext)
	dst, err := os.OpenFile(filepath.Join(s.root, filepath.FromSlash(name)), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("创建头像文件失败: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("写入头像文件失败: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("关闭头像文件失败: %w", err)
	}
	return name, nil
}

// Delete 删除头像文件，文件不存在时不报错
func (s *AvatarStore) Delete(ctx context.Context, name string) error {
	clean := path.Clean("/" + name)[1:]
	if !strings.HasPrefix(clean, avatarDir+"/") {
		return fmt.Errorf("非法的头像路径: %q", name)
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(clean)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除头像文件失败: %w", err)
	}
	return nil
}

// URL 返回头像的访问地址
func (s *AvatarStore) URL(name string) string {
	if name == "" {
		return ""
	}
	return s.urlPrefix + "/" + name
}
