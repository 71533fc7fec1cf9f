package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrUnknownFormat 表示请求的交付格式未注册。
var ErrUnknownFormat = errors.New("unknown delivery format")

// Artifact 是一次打包的产物。
type Artifact struct {
	Path        string
	Title       string
	ContentType string
	Size        int64
	temp        bool
}

// Temporary 表示 Path 是否为需要清理的临时文件。
func (a *Artifact) Temporary() bool {
	return a != nil && a.temp
}

// Cleanup 删除临时文件，缓存中的源文件不会被触碰。
func (a *Artifact) Cleanup() error {
	if a == nil || !a.temp {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// 临时压缩包的文件名模式。
const tempPattern = "jm2pdf-*.zip"

// RemoveStale 删除 dir 下上次运行遗留的临时压缩包。
func RemoveStale(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, tempPattern))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Packager 按格式键分派打包请求。
type Packager struct {
	// TempDir 存放临时产物，留空时使用系统临时目录。
	TempDir string
}

// Package 把已打开的 source 打包为 format 指定的格式。
func (p Packager) Package(ctx context.Context, format string, source *os.File, displayName, password string) (*Artifact, error) {
	f, ok := Resolve(format)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if source == nil {
		return nil, errors.New("source is required")
	}
	return f.Package(ctx, Request{
		Source:      source,
		DisplayName: displayName,
		Password:    password,
		TempDir:     p.TempDir,
	})
}

// Export 把 src 的内容写为 dir/name。先写临时文件再 rename，
// 中途失败不会留下半截文件。
func Export(ctx context.Context, src io.Reader, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	target := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, ".jm2pdf-export-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	if _, err := copyWithContext(ctx, tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return target, nil
}

// copyWithContext 分块复制，每块之间检查 ctx。
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
