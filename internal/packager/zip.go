package packager

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yeka/zip"
)

func init() {
	MustRegister(zipFormat{})
}

// zipFormat 生成只含一个条目的压缩包，设置密码时使用 AES-256 加密。
type zipFormat struct{}

func (zipFormat) Key() string { return "zip" }

func (zipFormat) Package(ctx context.Context, req Request) (artifact *Artifact, err error) {
	out, err := os.CreateTemp(req.TempDir, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(out.Name())
		}
	}()

	entryName := req.DisplayName + filepath.Ext(req.Source.Name())
	zw := zip.NewWriter(out)
	var w io.Writer
	if req.Password != "" {
		w, err = zw.Encrypt(entryName, req.Password, zip.AES256Encryption)
	} else {
		w, err = zw.Create(entryName)
	}
	if err != nil {
		return nil, fmt.Errorf("create archive entry: %w", err)
	}
	if _, err = copyWithContext(ctx, w, req.Source); err != nil {
		return nil, fmt.Errorf("write archive entry: %w", err)
	}
	if err = zw.Close(); err != nil {
		return nil, fmt.Errorf("finish archive: %w", err)
	}
	info, err := out.Stat()
	if err != nil {
		return nil, err
	}
	if err = out.Close(); err != nil {
		return nil, err
	}

	return &Artifact{
		Path:        out.Name(),
		Title:       req.DisplayName + ".zip",
		ContentType: "application/zip",
		Size:        info.Size(),
		temp:        true,
	}, nil
}
