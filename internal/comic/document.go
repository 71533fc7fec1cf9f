package comic

import (
	"errors"
	"os"
	"sync"

	"github.com/jm2pdf/jm2pdf/internal/packager"
)

// Document 是一次交付的成品。File 在 Fetch 返回前已打开，
// 交付方应从 File 读取而不是按 Path 重新打开。
type Document struct {
	ID          int64
	FileName    string
	Title       string
	Path        string
	File        *os.File
	ContentType string
	Size        int64
	CacheHit    bool

	artifact *packager.Artifact
	release  func()
	once     sync.Once
}

// Close 关闭文件、删除临时产物并结束本次请求，可重复调用。
func (d *Document) Close() error {
	var err error
	d.once.Do(func() {
		if d.File != nil {
			err = d.File.Close()
		}
		if d.artifact != nil {
			err = errors.Join(err, d.artifact.Cleanup())
		}
		if d.release != nil {
			d.release()
		}
	})
	return err
}
