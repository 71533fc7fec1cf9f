package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

type scannedFile struct {
	name    string
	created time.Time
	modTime time.Time
}

// Rehydrate 扫描缓存目录重建索引：子目录视为中断下载遗留的中间产物直接删除，
// 普通文件按创建时间从旧到新插入。文件名无法解析出 ID 的条目跳过并记录日志。
// 扫描或删除失败会中止启动。
func Rehydrate(dir string, opts Options) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	index, err := NewIndex(dir, opts)
	if err != nil {
		return nil, err
	}

	children, err := os.ReadDir(index.dir)
	if err != nil {
		return nil, fmt.Errorf("scan cache dir: %w", err)
	}

	files := make([]scannedFile, 0, len(children))
	for _, child := range children {
		path := filepath.Join(index.dir, child.Name())
		if child.IsDir() {
			if err := os.RemoveAll(path); err != nil {
				return nil, fmt.Errorf("purge work dir %s: %w", child.Name(), err)
			}
			index.logger.WithFields(logrus.Fields{
				"action": "cache_purge_dir",
				"dir":    child.Name(),
			}).Info("清理未完成下载的中间目录")
			continue
		}
		if !child.Type().IsRegular() {
			continue
		}
		info, err := child.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", child.Name(), err)
		}
		files = append(files, scannedFile{
			name:    child.Name(),
			created: birthTime(path, info),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(a, b int) bool {
		fa, fb := files[a], files[b]
		if !fa.created.Equal(fb.created) {
			return fa.created.Before(fb.created)
		}
		if !fa.modTime.Equal(fb.modTime) {
			return fa.modTime.Before(fb.modTime)
		}
		return fa.name < fb.name
	})

	for _, f := range files {
		id, err := ParseID(f.name)
		if err != nil {
			index.logger.WithFields(logrus.Fields{
				"action":    "cache_skip",
				"file_name": f.name,
			}).Warn("无法从文件名解析本子 ID，跳过")
			continue
		}
		if err := index.Put(id, f.name); err != nil {
			return nil, err
		}
	}

	index.logger.WithFields(logrus.Fields{
		"action":   "cache_rehydrate",
		"entries":  index.Len(),
		"capacity": index.Capacity(),
	}).Info("缓存索引已重建")
	return index, nil
}
