package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/sirupsen/logrus"

	"github.com/jm2pdf/jm2pdf/internal/logging"
)

// Options 控制 Index 的容量与回调。
type Options struct {
	// Capacity 为条目上限，0 表示不限制。
	Capacity int
	Logger   logrus.FieldLogger
	// OnEvict 在因容量淘汰条目后调用，可为空。
	OnEvict func(Entry)
}

// Index 维护本子 ID → 缓存文件名的映射。所有读写都经过同一把锁串行化，
// 插入顺序即新旧顺序：重复插入同一 ID 会把它刷新为最新。
type Index struct {
	dir     string
	logger  *logrus.Entry
	onEvict func(Entry)

	mu       sync.Mutex
	capacity int
	entries  *simplelru.LRU[int64, string]
}

// NewIndex 构造一个空索引，dir 必须是已存在的缓存目录。
func NewIndex(dir string, opts Options) (*Index, error) {
	if dir == "" {
		return nil, errors.New("cache dir required")
	}
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("invalid cache capacity: %d", opts.Capacity)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	entries, err := newLRU()
	if err != nil {
		return nil, err
	}
	return &Index{
		dir:      abs,
		logger:   logging.Component(opts.Logger, "cache"),
		onEvict:  opts.OnEvict,
		capacity: opts.Capacity,
		entries:  entries,
	}, nil
}

// newLRU 构造不设上限的 simplelru，容量淘汰统一由 evictLocked 完成，
// 以便删除文件并触发 OnEvict。
func newLRU() (*simplelru.LRU[int64, string], error) {
	return simplelru.NewLRU[int64, string](math.MaxInt, nil)
}

// Dir 返回缓存目录的绝对路径。
func (i *Index) Dir() string {
	return i.dir
}

// Capacity 返回当前容量上限。
func (i *Index) Capacity() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.capacity
}

// Len 返回当前条目数。
func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.entries.Len()
}

// Get 是纯查询，不改变新旧顺序，也不检查磁盘。
func (i *Index) Get(id int64) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.entries.Peek(id)
}

// Lookup 在 Get 的基础上确认文件仍然存在；文件已被外部删除时移除条目并视为未命中。
func (i *Index) Lookup(id int64) (Entry, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	name, ok := i.entries.Peek(id)
	if !ok {
		return Entry{}, ErrNotFound
	}
	path := filepath.Join(i.dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		i.entries.Remove(id)
		i.logger.WithFields(logrus.Fields{
			"action":    "cache_stale",
			"comic_id":  id,
			"file_name": name,
		}).Warn("缓存文件已不存在，移除索引")
		return Entry{}, ErrNotFound
	}
	return Entry{ID: id, FileName: name, Path: path}, nil
}

// Open 在持锁状态下打开条目对应的文件，之后的淘汰只删除目录项，
// 已打开的句柄仍可读取。文件已不存在时移除条目并返回 ErrNotFound。
func (i *Index) Open(id int64) (Entry, *os.File, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	name, ok := i.entries.Peek(id)
	if !ok {
		return Entry{}, nil, ErrNotFound
	}
	path := filepath.Join(i.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Entry{}, nil, err
		}
		i.entries.Remove(id)
		i.logger.WithFields(logrus.Fields{
			"action":    "cache_stale",
			"comic_id":  id,
			"file_name": name,
		}).Warn("缓存文件已不存在，移除索引")
		return Entry{}, nil, ErrNotFound
	}
	return Entry{ID: id, FileName: name, Path: path}, f, nil
}

// Put 插入或刷新条目，并在超出容量时按从旧到新的顺序淘汰。
func (i *Index) Put(id int64, fileName string) error {
	if id <= 0 {
		return fmt.Errorf("invalid comic id: %d", id)
	}
	if !ValidFileName(fileName) {
		return fmt.Errorf("invalid cache file name: %q", fileName)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.entries.Add(id, fileName)
	i.evictLocked()
	return nil
}

// Resize 调整容量上限，必要时立即淘汰最旧条目。
func (i *Index) Resize(capacity int) error {
	if capacity < 0 {
		return fmt.Errorf("invalid cache capacity: %d", capacity)
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	i.capacity = capacity
	i.evictLocked()
	return nil
}

func (i *Index) evictLocked() {
	if i.capacity <= 0 {
		return
	}
	for i.entries.Len() > i.capacity {
		id, name, ok := i.entries.RemoveOldest()
		if !ok {
			return
		}
		entry := Entry{ID: id, FileName: name, Path: filepath.Join(i.dir, name)}
		fields := logrus.Fields{
			"action":    "cache_evict",
			"comic_id":  id,
			"file_name": name,
		}
		if err := os.Remove(entry.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			i.logger.WithFields(fields).WithError(err).Warn("删除被淘汰的缓存文件失败")
		} else {
			i.logger.WithFields(fields).Debug("缓存已淘汰")
		}
		if i.onEvict != nil {
			i.onEvict(entry)
		}
	}
}

// Clear 清空内存映射，不触碰磁盘。
func (i *Index) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries, _ = newLRU()
}

// Purge 清空映射并重建空的缓存目录。
func (i *Index) Purge() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.entries, _ = newLRU()
	if err := os.RemoveAll(i.dir); err != nil {
		return fmt.Errorf("remove cache dir: %w", err)
	}
	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return nil
}

// RemoveWorkDir 删除渲染脚本遗留的中间目录，目录不存在时忽略。
func (i *Index) RemoveWorkDir(id int64, fileName string) error {
	name := WorkDirName(id, fileName)
	if !ValidFileName(name) || name == fileName {
		return nil
	}
	return os.RemoveAll(filepath.Join(i.dir, name))
}

// Snapshot 按从旧到新的顺序返回所有条目。
func (i *Index) Snapshot() []Entry {
	i.mu.Lock()
	defer i.mu.Unlock()

	keys := i.entries.Keys()
	result := make([]Entry, 0, len(keys))
	for _, id := range keys {
		name, ok := i.entries.Peek(id)
		if !ok {
			continue
		}
		result = append(result, Entry{ID: id, FileName: name, Path: filepath.Join(i.dir, name)})
	}
	return result
}
