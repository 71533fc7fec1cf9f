package packager

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Request 描述一次打包所需的输入。
type Request struct {
	// Source 为已打开的缓存文件，由调用方负责关闭。
	Source *os.File
	// DisplayName 为不含扩展名的展示名，例如 "(366517) Example" 或 "366517"。
	DisplayName string
	Password    string
	TempDir     string
}

// Format 为一种交付格式的实现。
type Format interface {
	Key() string
	Package(ctx context.Context, req Request) (*Artifact, error)
}

var globalRegistry = newRegistry()

type registry struct {
	mu      sync.RWMutex
	formats map[string]Format
}

func newRegistry() *registry {
	return &registry{formats: make(map[string]Format)}
}

// Register 将格式加入全局注册表，重复键会返回错误。
func Register(f Format) error {
	return globalRegistry.register(f)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(f Format) {
	if err := Register(f); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的格式实现。
func Resolve(key string) (Format, bool) {
	return globalRegistry.resolve(key)
}

// Keys 返回已注册格式的键，按字典序排列。
func Keys() []string {
	return globalRegistry.keys()
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(f Format) error {
	if f == nil {
		return fmt.Errorf("format is nil")
	}
	key := normalizeKey(f.Key())
	if key == "" {
		return fmt.Errorf("format key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formats[key]; exists {
		return fmt.Errorf("format %s already registered", key)
	}
	r.formats[key] = f
	return nil
}

func (r *registry) resolve(key string) (Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formats[normalizeKey(key)]
	return f, ok
}

func (r *registry) keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.formats))
	for key := range r.formats {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
