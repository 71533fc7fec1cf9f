// Package comic 串联缓存、渲染进程与打包，提供按 ID 获取成品的服务。
package comic

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/jm2pdf/jm2pdf/internal/cache"
	"github.com/jm2pdf/jm2pdf/internal/config"
	"github.com/jm2pdf/jm2pdf/internal/fetcher"
	"github.com/jm2pdf/jm2pdf/internal/logging"
	"github.com/jm2pdf/jm2pdf/internal/metrics"
	"github.com/jm2pdf/jm2pdf/internal/packager"
)

// AckMessage 为收到请求时的提示语。
const AckMessage = "正在下载..."

var (
	// ErrInvalidID 表示 ID 不是正整数。
	ErrInvalidID = errors.New("comic id must be a positive integer")
	// ErrPackage 表示成品已就绪但打包失败。
	ErrPackage = errors.New("package failed")
)

// Fetcher 执行一次渲染，*fetcher.Runner 实现了该接口。
type Fetcher interface {
	Run(ctx context.Context, id int64) (fetcher.Result, error)
}

// Options 为 Service 的依赖。
type Options struct {
	Index    *cache.Index
	Fetcher  Fetcher
	Packager packager.Packager
	Config   config.ComicConfig
	Metrics  *metrics.Metrics
	Logger   logrus.FieldLogger
}

// Service 处理下载请求。同一 ID 的并发请求共享一次渲染。
type Service struct {
	index    *cache.Index
	fetcher  Fetcher
	packager packager.Packager
	cfg      config.ComicConfig
	metrics  *metrics.Metrics
	logger   *logrus.Entry

	group singleflight.Group
	sem   *semaphore.Weighted

	mu     sync.Mutex
	active int
}

// NewService 构造 Service。
func NewService(opts Options) (*Service, error) {
	if opts.Index == nil {
		return nil, errors.New("cache index is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	format := opts.Config.FileFormat
	if format == "" {
		format = config.FormatPDF
	}
	if _, ok := packager.Resolve(format); !ok {
		return nil, fmt.Errorf("%w: %q", packager.ErrUnknownFormat, format)
	}
	opts.Config.FileFormat = format

	m := opts.Metrics
	if m == nil {
		m = metrics.NewMetrics(prometheus.NewRegistry())
	}
	s := &Service{
		index:    opts.Index,
		fetcher:  opts.Fetcher,
		packager: opts.Packager,
		cfg:      opts.Config,
		metrics:  m,
		logger:   logging.Component(opts.Logger, "comic"),
	}
	if opts.Config.MaxConcurrentFetches > 0 {
		s.sem = semaphore.NewWeighted(int64(opts.Config.MaxConcurrentFetches))
	}
	m.CacheEntries.Set(float64(s.index.Len()))
	return s, nil
}

// Index 返回缓存索引，供诊断接口使用。
func (s *Service) Index() *cache.Index {
	return s.index
}

// Fetch 返回 id 对应的成品。命中缓存时不会启动渲染进程。
// 调用方必须在交付完成后调用 Document.Close。
func (s *Service) Fetch(ctx context.Context, id int64) (*Document, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	s.acquire()
	doc, err := s.fetch(ctx, id)
	if err != nil {
		s.release()
		return nil, err
	}
	return doc, nil
}

func (s *Service) fetch(ctx context.Context, id int64) (*Document, error) {
	logger := s.logger.WithField("comic_id", id)
	logger.WithField("ack", AckMessage).Info("comic_request")

	entry, src, hit, err := s.resolve(ctx, id, logger)
	if err != nil {
		return nil, err
	}

	displayName := s.displayName(id, entry.FileName)
	art, err := s.packager.Package(ctx, s.cfg.FileFormat, src, displayName, s.cfg.ZipPassword)
	if err != nil {
		src.Close()
		logger.WithError(err).Error("comic_package_failed")
		return nil, fmt.Errorf("%w: %v", ErrPackage, err)
	}
	file := src
	if art.Temporary() {
		src.Close()
		if file, err = os.Open(art.Path); err != nil {
			art.Cleanup()
			logger.WithError(err).Error("comic_package_failed")
			return nil, fmt.Errorf("%w: %v", ErrPackage, err)
		}
	}
	s.metrics.Deliveries.WithLabelValues(s.cfg.FileFormat).Inc()
	logger.WithFields(logrus.Fields{
		"cache_hit": hit,
		"file_name": entry.FileName,
		"title":     art.Title,
		"format":    s.cfg.FileFormat,
	}).Info("comic_ready")

	return &Document{
		ID:          id,
		FileName:    entry.FileName,
		Title:       art.Title,
		Path:        art.Path,
		File:        file,
		ContentType: art.ContentType,
		Size:        art.Size,
		CacheHit:    hit,
		artifact:    art,
		release:     s.release,
	}, nil
}

// maxResolveAttempts 限制渲染完成后文件又被并发淘汰时的重试次数。
const maxResolveAttempts = 3

// resolve 先查缓存，未命中时合并同 ID 请求并执行一次渲染。
// 返回的文件在缓存锁内打开，之后的淘汰不影响读取。
func (s *Service) resolve(ctx context.Context, id int64, logger *logrus.Entry) (cache.Entry, *os.File, bool, error) {
	fetched := false
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		entry, f, err := s.index.Open(id)
		if err == nil {
			if !fetched {
				s.metrics.CacheHits.Inc()
			}
			return entry, f, !fetched, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			return cache.Entry{}, nil, false, err
		}
		// Open 可能刚移除了失效条目。
		s.metrics.CacheEntries.Set(float64(s.index.Len()))
		if !fetched {
			s.metrics.CacheMisses.Inc()
		} else {
			logger.WithField("attempt", attempt).Warn("comic_result_evicted")
		}
		if err := s.runShared(ctx, id, logger); err != nil {
			return cache.Entry{}, nil, false, err
		}
		fetched = true
	}
	return cache.Entry{}, nil, false, fmt.Errorf("%w: result for %d evicted before delivery", fetcher.ErrNoResult, id)
}

// runShared 合并同 ID 的渲染，请求取消时不中断渲染本身。
func (s *Service) runShared(ctx context.Context, id int64, logger *logrus.Entry) error {
	// 渲染不随单个请求取消，超时由 fetcher 控制。
	runCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(strconv.FormatInt(id, 10), func() (interface{}, error) {
		return s.run(runCtx, id, logger)
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.metrics.CoalescedRequests.Inc()
		}
		return res.Err
	}
}

// run 执行渲染并把结果写入缓存索引。
func (s *Service) run(ctx context.Context, id int64, logger *logrus.Entry) (cache.Entry, error) {
	// 渲染期间计入活跃数，避免 Cache=false 时被其他请求的清理删掉结果。
	s.acquire()
	defer s.release()

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return cache.Entry{}, err
		}
		defer s.sem.Release(1)
	}

	s.metrics.FetchesInFlight.Inc()
	start := time.Now()
	res, err := s.fetcher.Run(ctx, id)
	s.metrics.FetchesInFlight.Dec()
	elapsed := time.Since(start)

	switch {
	case err == nil:
		s.metrics.ObserveFetch(metrics.ResultSuccess, elapsed)
	case errors.Is(err, fetcher.ErrTimeout):
		s.metrics.ObserveFetch(metrics.ResultTimeout, elapsed)
		return cache.Entry{}, err
	default:
		s.metrics.ObserveFetch(metrics.ResultFailed, elapsed)
		return cache.Entry{}, err
	}

	if parsed, perr := cache.ParseID(res.Name); perr != nil || parsed != id {
		logger.WithField("file_name", res.Name).Warn("comic_result_name_mismatch")
	}
	if err := s.index.RemoveWorkDir(id, res.Name); err != nil {
		logger.WithError(err).Warn("comic_workdir_cleanup_failed")
	}

	path := filepath.Join(s.index.Dir(), res.Name)
	if _, err := os.Stat(path); err != nil {
		return cache.Entry{}, fmt.Errorf("%w: result file %q: %v", fetcher.ErrNoResult, res.Name, err)
	}
	if err := s.index.Put(id, res.Name); err != nil {
		return cache.Entry{}, err
	}
	s.metrics.CacheEntries.Set(float64(s.index.Len()))
	logger.WithFields(logrus.Fields{
		"file_name":  res.Name,
		"elapsed_ms": elapsed.Milliseconds(),
	}).Info("comic_fetched")
	return cache.Entry{ID: id, FileName: res.Name, Path: path}, nil
}

// displayName 为交付标题（不含扩展名）：FullName 时使用缓存文件名，否则为 ID。
func (s *Service) displayName(id int64, fileName string) string {
	if s.cfg.FullName {
		return strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}
	return strconv.FormatInt(id, 10)
}

func (s *Service) acquire() {
	s.mu.Lock()
	s.active++
	s.mu.Unlock()
}

// release 在最后一个活跃请求结束且未开启缓存时清空缓存目录。
func (s *Service) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	if s.active > 0 || s.cfg.Cache {
		return
	}
	if err := s.index.Purge(); err != nil {
		s.logger.WithError(err).Warn("cache_purge_failed")
		return
	}
	s.metrics.CacheEntries.Set(0)
	s.logger.Debug("cache_purged")
}
