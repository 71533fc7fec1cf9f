package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/jm2pdf/jm2pdf/internal/cache"
	"github.com/jm2pdf/jm2pdf/internal/comic"
	"github.com/jm2pdf/jm2pdf/internal/config"
	"github.com/jm2pdf/jm2pdf/internal/fetcher"
	"github.com/jm2pdf/jm2pdf/internal/metrics"
	"github.com/jm2pdf/jm2pdf/internal/packager"
	"github.com/jm2pdf/jm2pdf/internal/provision"
	"github.com/jm2pdf/jm2pdf/internal/rendercfg"
)

// components 为一次启动装配出的全部组件。service 为空表示下载命令不可用。
type components struct {
	status   *provision.Status
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	index    *cache.Index
	service  *comic.Service
}

// provisionRunner 允许测试替换 pip/venv 调用。
var provisionRunner provision.CommandRunner

func assemble(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*components, error) {
	comps := &components{
		status:   provision.NewStatus(),
		registry: metrics.NewRegistry(),
	}
	comps.metrics = metrics.NewMetrics(comps.registry)

	if cfg.Comic.ClearAtRestart || !cfg.Comic.Cache {
		if err := os.RemoveAll(cfg.CacheDir()); err != nil {
			return nil, fmt.Errorf("清空缓存目录失败: %w", err)
		}
	}
	index, err := cache.Rehydrate(cfg.CacheDir(), cache.Options{
		Capacity: cfg.Comic.MaxCache,
		Logger:   logger,
		OnEvict: func(cache.Entry) {
			comps.metrics.CacheEvictions.Inc()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("重建缓存索引失败: %w", err)
	}
	comps.index = index

	optionPath, err := rendercfg.Generate(cfg.Runtime.ScriptConfig, cfg.RunDir(), rendercfg.Options{
		BaseDir: cfg.CacheDir(),
		Proxy:   cfg.Comic.Proxy,
	})
	if err != nil {
		logger.WithError(err).WithField("template", cfg.Runtime.ScriptConfig).Error("renderer_config_failed")
		comps.status.Fail(err)
		return comps, nil
	}
	if err := rendercfg.Cleanup(cfg.RunDir(), optionPath); err != nil {
		logger.WithError(err).Warn("renderer_config_cleanup_failed")
	}
	if err := packager.RemoveStale(cfg.RunDir()); err != nil {
		logger.WithError(err).Warn("stale_archive_cleanup_failed")
	}

	interpreter, err := provision.New(provision.Options{
		Python:          cfg.Runtime.Python,
		BaseInterpreter: cfg.Runtime.BaseInterpreter,
		EnvDir:          cfg.EnvDir(),
		Requirements:    cfg.Runtime.Requirements,
		Proxy:           cfg.Comic.Proxy,
		Timeout:         cfg.Runtime.InstallTimeout.DurationValue(),
		Logger:          logger,
		Runner:          provisionRunner,
		Status:          comps.status,
	}).Ensure(ctx)
	if err != nil {
		return comps, nil
	}

	runner := fetcher.NewRunner(fetcher.Options{
		Interpreter: interpreter,
		Script:      cfg.Runtime.Script,
		ConfigPath:  optionPath,
		Timeout:     cfg.Comic.FetchTimeout.DurationValue(),
		Debug:       cfg.Global.Debug,
		Logger:      logger,
	})
	service, err := comic.NewService(comic.Options{
		Index:    index,
		Fetcher:  runner,
		Packager: packager.Packager{TempDir: cfg.RunDir()},
		Config:   cfg.Comic,
		Metrics:  comps.metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	comps.service = service
	return comps, nil
}

// fetchOnce 下载单个本子并复制到 outDir，供命令行一次性使用。
func fetchOnce(ctx context.Context, comps *components, id int64, outDir string) int {
	if comps.service == nil {
		snap := comps.status.Snapshot()
		fmt.Fprintf(stdErr, "运行环境不可用: %s\n", snap.Message)
		return 1
	}

	doc, err := comps.service.Fetch(ctx, id)
	if err != nil {
		fmt.Fprintf(stdErr, "下载失败: %v\n", err)
		return 1
	}
	defer doc.Close()

	path, err := packager.Export(ctx, doc.File, outDir, doc.Title)
	if err != nil {
		fmt.Fprintf(stdErr, "保存失败: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdOut, path)
	return 0
}
