package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/jm2pdf/jm2pdf/internal/config"
	"github.com/jm2pdf/jm2pdf/internal/logging"
	"github.com/jm2pdf/jm2pdf/internal/server"
	"github.com/jm2pdf/jm2pdf/internal/server/routes"
	"github.com/jm2pdf/jm2pdf/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	fetchID     int64
	outDir      string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		for k, v := range cfg.Summary() {
			fields[k] = v
		}
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序：缓存清理与重建 → 渲染配置 → Python 环境 → 下载服务 → Fiber。
	// 环境准备失败时只提供诊断接口。
	comps, err := assemble(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化失败: %v\n", err)
		return 1
	}

	if opts.fetchID != 0 {
		return fetchOnce(ctx, comps, opts.fetchID, opts.outDir)
	}

	fields := logging.BaseFields("startup", opts.configPath)
	for k, v := range cfg.Summary() {
		fields[k] = v
	}
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cached"] = comps.index.Len()
	fields["provision"] = comps.status.Snapshot().State
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, comps, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("jm2pdf", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		fetchFlag  string
		outDir     string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.yaml，可被 JM2PDF_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&fetchFlag, "fetch", "", "下载指定 JM 号后退出")
	fs.StringVar(&outDir, "out", ".", "-fetch 模式下成品的输出目录")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("JM2PDF_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = config.DefaultPath
	}

	var fetchID int64
	if fetchFlag != "" {
		id, err := strconv.ParseInt(fetchFlag, 10, 64)
		if err != nil || id <= 0 {
			return cliOptions{}, fmt.Errorf("无效的 JM 号: %q", fetchFlag)
		}
		fetchID = id
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		fetchID:     fetchID,
		outDir:      outDir,
	}, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, comps *components, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	opts := server.AppOptions{
		Logger:     logger,
		ListenPort: port,
	}
	if comps.service != nil {
		opts.Downloader = comps.service
	}
	app, err := server.NewApp(opts)
	if err != nil {
		return err
	}
	routes.RegisterStatusRoutes(app, comps.status)
	routes.RegisterCacheRoutes(app, comps.index)
	routes.RegisterMetricsRoutes(app, comps.registry)

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Warn("Fiber 服务关闭失败")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action":  "listen",
		"port":    port,
		"command": comps.service != nil,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
