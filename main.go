package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-cache/internal/config"
	"github.com/any-hub/asset-cache/internal/fetcher"
	"github.com/any-hub/asset-cache/internal/logging"
	"github.com/any-hub/asset-cache/internal/metrics"
	"github.com/any-hub/asset-cache/internal/server"
	"github.com/any-hub/asset-cache/internal/version"
)

const (
	configEnv         = "ASSET_CACHE_CONFIG"
	defaultConfigPath = "config.toml"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	fetchURL    string
	cacheName   string
	outPath     string
	clearCache  bool
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

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["cache"] = cfg.CacheMode()
		fields["cache_dir"] = cfg.CacheDir
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if opts.fetchURL != "" && opts.outPath == "" && cfg.LogFilePath == "" {
		// 正文写 stdout 时日志改走 stderr，避免混入输出。
		logger.SetOutput(stdErr)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		fmt.Fprintf(stdErr, "注册指标失败: %v\n", err)
		return 1
	}

	// 启动顺序为“配置 → 日志 → 指标 → Fetcher（含磁盘缓存）→ 具体模式”，
	// 所有模式共享同一个 Fetcher 实例。
	fcfg := fetcher.NewConfig(cfg)
	fcfg.Logger = logger
	fcfg.Metrics = recorder
	f, err := fetcher.New(fcfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	ctx := context.Background()
	if _, err := f.Sweep(ctx, cfg.TempGracePeriod.DurationValue()); err != nil {
		logger.WithFields(logging.CacheFields("cache_sweep", cfg.CacheDir, "")).
			WithError(err).Warn("temp_sweep_failed")
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["cache"] = cfg.CacheMode()
	fields["cache_dir"] = cfg.CacheDir
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	switch {
	case opts.clearCache:
		return runClear(ctx, f)
	case opts.fetchURL != "":
		return runFetch(ctx, f, opts.fetchURL, opts.cacheName, opts.outPath)
	}

	if err := startHTTPServer(cfg, f, registry, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig 未显式指定配置且默认文件不存在时回退到内置默认值。
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return config.Load(defaultConfigPath)
	}
	return config.Default(), nil
}

// runFetch 执行一次性抓取，将正文写入 outPath（为空时写 stdout）。
func runFetch(ctx context.Context, f *fetcher.Fetcher, key, cacheName, outPath string) int {
	res := f.FetchNamed(ctx, key, cacheName)
	defer res.Close()

	if !res.Success {
		fmt.Fprintf(stdErr, "抓取失败: %s\n", res.ErrorMessage)
		return 1
	}

	out := stdOut
	if outPath != "" {
		file, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintf(stdErr, "创建输出文件失败: %v\n", err)
			return 1
		}
		defer file.Close()
		out = file
	}

	written, err := io.Copy(out, res)
	if err != nil {
		fmt.Fprintf(stdErr, "写出内容失败: %v\n", err)
		return 1
	}
	if outPath != "" {
		fmt.Fprintf(stdErr, "%s -> %s (%d bytes, cache_hit=%t)\n", key, outPath, written, res.CacheHit)
	}
	return 0
}

func runClear(ctx context.Context, f *fetcher.Fetcher) int {
	if err := f.Clear(ctx); err != nil {
		fmt.Fprintf(stdErr, "清理缓存失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("asset-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		opts       cliOptions
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ASSET_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")
	fs.StringVar(&opts.fetchURL, "fetch", "", "抓取单个资源后退出")
	fs.StringVar(&opts.outPath, "o", "", "-fetch 的输出文件（默认 stdout）")
	fs.StringVar(&opts.cacheName, "name", "", "-fetch 使用的缓存名（默认使用 URL）")
	fs.BoolVar(&opts.clearCache, "clear-cache", false, "清空磁盘缓存后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if opts.clearCache && opts.fetchURL != "" {
		return cliOptions{}, fmt.Errorf("-fetch 与 -clear-cache 不能同时使用")
	}
	if (opts.outPath != "" || opts.cacheName != "") && opts.fetchURL == "" {
		return cliOptions{}, fmt.Errorf("-o/-name 需要配合 -fetch 使用")
	}

	opts.configPath = os.Getenv(configEnv)
	if configFlag != "" {
		opts.configPath = configFlag
	}
	return opts, nil
}

func startHTTPServer(cfg *config.Config, f *fetcher.Fetcher, gatherer prometheus.Gatherer, logger *logrus.Logger) error {
	port := cfg.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Fetcher:    f,
		Gatherer:   gatherer,
		ListenPort: port,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
