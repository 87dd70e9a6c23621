package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/blobcache/internal/cache"
	"github.com/any-hub/blobcache/internal/config"
	"github.com/any-hub/blobcache/internal/logging"
	"github.com/any-hub/blobcache/internal/server"
	"github.com/any-hub/blobcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const (
	shutdownTimeout = 10 * time.Second
	persistTimeout  = time.Minute
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
		for k, v := range logging.CacheFields(cfg.Cache, cfg.CacheDirectory()) {
			fields[k] = v
		}
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 缓存实例（含磁盘裁剪） → Fiber server。
	blobs, err := newBlobCache(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}
	defer blobs.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	for k, v := range logging.CacheFields(cfg.Cache, cfg.CacheDirectory()) {
		fields[k] = v
	}
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	serveErr := serve(cfg, blobs, logger)
	shutdownCache(cfg, blobs, logger)
	if serveErr != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", serveErr)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("blobcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 BLOBCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("BLOBCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// newBlobCache 按配置构建 []byte 缓存，并在启动时异步把磁盘层裁剪到 DiskMaxCount。
func newBlobCache(cfg *config.Config, logger *logrus.Logger) (*cache.Cache[[]byte], error) {
	blobs, err := cache.New[[]byte](cfg.Cache.Name, cache.BytesCodec{},
		cache.WithDirectory(cfg.Global.StoragePath),
		cache.WithTimeToLive(cfg.Cache.TimeToLive.DurationValue()),
		cache.WithMemoryMaxCount(cfg.Cache.MemoryMaxCount),
		cache.WithFetcher(cache.NewHTTPFetcher(server.NewUpstreamClient(cfg))),
		cache.WithLogger(logger.WithField("cache", cfg.Cache.Name)),
	)
	if err != nil {
		return nil, err
	}
	if cfg.Cache.DiskMaxCount > 0 {
		blobs.ReduceDiskCache(cfg.Cache.DiskMaxCount)
	}
	return blobs, nil
}

// serve 启动 Fiber 并阻塞直到收到退出信号；内存压力信号会清空所有缓存实例的内存层。
func serve(cfg *config.Config, blobs *cache.Cache[[]byte], logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Cache:      blobs,
		ListenPort: port,
		FetchWait:  cfg.Cache.FetchWait.DurationValue(),
	})
	if err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	pressure := make(chan os.Signal, 1)
	if sigs := pressureSignals(); len(sigs) > 0 {
		signal.Notify(pressure, sigs...)
		defer signal.Stop(pressure)
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	for {
		select {
		case err := <-listenErr:
			return err
		case <-pressure:
			cache.NotifyMemoryPressure()
			logger.WithField("action", "memory_pressure").Warn("已清空内存缓存")
		case sig := <-stop:
			logger.WithFields(logrus.Fields{
				"action": "shutdown",
				"signal": sig.String(),
			}).Info("收到退出信号")
			if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		}
	}
}

// shutdownCache 在退出前按配置把内存层落盘。
func shutdownCache(cfg *config.Config, blobs *cache.Cache[[]byte], logger *logrus.Logger) {
	if !cfg.Cache.PersistOnShutdown {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	blobs.PersistCacheToDisk(ctx)
	logger.WithFields(logrus.Fields{
		"action": "persist",
		"cache":  blobs.Name(),
	}).Info("缓存已落盘")
}
