package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/statline-hub/statline-hub/internal/cache"
	"github.com/statline-hub/statline-hub/internal/catalog"
	"github.com/statline-hub/statline-hub/internal/config"
	"github.com/statline-hub/statline-hub/internal/fetch"
	"github.com/statline-hub/statline-hub/internal/logging"
	"github.com/statline-hub/statline-hub/internal/odata"
	"github.com/statline-hub/statline-hub/internal/server"
	"github.com/statline-hub/statline-hub/internal/server/routes"
	"github.com/statline-hub/statline-hub/internal/translate"
	"github.com/statline-hub/statline-hub/internal/version"
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
		fields["catalog_base_url"] = cfg.Upstream.CatalogBaseURL
		fields["data_base_url"] = cfg.Upstream.DataBaseURL
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 日志 → 连接池 → 各级缓存 → 服务层 → Fiber server，
	// 保证所有请求共享同一套客户端与缓存实例。
	deps, err := buildDeps(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化依赖失败: %v\n", err)
		return 1
	}
	defer deps.Manager.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Cache.StoragePath
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, deps, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildDeps 组装全部共享组件。
func buildDeps(cfg *config.Config, logger *logrus.Logger) (routes.Deps, error) {
	if err := os.MkdirAll(cfg.Cache.StoragePath, 0o755); err != nil {
		return routes.Deps{}, fmt.Errorf("create storage path: %w", err)
	}

	manager := fetch.NewClientManager(cfg.Client)
	fetcher := fetch.NewFetcher(manager, cfg.Client, logger)

	dataClient := odata.NewClient(fetcher, cfg.Upstream, logger)
	ckan := odata.NewCKANClient(fetcher, cfg.Upstream, logger)

	catalogCache := cache.NewEntityCache(
		cfg.CatalogCachePath(),
		cfg.Cache.CatalogTTL.DurationValue(),
		func(items []odata.CatalogItem) int { return len(items) },
		logger,
	)
	artifacts := cache.NewArtifactCache(cfg.ArtifactCachePath(), logger)

	dimCache := translate.NewDimensionCache(dataClient, cfg.Cache.DimensionTTL.DurationValue(), logger)
	translator := translate.NewTranslator(dataClient, dimCache, logger)
	catalogService := catalog.NewService(catalogCache, dataClient, ckan, logger)

	return routes.Deps{
		Logger:     logger,
		Config:     cfg,
		Catalog:    catalogService,
		Data:       dataClient,
		CKAN:       ckan,
		Translator: translator,
		DimCache:   dimCache,
		Artifacts:  artifacts,
		Manager:    manager,
	}, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("statline-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 STATLINE_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("STATLINE_HUB_CONFIG")
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

func startHTTPServer(cfg *config.Config, deps routes.Deps, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Deps:       deps,
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
