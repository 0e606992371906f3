package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talent-match-go/internal/api/handler"
	"talent-match-go/internal/api/router"
	"talent-match-go/internal/config"
	"talent-match-go/internal/ingest"
	appCoreLogger "talent-match-go/internal/logger"
	"talent-match-go/internal/match"
	"talent-match-go/internal/notify"
	"talent-match-go/internal/oracle"
	"talent-match-go/internal/outbox"
	"talent-match-go/internal/parser"
	"talent-match-go/internal/storage"
	"talent-match-go/internal/tracing"
	"talent-match-go/pkg/ratelimit"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	hertzadapter "github.com/hertz-contrib/logger/zerolog"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	initLogger(&cfg.Logger)
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 链路追踪, 未配置 endpoint 时为空操作
	shutdownTracing, err := tracing.InitProvider(ctx, &cfg.Tracing)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := shutdownTracing(shutdownCtx); err != nil {
			glog.Warnf("链路追踪关闭失败: %v", err)
		}
	}()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()
	glog.Info("存储服务初始化成功")

	// outbox 中继: 把与业务同事务落库的消息搬运到 RabbitMQ
	var messageRelay *outbox.MessageRelay
	if storageManager.RabbitMQ != nil && storageManager.MySQL != nil {
		messageRelay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ)
		messageRelay.Start()
		glog.Info("消息中继服务已启动")
	}

	analyzerModel := buildChatModel(cfg, "analyzer", cfg.Analyzer.ModelName, cfg.Analyzer.Temperature, cfg.Analyzer.MaxTokens, cfg.Analyzer.QPM, cfg.Analyzer.MaxRetries, cfg.Analyzer.RetryWaitSeconds)
	matcherModel := buildChatModel(cfg, "matcher", cfg.Matching.ModelName, cfg.Matching.Temperature, cfg.Matching.MaxTokens, cfg.Matching.QPM, cfg.Matching.MaxRetries, cfg.Matching.RetryWaitSeconds)

	documentAnalyzer := oracle.NewDocumentAnalyzer(analyzerModel)
	semanticMatcher := oracle.NewSemanticMatcher(matcherModel)
	glog.Info("LLM 画像抽取器与匹配评估器初始化成功")

	pdfExtractor, err := parser.NewEinoPDFTextExtractor(ctx)
	if err != nil {
		glog.Fatalf("创建PDF提取器失败: %v", err)
	}
	glog.Info("PDF提取器初始化成功")

	var notifier notify.Notifier
	if storageManager.Redis != nil {
		notifier = notify.NewRedisNotifier(storageManager.Redis)
		glog.Info("使用 Redis Pub/Sub 进度通知")
	} else {
		notifier = notify.NewNopNotifier()
		glog.Warn("Redis 未配置, 进度通知被禁用")
	}

	// Redis 可缺省, 接口变量只在实例存在时赋值, 避免持有非 nil 接口包裹 nil 指针
	var deduper ingest.ContentDeduper
	var progress match.ProgressSink
	if storageManager.Redis != nil {
		deduper = storageManager.Redis
		progress = storageManager.Redis
	}

	pipeline := ingest.NewPipeline(cfg, ingest.PipelineDeps{
		Profiles:     storageManager.MySQL,
		Objects:      storageManager.MinIO,
		Dedup:        deduper,
		Extractor:    pdfExtractor,
		Analyzer:     documentAnalyzer,
		Notifier:     notifier,
		QueueEnabled: storageManager.RabbitMQ != nil,
	})
	orchestrator := match.NewOrchestrator(cfg, storageManager.MySQL, progress, semanticMatcher)

	var consumer *ingest.Consumer
	if storageManager.RabbitMQ != nil {
		consumer = ingest.NewConsumer(cfg, storageManager.RabbitMQ, pipeline)
		if err := consumer.Start(ctx); err != nil {
			glog.Fatalf("启动分析消费者失败: %v", err)
		}
	} else {
		glog.Warn("RabbitMQ 未配置, 简历分析将在上传请求内同步执行")
	}

	profileHandler := handler.NewProfileHandler(cfg, storageManager, pipeline)
	jobHandler := handler.NewJobHandler(cfg, storageManager)
	matchHandler := handler.NewMatchHandler(cfg, storageManager, orchestrator)

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, cfg, profileHandler, jobHandler, matchHandler)
	glog.Info("HTTP路由注册成功")

	go func() {
		glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	if messageRelay != nil {
		messageRelay.Stop()
		glog.Info("消息中继服务已停止")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}

	if consumer != nil {
		consumer.Stop(shutdownCtx)
		glog.Info("分析消费者已停止")
	}
	glog.Info("优雅退出完成")
}

// buildChatModel 创建指定任务的通义千问客户端并套上限流代理。
func buildChatModel(cfg *config.Config, taskName, modelName string, temperature float64, maxTokens, qpm, maxRetries, retryWaitSeconds int) model.ToolCallingChatModel {
	if modelName == "" {
		modelName = cfg.GetModelForTask(taskName)
	}
	qwen, err := oracle.NewQwenChatModel(
		cfg.Aliyun.APIKey,
		modelName,
		cfg.Aliyun.APIURL,
		oracle.WithTemperature(temperature),
		oracle.WithMaxTokens(maxTokens),
	)
	if err != nil {
		glog.Fatalf("初始化通义千问客户端失败 (task=%s): %v", taskName, err)
	}
	return ratelimit.NewLLMWithRateLimit(
		qwen,
		modelName,
		cfg.ModelQPMLimits,
		qpm,
		maxRetries,
		time.Duration(retryWaitSeconds)*time.Second,
	)
}

// initLogger 初始化 zerolog 全局日志并接管 Hertz 的日志输出。
// 配置了 file_path 时同时写控制台和文件。
func initLogger(cfg *config.LoggerConfig) {
	appCoreLogger.Init(appCoreLogger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		TimeFormat:   cfg.TimeFormat,
		ReportCaller: cfg.ReportCaller,
	})

	if cfg.FilePath != "" {
		fileWriter, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("无法打开日志文件 %s: %v", cfg.FilePath, err)
		}
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: cfg.TimeFormat,
		}
		multiWriter := zerolog.MultiLevelWriter(consoleWriter, fileWriter)

		level, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			level = zerolog.InfoLevel
		}
		logger := zerolog.New(multiWriter).Level(level).With().Timestamp().Logger()
		appCoreLogger.Logger = logger
		zlog.Logger = logger
	}

	hertzCompatibleLogger := hertzadapter.From(appCoreLogger.Logger)
	glog.SetLogger(hertzCompatibleLogger)
}
