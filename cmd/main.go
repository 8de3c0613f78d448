package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lvdashuaibi/littlepolls/config"
	"github.com/lvdashuaibi/littlepolls/internal/api/graph"
	"github.com/lvdashuaibi/littlepolls/internal/api/web"
	intkafka "github.com/lvdashuaibi/littlepolls/internal/kafka"
	"github.com/lvdashuaibi/littlepolls/internal/lock"
	"github.com/lvdashuaibi/littlepolls/internal/logging"
	"github.com/lvdashuaibi/littlepolls/internal/media"
	"github.com/lvdashuaibi/littlepolls/internal/repository"
	"github.com/lvdashuaibi/littlepolls/internal/service"
	"github.com/lvdashuaibi/littlepolls/internal/warmer"
)

const MigrateLockName = "littlepolls:schema:migrate"

var configPath = flag.String("config", "config/config.yaml", "配置文件路径")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("加载配置失败", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		logger.Error("服务异常退出", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	// 创建数据库连接
	mysqlRepo, err := repository.NewMySQLRepository(cfg.MySQL)
	if err != nil {
		return fmt.Errorf("初始化MySQL仓库失败: %w", err)
	}
	defer mysqlRepo.Close()
	slog.Info("MySQL仓库初始化成功")

	// 创建Redis连接
	redisRepo, err := repository.NewRedisRepository(cfg.Redis)
	if err != nil {
		return fmt.Errorf("初始化Redis仓库失败: %w", err)
	}
	defer redisRepo.Close()
	slog.Info("Redis仓库初始化成功")

	distributedLock, err := lock.New(cfg)
	if err != nil {
		return fmt.Errorf("初始化分布式锁失败: %w", err)
	}
	defer distributedLock.Close()

	// 多实例同时启动时只由一个实例建表
	if err := migrate(cfg, distributedLock, mysqlRepo); err != nil {
		return err
	}

	avatars, err := media.NewAvatarStore(cfg.Media)
	if err != nil {
		return fmt.Errorf("初始化头像存储失败: %w", err)
	}

	var publisher service.EventPublisher
	if cfg.Kafka.Enabled {
		producer, err := intkafka.NewProducer(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("初始化Kafka生产者失败: %w", err)
		}
		defer producer.Close()
		publisher = producer
		slog.Info("Kafka生产者初始化成功")
	}

	pollService := service.NewPollService(mysqlRepo, redisRepo, cfg.Polls)
	voteService := service.NewVoteService(mysqlRepo, pollService, publisher)
	accountService := service.NewAccountService(mysqlRepo, redisRepo, avatars, cfg.Session.TTL)

	if cfg.Kafka.Enabled {
		consumer, err := intkafka.NewConsumer(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("初始化Kafka消费者失败: %w", err)
		}
		consumer.StartConsuming(voteService.ProcessVoteEvent)
		defer func() {
			if err := consumer.Stop(); err != nil {
				slog.Warn("停止Kafka消费者失败", "error", err)
			}
		}()
		slog.Info("Kafka消费者已启动")
	}

	resultsWarmer := warmer.NewResultsWarmer(pollService, distributedLock, cfg.Polls.WarmInterval)
	resultsWarmer.Start()
	defer resultsWarmer.Stop()

	graphqlServer := graph.NewGraphQLServer(pollService, voteService, cfg.GraphQL.Path)

	webServer, err := web.NewServer(cfg, pollService, voteService, accountService, avatars, graphqlServer)
	if err != nil {
		return fmt.Errorf("初始化Web服务失败: %w", err)
	}
	webServer.AddHealthCheck("mysql", mysqlRepo.Ping)
	webServer.AddHealthCheck("redis", redisRepo.Ping)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      webServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Little Polls 已启动", "addr", httpServer.Addr, "graphql", cfg.GraphQL.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("正在关闭服务...", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("HTTP服务异常: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("关闭HTTP服务失败: %w", err)
	}
	return nil
}

// migrate 持有分布式锁时建表，锁被其他实例持有时等待其完成
func migrate(cfg *config.Config, distributedLock lock.Lock, repo *repository.MySQLRepository) error {
	timeout := cfg.Lock.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	for attempt := 0; attempt <= cfg.Lock.RetryCount; attempt++ {
		acquired, err := lock.RunExclusive(distributedLock, MigrateLockName, timeout, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return repo.Migrate(ctx)
		})
		if err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
		if acquired {
			slog.Info("数据库迁移完成", "lock_backend", cfg.Lock.Backend)
			return nil
		}
		slog.Info("迁移锁被其他实例持有，等待重试", "attempt", attempt+1)
		time.Sleep(2 * time.Second)
	}

	slog.Warn("未获取到迁移锁，跳过迁移", "lock", MigrateLockName)
	return nil
}
