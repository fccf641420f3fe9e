package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bitfantasy/nimo-pdm/internal/config"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/eventhub"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/lock"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/repository"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/service"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting nimo-pdm engine",
		zap.String("name", cfg.Server.Name),
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database, cfg.Log.Level)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := repository.AutoMigrate(db); err != nil {
		zapLogger.Fatal("AutoMigrate failed", zap.Error(err))
	}

	hub := eventhub.NewHub(zapLogger)
	defer hub.Close()

	// 分布式锁：启用 Redis 时跨进程串行，否则进程内
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Enabled {
		rdb, err := initRedis(cfg.Redis)
		if err != nil {
			zapLogger.Fatal("Failed to connect to redis", zap.String("addr", cfg.Redis.Addr()), zap.Error(err))
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb)
		hub.AddSink(eventhub.NewRedisSink(rdb, cfg.Redis.Channel))
		zapLogger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()), zap.String("channel", cfg.Redis.Channel))
	}

	repos := repository.NewRepositories(db)
	svc := service.NewServices(repos, locker, hub, service.OptionsFromConfig(cfg.Engine), zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	recalc := service.NewRecalcWorker(hub, svc.Project, cfg.Engine.EventBuffer, cfg.Engine.Actor, zapLogger)
	sweeper := service.NewOverdueSweeper(svc.Project, cfg.Engine.OverdueSweepInterval, zapLogger)
	wg.Add(2)
	go func() {
		defer wg.Done()
		recalc.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	// 优雅关闭
	<-ctx.Done()
	zapLogger.Info("Shutting down engine...")

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(cfg.Server.ShutdownTimeout):
		zapLogger.Error("Workers did not stop in time", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Engine exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig, level string) (*gorm.DB, error) {
	logMode := logger.Warn
	if level == "debug" {
		logMode = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logMode),
		TranslateError: true,
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}
