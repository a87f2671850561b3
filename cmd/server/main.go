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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/puzzle-race/internal"
	"github.com/koopa0/system-design/puzzle-race/internal/migrations"
	"github.com/koopa0/system-design/puzzle-race/pkg/logger"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "config.yaml", "配置檔路徑")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置檔）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	cfg, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "載入配置失敗: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	// 設置日誌
	log, err := logger.New(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		AddSource: cfg.Log.Level == "debug", // debug 模式顯示源碼位置
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "建立日誌失敗: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	opts, closeStores, err := setupStores(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Error("初始化儲存失敗", "error", err)
		os.Exit(1)
	}
	defer closeStores()

	// 創建房間管理器
	manager := internal.NewManager(cfg.Game, log, opts...)

	// 創建 WebSocket Hub（同時成為管理器的事件投遞）
	wsHub := internal.NewWebSocketHub(manager, cfg.WebSocket, log)

	// 創建 HTTP 處理器
	handler := internal.NewHandler(manager, wsHub, cfg.Server.PublicURL, log)

	// 設置路由
	mux := http.NewServeMux()

	// HTTP API 路由
	mux.Handle("/", handler.Routes())

	// WebSocket 路由：/ws 進入預設房間
	mux.HandleFunc("/ws", wsHub.ServeWS)
	mux.HandleFunc("/ws/rooms/{room_id}", wsHub.ServeWS)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 啟動服務器
	go func() {
		log.Info("拼圖競賽服務器啟動",
			"port", cfg.Server.Port,
			"default_room", cfg.Game.DefaultRoom,
			"game_duration", cfg.Game.Duration,
			"log_level", cfg.Log.Level)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("收到關閉信號，開始優雅關閉...")

	// 優雅關閉
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// 停止接受新連接
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
	}

	// 停止 WebSocket Hub
	wsHub.Stop()

	// 停止房間管理器（寫完待歸檔的對局）
	manager.Stop()

	log.Info("服務器已關閉")
}

// setupStores 依配置連接 PostgreSQL 與 Redis，未配置時使用記憶體實作
func setupStores(ctx context.Context, cfg *internal.Config, log *slog.Logger) ([]internal.Option, func(), error) {
	var (
		opts    []internal.Option
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Postgres.DSN != "" {
		migrator, err := migrations.New(cfg.Postgres.DSN, log)
		if err != nil {
			return nil, closeAll, fmt.Errorf("create migrator: %w", err)
		}
		err = migrator.Up()
		if closeErr := migrator.Close(); closeErr != nil {
			log.Warn("關閉遷移管理器失敗", "error", closeErr)
		}
		if err != nil {
			return nil, closeAll, fmt.Errorf("run migrations: %w", err)
		}

		poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			return nil, closeAll, fmt.Errorf("parse postgres dsn: %w", err)
		}
		poolCfg.MaxConns = cfg.Postgres.MaxConns
		poolCfg.MinConns = cfg.Postgres.MinConns

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, closeAll, fmt.Errorf("create postgres pool: %w", err)
		}
		closers = append(closers, pool.Close)

		if err := pool.Ping(ctx); err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("ping postgres: %w", err)
		}

		opts = append(opts, internal.WithMatchStore(internal.NewPostgresMatchStore(pool, log)))
		log.Info("對局紀錄使用 PostgreSQL")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				log.Warn("關閉 Redis 連線失敗", "error", err)
			}
		})

		if err := client.Ping(ctx).Err(); err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("ping redis: %w", err)
		}

		opts = append(opts, internal.WithLeaderboard(internal.NewRedisLeaderboard(client, cfg.Redis.LeaderboardKey, log)))
		log.Info("排行榜使用 Redis", "addr", cfg.Redis.Addr)
	}

	return opts, closeAll, nil
}
