package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cipherchat/backend/config"
	"cipherchat/backend/internal/bus"
	"cipherchat/backend/internal/cache"
	"cipherchat/backend/internal/chat"
	"cipherchat/backend/internal/credential"
	"cipherchat/backend/internal/export"
	"cipherchat/backend/internal/httpapi/handlers"
	"cipherchat/backend/internal/limit"
	"cipherchat/backend/internal/presence"
	"cipherchat/backend/internal/store"
	"cipherchat/backend/internal/ws"
)

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if !cfg.Production() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func openStore(cfg *config.Config) (store.RoomStore, error) {
	if cfg.Mysql.DSN == "" {
		log.Warn().Msg("mysql.dsn not set, rooms are kept in memory")
		return store.NewMemoryStore(credential.NewInviteCode), nil
	}
	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		return nil, err
	}
	return store.NewGormRoomStore(db, credential.NewInviteCode), nil
}

func corsConfig(cfg *config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.Cors.AllowOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.Cors.AllowOrigins
	}
	return c
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("init config failed")
	}
	setupLogger(cfg)
	log.Info().Interface("config", redacted(cfg)).Msg("config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rooms, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open room store failed")
	}

	b := bus.New()

	var mirror cache.PresenceMirror
	var trackerOpts []presence.Option
	if len(cfg.Redis.Addrs) > 0 {
		// 单个地址为单机客户端，多个地址为集群客户端
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("ping redis failed")
		}
		defer rdb.Close()
		mirror = cache.NewRedisPresence(rdb)
		trackerOpts = append(trackerOpts, presence.WithMirror(mirror))
	}
	tracker := presence.NewTracker(b, trackerOpts...)

	// === Kafka 事件导出（可选）===
	var dispatcher *export.KafkaDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := export.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.ClientID)
		if err != nil {
			log.Fatal().Err(err).Msg("connect kafka failed")
		}
		defer producer.Close()
		dispatcher = export.NewKafkaDispatcher(
			producer,
			cfg.Kafka.Topic,
			limit.NewSemaphoreControl(cfg.Kafka.MaxInflight),
			export.KafkaDispatcherOptions{
				QueueSize:   cfg.Kafka.QueueSize,
				Workers:     cfg.Kafka.Workers,
				MaxRetry:    cfg.Kafka.MaxRetry,
				BaseBackoff: cfg.Kafka.BaseBackoff,
				MaxBackoff:  cfg.Kafka.MaxBackoff,
			},
		)
		dispatcher.Attach(b)
	}

	svc := chat.NewService(rooms, b)
	mod := chat.NewModeration(rooms, b)
	sessions := chat.NewSessions(rooms, b, tracker, chat.SessionOptions{
		SuppressEcho: cfg.Chat.SuppressEcho,
		LeaveTimeout: cfg.Chat.LeaveTimeout,
	})
	manager := ws.NewManager(sessions, limit.NewSemaphoreControl(cfg.Chat.MaxConnections), ws.ManagerOptions{
		ReadLimit:      cfg.Chat.MessageFrameMaxSize,
		AllowedOrigins: cfg.Cors.AllowOrigins,
	})
	h := handlers.NewChatHandler(svc, mod, mirror)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(corsConfig(cfg)))

	// 路由
	h.Register(r)
	r.GET("/chat/ws", manager.WebSocketConnect)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Running.Port).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if dispatcher != nil {
			if derr := dispatcher.Stop(shutdownCtx); derr != nil {
				log.Warn().Err(derr).Msg("export queue not drained")
			}
		}
		return err
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited")
		return
	}
	log.Info().Msg("server stopped")
}

// redacted 日志里不打印凭证
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	if c.Mysql.DSN != "" {
		c.Mysql.DSN = "***"
	}
	if c.Redis.Password != "" {
		c.Redis.Password = "***"
	}
	return c
}
