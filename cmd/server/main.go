package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/EvinKlif/radio/internal/broadcast"
	"github.com/EvinKlif/radio/internal/config"
	"github.com/EvinKlif/radio/internal/engine/pionengine"
	"github.com/EvinKlif/radio/internal/handler"
	"github.com/EvinKlif/radio/internal/hub"
	"github.com/EvinKlif/radio/internal/source"
	"github.com/EvinKlif/radio/internal/tracks"
	"github.com/EvinKlif/radio/pkg/log"
	"github.com/EvinKlif/radio/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.L().Fatal().Err(err).Msg("failed to load configuration")
	}
	log.Init(cfg.Log)
	logger := log.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := pionengine.New(pionengine.Config{ICEServers: cfg.WebRTC.GetICEServers()})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create media engine")
	}

	coordinator := broadcast.NewCoordinator()

	sourceMgr := source.NewManager(eng, coordinator, source.Config{
		ListenIP:          cfg.Ingest.ListenIP,
		Port:              cfg.Ingest.Port,
		IdleTimeout:       cfg.Ingest.IdleTimeout,
		RetryDelay:        cfg.Ingest.RetryDelay,
		ProvisionAttempts: cfg.Ingest.ProvisionAttempts,
	})
	if err := sourceMgr.ProvisionIngest(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to provision ingest")
	}
	defer sourceMgr.Close()
	logger.Info().Int("port", cfg.Ingest.Port).Msg("ingest listening")

	h := hub.NewHub(cfg.Hub)
	go h.Run()

	trackService, err := buildTrackService(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build track service")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(log.GinMiddleware(logger))

	handler.NewTrackHandler(trackService).RegisterRoutes(router)
	handler.NewHealthHandler(sourceMgr, coordinator).RegisterRoutes(router)

	mux := http.NewServeMux()
	handler.NewWSHandler(h, eng, sourceMgr, coordinator).RegisterRoutes(mux)
	mux.Handle("/", router)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

// buildTrackService wires the track library from config: GORM over
// Postgres or in-memory, local or S3 object storage, Redis or
// in-memory now-playing state.
func buildTrackService(ctx context.Context, cfg *config.Config) (*tracks.Service, error) {
	var repo tracks.Repository
	if cfg.Database.Enabled {
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		repo, err = tracks.NewGormRepository(db)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare track repository: %w", err)
		}
	} else {
		repo = tracks.NewMemoryRepository()
	}

	var store storage.Storage
	var err error
	switch cfg.Storage.Type {
	case "s3":
		store, err = storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:        cfg.Storage.S3.Endpoint,
			Region:          cfg.Storage.S3.Region,
			Bucket:          cfg.Storage.S3.Bucket,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			UsePathStyle:    cfg.Storage.S3.UsePathStyle,
			PublicURL:       cfg.Storage.S3.PublicURL,
		})
	default:
		store, err = storage.NewLocalStorage(cfg.Storage.Local.BasePath, "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build object storage: %w", err)
	}

	var playing tracks.NowPlayingStore
	if cfg.Redis.Enabled {
		playing, err = tracks.NewRedisNowPlayingStore(tracks.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect now-playing store: %w", err)
		}
	} else {
		playing = tracks.NewMemoryNowPlayingStore()
	}

	return tracks.NewService(repo, store, playing), nil
}
