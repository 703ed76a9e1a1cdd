package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jkwok/photosense/internal/cache"
	"github.com/jkwok/photosense/internal/config"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/pipeline"
	"github.com/jkwok/photosense/internal/repository"
	"github.com/jkwok/photosense/internal/service"
	"github.com/jkwok/photosense/internal/storage"
)

// A standalone pipeline worker. Runs the same coordinator the API binary
// embeds, for deployments that scale analysis throughput independently of
// the HTTP surface. The queue claim is a conditional update that refuses
// jobs for photos with work already processing, so any number of worker
// processes can share one database.
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		LogFile:     cfg.Log.File,
		ServiceName: "photosense-worker",
	})
	defer logger.Sync()

	ctx := context.Background()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Qdrant.Dimensions,
	})
	if err != nil {
		log.Fatalf("Failed to initialize Qdrant: %v", err)
	}
	defer qdrantRepo.Close()

	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		log.Fatalf("Failed to ensure Qdrant collection: %v", err)
	}

	objectStorage, err := storage.NewStorage(&storage.S3Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		log.Fatalf("Failed to ensure storage bucket: %v", err)
	}

	var photoCache *cache.Cache
	if cfg.Redis.Enabled {
		photoCache = cache.New(&cache.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			SearchTTL: cfg.Search.CacheTTL,
		})
		if err := photoCache.Ping(ctx); err != nil {
			logger.CtxWarn(ctx, "Redis unreachable, running without cache: error=%v", err)
			photoCache = nil
		}
	}

	coordinator := pipeline.NewCoordinator(cfg.Pipeline, cfg.Search.FaceSimilarity, pipeline.Deps{
		Photos:   repository.NewPhotoRepository(db),
		Analyses: repository.NewAnalysisRepository(db),
		Faces:    repository.NewFaceRepository(db),
		Jobs:     repository.NewJobRepository(db),
		Vectors:  qdrantRepo,
		Storage:  objectStorage,
		Cache:    photoCache,
		VLM: service.NewVLMService(&service.VLMConfig{
			FastModel: cfg.VLM.FastModel,
			DeepModel: cfg.VLM.DeepModel,
			APIKey:    cfg.VLM.APIKey,
			BaseURL:   cfg.VLM.BaseURL,
		}),
		Embedder: service.NewEmbeddingService(&service.EmbeddingConfig{
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Dimensions: cfg.Embedding.Dimensions,
		}),
		Detector: service.NewFaceDetectService(&service.FaceDetectConfig{
			BaseURL:    cfg.Detector.BaseURL,
			APIKey:     cfg.Detector.APIKey,
			Timeout:    cfg.Pipeline.FaceTimeout,
			MinQuality: cfg.Detector.MinQuality,
		}),
		Log: appLogger,
	})

	coordinator.Start(ctx)
	logger.CtxInfo(ctx, "Worker started: workers=%d", cfg.Pipeline.Workers)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.CtxInfo(ctx, "Shutting down worker")
	coordinator.Stop()
	logger.CtxInfo(ctx, "Worker exited")
}
