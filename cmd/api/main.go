package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jkwok/photosense/internal/api"
	"github.com/jkwok/photosense/internal/api/ws"
	"github.com/jkwok/photosense/internal/cache"
	"github.com/jkwok/photosense/internal/config"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/pipeline"
	"github.com/jkwok/photosense/internal/repository"
	"github.com/jkwok/photosense/internal/service"
	"github.com/jkwok/photosense/internal/storage"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		LogFile:     cfg.Log.File,
		ServiceName: "photosense-api",
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

	photoRepo := repository.NewPhotoRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	faceRepo := repository.NewFaceRepository(db)
	jobRepo := repository.NewJobRepository(db)
	historyRepo := repository.NewSearchHistoryRepository(db)

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

	vlmService := service.NewVLMService(&service.VLMConfig{
		FastModel: cfg.VLM.FastModel,
		DeepModel: cfg.VLM.DeepModel,
		APIKey:    cfg.VLM.APIKey,
		BaseURL:   cfg.VLM.BaseURL,
	})
	embeddingService := service.NewEmbeddingService(&service.EmbeddingConfig{
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
	})
	detectService := service.NewFaceDetectService(&service.FaceDetectConfig{
		BaseURL:    cfg.Detector.BaseURL,
		APIKey:     cfg.Detector.APIKey,
		Timeout:    cfg.Pipeline.FaceTimeout,
		MinQuality: cfg.Detector.MinQuality,
	})

	hub := ws.NewHub()
	go hub.Run()

	coordinator := pipeline.NewCoordinator(cfg.Pipeline, cfg.Search.FaceSimilarity, pipeline.Deps{
		Photos:   photoRepo,
		Analyses: analysisRepo,
		Faces:    faceRepo,
		Jobs:     jobRepo,
		Vectors:  qdrantRepo,
		Storage:  objectStorage,
		Cache:    photoCache,
		VLM:      vlmService,
		Embedder: embeddingService,
		Detector: detectService,
		Notifier: hub,
		Log:      appLogger,
	})
	coordinator.Start(ctx)

	photoService := service.NewPhotoService(
		photoRepo, analysisRepo, faceRepo, jobRepo,
		qdrantRepo, objectStorage, photoCache, coordinator, appLogger,
	)
	faceService := service.NewFaceService(faceRepo, photoRepo, appLogger)
	searchService := service.NewSearchService(
		analysisRepo, qdrantRepo, embeddingService, photoRepo,
		historyRepo, photoCache, appLogger,
		&service.SearchConfig{
			LexicalWeight: cfg.Search.LexicalWeight,
			VectorWeight:  cfg.Search.VectorWeight,
			TopK:          cfg.Search.TopK,
		},
	)

	router := api.SetupRouter(cfg, api.RouterDeps{
		DB:          db,
		Jobs:        jobRepo,
		Photos:      photoService,
		Faces:       faceService,
		Search:      searchService,
		Coordinator: coordinator,
		Hub:         hub,
		Logger:      appLogger,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.CtxInfo(ctx, "Starting API server: port=%d, mode=%s", cfg.Server.Port, cfg.Server.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.CtxInfo(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	coordinator.Stop()
	logger.CtxInfo(ctx, "Server exited")
}
