package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/jkwok/photosense/internal/api/handler"
	"github.com/jkwok/photosense/internal/api/middleware"
	"github.com/jkwok/photosense/internal/api/ws"
	"github.com/jkwok/photosense/internal/config"
	"github.com/jkwok/photosense/internal/logger"
	"github.com/jkwok/photosense/internal/pipeline"
	"github.com/jkwok/photosense/internal/repository"
	"github.com/jkwok/photosense/internal/service"
)

// RouterDeps bundles everything the HTTP surface needs.
type RouterDeps struct {
	DB          *gorm.DB
	Jobs        *repository.JobRepository
	Photos      *service.PhotoService
	Faces       *service.FaceService
	Search      *service.SearchService
	Coordinator *pipeline.Coordinator
	Hub         *ws.Hub
	Logger      *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.Config, deps RouterDeps) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(cfg.Server.CORS))

	healthHandler := handler.NewHealthHandler(deps.DB, deps.Jobs)
	photoHandler := handler.NewPhotoHandler(deps.Photos, deps.Coordinator)
	faceHandler := handler.NewFaceHandler(deps.Faces, deps.Photos, deps.Coordinator)
	searchHandler := handler.NewSearchHandler(deps.Search)

	// Health check
	r.GET("/health", healthHandler.Health)

	// Pipeline event stream
	if deps.Hub != nil {
		r.GET("/ws", deps.Hub.HandleWS)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Photos
		v1.POST("/photos", photoHandler.Upload)
		v1.GET("/photos", photoHandler.List)
		v1.GET("/photos/:id", photoHandler.Get)
		v1.PATCH("/photos/:id", photoHandler.Update)
		v1.DELETE("/photos/:id", photoHandler.Delete)
		v1.POST("/photos/:id/reanalyze", photoHandler.Reanalyze)

		// Faces
		v1.GET("/photos/:id/faces", faceHandler.ListFaces)
		v1.POST("/photos/:id/faces", faceHandler.AddFace)
		v1.POST("/photos/:id/faces/detect", faceHandler.Detect)
		v1.POST("/faces/:id/label", faceHandler.LabelFace)
		v1.DELETE("/faces/:id", faceHandler.RemoveFace)

		// Persons
		v1.GET("/persons", faceHandler.ListPersons)
		v1.GET("/persons/:id/faces", faceHandler.ListPersonFaces)
		v1.PATCH("/persons/:id", faceHandler.RenamePerson)

		// Search
		v1.GET("/search", searchHandler.SearchGet)
		v1.POST("/search", searchHandler.Search)
		v1.GET("/search/history", searchHandler.History)
	}

	return r
}
