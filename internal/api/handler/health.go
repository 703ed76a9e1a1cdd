package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/jkwok/photosense/internal/repository"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db   *gorm.DB
	jobs *repository.JobRepository
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *gorm.DB, jobs *repository.JobRepository) *HealthHandler {
	return &HealthHandler{db: db, jobs: jobs}
}

// Health returns the health status of the service, including database
// reachability and the live analysis queue depth.
func (h *HealthHandler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  "database unreachable: " + err.Error(),
		})
		return
	}

	depth, err := h.jobs.LiveCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  "queue depth unavailable: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"queue_depth": depth,
	})
}
