package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jkwok/photosense/internal/pipeline"
	"github.com/jkwok/photosense/internal/service"
)

// PhotoHandler handles photo lifecycle endpoints.
type PhotoHandler struct {
	photos      *service.PhotoService
	coordinator *pipeline.Coordinator
}

// NewPhotoHandler creates a new photo handler.
// Parameters:
//   - photos: photo service instance.
//   - coordinator: analysis pipeline coordinator.
// Returns:
//   - *PhotoHandler: initialized handler.
func NewPhotoHandler(photos *service.PhotoService, coordinator *pipeline.Coordinator) *PhotoHandler {
	return &PhotoHandler{
		photos:      photos,
		coordinator: coordinator,
	}
}

// ownerID resolves the calling owner from the X-Owner-ID header with a
// query parameter fallback.
func ownerID(c *gin.Context) string {
	if owner := c.GetHeader("X-Owner-ID"); owner != "" {
		return owner
	}
	return c.Query("owner_id")
}

// Upload handles POST /api/v1/photos.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *PhotoHandler) Upload(c *gin.Context) {
	owner := ownerID(c)
	if owner == "" {
		owner = c.PostForm("owner_id")
	}
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Owner is required (X-Owner-ID header or owner_id field)",
		})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid upload: " + err.Error(),
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read upload: " + err.Error(),
		})
		return
	}

	result, err := h.photos.Upload(c.Request.Context(), &service.UploadInput{
		OwnerID:  owner,
		Filename: header.Filename,
		Data:     data,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Upload failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, result)
}

// List handles GET /api/v1/photos.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *PhotoHandler) List(c *gin.Context) {
	owner := ownerID(c)
	if owner == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Owner is required (X-Owner-ID header or owner_id parameter)",
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	photos, total, err := h.photos.List(c.Request.Context(), owner, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list photos: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"photos": photos,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Get handles GET /api/v1/photos/:id. The response embeds the photo's
// analysis record when one exists, plus the running analysis elapsed time.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *PhotoHandler) Get(c *gin.Context) {
	detail, err := h.photos.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrPhotoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Photo not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load photo: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, detail)
}

// Update handles PATCH /api/v1/photos/:id for user-editable metadata.
// Absent fields stay untouched.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *PhotoHandler) Update(c *gin.Context) {
	var patch service.PhotoPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	photo, err := h.photos.UpdateMetadata(c.Request.Context(), c.Param("id"), &patch)
	if err != nil {
		if errors.Is(err, service.ErrPhotoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Photo not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update photo: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, photo)
}

// Delete handles DELETE /api/v1/photos/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *PhotoHandler) Delete(c *gin.Context) {
	if err := h.photos.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, service.ErrPhotoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Photo not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete photo: " + err.Error(),
		})
		return
	}

	c.Status(http.StatusNoContent)
}

type reanalyzeRequest struct {
	Model string `json:"model"`
}

// Reanalyze handles POST /api/v1/photos/:id/reanalyze. The request is
// accepted only while no tier is running or queued for the photo.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *PhotoHandler) Reanalyze(c *gin.Context) {
	var req reanalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	id := c.Param("id")
	if _, err := h.photos.Get(c.Request.Context(), id); err != nil {
		if errors.Is(err, service.ErrPhotoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Photo not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load photo: " + err.Error(),
		})
		return
	}

	job, err := h.coordinator.RequestReanalyze(c.Request.Context(), id, req.Model)
	if err != nil {
		if errors.Is(err, pipeline.ErrAnalysisInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Analysis already in progress",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to schedule reanalysis: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job": job})
}
