package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jkwok/photosense/internal/geometry"
	"github.com/jkwok/photosense/internal/pipeline"
	"github.com/jkwok/photosense/internal/service"
)

// FaceHandler handles face and person endpoints.
type FaceHandler struct {
	faces       *service.FaceService
	photos      *service.PhotoService
	coordinator *pipeline.Coordinator
}

// NewFaceHandler creates a new face handler.
// Parameters:
//   - faces: face service instance.
//   - photos: photo service instance.
//   - coordinator: analysis pipeline coordinator.
// Returns:
//   - *FaceHandler: initialized handler.
func NewFaceHandler(faces *service.FaceService, photos *service.PhotoService, coordinator *pipeline.Coordinator) *FaceHandler {
	return &FaceHandler{
		faces:       faces,
		photos:      photos,
		coordinator: coordinator,
	}
}

// ListFaces handles GET /api/v1/photos/:id/faces. Boxes are returned in
// natural pixel coordinates.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *FaceHandler) ListFaces(c *gin.Context) {
	faces, err := h.faces.ListFaces(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrPhotoNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Photo not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list faces: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"faces": faces,
		"total": len(faces),
	})
}

// Detect handles POST /api/v1/photos/:id/faces/detect. A fresh detection
// pass replaces detector-origin faces; manually drawn faces survive.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *FaceHandler) Detect(c *gin.Context) {
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

	job, err := h.coordinator.RequestRedetect(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, pipeline.ErrAnalysisInProgress) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Analysis already in progress",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to schedule detection: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// addFaceRequest accepts a box either in natural pixels (bbox) or in
// display space (display_bbox plus the rendered display_size).
type addFaceRequest struct {
	BBox        *geometry.Rect        `json:"bbox,omitempty"`
	DisplayBBox *geometry.DisplayRect `json:"display_bbox,omitempty"`
	DisplaySize *geometry.Size        `json:"display_size,omitempty"`
	PersonID    string                `json:"person_id,omitempty"`
	PersonName  string                `json:"person_name,omitempty"`
}

// AddFace handles POST /api/v1/photos/:id/faces for manually drawn faces.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *FaceHandler) AddFace(c *gin.Context) {
	var req addFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	id := c.Param("id")
	detail, err := h.photos.Get(c.Request.Context(), id)
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

	var box geometry.Rect
	switch {
	case req.BBox != nil:
		box = *req.BBox
	case req.DisplayBBox != nil && req.DisplaySize != nil:
		natural := geometry.Size{Width: detail.Photo.Width, Height: detail.Photo.Height}
		box = geometry.ToNatural(*req.DisplayBBox, natural, *req.DisplaySize)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Either bbox or display_bbox with display_size is required",
		})
		return
	}

	face, err := h.faces.AddManualFace(c.Request.Context(), id, box, req.PersonID, req.PersonName)
	if err != nil {
		if errors.Is(err, service.ErrInvalidBounds) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Bounding box outside image bounds",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to add face: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, face)
}

type labelFaceRequest struct {
	PersonID   string `json:"person_id,omitempty"`
	PersonName string `json:"person_name,omitempty"`
}

// LabelFace handles POST /api/v1/faces/:id/label.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *FaceHandler) LabelFace(c *gin.Context) {
	var req labelFaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	if req.PersonID == "" && req.PersonName == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Either person_id or person_name is required",
		})
		return
	}

	face, err := h.faces.LabelFace(c.Request.Context(), c.Param("id"), req.PersonID, req.PersonName)
	if err != nil {
		if errors.Is(err, service.ErrFaceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Face not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to label face: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, face)
}

// RemoveFace handles DELETE /api/v1/faces/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *FaceHandler) RemoveFace(c *gin.Context) {
	if err := h.faces.RemoveFace(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, service.ErrFaceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Face not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to remove face: " + err.Error(),
		})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListPersons handles GET /api/v1/persons.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *FaceHandler) ListPersons(c *gin.Context) {
	persons, err := h.faces.ListPersons(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list persons: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"persons": persons,
		"total":   len(persons),
	})
}

// ListPersonFaces handles GET /api/v1/persons/:id/faces, returning every
// face bound to the person across all photos.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *FaceHandler) ListPersonFaces(c *gin.Context) {
	faces, err := h.faces.PersonFaces(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrPersonNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Person not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list person faces: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"faces": faces,
		"total": len(faces),
	})
}

type renamePersonRequest struct {
	Name string `json:"name" binding:"required"`
}

// RenamePerson handles PATCH /api/v1/persons/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *FaceHandler) RenamePerson(c *gin.Context) {
	var req renamePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	person, err := h.faces.RenamePerson(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		if errors.Is(err, service.ErrPersonNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Person not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to rename person: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, person)
}
