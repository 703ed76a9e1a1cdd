package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jkwok/photosense/internal/service"
)

// SearchHandler handles search-related endpoints.
type SearchHandler struct {
	searchService *service.SearchService
}

// NewSearchHandler creates a new search handler.
// Parameters:
//   - searchService: search service instance.
// Returns:
//   - *SearchHandler: initialized handler.
func NewSearchHandler(searchService *service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// Search handles POST /api/v1/search.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) Search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	if req.OwnerID == "" {
		req.OwnerID = ownerID(c)
	}

	result, err := h.searchService.Search(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Search failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}

// History handles GET /api/v1/search/history, returning the caller's most
// recent queries newest first.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) History(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			limit = 20
		}
	}

	queries, err := h.searchService.History(c.Request.Context(), ownerID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load search history: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queries": queries,
		"total":   len(queries),
	})
}

// SearchGet handles GET /api/v1/search for simple search queries.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SearchHandler) SearchGet(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query parameter 'q' is required",
		})
		return
	}

	req := service.SearchRequest{
		Query:         query,
		OwnerID:       ownerID(c),
		SceneCategory: c.Query("scene_category"),
		TakenAfter:    c.Query("taken_after"),
		TakenBefore:   c.Query("taken_before"),
	}

	if topK := c.Query("top_k"); topK != "" {
		var topKInt int
		if _, err := fmt.Sscanf(topK, "%d", &topKInt); err == nil {
			req.TopK = topKInt
		}
	}

	result, err := h.searchService.Search(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Search failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, result)
}
