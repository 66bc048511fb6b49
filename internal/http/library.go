package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"watchy/internal/domain"
	"watchy/internal/repository"
	"watchy/internal/service"
)

func (h *Handler) listHistory(c *gin.Context) {
	history, err := h.deps.Library.DownloadHistory(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *Handler) removeHistory(c *gin.Context) {
	if err := h.deps.Library.RemoveDownloadHistory(c.Request.Context(), c.Param("id")); err != nil {
		writeLibraryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearHistory(c *gin.Context) {
	if err := h.deps.Library.ClearDownloadHistory(c.Request.Context()); err != nil {
		writeLibraryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listWatched(c *gin.Context) {
	history, err := h.deps.Library.WatchHistory(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, history)
}

type recordPlayRequest struct {
	MagnetHash  string `json:"magnet_hash" binding:"required"`
	MagnetTitle string `json:"magnet_title"`
	Filename    string `json:"filename" binding:"required"`
	StreamURL   string `json:"stream_url"`
}

func (h *Handler) recordPlay(c *gin.Context) {
	var req recordPlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.deps.Library.RecordPlay(c.Request.Context(), req.MagnetHash, req.MagnetTitle, req.Filename, req.StreamURL)
	if err != nil {
		writeLibraryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) removeWatched(c *gin.Context) {
	if err := h.deps.Library.RemoveWatchEntry(c.Request.Context(), c.Param("id")); err != nil {
		writeLibraryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) resetWatchedFile(c *gin.Context) {
	filename := c.Query("filename")
	if filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename is required"})
		return
	}
	if err := h.deps.Library.ResetFileWatched(c.Request.Context(), c.Param("id"), filename); err != nil {
		writeLibraryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearWatched(c *gin.Context) {
	if err := h.deps.Library.ClearWatchHistory(c.Request.Context()); err != nil {
		writeLibraryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type saveSearchRequest struct {
	Query string `json:"query" binding:"required"`
}

func (h *Handler) listSavedSearches(c *gin.Context) {
	searches, err := h.deps.Library.SavedSearches(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, searches)
}

func (h *Handler) saveSearch(c *gin.Context) {
	var req saveSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	search, err := h.deps.Library.AddSavedSearch(c.Request.Context(), req.Query)
	if err != nil {
		writeLibraryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, search)
}

func (h *Handler) removeSavedSearch(c *gin.Context) {
	if err := h.deps.Library.RemoveSavedSearch(c.Request.Context(), c.Param("id")); err != nil {
		writeLibraryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type saveMagnetRequest struct {
	Title          string  `json:"title"`
	Magnet         string  `json:"magnet" binding:"required"`
	Size           string  `json:"size"`
	Seeds          int     `json:"seeds"`
	Leeches        int     `json:"leeches"`
	ImdbID         *string `json:"imdb_id"`
	CanonicalTitle *string `json:"canonical_title"`
}

func (h *Handler) listSavedMagnets(c *gin.Context) {
	magnets, err := h.deps.Library.SavedMagnets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, magnets)
}

func (h *Handler) saveMagnet(c *gin.Context) {
	var req saveMagnetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	item, err := h.deps.Library.AddSavedMagnet(c.Request.Context(), domain.SavedMagnet{
		Title:          req.Title,
		Magnet:         req.Magnet,
		Size:           req.Size,
		Seeds:          req.Seeds,
		Leeches:        req.Leeches,
		ImdbID:         req.ImdbID,
		CanonicalTitle: req.CanonicalTitle,
	})
	if err != nil {
		writeLibraryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) removeSavedMagnet(c *gin.Context) {
	if err := h.deps.Library.RemoveSavedMagnet(c.Request.Context(), c.Param("id")); err != nil {
		writeLibraryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeLibraryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrAlreadySaved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrEmptyLibraryItem):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
