package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"watchy/internal/domain"
	"watchy/internal/downloader"
	"watchy/internal/resolver"
	"watchy/internal/service"
	"watchy/internal/storage"
)

type Resolver interface {
	Resolve(ctx context.Context, magnet string) (domain.Resolution, error)
}

type Queue interface {
	Submit(url string, opts downloader.SubmitOptions) domain.DownloadJob
	Snapshot() []domain.DownloadJob
}

type EventSource interface {
	Subscribe(fn func(domain.DownloadEvent)) func()
}

// Dependencies are the services exposed over HTTP. Storage and Metrics are optional.
type Dependencies struct {
	Resolver Resolver
	Queue    Queue
	Events   EventSource
	Library  service.LibraryService
	Auth     service.AuthService
	Storage  storage.Service
	Metrics  http.Handler
	Logger   *logrus.Logger
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	deps      Dependencies
	keepalive time.Duration
}

func NewHandler(deps Dependencies) *Handler {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	return &Handler{deps: deps, keepalive: 15 * time.Second}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	if h.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.deps.Metrics))
	}

	api := router.Group("/api")
	api.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})
	api.POST("/auth/token", h.issueToken)

	protected := api.Group("")
	protected.Use(h.authMiddleware())
	{
		protected.POST("/resolve", h.resolve)
		protected.POST("/downloads", h.submitDownloads)
		protected.POST("/magnets/download", h.downloadMagnet)
		protected.GET("/downloads", h.listDownloads)
		protected.GET("/downloads/events", h.streamEvents)

		protected.GET("/history", h.listHistory)
		protected.DELETE("/history", h.clearHistory)
		protected.DELETE("/history/:id", h.removeHistory)

		protected.GET("/watched", h.listWatched)
		protected.POST("/watched", h.recordPlay)
		protected.DELETE("/watched", h.clearWatched)
		protected.DELETE("/watched/:id", h.removeWatched)
		protected.DELETE("/watched/:id/files", h.resetWatchedFile)

		protected.GET("/library/searches", h.listSavedSearches)
		protected.POST("/library/searches", h.saveSearch)
		protected.DELETE("/library/searches/:id", h.removeSavedSearch)
		protected.GET("/library/magnets", h.listSavedMagnets)
		protected.POST("/library/magnets", h.saveMagnet)
		protected.DELETE("/library/magnets/:id", h.removeSavedMagnet)

		protected.GET("/storage/objects", h.listObjects)
		protected.DELETE("/storage/objects", h.deleteObjects)
		protected.GET("/storage/objects/url", h.objectURL)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// authMiddleware accepts a bearer token, or a token query parameter for
// EventSource clients that cannot set headers.
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.deps.Auth == nil || !h.deps.Auth.Enabled() {
			c.Next()
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" || h.deps.Auth.VerifyToken(token) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

type tokenRequest struct {
	Password string `json:"password" binding:"required"`
}

func (h *Handler) issueToken(c *gin.Context) {
	if h.deps.Auth == nil || !h.deps.Auth.Enabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "authentication is not configured"})
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, expires, err := h.deps.Auth.IssueToken(req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires.Format(time.RFC3339)})
}

type resolveRequest struct {
	Magnet string `json:"magnet" binding:"required"`
}

func (h *Handler) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.deps.Resolver.Resolve(c.Request.Context(), req.Magnet)
	if err != nil {
		h.resolveError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolutionToResponse(res))
}

func (h *Handler) resolveError(c *gin.Context, err error) {
	var stepErr *resolver.StepError
	if errors.As(err, &stepErr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "step": stepErr.Step})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *Handler) listObjects(c *gin.Context) {
	if h.deps.Storage == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "storage service not configured"})
		return
	}

	objects, err := h.deps.Storage.ListObjects(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]StorageObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) deleteObjects(c *gin.Context) {
	if h.deps.Storage == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "storage service not configured"})
		return
	}

	prefix := strings.TrimSpace(c.Query("prefix"))
	if prefix == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prefix is required"})
		return
	}

	if err := h.deps.Storage.DeletePrefix(c.Request.Context(), prefix); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// objectURL presigns a mirrored object for direct playback. expires is in seconds.
func (h *Handler) objectURL(c *gin.Context) {
	if h.deps.Storage == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "storage service not configured"})
		return
	}

	key := strings.TrimSpace(c.Query("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	expires := storage.DefaultURLExpiry
	if raw := c.Query("expires"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expires must be a positive number of seconds"})
			return
		}
		expires = time.Duration(seconds) * time.Second
	}

	signed, err := h.deps.Storage.ObjectURL(c.Request.Context(), key, expires)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ObjectURLResponse{
		Key:       key,
		URL:       signed,
		ExpiresAt: time.Now().Add(expires).UTC().Format(time.RFC3339),
	})
}
