package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"watchy/internal/domain"
	"watchy/internal/downloader"
	"watchy/internal/magnet"
)

type submitRequest struct {
	URL         string   `json:"url"`
	URLs        []string `json:"urls"`
	Directory   string   `json:"directory"`
	MagnetTitle string   `json:"magnet_title"`
}

func (h *Handler) submitDownloads(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	urls := req.URLs
	if req.URL != "" {
		urls = append([]string{req.URL}, urls...)
	}
	if len(urls) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url or urls is required"})
		return
	}

	opts := downloader.SubmitOptions{Directory: req.Directory, MagnetTitle: req.MagnetTitle}
	jobs := make([]JobResponse, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u == "" {
			continue
		}
		jobs = append(jobs, jobToResponse(h.deps.Queue.Submit(u, opts)))
	}
	c.JSON(http.StatusAccepted, jobs)
}

type magnetDownloadRequest struct {
	Magnet    string `json:"magnet" binding:"required"`
	Title     string `json:"title"`
	Directory string `json:"directory"`
}

// downloadMagnet resolves a magnet and queues every resolved file under the
// magnet title.
func (h *Handler) downloadMagnet(c *gin.Context) {
	var req magnetDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.deps.Resolver.Resolve(c.Request.Context(), req.Magnet)
	if err != nil {
		h.resolveError(c, err)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = magnet.DisplayName(req.Magnet)
	}
	if title == "" {
		title = res.Hash
	}

	resp := gin.H{"status": res.Status, "message": res.Message(), "hash": res.Hash}
	if res.Status != domain.ResolutionReady {
		code := http.StatusAccepted
		if res.Status == domain.ResolutionNoFiles {
			code = http.StatusOK
		}
		c.JSON(code, resp)
		return
	}

	opts := downloader.SubmitOptions{Directory: req.Directory, MagnetTitle: title}
	jobs := make([]JobResponse, 0, len(res.Files))
	for _, f := range res.Files {
		jobs = append(jobs, jobToResponse(h.deps.Queue.Submit(f.DirectURL, opts)))
	}
	resp["jobs"] = jobs
	c.JSON(http.StatusAccepted, resp)
}

func (h *Handler) listDownloads(c *gin.Context) {
	jobs := h.deps.Queue.Snapshot()
	resp := make([]JobResponse, len(jobs))
	for i := range jobs {
		resp[i] = jobToResponse(jobs[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) streamEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	updates := make(chan domain.DownloadEvent, 64)
	unsubscribe := h.deps.Events.Subscribe(func(event domain.DownloadEvent) {
		select {
		case updates <- event:
		default:
			h.deps.Logger.WithField("job_id", event.JobID).Warn("event stream client too slow, dropping event")
		}
	})
	defer unsubscribe()

	for _, job := range h.deps.Queue.Snapshot() {
		event := domain.EventFromJob(job, job.State)
		sendEvent(c, &event)
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case event := <-updates:
			sendEvent(c, &event)
		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		}
	}
}

func sendEvent(c *gin.Context, event *domain.DownloadEvent) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(c.Writer, "event: download\n")
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	c.Writer.Flush()
}
