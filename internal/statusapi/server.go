// Package statusapi serves the read-only upload status endpoints over HTTP.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"catalogimport/internal/logging"
	"catalogimport/internal/model"
	"catalogimport/internal/storage"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
}

// DefaultServerConfig returns the listener defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// UploadSummary is one entry of the status listing.
type UploadSummary struct {
	ID        string       `json:"id"`
	FileName  string       `json:"file_name"`
	Status    model.Status `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// UploadDetail is the single-upload view. The staged path is server-local
// and never returned.
type UploadDetail struct {
	UploadSummary
	Checksum  string    `json:"checksum,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func summarize(j model.UploadJob) UploadSummary {
	return UploadSummary{ID: j.ID, FileName: j.FileName, Status: j.Status, CreatedAt: j.CreatedAt}
}

// Server exposes upload status as JSON.
type Server struct {
	uploads storage.UploadRepository
	log     *slog.Logger

	engine     *gin.Engine
	httpServer *http.Server
}

// NewServer builds the router; call Run to listen.
func NewServer(uploads storage.UploadRepository, cfg ServerConfig, logger *slog.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		uploads: uploads,
		log:     logging.OrDiscard(logger),
		engine:  gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.routes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/uploads/status", s.listUploads)
	s.engine.GET("/uploads/:id", s.getUpload)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("status api listening", slog.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status api: shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// listUploads returns uploads newest first. ?limit= caps the count.
func (s *Server) listUploads(c *gin.Context) {
	limit := storage.DefaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	jobs, err := s.uploads.ListUploads(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("list uploads failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list uploads"})
		return
	}

	out := make([]UploadSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, summarize(j))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getUpload(c *gin.Context) {
	id := c.Param("id")
	job, err := s.uploads.GetUpload(c.Request.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "upload not found", "id": id})
		return
	case err != nil:
		s.log.Error("get upload failed", slog.String("job_id", id), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load upload"})
		return
	}
	c.JSON(http.StatusOK, UploadDetail{
		UploadSummary: summarize(job),
		Checksum:      job.Checksum,
		UpdatedAt:     job.UpdatedAt,
	})
}

// requestLog logs one line per request through the injected logger.
func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
