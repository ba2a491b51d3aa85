// Package server exposes the conversion engine over HTTP and
// WebSocket. Decks are submitted by multipart upload or by remote URL;
// progress streams to WebSocket subscribers; rendered slides are served
// straight from the output directory.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	ppt2img "github.com/pengcunfu/YushuRobotPPT2IMG"
	"github.com/pengcunfu/YushuRobotPPT2IMG/engine"
	"github.com/pengcunfu/YushuRobotPPT2IMG/id"
	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

// Server serves the HTTP and WebSocket API in front of an Engine.
type Server struct {
	eng    *engine.Engine
	router *gin.Engine
	logger *slog.Logger
	cfg    ppt2img.Config
	http   *http.Server
}

// New creates a Server for the given engine.
func New(eng *engine.Engine, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		eng:    eng,
		router: router,
		logger: logger,
		cfg:    eng.Service().Config(),
	}

	router.POST("/upload", s.handleUpload)
	router.POST("/jobs", s.handleSubmitURL)
	router.GET("/jobs", s.handleListJobs)
	router.GET("/jobs/:id", s.handleGetJob)
	router.GET("/download/:id/:filename", s.handleDownload)
	router.GET("/stats", s.handleStats)
	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", s.handleWS)

	return s
}

// Handler returns the HTTP handler, used by tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	s.logger.Info("http server listening", slog.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// submitRequest is the JSON body for URL submissions.
type submitRequest struct {
	PPTURL      string `json:"ppt_url" binding:"required"`
	PPTName     string `json:"ppt_name"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	CallbackURL string `json:"callback_url"`
}

func (s *Server) handleUpload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	original := filepath.Base(file.Filename)
	if original == "" || original == "." {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
		return
	}

	// The job ID is assigned before admission so the stored file can be
	// named after it; recovery relies on that naming.
	jobID := id.NewJobID()
	storedName := jobID.String() + "_" + original
	storedPath := filepath.Join(s.cfg.UploadRoot, storedName)

	if err := c.SaveUploadedFile(file, storedPath); err != nil {
		s.logger.Error("upload save failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store upload"})
		return
	}

	opts := []job.Option{job.WithJobID(jobID)}
	opts = append(opts, renderOpts(c.PostForm("width"), c.PostForm("height"))...)
	if cb := c.PostForm("callback_url"); cb != "" {
		opts = append(opts, job.WithCallbackURL(cb))
	}

	j, err := s.eng.Submit(c.Request.Context(), job.Source{Name: original, Path: storedPath}, opts...)
	if err != nil {
		removeUpload(storedPath)
		s.writeSubmitError(c, err)
		return
	}

	c.JSON(http.StatusOK, submitResponse(j, storedName))
}

func (s *Server) handleSubmitURL(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ppt_url is required"})
		return
	}

	name := req.PPTName
	if name == "" {
		name = filepath.Base(req.PPTURL)
	}

	var opts []job.Option
	if req.Width > 0 {
		opts = append(opts, job.WithWidth(req.Width))
	}
	if req.Height > 0 {
		opts = append(opts, job.WithHeight(req.Height))
	}
	if req.CallbackURL != "" {
		opts = append(opts, job.WithCallbackURL(req.CallbackURL))
	}

	j, err := s.eng.Submit(c.Request.Context(), job.Source{Name: name, URL: req.PPTURL}, opts...)
	if err != nil {
		s.writeSubmitError(c, err)
		return
	}

	c.JSON(http.StatusOK, submitResponse(j, ""))
}

func (s *Server) handleListJobs(c *gin.Context) {
	opts := job.ListOpts{
		Limit:  intQuery(c, "limit", 50),
		Offset: intQuery(c, "offset", 0),
		Status: job.Status(c.Query("status")),
	}

	jobs, err := s.eng.Jobs(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleGetJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	j, err := s.eng.Job(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, ppt2img.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) handleDownload(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	filename := c.Param("filename")
	if filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filename"})
		return
	}

	j, err := s.eng.Job(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	found := false
	for _, a := range j.Result {
		if a.Filename == filename {
			found = true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	c.File(filepath.Join(s.cfg.OutputRoot, jobID.String(), filename))
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.eng.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":   stats,
		"stream": s.eng.Broker().Stats(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.eng.Service().Store().Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) writeSubmitError(c *gin.Context, err error) {
	var busy *ppt2img.BusyError
	if errors.As(err, &busy) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  fmt.Sprintf("server busy: %d of %d slots in use", busy.Active, busy.Limit),
			"active": busy.Active,
			"limit":  busy.Limit,
		})
		return
	}
	if errors.Is(err, ppt2img.ErrJobAlreadyExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "job already exists"})
		return
	}
	s.logger.Error("submission failed", slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "submission failed"})
}

func submitResponse(j *job.Job, storedName string) gin.H {
	resp := gin.H{
		"task_id":           j.ID.String(),
		"status":            string(j.Status),
		"original_filename": j.Source.Name,
		"created_at":        j.CreatedAt,
		"width":             j.Width,
		"height":            j.Height,
	}
	if storedName != "" {
		resp["filename"] = storedName
	}
	return resp
}

func renderOpts(widthStr, heightStr string) []job.Option {
	var opts []job.Option
	if w, err := strconv.Atoi(widthStr); err == nil && w > 0 {
		opts = append(opts, job.WithWidth(w))
	}
	if h, err := strconv.Atoi(heightStr); err == nil && h > 0 {
		opts = append(opts, job.WithHeight(h))
	}
	return opts
}

// removeUpload deletes a stored upload after a rejected submission so
// rejected jobs leave nothing on disk.
func removeUpload(path string) {
	_ = os.Remove(path)
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
