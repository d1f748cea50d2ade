package api

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pdfqa/internal/auth"
	"pdfqa/internal/models"
	"pdfqa/internal/service/ai"
	"pdfqa/internal/service/document"
	"pdfqa/internal/session"
	"pdfqa/internal/worker"
)

//go:embed web/index.html
var indexHTML []byte

const (
	infoNoDocument = "Please upload a PDF to begin."
	// multipart framing around the file itself
	multipartOverhead = 1 << 20
)

// StatsReporter exposes worker pool counters for the health endpoint.
type StatsReporter interface {
	Stats() (workers, idle, pending int)
}

// Handler wires HTTP routes to the session service.
type Handler struct {
	sessions  *session.Service
	registry  *session.Registry
	auth      *auth.Service
	stats     StatsReporter
	modelName string
	logger    *zap.Logger
}

// NewHandler constructs a Handler instance. stats may be nil.
func NewHandler(sessions *session.Service, registry *session.Registry, authService *auth.Service, stats StatsReporter, modelName string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions:  sessions,
		registry:  registry,
		auth:      authService,
		stats:     stats,
		modelName: modelName,
		logger:    logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	router.GET("/", h.auth.Middleware(), h.index)

	api := router.Group("/api")
	api.Use(h.auth.Middleware(), h.auth.CSRFMiddleware())
	api.GET("/session", h.getSession)
	api.POST("/upload", h.upload)
	api.POST("/ask", h.ask)
	api.DELETE("/session", h.endSession)
}

func (h *Handler) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (h *Handler) health(c *gin.Context) {
	body := gin.H{"status": "ok", "sessions": h.registry.Len(), "model": h.modelName}
	if h.stats != nil {
		workers, idle, pending := h.stats.Stats()
		body["workers"] = workers
		body["idle_workers"] = idle
		body["pending_jobs"] = pending
	}
	c.JSON(http.StatusOK, body)
}

// currentSession resolves the cookie session, writing the error response on failure.
func (h *Handler) currentSession(c *gin.Context) (*session.Session, bool) {
	id, ok := auth.SessionIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required", "kind": "SessionError"})
		return nil, false
	}
	sess, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "SessionError"})
		return nil, false
	}
	return sess, true
}

func (h *Handler) getSession(c *gin.Context) {
	sess, ok := h.currentSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.sessionBody(sess.View()))
}

func (h *Handler) sessionBody(view session.View) gin.H {
	body := gin.H{
		"session_id": view.ID,
		"state":      view.State,
		"loading":    view.Loading,
		"model":      h.modelName,
	}
	if view.Document != nil {
		body["document"] = view.Document
		if view.Document.Truncated {
			body["notice"] = truncationNotice(view.Document)
		}
	}
	if view.LastAnswer != nil {
		body["last_answer"] = view.LastAnswer
	}
	if view.State == models.StateNoDocument {
		body["info"] = infoNoDocument
	}
	return body
}

func truncationNotice(doc *models.Document) string {
	return fmt.Sprintf("Only the first %d of %d characters are used to answer questions.", document.MaxContextChars, doc.TotalChars)
}

func (h *Handler) upload(c *gin.Context) {
	sess, ok := h.currentSession(c)
	if !ok {
		return
	}
	limit := h.sessions.MaxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(c, fmt.Errorf("%w: %w", session.ErrUpload, session.ErrTooLarge))
			return
		}
		h.writeError(c, fmt.Errorf("%w: file is required", session.ErrUpload))
		return
	}
	if file.Size > limit {
		h.writeError(c, fmt.Errorf("%w: %w: limit is %d bytes", session.ErrUpload, session.ErrTooLarge, limit))
		return
	}
	f, err := file.Open()
	if err != nil {
		h.writeError(c, fmt.Errorf("%w: open file: %v", session.ErrUpload, err))
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	_ = f.Close()
	if err != nil {
		h.writeError(c, fmt.Errorf("%w: read file: %v", session.ErrUpload, err))
		return
	}

	doc, err := h.sessions.Upload(c.Request.Context(), sess, file.Filename, data)
	if err != nil {
		h.writeError(c, err)
		return
	}
	body := h.sessionBody(sess.View())
	body["document"] = doc
	c.JSON(http.StatusCreated, body)
}

type askRequest struct {
	Question string `json:"question"`
}

func (h *Handler) ask(c *gin.Context) {
	sess, ok := h.currentSession(c)
	if !ok {
		return
	}
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "kind": "BadRequest"})
		return
	}
	answer, err := h.sessions.Ask(c.Request.Context(), sess, req.Question)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if answer == nil {
		c.JSON(http.StatusOK, gin.H{"skipped": true, "state": sess.State()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer, "state": sess.State()})
}

func (h *Handler) endSession(c *gin.Context) {
	id, ok := auth.SessionIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required", "kind": "SessionError"})
		return
	}
	if err := h.registry.End(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	h.auth.ClearCookies(c)
	c.Status(http.StatusNoContent)
}

// writeError maps the error taxonomy onto status codes. Every error reaches
// the user; server-side failures are logged as well.
func (h *Handler) writeError(c *gin.Context, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("kind", kind), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "UploadError"
	case errors.Is(err, session.ErrUpload):
		return http.StatusBadRequest, "UploadError"
	case errors.Is(err, document.ErrExtraction):
		return http.StatusUnprocessableEntity, "ExtractionError"
	case errors.Is(err, ai.ErrGeneration):
		return http.StatusBadGateway, "GenerationError"
	case errors.Is(err, session.ErrNoDocument):
		return http.StatusBadRequest, "NoDocument"
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict, "Busy"
	case errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict, "Superseded"
	case errors.Is(err, session.ErrEnded), errors.Is(err, worker.ErrJobCanceled):
		return http.StatusConflict, "SessionEnded"
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests, "ServerBusy"
	case errors.Is(err, worker.ErrDispatcherStopped):
		return http.StatusServiceUnavailable, "Unavailable"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}
