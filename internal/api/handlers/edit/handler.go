// Package edit provides the HTTP handlers for the editing API: uploading
// input images, creating edit tasks and reading their status.
package edit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/formyhq/editflow/internal/api/respond"
	"github.com/formyhq/editflow/internal/billing"
	"github.com/formyhq/editflow/internal/model"
	"github.com/formyhq/editflow/internal/queue"
	"github.com/formyhq/editflow/internal/storage"
	"github.com/formyhq/editflow/internal/task"
	"github.com/formyhq/editflow/internal/taskerr"
)

// allowed upload content types, by extension.
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Handler provides the HTTP handlers for the editing endpoints.
type Handler struct {
	store   storage.Storage
	tasks   *task.Service
	queue   *queue.Queue
	billing *billing.Service

	// engines holds named health probes included in the health report.
	engines map[string]func(ctx context.Context) error
}

// NewHandler creates a Handler with the given collaborators. engines maps
// an engine name to its health probe; it may be nil.
func NewHandler(store storage.Storage, tasks *task.Service, q *queue.Queue, billing *billing.Service, engines map[string]func(ctx context.Context) error) *Handler {
	return &Handler{store: store, tasks: tasks, queue: q, billing: billing, engines: engines}
}

// EditRequest is the body of a task creation request.
type EditRequest struct {
	UserID      string         `json:"user_id"`
	Mode        string         `json:"mode"`
	SourceImage string         `json:"source_image"`
	Config      map[string]any `json:"config"`
}

// Upload stores an uploaded image and returns its file id. The optional
// "kind" form field routes the file into the source, reference or other
// bucket; the default is source.
func (h *Handler) Upload(c *ginext.Context) {
	if err := c.Request.ParseMultipartForm(10 << 20); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form failed: %v", err))
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to read uploaded file")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("failed to retrieve the file"))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedExtensions[ext] {
		respond.Fail(c, http.StatusBadRequest, taskerr.Newf(taskerr.CodeImageFormatInvalid, "unsupported image extension %q", ext))
		return
	}

	kind := c.PostForm("kind")
	if kind == "" {
		kind = "source"
	}
	if !validKind(kind) {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid kind %q", kind))
		return
	}

	fileID := uuid.New().String()
	path, err := h.store.SaveUpload(c.Request.Context(), kind, fileID+ext, file)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to save uploaded file")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to save the image"))
		return
	}

	zlog.Logger.Info().
		Str("file_id", fileID).
		Str("filename", header.Filename).
		Str("path", path).
		Msg("image uploaded")

	respond.OK(c, map[string]interface{}{
		"file_id":  fileID,
		"filename": header.Filename,
	})
}

// CreateTask validates the edit request, checks the credit gate and
// enqueues a new task.
func (h *Handler) CreateTask(c *ginext.Context) {
	var req EditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, taskerr.Newf(taskerr.CodeInvalidRequest, "invalid request body"))
		return
	}

	mode, ok := model.ParseMode(req.Mode)
	if !ok {
		respond.Fail(c, http.StatusBadRequest, taskerr.Newf(taskerr.CodeInvalidMode, "unknown edit mode %q", req.Mode))
		return
	}
	if req.SourceImage == "" {
		respond.Fail(c, http.StatusBadRequest, taskerr.Newf(taskerr.CodeInvalidRequest, "source_image is required"))
		return
	}

	ctx := c.Request.Context()

	if err := h.billing.Allow(ctx, req.UserID, mode); err != nil {
		var te *taskerr.Error
		if errors.As(err, &te) && te.Code == taskerr.CodeInsufficientCredits {
			respond.Fail(c, http.StatusPaymentRequired, te)
			return
		}
		zlog.Logger.Err(err).Msg("failed to check credits")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to check credits"))
		return
	}

	payload := model.TaskPayload{
		UserID:      req.UserID,
		Mode:        mode,
		SourceImage: req.SourceImage,
		Config:      req.Config,
	}

	taskID, err := h.tasks.Create(ctx, payload)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to create task")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to create task"))
		return
	}

	if err := h.queue.Push(ctx, taskID, payload); err != nil {
		zlog.Logger.Err(err).Str("task_id", taskID).Msg("failed to enqueue task")
		h.failCreated(ctx, taskID, err)
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to enqueue task"))
		return
	}

	zlog.Logger.Info().
		Str("task_id", taskID).
		Str("mode", string(mode)).
		Msg("task enqueued")

	respond.Created(c, map[string]interface{}{
		"task_id": taskID,
		"state":   model.StateQueued,
	})
}

// GetTask returns the status snapshot of a task.
func (h *Handler) GetTask(c *ginext.Context) {
	id := c.Param("id")
	if id == "" {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("missing id"))
		return
	}

	snapshot, err := h.tasks.Snapshot(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("task not found"))
			return
		}
		zlog.Logger.Err(err).Str("task_id", id).Msg("failed to read task")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to read task"))
		return
	}

	respond.OK(c, snapshot)
}

// Plans returns the plan catalog.
func (h *Handler) Plans(c *ginext.Context) {
	respond.OK(c, h.billing.Plans())
}

// Balance returns a user's current credit balance.
func (h *Handler) Balance(c *ginext.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("missing user_id"))
		return
	}

	balance, err := h.billing.Balance(c.Request.Context(), userID)
	if err != nil {
		zlog.Logger.Err(err).Str("user_id", userID).Msg("failed to read balance")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to read balance"))
		return
	}

	respond.OK(c, map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

// Health reports whether the backing store is reachable, plus the status
// of each configured engine. A sick engine degrades the report but does
// not fail it; only a dead store makes the service unhealthy.
func (h *Handler) Health(c *ginext.Context) {
	ctx := c.Request.Context()

	if err := h.queue.HealthCheck(ctx); err != nil {
		respond.Fail(c, http.StatusServiceUnavailable, fmt.Errorf("queue unavailable"))
		return
	}

	engines := make(map[string]string, len(h.engines))
	for name, probe := range h.engines {
		if err := probe(ctx); err != nil {
			engines[name] = err.Error()
		} else {
			engines[name] = "ok"
		}
	}

	respond.OK(c, map[string]interface{}{
		"status":  "ok",
		"engines": engines,
	})
}

// failCreated marks a task failed when it could not be enqueued after
// creation; otherwise it would sit QUEUED forever.
func (h *Handler) failCreated(ctx context.Context, taskID string, cause error) {
	failure := taskerr.Wrap(taskerr.CodeInternalError, cause)
	if err := h.tasks.Fail(ctx, taskID, failure); err != nil {
		zlog.Logger.Err(err).Str("task_id", taskID).Msg("failed to mark unenqueued task failed")
	}
}

func validKind(kind string) bool {
	for _, k := range storage.UploadKinds {
		if k == kind {
			return true
		}
	}
	return false
}
