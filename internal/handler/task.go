package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hiroki-koketsu/go-todo/internal/auth"
	"github.com/hiroki-koketsu/go-todo/internal/model"
	"github.com/hiroki-koketsu/go-todo/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/go-todo/internal/handler")

const (
	routeTasks   = "/api/tasks"
	routeToggle  = "/api/tasks/{id}/toggle"
	routeTask    = "/api/tasks/{id}"
	routeReorder = "/api/tasks/reorder"
	routeSync    = "/api/tasks/sync"
)

// TaskService is the set of task operations the handlers expose.
type TaskService interface {
	List(ctx context.Context, ownerID string) ([]model.Task, error)
	Create(ctx context.Context, req model.CreateTaskRequest) (*model.Task, error)
	ToggleStatus(ctx context.Context, id, ownerID string) (model.Status, error)
	Delete(ctx context.Context, id, ownerID string) error
	Reorder(ctx context.Context, ownerID string, orderedIDs []string) error
	SyncImport(ctx context.Context, ownerID string, inputs []model.OfflineTaskInput) ([]string, error)
}

// TaskHandler handles HTTP requests for tasks.
type TaskHandler struct {
	svc     TaskService
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(svc TaskService, logger *slog.Logger, metrics *telemetry.Metrics) *TaskHandler {
	return &TaskHandler{
		svc:     svc,
		logger:  logger,
		metrics: metrics,
	}
}

// Routes returns the chi router with task routes.
func (h *TaskHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Patch("/reorder", h.Reorder)
	r.Post("/sync", h.Sync)
	r.Patch("/{id}/toggle", h.Toggle)
	r.Delete("/{id}", h.Delete)

	return r
}

// List returns the caller's tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.List")
	defer span.End()

	ownerID, err := resolveOwner(ctx, queryOwner(r))
	if err != nil {
		h.fail(ctx, w, http.MethodGet, routeTasks, start, err)
		return
	}

	h.logger.InfoContext(ctx, "listing tasks", slog.String("owner", ownerID))

	tasks, err := h.svc.List(ctx, ownerID)
	if err != nil {
		h.fail(ctx, w, http.MethodGet, routeTasks, start, err)
		return
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	h.logger.InfoContext(ctx, "tasks listed", slog.Int("count", len(tasks)))

	h.respondJSON(w, http.StatusOK, model.ListResponse{Success: true, Tasks: tasks})
	h.recordMetrics(ctx, http.MethodGet, routeTasks, http.StatusOK, start)
}

// Create adds a new task.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.Create")
	defer span.End()

	var req model.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
		h.fail(ctx, w, http.MethodPost, routeTasks, start, model.ErrInvalidBody)
		return
	}

	supplied := req.Owner()
	if supplied == "" {
		supplied = queryOwner(r)
	}
	ownerID, err := resolveOwner(ctx, supplied)
	if err != nil {
		h.fail(ctx, w, http.MethodPost, routeTasks, start, err)
		return
	}
	req.OwnerID = ownerID

	task, err := h.svc.Create(ctx, req)
	if err != nil {
		h.fail(ctx, w, http.MethodPost, routeTasks, start, err)
		return
	}

	span.SetAttributes(attribute.String("task.id", task.ID))
	h.logger.InfoContext(ctx, "task created", slog.String("id", task.ID))

	h.respondJSON(w, http.StatusCreated, model.CreateResponse{Success: true, ID: task.ID})
	h.recordMetrics(ctx, http.MethodPost, routeTasks, http.StatusCreated, start)
}

// Toggle flips a task between pending and completed.
func (h *TaskHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.Toggle",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	ownerID, err := resolveOwner(ctx, queryOwner(r))
	if err != nil {
		h.fail(ctx, w, http.MethodPatch, routeToggle, start, err)
		return
	}

	status, err := h.svc.ToggleStatus(ctx, id, ownerID)
	if err != nil {
		h.fail(ctx, w, http.MethodPatch, routeToggle, start, err)
		return
	}

	h.logger.InfoContext(ctx, "task toggled", slog.String("id", id), slog.String("status", string(status)))

	h.respondJSON(w, http.StatusOK, model.ToggleResponse{Success: true, Status: status})
	h.recordMetrics(ctx, http.MethodPatch, routeToggle, http.StatusOK, start)
}

// Delete removes a task.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(ctx, "TaskHandler.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	ownerID, err := resolveOwner(ctx, queryOwner(r))
	if err != nil {
		h.fail(ctx, w, http.MethodDelete, routeTask, start, err)
		return
	}

	if err := h.svc.Delete(ctx, id, ownerID); err != nil {
		h.fail(ctx, w, http.MethodDelete, routeTask, start, err)
		return
	}

	h.logger.InfoContext(ctx, "task deleted", slog.String("id", id))

	h.respondJSON(w, http.StatusOK, model.StatusResponse{Success: true})
	h.recordMetrics(ctx, http.MethodDelete, routeTask, http.StatusOK, start)
}

// Reorder rewrites the manual order of the given ids.
func (h *TaskHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.Reorder")
	defer span.End()

	ownerID, err := resolveOwner(ctx, queryOwner(r))
	if err != nil {
		h.fail(ctx, w, http.MethodPatch, routeReorder, start, err)
		return
	}

	var req model.ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
		h.fail(ctx, w, http.MethodPatch, routeReorder, start, model.ErrEmptyOrder)
		return
	}

	if err := h.svc.Reorder(ctx, ownerID, req.OrderedIDs); err != nil {
		h.fail(ctx, w, http.MethodPatch, routeReorder, start, err)
		return
	}

	span.SetAttributes(attribute.Int("task.count", len(req.OrderedIDs)))
	h.logger.InfoContext(ctx, "tasks reordered", slog.Int("count", len(req.OrderedIDs)))
	if h.metrics != nil {
		h.metrics.TasksReordered.Add(ctx, int64(len(req.OrderedIDs)))
	}

	h.respondJSON(w, http.StatusOK, model.StatusResponse{Success: true})
	h.recordMetrics(ctx, http.MethodPatch, routeReorder, http.StatusOK, start)
}

// Sync imports tasks created on a client while it was offline.
func (h *TaskHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "TaskHandler.Sync")
	defer span.End()

	ownerID, err := resolveOwner(ctx, queryOwner(r))
	if err != nil {
		h.fail(ctx, w, http.MethodPost, routeSync, start, err)
		return
	}

	var req model.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body", slog.Any("error", err))
		h.fail(ctx, w, http.MethodPost, routeSync, start, model.ErrEmptySync)
		return
	}

	ids, err := h.svc.SyncImport(ctx, ownerID, req.Tasks)
	if err != nil {
		h.fail(ctx, w, http.MethodPost, routeSync, start, err)
		return
	}

	span.SetAttributes(attribute.Int("task.count", len(ids)))
	h.logger.InfoContext(ctx, "offline tasks synced", slog.Int("count", len(ids)))
	if h.metrics != nil {
		h.metrics.TasksSynced.Add(ctx, int64(len(ids)))
	}

	h.respondJSON(w, http.StatusOK, model.SyncResponse{Success: true, CreatedIDs: ids})
	h.recordMetrics(ctx, http.MethodPost, routeSync, http.StatusOK, start)
}

// Health returns a health check response.
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

// Unauthorized writes the rejection for a request without a valid identity token.
func (h *TaskHandler) Unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WarnContext(r.Context(), "request rejected", slog.Any("error", err))
	h.respondError(w, http.StatusUnauthorized, err.Error())
}

func (h *TaskHandler) fail(ctx context.Context, w http.ResponseWriter, method, route string, start time.Time, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", slog.String("route", route), slog.Any("error", err))
	} else {
		h.logger.WarnContext(ctx, "request rejected", slog.String("route", route), slog.Any("error", err))
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("http.status_code", status))

	h.respondError(w, status, message)
	h.recordMetrics(ctx, method, route, status, start)
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, model.StatusResponse{Success: false, Message: message})
}

func (h *TaskHandler) recordMetrics(ctx context.Context, method, route string, status int, start time.Time) {
	if h.metrics == nil {
		return
	}
	duration := time.Since(start).Seconds()

	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)

	h.metrics.RequestCounter.Add(ctx, 1, attrs)
	h.metrics.RequestDuration.Record(ctx, duration, attrs)
}

// statusFor maps the error taxonomy onto HTTP status codes. Store failures
// report only the operation, never the cause.
func statusFor(err error) (int, string) {
	var te model.TaskError
	if !errors.As(err, &te) {
		return http.StatusInternalServerError, "internal error"
	}
	switch te.Kind {
	case model.KindValidation:
		return http.StatusBadRequest, te.Message
	case model.KindForbidden:
		return http.StatusForbidden, te.Message
	case model.KindNotFound:
		return http.StatusNotFound, te.Message
	default:
		return http.StatusInternalServerError, te.Message
	}
}

func queryOwner(r *http.Request) string {
	q := r.URL.Query()
	if owner := q.Get("ownerId"); owner != "" {
		return owner
	}
	return q.Get("uid")
}

// resolveOwner reconciles the supplied owner with the authenticated
// identity, when there is one.
func resolveOwner(ctx context.Context, supplied string) (string, error) {
	identity, ok := auth.IdentityFrom(ctx)
	if !ok {
		return supplied, nil
	}
	if supplied == "" {
		return identity, nil
	}
	if supplied != identity {
		return "", model.ErrIdentityMismatch
	}
	return supplied, nil
}
