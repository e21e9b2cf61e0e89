package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/taskcore/internal/api/shared"
	"github.com/phrazzld/taskcore/internal/domain"
	"github.com/phrazzld/taskcore/internal/platform/logger"
	"github.com/phrazzld/taskcore/internal/task"
)

// TaskService is the task surface the handlers need. *task.Service implements it.
type TaskService interface {
	CreateTask(ctx context.Context, spec domain.CreateTaskSpec) (*domain.Task, error)
	GetTask(ctx context.Context, id int64) (*domain.Task, error)
	ListTasks(ctx context.Context, filter domain.TaskFilter) ([]*domain.Task, error)
	CancelTask(ctx context.Context, id int64) (*domain.Task, error)
	ConfirmTask(ctx context.Context, id int64) (*domain.Task, error)
}

// ReplyRouter applies conversation replies to pending confirmations. *task.Gate implements it.
type ReplyRouter interface {
	HandleReply(ctx context.Context, tenantID, conversationRef, text string) (task.ReplyOutcome, *domain.Task, error)
}

// JobScheduler syncs and describes recurring definitions. *schedule.Evaluator implements it.
type JobScheduler interface {
	SyncDefinitions(ctx context.Context, tenantID string, defs []domain.RecurringJob) error
	NextRun(job *domain.RecurringJob) (time.Time, error)
}

// JobLister lists a tenant's definitions. store.RecurringJobStore implements it.
type JobLister interface {
	List(ctx context.Context, tenantID string) ([]*domain.RecurringJob, error)
}

// WorkerReporter exposes the live worker registry. *task.Pool implements it.
type WorkerReporter interface {
	ActiveTotal() int
	Slots() []task.SlotInfo
}

// Handler serves the HTTP surface.
type Handler struct {
	tasks   TaskService
	replies ReplyRouter
	jobs    JobScheduler
	lister  JobLister
	workers WorkerReporter
	logger  *slog.Logger
}

// NewHandler creates a Handler. replies, jobs, lister and workers may be nil,
// in which case their routes answer 501.
func NewHandler(
	tasks TaskService,
	replies ReplyRouter,
	jobs JobScheduler,
	lister JobLister,
	workers WorkerReporter,
	logger *slog.Logger,
) *Handler {
	if tasks == nil {
		panic("api: task service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		tasks:   tasks,
		replies: replies,
		jobs:    jobs,
		lister:  lister,
		workers: workers,
		logger:  logger.With(slog.String("component", "api")),
	}
}

func (h *Handler) log(r *http.Request) *slog.Logger {
	return logger.FromContextOrDefault(r.Context(), h.logger)
}

// CreateTask handles POST /api/tasks. The task runs asynchronously, hence 202.
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.tasks.CreateTask(r.Context(), req.toSpec())
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	h.log(r).Debug("task accepted", slog.Int64("task_id", t.ID), slog.String("tenant_id", t.TenantID))
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(t))
}

// ListTasks handles GET /api/tasks?tenant_id=&status=&limit=.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.TaskFilter{
		TenantID: q.Get("tenant_id"),
		Status:   domain.TaskStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		HandleAPIError(w, r, domain.ErrInvalidTaskStatus, "")
		return
	}
	limit, err := getQueryInt(r, "limit")
	if err != nil {
		HandleAPIError(w, r, err, "Invalid limit")
		return
	}
	filter.Limit = limit

	tasks, err := h.tasks.ListTasks(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	resp := TaskListResponse{Tasks: make([]TaskResponse, 0, len(tasks))}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, taskToResponse(t))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetTask handles GET /api/tasks/{id}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	h.withTaskID(w, r, h.tasks.GetTask, http.StatusOK)
}

// CancelTask handles POST /api/tasks/{id}/cancel. A running task answers 202
// because it stops only when its worker observes the request.
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "Invalid task ID")
		return
	}
	t, err := h.tasks.CancelTask(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	status := http.StatusOK
	if !t.Status.IsTerminal() {
		status = http.StatusAccepted
	}
	shared.RespondWithJSON(w, r, status, taskToResponse(t))
}

// ConfirmTask handles POST /api/tasks/{id}/confirm.
func (h *Handler) ConfirmTask(w http.ResponseWriter, r *http.Request) {
	h.withTaskID(w, r, h.tasks.ConfirmTask, http.StatusAccepted)
}

func (h *Handler) withTaskID(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, int64) (*domain.Task, error),
	status int,
) {
	id, err := getPathID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "Invalid task ID")
		return
	}
	t, err := op(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	shared.RespondWithJSON(w, r, status, taskToResponse(t))
}

// HandleReply handles POST /api/replies.
func (h *Handler) HandleReply(w http.ResponseWriter, r *http.Request) {
	if h.replies == nil {
		shared.RespondWithError(w, r, http.StatusNotImplemented, "Replies are not supported")
		return
	}
	var req ReplyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	outcome, t, err := h.replies.HandleReply(r.Context(), req.TenantID, req.ConversationRef, req.Text)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	resp := ReplyResponse{Outcome: string(outcome)}
	if t != nil {
		tr := taskToResponse(t)
		resp.Task = &tr
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// SyncRecurringJobs handles PUT /api/tenants/{tenant}/recurring-jobs.
func (h *Handler) SyncRecurringJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		shared.RespondWithError(w, r, http.StatusNotImplemented, "Recurring jobs are not supported")
		return
	}
	tenantID := chi.URLParam(r, "tenant")
	var req SyncJobsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	defs := make([]domain.RecurringJob, 0, len(req.Jobs))
	for _, j := range req.Jobs {
		defs = append(defs, j.toDomain())
	}
	if err := h.jobs.SyncDefinitions(r.Context(), tenantID, defs); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	h.ListRecurringJobs(w, r)
}

// ListRecurringJobs handles GET /api/tenants/{tenant}/recurring-jobs.
func (h *Handler) ListRecurringJobs(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		shared.RespondWithError(w, r, http.StatusNotImplemented, "Recurring jobs are not supported")
		return
	}
	jobs, err := h.lister.List(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	resp := make([]RecurringJobResponse, 0, len(jobs))
	for _, j := range jobs {
		jr := RecurringJobResponse{
			ID:                  j.ID,
			Name:                j.Name,
			Kind:                string(j.Kind),
			CronExpression:      j.CronExpression,
			TimeZone:            j.TimeZone,
			Enabled:             j.Enabled,
			DisabledReason:      j.DisabledReason,
			ConsecutiveFailures: j.ConsecutiveFailures,
			LastRunAt:           j.LastRunAt,
		}
		if j.Enabled && h.jobs != nil {
			if next, err := h.jobs.NextRun(j); err == nil {
				jr.NextRunAt = &next
			}
		}
		resp = append(resp, jr)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// ListWorkers handles GET /api/workers.
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	if h.workers == nil {
		shared.RespondWithJSON(w, r, http.StatusOK, WorkersResponse{Workers: []task.SlotInfo{}})
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, WorkersResponse{
		Active:  h.workers.ActiveTotal(),
		Workers: h.workers.Slots(),
	})
}

// HealthChecker reports whether a dependency is usable.
type HealthChecker func(ctx context.Context) error

// Health returns a handler for GET /health that runs check when it is set.
func (h *Handler) Health(check HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "unavailable",
					errors.Join(errors.New("health check failed"), err))
				return
			}
		}
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	}
}
