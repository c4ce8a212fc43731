package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/geocoder89/taskhub/internal/config"
	"github.com/geocoder89/taskhub/internal/domain/task"
	"github.com/geocoder89/taskhub/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type TasksRepository interface {
	Create(ctx context.Context, userID int64, req task.CreateTaskRequest) (task.Task, error)
	List(ctx context.Context, userID int64, filter task.ListTasksFilter) ([]task.Task, error)
	GetByID(ctx context.Context, id, userID int64) (task.Task, error)
	Update(ctx context.Context, id, userID int64, req task.UpdateTaskRequest) (task.Task, error)
	Delete(ctx context.Context, id, userID int64) error
	Summary(ctx context.Context, userID int64) (task.Summary, error)
}

type TasksHandler struct {
	repo TasksRepository
}

func NewTasksHandler(repo TasksRepository) *TasksHandler {
	return &TasksHandler{repo: repo}
}

func (h *TasksHandler) CreateTask(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Could not validate credentials")
		return
	}

	var req task.CreateTaskRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	t, err := h.repo.Create(cctx, userID, req)

	if err != nil {
		RespondInternal(ctx, "Could not create task")
		return
	}

	ctx.JSON(http.StatusCreated, t)
}

func (h *TasksHandler) ListTasks(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Could not validate credentials")
		return
	}

	var filter task.ListTasksFilter

	if v, present := ctx.GetQuery("status"); present && v != "" {
		filter.Status = &v
	}

	if v, present := ctx.GetQuery("priority"); present && v != "" {
		filter.Priority = &v
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tasks, err := h.repo.List(cctx, userID, filter)

	if err != nil {
		RespondInternal(ctx, "Could not list tasks")
		return
	}

	ctx.JSON(http.StatusOK, tasks)
}

func (h *TasksHandler) GetTask(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Could not validate credentials")
		return
	}

	id, ok := taskIDParam(ctx)

	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	t, err := h.repo.GetByID(cctx, id, userID)

	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			RespondNotFound(ctx, "Task not found")
			return
		}
		RespondInternal(ctx, "Could not fetch task")
		return
	}

	ctx.JSON(http.StatusOK, t)
}

func (h *TasksHandler) UpdateTask(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Could not validate credentials")
		return
	}

	id, ok := taskIDParam(ctx)

	if !ok {
		return
	}

	var req task.UpdateTaskRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	t, err := h.repo.Update(cctx, id, userID, req)

	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			RespondNotFound(ctx, "Task not found")
			return
		}
		RespondInternal(ctx, "Could not update task")
		return
	}

	ctx.JSON(http.StatusOK, t)
}

func (h *TasksHandler) DeleteTask(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Could not validate credentials")
		return
	}

	id, ok := taskIDParam(ctx)

	if !ok {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	err := h.repo.Delete(cctx, id, userID)

	if err != nil {
		if errors.Is(err, task.ErrNotFound) {
			RespondNotFound(ctx, "Task not found")
			return
		}
		RespondInternal(ctx, "Could not delete task")
		return
	}

	ctx.Status(http.StatusNoContent)
}

func (h *TasksHandler) TaskSummary(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)

	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Could not validate credentials")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	s, err := h.repo.Summary(cctx, userID)

	if err != nil {
		RespondInternal(ctx, "Could not compute task summary")
		return
	}

	ctx.JSON(http.StatusOK, s)
}

func taskIDParam(ctx *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)

	if err != nil {
		RespondUnprocessable(ctx, "Invalid task id", gin.H{
			"fields": []FieldError{{Field: "id", Rule: "type", Message: "must be an integer"}},
		})
		return 0, false
	}

	return id, true
}
