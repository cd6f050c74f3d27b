package http

import (
	"errors"
	"net/http"

	"crosspost/domain/dto"
	"crosspost/domain/failure"
	"crosspost/domain/model"
	"crosspost/infrastructure/logger"
	"crosspost/usecase"

	"github.com/gin-gonic/gin"
)

type ITaskHandler interface {
	Create(ctx *gin.Context)
	List(ctx *gin.Context)
	Due(ctx *gin.Context)
	Get(ctx *gin.Context)
	PublishNow(ctx *gin.Context)
	Reschedule(ctx *gin.Context)
	Delete(ctx *gin.Context)
	Platforms(ctx *gin.Context)
}

type TaskHandler struct {
	publishUsecase usecase.IPublishUsecase
}

func NewTaskHandler(publishUsecase usecase.IPublishUsecase) ITaskHandler {
	return &TaskHandler{publishUsecase: publishUsecase}
}

func (h *TaskHandler) Create(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req dto.CreateTaskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	task, err := h.publishUsecase.CreateTask(ctx.Request.Context(), userID, &req)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) List(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var q dto.TaskListQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid query: " + err.Error()})
		return
	}
	tasks, err := h.publishUsecase.ListTasks(ctx.Request.Context(), userID, q)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeTaskList(ctx, tasks)
}

// Due lists the caller's tasks whose publish time falls inside [from, to].
func (h *TaskHandler) Due(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var q dto.DueTasksQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "from and to are required RFC3339 timestamps"})
		return
	}
	tasks, err := h.publishUsecase.GetDueTasks(ctx.Request.Context(), userID, q.From, q.To)
	if err != nil {
		writeError(ctx, err)
		return
	}
	writeTaskList(ctx, tasks)
}

func (h *TaskHandler) Get(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	task, err := h.publishUsecase.GetTask(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, task)
}

// PublishNow answers 202: the outcome arrives on the task stream.
func (h *TaskHandler) PublishNow(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	task, err := h.publishUsecase.PublishNow(ctx.Request.Context(), userID, ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, task)
}

func (h *TaskHandler) Reschedule(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var payload dto.ReschedulePayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "publish_time is required"})
		return
	}
	task, err := h.publishUsecase.UpdatePublishTime(ctx.Request.Context(), userID, ctx.Param("id"), payload.PublishTime)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, task)
}

func (h *TaskHandler) Delete(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	if err := h.publishUsecase.DeleteTask(ctx.Request.Context(), userID, ctx.Param("id")); err != nil {
		writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *TaskHandler) Platforms(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"platforms": h.publishUsecase.Platforms()})
}

func requireUser(ctx *gin.Context) (string, bool) {
	userID := ctx.GetString("user_id")
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized: missing user_id"})
		return "", false
	}
	return userID, true
}

func writeTaskList(ctx *gin.Context, tasks []*model.PublishTask) {
	if tasks == nil {
		tasks = []*model.PublishTask{}
	}
	ctx.JSON(http.StatusOK, dto.TaskListResponse{Data: tasks, Count: len(tasks)})
}

// writeError maps usecase errors to status codes. Platform failures surfaced
// synchronously (remote delete) answer 502 with their failure code.
func writeError(ctx *gin.Context, err error) {
	res := dto.ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, usecase.ErrInvalidTask):
		status = http.StatusBadRequest
	case errors.Is(err, usecase.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, usecase.ErrTaskNotFound), errors.Is(err, usecase.ErrCredentialNotFound):
		status = http.StatusNotFound
	case errors.Is(err, usecase.ErrInvalidTransition):
		status = http.StatusConflict
	default:
		if fe, ok := failure.As(err); ok {
			status = http.StatusBadGateway
			res.Code = string(fe.Code)
		}
	}
	if status >= http.StatusInternalServerError {
		logger.GetLogger().
			WithField("path", ctx.FullPath()).
			WithField("error", err.Error()).
			Error("request failed")
	}
	ctx.JSON(status, res)
}
