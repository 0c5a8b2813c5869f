package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/cyphera/sponsor-relay/libs/go/actions"
	"github.com/cyphera/sponsor-relay/libs/go/logger"
	"github.com/cyphera/sponsor-relay/libs/go/middleware"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
	"github.com/cyphera/sponsor-relay/libs/go/tasks"
)

// RegisterNameRequest is the body of POST /names.
type RegisterNameRequest struct {
	AuthorizationFields
	Label string `json:"label"`
}

// TaskAccepted is returned when a background task starts.
type TaskAccepted struct {
	OK     bool   `json:"ok"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// NameHandler serves name registration and task lookups.
type NameHandler struct {
	names  NameRegistrar
	window time.Duration
}

func NewNameHandler(names NameRegistrar, window time.Duration) *NameHandler {
	return &NameHandler{names: names, window: window}
}

// Register validates a register_name authorization and starts the
// registration in the background.
func (h *NameHandler) Register(c *gin.Context) {
	log := middleware.LogWithCorrelationID(c.Request.Context(), logger.ComponentAPI)

	var body RegisterNameRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		log.Warn(errors.Wrap(err, "failed to decode register_name request").Error())
		fail(c, "", relayerr.Validation("invalid_json", "request body is not valid JSON for this action"))
		return
	}

	req, err := body.Request(actions.RegisterNameName, map[string]string{"label": body.Label}, h.window)
	if err != nil {
		fail(c, "", err)
		return
	}

	task, err := h.names.Submit(c.Request.Context(), req)
	if err != nil {
		fail(c, "", err)
		return
	}

	log.WithField("task_id", task.ID).WithAction(actions.RegisterNameName, req.Actor).Info("Name registration accepted")
	c.JSON(http.StatusAccepted, TaskAccepted{OK: true, TaskID: task.ID, Status: task.Status})
}

// TaskResponse is a task's observable state.
type TaskResponse struct {
	OK bool `json:"ok"`
	tasks.Task
}

// Task returns the state of a background task.
func (h *NameHandler) Task(c *gin.Context) {
	task, ok := h.names.Task(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"ok":       false,
			"error":    "task not found",
			"category": relayerr.CategoryValidation,
			"code":     "task_not_found",
		})
		return
	}
	c.JSON(http.StatusOK, TaskResponse{OK: true, Task: task})
}
