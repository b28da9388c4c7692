package handlers

import (
	"database/sql"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"meshforge-backend/internal/credits"
	"meshforge-backend/internal/database"
	"meshforge-backend/internal/middleware"
	"meshforge-backend/internal/models"
	"meshforge-backend/internal/services"
	"meshforge-backend/internal/tripo"
)

// CreditLedger is the slice of the credits ledger submission needs.
// *credits.Ledger satisfies it.
type CreditLedger interface {
	Charge(userUUID uuid.UUID, amount int) error
	Refund(userUUID uuid.UUID, amount int) error
}

type TasksHandler struct {
	db        *database.Client
	vendor    *tripo.Client
	ledger    CreditLedger
	finalizer *services.Finalizer

	callbackURL string
	creditsBase int
}

func NewTasksHandler(db *database.Client, vendor *tripo.Client, ledger CreditLedger, finalizer *services.Finalizer, callbackURL string, creditsBase int) *TasksHandler {
	return &TasksHandler{
		db:          db,
		vendor:      vendor,
		ledger:      ledger,
		finalizer:   finalizer,
		callbackURL: callbackURL,
		creditsBase: creditsBase,
	}
}

// creditsFor prices a job. Geometry and texture-only jobs cost the base;
// geometry+texture costs double.
func (h *TasksHandler) creditsFor(requestType int) int {
	if requestType == tripo.RequestTypeGeometryTexture {
		return 2 * h.creditsBase
	}
	return h.creditsBase
}

// Submit godoc
// @Summary     Submit a generation job
// @Description Validates the input, charges credits and submits the job to the reconstruction vendor. Accepts either a single "image" part or up to four ordered "multi_images" parts.
// @Tags        tasks
// @Accept      multipart/form-data
// @Produce     json
// @Security    Bearer
// @Success     201 {object} models.SubmitTaskResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     402 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /tasks [post]
func (h *TasksHandler) Submit(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.SubmitTaskRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request",
			Message: err.Error(),
		})
		return
	}

	params := tripo.SubmitParams{
		RequestType:  req.RequestType,
		ModelVersion: req.ModelVersion,
		Resolution:   req.Resolution,
		Face:         req.Face,
		Format:       req.Format,
		MeshURL:      req.MeshURL,
		CallbackURL:  h.callbackURL,
	}

	if file, err := c.FormFile("image"); err == nil {
		img, err := readUpload(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "unreadable image", Message: err.Error()})
			return
		}
		params.Image = img
	}
	if form, err := c.MultipartForm(); err == nil {
		for _, file := range form.File["multi_images"] {
			img, err := readUpload(file)
			if err != nil {
				c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "unreadable image", Message: err.Error()})
				return
			}
			params.MultiImages = append(params.MultiImages, *img)
		}
	}

	// Validation happens before any charge or vendor call.
	if err := params.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}

	amount := h.creditsFor(req.RequestType)
	if err := h.ledger.Charge(userID, amount); err != nil {
		if errors.Is(err, credits.ErrInsufficientCredits) {
			c.JSON(http.StatusPaymentRequired, models.ErrorResponse{Error: "insufficient credits"})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to charge credits", Message: err.Error()})
		return
	}

	taskID, err := h.vendor.Submit(params)
	if err != nil {
		// The vendor never accepted the job, so the charge comes straight back.
		if refundErr := h.ledger.Refund(userID, amount); refundErr != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to refund credits", Message: refundErr.Error()})
			return
		}
		status := http.StatusBadGateway
		var vErr *tripo.ValidationError
		if errors.As(err, &vErr) {
			status = http.StatusBadRequest
		}
		c.JSON(status, models.ErrorResponse{Error: "vendor submit failed", Message: err.Error()})
		return
	}

	task := &models.GenerationTask{
		TaskID:         taskID,
		UserUUID:       userID,
		RequestType:    req.RequestType,
		ModelVersion:   req.ModelVersion,
		Resolution:     nullable(req.Resolution),
		Face:           nullableInt(req.Face),
		Format:         nullable(req.Format),
		State:          string(tripo.StateQueueing),
		CreditsCharged: amount,
	}
	if err := h.db.CreateTask(task); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to record task", Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, models.SubmitTaskResponse{TaskID: taskID, State: task.State})
}

// GetStatus godoc
// @Summary     Poll task state
// @Tags        tasks
// @Produce     json
// @Security    Bearer
// @Param       task_id path string true "Vendor task id"
// @Success     200 {object} models.TaskStatusResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /tasks/{task_id} [get]
func (h *TasksHandler) GetStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	task, err := h.db.GetTaskForUser(c.Param("task_id"), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "task not found"})
		return
	}

	c.JSON(http.StatusOK, models.TaskStatusResponse{
		TaskID:    task.TaskID,
		State:     task.State,
		Error:     task.ErrorMessage.String,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
	})
}

// Finalize godoc
// @Summary     Finalize a task into an asset
// @Description Polls the vendor and, once the job has succeeded, materializes the asset. Idempotent: repeated calls return the same asset.
// @Tags        tasks
// @Produce     json
// @Security    Bearer
// @Param       task_id path string true "Vendor task id"
// @Success     200 {object} models.FinalizeResponse
// @Success     202 {object} models.FinalizeResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /tasks/{task_id}/finalize [post]
func (h *TasksHandler) Finalize(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	taskID := c.Param("task_id")
	if _, err := h.db.GetTaskForUser(taskID, userID); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "task not found"})
		return
	}

	asset, state, err := h.finalizer.Poll(taskID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "finalize failed", Message: err.Error()})
		return
	}

	resp := models.FinalizeResponse{TaskID: taskID, State: string(state)}
	if asset != nil {
		resp.AssetUUID = asset.UUID.String()
		c.JSON(http.StatusOK, resp)
		return
	}
	if state == tripo.StateFailed {
		c.JSON(http.StatusOK, resp)
		return
	}
	// Not yet: the client keeps polling.
	c.JSON(http.StatusAccepted, resp)
}

// ---- shared helpers ----

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	raw, exists := c.Get(middleware.UserIDKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "user id not found"})
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(raw.(string))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid user id"})
		return uuid.Nil, false
	}
	return userID, true
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

func readUpload(file *multipart.FileHeader) (*tripo.ImageFile, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &tripo.ImageFile{Filename: file.Filename, Data: data}, nil
}
