package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"meshforge-backend/internal/database"
	"meshforge-backend/internal/models"
	"meshforge-backend/internal/services"
)

type RenditionsHandler struct {
	db        *database.Client
	finalizer *services.Finalizer
}

func NewRenditionsHandler(db *database.Client, finalizer *services.Finalizer) *RenditionsHandler {
	return &RenditionsHandler{
		db:        db,
		finalizer: finalizer,
	}
}

// Request godoc
// @Summary     Request a rendition
// @Description Requests the asset in another format. Returns 200 when the rendition is ready, 202 while it is being materialized; clients poll the list endpoint. Repeating a request never starts a second materialization for the same key.
// @Tags        renditions
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       asset_uuid path string true "Asset UUID"
// @Param       request body models.RenditionRequest true "Format and texture option"
// @Success     200 {object} models.RenditionResponse
// @Success     202 {object} models.RenditionResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /assets/{asset_uuid}/renditions [post]
func (h *RenditionsHandler) Request(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	assetUUID, err := uuid.Parse(c.Param("asset_uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid asset uuid"})
		return
	}

	asset, err := h.db.GetAssetForUser(assetUUID, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "asset not found"})
		return
	}

	var req models.RenditionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
		return
	}
	if !models.ValidFormat(req.Format) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "unsupported format"})
		return
	}

	rendition, err := h.finalizer.MaterializeRendition(asset, req.Format, req.WithTexture)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "rendition request failed", Message: err.Error()})
		return
	}

	status := http.StatusAccepted
	if rendition.State == models.RenditionStateSuccess {
		status = http.StatusOK
	}
	c.JSON(status, renditionResponse(rendition))
}

// List godoc
// @Summary     List renditions
// @Tags        renditions
// @Produce     json
// @Security    Bearer
// @Param       asset_uuid path string true "Asset UUID"
// @Success     200 {object} models.RenditionListResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /assets/{asset_uuid}/renditions [get]
func (h *RenditionsHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	assetUUID, err := uuid.Parse(c.Param("asset_uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid asset uuid"})
		return
	}

	if _, err := h.db.GetAssetForUser(assetUUID, userID); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "asset not found"})
		return
	}

	renditions, err := h.db.ListRenditions(assetUUID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to list renditions", Message: err.Error()})
		return
	}

	resp := models.RenditionListResponse{Renditions: make([]models.RenditionResponse, 0, len(renditions))}
	for i := range renditions {
		resp.Renditions = append(resp.Renditions, renditionResponse(&renditions[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func renditionResponse(r *models.AssetRendition) models.RenditionResponse {
	return models.RenditionResponse{
		AssetUUID:   r.AssetUUID.String(),
		Format:      r.Format,
		WithTexture: r.WithTexture,
		State:       r.State,
		Error:       r.ErrorMessage.String,
		UpdatedAt:   r.UpdatedAt,
	}
}
