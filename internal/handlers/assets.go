package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"meshforge-backend/internal/credits"
	"meshforge-backend/internal/database"
	"meshforge-backend/internal/models"
)

type AssetsHandler struct {
	db     *database.Client
	ledger *credits.Ledger
}

func NewAssetsHandler(db *database.Client, ledger *credits.Ledger) *AssetsHandler {
	return &AssetsHandler{
		db:     db,
		ledger: ledger,
	}
}

// Get godoc
// @Summary     Get asset details
// @Tags        assets
// @Produce     json
// @Security    Bearer
// @Param       asset_uuid path string true "Asset UUID"
// @Success     200 {object} models.AssetResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /assets/{asset_uuid} [get]
func (h *AssetsHandler) Get(c *gin.Context) {
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

	c.JSON(http.StatusOK, models.AssetResponse{
		UUID:       asset.UUID.String(),
		TaskID:     asset.TaskID.String,
		Status:     asset.Status,
		FileFormat: asset.FileFormat.String,
		CreatedAt:  asset.CreatedAt,
		UpdatedAt:  asset.UpdatedAt,
	})
}

// GetCredits godoc
// @Summary     Get the caller's credit balance
// @Tags        profile
// @Produce     json
// @Security    Bearer
// @Success     200 {object} map[string]int
// @Router      /profile/credits [get]
func (h *AssetsHandler) GetCredits(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	balance, err := h.ledger.Balance(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to read balance", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"credits": balance})
}
