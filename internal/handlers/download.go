package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"meshforge-backend/internal/database"
	"meshforge-backend/internal/models"
	"meshforge-backend/internal/storage"
)

const signedURLTTL = 15 * time.Minute

type DownloadHandler struct {
	db      *database.Client
	storage *storage.Client
}

func NewDownloadHandler(db *database.Client, storageClient *storage.Client) *DownloadHandler {
	return &DownloadHandler{
		db:      db,
		storage: storageClient,
	}
}

// Download godoc
// @Summary     Download an asset
// @Description Resolves the requested format to a stored artifact. By default answers with a time-limited signed URL; with proxy=1 the bytes are streamed directly with an attachment disposition. A rendition that is not ready yet answers 202 with the current state.
// @Tags        assets
// @Produce     json
// @Security    Bearer
// @Param       asset_uuid path string true "Asset UUID"
// @Param       format query string false "Rendition format; empty means the original file"
// @Param       with_texture query bool false "Texture option"
// @Param       proxy query bool false "Stream bytes instead of returning a signed URL"
// @Success     200 {object} models.DownloadResponse
// @Success     202 {object} models.NotReadyResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /assets/{asset_uuid}/download [get]
func (h *DownloadHandler) Download(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	assetUUID, err := uuid.Parse(c.Param("asset_uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid asset uuid"})
		return
	}

	format := c.Query("format")
	if format != "" && !models.ValidFormat(format) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "unknown format", Message: format})
		return
	}
	withTexture := c.Query("with_texture") == "true" || c.Query("with_texture") == "1"

	asset, err := h.db.GetAssetForUser(assetUUID, userID)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "asset not found"})
		return
	}

	key, notReadyState := h.resolveKey(asset, format, withTexture)
	if key == "" {
		c.JSON(http.StatusAccepted, models.NotReadyResponse{
			State:   notReadyState,
			Message: "rendition not ready, retry later",
		})
		return
	}

	if c.Query("proxy") == "1" || c.Query("proxy") == "true" {
		h.proxy(c, key)
		return
	}

	url, err := h.storage.SignedURL(key, signedURLTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to sign url", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.DownloadResponse{
		URL:       url,
		ExpiresIn: int(signedURLTTL.Seconds()),
	})
}

// resolveKey maps (format, with_texture) onto a storage key, or reports the
// rendition state blocking the download.
func (h *DownloadHandler) resolveKey(asset *models.Asset, format string, withTexture bool) (string, string) {
	// An empty format means "whatever the original is", so a textured request
	// without a format still targets a rendition key that can exist.
	if format == "" {
		format = asset.FileFormat.String
	}

	// Exactly the stored original without texture: serve the original file.
	if format == asset.FileFormat.String && !withTexture {
		if asset.FileKeyFull.Valid {
			return asset.FileKeyFull.String, ""
		}
		return "", models.RenditionStateProcessing
	}

	rendition, err := h.db.GetRendition(asset.UUID, format, withTexture)
	if err != nil {
		return "", models.RenditionStateCreated
	}
	if rendition.State != models.RenditionStateSuccess || !rendition.FileKey.Valid {
		return "", rendition.State
	}
	return rendition.FileKey.String, ""
}

// proxy streams the object through the API with a download disposition.
// Model files are attachments; images are inline.
func (h *DownloadHandler) proxy(c *gin.Context, key string) {
	data, err := h.storage.Download(key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to read object", Message: err.Error()})
		return
	}

	filename := key[strings.LastIndex(key, "/")+1:]
	disposition := "attachment"
	contentType := "application/octet-stream"
	switch {
	case strings.HasSuffix(filename, ".zip"):
		contentType = "application/zip"
	case strings.HasSuffix(filename, ".glb"):
		contentType = "model/gltf-binary"
	case strings.HasSuffix(filename, ".png"):
		disposition = "inline"
		contentType = "image/png"
	case strings.HasSuffix(filename, ".jpg"), strings.HasSuffix(filename, ".jpeg"):
		disposition = "inline"
		contentType = "image/jpeg"
	case strings.HasSuffix(filename, ".webp"):
		disposition = "inline"
		contentType = "image/webp"
	}

	c.Header("Content-Disposition", fmt.Sprintf(`%s; filename="%s"`, disposition, filename))
	c.Data(http.StatusOK, contentType, data)
}
