package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"meshforge-backend/internal/services"
	"meshforge-backend/internal/tripo"
)

type WebhookHandler struct {
	finalizer *services.Finalizer
	token     string
}

func NewWebhookHandler(finalizer *services.Finalizer, token string) *WebhookHandler {
	return &WebhookHandler{
		finalizer: finalizer,
		token:     token,
	}
}

type vendorCallback struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	CoverURL string `json:"cover_url"`
	FileURL  string `json:"file_url"`
}

// HandleCallback godoc
// @Summary     Vendor task callback
// @Description Receives status pushes from the reconstruction vendor. Always answers 2xx so the vendor does not retry endlessly; bad payloads and unknown tasks are logged and dropped. The real state transition runs asynchronously.
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Param       Authorization header string false "Shared callback token (Bearer or bare); token query parameter also accepted"
// @Success     200 {object} map[string]string
// @Failure     401 {object} models.ErrorResponse
// @Router      /webhooks/tripo [post]
func (h *WebhookHandler) HandleCallback(c *gin.Context) {
	if h.token != "" && h.callerToken(c) != h.token {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var payload vendorCallback
	if err := c.ShouldBindJSON(&payload); err != nil {
		log.Printf("webhook: dropping malformed callback: %v", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if payload.TaskID == "" {
		log.Printf("webhook: dropping callback without task_id")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	state := tripo.NormalizeState(payload.Status)

	go func() {
		if _, _, err := h.finalizer.HandleVendorState(payload.TaskID, state, payload.CoverURL, payload.FileURL, payload.Message); err != nil {
			log.Printf("webhook: task %s state %s: %v", payload.TaskID, state, err)
		}
	}()

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// callerToken reads the shared token from the Authorization header ("Bearer
// <token>" or bare), falling back to the token query parameter for vendors
// that only support URL-embedded secrets.
func (h *WebhookHandler) callerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("token")
}
