// Package tripo is the client for the third-party 3D reconstruction API.
// It submits generation jobs, polls their status, and resolves the URLs of
// vendor-hosted sibling artifacts.
package tripo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// TaskState is the normalized vendor job state.
type TaskState string

const (
	StateCreated    TaskState = "created"
	StateQueueing   TaskState = "queueing"
	StateProcessing TaskState = "processing"
	StateSuccess    TaskState = "success"
	StateFailed     TaskState = "failed"
)

// IsTerminal reports whether no further vendor transitions are possible.
func (s TaskState) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed
}

// Request types accepted by the vendor.
const (
	RequestTypeGeometry        = 1 // geometry only
	RequestTypeTexture         = 2 // texture an existing mesh (requires mesh_url)
	RequestTypeGeometryTexture = 3 // geometry + texture
)

// Face count bounds accepted by the vendor. Out-of-range values are dropped
// from the request rather than rejected.
const (
	FaceMin = 100000
	FaceMax = 2000000
)

const (
	ProviderName    = "tripo"
	defaultTokenTTL = 24 * time.Hour
)

// APIError is a vendor-reported failure, carrying the vendor error code and
// the HTTP status of the response.
type APIError struct {
	Code       int
	HTTPStatus int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vendor error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// ValidationError is a submit request rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Config holds vendor endpoints and the request headers the vendor expects.
type Config struct {
	BaseURL         string
	AuthURL         string
	AuthFallbackURL string
	AppID           string
	AppSecret       string
	Referer         string
	Origin          string
	UserAgent       string
	TokenTTL        time.Duration
}

type Client struct {
	cfg        Config
	tokens     TokenStore
	httpClient *http.Client
}

func NewClient(cfg Config, tokens TokenStore) *Client {
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ImageFile is one input image for a generation job.
type ImageFile struct {
	Filename string
	Data     []byte
}

// SubmitParams are the inputs for one generation job. Exactly one of Image or
// MultiImages must be set.
type SubmitParams struct {
	RequestType  int
	ModelVersion string
	Resolution   string
	Face         int
	Format       string
	CallbackURL  string
	MeshURL      string
	Image        *ImageFile
	MultiImages  []ImageFile // up to 4, ordered: front, back, left, right
}

// Validate checks params before any network or charge side effect. An
// out-of-range face count is cleared, not rejected.
func (p *SubmitParams) Validate() error {
	hasSingle := p.Image != nil
	hasMulti := len(p.MultiImages) > 0
	if hasSingle == hasMulti {
		return &ValidationError{Field: "images", Message: "exactly one of image or multi_images is required"}
	}
	if len(p.MultiImages) > 4 {
		return &ValidationError{Field: "multi_images", Message: "at most 4 view images"}
	}
	if p.RequestType == RequestTypeTexture && p.MeshURL == "" {
		return &ValidationError{Field: "mesh_url", Message: "required for texture requests"}
	}
	if p.Face != 0 && (p.Face < FaceMin || p.Face > FaceMax) {
		p.Face = 0
	}
	return nil
}

type submitData struct {
	TaskID string `json:"task_id"`
}

type queryData struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	CoverURL string `json:"cover_url"`
	FileURL  string `json:"file_url"`
}

// envelope is the vendor's uniform response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type authResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// Authenticate returns a bearer token, fetching a fresh one only when the
// cached token is missing or inside the expiry skew. Token fetch retries once
// against the fallback endpoint before failing.
func (c *Client) Authenticate() (string, error) {
	if token, ok := c.tokens.Get(ProviderName); ok {
		return token, nil
	}

	token, expiresIn, err := c.fetchToken(c.cfg.AuthURL)
	if err != nil && c.cfg.AuthFallbackURL != "" {
		token, expiresIn, err = c.fetchToken(c.cfg.AuthFallbackURL)
	}
	if err != nil {
		return "", fmt.Errorf("failed to authenticate: %w", err)
	}

	ttl := c.cfg.TokenTTL
	if expiresIn > 0 {
		ttl = time.Duration(expiresIn) * time.Second
	}
	if err := c.tokens.Put(ProviderName, token, time.Now().Add(ttl)); err != nil {
		// A failed cache write is not fatal; the token itself is valid.
		return token, nil
	}
	return token, nil
}

func (c *Client) fetchToken(authURL string) (string, int64, error) {
	reqBody, err := json.Marshal(map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest("POST", authURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setVendorHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, &APIError{HTTPStatus: resp.StatusCode, Message: string(body)}
	}

	var auth authResponse
	if err := json.Unmarshal(body, &auth); err != nil {
		return "", 0, fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
	}
	if auth.Token == "" {
		return "", 0, &APIError{HTTPStatus: resp.StatusCode, Message: "empty token in auth response"}
	}

	return auth.Token, auth.ExpiresIn, nil
}

// Submit posts a generation job and returns the vendor task id.
func (c *Client) Submit(params SubmitParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}

	token, err := c.Authenticate()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"request_type": strconv.Itoa(params.RequestType),
		"model":        params.ModelVersion,
	}
	if params.Resolution != "" {
		fields["resolution"] = params.Resolution
	}
	if params.Face != 0 {
		fields["face"] = strconv.Itoa(params.Face)
	}
	if params.Format != "" {
		fields["format"] = params.Format
	}
	if params.CallbackURL != "" {
		fields["callback_url"] = params.CallbackURL
	}
	if params.MeshURL != "" {
		fields["mesh_url"] = params.MeshURL
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if params.Image != nil {
		part, err := w.CreateFormFile("image", params.Image.Filename)
		if err != nil {
			return "", fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(params.Image.Data); err != nil {
			return "", fmt.Errorf("failed to write form file: %w", err)
		}
	}
	for i, img := range params.MultiImages {
		part, err := w.CreateFormFile(fmt.Sprintf("multi_images[%d]", i), img.Filename)
		if err != nil {
			return "", fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return "", fmt.Errorf("failed to write form file: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequest("POST", c.cfg.BaseURL+"/task/submit", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	c.setVendorHeaders(req)

	var data submitData
	if err := c.do(req, &data); err != nil {
		return "", err
	}
	if data.TaskID == "" {
		return "", &APIError{Message: "submit response missing task_id"}
	}
	return data.TaskID, nil
}

// QueryResult is the normalized outcome of a status poll. Message carries the
// vendor's human-readable explanation when the job failed.
type QueryResult struct {
	State    TaskState
	Message  string
	CoverURL string
	FileURL  string
}

// Query polls one vendor task. CoverURL and FileURL are populated only on
// success.
func (c *Client) Query(taskID string) (*QueryResult, error) {
	token, err := c.Authenticate()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest("GET", c.cfg.BaseURL+"/task/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	c.setVendorHeaders(req)

	var data queryData
	if err := c.do(req, &data); err != nil {
		return nil, err
	}

	return &QueryResult{
		State:    NormalizeState(data.Status),
		Message:  data.Message,
		CoverURL: data.CoverURL,
		FileURL:  data.FileURL,
	}, nil
}

// NormalizeState maps the vendor's status vocabulary onto TaskState.
func NormalizeState(status string) TaskState {
	switch status {
	case "created", "pending":
		return StateCreated
	case "queueing", "queued", "waiting":
		return StateQueueing
	case "processing", "running", "generating":
		return StateProcessing
	case "success", "succeeded", "completed", "finished":
		return StateSuccess
	case "failed", "error", "banned", "expired", "cancelled":
		return StateFailed
	default:
		return StateProcessing
	}
}

// do executes a request expecting the vendor envelope and unmarshals the data
// field into out.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{HTTPStatus: resp.StatusCode, Message: string(body)}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, HTTPStatus: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w, body: %s", err, string(body))
		}
	}
	return nil
}

func (c *Client) setVendorHeaders(req *http.Request) {
	if c.cfg.Referer != "" {
		req.Header.Set("Referer", c.cfg.Referer)
	}
	if c.cfg.Origin != "" {
		req.Header.Set("Origin", c.cfg.Origin)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.AppID != "" {
		req.Header.Set("X-App-Id", c.cfg.AppID)
	}
}
