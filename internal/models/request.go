package models

// SubmitTaskRequest is the multipart form accompanying a job submission.
// Image files ride alongside these fields: either a single "image" part or up
// to four ordered "multi_images" parts.
type SubmitTaskRequest struct {
	RequestType  int    `form:"request_type" binding:"required"`
	ModelVersion string `form:"model_version"`
	Resolution   string `form:"resolution"`
	Face         int    `form:"face"`
	Format       string `form:"format"`
	MeshURL      string `form:"mesh_url"`
}

type RenditionRequest struct {
	Format      string `json:"format" binding:"required"`
	WithTexture bool   `json:"with_texture"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
