// Package storage wraps Supabase object storage with the deterministic key
// scheme all artifacts live under. Keys are always derived server-side from
// (user, asset, filename); clients never name storage paths.
package storage

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	storage "github.com/supabase-community/storage-go"
)

type Client struct {
	client     *storage.Client
	bucket     string
	httpClient *http.Client
}

func NewClient(supabaseURL, serviceRoleKey, bucket string) (*Client, error) {
	baseURL := strings.TrimSuffix(supabaseURL, "/")
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return &Client{
		client: client,
		bucket: bucket,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

// AssetKey builds the canonical key for a top-level asset artifact:
// assets/{user_uuid}/{asset_uuid}/{filename}.
func AssetKey(userUUID, assetUUID uuid.UUID, filename string) string {
	return fmt.Sprintf("assets/%s/%s/%s", userUUID.String(), assetUUID.String(), filename)
}

// AssetObjKey builds the key for one file of an OBJ bundle:
// assets/{user_uuid}/{asset_uuid}/obj/{name}.
func AssetObjKey(userUUID, assetUUID uuid.UUID, name string) string {
	return fmt.Sprintf("assets/%s/%s/obj/%s", userUUID.String(), assetUUID.String(), name)
}

func (c *Client) Upload(key string, data []byte, contentType string) error {
	upsert := true
	_, err := c.client.UploadFile(c.bucket, key, bytes.NewReader(data), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// DownloadAndUpload fetches sourceURL (with the given request headers) and
// stores the body under key. Returns the number of bytes stored.
func (c *Client) DownloadAndUpload(sourceURL, key string, headers map[string]string, contentType string) (int64, error) {
	req, err := http.NewRequest("GET", sourceURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", sourceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: status %d", sourceURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}

	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}
	if err := c.Upload(key, data, contentType); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (c *Client) Download(key string) ([]byte, error) {
	data, err := c.client.DownloadFile(c.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return data, nil
}

// SignedURL returns a time-limited download URL for key.
func (c *Client) SignedURL(key string, ttl time.Duration) (string, error) {
	resp, err := c.client.CreateSignedUrl(c.bucket, key, int(ttl.Seconds()))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s: %w", key, err)
	}
	return resp.SignedURL, nil
}

// List returns the object keys under prefix.
func (c *Client) List(prefix string) ([]string, error) {
	files, err := c.client.ListFiles(c.bucket, prefix, storage.FileSearchOptions{
		Limit: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		keys = append(keys, f.Name)
	}
	return keys, nil
}

func (c *Client) Delete(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := c.client.RemoveFile(c.bucket, keys); err != nil {
		return fmt.Errorf("failed to delete objects: %w", err)
	}
	return nil
}
