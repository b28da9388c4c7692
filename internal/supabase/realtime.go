package supabase

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
)

// RealtimeClient publishes task/asset lifecycle events to clients subscribed
// via Supabase Realtime.
type RealtimeClient struct {
	client *supabase.Client
}

func NewRealtimeClient(client *supabase.Client) *RealtimeClient {
	return &RealtimeClient{
		client: client,
	}
}

func (r *RealtimeClient) PublishEvent(channel string, event string, payload map[string]interface{}) error {
	// The Go client has no direct Realtime publish; row updates on the
	// subscribed tables trigger Realtime automatically. This hook exists for
	// explicit events via the Realtime REST API if we ever need them.
	return nil
}

func (r *RealtimeClient) PublishTaskEvent(taskID string, event string, payload map[string]interface{}) error {
	channel := fmt.Sprintf("task:%s", taskID)
	return r.PublishEvent(channel, event, payload)
}

func (r *RealtimeClient) PublishAssetEvent(assetUUID uuid.UUID, event string, payload map[string]interface{}) error {
	channel := fmt.Sprintf("asset:%s", assetUUID.String())
	return r.PublishEvent(channel, event, payload)
}

// Event payloads
func TaskStatePayload(taskID, state string) map[string]interface{} {
	return map[string]interface{}{
		"task_id": taskID,
		"state":   state,
	}
}

func TaskFailedPayload(taskID, errorMsg string, refunded bool) map[string]interface{} {
	return map[string]interface{}{
		"task_id":  taskID,
		"state":    "failed",
		"error":    errorMsg,
		"refunded": refunded,
	}
}

func AssetReadyPayload(taskID string, assetUUID uuid.UUID) map[string]interface{} {
	return map[string]interface{}{
		"task_id":    taskID,
		"asset_uuid": assetUUID.String(),
		"state":      "success",
	}
}

func RenditionPayload(assetUUID uuid.UUID, format string, withTexture bool, state string) map[string]interface{} {
	return map[string]interface{}{
		"asset_uuid":   assetUUID.String(),
		"format":       format,
		"with_texture": withTexture,
		"state":        state,
	}
}
