package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewUploadCompletedTask(t *testing.T) {
	payload := UploadCompletedPayload{
		SessionID:   "4a0c7b55-52a2-4c85-9f0e-6f3c1d1f9a10",
		FileName:    "report.pdf",
		Path:        "/srv/uploads/report.pdf",
		Size:        2048,
		CompletedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	task, err := NewUploadCompletedTask(payload)
	require.NoError(t, err)
	require.Equal(t, UploadCompletedTask, task.Type())

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(task.Payload(), &raw))
	require.Equal(t, "report.pdf", raw["file_name"])
	require.Equal(t, float64(2048), raw["size"])
	require.Equal(t, "2024-05-01T12:00:00Z", raw["completed_at"])
}
