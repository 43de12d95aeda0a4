package events

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braincanary/braincanary/internal/models"
)

type capturedUpload struct {
	key  string
	body []byte
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []capturedUpload
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, capturedUpload{key: *input.Key, body: body})
	f.mu.Unlock()
	return &manager.UploadOutput{}, nil
}

func (f *fakeUploader) snapshot() []capturedUpload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedUpload(nil), f.uploads...)
}

func TestS3ArchiverArchivesTerminalEventsOnly(t *testing.T) {
	uploader := &fakeUploader{}
	archiver := NewS3ArchiverWithUploader("rollout-archive", "prod", uploader)

	bus := NewBus()
	archiver.Attach(bus)

	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	bus.Publish(Event{Type: TypeScoreUpdate, DeploymentID: "dep-1", Timestamp: ts})
	bus.Publish(Event{Type: TypeGateStatus, DeploymentID: "dep-1", Timestamp: ts})
	bus.Publish(Event{
		Type:         TypeDeploymentComplete,
		DeploymentID: "dep-1",
		Timestamp:    ts,
		Data:         DeploymentCompleteData{FinalState: models.StatePromoted},
	})
	bus.Close()

	uploads := uploader.snapshot()
	require.Len(t, uploads, 1)
	assert.Equal(t, "prod/rollouts/2026/03/14/dep-1-deployment_complete.json", uploads[0].key)
	assert.Contains(t, string(uploads[0].body), `"final_state":"PROMOTED"`)
}

func TestS3ArchiverKeyShape(t *testing.T) {
	archiver := NewS3ArchiverWithUploader("b", "", &fakeUploader{})
	key := archiver.ObjectKey(Event{
		Type:         TypeRollbackTriggered,
		DeploymentID: "dep-9",
		Timestamp:    time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "rollouts/2026/12/01/dep-9-rollback_triggered.json", key)
}
