// Package store persists deployment snapshots, transition history, score
// snapshots and the event log.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/braincanary/braincanary/internal/models"
)

var ErrNotFound = errors.New("not found")

// ScoreSnapshotInput is one (deployment, stage, scorer) statistics row.
type ScoreSnapshotInput struct {
	DeploymentID string
	StageIndex   int
	Scorer       string
	BaselineMean float64
	BaselineStd  float64
	BaselineN    int
	CanaryMean   float64
	CanaryStd    float64
	CanaryN      int
	TS           time.Time
}

// EventInput is one append-only event log row.
type EventInput struct {
	ID           string
	DeploymentID string
	EventType    string
	Payload      json.RawMessage
	TS           time.Time
}

// EventRecord is a persisted event row.
type EventRecord struct {
	ID           string          `json:"id"`
	DeploymentID string          `json:"deploymentId"`
	EventType    string          `json:"eventType"`
	Payload      json.RawMessage `json:"payload"`
	TS           time.Time       `json:"ts"`
}

// Store is the persistence capability the controller depends on. Snapshot
// writes must be atomic; transitions, score snapshots and events are
// append-only.
type Store interface {
	CreateDeployment(ctx context.Context, snap models.DeploymentSnapshot) error
	SaveDeployment(ctx context.Context, snap models.DeploymentSnapshot) error
	GetDeployment(ctx context.Context, id string) (models.DeploymentSnapshot, error)

	// ActiveDeployment returns the most recent deployment whose state is
	// non-terminal, or ErrNotFound.
	ActiveDeployment(ctx context.Context) (models.DeploymentSnapshot, error)
	ListDeployments(ctx context.Context, limit int) ([]models.DeploymentSnapshot, error)

	AppendTransition(ctx context.Context, tr models.StateTransition) error
	ListTransitions(ctx context.Context, deploymentID string, limit int) ([]models.StateTransition, error)

	AppendScoreSnapshot(ctx context.Context, in ScoreSnapshotInput) error

	AppendEvent(ctx context.Context, in EventInput) error
	ListEvents(ctx context.Context, deploymentID string, limit int) ([]EventRecord, error)

	Ping(ctx context.Context) error
}
