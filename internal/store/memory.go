package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/braincanary/braincanary/internal/models"
)

// MemoryStore provides an in-memory Store for tests and store-less runs.
type MemoryStore struct {
	mu          sync.RWMutex
	deployments map[string]models.DeploymentSnapshot
	order       []string
	transitions []models.StateTransition
	scoreRows   []ScoreSnapshotInput
	events      []EventRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deployments: map[string]models.DeploymentSnapshot{},
	}
}

func (m *MemoryStore) CreateDeployment(ctx context.Context, snap models.DeploymentSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployments[snap.ID] = snap.Clone()
	m.order = append(m.order, snap.ID)
	return nil
}

func (m *MemoryStore) SaveDeployment(ctx context.Context, snap models.DeploymentSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deployments[snap.ID]; !ok {
		return ErrNotFound
	}
	m.deployments[snap.ID] = snap.Clone()
	return nil
}

func (m *MemoryStore) GetDeployment(ctx context.Context, id string) (models.DeploymentSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.deployments[id]
	if !ok {
		return models.DeploymentSnapshot{}, ErrNotFound
	}
	return snap.Clone(), nil
}

func (m *MemoryStore) ActiveDeployment(ctx context.Context) (models.DeploymentSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		snap := m.deployments[m.order[i]]
		if !snap.State.Terminal() && snap.State != models.StateIdle {
			return snap.Clone(), nil
		}
	}
	return models.DeploymentSnapshot{}, ErrNotFound
}

func (m *MemoryStore) ListDeployments(ctx context.Context, limit int) ([]models.DeploymentSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.DeploymentSnapshot, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.deployments[m.order[i]].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

func (m *MemoryStore) AppendTransition(ctx context.Context, tr models.StateTransition) error {
	if tr.ID == "" {
		tr.ID = uuid.New().String()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, tr)
	return nil
}

func (m *MemoryStore) ListTransitions(ctx context.Context, deploymentID string, limit int) ([]models.StateTransition, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StateTransition
	for i := len(m.transitions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.transitions[i].DeploymentID == deploymentID {
			out = append(out, m.transitions[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendScoreSnapshot(ctx context.Context, in ScoreSnapshotInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreRows = append(m.scoreRows, in)
	return nil
}

// ScoreSnapshots returns every appended score row; test helper.
func (m *MemoryStore) ScoreSnapshots() []ScoreSnapshotInput {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ScoreSnapshotInput(nil), m.scoreRows...)
}

func (m *MemoryStore) AppendEvent(ctx context.Context, in EventInput) error {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, EventRecord{
		ID:           in.ID,
		DeploymentID: in.DeploymentID,
		EventType:    in.EventType,
		Payload:      append(json.RawMessage(nil), in.Payload...),
		TS:           in.TS,
	})
	return nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, deploymentID string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []EventRecord
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].DeploymentID == deploymentID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
