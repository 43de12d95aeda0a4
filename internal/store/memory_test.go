package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braincanary/braincanary/internal/models"
)

func sampleConfig() models.DeploymentConfig {
	return models.DeploymentConfig{
		Name:     "assistant-v2",
		Project:  "assistant",
		Baseline: models.Variant{Model: "gpt-4o"},
		Canary:   models.Variant{Model: "gpt-4o", Prompt: "v2"},
		Stages: []models.Stage{
			{Weight: 5, Duration: time.Minute, MinSamples: 50, Gates: []models.Gate{
				{Scorer: "Quality", Threshold: 0.7, Comparison: models.ComparisonNotWorse, Confidence: 0.95},
			}},
			{Weight: 100, MinSamples: 1},
		},
		Rollback: models.RollbackPolicy{OnScoreDrop: 0.1, OnErrorRate: 0.05, Cooldown: time.Hour},
		Monitor:  models.MonitorConfig{PollInterval: 30 * time.Second},
	}
}

func sampleSnapshot(id string, state models.State, startedAt time.Time) models.DeploymentSnapshot {
	return models.DeploymentSnapshot{
		ID:             id,
		Name:           "assistant-v2",
		Config:         sampleConfig(),
		State:          state,
		StageIndex:     0,
		StageEnteredAt: startedAt,
		StartedAt:      startedAt,
		CanaryWeight:   5,
	}
}

func TestMemoryStoreDeploymentRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	snap := sampleSnapshot("dep-1", models.StateStage, now)
	require.NoError(t, m.CreateDeployment(ctx, snap))

	got, err := m.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	// Mutating the returned copy must not leak back into the store.
	got.CanaryWeight = 99
	again, err := m.GetDeployment(ctx, "dep-1")
	require.NoError(t, err)
	assert.Equal(t, 5, again.CanaryWeight)
}

func TestMemoryStoreSaveRequiresExisting(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	err := m.SaveDeployment(ctx, sampleSnapshot("ghost", models.StateStage, time.Now()))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreActiveDeployment(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now().UTC()

	_, err := m.ActiveDeployment(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	done := sampleSnapshot("dep-old", models.StatePromoted, now.Add(-time.Hour))
	fs := models.StatePromoted
	done.FinalState = &fs
	require.NoError(t, m.CreateDeployment(ctx, done))

	_, err = m.ActiveDeployment(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	live := sampleSnapshot("dep-live", models.StateStage, now)
	require.NoError(t, m.CreateDeployment(ctx, live))

	active, err := m.ActiveDeployment(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dep-live", active.ID)
}

func TestMemoryStoreTransitionsAndEvents(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	now := time.Now().UTC()

	require.NoError(t, m.AppendTransition(ctx, models.StateTransition{
		DeploymentID: "dep-1", FromState: models.StateIdle, ToState: models.StatePending, TS: now,
	}))
	require.NoError(t, m.AppendTransition(ctx, models.StateTransition{
		DeploymentID: "dep-1", FromState: models.StatePending, ToState: models.StateStage, TS: now.Add(time.Second),
	}))

	trs, err := m.ListTransitions(ctx, "dep-1", 10)
	require.NoError(t, err)
	require.Len(t, trs, 2)
	assert.Equal(t, models.StateStage, trs[0].ToState) // most recent first
	assert.NotEmpty(t, trs[0].ID)

	require.NoError(t, m.AppendEvent(ctx, EventInput{
		DeploymentID: "dep-1", EventType: "deployment_started", Payload: []byte(`{"name":"x"}`), TS: now,
	}))
	evs, err := m.ListEvents(ctx, "dep-1", 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "deployment_started", evs[0].EventType)

	evs, err = m.ListEvents(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestMemoryStoreListDeploymentsByRecency(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.CreateDeployment(ctx, sampleSnapshot(
			string(rune('a'+i)), models.StateRolledBack, base.Add(time.Duration(i)*time.Hour))))
	}

	list, err := m.ListDeployments(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "e", list[0].ID)
	assert.Equal(t, "c", list[2].ID)
}
