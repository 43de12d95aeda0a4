package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() DeploymentConfig {
	return DeploymentConfig{
		Name:     "assistant-v2",
		Project:  "assistant",
		Baseline: Variant{Model: "m"},
		Canary:   Variant{Model: "m", Prompt: "v2"},
		Stages: []Stage{
			{Weight: 5, Duration: time.Minute, MinSamples: 10, Gates: []Gate{
				{Scorer: "Q", Threshold: 0.7, Comparison: ComparisonNotWorse, Confidence: 0.95},
			}},
			{Weight: 100, MinSamples: 1},
		},
		Rollback: RollbackPolicy{OnScoreDrop: 0.1, OnErrorRate: 0.05},
		Monitor:  MonitorConfig{PollInterval: 30 * time.Second},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateWeightInvariants(t *testing.T) {
	cfg := validConfig()
	cfg.Stages[1].Weight = 5
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validConfig()
	cfg.Stages[1].Weight = 99
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validConfig()
	cfg.Stages[0].Weight = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validConfig()
	cfg.Stages = nil
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidateRequiresGatedNonFinalStage(t *testing.T) {
	cfg := validConfig()
	cfg.Stages[0].Gates = nil
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	// A single-stage rollout has no non-final stages and needs no gates.
	single := validConfig()
	single.Stages = []Stage{{Weight: 100, MinSamples: 1}}
	assert.NoError(t, single.Validate())
}

func TestValidateGateRanges(t *testing.T) {
	cfg := validConfig()
	cfg.Stages[0].Gates[0].Confidence = 0.3
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validConfig()
	cfg.Stages[0].Gates[0].Threshold = 1.5
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validConfig()
	cfg.Stages[0].Gates[0].Comparison = "roughly_similar"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidateRollbackRanges(t *testing.T) {
	cfg := validConfig()
	cfg.Rollback.OnErrorRate = 1.2
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = validConfig()
	cfg.Rollback.OnScoreDrop = -0.1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestScorersDeduplicatesInOrder(t *testing.T) {
	cfg := validConfig()
	cfg.Stages[1].Gates = []Gate{
		{Scorer: "Safety", Threshold: 0.9, Comparison: ComparisonAbsoluteOnly, Confidence: 0.9},
		{Scorer: "Q", Threshold: 0.7, Comparison: ComparisonNotWorse, Confidence: 0.95},
	}
	assert.Equal(t, []string{"Q", "Safety"}, cfg.Scorers())
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"":     0,
		"30s":  30 * time.Second,
		"10m":  10 * time.Minute,
		"1h":   time.Hour,
		"1ms":  time.Millisecond,
		"250ms": 250 * time.Millisecond,
	}
	for raw, want := range cases {
		got, err := ParseDuration(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	for _, raw := range []string{"10", "-5s", "0s", "1.5h", "10 m", "5d"} {
		_, err := ParseDuration(raw)
		assert.Error(t, err, raw)
	}
}

func TestFormatDurationRoundTrips(t *testing.T) {
	for _, d := range []time.Duration{time.Millisecond, 30 * time.Second, 10 * time.Minute, 2 * time.Hour} {
		got, err := ParseDuration(FormatDuration(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	completed := time.Now().UTC()
	fs := StatePromoted
	idx := 1
	snap := DeploymentSnapshot{
		ID:               "dep-1",
		State:            StatePromoted,
		CompletedAt:      &completed,
		FinalState:       &fs,
		PausedStageIndex: &idx,
	}

	cl := snap.Clone()
	*cl.CompletedAt = cl.CompletedAt.Add(time.Hour)
	*cl.FinalState = StateRolledBack
	*cl.PausedStageIndex = 9

	assert.Equal(t, completed, *snap.CompletedAt)
	assert.Equal(t, StatePromoted, *snap.FinalState)
	assert.Equal(t, 1, *snap.PausedStageIndex)
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	snap := DeploymentSnapshot{
		ID:             "dep-1",
		Name:           "assistant-v2",
		Config:         validConfig(),
		State:          StateStage,
		StageIndex:     0,
		StageEnteredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		StartedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		CanaryWeight:   5,
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var got DeploymentSnapshot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, snap, got)
}

func TestScoreUpdateErrorRate(t *testing.T) {
	assert.Equal(t, 0.0, ScoreUpdate{}.ErrorRate())
	assert.InDelta(t, 0.07, ScoreUpdate{CanaryTotal: 100, CanaryErrors: 7}.ErrorRate(), 1e-9)
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StatePromoted.Terminal())
	assert.True(t, StateRolledBack.Terminal())
	assert.False(t, StateStage.Terminal())
	assert.False(t, StateRollingBack.Terminal())
}
