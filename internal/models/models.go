package models

import (
	"time"
)

// State is the lifecycle state of a deployment.
type State string

const (
	StateIdle        State = "IDLE"
	StatePending     State = "PENDING"
	StateStage       State = "STAGE"
	StatePaused      State = "PAUSED"
	StateRollingBack State = "ROLLING_BACK"
	StateRolledBack  State = "ROLLED_BACK"
	StatePromoted    State = "PROMOTED"
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == StateRolledBack || s == StatePromoted
}

// Version labels for the two coexisting variants; these are also the values
// of the braincanary.version metadata field on scored traces.
const (
	VersionBaseline = "baseline"
	VersionCanary   = "canary"
)

// Comparison selects how a gate weighs canary scores against baseline scores.
type Comparison string

const (
	ComparisonNotWorse     Comparison = "not_worse_than_baseline"
	ComparisonBetter       Comparison = "better_than_baseline"
	ComparisonAbsoluteOnly Comparison = "absolute_only"
)

// GateStatus is the outcome of evaluating a single gate.
type GateStatus string

const (
	GatePassing          GateStatus = "passing"
	GateFailing          GateStatus = "failing"
	GateInsufficientData GateStatus = "insufficient_data"
)

// NextAction is the controller's decision after a gate evaluation pass.
type NextAction string

const (
	ActionHold        NextAction = "hold"
	ActionAutoPromote NextAction = "auto_promote"
	ActionRollback    NextAction = "rollback"
)

// Variant describes one of the two prompt/model bundles under evaluation.
type Variant struct {
	Model        string `json:"model" yaml:"model"`
	Prompt       string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty" yaml:"system_prompt,omitempty"`
}

// Gate is a quality assertion on a named scorer.
type Gate struct {
	Scorer     string     `json:"scorer" yaml:"scorer"`
	Threshold  float64    `json:"threshold" yaml:"threshold"`
	Comparison Comparison `json:"comparison" yaml:"comparison"`
	Confidence float64    `json:"confidence" yaml:"confidence"`
}

// Stage is one step of the rollout: a target canary share plus its gating
// criteria. Duration zero means the stage has no minimum dwell time.
type Stage struct {
	Weight     int           `json:"weight" yaml:"weight"`
	Duration   time.Duration `json:"duration" yaml:"-"`
	MinSamples int           `json:"minSamples" yaml:"min_samples"`
	Gates      []Gate        `json:"gates" yaml:"gates"`
}

// RollbackPolicy holds the automatic rollback triggers.
type RollbackPolicy struct {
	OnScoreDrop float64       `json:"onScoreDrop" yaml:"on_score_drop"`
	OnErrorRate float64       `json:"onErrorRate" yaml:"on_error_rate"`
	Cooldown    time.Duration `json:"cooldown" yaml:"-"`
}

// QueryConfig configures the evaluation backend SQL endpoint.
type QueryConfig struct {
	APIURL     string        `json:"apiUrl" yaml:"api_url"`
	Path       string        `json:"path,omitempty" yaml:"path,omitempty"`
	APIKey     string        `json:"apiKey,omitempty" yaml:"api_key,omitempty"`
	Timeout    time.Duration `json:"timeout" yaml:"-"`
	MaxRetries int           `json:"maxRetries" yaml:"max_retries"`
}

// MonitorConfig configures the score monitor for a deployment.
type MonitorConfig struct {
	PollInterval   time.Duration `json:"pollInterval" yaml:"-"`
	StickyKey      string        `json:"stickyKey,omitempty" yaml:"sticky_key,omitempty"`
	ScorerLagGrace time.Duration `json:"scorerLagGrace" yaml:"-"`
	Query          QueryConfig   `json:"query" yaml:"query"`
}

// DeploymentConfig is the immutable description of one rollout.
type DeploymentConfig struct {
	Name     string         `json:"name" yaml:"name"`
	Project  string         `json:"project" yaml:"project"`
	Baseline Variant        `json:"baseline" yaml:"baseline"`
	Canary   Variant        `json:"canary" yaml:"canary"`
	Stages   []Stage        `json:"stages" yaml:"stages"`
	Rollback RollbackPolicy `json:"rollback" yaml:"rollback"`
	Monitor  MonitorConfig  `json:"monitor" yaml:"monitor"`
}

// Scorers returns the distinct scorer names referenced by any gate, in first
// appearance order.
func (c DeploymentConfig) Scorers() []string {
	seen := map[string]bool{}
	var out []string
	for _, st := range c.Stages {
		for _, g := range st.Gates {
			if !seen[g.Scorer] {
				seen[g.Scorer] = true
				out = append(out, g.Scorer)
			}
		}
	}
	return out
}

// DeploymentSnapshot is the controller's single source of truth for one
// deployment. Only the controller mutates it; everyone else reads copies.
type DeploymentSnapshot struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Config           DeploymentConfig `json:"config"`
	State            State            `json:"state"`
	StageIndex       int              `json:"stageIndex"`
	StageEnteredAt   time.Time        `json:"stageEnteredAt"`
	StartedAt        time.Time        `json:"startedAt"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
	FinalState       *State           `json:"finalState,omitempty"`
	PausedStageIndex *int             `json:"pausedStageIndex,omitempty"`
	CanaryWeight     int              `json:"canaryWeight"`
	Reason           string           `json:"reason,omitempty"`
}

// Clone returns a deep-enough copy: pointer fields are re-allocated so the
// caller can hold the copy across controller transitions.
func (s DeploymentSnapshot) Clone() DeploymentSnapshot {
	out := s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.FinalState != nil {
		fs := *s.FinalState
		out.FinalState = &fs
	}
	if s.PausedStageIndex != nil {
		idx := *s.PausedStageIndex
		out.PausedStageIndex = &idx
	}
	return out
}

// CurrentStage returns the stage the snapshot is positioned on.
func (s DeploymentSnapshot) CurrentStage() Stage {
	if s.StageIndex < 0 || s.StageIndex >= len(s.Config.Stages) {
		return Stage{}
	}
	return s.Config.Stages[s.StageIndex]
}

// VersionStats are the summarized running moments for one (version, scorer).
type VersionStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	N    int     `json:"n"`
}

// ScorerComparison pairs baseline and canary statistics for one scorer. The
// raw sample slices are process-internal (they feed the t-test) and are never
// serialized.
type ScorerComparison struct {
	Baseline VersionStats `json:"baseline"`
	Canary   VersionStats `json:"canary"`

	BaselineSamples []float64 `json:"-"`
	CanarySamples   []float64 `json:"-"`
}

// ScoreSnapshot maps scorer name to its baseline/canary comparison.
type ScoreSnapshot map[string]ScorerComparison

// ScoreUpdate is the monitor's per-tick message to the controller.
type ScoreUpdate struct {
	Scores       ScoreSnapshot `json:"scores"`
	CanaryTotal  int64         `json:"canaryTotal"`
	CanaryErrors int64         `json:"canaryErrors"`
}

// ErrorRate returns the observed canary error fraction for the stage so far.
func (u ScoreUpdate) ErrorRate() float64 {
	if u.CanaryTotal == 0 {
		return 0
	}
	return float64(u.CanaryErrors) / float64(u.CanaryTotal)
}

// GateResult is the outcome of evaluating one gate against current stats.
type GateResult struct {
	Scorer             string     `json:"scorer"`
	Status             GateStatus `json:"status"`
	PValue             *float64   `json:"pValue,omitempty"`
	BaselineMean       float64    `json:"baselineMean"`
	CanaryMean         float64    `json:"canaryMean"`
	BaselineN          int        `json:"baselineN"`
	CanaryN            int        `json:"canaryN"`
	AbsoluteCheck      bool       `json:"absoluteCheck"`
	ComparisonCheck    bool       `json:"comparisonCheck"`
	ConfidenceRequired float64    `json:"confidenceRequired"`
}

// StateTransition is one append-only row of the transition history.
type StateTransition struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deploymentId"`
	FromState    State     `json:"fromState"`
	ToState      State     `json:"toState"`
	Reason       string    `json:"reason,omitempty"`
	Scores       []byte    `json:"scoresSnapshot,omitempty"`
	TS           time.Time `json:"ts"`
}

// MonitorHealth carries the query client's diagnostic counters.
type MonitorHealth struct {
	Status              string     `json:"status"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	TotalRequests       int64      `json:"total_requests"`
	TotalRateLimited    int64      `json:"total_rate_limited"`
	LastError           string     `json:"last_error,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastBackoffMs       int64      `json:"last_backoff_ms,omitempty"`
}
