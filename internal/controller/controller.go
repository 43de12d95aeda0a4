// Package controller drives the rollout state machine for one deployment.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/braincanary/braincanary/internal/clock"
	"github.com/braincanary/braincanary/internal/events"
	"github.com/braincanary/braincanary/internal/gate"
	"github.com/braincanary/braincanary/internal/models"
	"github.com/braincanary/braincanary/internal/store"
)

// ErrInvalidTransition marks state-machine violations; hitting it indicates a
// caller bug, not an operational condition.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrNoActiveDeployment is returned by manual operations when nothing is
// running.
var ErrNoActiveDeployment = errors.New("no active deployment")

// MonitorControl is the slice of monitor behavior the controller drives.
type MonitorControl interface {
	ResetForStage(t time.Time)
}

// allowed is the transition table. Anything absent fails.
var allowed = map[models.State][]models.State{
	models.StateIdle:        {models.StatePending},
	models.StatePending:     {models.StateStage, models.StateRollingBack},
	models.StateStage:       {models.StateStage, models.StatePaused, models.StateRollingBack, models.StatePromoted},
	models.StatePaused:      {models.StateStage, models.StateRollingBack},
	models.StateRollingBack: {models.StateRolledBack},
}

func transitionAllowed(from, to models.State) bool {
	for _, t := range allowed[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Controller owns the sole mutable DeploymentSnapshot. Every mutation is
// persisted before the corresponding event is observable on the bus; readers
// get a stable copy through Snapshot without ever taking the write lock.
type Controller struct {
	store store.Store
	bus   *events.Bus
	clock clock.Clock

	mu      sync.Mutex
	snap    *models.DeploymentSnapshot
	monitor MonitorControl

	latestScores models.ScoreUpdate
	latestGates  []models.GateResult
	latestAction models.NextAction

	current atomic.Pointer[models.DeploymentSnapshot]
}

// New constructs a controller and recovers the most recent non-terminal
// deployment from the store, if any.
func New(ctx context.Context, st store.Store, bus *events.Bus, clk clock.Clock) (*Controller, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	c := &Controller{store: st, bus: bus, clock: clk}

	snap, err := st.ActiveDeployment(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c, nil
		}
		return nil, fmt.Errorf("recover active deployment: %w", err)
	}
	c.snap = &snap
	c.publishSnapshot()
	log.Printf("[controller] recovered deployment %s state=%s stage=%d (stage entered %s ago)",
		snap.ID, snap.State, snap.StageIndex, clk.Now().Sub(snap.StageEnteredAt).Truncate(time.Second))
	return c, nil
}

// AttachMonitor wires the monitor the controller resets on stage entry.
func (c *Controller) AttachMonitor(m MonitorControl) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.monitor = m
}

// Snapshot returns a copy of the current deployment snapshot, or nil when
// idle. Safe for concurrent use; never blocks on controller transitions.
func (c *Controller) Snapshot() *models.DeploymentSnapshot {
	p := c.current.Load()
	if p == nil {
		return nil
	}
	snap := p.Clone()
	return &snap
}

// LatestGates returns the last gate evaluation and the action it produced.
func (c *Controller) LatestGates() ([]models.GateResult, models.NextAction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gates := append([]models.GateResult(nil), c.latestGates...)
	return gates, c.latestAction
}

// Start begins a new deployment: PENDING is persisted, deployment_started is
// emitted, then the snapshot moves to STAGE on the first stage's weight.
func (c *Controller) Start(ctx context.Context, cfg models.DeploymentConfig) (models.DeploymentSnapshot, error) {
	if err := cfg.Validate(); err != nil {
		return models.DeploymentSnapshot{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap != nil && !c.snap.State.Terminal() {
		return models.DeploymentSnapshot{}, fmt.Errorf("deployment %s still active in state %s", c.snap.ID, c.snap.State)
	}

	now := c.clock.Now()
	snap := models.DeploymentSnapshot{
		ID:             uuid.New().String(),
		Name:           cfg.Name,
		Config:         cfg,
		State:          models.StatePending,
		StageIndex:     0,
		StageEnteredAt: now,
		StartedAt:      now,
		CanaryWeight:   cfg.Stages[0].Weight,
	}
	if err := c.store.CreateDeployment(ctx, snap); err != nil {
		return models.DeploymentSnapshot{}, fmt.Errorf("persist deployment: %w", err)
	}
	if err := c.store.AppendTransition(ctx, models.StateTransition{
		DeploymentID: snap.ID,
		FromState:    models.StateIdle,
		ToState:      models.StatePending,
		Reason:       "start",
		TS:           now,
	}); err != nil {
		return models.DeploymentSnapshot{}, fmt.Errorf("persist transition: %w", err)
	}

	c.snap = &snap
	c.latestScores = models.ScoreUpdate{}
	c.latestGates = nil
	c.latestAction = ""
	c.publishSnapshot()

	c.emit(ctx, events.TypeDeploymentStarted, events.DeploymentStartedData{
		DeploymentID: snap.ID,
		Name:         snap.Name,
		StageIndex:   0,
		CanaryWeight: snap.CanaryWeight,
	})

	if err := c.transition(ctx, models.StateStage, "enter_first_stage", func(s *models.DeploymentSnapshot) {}); err != nil {
		return models.DeploymentSnapshot{}, err
	}
	return c.snap.Clone(), nil
}

// HandleScoreUpdate consumes one monitor snapshot: persist it, re-evaluate
// the current stage's gates, and act on the decision. Calls are serialized.
func (c *Controller) HandleScoreUpdate(ctx context.Context, update models.ScoreUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap == nil || c.snap.State.Terminal() {
		return nil
	}
	snap := c.snap
	c.latestScores = update

	now := c.clock.Now()
	for scorer, comp := range update.Scores {
		err := c.store.AppendScoreSnapshot(ctx, store.ScoreSnapshotInput{
			DeploymentID: snap.ID,
			StageIndex:   snap.StageIndex,
			Scorer:       scorer,
			BaselineMean: comp.Baseline.Mean,
			BaselineStd:  comp.Baseline.Std,
			BaselineN:    comp.Baseline.N,
			CanaryMean:   comp.Canary.Mean,
			CanaryStd:    comp.Canary.Std,
			CanaryN:      comp.Canary.N,
			TS:           now,
		})
		if err != nil {
			return fmt.Errorf("persist score snapshot: %w", err)
		}
	}
	c.emit(ctx, events.TypeScoreUpdate, update.Scores)

	if snap.State != models.StateStage {
		return nil
	}

	stage := snap.CurrentStage()
	gates := gate.EvaluateStage(stage, update.Scores)
	c.latestGates = gates

	action, rollbackReason, remaining := c.decide(stage, gates, update)
	c.latestAction = action

	c.emit(ctx, events.TypeGateStatus, events.GateStatusData{
		Gates:           gates,
		NextAction:      action,
		TimeRemainingMS: remaining.Milliseconds(),
	})

	switch action {
	case models.ActionRollback:
		return c.rollbackLocked(ctx, rollbackReason)
	case models.ActionAutoPromote:
		return c.advanceStage(ctx, "auto_promote")
	default:
		return nil
	}
}

// decide computes the stage decision for the current gates and error rate.
func (c *Controller) decide(stage models.Stage, gates []models.GateResult, update models.ScoreUpdate) (models.NextAction, string, time.Duration) {
	elapsed := c.clock.Now().Sub(c.snap.StageEnteredAt)
	remaining := stage.Duration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	durationElapsed := elapsed >= stage.Duration

	samplesReached := true
	allPassing := len(gates) > 0
	for _, g := range gates {
		if g.CanaryN < stage.MinSamples {
			samplesReached = false
		}
		if g.Status != models.GatePassing {
			allPassing = false
		}
	}

	if reason := evaluateRollback(gates, update.ErrorRate(), c.snap.Config.Rollback); reason != "" {
		return models.ActionRollback, reason, remaining
	}
	if allPassing && durationElapsed && samplesReached {
		return models.ActionAutoPromote, "", remaining
	}
	return models.ActionHold, "", remaining
}

// evaluateRollback returns a non-empty reason when any automatic rollback
// trigger fires, strongest evidence first.
func evaluateRollback(gates []models.GateResult, errRate float64, policy models.RollbackPolicy) string {
	for _, g := range gates {
		if g.Status == models.GateFailing && g.PValue != nil && *g.PValue < 0.01 {
			return "score_regression:" + g.Scorer
		}
	}
	for _, g := range gates {
		if g.Status == models.GateInsufficientData {
			continue
		}
		if g.BaselineMean-g.CanaryMean > policy.OnScoreDrop {
			return "absolute_drop:" + g.Scorer
		}
	}
	if errRate > policy.OnErrorRate {
		return "error_rate_exceeded"
	}
	return ""
}

// HandleMonitorHealth relays monitor diagnostics onto the event stream.
func (c *Controller) HandleMonitorHealth(ctx context.Context, h models.MonitorHealth) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// deployment_complete must stay the final event of a deployment.
	if c.snap == nil || c.snap.State.Terminal() {
		return
	}
	c.emit(ctx, events.TypeMonitorHealth, h)
}

// Pause suspends gate-driven progression. Only valid in STAGE.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return ErrNoActiveDeployment
	}
	idx := c.snap.StageIndex
	if err := c.transition(ctx, models.StatePaused, "manual_pause", func(s *models.DeploymentSnapshot) {
		s.PausedStageIndex = &idx
	}); err != nil {
		return err
	}
	c.emit(ctx, events.TypePaused, events.StageIndexData{StageIndex: idx})
	return nil
}

// Resume re-enters STAGE at the paused index; the stage timer restarts.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return ErrNoActiveDeployment
	}
	if c.snap.State != models.StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, c.snap.State)
	}
	now := c.clock.Now()
	if err := c.transition(ctx, models.StateStage, "manual_resume", func(s *models.DeploymentSnapshot) {
		s.StageEnteredAt = now
		s.PausedStageIndex = nil
	}); err != nil {
		return err
	}
	c.emit(ctx, events.TypeResumed, events.StageIndexData{StageIndex: c.snap.StageIndex})
	return nil
}

// Promote advances to the next stage. Without force, a STAGE promotion must
// currently evaluate to auto_promote. From PAUSED the gates are not consulted;
// on the final stage it fails with ErrInvalidTransition, as PAUSED has no
// transition to PROMOTED.
func (c *Controller) Promote(ctx context.Context, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return ErrNoActiveDeployment
	}
	switch c.snap.State {
	case models.StateStage:
		if !force {
			stage := c.snap.CurrentStage()
			gates := gate.EvaluateStage(stage, c.latestScores.Scores)
			action, _, _ := c.decide(stage, gates, c.latestScores)
			if action != models.ActionAutoPromote {
				return fmt.Errorf("promotion gates not satisfied (next action %s); use force to override", action)
			}
		}
	case models.StatePaused:
		// Operator judgment overrides gates while paused.
	default:
		return fmt.Errorf("%w: promote from %s", ErrInvalidTransition, c.snap.State)
	}
	return c.advanceStage(ctx, "manual_promote")
}

// Rollback drops the canary to zero traffic and terminates the deployment.
func (c *Controller) Rollback(ctx context.Context, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snap == nil {
		return ErrNoActiveDeployment
	}
	if reason == "" {
		reason = "manual_rollback"
	}
	return c.rollbackLocked(ctx, reason)
}

// advanceStage moves to the next stage, or to PROMOTED past the final one.
// Caller holds the lock.
func (c *Controller) advanceStage(ctx context.Context, reason string) error {
	snap := c.snap
	next := snap.StageIndex + 1
	now := c.clock.Now()

	if next >= len(snap.Config.Stages) {
		if err := c.transition(ctx, models.StatePromoted, reason, func(s *models.DeploymentSnapshot) {
			s.CanaryWeight = 100
			fs := models.StatePromoted
			s.FinalState = &fs
			s.CompletedAt = &now
			s.Reason = reason
		}); err != nil {
			return err
		}
		c.emit(ctx, events.TypeDeploymentComplete, events.DeploymentCompleteData{FinalState: models.StatePromoted})
		return nil
	}

	from := snap.StageIndex
	weight := snap.Config.Stages[next].Weight
	if err := c.transition(ctx, models.StateStage, reason, func(s *models.DeploymentSnapshot) {
		s.StageIndex = next
		s.StageEnteredAt = now
		s.CanaryWeight = weight
		s.PausedStageIndex = nil
	}); err != nil {
		return err
	}
	// Reset before emitting so the first score_update of the new stage is
	// observed after stage_change.
	if c.monitor != nil {
		c.monitor.ResetForStage(now)
	}
	c.latestGates = nil
	c.latestScores = models.ScoreUpdate{}
	c.emit(ctx, events.TypeStageChange, events.StageChangeData{
		From:         from,
		To:           next,
		CanaryWeight: weight,
	})

	// A gateless final stage has nothing left to prove: without gates it can
	// never auto-promote off a score update, so entering it completes the
	// rollout.
	if next == len(snap.Config.Stages)-1 && len(snap.Config.Stages[next].Gates) == 0 {
		return c.advanceStage(ctx, reason)
	}
	return nil
}

// rollbackLocked performs the two-step rollback: traffic is cut the moment
// ROLLING_BACK persists, then the terminal state lands. Caller holds the
// lock.
func (c *Controller) rollbackLocked(ctx context.Context, reason string) error {
	snap := c.snap
	if snap.State != models.StateRollingBack {
		stageIndex := snap.StageIndex
		if err := c.transition(ctx, models.StateRollingBack, reason, func(s *models.DeploymentSnapshot) {
			s.CanaryWeight = 0
			s.Reason = reason
		}); err != nil {
			return err
		}
		c.emit(ctx, events.TypeRollbackTriggered, events.RollbackTriggeredData{
			Reason:       reason,
			StageIndex:   stageIndex,
			CanaryWeight: 0,
		})
	}

	now := c.clock.Now()
	if err := c.transition(ctx, models.StateRolledBack, reason, func(s *models.DeploymentSnapshot) {
		fs := models.StateRolledBack
		s.FinalState = &fs
		s.CompletedAt = &now
	}); err != nil {
		// Weight is already zero in memory and on disk; recovery will
		// re-observe ROLLING_BACK and this step can be retried.
		return err
	}
	c.emit(ctx, events.TypeDeploymentComplete, events.DeploymentCompleteData{FinalState: models.StateRolledBack})
	return nil
}

// transition is the single mutation path: assert the edge, apply the patch,
// persist the row, append the transition record, then swap the readable
// snapshot. Events are the caller's job, after this returns.
func (c *Controller) transition(ctx context.Context, to models.State, reason string, patch func(*models.DeploymentSnapshot)) error {
	from := c.snap.State
	if !transitionAllowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	next := c.snap.Clone()
	next.State = to
	patch(&next)

	if err := c.store.SaveDeployment(ctx, next); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}

	var scoresJSON []byte
	if len(c.latestScores.Scores) > 0 {
		scoresJSON, _ = json.Marshal(c.latestScores.Scores)
	}
	if err := c.store.AppendTransition(ctx, models.StateTransition{
		DeploymentID: next.ID,
		FromState:    from,
		ToState:      to,
		Reason:       reason,
		Scores:       scoresJSON,
		TS:           c.clock.Now(),
	}); err != nil {
		return fmt.Errorf("persist transition: %w", err)
	}

	c.snap = &next
	c.publishSnapshot()
	return nil
}

// emit persists the event row, then publishes to the bus. The row is
// best-effort: a dead event log must not wedge the state machine, the
// snapshot row is already durable.
func (c *Controller) emit(ctx context.Context, typ events.Type, data interface{}) {
	ts := c.clock.Now()
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("[controller] encode %s payload: %v", typ, err)
		payload = []byte(`{}`)
	}
	if err := c.store.AppendEvent(ctx, store.EventInput{
		DeploymentID: c.snap.ID,
		EventType:    string(typ),
		Payload:      payload,
		TS:           ts,
	}); err != nil {
		log.Printf("[controller] persist %s event: %v", typ, err)
	}
	if c.bus != nil {
		c.bus.Publish(events.Event{
			Type:         typ,
			DeploymentID: c.snap.ID,
			Timestamp:    ts,
			Data:         data,
		})
	}
}

func (c *Controller) publishSnapshot() {
	snap := c.snap.Clone()
	c.current.Store(&snap)
}
