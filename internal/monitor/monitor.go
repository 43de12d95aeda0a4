// Package monitor incrementally ingests scored traces from the evaluation
// backend and maintains running statistics per (version, scorer).
package monitor

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/braincanary/braincanary/internal/evalquery"
	"github.com/braincanary/braincanary/internal/models"
	"github.com/braincanary/braincanary/internal/stats"
)

// Config constructs a Monitor for one deployment.
type Config struct {
	DeploymentID   string
	Project        string
	PollInterval   time.Duration
	StageStart     time.Time
	Scorers        []string
	ScorerLagGrace time.Duration
	Client         evalquery.Client
}

// Monitor polls the backend on a fixed interval. Ticks never overlap; a tick
// that fails leaves the watermarks untouched so the next one re-reads the
// same window.
type Monitor struct {
	deploymentID   string
	project        string
	pollInterval   time.Duration
	scorers        []string
	scorerLagGrace time.Duration
	client         evalquery.Client

	onUpdate func(models.ScoreUpdate)
	onHealth func(models.MonitorHealth)

	mu                sync.Mutex
	baseline          map[string]*stats.RunningStats
	canary            map[string]*stats.RunningStats
	watermarkBaseline time.Time
	watermarkCanary   time.Time
	canaryTotal       int64
	canaryErrors      int64
	seenBaseline      map[string]time.Time
	seenCanary        map[string]time.Time

	inFlight bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Monitor positioned at the stage start.
func New(cfg Config) (*Monitor, error) {
	if cfg.DeploymentID == "" {
		return nil, fmt.Errorf("monitor: deployment id required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("monitor: query client required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("monitor: poll interval required")
	}
	m := &Monitor{
		deploymentID:   cfg.DeploymentID,
		project:        cfg.Project,
		pollInterval:   cfg.PollInterval,
		scorers:        append([]string(nil), cfg.Scorers...),
		scorerLagGrace: cfg.ScorerLagGrace,
		client:         cfg.Client,
	}
	m.initLocked(cfg.StageStart)
	return m, nil
}

// initLocked resets all observed state; callers hold no lock during New.
func (m *Monitor) initLocked(stageStart time.Time) {
	m.baseline = map[string]*stats.RunningStats{}
	m.canary = map[string]*stats.RunningStats{}
	for _, s := range m.scorers {
		m.baseline[s] = stats.NewRunningStats()
		m.canary[s] = stats.NewRunningStats()
	}
	m.watermarkBaseline = stageStart
	m.watermarkCanary = stageStart
	m.canaryTotal = 0
	m.canaryErrors = 0
	m.seenBaseline = map[string]time.Time{}
	m.seenCanary = map[string]time.Time{}
}

// OnScoreUpdate registers the per-tick snapshot consumer. Must be called
// before Start.
func (m *Monitor) OnScoreUpdate(fn func(models.ScoreUpdate)) { m.onUpdate = fn }

// OnHealth registers the health consumer. Must be called before Start.
func (m *Monitor) OnHealth(fn func(models.MonitorHealth)) { m.onHealth = fn }

// Start begins periodic ticking. The first tick fires immediately.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runTick(ctx)
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runTick(ctx)
			}
		}
	}()
}

// Stop cancels the periodic tick and joins any in-flight request.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// ResetForStage repositions the monitor at a fresh stage boundary: both
// watermarks move to t and every counter and reservoir is zeroed.
func (m *Monitor) ResetForStage(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initLocked(t)
}

func (m *Monitor) runTick(ctx context.Context) {
	if err := m.Tick(ctx); err != nil {
		log.Printf("[monitor] tick failed for %s: %v", m.deploymentID, err)
	}
}

// Tick performs one poll cycle. Overlapping calls are dropped. Exported so
// tests (and the lifecycle glue) can drive the monitor deterministically.
func (m *Monitor) Tick(ctx context.Context) error {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return nil
	}
	m.inFlight = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	// Fetch both windows before mutating anything: a failed canary query
	// must not leave the baseline watermark advanced, or the failed tick's
	// baseline rows would never be re-read.
	baselineRows, err := m.fetch(ctx, models.VersionBaseline)
	if err != nil {
		m.emitHealth("degraded")
		return fmt.Errorf("fetch baseline: %w", err)
	}
	canaryRows, err := m.fetch(ctx, models.VersionCanary)
	if err != nil {
		m.emitHealth("degraded")
		return fmt.Errorf("fetch canary: %w", err)
	}

	m.mu.Lock()
	m.applyLocked(models.VersionBaseline, baselineRows)
	m.applyLocked(models.VersionCanary, canaryRows)
	m.mu.Unlock()

	if m.onUpdate != nil {
		m.onUpdate(m.Snapshot())
	}
	m.emitHealth("")
	return nil
}

// fetch queries one version's rows past its watermark, minus the lag grace.
func (m *Monitor) fetch(ctx context.Context, version string) ([]evalquery.Row, error) {
	m.mu.Lock()
	watermark := m.watermarkBaseline
	if version == models.VersionCanary {
		watermark = m.watermarkCanary
	}
	m.mu.Unlock()

	query := evalquery.TraceQuery{
		Project:      m.project,
		DeploymentID: m.deploymentID,
		Version:      version,
		After:        watermark.Add(-m.scorerLagGrace),
	}
	return m.client.Query(ctx, query.SQL())
}

// applyLocked folds fetched rows into counters, stats and the watermark.
// Caller holds the lock; nothing here can fail, so a tick either commits
// both versions or neither.
func (m *Monitor) applyLocked(version string, rows []evalquery.Row) {
	perScorer := m.baseline
	seen := m.seenBaseline
	maxCreated := m.watermarkBaseline
	if version == models.VersionCanary {
		perScorer = m.canary
		seen = m.seenCanary
		maxCreated = m.watermarkCanary
	}

	for _, row := range rows {
		if row.ID != "" {
			if _, dup := seen[row.ID]; dup {
				continue
			}
			seen[row.ID] = row.Created
		}
		if version == models.VersionCanary {
			m.canaryTotal++
			if row.Error != nil && *row.Error != "" {
				m.canaryErrors++
			}
		}
		for _, scorer := range m.scorers {
			v, ok := row.Scores[scorer]
			if !ok || v == nil {
				continue
			}
			if math.IsNaN(*v) || math.IsInf(*v, 0) {
				continue
			}
			perScorer[scorer].Add(*v)
		}
		if row.Created.After(maxCreated) {
			maxCreated = row.Created
		}
	}

	// Advance monotonically; prune dedup ids that fell out of the grace
	// window and can no longer be re-served.
	if version == models.VersionCanary {
		m.watermarkCanary = maxCreated
	} else {
		m.watermarkBaseline = maxCreated
	}
	cutoff := maxCreated.Add(-m.scorerLagGrace)
	for id, created := range seen {
		if created.Before(cutoff) {
			delete(seen, id)
		}
	}
}

// Snapshot copies the current statistics into a ScoreUpdate. The raw sample
// slices are copies: callers never touch the live reservoirs.
func (m *Monitor) Snapshot() models.ScoreUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()

	scores := models.ScoreSnapshot{}
	for _, scorer := range m.scorers {
		b := m.baseline[scorer]
		c := m.canary[scorer]
		scores[scorer] = models.ScorerComparison{
			Baseline: models.VersionStats{
				Mean: b.Mean(),
				Std:  b.Std(),
				N:    int(b.N()),
			},
			Canary: models.VersionStats{
				Mean: c.Mean(),
				Std:  c.Std(),
				N:    int(c.N()),
			},
			BaselineSamples: b.Samples(),
			CanarySamples:   c.Samples(),
		}
	}
	return models.ScoreUpdate{
		Scores:       scores,
		CanaryTotal:  m.canaryTotal,
		CanaryErrors: m.canaryErrors,
	}
}

// Watermarks returns the current (baseline, canary) ingestion positions.
func (m *Monitor) Watermarks() (time.Time, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermarkBaseline, m.watermarkCanary
}

func (m *Monitor) emitHealth(override string) {
	if m.onHealth == nil {
		return
	}
	h := m.client.Health()
	health := models.MonitorHealth{
		Status:              h.Status,
		ConsecutiveFailures: h.ConsecutiveFailures,
		TotalRequests:       h.TotalRequests,
		TotalRateLimited:    h.TotalRateLimited,
		LastError:           h.LastError,
		LastErrorAt:         h.LastErrorAt,
		LastSuccessAt:       h.LastSuccessAt,
		LastBackoffMs:       h.LastBackoffMs,
	}
	if override != "" {
		health.Status = override
	}
	m.onHealth(health)
}
