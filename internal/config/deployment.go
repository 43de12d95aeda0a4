package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/braincanary/braincanary/internal/models"
)

// rawDeployment mirrors the deployment spec file: durations are strings in
// the ms|s|m|h format and converted during decode.
type rawDeployment struct {
	Name     string         `yaml:"name"`
	Project  string         `yaml:"project"`
	Baseline models.Variant `yaml:"baseline"`
	Canary   models.Variant `yaml:"canary"`
	Stages   []rawStage     `yaml:"stages"`
	Rollback rawRollback    `yaml:"rollback"`
	Monitor  rawMonitor     `yaml:"monitor"`
}

type rawStage struct {
	Weight     int           `yaml:"weight"`
	Duration   string        `yaml:"duration"`
	MinSamples int           `yaml:"min_samples"`
	Gates      []models.Gate `yaml:"gates"`
}

type rawRollback struct {
	OnScoreDrop float64 `yaml:"on_score_drop"`
	OnErrorRate float64 `yaml:"on_error_rate"`
	Cooldown    string  `yaml:"cooldown"`
}

type rawMonitor struct {
	PollInterval   string   `yaml:"poll_interval"`
	StickyKey      string   `yaml:"sticky_key"`
	ScorerLagGrace string   `yaml:"scorer_lag_grace"`
	Query          rawQuery `yaml:"query"`
}

type rawQuery struct {
	APIURL     string `yaml:"api_url"`
	Path       string `yaml:"path"`
	APIKey     string `yaml:"api_key"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// LoadDeploymentFile reads and validates a deployment spec from path.
func LoadDeploymentFile(path string) (models.DeploymentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.DeploymentConfig{}, fmt.Errorf("read deployment spec: %w", err)
	}
	return ParseDeployment(data)
}

// ParseDeployment decodes a YAML (or JSON) deployment spec and validates it.
func ParseDeployment(data []byte) (models.DeploymentConfig, error) {
	var raw rawDeployment
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return models.DeploymentConfig{}, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}

	cfg := models.DeploymentConfig{
		Name:     raw.Name,
		Project:  raw.Project,
		Baseline: raw.Baseline,
		Canary:   raw.Canary,
		Rollback: models.RollbackPolicy{
			OnScoreDrop: raw.Rollback.OnScoreDrop,
			OnErrorRate: raw.Rollback.OnErrorRate,
		},
		Monitor: models.MonitorConfig{
			StickyKey: raw.Monitor.StickyKey,
			Query: models.QueryConfig{
				APIURL:     raw.Monitor.Query.APIURL,
				Path:       raw.Monitor.Query.Path,
				APIKey:     raw.Monitor.Query.APIKey,
				MaxRetries: raw.Monitor.Query.MaxRetries,
			},
		},
	}

	var err error
	for i, rs := range raw.Stages {
		stage := models.Stage{
			Weight:     rs.Weight,
			MinSamples: rs.MinSamples,
			Gates:      rs.Gates,
		}
		if stage.Duration, err = parseDuration("stages."+itoa(i)+".duration", rs.Duration); err != nil {
			return models.DeploymentConfig{}, err
		}
		cfg.Stages = append(cfg.Stages, stage)
	}
	if cfg.Rollback.Cooldown, err = parseDuration("rollback.cooldown", raw.Rollback.Cooldown); err != nil {
		return models.DeploymentConfig{}, err
	}
	if cfg.Monitor.PollInterval, err = parseDuration("monitor.poll_interval", raw.Monitor.PollInterval); err != nil {
		return models.DeploymentConfig{}, err
	}
	if cfg.Monitor.ScorerLagGrace, err = parseDuration("monitor.scorer_lag_grace", raw.Monitor.ScorerLagGrace); err != nil {
		return models.DeploymentConfig{}, err
	}
	if cfg.Monitor.Query.Timeout, err = parseDuration("monitor.query.timeout", raw.Monitor.Query.Timeout); err != nil {
		return models.DeploymentConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return models.DeploymentConfig{}, err
	}
	return cfg, nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	d, err := models.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", models.ErrInvalidConfig, field, err)
	}
	return d, nil
}

func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}
