package models

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig marks construction-time configuration failures. Wrap it so
// callers can test with errors.Is.
var ErrInvalidConfig = errors.New("invalid deployment config")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks every invariant the controller relies on. A config that
// passes Validate is safe to hand to the controller unchanged.
func (c DeploymentConfig) Validate() error {
	if c.Name == "" {
		return invalidf("name required")
	}
	if c.Project == "" {
		return invalidf("project required")
	}
	if c.Baseline.Model == "" {
		return invalidf("baseline.model required")
	}
	if c.Canary.Model == "" {
		return invalidf("canary.model required")
	}
	if len(c.Stages) == 0 {
		return invalidf("at least one stage required")
	}

	prevWeight := 0
	gatedNonFinal := false
	for i, st := range c.Stages {
		if st.Weight < 1 || st.Weight > 100 {
			return invalidf("stage %d: weight %d outside [1,100]", i, st.Weight)
		}
		if st.Weight <= prevWeight {
			return invalidf("stage %d: weight %d not greater than previous %d", i, st.Weight, prevWeight)
		}
		prevWeight = st.Weight
		if st.MinSamples < 1 {
			return invalidf("stage %d: min_samples must be >= 1", i)
		}
		if st.Duration < 0 {
			return invalidf("stage %d: duration must not be negative", i)
		}
		for j, g := range st.Gates {
			if err := g.validate(); err != nil {
				return invalidf("stage %d gate %d: %v", i, j, err)
			}
		}
		if i < len(c.Stages)-1 && len(st.Gates) > 0 {
			gatedNonFinal = true
		}
	}
	if c.Stages[len(c.Stages)-1].Weight != 100 {
		return invalidf("final stage weight must be 100")
	}
	if len(c.Stages) > 1 && !gatedNonFinal {
		return invalidf("at least one non-final stage must define a gate")
	}

	if c.Rollback.OnScoreDrop < 0 || c.Rollback.OnScoreDrop > 1 {
		return invalidf("rollback.on_score_drop %.3f outside [0,1]", c.Rollback.OnScoreDrop)
	}
	if c.Rollback.OnErrorRate < 0 || c.Rollback.OnErrorRate > 1 {
		return invalidf("rollback.on_error_rate %.3f outside [0,1]", c.Rollback.OnErrorRate)
	}
	if c.Rollback.Cooldown < 0 {
		return invalidf("rollback.cooldown must not be negative")
	}

	if c.Monitor.PollInterval <= 0 {
		return invalidf("monitor.poll_interval required")
	}
	if c.Monitor.ScorerLagGrace < 0 {
		return invalidf("monitor.scorer_lag_grace must not be negative")
	}
	return nil
}

func (g Gate) validate() error {
	if g.Scorer == "" {
		return fmt.Errorf("scorer required")
	}
	if g.Threshold < 0 || g.Threshold > 1 {
		return fmt.Errorf("threshold %.3f outside [0,1]", g.Threshold)
	}
	switch g.Comparison {
	case ComparisonNotWorse, ComparisonBetter, ComparisonAbsoluteOnly:
	default:
		return fmt.Errorf("unknown comparison %q", g.Comparison)
	}
	if g.Confidence < 0.5 || g.Confidence > 0.999 {
		return fmt.Errorf("confidence %.3f outside [0.5,0.999]", g.Confidence)
	}
	return nil
}
