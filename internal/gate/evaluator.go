// Package gate evaluates rollout quality gates against observed scores.
package gate

import (
	"github.com/braincanary/braincanary/internal/models"
	"github.com/braincanary/braincanary/internal/stats"
)

// MinBaselineSamples is the floor of baseline observations required before a
// gate produces a verdict; below it the baseline mean is too noisy to compare
// against regardless of the stage's canary minimum.
const MinBaselineSamples = 10

// Evaluate applies one gate to the baseline/canary comparison for its scorer.
// minSamples is the enclosing stage's canary sample requirement. The function
// is pure: same inputs, same result.
func Evaluate(g models.Gate, minSamples int, comp models.ScorerComparison) models.GateResult {
	result := models.GateResult{
		Scorer:             g.Scorer,
		BaselineMean:       comp.Baseline.Mean,
		CanaryMean:         comp.Canary.Mean,
		BaselineN:          comp.Baseline.N,
		CanaryN:            comp.Canary.N,
		ConfidenceRequired: g.Confidence,
	}

	if comp.Canary.N < minSamples || comp.Baseline.N < MinBaselineSamples {
		result.Status = models.GateInsufficientData
		return result
	}

	result.AbsoluteCheck = comp.Canary.Mean >= g.Threshold

	if g.Comparison == models.ComparisonAbsoluteOnly {
		result.ComparisonCheck = true
	} else {
		welch, err := stats.Welch(comp.BaselineSamples, comp.CanarySamples)
		if err != nil {
			// Welch needs at least two raw samples per side, which a stage
			// with min_samples 1 can lack; treat as not-yet-decidable.
			result.Status = models.GateInsufficientData
			return result
		}
		// p is the one-sided CDF mass at t = (canary−baseline)/SE: near 0
		// when the canary is clearly worse, near 1 when clearly better.
		p := welch.POneSided
		result.PValue = &p
		switch g.Comparison {
		case models.ComparisonNotWorse:
			// Pass unless we can reject "canary is at least as good".
			result.ComparisonCheck = p >= 1-g.Confidence
		case models.ComparisonBetter:
			result.ComparisonCheck = p >= g.Confidence
		}
	}

	if result.AbsoluteCheck && result.ComparisonCheck {
		result.Status = models.GatePassing
	} else {
		result.Status = models.GateFailing
	}
	return result
}

// EvaluateStage runs every gate of the stage against the score snapshot.
// Gates whose scorer has no entry in the snapshot evaluate against an empty
// comparison and come back insufficient_data.
func EvaluateStage(stage models.Stage, scores models.ScoreSnapshot) []models.GateResult {
	results := make([]models.GateResult, 0, len(stage.Gates))
	for _, g := range stage.Gates {
		results = append(results, Evaluate(g, stage.MinSamples, scores[g.Scorer]))
	}
	return results
}
