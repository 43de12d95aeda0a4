package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braincanary/braincanary/internal/models"
)

func comparison(baseline, canary []float64) models.ScorerComparison {
	return models.ScorerComparison{
		Baseline:        summarize(baseline),
		Canary:          summarize(canary),
		BaselineSamples: baseline,
		CanarySamples:   canary,
	}
}

func summarize(samples []float64) models.VersionStats {
	var sum float64
	for _, v := range samples {
		sum += v
	}
	mean := 0.0
	if len(samples) > 0 {
		mean = sum / float64(len(samples))
	}
	return models.VersionStats{Mean: mean, N: len(samples)}
}

var healthyBaseline = []float64{0.9, 0.91, 0.89, 0.9, 0.91, 0.88, 0.9, 0.9, 0.91, 0.89}

func TestEvaluateInsufficientCanarySamples(t *testing.T) {
	g := models.Gate{Scorer: "Q", Threshold: 0.5, Comparison: models.ComparisonNotWorse, Confidence: 0.95}

	res := Evaluate(g, 30, comparison(healthyBaseline, []float64{0.9, 0.9, 0.9}))
	assert.Equal(t, models.GateInsufficientData, res.Status)
	assert.Nil(t, res.PValue)
	assert.False(t, res.AbsoluteCheck)
	assert.False(t, res.ComparisonCheck)
	assert.Equal(t, 3, res.CanaryN)
}

func TestEvaluateInsufficientBaselineSamples(t *testing.T) {
	g := models.Gate{Scorer: "Q", Threshold: 0.5, Comparison: models.ComparisonNotWorse, Confidence: 0.95}

	res := Evaluate(g, 2, comparison([]float64{0.9, 0.9, 0.9}, healthyBaseline))
	assert.Equal(t, models.GateInsufficientData, res.Status)
}

func TestEvaluateMinSamplesBoundary(t *testing.T) {
	g := models.Gate{Scorer: "Q", Threshold: 0.5, Comparison: models.ComparisonNotWorse, Confidence: 0.95}
	canary := []float64{0.9, 0.89, 0.9, 0.9, 0.88, 0.91, 0.9, 0.89, 0.91, 0.9}

	res := Evaluate(g, len(canary)+1, comparison(healthyBaseline, canary))
	assert.Equal(t, models.GateInsufficientData, res.Status)

	res = Evaluate(g, len(canary), comparison(healthyBaseline, canary))
	require.NotEqual(t, models.GateInsufficientData, res.Status)
	assert.Equal(t, models.GatePassing, res.Status)
	require.NotNil(t, res.PValue)
}

func TestEvaluateNotWorsePassesForEquivalentCanary(t *testing.T) {
	g := models.Gate{Scorer: "Q", Threshold: 0.5, Comparison: models.ComparisonNotWorse, Confidence: 0.95}
	canary := []float64{0.9, 0.89, 0.9, 0.9, 0.88, 0.91, 0.9, 0.89, 0.91, 0.9}

	res := Evaluate(g, 2, comparison(healthyBaseline, canary))
	assert.Equal(t, models.GatePassing, res.Status)
	assert.True(t, res.AbsoluteCheck)
	assert.True(t, res.ComparisonCheck)
}

func TestEvaluateNotWorseFailsForRegressedCanary(t *testing.T) {
	g := models.Gate{Scorer: "Q", Threshold: 0.5, Comparison: models.ComparisonNotWorse, Confidence: 0.95}
	canary := []float64{0.78, 0.75, 0.8, 0.76, 0.79, 0.77, 0.75, 0.78, 0.76, 0.77}

	res := Evaluate(g, 2, comparison(healthyBaseline, canary))
	assert.Equal(t, models.GateFailing, res.Status)
	assert.True(t, res.AbsoluteCheck) // still above the 0.5 floor
	assert.False(t, res.ComparisonCheck)
	require.NotNil(t, res.PValue)
	assert.Less(t, *res.PValue, 0.01)
}

func TestEvaluateAbsoluteThresholdFails(t *testing.T) {
	g := models.Gate{Scorer: "Q", Threshold: 0.95, Comparison: models.ComparisonNotWorse, Confidence: 0.95}
	canary := []float64{0.9, 0.89, 0.9, 0.9, 0.88, 0.91, 0.9, 0.89, 0.91, 0.9}

	res := Evaluate(g, 2, comparison(healthyBaseline, canary))
	assert.Equal(t, models.GateFailing, res.Status)
	assert.False(t, res.AbsoluteCheck)
	assert.True(t, res.ComparisonCheck)
}

func TestEvaluateAbsoluteOnlySkipsTTest(t *testing.T) {
	g := models.Gate{Scorer: "Q", Threshold: 0.85, Comparison: models.ComparisonAbsoluteOnly, Confidence: 0.95}
	canary := []float64{0.9, 0.89, 0.9, 0.9, 0.88, 0.91, 0.9, 0.89, 0.91, 0.9}

	res := Evaluate(g, 2, comparison(healthyBaseline, canary))
	assert.Equal(t, models.GatePassing, res.Status)
	assert.Nil(t, res.PValue)
	assert.True(t, res.ComparisonCheck)
}

func TestEvaluateBetterThanBaseline(t *testing.T) {
	g := models.Gate{Scorer: "Q", Threshold: 0.5, Comparison: models.ComparisonBetter, Confidence: 0.95}

	improved := []float64{0.95, 0.96, 0.94, 0.95, 0.97, 0.96, 0.95, 0.94, 0.96, 0.95}
	res := Evaluate(g, 2, comparison(healthyBaseline, improved))
	assert.Equal(t, models.GatePassing, res.Status)

	// Equivalent canary is not significantly better.
	same := []float64{0.9, 0.89, 0.9, 0.9, 0.88, 0.91, 0.9, 0.89, 0.91, 0.9}
	res = Evaluate(g, 2, comparison(healthyBaseline, same))
	assert.Equal(t, models.GateFailing, res.Status)
	assert.False(t, res.ComparisonCheck)
}

func TestEvaluateStageCoversEveryGate(t *testing.T) {
	stage := models.Stage{
		Weight:     10,
		MinSamples: 2,
		Gates: []models.Gate{
			{Scorer: "Q", Threshold: 0.5, Comparison: models.ComparisonNotWorse, Confidence: 0.95},
			{Scorer: "missing", Threshold: 0.5, Comparison: models.ComparisonNotWorse, Confidence: 0.95},
		},
	}
	scores := models.ScoreSnapshot{
		"Q": comparison(healthyBaseline, []float64{0.9, 0.89, 0.9, 0.9, 0.88, 0.91, 0.9, 0.89, 0.91, 0.9}),
	}

	results := EvaluateStage(stage, scores)
	require.Len(t, results, 2)
	assert.Equal(t, models.GatePassing, results[0].Status)
	assert.Equal(t, models.GateInsufficientData, results[1].Status)
}
