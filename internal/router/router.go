// Package router decides, per request, whether traffic goes to the baseline
// or the canary variant.
package router

import (
	"hash/fnv"

	"github.com/braincanary/braincanary/internal/models"
)

// Decision is the routing outcome for one request.
type Decision struct {
	Version      string `json:"version"`
	CanaryWeight int    `json:"canaryWeight"`
	StageIndex   int    `json:"stageIndex"`
	Sticky       bool   `json:"sticky"`
}

// Route buckets a request into {baseline, canary} given the controller's
// current snapshot. stickyValue, when non-empty, pins the request to a
// deterministic bucket; otherwise draw (uniform in [0,1)) selects one. The
// function is pure and never blocks.
func Route(snap *models.DeploymentSnapshot, stickyValue string, draw float64) Decision {
	if snap == nil {
		return Decision{Version: models.VersionBaseline}
	}

	d := Decision{
		Version:    models.VersionBaseline,
		StageIndex: snap.StageIndex,
	}
	switch snap.State {
	case models.StatePending, models.StateStage, models.StatePaused:
	default:
		return d
	}

	d.CanaryWeight = snap.CanaryWeight
	if snap.CanaryWeight <= 0 {
		return d
	}

	var bucket int
	if stickyValue != "" {
		bucket = int(StableHash(stickyValue) % 100)
		d.Sticky = true
	} else {
		bucket = int(draw * 100)
	}
	if bucket < snap.CanaryWeight {
		d.Version = models.VersionCanary
	}
	return d
}

// StableHash is a fixed FNV-1a hash of s. It is deliberately not seeded so
// the same sticky key lands in the same bucket across process restarts.
func StableHash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
