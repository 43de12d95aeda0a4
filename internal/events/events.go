// Package events defines the typed lifecycle event stream and its in-process
// transports.
package events

import (
	"time"

	"github.com/braincanary/braincanary/internal/models"
)

// Type identifies a lifecycle event.
type Type string

const (
	TypeDeploymentStarted  Type = "deployment_started"
	TypeScoreUpdate        Type = "score_update"
	TypeGateStatus         Type = "gate_status"
	TypeStageChange        Type = "stage_change"
	TypeRollbackTriggered  Type = "rollback_triggered"
	TypeDeploymentComplete Type = "deployment_complete"
	TypePaused             Type = "paused"
	TypeResumed            Type = "resumed"
	TypeMonitorHealth      Type = "monitor_health"
)

// Event is the envelope every subscriber receives.
type Event struct {
	Type         Type        `json:"type"`
	DeploymentID string      `json:"deployment_id"`
	Timestamp    time.Time   `json:"timestamp"`
	Data         interface{} `json:"data"`
}

// DeploymentStartedData announces a fresh deployment.
type DeploymentStartedData struct {
	DeploymentID string `json:"deployment_id"`
	Name         string `json:"name"`
	StageIndex   int    `json:"stage_index"`
	CanaryWeight int    `json:"canary_weight"`
}

// GateStatusData reports a gate evaluation pass and the resulting decision.
type GateStatusData struct {
	Gates           []models.GateResult `json:"gates"`
	NextAction      models.NextAction   `json:"next_action"`
	TimeRemainingMS int64               `json:"time_remaining_ms"`
}

// StageChangeData records an advance from one stage to the next.
type StageChangeData struct {
	From         int `json:"from"`
	To           int `json:"to"`
	CanaryWeight int `json:"canary_weight"`
}

// RollbackTriggeredData records why and where a rollback started.
type RollbackTriggeredData struct {
	Reason       string `json:"reason"`
	StageIndex   int    `json:"stage_index"`
	CanaryWeight int    `json:"canary_weight"`
}

// DeploymentCompleteData is the terminal event for a deployment.
type DeploymentCompleteData struct {
	FinalState models.State `json:"final_state"`
}

// StageIndexData is the payload of paused/resumed events.
type StageIndexData struct {
	StageIndex int `json:"stage_index"`
}
