package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/braincanary/braincanary/internal/models"
)

// PGStore implements Store on Postgres.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const deploymentColumns = `id, name, config_json, state, stage_index, stage_entered_at, started_at,
       completed_at, final_state, paused_stage_index, canary_weight, reason`

func (s *PGStore) CreateDeployment(ctx context.Context, snap models.DeploymentSnapshot) error {
	configJSON, err := json.Marshal(snap.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	query := `
		INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`
	_, err = s.db.ExecContext(ctx, query,
		snap.ID, snap.Name, configJSON, string(snap.State), snap.StageIndex,
		snap.StageEnteredAt, snap.StartedAt, snap.CompletedAt, finalStateValue(snap.FinalState),
		snap.PausedStageIndex, snap.CanaryWeight, nullableString(snap.Reason))
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (s *PGStore) SaveDeployment(ctx context.Context, snap models.DeploymentSnapshot) error {
	query := `
		UPDATE deployments
		SET state=$2,
		    stage_index=$3,
		    stage_entered_at=$4,
		    completed_at=$5,
		    final_state=$6,
		    paused_stage_index=$7,
		    canary_weight=$8,
		    reason=$9
		WHERE id=$1
	`
	res, err := s.db.ExecContext(ctx, query,
		snap.ID, string(snap.State), snap.StageIndex, snap.StageEnteredAt,
		snap.CompletedAt, finalStateValue(snap.FinalState), snap.PausedStageIndex,
		snap.CanaryWeight, nullableString(snap.Reason))
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) GetDeployment(ctx context.Context, id string) (models.DeploymentSnapshot, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id=$1`
	return s.scanDeployment(s.db.QueryRowContext(ctx, query, id))
}

func (s *PGStore) ActiveDeployment(ctx context.Context) (models.DeploymentSnapshot, error) {
	query := `
		SELECT ` + deploymentColumns + `
		FROM deployments
		WHERE state NOT IN ('IDLE','PROMOTED','ROLLED_BACK')
		ORDER BY started_at DESC
		LIMIT 1
	`
	return s.scanDeployment(s.db.QueryRowContext(ctx, query))
}

func (s *PGStore) ListDeployments(ctx context.Context, limit int) ([]models.DeploymentSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + deploymentColumns + ` FROM deployments ORDER BY started_at DESC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []models.DeploymentSnapshot
	for rows.Next() {
		snap, err := s.scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PGStore) scanDeployment(row rowScanner) (models.DeploymentSnapshot, error) {
	var (
		snap        models.DeploymentSnapshot
		configJSON  []byte
		state       string
		completedAt sql.NullTime
		finalState  sql.NullString
		pausedIdx   sql.NullInt64
		reason      sql.NullString
	)
	err := row.Scan(&snap.ID, &snap.Name, &configJSON, &state, &snap.StageIndex,
		&snap.StageEnteredAt, &snap.StartedAt, &completedAt, &finalState,
		&pausedIdx, &snap.CanaryWeight, &reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DeploymentSnapshot{}, ErrNotFound
		}
		return models.DeploymentSnapshot{}, fmt.Errorf("scan deployment: %w", err)
	}
	if err := json.Unmarshal(configJSON, &snap.Config); err != nil {
		return models.DeploymentSnapshot{}, fmt.Errorf("decode config: %w", err)
	}
	snap.State = models.State(state)
	if completedAt.Valid {
		t := completedAt.Time
		snap.CompletedAt = &t
	}
	if finalState.Valid {
		fs := models.State(finalState.String)
		snap.FinalState = &fs
	}
	if pausedIdx.Valid {
		idx := int(pausedIdx.Int64)
		snap.PausedStageIndex = &idx
	}
	if reason.Valid {
		snap.Reason = reason.String
	}
	return snap, nil
}

func (s *PGStore) AppendTransition(ctx context.Context, tr models.StateTransition) error {
	if tr.ID == "" {
		tr.ID = uuid.New().String()
	}
	query := `
		INSERT INTO state_transitions (id, deployment_id, from_state, to_state, reason, scores_snapshot_json, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`
	_, err := s.db.ExecContext(ctx, query,
		tr.ID, tr.DeploymentID, string(tr.FromState), string(tr.ToState),
		nullableString(tr.Reason), nullableBytes(tr.Scores), tr.TS)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

func (s *PGStore) ListTransitions(ctx context.Context, deploymentID string, limit int) ([]models.StateTransition, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, deployment_id, from_state, to_state, reason, scores_snapshot_json, ts
		FROM state_transitions
		WHERE deployment_id=$1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, deploymentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []models.StateTransition
	for rows.Next() {
		var (
			tr     models.StateTransition
			from   string
			to     string
			reason sql.NullString
			scores []byte
		)
		if err := rows.Scan(&tr.ID, &tr.DeploymentID, &from, &to, &reason, &scores, &tr.TS); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.FromState = models.State(from)
		tr.ToState = models.State(to)
		if reason.Valid {
			tr.Reason = reason.String
		}
		if len(scores) > 0 {
			tr.Scores = append([]byte(nil), scores...)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *PGStore) AppendScoreSnapshot(ctx context.Context, in ScoreSnapshotInput) error {
	query := `
		INSERT INTO score_snapshots (id, deployment_id, stage_index, scorer,
			baseline_mean, baseline_std, baseline_n, canary_mean, canary_std, canary_n, ts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(), in.DeploymentID, in.StageIndex, in.Scorer,
		in.BaselineMean, in.BaselineStd, in.BaselineN,
		in.CanaryMean, in.CanaryStd, in.CanaryN, in.TS)
	if err != nil {
		return fmt.Errorf("insert score snapshot: %w", err)
	}
	return nil
}

func (s *PGStore) AppendEvent(ctx context.Context, in EventInput) error {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	query := `
		INSERT INTO events (id, deployment_id, event_type, payload_json, ts)
		VALUES ($1,$2,$3,$4,$5)
	`
	_, err := s.db.ExecContext(ctx, query, in.ID, in.DeploymentID, in.EventType, nullableBytes(in.Payload), in.TS)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PGStore) ListEvents(ctx context.Context, deploymentID string, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, deployment_id, event_type, payload_json, ts
		FROM events
		WHERE deployment_id=$1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, deploymentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			rec     EventRecord
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.DeploymentID, &rec.EventType, &payload, &rec.TS); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(payload) > 0 {
			rec.Payload = append(json.RawMessage(nil), payload...)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func finalStateValue(fs *models.State) sql.NullString {
	if fs == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*fs), Valid: true}
}
