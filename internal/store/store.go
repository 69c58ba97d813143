package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"futures-llm-trader/internal/decision"
	"futures-llm-trader/internal/trader"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
	id          BIGSERIAL PRIMARY KEY,
	cycle_id    UUID NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	partial     BOOLEAN NOT NULL,
	quality     TEXT NOT NULL,
	decisions   INT NOT NULL,
	executed    INT NOT NULL
);
CREATE TABLE IF NOT EXISTS decisions (
	id         BIGSERIAL PRIMARY KEY,
	cycle_id   UUID NOT NULL,
	symbol     TEXT NOT NULL,
	action     TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	risk_score DOUBLE PRECISION NOT NULL,
	executed   BOOLEAN NOT NULL,
	skip_reason TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS executions (
	id         BIGSERIAL PRIMARY KEY,
	cycle_id   UUID NOT NULL,
	symbol     TEXT NOT NULL,
	action     TEXT NOT NULL,
	state      TEXT NOT NULL,
	quantity   DOUBLE PRECISION NOT NULL,
	fill_price DOUBLE PRECISION NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS decisions_cycle_idx ON decisions (cycle_id);
CREATE INDEX IF NOT EXISTS executions_cycle_idx ON executions (cycle_id);
`

// Store persists cycles, decisions and executions to Postgres for offline
// analysis. It is optional: a nil *Store is valid and every method becomes
// a no-op, so the agent runs unchanged without a database.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects to Postgres and creates the schema. An empty URL returns a
// nil store rather than an error.
func New(ctx context.Context, url string, log zerolog.Logger) (*Store, error) {
	if url == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info().Msg("decision store connected")
	return &Store{pool: pool, log: log}, nil
}

// SaveCycle records one finished cycle.
func (s *Store) SaveCycle(ctx context.Context, cycleID string, startedAt, finishedAt time.Time, partial bool, quality string, decisions, executed int) {
	if s == nil {
		return
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cycles (cycle_id, started_at, finished_at, partial, quality, decisions, executed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cycleID, startedAt, finishedAt, partial, quality, decisions, executed)
	if err != nil {
		s.log.Error().Err(err).Msg("save cycle failed")
	}
}

// SaveDecision records one normalized decision.
func (s *Store) SaveDecision(ctx context.Context, cycleID string, d decision.Decision) {
	if s == nil {
		return
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO decisions (cycle_id, symbol, action, confidence, risk_score, executed, skip_reason, reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cycleID, d.Symbol, string(d.Action), d.Confidence, d.RiskScore, d.ShouldExecute, d.SkipReason, d.Reason)
	if err != nil {
		s.log.Error().Err(err).Msg("save decision failed")
	}
}

// SaveExecution records one execution report.
func (s *Store) SaveExecution(ctx context.Context, cycleID string, rep *trader.Report) {
	if s == nil {
		return
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO executions (cycle_id, symbol, action, state, quantity, fill_price, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		cycleID, rep.Symbol, string(rep.Action), string(rep.State), rep.Quantity, rep.FillPrice, rep.Error, rep.StartedAt, rep.FinishedAt)
	if err != nil {
		s.log.Error().Err(err).Msg("save execution failed")
	}
}

// RecentDecisions returns the newest rows for the dashboard.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]DecisionRow, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT cycle_id, symbol, action, confidence, risk_score, executed, skip_reason, reason, created_at
		 FROM decisions ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRow
	for rows.Next() {
		var r DecisionRow
		if err := rows.Scan(&r.CycleID, &r.Symbol, &r.Action, &r.Confidence, &r.RiskScore,
			&r.Executed, &r.SkipReason, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DecisionRow is one persisted decision as served to the dashboard.
type DecisionRow struct {
	CycleID    string    `json:"cycleId"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Confidence float64   `json:"confidence"`
	RiskScore  float64   `json:"riskScore"`
	Executed   bool      `json:"executed"`
	SkipReason string    `json:"skipReason,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
