// Package postgres persists scored risk zones in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/risk-grid-service/internal/domain"
)

// ZoneStore writes zones to the risk_zones table. It implements
// tessellation.ZoneSink.
type ZoneStore struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and returns a store.
func New(ctx context.Context, databaseURL string) (*ZoneStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ZoneStore{pool: pool}, nil
}

// Close releases the pool resources.
func (s *ZoneStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Name identifies the sink in logs and metrics.
func (s *ZoneStore) Name() string { return "postgres" }

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS risk_zones (
		cell_id          TEXT PRIMARY KEY,
		resolution       SMALLINT NOT NULL,
		base_score       DOUBLE PRECISION NOT NULL,
		neighboring_risk DOUBLE PRECISION NOT NULL,
		event_type       TEXT NOT NULL DEFAULT '',
		population       BIGINT,
		mode             TEXT NOT NULL,
		confidence       TEXT NOT NULL,
		request_id       TEXT NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`

// EnsureSchema creates the zones table and its indexes if they don't exist.
func (s *ZoneStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create risk_zones: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_risk_zones_resolution ON risk_zones(resolution)`); err != nil {
		return fmt.Errorf("create resolution index: %w", err)
	}
	return nil
}

const upsertZoneSQL = `
	INSERT INTO risk_zones (cell_id, resolution, base_score, neighboring_risk, event_type, population, mode, confidence, request_id, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (cell_id) DO UPDATE SET
		resolution       = EXCLUDED.resolution,
		base_score       = EXCLUDED.base_score,
		neighboring_risk = EXCLUDED.neighboring_risk,
		event_type       = EXCLUDED.event_type,
		population       = EXCLUDED.population,
		mode             = EXCLUDED.mode,
		confidence       = EXCLUDED.confidence,
		request_id       = EXCLUDED.request_id,
		updated_at       = EXCLUDED.updated_at
	WHERE risk_zones.updated_at <= EXCLUDED.updated_at`

// SaveZones upserts every zone in one batch round trip. Older rows never
// overwrite newer ones.
func (s *ZoneStore) SaveZones(ctx context.Context, requestID string, zones []domain.RiskZone) error {
	if len(zones) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i := range zones {
		batch.Queue(upsertZoneSQL, zoneArgs(requestID, zones[i])...)
	}

	results := s.pool.SendBatch(ctx, batch)
	var errs []error
	for range zones {
		if _, err := results.Exec(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := results.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("save %d zones: %w", len(zones), errors.Join(errs...))
	}
	return nil
}

const getZoneSQL = `
	SELECT cell_id, resolution, base_score, neighboring_risk, event_type, population, mode, confidence, updated_at
	FROM risk_zones WHERE cell_id = $1`

// GetZone returns the stored zone for a cell, or domain.ErrZoneNotFound.
func (s *ZoneStore) GetZone(ctx context.Context, cellID string) (domain.RiskZone, error) {
	var (
		z          domain.RiskZone
		eventType  string
		mode       string
		confidence string
	)
	err := s.pool.QueryRow(ctx, getZoneSQL, cellID).Scan(
		&z.CellID,
		&z.Resolution,
		&z.BaseScore,
		&z.NeighboringRisk,
		&eventType,
		&z.Population,
		&mode,
		&confidence,
		&z.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RiskZone{}, domain.ErrZoneNotFound
	}
	if err != nil {
		return domain.RiskZone{}, fmt.Errorf("get zone %s: %w", cellID, err)
	}
	z.EventType = domain.EventType(eventType)
	z.Mode = domain.ScoringMode(mode)
	z.Confidence = domain.Confidence(confidence)
	return z, nil
}

// CheckReadiness pings the database.
func (s *ZoneStore) CheckReadiness(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func zoneArgs(requestID string, z domain.RiskZone) []any {
	return []any{
		z.CellID,
		z.Resolution,
		z.BaseScore,
		z.NeighboringRisk,
		string(z.EventType),
		z.Population,
		string(z.Mode),
		string(z.Confidence),
		requestID,
		z.UpdatedAt,
	}
}
