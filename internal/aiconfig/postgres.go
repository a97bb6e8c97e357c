package aiconfig

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const selectColumns = `id, enabled, active_outside_hours, working_hours_start, working_hours_end,
		       working_days, auto_response_enabled, auto_response_template, timezone,
		       created_at, updated_at`

// PostgresStore persists the configuration in the ai_configuration table.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

type row struct {
	id                   string
	enabled              sql.NullBool
	activeOutsideHours   sql.NullBool
	start                sql.NullString
	end                  sql.NullString
	days                 []int64
	autoResponseEnabled  sql.NullBool
	autoResponseTemplate sql.NullString
	timezone             sql.NullString
	createdAt            time.Time
	updatedAt            time.Time
}

func (r *row) dest() []any {
	return []any{
		&r.id, &r.enabled, &r.activeOutsideHours, &r.start, &r.end,
		pq.Array(&r.days), &r.autoResponseEnabled, &r.autoResponseTemplate, &r.timezone,
		&r.createdAt, &r.updatedAt,
	}
}

// config maps NULL columns to defaults.
func (r row) config() Config {
	def := Default()
	cfg := Config{
		ID:                   r.id,
		Enabled:              def.Enabled,
		ActiveOutsideHours:   def.ActiveOutsideHours,
		WorkingHoursStart:    r.start.String,
		WorkingHoursEnd:      r.end.String,
		AutoResponseEnabled:  def.AutoResponseEnabled,
		AutoResponseTemplate: r.autoResponseTemplate.String,
		Timezone:             r.timezone.String,
		CreatedAt:            r.createdAt,
		UpdatedAt:            r.updatedAt,
	}
	if r.enabled.Valid {
		cfg.Enabled = r.enabled.Bool
	}
	if r.activeOutsideHours.Valid {
		cfg.ActiveOutsideHours = r.activeOutsideHours.Bool
	}
	if r.autoResponseEnabled.Valid {
		cfg.AutoResponseEnabled = r.autoResponseEnabled.Bool
	}
	for _, d := range r.days {
		cfg.WorkingDays = append(cfg.WorkingDays, int(d))
	}
	return cfg.Normalize()
}

func (s *PostgresStore) GetAIConfiguration(ctx context.Context) (Config, error) {
	var r row
	err := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM ai_configuration
		ORDER BY created_at DESC
		LIMIT 1`).Scan(r.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return s.insert(ctx, Default())
	}
	if err != nil {
		return Config{}, fmt.Errorf("aiconfig: select configuration: %w", err)
	}
	return r.config(), nil
}

func (s *PostgresStore) SaveAIConfiguration(ctx context.Context, cfg Config) (Config, error) {
	cfg = cfg.Normalize()
	now := s.now().UTC()
	var r row
	err := s.db.QueryRowContext(ctx, `
		UPDATE ai_configuration SET
			enabled = $1,
			active_outside_hours = $2,
			working_hours_start = $3,
			working_hours_end = $4,
			working_days = $5,
			auto_response_enabled = $6,
			auto_response_template = $7,
			timezone = $8,
			updated_at = $9
		WHERE id = (SELECT id FROM ai_configuration ORDER BY created_at DESC LIMIT 1)
		RETURNING `+selectColumns,
		cfg.Enabled, cfg.ActiveOutsideHours, cfg.WorkingHoursStart, cfg.WorkingHoursEnd,
		pq.Array(toInt64(cfg.WorkingDays)), cfg.AutoResponseEnabled, cfg.AutoResponseTemplate,
		cfg.Timezone, now,
	).Scan(r.dest()...)
	if errors.Is(err, sql.ErrNoRows) {
		return s.insert(ctx, cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("aiconfig: update configuration: %w", err)
	}
	return r.config(), nil
}

func (s *PostgresStore) insert(ctx context.Context, cfg Config) (Config, error) {
	cfg = cfg.Normalize()
	now := s.now().UTC()
	var r row
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ai_configuration (
			id, enabled, active_outside_hours, working_hours_start, working_hours_end,
			working_days, auto_response_enabled, auto_response_template, timezone,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING `+selectColumns,
		uuid.NewString(), cfg.Enabled, cfg.ActiveOutsideHours, cfg.WorkingHoursStart,
		cfg.WorkingHoursEnd, pq.Array(toInt64(cfg.WorkingDays)), cfg.AutoResponseEnabled,
		cfg.AutoResponseTemplate, cfg.Timezone, now,
	).Scan(r.dest()...)
	if err != nil {
		return Config{}, fmt.Errorf("aiconfig: insert configuration: %w", err)
	}
	return r.config(), nil
}

func toInt64(days []int) []int64 {
	out := make([]int64, len(days))
	for i, d := range days {
		out[i] = int64(d)
	}
	return out
}
