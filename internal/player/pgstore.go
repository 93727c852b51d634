package player

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeGii/vomm-sub003/model"
)

// PgStore is a PostgreSQL-backed Store. Mutate runs inside a transaction
// holding the player's row lock, so concurrent mutations serialize at the
// database.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL player store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const playerColumns = `player_id, health_current, health_max, money, experience,
	level, reputation, total_hours_worked, training_budget, is_working,
	active_course_id, completed_courses, version`

// Get retrieves a player's attributes.
func (s *PgStore) Get(ctx context.Context, playerID string) (model.PlayerAttributes, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+playerColumns+`
		FROM players
		WHERE player_id = $1`,
		playerID,
	)
	attrs, err := scanPlayer(row)
	if err == pgx.ErrNoRows {
		return model.PlayerAttributes{}, model.NewNotFoundError(
			fmt.Sprintf("player %q not found", playerID),
		)
	}
	if err != nil {
		return model.PlayerAttributes{}, fmt.Errorf("query player: %w", err)
	}
	return attrs, nil
}

// Create inserts a new player record.
func (s *PgStore) Create(ctx context.Context, attrs model.PlayerAttributes) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO players (`+playerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1)
		ON CONFLICT (player_id) DO NOTHING`,
		attrs.PlayerID, attrs.Health.Current, attrs.Health.Max, attrs.Money,
		attrs.Experience, attrs.Level, attrs.Reputation, attrs.TotalHoursWorked,
		attrs.TrainingBudget, attrs.IsWorking, attrs.ActiveCourseID,
		attrs.CompletedCourses,
	)
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewConflictError(
			fmt.Sprintf("player %q already exists", attrs.PlayerID),
		)
	}
	return nil
}

// Mutate applies fn to the player's attributes under a row lock.
func (s *PgStore) Mutate(ctx context.Context, playerID string, fn func(*model.PlayerAttributes) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin player mutation: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+playerColumns+`
		FROM players
		WHERE player_id = $1
		FOR UPDATE`,
		playerID,
	)
	attrs, err := scanPlayer(row)
	if err == pgx.ErrNoRows {
		return model.NewNotFoundError(
			fmt.Sprintf("player %q not found", playerID),
		)
	}
	if err != nil {
		return fmt.Errorf("lock player row: %w", err)
	}

	if err := fn(&attrs); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE players
		SET health_current = $2, health_max = $3, money = $4, experience = $5,
		    level = $6, reputation = $7, total_hours_worked = $8,
		    training_budget = $9, is_working = $10, active_course_id = $11,
		    completed_courses = $12, version = version + 1
		WHERE player_id = $1`,
		attrs.PlayerID, attrs.Health.Current, attrs.Health.Max, attrs.Money,
		attrs.Experience, attrs.Level, attrs.Reputation, attrs.TotalHoursWorked,
		attrs.TrainingBudget, attrs.IsWorking, attrs.ActiveCourseID,
		attrs.CompletedCourses,
	)
	if err != nil {
		return fmt.Errorf("update player: %w", err)
	}
	return tx.Commit(ctx)
}

func scanPlayer(row pgx.Row) (model.PlayerAttributes, error) {
	var attrs model.PlayerAttributes
	err := row.Scan(
		&attrs.PlayerID, &attrs.Health.Current, &attrs.Health.Max, &attrs.Money,
		&attrs.Experience, &attrs.Level, &attrs.Reputation, &attrs.TotalHoursWorked,
		&attrs.TrainingBudget, &attrs.IsWorking, &attrs.ActiveCourseID,
		&attrs.CompletedCourses, &attrs.Version,
	)
	return attrs, err
}
