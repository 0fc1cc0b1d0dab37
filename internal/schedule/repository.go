package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository exposes a doctor's working calendar. It is read-mostly and
// refreshed from an external schedule source.
type Repository interface {
	// WorkingBlocks returns the ordered working blocks of doctor at location
	// that start on the calendar day of date.
	WorkingBlocks(ctx context.Context, doctorID, location string, date time.Time) ([]Interval, error)
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db  DB
	loc *time.Location
}

// NewPgRepository reads working blocks from doctor_working_blocks. Calendar
// days are computed in loc (the clinic time zone).
func NewPgRepository(db DB, loc *time.Location) *PgRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &PgRepository{db: db, loc: loc}
}

func (r *PgRepository) WorkingBlocks(ctx context.Context, doctorID, location string, date time.Time) ([]Interval, error) {
	dayStart := StartOfDay(date, r.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows, err := r.db.Query(ctx, `
		SELECT starts_at, ends_at
		FROM doctor_working_blocks
		WHERE doctor_id = $1
		  AND location = $2
		  AND starts_at >= $3
		  AND starts_at < $4
		ORDER BY starts_at ASC
	`, doctorID, location, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("schedule: query working blocks: %w", err)
	}
	defer rows.Close()

	var blocks []Interval
	for rows.Next() {
		var iv Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("schedule: scan working block: %w", err)
		}
		blocks = append(blocks, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule: iterate working blocks: %w", err)
	}
	return blocks, nil
}

// ReplaceDay swaps the blocks for one doctor, location and day in a single
// transaction. Used when refreshing from the external schedule source.
func (r *PgRepository) ReplaceDay(ctx context.Context, doctorID, location string, date time.Time, blocks []Interval) error {
	dayStart := StartOfDay(date, r.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("schedule: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM doctor_working_blocks
		WHERE doctor_id = $1 AND location = $2 AND starts_at >= $3 AND starts_at < $4
	`, doctorID, location, dayStart, dayEnd); err != nil {
		return fmt.Errorf("schedule: clear day: %w", err)
	}

	for _, b := range Merge(blocks) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctor_working_blocks (doctor_id, location, starts_at, ends_at)
			VALUES ($1, $2, $3, $4)
		`, doctorID, location, b.Start, b.End); err != nil {
			return fmt.Errorf("schedule: insert block: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("schedule: commit: %w", err)
	}
	return nil
}
