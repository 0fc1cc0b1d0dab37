package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hackgods/clinic-booking-agent/internal/schedule"
)

// pgExclusionViolation is raised by the appointments_no_overlap constraint.
const pgExclusionViolation = "23P01"

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgStore struct {
	db DB
}

func NewPgStore(db DB) *PgStore {
	return &PgStore{db: db}
}

const appointmentColumns = `id, doctor_id, patient_id, location, starts_at, ends_at, status, cancel_reason, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var endsAt time.Time

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Location,
		&a.StartsAt,
		&endsAt,
		&a.Status,
		&a.CancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Duration = endsAt.Sub(a.StartsAt)
	return &a, nil
}

func (s *PgStore) ConfirmedIntervals(ctx context.Context, doctorID, location string, window schedule.Interval) ([]schedule.Interval, error) {
	rows, err := s.db.Query(ctx, `
		SELECT starts_at, ends_at
		FROM appointments
		WHERE doctor_id = $1
		  AND location = $2
		  AND status = 'confirmed'
		  AND starts_at < $4
		  AND ends_at > $3
		ORDER BY starts_at ASC
	`, doctorID, location, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("query confirmed intervals: %w", err)
	}
	defer rows.Close()

	var out []schedule.Interval
	for rows.Next() {
		var iv schedule.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("scan interval: %w", err)
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Insert serializes writers per doctor and location with a transaction
// scoped advisory lock, re-checks overlap and inserts. The exclusion
// constraint on the table backs this up.
func (s *PgStore) Insert(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, a.DoctorID+"|"+a.Location); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	var taken bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1
			  AND location = $2
			  AND status = 'confirmed'
			  AND starts_at < $4
			  AND ends_at > $3
		)
	`, a.DoctorID, a.Location, a.StartsAt, a.EndsAt()).Scan(&taken)
	if err != nil {
		return fmt.Errorf("check overlap: %w", err)
	}
	if taken {
		return ErrSlotConflict
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, location, starts_at, ends_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'confirmed', now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.DoctorID, a.PatientID, a.Location, a.StartsAt, a.EndsAt()).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
			return ErrSlotConflict
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	a.Status = StatusConfirmed
	return nil
}

func (s *PgStore) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancel_reason = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'confirmed'
		RETURNING `+appointmentColumns, id, reason)

	appt, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		// distinguish a missing row from one that is no longer confirmed
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidStatusTransition
	}
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	return appt, nil
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *PgStore) ListRange(ctx context.Context, from, to time.Time) ([]ReportRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT a.id, a.doctor_id, a.patient_id, a.location, a.starts_at, a.ends_at, a.status, a.cancel_reason, a.created_at, a.updated_at,
		       COALESCE(p.full_name, ''), COALESCE(p.email, ''), COALESCE(p.phone, '')
		FROM appointments a
		LEFT JOIN patients p ON p.id = a.patient_id
		WHERE a.starts_at >= $1
		  AND a.starts_at < $2
		ORDER BY a.starts_at ASC, a.doctor_id ASC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var out []ReportRow
	for rows.Next() {
		var r ReportRow
		var endsAt time.Time
		if err := rows.Scan(
			&r.ID, &r.DoctorID, &r.PatientID, &r.Location, &r.StartsAt, &endsAt,
			&r.Status, &r.CancelReason, &r.CreatedAt, &r.UpdatedAt,
			&r.PatientName, &r.PatientEmail, &r.PatientPhone,
		); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		r.Duration = endsAt.Sub(r.StartsAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
