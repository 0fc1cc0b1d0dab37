package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DB
}

func NewPgRepository(db DB) *PgRepository {
	return &PgRepository{db: db}
}

const patientColumns = `id, full_name, dob, email, phone, preferred_doctor, preferred_location, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID,
		&p.FullName,
		&p.DOB,
		&p.Email,
		&p.Phone,
		&p.PreferredDoctor,
		&p.PreferredLocation,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	// anything already on file has booked before
	p.Classification = ClassificationReturning
	return &p, nil
}

func (r *PgRepository) FindByNameAndDOB(ctx context.Context, name string, dob time.Time) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE lower(full_name) = lower($1)
		  AND dob = $2
		ORDER BY created_at ASC
		LIMIT 1
	`, NormalizeName(name), dob)
	return scanPatient(row)
}

func (r *PgRepository) FindByName(ctx context.Context, name string) ([]Patient, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE lower(full_name) = lower($1)
		ORDER BY created_at ASC
	`, NormalizeName(name))
	if err != nil {
		return nil, fmt.Errorf("query patients by name: %w", err)
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) FindByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// Save upserts on id. Identity columns are never overwritten.
func (r *PgRepository) Save(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO patients (id, full_name, dob, email, phone, preferred_doctor, preferred_location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email,
		    phone = EXCLUDED.phone,
		    preferred_doctor = EXCLUDED.preferred_doctor,
		    preferred_location = EXCLUDED.preferred_location,
		    updated_at = now()
		RETURNING created_at, updated_at
	`, p.ID, NormalizeName(p.FullName), p.DOB, p.Email, p.Phone, p.PreferredDoctor, p.PreferredLocation)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("save patient: %w", err)
	}
	return nil
}
