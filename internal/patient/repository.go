package patient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound  = errors.New("patient not found")
	ErrAmbiguousPatient = errors.New("ambiguous patient identity")
)

type Repository interface {
	// FindByNameAndDOB returns ErrPatientNotFound when no exact match exists.
	FindByNameAndDOB(ctx context.Context, name string, dob time.Time) (*Patient, error)
	// FindByName returns every stored patient with the given name, any DOB.
	FindByName(ctx context.Context, name string) ([]Patient, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// Save inserts the patient or updates its mutable fields.
	Save(ctx context.Context, p *Patient) error
}
