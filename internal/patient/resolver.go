package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DurationPolicy holds the two fixed appointment lengths.
type DurationPolicy struct {
	InitialConsult time.Duration
	FollowUp       time.Duration
}

func (d DurationPolicy) DurationFor(c Classification) time.Duration {
	if c == ClassificationReturning {
		return d.FollowUp
	}
	return d.InitialConsult
}

type Resolution struct {
	Patient        *Patient
	Classification Classification
	Duration       time.Duration
}

// Resolver classifies an identity as new or returning. It never writes.
type Resolver struct {
	repo   Repository
	policy DurationPolicy
}

func NewResolver(repo Repository, policy DurationPolicy) *Resolver {
	return &Resolver{repo: repo, policy: policy}
}

func (r *Resolver) DurationFor(c Classification) time.Duration {
	return r.policy.DurationFor(c)
}

// Resolve returns the stored patient on an exact (name, dob) match. With no
// exact match it returns an unpersisted shell classified as new, unless
// several stored records share the name under different birth dates, in
// which case ErrAmbiguousPatient asks the caller to disambiguate.
func (r *Resolver) Resolve(ctx context.Context, name string, dob time.Time) (*Resolution, error) {
	name = NormalizeName(name)
	if name == "" {
		return nil, errors.New("full name is required")
	}
	if dob.IsZero() {
		return nil, errors.New("date of birth is required")
	}

	existing, err := r.repo.FindByNameAndDOB(ctx, name, dob)
	switch {
	case err == nil:
		existing.Classification = ClassificationReturning
		return r.resolution(existing), nil
	case !errors.Is(err, ErrPatientNotFound):
		return nil, fmt.Errorf("lookup patient: %w", err)
	}

	sameName, err := r.repo.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("lookup patient by name: %w", err)
	}
	dobs := make(map[string]struct{}, len(sameName))
	for _, p := range sameName {
		if sameDate(p.DOB, dob) {
			// repository disagreed with itself; trust the exact match
			p.Classification = ClassificationReturning
			return r.resolution(&p), nil
		}
		dobs[FormatDOB(p.DOB)] = struct{}{}
	}
	if len(dobs) > 1 {
		return nil, ErrAmbiguousPatient
	}

	shell := &Patient{
		ID:             uuid.New(),
		FullName:       name,
		DOB:            dob,
		Classification: ClassificationNew,
	}
	return r.resolution(shell), nil
}

func (r *Resolver) resolution(p *Patient) *Resolution {
	return &Resolution{
		Patient:        p,
		Classification: p.Classification,
		Duration:       r.policy.DurationFor(p.Classification),
	}
}
