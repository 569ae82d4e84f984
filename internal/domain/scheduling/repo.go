package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrRecordNotFound is returned by repositories when no row matches.
	ErrRecordNotFound = errors.New("record not found")
	// ErrSlotTaken is returned by CreateIfFree when a non-cancelled
	// appointment already holds the doctor, date and time.
	ErrSlotTaken = errors.New("slot already has an active appointment")
)

type TemplateRepository interface {
	Create(ctx context.Context, t *AvailabilityTemplate) error
	GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityTemplate, error)
	Update(ctx context.Context, t *AvailabilityTemplate) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// ListByDoctor returns active and inactive templates ordered by
	// day_of_week, start_time.
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*AvailabilityTemplate, error)
	ListActiveForDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]*AvailabilityTemplate, error)
}

type AppointmentRepository interface {
	// CreateIfFree inserts a as a new appointment unless the slot is held by
	// a non-cancelled one, in which case it returns ErrSlotTaken. The check
	// and the insert are a single atomic step.
	CreateIfFree(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListActiveByDoctorDate(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Appointment, error)
	// UpdateWith loads the appointment, applies fn and persists the result
	// while holding a row lock. If fn fails nothing is written.
	UpdateWith(ctx context.Context, id uuid.UUID, fn func(a *Appointment) error) (*Appointment, error)
	Search(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error)
}

// DoctorDirectory answers whether a doctor exists and accepts bookings.
// ListApproved returns approved doctors ordered by name, plus the total
// match count before paging.
type DoctorDirectory interface {
	IsBookable(ctx context.Context, doctorID uuid.UUID) (bool, error)
	ListApproved(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error)
}
