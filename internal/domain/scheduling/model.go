package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
// Its text form is "HH:MM".
type TimeOfDay int

const minutesPerDay = 24 * 60

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS" (seconds must be zero).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 || len(parts[0]) != 2 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if len(parts) == 3 && parts[2] != "00" {
		return 0, fmt.Errorf("seconds are not supported in %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// MustTimeOfDay is ParseTimeOfDay for constants; it panics on bad input.
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) Valid() bool { return t >= 0 && t < minutesPerDay }

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Date is a calendar date without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) Weekday() time.Weekday { return d.In(time.UTC).Weekday() }

func (d Date) Before(o Date) bool { return d.In(time.UTC).Before(o.In(time.UTC)) }

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string { return d.In(time.UTC).Format(dateLayout) }

func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Date) UnmarshalText(b []byte) error {
	v, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// AllowedSlotDurations lists the slot lengths, in minutes, a template may use.
var AllowedSlotDurations = map[int]bool{15: true, 30: true, 45: true, 60: true}

// DefaultConsultationFee applies when a template is saved without a fee.
var DefaultConsultationFee = decimal.NewFromInt(50)

// AvailabilityTemplate maps to the availability_templates table.
type AvailabilityTemplate struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	DoctorID            uuid.UUID       `db:"doctor_id" json:"doctor_id"`
	DayOfWeek           int             `db:"day_of_week" json:"day_of_week"`
	StartTime           TimeOfDay       `db:"start_time" json:"start_time"`
	EndTime             TimeOfDay       `db:"end_time" json:"end_time"`
	SlotDurationMinutes int             `db:"slot_duration_minutes" json:"slot_duration_minutes"`
	ConsultationFee     decimal.Decimal `db:"consultation_fee" json:"consultation_fee"`
	IsActive            bool            `db:"is_active" json:"is_active"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// ParseStatus recognizes only the four lifecycle states.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool { return len(transitions[s]) == 0 }

// Appointment maps to the appointments table.
type Appointment struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	DoctorID           uuid.UUID       `db:"doctor_id" json:"doctor_id"`
	PatientID          uuid.UUID       `db:"patient_id" json:"patient_id"`
	AppointmentDate    Date            `db:"appointment_date" json:"appointment_date"`
	AppointmentTime    TimeOfDay       `db:"appointment_time" json:"appointment_time"`
	Status             Status          `db:"status" json:"status"`
	ConsultationType   string          `db:"consultation_type" json:"consultation_type"`
	Notes              *string         `db:"notes" json:"notes,omitempty"`
	ConsultationFee    decimal.Decimal `db:"consultation_fee" json:"consultation_fee"`
	MeetingLink        *string         `db:"meeting_link" json:"meeting_link,omitempty"`
	Diagnosis          *string         `db:"diagnosis" json:"diagnosis,omitempty"`
	Prescription       *string         `db:"prescription" json:"prescription,omitempty"`
	CancellationReason *string         `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID      `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// Counterpart returns the other participant of the appointment.
func (a *Appointment) Counterpart(actorID uuid.UUID) uuid.UUID {
	if actorID == a.DoctorID {
		return a.PatientID
	}
	return a.DoctorID
}

func (a *Appointment) HasParticipant(actorID uuid.UUID) bool {
	return actorID == a.DoctorID || actorID == a.PatientID
}

// Slot is one bookable start time on a given date.
type Slot struct {
	Time            TimeOfDay       `json:"time"`
	IsAvailable     bool            `json:"is_available"`
	Fee             decimal.Decimal `json:"fee"`
	DurationMinutes int             `json:"duration_minutes"`
}

// Consultation types offered to patients.
const (
	ConsultationVideo = "video"
	ConsultationAudio = "audio"
	ConsultationChat  = "chat"
)

// BookingRequest carries the patient's booking input.
type BookingRequest struct {
	PatientID        uuid.UUID
	DoctorID         uuid.UUID
	Date             Date
	Time             TimeOfDay
	Notes            *string
	ConsultationType string
}

// StatusUpdate carries a requested transition plus optional clinical fields.
type StatusUpdate struct {
	Status             Status
	MeetingLink        *string
	Diagnosis          *string
	Prescription       *string
	CancellationReason *string
}

// AppointmentFilter narrows ListAppointments. Zero values are ignored.
type AppointmentFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Statuses  []Status
	From      *Date
	To        *Date
	Limit     int
	Offset    int
}

// Doctor is the public directory entry patients browse before booking.
type Doctor struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Specialty string    `json:"specialty"`
}

// DoctorFilter narrows ListDoctors. Name matches a case-insensitive
// substring of the full name; Specialty matches exactly, ignoring case.
type DoctorFilter struct {
	Name      string
	Specialty string
	Limit     int
	Offset    int
}
