package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/lock"
	"github.com/telecare/telecare/internal/platform/meeting"
	"github.com/telecare/telecare/internal/platform/notification"
)

// Collaborators are the external systems the booking flow calls out to.
type Collaborators struct {
	Locker   lock.Locker
	Meetings meeting.Provisioner
	Notifier notification.Publisher
}

type Options struct {
	// Location decides what "today" means for past-date checks.
	Location *time.Location
	// CallTimeout bounds every repository and collaborator call.
	CallTimeout time.Duration
	// LockTTL bounds how long a crashed booker can hold a slot lock.
	LockTTL time.Duration
}

type Service struct {
	templates    TemplateRepository
	appointments AppointmentRepository
	doctors      DoctorDirectory
	locker       lock.Locker
	meetings     meeting.Provisioner
	notifier     notification.Publisher
	loc          *time.Location
	callTimeout  time.Duration
	lockTTL      time.Duration
	log          zerolog.Logger
	now          func() time.Time
}

func NewService(tpl TemplateRepository, appt AppointmentRepository, docs DoctorDirectory, collab Collaborators, opts Options, logger zerolog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	return &Service{
		templates:    tpl,
		appointments: appt,
		doctors:      docs,
		locker:       collab.Locker,
		meetings:     collab.Meetings,
		notifier:     collab.Notifier,
		loc:          opts.Location,
		callTimeout:  opts.CallTimeout,
		lockTTL:      opts.LockTTL,
		log:          logger.With().Str("component", "scheduling").Logger(),
		now:          time.Now,
	}
}

func (s *Service) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

// Today returns the current calendar date in the clinic time zone.
func (s *Service) Today() Date {
	return DateOf(s.now().In(s.loc))
}

// -- Availability templates --

func validateTemplate(t *AvailabilityTemplate) error {
	if t.DayOfWeek < 0 || t.DayOfWeek > 6 {
		return validationError("day_of_week", "day_of_week must be between 0 (Sunday) and 6 (Saturday)")
	}
	if !t.StartTime.Valid() || !t.EndTime.Valid() {
		return validationError("start_time", "times must fall within a single day")
	}
	if t.StartTime >= t.EndTime {
		return validationError("end_time", "start_time %s must be before end_time %s", t.StartTime, t.EndTime)
	}
	if !AllowedSlotDurations[t.SlotDurationMinutes] {
		return validationError("slot_duration_minutes", "slot_duration_minutes must be one of 15, 30, 45, 60")
	}
	if t.ConsultationFee.IsNegative() {
		return validationError("consultation_fee", "consultation_fee must not be negative")
	}
	return nil
}

func requireOwner(actorID, doctorID uuid.UUID) error {
	if actorID == uuid.Nil || actorID != doctorID {
		return forbidden("only the doctor may manage their availability")
	}
	return nil
}

// ListTemplates returns all of the doctor's templates, active or not.
func (s *Service) ListTemplates(ctx context.Context, actorID, doctorID uuid.UUID) ([]*AvailabilityTemplate, error) {
	if err := requireOwner(actorID, doctorID); err != nil {
		return nil, err
	}
	cctx, cancel := s.call(ctx)
	defer cancel()

	items, err := s.templates.ListByDoctor(cctx, doctorID)
	if err != nil {
		return nil, unavailable(KindUnavailable, "list templates", err)
	}
	if items == nil {
		items = []*AvailabilityTemplate{}
	}
	return items, nil
}

// UpsertTemplate creates tpl when its ID is nil and updates it otherwise.
func (s *Service) UpsertTemplate(ctx context.Context, actorID, doctorID uuid.UUID, tpl *AvailabilityTemplate) (*AvailabilityTemplate, error) {
	if err := requireOwner(actorID, doctorID); err != nil {
		return nil, err
	}
	if err := validateTemplate(tpl); err != nil {
		return nil, err
	}
	tpl.DoctorID = doctorID

	cctx, cancel := s.call(ctx)
	defer cancel()

	if tpl.ID == uuid.Nil {
		if err := s.templates.Create(cctx, tpl); err != nil {
			return nil, unavailable(KindUnavailable, "create template", err)
		}
		return tpl, nil
	}

	if err := s.ownedTemplate(cctx, doctorID, tpl.ID); err != nil {
		return nil, err
	}
	if err := s.templates.Update(cctx, tpl); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, notFound("availability template %s not found", tpl.ID)
		}
		return nil, unavailable(KindUnavailable, "update template", err)
	}
	return tpl, nil
}

// DeactivateTemplate hides a template from slot generation. Booked
// appointments are untouched.
func (s *Service) DeactivateTemplate(ctx context.Context, actorID, doctorID, templateID uuid.UUID) error {
	if err := requireOwner(actorID, doctorID); err != nil {
		return err
	}
	cctx, cancel := s.call(ctx)
	defer cancel()

	if err := s.ownedTemplate(cctx, doctorID, templateID); err != nil {
		return err
	}
	if err := s.templates.SetActive(cctx, templateID, false); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return notFound("availability template %s not found", templateID)
		}
		return unavailable(KindUnavailable, "deactivate template", err)
	}
	return nil
}

func (s *Service) ownedTemplate(ctx context.Context, doctorID, templateID uuid.UUID) error {
	existing, err := s.templates.GetByID(ctx, templateID)
	if errors.Is(err, ErrRecordNotFound) {
		return notFound("availability template %s not found", templateID)
	}
	if err != nil {
		return unavailable(KindUnavailable, "load template", err)
	}
	if existing.DoctorID != doctorID {
		return forbidden("availability template belongs to another doctor")
	}
	return nil
}

// -- Slots --

// ListSlots computes the doctor's slots for date. Past dates are computed
// like any other; a weekday without templates yields an empty list.
func (s *Service) ListSlots(ctx context.Context, doctorID uuid.UUID, date Date) ([]Slot, error) {
	if doctorID == uuid.Nil {
		return nil, invalidRequest("doctor_id", "doctor_id is required")
	}
	if date.IsZero() {
		return nil, invalidRequest("date", "date is required")
	}

	cctx, cancel := s.call(ctx)
	defer cancel()

	bookable, err := s.doctors.IsBookable(cctx, doctorID)
	if err != nil {
		return nil, unavailable(KindUnavailable, "look up doctor", err)
	}
	if !bookable {
		return nil, notFound("doctor %s not found", doctorID)
	}

	templates, err := s.templates.ListActiveForDay(cctx, doctorID, int(date.Weekday()))
	if err != nil {
		return nil, unavailable(KindUnavailable, "load templates", err)
	}
	if len(templates) == 0 {
		return []Slot{}, nil
	}
	booked, err := s.appointments.ListActiveByDoctorDate(cctx, doctorID, date)
	if err != nil {
		return nil, unavailable(KindUnavailable, "load appointments", err)
	}
	return GenerateSlots(date, templates, booked), nil
}

// -- Booking --

func slotLockKey(doctorID uuid.UUID, date Date, at TimeOfDay) string {
	return fmt.Sprintf("booking:%s:%s:%s", doctorID, date, at)
}

func (s *Service) validateBooking(req *BookingRequest) error {
	switch {
	case req.PatientID == uuid.Nil:
		return invalidRequest("patient_id", "patient_id is required")
	case req.DoctorID == uuid.Nil:
		return invalidRequest("doctor_id", "doctor_id is required")
	case req.PatientID == req.DoctorID:
		return invalidRequest("doctor_id", "cannot book an appointment with yourself")
	case req.Date.IsZero():
		return invalidRequest("appointment_date", "appointment_date is required")
	case !req.Time.Valid():
		return invalidRequest("appointment_time", "appointment_time is invalid")
	}

	switch req.ConsultationType {
	case "":
		req.ConsultationType = ConsultationVideo
	case ConsultationVideo, ConsultationAudio, ConsultationChat:
	default:
		return invalidRequest("consultation_type", "unsupported consultation type %q", req.ConsultationType)
	}

	if today := s.Today(); req.Date.Before(today) {
		return invalidRequest("appointment_date", "appointment_date %s is before today (%s)", req.Date, today)
	}
	return nil
}

// BookAppointment books a pending appointment in a free generated slot. At
// most one concurrent caller wins a given doctor, date and time; the others
// get ErrConflict.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if err := s.validateBooking(&req); err != nil {
		return nil, err
	}

	slots, err := s.ListSlots(ctx, req.DoctorID, req.Date)
	if err != nil {
		return nil, err
	}
	slot, ok := findSlot(slots, req.Time)
	if !ok {
		return nil, &Error{Kind: KindSlotUnavailable, Field: "appointment_time",
			Message: fmt.Sprintf("doctor has no slot at %s on %s", req.Time, req.Date)}
	}
	if !slot.IsAvailable {
		return nil, &Error{Kind: KindSlotUnavailable, Field: "appointment_time",
			Message: fmt.Sprintf("slot %s on %s is already booked", req.Time, req.Date)}
	}

	key := slotLockKey(req.DoctorID, req.Date, req.Time)
	lctx, cancel := s.call(ctx)
	acquired, token, err := s.locker.TryLock(lctx, key, s.lockTTL)
	cancel()
	if err != nil {
		return nil, unavailable(KindUnavailable, "acquire slot lock", err)
	}
	if !acquired {
		return nil, &Error{Kind: KindConflict, Message: "slot is being booked by someone else"}
	}
	defer s.unlock(ctx, key, token)

	appt := &Appointment{
		DoctorID:         req.DoctorID,
		PatientID:        req.PatientID,
		AppointmentDate:  req.Date,
		AppointmentTime:  req.Time,
		Status:           StatusPending,
		ConsultationType: req.ConsultationType,
		Notes:            req.Notes,
		ConsultationFee:  slot.Fee,
	}

	cctx, cancel := s.call(ctx)
	defer cancel()
	if err := s.appointments.CreateIfFree(cctx, appt); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, &Error{Kind: KindConflict, Message: "slot was just taken", Err: err}
		}
		return nil, unavailable(KindUnavailable, "create appointment", err)
	}

	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Str("date", appt.AppointmentDate.String()).
		Str("time", appt.AppointmentTime.String()).
		Msg("appointment booked")

	s.notify(ctx, appt.DoctorID, notification.TypeInfo, "New appointment request",
		fmt.Sprintf("A patient requested a %s consultation on %s at %s.",
			appt.ConsultationType, appt.AppointmentDate, appt.AppointmentTime))

	return appt, nil
}

func (s *Service) unlock(ctx context.Context, key, token string) {
	uctx, cancel := s.call(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.locker.Unlock(uctx, key, token); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("release slot lock")
	}
}

// -- Status transitions --

func authorizeUpdate(a *Appointment, actorID uuid.UUID, upd StatusUpdate) error {
	if !a.HasParticipant(actorID) {
		return forbidden("only the appointment's doctor or patient may change it")
	}
	if actorID == a.DoctorID {
		return nil
	}
	if upd.Status != StatusCancelled {
		return forbidden("only the doctor may mark an appointment %s", upd.Status)
	}
	if upd.MeetingLink != nil || upd.Diagnosis != nil || upd.Prescription != nil {
		return forbidden("only the doctor may set meeting link, diagnosis or prescription")
	}
	return nil
}

func applyUpdate(a *Appointment, actorID uuid.UUID, upd StatusUpdate) error {
	if err := authorizeUpdate(a, actorID, upd); err != nil {
		return err
	}
	if !a.Status.CanTransitionTo(upd.Status) {
		return transitionError(a.Status, upd.Status)
	}

	a.Status = upd.Status
	if upd.MeetingLink != nil {
		a.MeetingLink = upd.MeetingLink
	}
	if upd.Diagnosis != nil {
		a.Diagnosis = upd.Diagnosis
	}
	if upd.Prescription != nil {
		a.Prescription = upd.Prescription
	}
	if upd.Status == StatusCancelled {
		by := actorID
		a.CancelledBy = &by
		a.CancellationReason = upd.CancellationReason
	}
	return nil
}

// UpdateStatus moves an appointment through its lifecycle on behalf of
// actorID. The transition is validated against the state read inside the
// same atomic update.
func (s *Service) UpdateStatus(ctx context.Context, actorID, appointmentID uuid.UUID, upd StatusUpdate) (*Appointment, error) {
	if _, ok := ParseStatus(string(upd.Status)); !ok {
		return nil, validationError("status", "unknown status %q", upd.Status)
	}

	cctx, cancel := s.call(ctx)
	current, err := s.appointments.GetByID(cctx, appointmentID)
	cancel()
	if errors.Is(err, ErrRecordNotFound) {
		return nil, notFound("appointment %s not found", appointmentID)
	}
	if err != nil {
		return nil, unavailable(KindUnavailable, "load appointment", err)
	}
	if err := authorizeUpdate(current, actorID, upd); err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(upd.Status) {
		return nil, transitionError(current.Status, upd.Status)
	}

	if upd.Status == StatusConfirmed && upd.MeetingLink == nil {
		mctx, cancel := s.call(ctx)
		link, err := s.meetings.Provision(mctx, appointmentID)
		cancel()
		if err != nil {
			return nil, unavailable(KindUnavailable, "provision meeting link", err)
		}
		upd.MeetingLink = &link
	}

	cctx, cancel = s.call(ctx)
	defer cancel()
	updated, err := s.appointments.UpdateWith(cctx, appointmentID, func(a *Appointment) error {
		return applyUpdate(a, actorID, upd)
	})
	if errors.Is(err, ErrRecordNotFound) {
		return nil, notFound("appointment %s not found", appointmentID)
	}
	if err != nil {
		return nil, unavailable(KindUnavailable, "update appointment", err)
	}

	s.log.Info().
		Str("appointment_id", updated.ID.String()).
		Str("from", string(current.Status)).
		Str("to", string(updated.Status)).
		Msg("appointment status changed")

	s.notifyTransition(ctx, actorID, updated)
	return updated, nil
}

// -- Notifications --

func (s *Service) notifyTransition(ctx context.Context, actorID uuid.UUID, a *Appointment) {
	when := fmt.Sprintf("%s at %s", a.AppointmentDate, a.AppointmentTime)
	recipient := a.Counterpart(actorID)

	switch a.Status {
	case StatusConfirmed:
		msg := fmt.Sprintf("Your consultation on %s is confirmed.", when)
		if a.MeetingLink != nil {
			msg += " Join link: " + *a.MeetingLink
		}
		s.notify(ctx, recipient, notification.TypeSuccess, "Appointment confirmed", msg)
	case StatusCompleted:
		s.notify(ctx, recipient, notification.TypeSuccess, "Consultation completed",
			fmt.Sprintf("Your consultation on %s has been completed.", when))
	case StatusCancelled:
		msg := fmt.Sprintf("The consultation on %s was cancelled.", when)
		if a.CancellationReason != nil && *a.CancellationReason != "" {
			msg += " Reason: " + *a.CancellationReason
		}
		s.notify(ctx, recipient, notification.TypeWarning, "Appointment cancelled", msg)
	}
}

// notify is best effort: the booking or transition has already committed.
func (s *Service) notify(ctx context.Context, recipient uuid.UUID, typ notification.Type, title, message string) {
	n := notification.New(recipient, typ, notification.CategoryAppointment, title, message)
	pctx, cancel := s.call(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.notifier.Publish(pctx, n); err != nil {
		s.log.Warn().Err(err).
			Str("notification_id", n.ID.String()).
			Str("recipient_id", recipient.String()).
			Msg("publish notification")
	}
}

// -- Queries --

// GetAppointment returns the appointment if actorID participates in it.
func (s *Service) GetAppointment(ctx context.Context, actorID, id uuid.UUID) (*Appointment, error) {
	cctx, cancel := s.call(ctx)
	defer cancel()

	a, err := s.appointments.GetByID(cctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, notFound("appointment %s not found", id)
	}
	if err != nil {
		return nil, unavailable(KindDataUnavailable, "load appointment", err)
	}
	if !a.HasParticipant(actorID) {
		return nil, forbidden("not a participant of this appointment")
	}
	return a, nil
}

// ListAppointments returns appointments matching f ordered by date and
// time, plus the total match count before paging.
func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return []*Appointment{}, 0, nil
	}
	cctx, cancel := s.call(ctx)
	defer cancel()

	items, total, err := s.appointments.Search(cctx, f)
	if err != nil {
		return nil, 0, unavailable(KindDataUnavailable, "list appointments", err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return items, total, nil
}

// ListDoctors returns approved doctors matching f, for patients choosing
// whom to book.
func (s *Service) ListDoctors(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	cctx, cancel := s.call(ctx)
	defer cancel()

	items, total, err := s.doctors.ListApproved(cctx, f)
	if err != nil {
		return nil, 0, unavailable(KindDataUnavailable, "list doctors", err)
	}
	if items == nil {
		items = []*Doctor{}
	}
	return items, total, nil
}

// TodayAppointments lists every appointment of the doctor on the clinic's
// current date.
func (s *Service) TodayAppointments(ctx context.Context, doctorID uuid.UUID) ([]*Appointment, error) {
	today := s.Today()
	items, _, err := s.ListAppointments(ctx, AppointmentFilter{DoctorID: &doctorID, From: &today, To: &today})
	return items, err
}
