package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/telecare/telecare/internal/platform/lock"
	"github.com/telecare/telecare/internal/platform/notification"
)

// -- Fakes --

type recordingPublisher struct {
	mu   sync.Mutex
	sent []notification.Notification
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, n notification.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, n)
	return nil
}

func (p *recordingPublisher) last() (notification.Notification, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) == 0 {
		return notification.Notification{}, false
	}
	return p.sent[len(p.sent)-1], true
}

type fakeMeetings struct {
	link string
	err  error
}

func (m *fakeMeetings) Provision(_ context.Context, _ uuid.UUID) (string, error) {
	return m.link, m.err
}

// slowDoctors blocks until the caller's deadline.
type slowDoctors struct{}

func (slowDoctors) IsBookable(ctx context.Context, _ uuid.UUID) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (slowDoctors) ListApproved(ctx context.Context, _ DoctorFilter) ([]*Doctor, int, error) {
	<-ctx.Done()
	return nil, 0, ctx.Err()
}

// brokenAppointments fails every read.
type brokenAppointments struct {
	*MemoryAppointments
}

var errStorage = errors.New("connection refused")

func (brokenAppointments) GetByID(context.Context, uuid.UUID) (*Appointment, error) {
	return nil, errStorage
}

func (brokenAppointments) Search(context.Context, AppointmentFilter) ([]*Appointment, int, error) {
	return nil, 0, errStorage
}

// -- Fixture --

type fixture struct {
	svc       *Service
	templates *MemoryTemplates
	appts     *MemoryAppointments
	doctors   *MemoryDoctors
	locker    *lock.LocalLocker
	meetings  *fakeMeetings
	notes     *recordingPublisher
	doctorID  uuid.UUID
	patientID uuid.UUID
}

// The clinic clock reads Sunday 2030-01-06 noon; monday is the next day.
var fixedNow = time.Date(2030, time.January, 6, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		templates: NewMemoryTemplates(),
		appts:     NewMemoryAppointments(),
		doctors:   NewMemoryDoctors(),
		locker:    lock.NewLocalLocker(),
		meetings:  &fakeMeetings{link: "https://meet.example.com/consult-abc"},
		notes:     &recordingPublisher{},
		doctorID:  uuid.New(),
		patientID: uuid.New(),
	}
	f.doctors.Put(f.doctorID, true)
	f.svc = f.newService(f.appts, f.doctors, Options{CallTimeout: time.Second})

	tpl := template(1, "09:00", "10:00", 30, 50)
	tpl.ID = uuid.Nil
	if _, err := f.svc.UpsertTemplate(context.Background(), f.doctorID, f.doctorID, tpl); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return f
}

func (f *fixture) newService(appts AppointmentRepository, docs DoctorDirectory, opts Options) *Service {
	svc := NewService(f.templates, appts, docs, Collaborators{
		Locker:   f.locker,
		Meetings: f.meetings,
		Notifier: f.notes,
	}, opts, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func (f *fixture) book(t *testing.T, at string) *Appointment {
	t.Helper()
	a, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: f.patientID,
		DoctorID:  f.doctorID,
		Date:      monday,
		Time:      MustTimeOfDay(at),
	})
	if err != nil {
		t.Fatalf("book %s: %v", at, err)
	}
	return a
}

func (f *fixture) update(id uuid.UUID, actor uuid.UUID, st Status) (*Appointment, error) {
	return f.svc.UpdateStatus(context.Background(), actor, id, StatusUpdate{Status: st})
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s, got %q (%v)", kind, got, err)
	}
}

// ---------------------------------------------------------------------------
// Slots
// ---------------------------------------------------------------------------

func TestService_ListSlots(t *testing.T) {
	f := newFixture(t)
	slots, err := f.svc.ListSlots(context.Background(), f.doctorID, monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := slotTimes(slots); !equalStrings(got, []string{"09:00", "09:30"}) {
		t.Errorf("unexpected slots %v", got)
	}
}

func TestService_ListSlots_NoTemplates(t *testing.T) {
	f := newFixture(t)
	slots, err := f.svc.ListSlots(context.Background(), f.doctorID, Date{2030, time.January, 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", slots)
	}
}

func TestService_ListSlots_UnknownDoctor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListSlots(context.Background(), uuid.New(), monday)
	wantKind(t, err, KindNotFound)

	unapproved := uuid.New()
	f.doctors.Put(unapproved, false)
	_, err = f.svc.ListSlots(context.Background(), unapproved, monday)
	wantKind(t, err, KindNotFound)
}

func TestService_ListSlots_MissingArgs(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListSlots(context.Background(), uuid.Nil, monday)
	wantKind(t, err, KindInvalidRequest)
	_, err = f.svc.ListSlots(context.Background(), f.doctorID, Date{})
	wantKind(t, err, KindInvalidRequest)
}

func TestService_ListSlots_Repeatable(t *testing.T) {
	f := newFixture(t)
	f.book(t, "09:30")
	first, _ := f.svc.ListSlots(context.Background(), f.doctorID, monday)
	second, _ := f.svc.ListSlots(context.Background(), f.doctorID, monday)
	if len(first) != len(second) {
		t.Fatalf("results differ: %v vs %v", first, second)
	}
	for i := range first {
		if first[i].Time != second[i].Time || first[i].IsAvailable != second[i].IsAvailable {
			t.Errorf("slot %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestService_ListSlots_Timeout(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(f.appts, slowDoctors{}, Options{CallTimeout: 20 * time.Millisecond})

	_, err := svc.ListSlots(context.Background(), f.doctorID, monday)
	wantKind(t, err, KindUnavailable)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded cause, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Booking
// ---------------------------------------------------------------------------

func TestService_BookAppointment(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, "09:00")

	if a.ID == uuid.Nil {
		t.Error("expected ID to be assigned")
	}
	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
	if a.ConsultationType != ConsultationVideo {
		t.Errorf("expected default video consultation, got %q", a.ConsultationType)
	}
	if !a.ConsultationFee.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected fee 50, got %s", a.ConsultationFee)
	}

	n, ok := f.notes.last()
	if !ok {
		t.Fatal("expected a notification to the doctor")
	}
	if n.RecipientID != f.doctorID || n.Type != notification.TypeInfo {
		t.Errorf("unexpected notification %+v", n)
	}

	slots, _ := f.svc.ListSlots(context.Background(), f.doctorID, monday)
	if slots[0].IsAvailable {
		t.Error("booked slot should no longer be available")
	}
}

func TestService_BookAppointment_SlotUnavailable(t *testing.T) {
	f := newFixture(t)
	f.book(t, "09:00")

	_, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: uuid.New(), DoctorID: f.doctorID, Date: monday, Time: MustTimeOfDay("09:00"),
	})
	wantKind(t, err, KindSlotUnavailable)

	_, err = f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: f.patientID, DoctorID: f.doctorID, Date: monday, Time: MustTimeOfDay("09:15"),
	})
	wantKind(t, err, KindSlotUnavailable)
}

func TestService_BookAppointment_InvalidRequest(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  BookingRequest
	}{
		{"past date", BookingRequest{PatientID: f.patientID, DoctorID: f.doctorID,
			Date: Date{2029, time.December, 31}, Time: MustTimeOfDay("09:00")}},
		{"self booking", BookingRequest{PatientID: f.doctorID, DoctorID: f.doctorID,
			Date: monday, Time: MustTimeOfDay("09:00")}},
		{"missing doctor", BookingRequest{PatientID: f.patientID,
			Date: monday, Time: MustTimeOfDay("09:00")}},
		{"missing date", BookingRequest{PatientID: f.patientID, DoctorID: f.doctorID,
			Time: MustTimeOfDay("09:00")}},
		{"bad consultation type", BookingRequest{PatientID: f.patientID, DoctorID: f.doctorID,
			Date: monday, Time: MustTimeOfDay("09:00"), ConsultationType: "in-person"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BookAppointment(context.Background(), tt.req)
			wantKind(t, err, KindInvalidRequest)
		})
	}
}

func TestService_BookAppointment_LockHeld(t *testing.T) {
	f := newFixture(t)
	key := slotLockKey(f.doctorID, monday, MustTimeOfDay("09:00"))
	if ok, _, _ := f.locker.TryLock(context.Background(), key, time.Minute); !ok {
		t.Fatal("could not pre-acquire lock")
	}

	_, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: f.patientID, DoctorID: f.doctorID, Date: monday, Time: MustTimeOfDay("09:00"),
	})
	wantKind(t, err, KindConflict)
}

func TestService_BookAppointment_ReleasesLock(t *testing.T) {
	f := newFixture(t)
	f.book(t, "09:00")
	key := slotLockKey(f.doctorID, monday, MustTimeOfDay("09:00"))
	ok, _, err := f.locker.TryLock(context.Background(), key, time.Minute)
	if err != nil || !ok {
		t.Errorf("lock should be released after booking, got %v %v", ok, err)
	}
}

// grantingLocker always grants, as after a lock TTL has lapsed.
type grantingLocker struct{}

func (grantingLocker) TryLock(context.Context, string, time.Duration) (bool, string, error) {
	return true, "token", nil
}

func (grantingLocker) Unlock(context.Context, string, string) error { return nil }

// racingAppointments lets a competing booking land between the slot check
// and the insert.
type racingAppointments struct {
	*MemoryAppointments
	rival *Appointment
}

func (r *racingAppointments) CreateIfFree(ctx context.Context, a *Appointment) error {
	if r.rival != nil {
		if err := r.MemoryAppointments.CreateIfFree(ctx, r.rival); err != nil {
			return err
		}
		r.rival = nil
	}
	return r.MemoryAppointments.CreateIfFree(ctx, a)
}

func TestService_BookAppointment_InsertRaceIsConflict(t *testing.T) {
	f := newFixture(t)
	at := MustTimeOfDay("09:00")
	appts := &racingAppointments{
		MemoryAppointments: f.appts,
		rival: &Appointment{
			DoctorID: f.doctorID, PatientID: uuid.New(),
			AppointmentDate: monday, AppointmentTime: at, Status: StatusPending,
		},
	}
	svc := NewService(f.templates, appts, f.doctors, Collaborators{
		Locker:   grantingLocker{},
		Meetings: f.meetings,
		Notifier: f.notes,
	}, Options{CallTimeout: time.Second}, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }

	_, err := svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: f.patientID, DoctorID: f.doctorID, Date: monday, Time: at,
	})
	wantKind(t, err, KindConflict)
	if !errors.Is(err, ErrSlotTaken) {
		t.Errorf("expected the store's ErrSlotTaken to be wrapped, got %v", err)
	}

	active, _ := f.appts.ListActiveByDoctorDate(context.Background(), f.doctorID, monday)
	if len(active) != 1 || active[0].PatientID == f.patientID {
		t.Errorf("expected only the rival booking to be stored, got %d", len(active))
	}
}

func TestService_BookAppointment_Concurrent(t *testing.T) {
	f := newFixture(t)
	const callers = 20

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  = map[Kind]int{}
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.BookAppointment(context.Background(), BookingRequest{
				PatientID: uuid.New(), DoctorID: f.doctorID, Date: monday, Time: MustTimeOfDay("09:30"),
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures[KindOf(err)]++
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one booking, got %d", successes)
	}
	if failures[KindConflict]+failures[KindSlotUnavailable] != callers-1 {
		t.Errorf("unexpected failure kinds %v", failures)
	}

	active, _ := f.appts.ListActiveByDoctorDate(context.Background(), f.doctorID, monday)
	if len(active) != 1 {
		t.Errorf("expected one stored appointment, got %d", len(active))
	}
}

func TestService_BookAppointment_NotifyFailureIgnored(t *testing.T) {
	f := newFixture(t)
	f.notes.err = errors.New("broker down")
	if a := f.book(t, "09:00"); a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
}

// ---------------------------------------------------------------------------
// Status transitions
// ---------------------------------------------------------------------------

func TestService_UpdateStatus_ConfirmProvisionsLink(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, "09:00")

	got, err := f.update(a.ID, f.doctorID, StatusConfirmed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", got.Status)
	}
	if got.MeetingLink == nil || *got.MeetingLink != f.meetings.link {
		t.Errorf("expected provisioned link, got %v", got.MeetingLink)
	}

	n, _ := f.notes.last()
	if n.RecipientID != f.patientID || n.Type != notification.TypeSuccess {
		t.Errorf("patient should be told about the confirmation, got %+v", n)
	}
}

func TestService_UpdateStatus_ExplicitLinkKept(t *testing.T) {
	f := newFixture(t)
	f.meetings.err = errors.New("should not be called")
	a := f.book(t, "09:00")

	got, err := f.svc.UpdateStatus(context.Background(), f.doctorID, a.ID, StatusUpdate{
		Status: StatusConfirmed, MeetingLink: ptrStr("https://meet.example.com/custom"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *got.MeetingLink != "https://meet.example.com/custom" {
		t.Errorf("unexpected link %s", *got.MeetingLink)
	}
}

func TestService_UpdateStatus_ProvisionFailure(t *testing.T) {
	f := newFixture(t)
	f.meetings.err = errors.New("video service down")
	a := f.book(t, "09:00")

	_, err := f.update(a.ID, f.doctorID, StatusConfirmed)
	wantKind(t, err, KindUnavailable)

	stored, _ := f.appts.GetByID(context.Background(), a.ID)
	if stored.Status != StatusPending {
		t.Errorf("status should be unchanged, got %s", stored.Status)
	}
}

func TestService_UpdateStatus_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, "09:00")

	if _, err := f.update(a.ID, f.doctorID, StatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	done, err := f.svc.UpdateStatus(context.Background(), f.doctorID, a.ID, StatusUpdate{
		Status:       StatusCompleted,
		Diagnosis:    ptrStr("seasonal allergy"),
		Prescription: ptrStr("cetirizine 10mg"),
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Diagnosis == nil || *done.Diagnosis != "seasonal allergy" {
		t.Errorf("diagnosis not stored: %v", done.Diagnosis)
	}

	_, err = f.update(a.ID, f.doctorID, StatusCancelled)
	wantKind(t, err, KindInvalidStateTransition)
	var se *Error
	errors.As(err, &se)
	if se.From != StatusCompleted || se.To != StatusCancelled {
		t.Errorf("expected completed -> cancelled, got %s -> %s", se.From, se.To)
	}
}

func TestService_UpdateStatus_IllegalTransitions(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, "09:00")

	_, err := f.update(a.ID, f.doctorID, StatusCompleted)
	wantKind(t, err, KindInvalidStateTransition)

	_, err = f.update(a.ID, f.doctorID, StatusPending)
	wantKind(t, err, KindInvalidStateTransition)

	_, err = f.update(a.ID, f.doctorID, Status("scheduled"))
	wantKind(t, err, KindValidation)
}

func TestService_UpdateStatus_Authorization(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, "09:00")

	_, err := f.update(a.ID, uuid.New(), StatusCancelled)
	wantKind(t, err, KindAuthorization)

	_, err = f.update(a.ID, f.patientID, StatusConfirmed)
	wantKind(t, err, KindAuthorization)

	_, err = f.svc.UpdateStatus(context.Background(), f.patientID, a.ID, StatusUpdate{
		Status: StatusCancelled, Diagnosis: ptrStr("self-diagnosed"),
	})
	wantKind(t, err, KindAuthorization)
}

func TestService_UpdateStatus_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.update(uuid.New(), f.doctorID, StatusConfirmed)
	wantKind(t, err, KindNotFound)
}

func TestService_UpdateStatus_PatientCancelFreesSlot(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, "09:00")

	got, err := f.svc.UpdateStatus(context.Background(), f.patientID, a.ID, StatusUpdate{
		Status: StatusCancelled, CancellationReason: ptrStr("feeling better"),
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.CancelledBy == nil || *got.CancelledBy != f.patientID {
		t.Errorf("expected cancelled_by patient, got %v", got.CancelledBy)
	}
	if got.CancellationReason == nil || *got.CancellationReason != "feeling better" {
		t.Errorf("reason not stored: %v", got.CancellationReason)
	}

	n, _ := f.notes.last()
	if n.RecipientID != f.doctorID || n.Type != notification.TypeWarning {
		t.Errorf("doctor should get a cancellation warning, got %+v", n)
	}

	slots, _ := f.svc.ListSlots(context.Background(), f.doctorID, monday)
	if !slots[0].IsAvailable {
		t.Error("cancelled slot should be available again")
	}
	rebooked, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: uuid.New(), DoctorID: f.doctorID, Date: monday, Time: MustTimeOfDay("09:00"),
	})
	if err != nil {
		t.Fatalf("rebook: %v", err)
	}
	if rebooked.ID == a.ID {
		t.Error("rebooking should create a new appointment")
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func TestService_GetAppointment(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, "09:00")

	for _, actor := range []uuid.UUID{f.doctorID, f.patientID} {
		got, err := f.svc.GetAppointment(context.Background(), actor, a.ID)
		if err != nil || got.ID != a.ID {
			t.Errorf("participant %s: got %v, %v", actor, got, err)
		}
	}

	_, err := f.svc.GetAppointment(context.Background(), uuid.New(), a.ID)
	wantKind(t, err, KindAuthorization)

	_, err = f.svc.GetAppointment(context.Background(), f.doctorID, uuid.New())
	wantKind(t, err, KindNotFound)
}

func TestService_Queries_DataUnavailable(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(brokenAppointments{f.appts}, f.doctors, Options{})

	_, err := svc.GetAppointment(context.Background(), f.doctorID, uuid.New())
	wantKind(t, err, KindDataUnavailable)

	_, _, err = svc.ListAppointments(context.Background(), AppointmentFilter{DoctorID: &f.doctorID})
	wantKind(t, err, KindDataUnavailable)
}

func TestService_ListAppointments(t *testing.T) {
	f := newFixture(t)
	late := f.book(t, "09:30")
	early := f.book(t, "09:00")
	if _, err := f.update(late.ID, f.doctorID, StatusConfirmed); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	items, total, err := f.svc.ListAppointments(context.Background(), AppointmentFilter{DoctorID: &f.doctorID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(items) != 2 {
		t.Fatalf("expected 2 appointments, got %d/%d", len(items), total)
	}
	if items[0].ID != early.ID || items[1].ID != late.ID {
		t.Error("appointments should be ordered by time")
	}

	items, total, _ = f.svc.ListAppointments(context.Background(), AppointmentFilter{
		PatientID: &f.patientID, Statuses: []Status{StatusConfirmed},
	})
	if total != 1 || items[0].ID != late.ID {
		t.Errorf("status filter returned %d items", total)
	}

	items, total, _ = f.svc.ListAppointments(context.Background(), AppointmentFilter{
		DoctorID: &f.doctorID, Limit: 1, Offset: 1,
	})
	if total != 2 || len(items) != 1 || items[0].ID != late.ID {
		t.Errorf("paging returned %d of %d", len(items), total)
	}

	from := Date{2030, time.January, 10}
	to := Date{2030, time.January, 1}
	items, total, err = f.svc.ListAppointments(context.Background(), AppointmentFilter{From: &from, To: &to})
	if err != nil || total != 0 || items == nil || len(items) != 0 {
		t.Errorf("inverted range should be empty, got %v %d %v", items, total, err)
	}
}

func TestService_TodayAppointments(t *testing.T) {
	f := newFixture(t)
	f.book(t, "09:00")

	items, err := f.svc.TodayAppointments(context.Background(), f.doctorID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("nothing is booked for Sunday, got %d", len(items))
	}

	f.svc.now = func() time.Time { return monday.In(time.UTC).Add(8 * time.Hour) }
	items, _ = f.svc.TodayAppointments(context.Background(), f.doctorID)
	if len(items) != 1 {
		t.Errorf("expected Monday's appointment, got %d", len(items))
	}
}

func TestService_Today_UsesClinicZone(t *testing.T) {
	f := newFixture(t)
	tokyo := time.FixedZone("JST", 9*3600)
	svc := f.newService(f.appts, f.doctors, Options{Location: tokyo})
	svc.now = func() time.Time { return time.Date(2030, time.January, 6, 20, 0, 0, 0, time.UTC) }
	if got := svc.Today(); got != monday {
		t.Errorf("expected %s in Tokyo, got %s", monday, got)
	}
}

// ---------------------------------------------------------------------------
// Availability templates
// ---------------------------------------------------------------------------

func TestService_UpsertTemplate_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		tpl   *AvailabilityTemplate
		field string
	}{
		{"end before start", template(1, "10:00", "09:00", 30, 50), "end_time"},
		{"empty window", template(1, "10:00", "10:00", 30, 50), "end_time"},
		{"bad duration", template(1, "09:00", "10:00", 20, 50), "slot_duration_minutes"},
		{"bad day", template(7, "09:00", "10:00", 30, 50), "day_of_week"},
		{"negative fee", template(1, "09:00", "10:00", 30, -1), "consultation_fee"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.tpl.ID = uuid.Nil
			_, err := f.svc.UpsertTemplate(context.Background(), f.doctorID, f.doctorID, tt.tpl)
			wantKind(t, err, KindValidation)
			var se *Error
			errors.As(err, &se)
			if se.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, se.Field)
			}
		})
	}
}

func TestService_UpsertTemplate_Ownership(t *testing.T) {
	f := newFixture(t)
	tpl := template(2, "09:00", "10:00", 30, 50)
	tpl.ID = uuid.Nil

	_, err := f.svc.UpsertTemplate(context.Background(), f.patientID, f.doctorID, tpl)
	wantKind(t, err, KindAuthorization)

	other := uuid.New()
	f.doctors.Put(other, true)
	owned, err := f.svc.UpsertTemplate(context.Background(), other, other, tpl)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	hijack := *owned
	hijack.StartTime = MustTimeOfDay("08:00")
	_, err = f.svc.UpsertTemplate(context.Background(), f.doctorID, f.doctorID, &hijack)
	wantKind(t, err, KindAuthorization)
}

func TestService_UpsertTemplate_Update(t *testing.T) {
	f := newFixture(t)
	items, _ := f.svc.ListTemplates(context.Background(), f.doctorID, f.doctorID)
	if len(items) != 1 {
		t.Fatalf("expected seeded template, got %d", len(items))
	}
	tpl := items[0]
	tpl.EndTime = MustTimeOfDay("11:00")
	if _, err := f.svc.UpsertTemplate(context.Background(), f.doctorID, f.doctorID, tpl); err != nil {
		t.Fatalf("update: %v", err)
	}

	slots, _ := f.svc.ListSlots(context.Background(), f.doctorID, monday)
	if len(slots) != 4 {
		t.Errorf("expected 4 slots after widening, got %v", slotTimes(slots))
	}
}

func TestService_DeactivateTemplate(t *testing.T) {
	f := newFixture(t)
	booked := f.book(t, "09:00")
	items, _ := f.svc.ListTemplates(context.Background(), f.doctorID, f.doctorID)

	err := f.svc.DeactivateTemplate(context.Background(), f.patientID, f.doctorID, items[0].ID)
	wantKind(t, err, KindAuthorization)

	if err := f.svc.DeactivateTemplate(context.Background(), f.doctorID, f.doctorID, items[0].ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	slots, _ := f.svc.ListSlots(context.Background(), f.doctorID, monday)
	if len(slots) != 0 {
		t.Errorf("expected no slots, got %v", slotTimes(slots))
	}
	if _, err := f.svc.GetAppointment(context.Background(), f.patientID, booked.ID); err != nil {
		t.Errorf("existing appointment should survive: %v", err)
	}

	all, _ := f.svc.ListTemplates(context.Background(), f.doctorID, f.doctorID)
	if len(all) != 1 || all[0].IsActive {
		t.Error("deactivated template should still be listed as inactive")
	}

	err = f.svc.DeactivateTemplate(context.Background(), f.doctorID, f.doctorID, uuid.New())
	wantKind(t, err, KindNotFound)
}

// ---------------------------------------------------------------------------
// Doctors
// ---------------------------------------------------------------------------

func TestService_ListDoctors(t *testing.T) {
	f := newFixture(t)
	f.doctors.PutDoctor(Doctor{ID: f.doctorID, FullName: "Ada Lovelace", Specialty: "Cardiology"}, true)
	f.doctors.PutDoctor(Doctor{ID: uuid.New(), FullName: "Grace Hopper", Specialty: "Dermatology"}, true)
	f.doctors.PutDoctor(Doctor{ID: uuid.New(), FullName: "Unapproved", Specialty: "Cardiology"}, false)

	items, total, err := f.svc.ListDoctors(context.Background(), DoctorFilter{Specialty: "cardiology"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != f.doctorID {
		t.Errorf("expected only the approved cardiologist, got %d %+v", total, items)
	}

	items, _, err = f.svc.ListDoctors(context.Background(), DoctorFilter{Name: "nobody"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("expected an empty list, got %#v", items)
	}
}

func TestService_ListDoctors_Timeout(t *testing.T) {
	f := newFixture(t)
	svc := f.newService(f.appts, slowDoctors{}, Options{CallTimeout: 20 * time.Millisecond})

	_, _, err := svc.ListDoctors(context.Background(), DoctorFilter{})
	wantKind(t, err, KindDataUnavailable)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded cause, got %v", err)
	}
}
