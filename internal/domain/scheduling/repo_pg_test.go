package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAppointmentWhere_Empty(t *testing.T) {
	where, args := appointmentWhere(AppointmentFilter{Limit: 10})
	if where != "" || len(args) != 0 {
		t.Errorf("expected no clause, got %q %v", where, args)
	}
}

func TestAppointmentWhere_AllFilters(t *testing.T) {
	doctor := uuid.New()
	patient := uuid.New()
	from := Date{2030, time.January, 1}
	to := Date{2030, time.January, 31}

	where, args := appointmentWhere(AppointmentFilter{
		DoctorID:  &doctor,
		PatientID: &patient,
		Statuses:  []Status{StatusPending, StatusConfirmed},
		From:      &from,
		To:        &to,
	})

	want := " WHERE doctor_id = $1 AND patient_id = $2 AND status = ANY($3)" +
		" AND appointment_date >= $4 AND appointment_date <= $5"
	if where != want {
		t.Errorf("unexpected clause\n got: %s\nwant: %s", where, want)
	}
	if len(args) != 5 {
		t.Fatalf("expected 5 args, got %d", len(args))
	}
	if args[0] != doctor || args[1] != patient {
		t.Error("participant args out of order")
	}
	statuses, ok := args[2].([]string)
	if !ok || len(statuses) != 2 || statuses[0] != "pending" {
		t.Errorf("unexpected status arg %#v", args[2])
	}
	if !args[3].(time.Time).Equal(from.In(time.UTC)) {
		t.Errorf("unexpected from arg %v", args[3])
	}
}

func TestPgTime_RoundTrip(t *testing.T) {
	for _, s := range []string{"00:00", "09:30", "23:45"} {
		at := MustTimeOfDay(s)
		if got := fromPgTime(pgTime(at)); got != at {
			t.Errorf("%s: round trip gave %s", s, got)
		}
	}
}

func TestDoctorWhere(t *testing.T) {
	where, args := doctorWhere(DoctorFilter{Limit: 10})
	if where != " WHERE approved" || len(args) != 0 {
		t.Errorf("expected approved-only clause, got %q %v", where, args)
	}

	where, args = doctorWhere(DoctorFilter{Name: " 50%_off ", Specialty: "Cardiology"})
	want := " WHERE approved AND full_name ILIKE '%' || $1 || '%' AND lower(specialty) = lower($2)"
	if where != want {
		t.Errorf("unexpected clause\n got: %s\nwant: %s", where, want)
	}
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
	if args[0] != `50\%\_off` {
		t.Errorf("name should be trimmed and escaped, got %q", args[0])
	}
	if args[1] != "Cardiology" {
		t.Errorf("unexpected specialty arg %v", args[1])
	}
}
