package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/platform/db"
)

const pgUniqueViolation = "23505"

func pgTime(t TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: int64(t) * int64(time.Minute/time.Microsecond), Valid: true}
}

func fromPgTime(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func notFoundOr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRecordNotFound
	}
	return err
}

// =========== Template Repository ===========

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository { return &templateRepoPG{pool: pool} }

func (r *templateRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const templateCols = `id, doctor_id, day_of_week, start_time, end_time,
	slot_duration_minutes, consultation_fee, is_active, created_at, updated_at`

func (r *templateRepoPG) scanTemplate(row pgx.Row) (*AvailabilityTemplate, error) {
	var t AvailabilityTemplate
	var start, end pgtype.Time
	err := row.Scan(&t.ID, &t.DoctorID, &t.DayOfWeek, &start, &end,
		&t.SlotDurationMinutes, &t.ConsultationFee, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err)
	}
	t.StartTime, t.EndTime = fromPgTime(start), fromPgTime(end)
	return &t, nil
}

func (r *templateRepoPG) Create(ctx context.Context, t *AvailabilityTemplate) error {
	t.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability_templates (id, doctor_id, day_of_week, start_time, end_time,
			slot_duration_minutes, consultation_fee, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		t.ID, t.DoctorID, t.DayOfWeek, pgTime(t.StartTime), pgTime(t.EndTime),
		t.SlotDurationMinutes, t.ConsultationFee, t.IsActive,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityTemplate, error) {
	return r.scanTemplate(r.conn(ctx).QueryRow(ctx,
		`SELECT `+templateCols+` FROM availability_templates WHERE id = $1`, id))
}

func (r *templateRepoPG) Update(ctx context.Context, t *AvailabilityTemplate) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE availability_templates SET day_of_week=$2, start_time=$3, end_time=$4,
			slot_duration_minutes=$5, consultation_fee=$6, is_active=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		t.ID, t.DayOfWeek, pgTime(t.StartTime), pgTime(t.EndTime),
		t.SlotDurationMinutes, t.ConsultationFee, t.IsActive,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	return notFoundOr(err)
}

func (r *templateRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE availability_templates SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *templateRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*AvailabilityTemplate, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*AvailabilityTemplate
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *templateRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*AvailabilityTemplate, error) {
	return r.list(ctx, `SELECT `+templateCols+` FROM availability_templates
		WHERE doctor_id = $1 ORDER BY day_of_week, start_time, id`, doctorID)
}

func (r *templateRepoPG) ListActiveForDay(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]*AvailabilityTemplate, error) {
	return r.list(ctx, `SELECT `+templateCols+` FROM availability_templates
		WHERE doctor_id = $1 AND day_of_week = $2 AND is_active
		ORDER BY start_time, id`, doctorID, dayOfWeek)
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const apptCols = `id, doctor_id, patient_id, appointment_date, appointment_time, status,
	consultation_type, notes, consultation_fee, meeting_link, diagnosis, prescription,
	cancellation_reason, cancelled_by, created_at, updated_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var at pgtype.Time
	var status string
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &date, &at, &status,
		&a.ConsultationType, &a.Notes, &a.ConsultationFee, &a.MeetingLink, &a.Diagnosis, &a.Prescription,
		&a.CancellationReason, &a.CancelledBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err)
	}
	a.AppointmentDate = DateOf(date)
	a.AppointmentTime = fromPgTime(at)
	a.Status = Status(status)
	return &a, nil
}

// CreateIfFree relies on the partial unique index over
// (doctor_id, appointment_date, appointment_time) WHERE status <> 'cancelled'.
func (r *appointmentRepoPG) CreateIfFree(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appointment_date, appointment_time,
			status, consultation_type, notes, consultation_fee)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (doctor_id, appointment_date, appointment_time) WHERE status <> 'cancelled'
		DO NOTHING
		RETURNING created_at, updated_at`,
		a.ID, a.DoctorID, a.PatientID, a.AppointmentDate.In(time.UTC), pgTime(a.AppointmentTime),
		string(a.Status), a.ConsultationType, a.Notes, a.ConsultationFee,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSlotTaken
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrSlotTaken
	}
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return r.scanAppointment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *appointmentRepoPG) ListActiveByDoctorDate(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Appointment, error) {
	return r.list(ctx, `SELECT `+apptCols+` FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND status <> 'cancelled'
		ORDER BY appointment_time, id`, doctorID, date.In(time.UTC))
}

func (r *appointmentRepoPG) UpdateWith(ctx context.Context, id uuid.UUID, fn func(a *Appointment) error) (*Appointment, error) {
	var updated *Appointment
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		a, err := r.scanAppointment(r.conn(ctx).QueryRow(ctx,
			`SELECT `+apptCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		err = r.conn(ctx).QueryRow(ctx, `
			UPDATE appointments SET status=$2, meeting_link=$3, diagnosis=$4, prescription=$5,
				cancellation_reason=$6, cancelled_by=$7, updated_at=NOW()
			WHERE id = $1
			RETURNING updated_at`,
			a.ID, string(a.Status), a.MeetingLink, a.Diagnosis, a.Prescription,
			a.CancellationReason, a.CancelledBy,
		).Scan(&a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update appointment %s: %w", id, err)
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *appointmentRepoPG) Search(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	where, args := appointmentWhere(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + apptCols + ` FROM appointments` + where +
		` ORDER BY appointment_date, appointment_time, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	items, err := r.list(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// appointmentWhere builds the WHERE clause and positional args for f.
func appointmentWhere(f AppointmentFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.From != nil {
		add("appointment_date >= $%d", f.From.In(time.UTC))
	}
	if f.To != nil {
		add("appointment_date <= $%d", f.To.In(time.UTC))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *appointmentRepoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// =========== Doctor Directory ===========

type doctorDirectoryPG struct{ pool *pgxpool.Pool }

func NewDoctorDirectoryPG(pool *pgxpool.Pool) DoctorDirectory { return &doctorDirectoryPG{pool: pool} }

func (r *doctorDirectoryPG) IsBookable(ctx context.Context, doctorID uuid.UUID) (bool, error) {
	var approved bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT approved FROM doctors WHERE id = $1`, doctorID).Scan(&approved)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return approved, err
}

func (r *doctorDirectoryPG) ListApproved(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	where, args := doctorWhere(f)
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM doctors`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, full_name, specialty FROM doctors` + where + ` ORDER BY full_name, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*Doctor{}
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.FullName, &d.Specialty); err != nil {
			return nil, 0, err
		}
		items = append(items, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// likeEscaper makes LIKE wildcards in user input match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// doctorWhere always restricts to approved doctors.
func doctorWhere(f DoctorFilter) (string, []interface{}) {
	conds := []string{"approved"}
	var args []interface{}
	if name := strings.TrimSpace(f.Name); name != "" {
		args = append(args, likeEscaper.Replace(name))
		conds = append(conds, fmt.Sprintf("full_name ILIKE '%%' || $%d || '%%'", len(args)))
	}
	if specialty := strings.TrimSpace(f.Specialty); specialty != "" {
		args = append(args, specialty)
		conds = append(conds, fmt.Sprintf("lower(specialty) = lower($%d)", len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
