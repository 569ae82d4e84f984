package scheduling

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// In-memory repositories back STORE=memory and the tests. Each store guards
// its data with one mutex, which makes CreateIfFree and UpdateWith atomic.

func lessByDateTime(a, b *Appointment) bool {
	if a.AppointmentDate != b.AppointmentDate {
		return a.AppointmentDate.Before(b.AppointmentDate)
	}
	if a.AppointmentTime != b.AppointmentTime {
		return a.AppointmentTime < b.AppointmentTime
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// =========== Templates ===========

type MemoryTemplates struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*AvailabilityTemplate
}

func NewMemoryTemplates() *MemoryTemplates {
	return &MemoryTemplates{items: make(map[uuid.UUID]*AvailabilityTemplate)}
}

func (m *MemoryTemplates) Create(_ context.Context, t *AvailabilityTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uuid.New()
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.items[t.ID] = &cp
	return nil
}

func (m *MemoryTemplates) GetByID(_ context.Context, id uuid.UUID) (*AvailabilityTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.items[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryTemplates) Update(_ context.Context, t *AvailabilityTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[t.ID]
	if !ok {
		return ErrRecordNotFound
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	cp := *t
	m.items[t.ID] = &cp
	return nil
}

func (m *MemoryTemplates) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.items[id]
	if !ok {
		return ErrRecordNotFound
	}
	t.IsActive = active
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryTemplates) ListByDoctor(_ context.Context, doctorID uuid.UUID) ([]*AvailabilityTemplate, error) {
	return m.filter(func(t *AvailabilityTemplate) bool { return t.DoctorID == doctorID }), nil
}

func (m *MemoryTemplates) ListActiveForDay(_ context.Context, doctorID uuid.UUID, dayOfWeek int) ([]*AvailabilityTemplate, error) {
	return m.filter(func(t *AvailabilityTemplate) bool {
		return t.DoctorID == doctorID && t.DayOfWeek == dayOfWeek && t.IsActive
	}), nil
}

func (m *MemoryTemplates) filter(keep func(*AvailabilityTemplate) bool) []*AvailabilityTemplate {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*AvailabilityTemplate
	for _, t := range m.items {
		if keep(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// =========== Appointments ===========

type MemoryAppointments struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment
}

func NewMemoryAppointments() *MemoryAppointments {
	return &MemoryAppointments{items: make(map[uuid.UUID]*Appointment)}
}

func (m *MemoryAppointments) CreateIfFree(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Status != StatusCancelled &&
			existing.DoctorID == a.DoctorID &&
			existing.AppointmentDate == a.AppointmentDate &&
			existing.AppointmentTime == a.AppointmentTime {
			return ErrSlotTaken
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.items[a.ID] = &cp
	return nil
}

func (m *MemoryAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryAppointments) ListActiveByDoctorDate(_ context.Context, doctorID uuid.UUID, date Date) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.items {
		if a.DoctorID == doctorID && a.AppointmentDate == date && a.Status != StatusCancelled {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessByDateTime(out[i], out[j]) })
	return out, nil
}

func (m *MemoryAppointments) UpdateWith(_ context.Context, id uuid.UUID, fn func(a *Appointment) error) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	working := *stored
	if err := fn(&working); err != nil {
		return nil, err
	}
	working.UpdatedAt = time.Now().UTC()
	*stored = working
	cp := working
	return &cp, nil
}

func (m *MemoryAppointments) Search(_ context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make(map[Status]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[s] = true
	}

	var matched []*Appointment
	for _, a := range m.items {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if len(statuses) > 0 && !statuses[a.Status] {
			continue
		}
		if f.From != nil && a.AppointmentDate.Before(*f.From) {
			continue
		}
		if f.To != nil && f.To.Before(a.AppointmentDate) {
			continue
		}
		cp := *a
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return lessByDateTime(matched[i], matched[j]) })

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []*Appointment{}, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

// =========== Doctors ===========

type memoryDoctor struct {
	Doctor
	approved bool
}

type MemoryDoctors struct {
	mu      sync.RWMutex
	doctors map[uuid.UUID]*memoryDoctor
}

func NewMemoryDoctors() *MemoryDoctors {
	return &MemoryDoctors{doctors: make(map[uuid.UUID]*memoryDoctor)}
}

// Put registers a doctor with the given approval state, keeping any profile
// already stored for the id.
func (m *MemoryDoctors) Put(id uuid.UUID, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.doctors[id]; ok {
		d.approved = approved
		return
	}
	m.doctors[id] = &memoryDoctor{Doctor: Doctor{ID: id}, approved: approved}
}

// PutDoctor registers or replaces a doctor profile.
func (m *MemoryDoctors) PutDoctor(d Doctor, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = &memoryDoctor{Doctor: d, approved: approved}
}

func (m *MemoryDoctors) IsBookable(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	return ok && d.approved, nil
}

func (m *MemoryDoctors) ListApproved(_ context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name := strings.ToLower(strings.TrimSpace(f.Name))
	specialty := strings.TrimSpace(f.Specialty)

	matched := []*Doctor{}
	for _, d := range m.doctors {
		if !d.approved {
			continue
		}
		if name != "" && !strings.Contains(strings.ToLower(d.FullName), name) {
			continue
		}
		if specialty != "" && !strings.EqualFold(d.Specialty, specialty) {
			continue
		}
		cp := d.Doctor
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].FullName != matched[j].FullName {
			return matched[i].FullName < matched[j].FullName
		}
		return bytes.Compare(matched[i].ID[:], matched[j].ID[:]) < 0
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return []*Doctor{}, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}
