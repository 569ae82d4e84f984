package scheduling

import (
	"bytes"
	"sort"
)

// GenerateSlots derives the bookable start times for date from the doctor's
// templates. Only active templates for the date's weekday contribute. A
// trailing partial slot is dropped. Times produced by overlapping templates
// appear once; the template with the earliest start (then lowest id) supplies
// fee and duration. Times matching a non-cancelled appointment are marked
// unavailable.
func GenerateSlots(date Date, templates []*AvailabilityTemplate, booked []*Appointment) []Slot {
	weekday := int(date.Weekday())

	matching := make([]*AvailabilityTemplate, 0, len(templates))
	for _, t := range templates {
		if t.IsActive && t.DayOfWeek == weekday && t.SlotDurationMinutes > 0 {
			matching = append(matching, t)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		if matching[i].StartTime != matching[j].StartTime {
			return matching[i].StartTime < matching[j].StartTime
		}
		return bytes.Compare(matching[i].ID[:], matching[j].ID[:]) < 0
	})

	byTime := make(map[TimeOfDay]Slot)
	for _, t := range matching {
		step := TimeOfDay(t.SlotDurationMinutes)
		for at := t.StartTime; at+step <= t.EndTime; at += step {
			if _, seen := byTime[at]; seen {
				continue
			}
			byTime[at] = Slot{
				Time:            at,
				IsAvailable:     true,
				Fee:             t.ConsultationFee,
				DurationMinutes: t.SlotDurationMinutes,
			}
		}
	}

	taken := make(map[TimeOfDay]bool, len(booked))
	for _, a := range booked {
		if a.Status != StatusCancelled && a.AppointmentDate == date {
			taken[a.AppointmentTime] = true
		}
	}

	slots := make([]Slot, 0, len(byTime))
	for at, s := range byTime {
		if taken[at] {
			s.IsAvailable = false
		}
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
	return slots
}

// findSlot returns the slot starting at t, if any.
func findSlot(slots []Slot, t TimeOfDay) (Slot, bool) {
	i := sort.Search(len(slots), func(i int) bool { return slots[i].Time >= t })
	if i < len(slots) && slots[i].Time == t {
		return slots[i], true
	}
	return Slot{}, false
}
