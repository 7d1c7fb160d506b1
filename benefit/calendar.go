package benefit

import "time"

// MonthSchedule counts the business days (Mon–Fri) and Saturdays of a
// period, skipping holidays. Recurring holidays match on month and day.
func MonthSchedule(p Period, holidays []Holiday) (businessDays, saturdays int) {
	off := make(map[time.Time]bool, len(holidays))
	for _, h := range holidays {
		d := h.Date
		if h.Recurring {
			d = time.Date(p.Year, d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		}
		off[time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)] = true
	}

	for day := p.Start(); !day.After(p.End()); day = day.AddDate(0, 0, 1) {
		if off[day] {
			continue
		}
		switch day.Weekday() {
		case time.Sunday:
		case time.Saturday:
			saturdays++
		default:
			businessDays++
		}
	}
	return businessDays, saturdays
}
