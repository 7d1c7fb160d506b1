// Package store provides in-memory implementations of the benefit
// persistence interfaces.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/benefits-engine/benefit"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements benefit.Store, benefit.EmployeeDirectory,
// benefit.AuditLog and benefit.HolidayCalendar.
type Memory struct {
	mu         sync.RWMutex
	records    map[benefit.Key]benefit.Record
	references map[string]benefit.Key
	employees  map[benefit.EmployeeID]benefit.Employee
	events     map[benefit.Key][]benefit.Event
	holidays   []benefit.Holiday
}

func NewMemory() *Memory {
	return &Memory{
		records:    make(map[benefit.Key]benefit.Record),
		references: make(map[string]benefit.Key),
		employees:  make(map[benefit.EmployeeID]benefit.Employee),
		events:     make(map[benefit.Key][]benefit.Event),
	}
}

// =============================================================================
// RECORDS
// =============================================================================

func (m *Memory) Get(_ context.Context, key benefit.Key) (benefit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[key]
	if !ok {
		return benefit.Record{}, &benefit.NotFoundError{Kind: "benefit record", ID: key.String()}
	}
	return r.Clone(), nil
}

// Upsert creates (Version 0) or updates (Version == stored version).
func (m *Memory) Upsert(_ context.Context, r benefit.Record) (benefit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, exists := m.records[r.Key]
	switch {
	case r.Version == 0 && exists:
		return benefit.Record{}, &benefit.ConflictError{Key: r.Key, ActualVersion: stored.Version, Duplicate: true}
	case r.Version != 0 && !exists:
		return benefit.Record{}, &benefit.NotFoundError{Kind: "benefit record", ID: r.Key.String()}
	case r.Version != 0 && stored.Version != r.Version:
		return benefit.Record{}, &benefit.ConflictError{Key: r.Key, ExpectedVersion: r.Version, ActualVersion: stored.Version}
	}

	saved := r.Clone()
	saved.Version = r.Version + 1
	m.records[r.Key] = saved
	// Superseded references stay indexed so late callbacks find the record.
	if ref := saved.Flash.Reference; ref != "" {
		if _, known := m.references[ref]; !known {
			m.references[ref] = r.Key
		}
	}
	return saved.Clone(), nil
}

func (m *Memory) ListByPeriod(_ context.Context, p benefit.Period) ([]benefit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []benefit.Record
	for k, r := range m.records {
		if k.Period == p {
			result = append(result, r.Clone())
		}
	}
	sortRecords(result)
	return result, nil
}

func (m *Memory) ListByStatus(_ context.Context, s benefit.Status) ([]benefit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []benefit.Record
	for _, r := range m.records {
		if r.Status == s {
			result = append(result, r.Clone())
		}
	}
	sortRecords(result)
	return result, nil
}

func (m *Memory) FindByReference(_ context.Context, reference string) (benefit.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.references[reference]
	if !ok {
		return benefit.Record{}, &benefit.NotFoundError{Kind: "payment reference", ID: reference}
	}
	return m.records[key].Clone(), nil
}

// sortRecords orders by period, then employee.
func sortRecords(rs []benefit.Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Key.Period != rs[j].Key.Period {
			return rs[i].Key.Period.Before(rs[j].Key.Period)
		}
		return rs[i].Key.EmployeeID < rs[j].Key.EmployeeID
	})
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e benefit.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *Memory) GetEmployee(_ context.Context, id benefit.EmployeeID) (benefit.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.employees[id]
	if !ok {
		return benefit.Employee{}, &benefit.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return e, nil
}

func (m *Memory) ListEmployees(_ context.Context) ([]benefit.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]benefit.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (m *Memory) Append(_ context.Context, e benefit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.Key] = append(m.events[e.Key], e)
	return nil
}

// History returns a record's events in append order.
func (m *Memory) History(_ context.Context, key benefit.Key) ([]benefit.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]benefit.Event, len(m.events[key]))
	copy(result, m.events[key])
	return result, nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

// SaveHoliday is unique on (date, name) like the SQL stores: a holiday
// matching an existing one updates it and keeps the existing ID.
func (m *Memory) SaveHoliday(_ context.Context, h benefit.Holiday) (benefit.Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.holidays {
		existing := m.holidays[i]
		if sameDay(existing.Date, h.Date) && existing.Name == h.Name {
			m.holidays[i].Recurring = h.Recurring
			return m.holidays[i], nil
		}
	}
	m.holidays = append(m.holidays, h)
	return h, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (m *Memory) DeleteHoliday(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.holidays[:0]
	for _, h := range m.holidays {
		if h.ID != id {
			kept = append(kept, h)
		}
	}
	m.holidays = kept
	return nil
}

func (m *Memory) HolidaysIn(_ context.Context, p benefit.Period) ([]benefit.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []benefit.Holiday
	for _, h := range m.holidays {
		if h.Date.Month() != p.Month {
			continue
		}
		if h.Recurring || h.Date.Year() == p.Year {
			result = append(result, h)
		}
	}
	return result, nil
}

func (m *Memory) ListHolidays(_ context.Context) ([]benefit.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]benefit.Holiday(nil), m.holidays...), nil
}

// Reset drops everything.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[benefit.Key]benefit.Record)
	m.references = make(map[string]benefit.Key)
	m.employees = make(map[benefit.EmployeeID]benefit.Employee)
	m.events = make(map[benefit.Key][]benefit.Event)
	m.holidays = nil
	return nil
}
