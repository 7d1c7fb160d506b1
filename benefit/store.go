/*
store.go - Persistence interfaces for benefit records

PURPOSE:
  Defines the boundary between the workflow and the database. Records are
  keyed by (employee, month, year); exactly one record may exist per key.

KEY INTERFACES:
  Store:             Record persistence with optimistic versioning
  EmployeeDirectory: Employee lookup (weak reference, never owned)
  AuditLog:          Append-only history of every transition
  HolidayCalendar:   Holidays used to count business days

VERSIONING:
  Upsert() uses Record.Version as the expected stored version:
  - Version == 0: create. Fails with ConflictError{Duplicate} if the key exists.
  - Version  > 0: update. Fails with ConflictError if the stored version differs.
  On success the stored record is returned with Version incremented.
  There is no Delete. Cancelled is the terminal soft state.

IMPLEMENTATIONS:
  - benefit/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go:  SQLite
  - store/postgres/postgres.go: PostgreSQL (pgx)
*/
package benefit

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Get returns the record for key or a NotFoundError.
	Get(ctx context.Context, key Key) (Record, error)

	// Upsert creates or updates a record, see VERSIONING above.
	Upsert(ctx context.Context, r Record) (Record, error)

	// ListByPeriod returns the period's records ordered by EmployeeID ascending.
	ListByPeriod(ctx context.Context, p Period) ([]Record, error)

	// ListByStatus returns records in the given status ordered by period,
	// then EmployeeID.
	ListByStatus(ctx context.Context, s Status) ([]Record, error)

	// FindByReference returns the record holding a provider reference.
	FindByReference(ctx context.Context, reference string) (Record, error)
}

// =============================================================================
// EMPLOYEE DIRECTORY
// =============================================================================

type EmployeeDirectory interface {
	GetEmployee(ctx context.Context, id EmployeeID) (Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// =============================================================================
// AUDIT LOG - Separate from records, tracks who did what when
// =============================================================================

type Action string

const (
	ActionCreated          Action = "created"
	ActionCalculated       Action = "calculated"
	ActionDeductionAdded   Action = "deduction_added"
	ActionScheduleAttached Action = "schedule_attached"
	ActionApproved         Action = "approved"
	ActionSubmitted        Action = "submitted"
	ActionSubmissionFailed Action = "submission_failed"
	ActionPaymentConfirmed Action = "payment_confirmed"
	ActionPaymentFailed    Action = "payment_failed"
	ActionCallbackMismatch Action = "callback_mismatch"
	ActionCancelled        Action = "cancelled"
)

// Event is one audit entry.
type Event struct {
	ID      string
	Key     Key
	At      time.Time
	Actor   string
	Action  Action
	From    Status
	To      Status
	Payload map[string]string
}

type AuditLog interface {
	Append(ctx context.Context, e Event) error
	History(ctx context.Context, key Key) ([]Event, error)
}

// =============================================================================
// HOLIDAY CALENDAR
// =============================================================================

type Holiday struct {
	ID        string
	Date      time.Time
	Name      string
	Recurring bool // same month/day every year
}

type HolidayCalendar interface {
	HolidaysIn(ctx context.Context, p Period) ([]Holiday, error)
}
