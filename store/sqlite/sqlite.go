/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the benefit engine using
  SQLite. store/postgres implements the same interfaces for PostgreSQL
  with the same table layout.

INTERFACES IMPLEMENTED:
  benefit.Store:             Benefit records with optimistic versioning
  benefit.EmployeeDirectory: Employee lookup
  benefit.AuditLog:          Append-only transition history
  benefit.HolidayCalendar:   Holidays for business-day counting
  session.OperatorStore:     Back-office operators

KEY TABLES:
  benefit_records: One row per (employee_id, year, month), version column
  benefit_events:  Append-only audit log, never updated or deleted
  employees:       Employee directory with the benefit profile as JSON
  operators:       Back-office logins (bcrypt hashes)
  holidays:        Fixed and recurring holidays
  payment_references: Every provider reference a record was ever sent
                      under, so late callbacks for a superseded
                      submission still find their record

INDEXES:
  - idx_records_key (UNIQUE): Enforces one record per employee per month
  - idx_records_reference (UNIQUE, partial): Provider callback lookup
  - idx_records_status: Status listings and payment reconciliation
  - idx_events_key: History reads

VERSIONING:
  Updates are compare-and-swap on the version column:
    UPDATE ... SET version = version + 1 WHERE <key> AND version = ?
  Zero rows affected means somebody else won; the caller gets a
  ConflictError and nothing is written.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/benefits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := benefit.NewService(store, store, provider, store, logger)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - benefit/store.go: Interface definitions
  - benefit/store/memory.go: In-memory implementation for testing
  - store/rowcodec: Record ↔ column mapping shared with postgres
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/benefits-engine/benefit"
	"github.com/warp/benefits-engine/session"
	"github.com/warp/benefits-engine/store/rowcodec"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Benefit records (one per employee per month)
	CREATE TABLE IF NOT EXISTS benefit_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		vr_json TEXT NOT NULL,
		vt_json TEXT NOT NULL,
		mobility_json TEXT NOT NULL,
		flash_json TEXT NOT NULL,
		flash_reference TEXT,
		notes TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at TEXT,
		total_amount TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: exactly one record per employee per month
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_key
		ON benefit_records(employee_id, year, month);

	-- Provider callbacks look records up by reference
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_reference
		ON benefit_records(flash_reference) WHERE flash_reference IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_records_status
		ON benefit_records(status);
	CREATE INDEX IF NOT EXISTS idx_records_period
		ON benefit_records(year, month, employee_id);

	-- Provider references, kept after a record is re-submitted
	CREATE TABLE IF NOT EXISTS payment_references (
		reference TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS benefit_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		at TEXT NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL DEFAULT '',
		payload_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_events_key
		ON benefit_events(employee_id, year, month, seq);

	-- Employees
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		employment_type TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		profile_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);

	-- Operators (back-office logins)
	CREATE TABLE IF NOT EXISTS operators (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'operator',
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Holidays
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_date
		ON holidays(date);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_holidays_unique
		ON holidays(date, name);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE (benefit.Store interface)
// =============================================================================

const recordColumns = `id, employee_id, year, month, status, payment_method,
	vr_json, vt_json, mobility_json, flash_json, flash_reference,
	notes, approved_by, approved_at, total_amount, version, created_at, updated_at`

// Get returns the record for key.
func (s *Store) Get(ctx context.Context, key benefit.Key) (benefit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getRecord(ctx, s.db, key)
}

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) getRecord(ctx context.Context, q dbtx, key benefit.Key) (benefit.Record, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM benefit_records WHERE employee_id = ? AND year = ? AND month = ?",
		string(key.EmployeeID), key.Period.Year, int(key.Period.Month),
	)
	if err != nil {
		return benefit.Record{}, err
	}
	records, err := scanRecords(rows)
	if err != nil {
		return benefit.Record{}, err
	}
	if len(records) == 0 {
		return benefit.Record{}, &benefit.NotFoundError{Kind: "benefit record", ID: key.String()}
	}
	return records[0], nil
}

// Upsert creates (Version 0) or compare-and-swaps (Version > 0) a record.
// The record row and its provider reference are written in one
// transaction.
func (s *Store) Upsert(ctx context.Context, r benefit.Record) (benefit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := rowcodec.Encode(r)
	if err != nil {
		return benefit.Record{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return benefit.Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var saved benefit.Record
	if r.Version == 0 {
		saved, err = s.insertRecord(ctx, tx, r, row)
	} else {
		saved, err = s.updateRecord(ctx, tx, r, row)
	}
	if err != nil {
		return benefit.Record{}, err
	}
	if err := indexReference(ctx, tx, row); err != nil {
		return benefit.Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return benefit.Record{}, fmt.Errorf("failed to commit record: %w", err)
	}
	return saved, nil
}

// indexReference remembers the record's current provider reference.
// Existing entries are never rewritten.
func indexReference(ctx context.Context, tx *sql.Tx, row rowcodec.Row) error {
	if row.FlashReference == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payment_references (reference, employee_id, year, month, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(reference) DO NOTHING`,
		*row.FlashReference, row.EmployeeID, row.Year, row.Month, formatTime(row.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to index reference: %w", err)
	}
	return nil
}

func (s *Store) insertRecord(ctx context.Context, tx *sql.Tx, r benefit.Record, row rowcodec.Row) (benefit.Record, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO benefit_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		row.ID, row.EmployeeID, row.Year, row.Month, row.Status, row.PaymentMethod,
		string(row.VR), string(row.VT), string(row.Mobility), string(row.Flash), nullStringPtr(row.FlashReference),
		row.Notes, row.ApprovedBy, formatTimePtr(row.ApprovedAt), row.TotalAmount,
		formatTime(row.CreatedAt), formatTime(row.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && isKeyUniquenessError(err) {
			existing, getErr := s.getRecord(ctx, tx, r.Key)
			if getErr != nil {
				return benefit.Record{}, &benefit.ConflictError{Key: r.Key, Duplicate: true}
			}
			return benefit.Record{}, &benefit.ConflictError{Key: r.Key, ActualVersion: existing.Version, Duplicate: true}
		}
		return benefit.Record{}, fmt.Errorf("failed to insert record: %w", err)
	}

	saved := r.Clone()
	saved.Version = 1
	return saved, nil
}

func (s *Store) updateRecord(ctx context.Context, tx *sql.Tx, r benefit.Record, row rowcodec.Row) (benefit.Record, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE benefit_records SET
			status = ?, payment_method = ?,
			vr_json = ?, vt_json = ?, mobility_json = ?, flash_json = ?, flash_reference = ?,
			notes = ?, approved_by = ?, approved_at = ?, total_amount = ?,
			version = version + 1, updated_at = ?
		WHERE employee_id = ? AND year = ? AND month = ? AND version = ?`,
		row.Status, row.PaymentMethod,
		string(row.VR), string(row.VT), string(row.Mobility), string(row.Flash), nullStringPtr(row.FlashReference),
		row.Notes, row.ApprovedBy, formatTimePtr(row.ApprovedAt), row.TotalAmount,
		formatTime(row.UpdatedAt),
		row.EmployeeID, row.Year, row.Month, row.Version,
	)
	if err != nil {
		return benefit.Record{}, fmt.Errorf("failed to update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return benefit.Record{}, err
	}
	if n == 0 {
		current, err := s.getRecord(ctx, tx, r.Key)
		if err != nil {
			return benefit.Record{}, err
		}
		return benefit.Record{}, &benefit.ConflictError{Key: r.Key, ExpectedVersion: r.Version, ActualVersion: current.Version}
	}

	saved := r.Clone()
	saved.Version = r.Version + 1
	return saved, nil
}

// ListByPeriod returns the period's records ordered by employee.
func (s *Store) ListByPeriod(ctx context.Context, p benefit.Period) ([]benefit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM benefit_records WHERE year = ? AND month = ? ORDER BY employee_id ASC",
		p.Year, int(p.Month),
	)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// ListByStatus returns records in a status ordered by period, then employee.
func (s *Store) ListByStatus(ctx context.Context, st benefit.Status) ([]benefit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM benefit_records WHERE status = ? ORDER BY year, month, employee_id",
		st.String(),
	)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// FindByReference returns the record a provider reference was issued for,
// including references the record has since been re-submitted past.
func (s *Store) FindByReference(ctx context.Context, reference string) (benefit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var employeeID string
	var year, month int
	err := s.db.QueryRowContext(ctx,
		"SELECT employee_id, year, month FROM payment_references WHERE reference = ?",
		reference,
	).Scan(&employeeID, &year, &month)
	if errors.Is(err, sql.ErrNoRows) {
		return benefit.Record{}, &benefit.NotFoundError{Kind: "payment reference", ID: reference}
	}
	if err != nil {
		return benefit.Record{}, err
	}
	return s.getRecord(ctx, s.db, benefit.NewKey(employeeID, year, time.Month(month)))
}

func scanRecords(rows *sql.Rows) ([]benefit.Record, error) {
	defer rows.Close()

	var records []benefit.Record
	for rows.Next() {
		var row rowcodec.Row
		var vr, vt, mobility, flash string
		var reference, approvedAt sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(
			&row.ID, &row.EmployeeID, &row.Year, &row.Month, &row.Status, &row.PaymentMethod,
			&vr, &vt, &mobility, &flash, &reference,
			&row.Notes, &row.ApprovedBy, &approvedAt, &row.TotalAmount, &row.Version, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		row.VR, row.VT, row.Mobility, row.Flash = []byte(vr), []byte(vt), []byte(mobility), []byte(flash)
		if reference.Valid {
			row.FlashReference = &reference.String
		}
		row.ApprovedAt = parseTimePtr(approvedAt)
		row.CreatedAt = parseTime(createdAt)
		row.UpdatedAt = parseTime(updatedAt)

		r, err := rowcodec.Decode(row)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// AUDIT LOG (benefit.AuditLog interface)
// =============================================================================

// Append adds an event. Events are never updated or deleted.
func (s *Store) Append(ctx context.Context, e benefit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := rowcodec.EncodePayload(e.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO benefit_events (id, employee_id, year, month, at, actor, action, from_status, to_status, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Key.EmployeeID), e.Key.Period.Year, int(e.Key.Period.Month),
		formatTime(e.At), e.Actor, string(e.Action),
		rowcodec.StatusName(e.From), rowcodec.StatusName(e.To), string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// History returns a record's events in append order.
func (s *Store) History(ctx context.Context, key benefit.Key) ([]benefit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, actor, action, from_status, to_status, payload_json
		FROM benefit_events
		WHERE employee_id = ? AND year = ? AND month = ?
		ORDER BY seq ASC`,
		string(key.EmployeeID), key.Period.Year, int(key.Period.Month),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []benefit.Event
	for rows.Next() {
		e := benefit.Event{Key: key}
		var at, action, from, to, payload string
		if err := rows.Scan(&e.ID, &at, &e.Actor, &action, &from, &to, &payload); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		e.Action = benefit.Action(action)
		e.From = rowcodec.ParseStatusName(from)
		e.To = rowcodec.ParseStatusName(to)
		if e.Payload, err = rowcodec.DecodePayload([]byte(payload)); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// EMPLOYEE STORE (benefit.EmployeeDirectory interface)
// =============================================================================

// SaveEmployee inserts or updates an employee.
func (s *Store) SaveEmployee(ctx context.Context, emp benefit.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, err := json.Marshal(emp.Profile)
	if err != nil {
		return err
	}
	if emp.CreatedAt.IsZero() {
		emp.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO employees (id, first_name, last_name, email, department, employment_type, active, profile_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			department = excluded.department,
			employment_type = excluded.employment_type,
			active = excluded.active,
			profile_json = excluded.profile_json
	`

	_, err = s.db.ExecContext(ctx, query,
		string(emp.ID), emp.FirstName, emp.LastName, emp.Email, emp.Department,
		string(emp.EmploymentType), emp.Active, string(profile),
		formatTime(emp.CreatedAt),
	)
	return err
}

const employeeColumns = "id, first_name, last_name, email, department, employment_type, active, profile_json, created_at"

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id benefit.EmployeeID) (benefit.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", string(id))
	if err != nil {
		return benefit.Employee{}, err
	}
	employees, err := scanEmployees(rows)
	if err != nil {
		return benefit.Employee{}, err
	}
	if len(employees) == 0 {
		return benefit.Employee{}, &benefit.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return employees[0], nil
}

// ListEmployees returns all employees ordered by name.
func (s *Store) ListEmployees(ctx context.Context) ([]benefit.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY first_name, last_name")
	if err != nil {
		return nil, err
	}
	return scanEmployees(rows)
}

func scanEmployees(rows *sql.Rows) ([]benefit.Employee, error) {
	defer rows.Close()

	var employees []benefit.Employee
	for rows.Next() {
		var emp benefit.Employee
		var id, employmentType, profile, createdAt string
		if err := rows.Scan(&id, &emp.FirstName, &emp.LastName, &emp.Email, &emp.Department,
			&employmentType, &emp.Active, &profile, &createdAt); err != nil {
			return nil, err
		}
		emp.ID = benefit.EmployeeID(id)
		emp.EmploymentType = benefit.EmploymentType(employmentType)
		if err := json.Unmarshal([]byte(profile), &emp.Profile); err != nil {
			return nil, fmt.Errorf("decode profile of %s: %w", id, err)
		}
		emp.CreatedAt = parseTime(createdAt)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// OPERATOR STORE (session.OperatorStore interface)
// =============================================================================

func (s *Store) OperatorByEmail(ctx context.Context, email string) (session.Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var op session.Operator
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, name, role, password_hash, created_at FROM operators WHERE email = ?",
		email,
	).Scan(&op.ID, &op.Email, &op.Name, &op.Role, &op.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Operator{}, session.ErrOperatorNotFound
	}
	if err != nil {
		return session.Operator{}, err
	}
	op.CreatedAt = parseTime(createdAt)
	return op, nil
}

func (s *Store) SaveOperator(ctx context.Context, op session.Operator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (id, email, name, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			role = excluded.role,
			password_hash = excluded.password_hash`,
		op.ID, op.Email, op.Name, op.Role, op.PasswordHash, formatTime(op.CreatedAt),
	)
	return err
}

// =============================================================================
// HOLIDAY CALENDAR (benefit.HolidayCalendar interface)
// =============================================================================

// SaveHoliday saves a holiday to the database. A holiday with the same
// date and name is updated in place and keeps its ID; the stored holiday
// is returned.
func (s *Store) SaveHoliday(ctx context.Context, h benefit.Holiday) (benefit.Holiday, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO holidays (id, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date, name) DO UPDATE SET
			recurring = excluded.recurring
	`

	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.Date.Format("2006-01-02"),
		h.Name,
		h.Recurring,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return benefit.Holiday{}, err
	}

	stored, err := s.queryHolidays(ctx,
		"SELECT id, date, name, recurring FROM holidays WHERE date = ? AND name = ?",
		h.Date.Format("2006-01-02"), h.Name,
	)
	if err != nil {
		return benefit.Holiday{}, err
	}
	if len(stored) == 0 {
		return benefit.Holiday{}, &benefit.NotFoundError{Kind: "holiday", ID: h.ID}
	}
	return stored[0], nil
}

// DeleteHoliday deletes a holiday by ID.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	return err
}

// HolidaysIn returns the holidays falling in a period: fixed ones dated
// in that month and recurring ones on any year's same month.
func (s *Store) HolidaysIn(ctx context.Context, p benefit.Period) ([]benefit.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, date, name, recurring
		FROM holidays
		WHERE (recurring = FALSE AND strftime('%Y-%m', date) = ?)
		   OR (recurring = TRUE AND strftime('%m', date) = ?)
		ORDER BY date ASC
	`
	return s.queryHolidays(ctx, query, p.String(), fmt.Sprintf("%02d", int(p.Month)))
}

// ListHolidays returns all holidays (for admin UI).
func (s *Store) ListHolidays(ctx context.Context) ([]benefit.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryHolidays(ctx, "SELECT id, date, name, recurring FROM holidays ORDER BY date ASC")
}

func (s *Store) queryHolidays(ctx context.Context, query string, args ...any) ([]benefit.Holiday, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []benefit.Holiday
	for rows.Next() {
		var h benefit.Holiday
		var dateStr string
		if err := rows.Scan(&h.ID, &dateStr, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		h.Date, _ = time.Parse("2006-01-02", dateStr)
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo). Operators are kept.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"benefit_events", "payment_references", "benefit_records", "employees", "holidays"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isKeyUniquenessError tells a second record for the same month apart
// from a reused provider reference.
func isKeyUniquenessError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "benefit_records.employee_id")
}
