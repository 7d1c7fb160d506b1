/*
Package postgres provides a PostgreSQL-backed implementation of the storage
interfaces, for deployments running more than one API instance.

INTERFACES IMPLEMENTED:
  benefit.Store, benefit.EmployeeDirectory, benefit.AuditLog,
  benefit.HolidayCalendar, session.OperatorStore

  Same tables and semantics as store/sqlite. Concurrency control is left
  to the database: the version compare-and-swap is a single UPDATE and
  the unique indexes reject duplicate months and reused references.

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/benefits-engine/benefit"
	"github.com/warp/benefits-engine/session"
	"github.com/warp/benefits-engine/store/rowcodec"
)

const uniqueViolation = "23505"

type Store struct {
	db *pgxpool.Pool
}

// New connects, pings and migrates.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store := &Store{db: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS benefit_records (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		vr_json JSONB NOT NULL,
		vt_json JSONB NOT NULL,
		mobility_json JSONB NOT NULL,
		flash_json JSONB NOT NULL,
		flash_reference TEXT,
		notes TEXT NOT NULL DEFAULT '',
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at TIMESTAMPTZ,
		total_amount NUMERIC(14,2) NOT NULL,
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_key
		ON benefit_records(employee_id, year, month);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_reference
		ON benefit_records(flash_reference) WHERE flash_reference IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_records_status
		ON benefit_records(status);

	CREATE TABLE IF NOT EXISTS payment_references (
		reference TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS benefit_events (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		employee_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		at TIMESTAMPTZ NOT NULL,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL DEFAULT '',
		payload_json JSONB NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_events_key
		ON benefit_events(employee_id, year, month, seq);

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		employment_type TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		profile_json JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS operators (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'operator',
		password_hash TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date DATE NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE(date, name)
	);
	`)
	return err
}

// =============================================================================
// RECORDS
// =============================================================================

const recordColumns = `id, employee_id, year, month, status, payment_method,
	vr_json, vt_json, mobility_json, flash_json, flash_reference,
	notes, approved_by, approved_at, total_amount::text, version, created_at, updated_at`

func (s *Store) Get(ctx context.Context, key benefit.Key) (benefit.Record, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+recordColumns+" FROM benefit_records WHERE employee_id = $1 AND year = $2 AND month = $3",
		string(key.EmployeeID), key.Period.Year, int(key.Period.Month),
	)
	if err != nil {
		return benefit.Record{}, err
	}
	records, err := collectRecords(rows)
	if err != nil {
		return benefit.Record{}, err
	}
	if len(records) == 0 {
		return benefit.Record{}, &benefit.NotFoundError{Kind: "benefit record", ID: key.String()}
	}
	return records[0], nil
}

// Upsert writes the record and indexes its provider reference in one
// transaction.
func (s *Store) Upsert(ctx context.Context, r benefit.Record) (benefit.Record, error) {
	row, err := rowcodec.Encode(r)
	if err != nil {
		return benefit.Record{}, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return benefit.Record{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var saved benefit.Record
	if r.Version == 0 {
		saved, err = s.insert(ctx, tx, r, row)
	} else {
		saved, err = s.update(ctx, tx, r, row)
	}
	if err != nil {
		return benefit.Record{}, err
	}
	if row.FlashReference != nil {
		_, err := tx.Exec(ctx, `
			INSERT INTO payment_references (reference, employee_id, year, month, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (reference) DO NOTHING`,
			*row.FlashReference, row.EmployeeID, row.Year, row.Month, row.UpdatedAt,
		)
		if err != nil {
			return benefit.Record{}, fmt.Errorf("failed to index reference: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return benefit.Record{}, fmt.Errorf("failed to commit record: %w", err)
	}
	return saved, nil
}

func (s *Store) insert(ctx context.Context, tx pgx.Tx, r benefit.Record, row rowcodec.Row) (benefit.Record, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO benefit_records (id, employee_id, year, month, status, payment_method,
			vr_json, vt_json, mobility_json, flash_json, flash_reference,
			notes, approved_by, approved_at, total_amount, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15::text::numeric, 1, $16, $17)`,
		row.ID, row.EmployeeID, row.Year, row.Month, row.Status, row.PaymentMethod,
		row.VR, row.VT, row.Mobility, row.Flash, row.FlashReference,
		row.Notes, row.ApprovedBy, row.ApprovedAt, row.TotalAmount,
		row.CreatedAt, row.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "idx_records_key" {
		conflict := &benefit.ConflictError{Key: r.Key, Duplicate: true}
		if existing, getErr := s.Get(ctx, r.Key); getErr == nil {
			conflict.ActualVersion = existing.Version
		}
		return benefit.Record{}, conflict
	}
	if err != nil {
		return benefit.Record{}, fmt.Errorf("failed to insert record: %w", err)
	}

	saved := r.Clone()
	saved.Version = 1
	return saved, nil
}

func (s *Store) update(ctx context.Context, tx pgx.Tx, r benefit.Record, row rowcodec.Row) (benefit.Record, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE benefit_records SET
			status = $1, payment_method = $2,
			vr_json = $3, vt_json = $4, mobility_json = $5, flash_json = $6, flash_reference = $7,
			notes = $8, approved_by = $9, approved_at = $10, total_amount = $11::text::numeric,
			version = version + 1, updated_at = $12
		WHERE employee_id = $13 AND year = $14 AND month = $15 AND version = $16`,
		row.Status, row.PaymentMethod,
		row.VR, row.VT, row.Mobility, row.Flash, row.FlashReference,
		row.Notes, row.ApprovedBy, row.ApprovedAt, row.TotalAmount,
		row.UpdatedAt,
		row.EmployeeID, row.Year, row.Month, row.Version,
	)
	if err != nil {
		return benefit.Record{}, fmt.Errorf("failed to update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		current, err := s.Get(ctx, r.Key)
		if err != nil {
			return benefit.Record{}, err
		}
		return benefit.Record{}, &benefit.ConflictError{Key: r.Key, ExpectedVersion: r.Version, ActualVersion: current.Version}
	}

	saved := r.Clone()
	saved.Version = r.Version + 1
	return saved, nil
}

func (s *Store) ListByPeriod(ctx context.Context, p benefit.Period) ([]benefit.Record, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+recordColumns+" FROM benefit_records WHERE year = $1 AND month = $2 ORDER BY employee_id",
		p.Year, int(p.Month),
	)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *Store) ListByStatus(ctx context.Context, st benefit.Status) ([]benefit.Record, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+recordColumns+" FROM benefit_records WHERE status = $1 ORDER BY year, month, employee_id",
		st.String(),
	)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// FindByReference resolves current and superseded provider references.
func (s *Store) FindByReference(ctx context.Context, reference string) (benefit.Record, error) {
	var employeeID string
	var year, month int
	err := s.db.QueryRow(ctx,
		"SELECT employee_id, year, month FROM payment_references WHERE reference = $1",
		reference,
	).Scan(&employeeID, &year, &month)
	if errors.Is(err, pgx.ErrNoRows) {
		return benefit.Record{}, &benefit.NotFoundError{Kind: "payment reference", ID: reference}
	}
	if err != nil {
		return benefit.Record{}, err
	}
	return s.Get(ctx, benefit.NewKey(employeeID, year, time.Month(month)))
}

func collectRecords(rows pgx.Rows) ([]benefit.Record, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (benefit.Record, error) {
		var r rowcodec.Row
		if err := row.Scan(
			&r.ID, &r.EmployeeID, &r.Year, &r.Month, &r.Status, &r.PaymentMethod,
			&r.VR, &r.VT, &r.Mobility, &r.Flash, &r.FlashReference,
			&r.Notes, &r.ApprovedBy, &r.ApprovedAt, &r.TotalAmount, &r.Version, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return benefit.Record{}, err
		}
		return rowcodec.Decode(r)
	})
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) Append(ctx context.Context, e benefit.Event) error {
	payload, err := rowcodec.EncodePayload(e.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO benefit_events (id, employee_id, year, month, at, actor, action, from_status, to_status, payload_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, string(e.Key.EmployeeID), e.Key.Period.Year, int(e.Key.Period.Month),
		e.At, e.Actor, string(e.Action),
		rowcodec.StatusName(e.From), rowcodec.StatusName(e.To), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, key benefit.Key) ([]benefit.Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, at, actor, action, from_status, to_status, payload_json
		FROM benefit_events
		WHERE employee_id = $1 AND year = $2 AND month = $3
		ORDER BY seq`,
		string(key.EmployeeID), key.Period.Year, int(key.Period.Month),
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (benefit.Event, error) {
		e := benefit.Event{Key: key}
		var action, from, to string
		var payload []byte
		if err := row.Scan(&e.ID, &e.At, &e.Actor, &action, &from, &to, &payload); err != nil {
			return benefit.Event{}, err
		}
		e.Action = benefit.Action(action)
		e.From = rowcodec.ParseStatusName(from)
		e.To = rowcodec.ParseStatusName(to)
		var err error
		e.Payload, err = rowcodec.DecodePayload(payload)
		return e, err
	})
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, emp benefit.Employee) error {
	profile, err := json.Marshal(emp.Profile)
	if err != nil {
		return err
	}
	if emp.CreatedAt.IsZero() {
		emp.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO employees (id, first_name, last_name, email, department, employment_type, active, profile_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			department = EXCLUDED.department,
			employment_type = EXCLUDED.employment_type,
			active = EXCLUDED.active,
			profile_json = EXCLUDED.profile_json`,
		string(emp.ID), emp.FirstName, emp.LastName, emp.Email, emp.Department,
		string(emp.EmploymentType), emp.Active, profile, emp.CreatedAt,
	)
	return err
}

const employeeColumns = "id, first_name, last_name, email, department, employment_type, active, profile_json, created_at"

func (s *Store) GetEmployee(ctx context.Context, id benefit.EmployeeID) (benefit.Employee, error) {
	rows, err := s.db.Query(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = $1", string(id))
	if err != nil {
		return benefit.Employee{}, err
	}
	employees, err := collectEmployees(rows)
	if err != nil {
		return benefit.Employee{}, err
	}
	if len(employees) == 0 {
		return benefit.Employee{}, &benefit.NotFoundError{Kind: "employee", ID: string(id)}
	}
	return employees[0], nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]benefit.Employee, error) {
	rows, err := s.db.Query(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY first_name, last_name")
	if err != nil {
		return nil, err
	}
	return collectEmployees(rows)
}

func collectEmployees(rows pgx.Rows) ([]benefit.Employee, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (benefit.Employee, error) {
		var emp benefit.Employee
		var id, employmentType string
		var profile []byte
		if err := row.Scan(&id, &emp.FirstName, &emp.LastName, &emp.Email, &emp.Department,
			&employmentType, &emp.Active, &profile, &emp.CreatedAt); err != nil {
			return benefit.Employee{}, err
		}
		emp.ID = benefit.EmployeeID(id)
		emp.EmploymentType = benefit.EmploymentType(employmentType)
		if err := json.Unmarshal(profile, &emp.Profile); err != nil {
			return benefit.Employee{}, fmt.Errorf("decode profile of %s: %w", id, err)
		}
		return emp, nil
	})
}

// =============================================================================
// OPERATORS
// =============================================================================

func (s *Store) OperatorByEmail(ctx context.Context, email string) (session.Operator, error) {
	var op session.Operator
	err := s.db.QueryRow(ctx,
		"SELECT id, email, name, role, password_hash, created_at FROM operators WHERE email = $1",
		email,
	).Scan(&op.ID, &op.Email, &op.Name, &op.Role, &op.PasswordHash, &op.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.Operator{}, session.ErrOperatorNotFound
	}
	return op, err
}

func (s *Store) SaveOperator(ctx context.Context, op session.Operator) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO operators (id, email, name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			password_hash = EXCLUDED.password_hash`,
		op.ID, op.Email, op.Name, op.Role, op.PasswordHash, op.CreatedAt,
	)
	return err
}

// =============================================================================
// HOLIDAYS
// =============================================================================

// SaveHoliday upserts on (date, name) and returns the stored row, whose ID
// is the original one when the holiday already existed.
func (s *Store) SaveHoliday(ctx context.Context, h benefit.Holiday) (benefit.Holiday, error) {
	var saved benefit.Holiday
	err := s.db.QueryRow(ctx, `
		INSERT INTO holidays (id, date, name, recurring)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date, name) DO UPDATE SET recurring = EXCLUDED.recurring
		RETURNING id, date, name, recurring`,
		h.ID, h.Date, h.Name, h.Recurring,
	).Scan(&saved.ID, &saved.Date, &saved.Name, &saved.Recurring)
	if err != nil {
		return benefit.Holiday{}, err
	}
	return saved, nil
}

func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM holidays WHERE id = $1", id)
	return err
}

func (s *Store) HolidaysIn(ctx context.Context, p benefit.Period) ([]benefit.Holiday, error) {
	return s.queryHolidays(ctx, `
		SELECT id, date, name, recurring FROM holidays
		WHERE (NOT recurring AND EXTRACT(YEAR FROM date) = $1 AND EXTRACT(MONTH FROM date) = $2)
		   OR (recurring AND EXTRACT(MONTH FROM date) = $2)
		ORDER BY date`,
		p.Year, int(p.Month),
	)
}

func (s *Store) ListHolidays(ctx context.Context) ([]benefit.Holiday, error) {
	return s.queryHolidays(ctx, "SELECT id, date, name, recurring FROM holidays ORDER BY date")
}

func (s *Store) queryHolidays(ctx context.Context, query string, args ...any) ([]benefit.Holiday, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (benefit.Holiday, error) {
		var h benefit.Holiday
		err := row.Scan(&h.ID, &h.Date, &h.Name, &h.Recurring)
		return h, err
	})
}

// Reset clears all data except operators (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.Exec(ctx, "TRUNCATE benefit_events, payment_references, benefit_records, employees, holidays")
	return err
}
