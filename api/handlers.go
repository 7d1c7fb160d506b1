/*
handlers.go - HTTP API handlers for the benefit lifecycle

PURPOSE:
  Exposes the benefit workflow via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to benefit.Service.

ENDPOINTS:
  Auth:
    POST   /api/auth/login                 Issue a session token
    POST   /api/auth/logout                Revoke the caller's token

  Benefits:
    GET    /api/benefits?month=&year=&status=        List records
    POST   /api/benefits                             Create a Pending record
    GET    /api/benefits/{employeeId}/{year}/{month} Get one record
    GET    /api/benefits/{employeeId}/{year}/{month}/history  Audit trail
    POST   /api/benefits/calculate                   Calculate / recalculate
    POST   /api/benefits/deduction                   Add a deduction
    POST   /api/benefits/approve                     Approve a batch of records
    POST   /api/benefits/cancel                      Cancel a batch of records
    POST   /api/benefits/send-to-flash               Hand approved records to Flash
    POST   /api/benefits/flash/callback              Flash webhook (signed)
    POST   /api/benefits/{employeeId}/{year}/{month}/schedule  Upload work schedule
    GET    /api/benefits/statistics/{month}/{year}   Period statistics
    GET    /api/benefits/calendar/{month}/{year}     Business days of a month

  Employees / Holidays:
    GET    /api/employees, POST /api/employees, GET /api/employees/{id}
    GET    /api/holidays, POST /api/holidays, DELETE /api/holidays/{id}

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store:    Database access (records, employees, holidays, audit)
  - Service:  The lifecycle; every record mutation goes through it
  - Factory:  JSON to Configuration conversion and request validation
  - Sessions: Token checks; the session's email is the actor of a change

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags via the factory)
  3. Call benefit.Service
  4. Serialize response
  5. Map errors (see writeFailure)

ERROR HANDLING:
  Errors are returned as {"error", "code", "details"}:
  - 400 validation:    ValidationError, names the field
  - 401 unauthorized:  Missing, expired or revoked token; bad webhook signature
  - 404 not_found:     Record, employee or reference unknown
  - 409 invalid_state: Transition not allowed from the current status
  - 409 conflict:      Duplicate create or concurrent update; refetch and retry
  - 413 too_large:     Schedule upload over filestore.MaxScheduleSize
  - 502 provider:      Flash refused or timed out
  - 500 internal:      Anything else

  Batch endpoints (approve, cancel, send-to-flash) answer 200 with
  per-record failures instead of failing the whole request.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/warp/benefits-engine/benefit"
	"github.com/warp/benefits-engine/factory"
	"github.com/warp/benefits-engine/filestore"
	"github.com/warp/benefits-engine/flash"
	"github.com/warp/benefits-engine/session"
	"go.uber.org/zap"
)

const maxJSONBody = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the persistence the API needs beyond benefit.Store. Both SQL
// stores and the in-memory store satisfy it.
type Backend interface {
	benefit.Store
	benefit.EmployeeDirectory
	benefit.AuditLog
	benefit.HolidayCalendar

	SaveEmployee(ctx context.Context, e benefit.Employee) error
	SaveHoliday(ctx context.Context, h benefit.Holiday) (benefit.Holiday, error)
	DeleteHoliday(ctx context.Context, id string) error
	ListHolidays(ctx context.Context) ([]benefit.Holiday, error)
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    Backend
	Service  *benefit.Service
	Reporter *benefit.Reporter
	Factory  *factory.ConfigurationFactory
	Sessions *session.Manager
	Files    filestore.Store
	Logger   *zap.Logger

	// WebhookSecret signs Flash callbacks. Empty refuses every callback.
	WebhookSecret string

	// SendTimeout bounds each provider submission of a batch.
	SendTimeout time.Duration

	// DevMode exposes the demo scenarios.
	DevMode bool

	Now func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over store and the service built on it.
func NewHandler(store Backend, svc *benefit.Service, sessions *session.Manager, files filestore.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:       store,
		Service:     svc,
		Reporter:    benefit.NewReporter(store),
		Factory:     factory.NewConfigurationFactory(),
		Sessions:    sessions,
		Files:       files,
		Logger:      logger,
		SendTimeout: flash.DefaultTimeout,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// Health answers liveness checks and pings the database when it can.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "Database unreachable", nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Login checks credentials and returns a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess, err := h.Sessions.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, session.ErrUnauthorized) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
		return
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	h.Logger.Info("operator logged in", zap.String("operator", sess.Email))
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		Operator:  OperatorDTO{ID: sess.OperatorID, Email: sess.Email, Name: sess.Name, Role: sess.Role},
	})
}

// Logout revokes the caller's token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())
	if err := h.Sessions.Logout(r.Context(), sess); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireSession rejects requests without a valid token. A refused token
// is invalidated so the client cannot keep replaying it.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		sess, err := h.Sessions.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, session.ErrUnauthorized) {
				h.writeFailure(w, r, err)
				return
			}
			if token != "" {
				if ierr := h.Sessions.Invalidate(r.Context(), token); ierr != nil {
					h.Logger.Warn("token invalidation failed", zap.Error(ierr))
				}
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), sess)))
	})
}

// actor names who performs a change.
func actor(r *http.Request) string {
	if sess, ok := session.FromContext(r.Context()); ok {
		return sess.Email
	}
	return "system"
}

// =============================================================================
// BENEFIT HANDLERS
// =============================================================================

// ListBenefits returns the records of a period and/or status. Without
// filters it lists the current month.
func (h *Handler) ListBenefits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f benefit.Filter

	if q.Get("month") != "" || q.Get("year") != "" {
		p, err := h.parsePeriod(q.Get("month"), q.Get("year"))
		if err != nil {
			h.writeFailure(w, r, err)
			return
		}
		f.Period = &p
	}
	if name := q.Get("status"); name != "" {
		st, err := benefit.ParseStatus(name)
		if err != nil {
			h.writeFailure(w, r, err)
			return
		}
		f.Status = &st
	}
	if f.Period == nil && f.Status == nil {
		now := h.Now()
		p := benefit.NewPeriod(now.Year(), now.Month())
		f.Period = &p
	}

	records, err := h.Service.List(r.Context(), f)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(records))
}

// GetBenefit returns one record.
func (h *Handler) GetBenefit(w http.ResponseWriter, r *http.Request) {
	key, err := h.pathKey(r)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	rec, err := h.Service.Get(r.Context(), key)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// GetHistory returns the audit trail of one record, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	key, err := h.pathKey(r)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	events, err := h.Service.History(r.Context(), key)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = toEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateBenefit stores a Pending record. Without a configuration the
// employee's profile is used.
func (h *Handler) CreateBenefit(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	key := req.key()

	var method benefit.PaymentMethod
	if req.PaymentMethod != "" {
		m, err := benefit.ParsePaymentMethod(req.PaymentMethod)
		if err != nil {
			h.writeFailure(w, r, err)
			return
		}
		method = m
	}

	cfg, err := h.configuration(ctx, key, req.Configuration)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	rec, err := h.Service.Create(ctx, key, cfg, method, req.Notes, actor(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(rec))
}

// CalculateBenefit runs the calculation. A configuration in the body
// replaces the stored one; a missing record is created from the profile.
func (h *Handler) CalculateBenefit(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	key := req.key()

	var cfg *benefit.Configuration
	switch _, err := h.Service.Get(ctx, key); {
	case req.Configuration != nil || benefit.IsNotFound(err):
		c, err := h.configuration(ctx, key, req.Configuration)
		if err != nil {
			h.writeFailure(w, r, err)
			return
		}
		cfg = &c
	case err != nil:
		h.writeFailure(w, r, err)
		return
	}

	rec, err := h.Service.Calculate(ctx, key, cfg, actor(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// AddDeduction appends a deduction to the VR or VT leg.
func (h *Handler) AddDeduction(w http.ResponseWriter, r *http.Request) {
	var req DeductionRequest
	if !h.decode(w, r, &req) {
		return
	}

	dtype, err := benefit.ParseDeductionType(req.Type)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	d := benefit.Deduction{Amount: req.Amount, Reason: req.Reason, Type: dtype}
	if req.Date != "" {
		// Format already checked by the datetime tag.
		d.Date, _ = time.Parse("2006-01-02", req.Date)
	}

	rec, err := h.Service.AddDeduction(r.Context(), req.key(), benefit.Leg(req.Leg), d, actor(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// ApproveBenefits approves each named record independently.
func (h *Handler) ApproveBenefits(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, h.Service.Approve)
}

// CancelBenefits cancels each named record independently.
func (h *Handler) CancelBenefits(w http.ResponseWriter, r *http.Request) {
	h.batch(w, r, h.Service.Cancel)
}

func (h *Handler) batch(w http.ResponseWriter, r *http.Request, op func(context.Context, benefit.Key, string) (benefit.Record, error)) {
	var req KeysRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp := BatchResponse{Succeeded: []RecordDTO{}, Failed: []KeyFailureDTO{}}
	for _, key := range req.keys() {
		rec, err := op(r.Context(), key, actor(r))
		if err != nil {
			resp.Failed = append(resp.Failed, keyFailure(key, err))
			continue
		}
		resp.Succeeded = append(resp.Succeeded, toRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// SendToFlash hands approved records to the payment provider.
func (h *Handler) SendToFlash(w http.ResponseWriter, r *http.Request) {
	var req KeysRequest
	if !h.decode(w, r, &req) {
		return
	}

	result := h.Service.SendToProvider(r.Context(), req.keys(), h.SendTimeout)

	resp := SendResponse{Submitted: []SubmissionDTO{}, Failed: []KeyFailureDTO{}}
	for _, s := range result.Submitted {
		resp.Submitted = append(resp.Submitted, SubmissionDTO{
			EmployeeID: string(s.Key.EmployeeID),
			Year:       s.Key.Period.Year,
			Month:      int(s.Key.Period.Month),
			Reference:  s.Reference,
		})
	}
	for _, f := range result.Failed {
		resp.Failed = append(resp.Failed, keyFailure(f.Key, f.Err))
	}
	writeJSON(w, http.StatusOK, resp)
}

// FlashCallback applies a signed settlement notice from Flash.
func (h *Handler) FlashCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "Unreadable body", nil)
		return
	}
	if !flash.VerifySignature(body, r.Header.Get(flash.SignatureHeader), h.WebhookSecret) {
		h.Logger.Warn("flash callback with bad signature", zap.String("remote", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "invalid_signature", "Invalid signature", nil)
		return
	}

	ev, state, err := flash.ParseEvent(body)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	var outcome benefit.CallbackOutcome
	if state == benefit.ProviderCompleted {
		outcome, err = h.Service.ConfirmPayment(r.Context(), ev.Reference)
	} else {
		outcome, err = h.Service.FailPayment(r.Context(), ev.Reference, ev.Reason)
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CallbackResponse{
		EmployeeID: string(outcome.Key.EmployeeID),
		Year:       outcome.Key.Period.Year,
		Month:      int(outcome.Key.Period.Month),
		Reference:  outcome.Reference,
		Applied:    outcome.Applied,
		Mismatch:   outcome.Mismatch,
	})
}

// UploadSchedule stores a work schedule and attaches it to the VR leg.
// Multipart form, field "file".
func (h *Handler) UploadSchedule(w http.ResponseWriter, r *http.Request) {
	if h.Files == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "File uploads are not configured", nil)
		return
	}
	key, err := h.pathKey(r)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	ctx := r.Context()

	// Refuse before storing bytes that could never be attached.
	rec, err := h.Service.Get(ctx, key)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if rec.Status.Terminal() {
		h.writeFailure(w, r, &benefit.InvalidStateError{
			Key: key, Operation: "attach schedule to", From: rec.Status,
			Allowed: []benefit.Status{benefit.StatusPending, benefit.StatusCalculated, benefit.StatusApproved},
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, filestore.MaxScheduleSize+maxJSONBody)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.writeFailure(w, r, fmt.Errorf("%w: request body over %d bytes", filestore.ErrTooLarge, tooBig.Limit))
			return
		}
		h.writeFailure(w, r, &benefit.ValidationError{Field: "file", Reason: "multipart field \"file\" is required"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := filestore.CheckUpload(header.Size, contentType); err != nil {
		h.writeFailure(w, r, err)
		return
	}

	obj, err := h.Files.Put(ctx, filestore.ScheduleKey(key, header.Filename, h.Now()), file, header.Size, contentType)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	rec, err = h.Service.AttachSchedule(ctx, key, benefit.ScheduleFile{URL: obj.URL, UploadedAt: obj.UploadedAt}, actor(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// GetStatistics aggregates one period.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	p, err := h.parsePeriod(chi.URLParam(r, "month"), chi.URLParam(r, "year"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	stats, err := h.Reporter.Statistics(r.Context(), p)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetCalendar returns the business days and holidays of a month.
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	p, err := h.parsePeriod(chi.URLParam(r, "month"), chi.URLParam(r, "year"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	holidays, err := h.Store.HolidaysIn(r.Context(), p)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	businessDays, saturdays := benefit.MonthSchedule(p, holidays)
	writeJSON(w, http.StatusOK, CalendarDTO{
		Period:       p,
		BusinessDays: businessDays,
		Saturdays:    saturdays,
		Holidays:     toHolidayDTOs(holidays),
	})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), benefit.EmployeeID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// CreateEmployee creates or replaces an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := checkProfile(req.Profile); err != nil {
		h.writeFailure(w, r, err)
		return
	}

	emp := benefit.Employee{
		ID:             benefit.EmployeeID(req.ID),
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		Department:     req.Department,
		EmploymentType: benefit.EmploymentType(req.EmploymentType),
		Active:         req.Active == nil || *req.Active,
		Profile:        req.Profile,
		CreatedAt:      h.Now(),
	}
	if emp.EmploymentType == "" {
		emp.EmploymentType = benefit.EmploymentCLT
	}

	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

func checkProfile(p benefit.Profile) error {
	for field, v := range map[string]interface{ IsNegative() bool }{
		"profile.vr_daily_value":   p.VRDailyValue,
		"profile.vt_fixed_amount":  p.VTFixedAmount,
		"profile.vt_daily_value":   p.VTDailyValue,
		"profile.mobility_monthly": p.MobilityMonthly,
	} {
		if v.IsNegative() {
			return &benefit.ValidationError{Field: field, Value: v, Reason: "must not be negative"}
		}
	}
	return nil
}

// =============================================================================
// HOLIDAY HANDLERS
// =============================================================================

// ListHolidays returns all holidays.
// GET /api/holidays
func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	holidays, err := h.Store.ListHolidays(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toHolidayDTOs(holidays))
}

// CreateHoliday creates a new holiday.
// POST /api/holidays
func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req CreateHolidayRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, _ := time.Parse("2006-01-02", req.Date)

	holiday := benefit.Holiday{
		ID:        uuid.NewString(),
		Date:      date,
		Name:      strings.TrimSpace(req.Name),
		Recurring: req.Recurring,
	}
	saved, err := h.Store.SaveHoliday(r.Context(), holiday)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHolidayDTOs([]benefit.Holiday{saved})[0])
}

// DeleteHoliday deletes a holiday.
// DELETE /api/holidays/{id}
func (h *Handler) DeleteHoliday(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteHoliday(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func (kr KeyRequest) key() benefit.Key {
	return benefit.NewKey(strings.TrimSpace(kr.EmployeeID), kr.Year, time.Month(kr.Month))
}

func (req KeysRequest) keys() []benefit.Key {
	keys := make([]benefit.Key, len(req.Records))
	for i, kr := range req.Records {
		keys[i] = kr.key()
	}
	return keys
}

// configuration converts the request configuration, or derives one from
// the employee's profile and the month's holidays when there is none.
func (h *Handler) configuration(ctx context.Context, key benefit.Key, cj *factory.ConfigurationJSON) (benefit.Configuration, error) {
	if cj != nil {
		return h.Factory.FromJSON(*cj)
	}
	emp, err := h.Store.GetEmployee(ctx, key.EmployeeID)
	if err != nil {
		return benefit.Configuration{}, err
	}
	holidays, err := h.Store.HolidaysIn(ctx, key.Period)
	if err != nil {
		return benefit.Configuration{}, err
	}
	return h.Factory.FromProfile(emp, key.Period, holidays), nil
}

func (h *Handler) pathKey(r *http.Request) (benefit.Key, error) {
	p, err := h.parsePeriod(chi.URLParam(r, "month"), chi.URLParam(r, "year"))
	if err != nil {
		return benefit.Key{}, err
	}
	return benefit.Key{EmployeeID: benefit.EmployeeID(chi.URLParam(r, "employeeId")), Period: p}, nil
}

func (h *Handler) parsePeriod(month, year string) (benefit.Period, error) {
	m, err := strconv.Atoi(month)
	if err != nil {
		return benefit.Period{}, &benefit.ValidationError{Field: "month", Value: month, Reason: "must be a number"}
	}
	y, err := strconv.Atoi(year)
	if err != nil {
		return benefit.Period{}, &benefit.ValidationError{Field: "year", Value: year, Reason: "must be a number"}
	}
	return h.Factory.Period(factory.PeriodJSON{Year: y, Month: m})
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "Invalid request body", map[string]string{"field": "body", "reason": err.Error()})
		return false
	}
	if err := h.Factory.Validate(v); err != nil {
		var verr *benefit.ValidationError
		if errors.As(err, &verr) {
			verr.Field = strings.TrimPrefix(verr.Field, "KeyRequest.")
		}
		h.writeFailure(w, r, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// writeFailure maps a domain error onto its HTTP answer.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, code, details := classify(err)
	message := err.Error()
	if status >= 500 && status != http.StatusBadGateway {
		h.Logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		message = "Internal error"
	}
	writeError(w, status, code, message, details)
}

func classify(err error) (status int, code string, details any) {
	var (
		verr     *benefit.ValidationError
		stateErr *benefit.InvalidStateError
		conflict *benefit.ConflictError
		notFound *benefit.NotFoundError
		provider *benefit.ProviderError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation", map[string]string{
			"field":  verr.Field,
			"value":  fmt.Sprint(verr.Value),
			"reason": verr.Reason,
		}
	case errors.As(err, &stateErr):
		allowed := make([]string, len(stateErr.Allowed))
		for i, s := range stateErr.Allowed {
			allowed[i] = s.String()
		}
		return http.StatusConflict, "invalid_state", map[string]any{
			"operation": stateErr.Operation,
			"from":      stateErr.From.String(),
			"allowed":   allowed,
		}
	case errors.As(err, &conflict):
		return http.StatusConflict, "conflict", map[string]any{
			"expected_version": conflict.ExpectedVersion,
			"actual_version":   conflict.ActualVersion,
			"duplicate":        conflict.Duplicate,
		}
	case errors.As(err, &notFound):
		return http.StatusNotFound, "not_found", map[string]string{"kind": notFound.Kind, "id": notFound.ID}
	case errors.As(err, &provider):
		return http.StatusBadGateway, "provider", map[string]any{
			"reference": provider.Reference,
			"reason":    provider.Reason,
			"timeout":   provider.Timeout,
		}
	case errors.Is(err, session.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", nil
	case errors.Is(err, filestore.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "too_large", nil
	}
	return http.StatusInternalServerError, "internal", nil
}

func keyFailure(key benefit.Key, err error) KeyFailureDTO {
	_, code, _ := classify(err)
	return KeyFailureDTO{
		EmployeeID: string(key.EmployeeID),
		Year:       key.Period.Year,
		Month:      int(key.Period.Month),
		Error:      err.Error(),
		Code:       code,
	}
}
