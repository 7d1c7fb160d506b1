/*
workflow.go - Benefit record lifecycle

PURPOSE:
  Enforces the payment status state machine and hands approved records
  to the payment provider.

STATE MACHINE:
  ┌─────────┐ calculate ┌────────────┐ approve ┌──────────┐ confirmed ┌──────┐
  │ Pending │──────────▶│ Calculated │────────▶│ Approved │──────────▶│ Paid │
  └─────────┘           └────────────┘         └──────────┘           └──────┘
       │                  │   ▲  │                  │
       │   add deduction /│   │  │                  │ send to provider
       │   recalculate    └───┘  │                  ▼
       │                         │          flash: Processing ──▶ Completed
       │                         │                   │
       │                         │                   └──▶ Failed (manual retry)
       ▼                         ▼                  ▼
  ┌──────────────────── Cancelled (terminal, never deleted) ─────────────┐

WRITE DISCIPLINE:
  Every mutation runs under the per-key lock:
    lock → load → check transition → mutate → Upsert(version check) → audit
  A ConflictError from the store is returned as is. Callers refetch and
  retry; nothing here retries.

PROVIDER HAND-OFF:
  SendToProvider is a batch but not a transaction. Each record is locked,
  submitted with its own deadline and saved independently; failures are
  written to the record (flash status Failed, needs retry) and reported in
  the batch result. Nothing is re-submitted automatically.

CALLBACKS:
  Provider callbacks arrive out of order. A callback for a record that was
  cancelled meanwhile is a reported no-op, never an error.

SEE ALSO:
  - calc.go: Amounts
  - report.go: Period statistics
*/
package benefit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultSendConcurrency bounds parallel provider submissions.
const DefaultSendConcurrency = 4

// acceptedWriteTimeout bounds the retry that stores an accepted submission.
const acceptedWriteTimeout = 5 * time.Second

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	Store     Store
	Employees EmployeeDirectory
	Provider  Provider
	Audit     AuditLog
	Locks     *KeyedMutex
	Logger    *zap.Logger

	// Now and NewID are replaceable in tests.
	Now   func() time.Time
	NewID func() string

	SendConcurrency int
}

func NewService(store Store, employees EmployeeDirectory, provider Provider, audit AuditLog, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:           store,
		Employees:       employees,
		Provider:        provider,
		Audit:           audit,
		Locks:           NewKeyedMutex(),
		Logger:          logger,
		Now:             func() time.Time { return time.Now().UTC() },
		NewID:           uuid.NewString,
		SendConcurrency: DefaultSendConcurrency,
	}
}

// change describes what a mutation did, for the audit log.
type change struct {
	action  Action
	payload map[string]string
}

// mutate is the single write path for existing records.
func (s *Service) mutate(ctx context.Context, key Key, actor string, fn func(r *Record) (change, error)) (Record, error) {
	unlock := s.Locks.Lock(key)
	defer unlock()
	return s.mutateLocked(ctx, key, actor, fn)
}

func (s *Service) mutateLocked(ctx context.Context, key Key, actor string, fn func(r *Record) (change, error)) (Record, error) {
	current, err := s.Store.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}

	next := current.Clone()
	c, err := fn(&next)
	if err != nil {
		return current, err
	}
	next.UpdatedAt = s.Now()

	saved, err := s.Store.Upsert(ctx, next)
	if err != nil {
		return current, err
	}
	s.audit(ctx, saved, actor, c, current.Status)
	return saved, nil
}

func (s *Service) audit(ctx context.Context, r Record, actor string, c change, from Status) {
	if s.Audit == nil {
		return
	}
	e := Event{
		ID:      s.NewID(),
		Key:     r.Key,
		At:      s.Now(),
		Actor:   actor,
		Action:  c.action,
		From:    from,
		To:      r.Status,
		Payload: c.payload,
	}
	if err := s.Audit.Append(ctx, e); err != nil {
		s.Logger.Warn("audit append failed",
			zap.String("record", r.Key.String()), zap.String("action", string(c.action)), zap.Error(err))
	}
}

// =============================================================================
// CREATION / CALCULATION
// =============================================================================

// Create stores a new Pending record. Fails with ConflictError when a
// record already exists for the key.
func (s *Service) Create(ctx context.Context, key Key, cfg Configuration, method PaymentMethod, notes, actor string) (Record, error) {
	if err := s.checkKey(ctx, key); err != nil {
		return Record{}, err
	}
	// Reject negative inputs before anything is stored.
	if _, err := Calculate(cfg, nil, nil); err != nil {
		return Record{}, err
	}

	unlock := s.Locks.Lock(key)
	defer unlock()

	r := s.newRecord(key, method)
	r.Configure(cfg)
	r.Notes = notes

	saved, err := s.Store.Upsert(ctx, r)
	if err != nil {
		return Record{}, err
	}
	s.audit(ctx, saved, actor, change{action: ActionCreated}, saved.Status)
	s.Logger.Info("benefit record created", zap.String("record", key.String()))
	return saved, nil
}

// Calculate runs the engine over a record and moves it to Calculated.
//
// When cfg is non-nil it replaces the stored configuration first. When no
// record exists for key and cfg is given, a Pending record is created and
// calculated in the same step. Re-calculation is allowed while the record
// is Pending or Calculated; with unchanged inputs it yields the same
// amounts.
func (s *Service) Calculate(ctx context.Context, key Key, cfg *Configuration, actor string) (Record, error) {
	unlock := s.Locks.Lock(key)
	defer unlock()

	_, err := s.Store.Get(ctx, key)
	if IsNotFound(err) && cfg != nil {
		return s.createCalculated(ctx, key, *cfg, actor)
	}
	if err != nil {
		return Record{}, err
	}

	saved, err := s.mutateLocked(ctx, key, actor, func(r *Record) (change, error) {
		if !r.Status.Mutable() {
			return change{}, invalidState(key, "calculate", r.Status, StatusPending, StatusCalculated)
		}
		if cfg != nil {
			r.Configure(*cfg)
		}
		if err := recalculate(r); err != nil {
			return change{}, err
		}
		return change{action: ActionCalculated, payload: map[string]string{"total_amount": r.TotalAmount.StringFixed(2)}}, nil
	})
	if err != nil {
		return saved, err
	}
	s.Logger.Info("benefit record calculated",
		zap.String("record", key.String()), zap.String("total", saved.TotalAmount.StringFixed(2)))
	return saved, nil
}

func (s *Service) createCalculated(ctx context.Context, key Key, cfg Configuration, actor string) (Record, error) {
	if err := s.checkKey(ctx, key); err != nil {
		return Record{}, err
	}
	r := s.newRecord(key, PaymentFlash)
	r.Configure(cfg)
	if err := recalculate(&r); err != nil {
		return Record{}, err
	}
	saved, err := s.Store.Upsert(ctx, r)
	if err != nil {
		return Record{}, err
	}
	s.audit(ctx, saved, actor, change{action: ActionCreated}, StatusPending)
	s.audit(ctx, saved, actor, change{action: ActionCalculated, payload: map[string]string{"total_amount": saved.TotalAmount.StringFixed(2)}}, StatusPending)
	s.Logger.Info("benefit record created and calculated",
		zap.String("record", key.String()), zap.String("total", saved.TotalAmount.StringFixed(2)))
	return saved, nil
}

// recalculate applies the engine and moves Pending → Calculated.
func recalculate(r *Record) error {
	calc, err := CalculateRecord(*r)
	if err != nil {
		return err
	}
	Apply(r, calc)
	r.Status = StatusCalculated
	return nil
}

func (s *Service) newRecord(key Key, method PaymentMethod) Record {
	if method == 0 {
		method = PaymentFlash
	}
	now := s.Now()
	return Record{
		ID:            s.NewID(),
		Key:           key,
		Status:        StatusPending,
		PaymentMethod: method,
		Flash:         FlashPayment{Status: FlashPending},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Service) checkKey(ctx context.Context, key Key) error {
	if key.EmployeeID == "" {
		return &ValidationError{Field: "employee_id", Value: key.EmployeeID, Reason: "required"}
	}
	if !key.Period.Valid() {
		return &ValidationError{Field: "period", Value: key.Period, Reason: "month must be 1-12 and year >= 2000"}
	}
	if s.Employees == nil {
		return nil
	}
	if _, err := s.Employees.GetEmployee(ctx, key.EmployeeID); err != nil {
		return err
	}
	return nil
}

// =============================================================================
// DEDUCTIONS / ATTACHMENTS
// =============================================================================

// AddDeduction appends a deduction to one leg and recalculates. Only
// allowed while the record is Pending or Calculated.
func (s *Service) AddDeduction(ctx context.Context, key Key, leg Leg, d Deduction, actor string) (Record, error) {
	if _, err := ParseLeg(string(leg)); err != nil {
		return Record{}, err
	}
	if d.Amount.IsNegative() {
		return Record{}, &ValidationError{Field: "deduction.amount", Value: d.Amount, Reason: "must not be negative"}
	}
	if _, ok := deductionTypeNames[d.Type]; !ok {
		return Record{}, &ValidationError{Field: "deduction.type", Value: d.Type, Reason: "unknown deduction type"}
	}
	if d.ID == "" {
		d.ID = s.NewID()
	}
	if d.Date.IsZero() {
		d.Date = s.Now()
	}

	return s.mutate(ctx, key, actor, func(r *Record) (change, error) {
		if !r.Status.Mutable() {
			return change{}, invalidState(key, "add deduction to", r.Status, StatusPending, StatusCalculated)
		}
		switch leg {
		case LegVR:
			r.VR.Deductions = append(r.VR.Deductions, d)
		case LegVT:
			r.VT.Deductions = append(r.VT.Deductions, d)
		}
		if err := recalculate(r); err != nil {
			return change{}, err
		}
		return change{action: ActionDeductionAdded, payload: map[string]string{
			"leg":    string(leg),
			"amount": d.Amount.StringFixed(2),
			"type":   d.Type.String(),
			"reason": d.Reason,
		}}, nil
	})
}

// AttachSchedule records an uploaded work schedule on the VR leg.
func (s *Service) AttachSchedule(ctx context.Context, key Key, file ScheduleFile, actor string) (Record, error) {
	if file.URL == "" {
		return Record{}, &ValidationError{Field: "schedule_file.url", Value: file.URL, Reason: "required"}
	}
	if file.UploadedAt.IsZero() {
		file.UploadedAt = s.Now()
	}
	return s.mutate(ctx, key, actor, func(r *Record) (change, error) {
		if r.Status.Terminal() {
			return change{}, invalidState(key, "attach schedule to", r.Status, StatusPending, StatusCalculated, StatusApproved)
		}
		r.VR.ScheduleFile = &file
		return change{action: ActionScheduleAttached, payload: map[string]string{"url": file.URL}}, nil
	})
}

// =============================================================================
// APPROVAL / CANCELLATION
// =============================================================================

// Approve moves a Calculated record to Approved and stamps the approver.
func (s *Service) Approve(ctx context.Context, key Key, approver string) (Record, error) {
	saved, err := s.mutate(ctx, key, approver, func(r *Record) (change, error) {
		if r.Status != StatusCalculated {
			return change{}, invalidState(key, "approve", r.Status, StatusCalculated)
		}
		now := s.Now()
		r.Status = StatusApproved
		r.ApprovedBy = approver
		r.ApprovedAt = &now
		return change{action: ActionApproved}, nil
	})
	if err == nil {
		s.Logger.Info("benefit record approved", zap.String("record", key.String()), zap.String("approver", approver))
	}
	return saved, err
}

// Cancel moves any non-terminal record to Cancelled.
func (s *Service) Cancel(ctx context.Context, key Key, actor string) (Record, error) {
	saved, err := s.mutate(ctx, key, actor, func(r *Record) (change, error) {
		if !r.Status.CanTransitionTo(StatusCancelled) {
			return change{}, invalidState(key, "cancel", r.Status, StatusPending, StatusCalculated, StatusApproved)
		}
		r.Status = StatusCancelled
		return change{action: ActionCancelled}, nil
	})
	if err == nil {
		s.Logger.Info("benefit record cancelled", zap.String("record", key.String()))
	}
	return saved, err
}

// =============================================================================
// PROVIDER HAND-OFF
// =============================================================================

// Submission is a record successfully handed to the provider.
type Submission struct {
	Key       Key
	Reference string
}

// Failure is a record that was not handed over, with the reason.
type Failure struct {
	Key Key
	Err error
}

type BatchResult struct {
	Submitted []Submission
	Failed    []Failure
}

// SendToProvider submits every Approved, unsent record among keys. Each
// submission gets its own timeout (0 means only ctx bounds it). Records
// that are not eligible are reported as InvalidStateError failures.
func (s *Service) SendToProvider(ctx context.Context, keys []Key, timeout time.Duration) BatchResult {
	keys = uniqueKeys(keys)
	outcomes := make([]Failure, len(keys))
	refs := make([]string, len(keys))

	limit := s.SendConcurrency
	if limit <= 0 {
		limit = DefaultSendConcurrency
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			ref, err := s.submitOne(ctx, key, timeout)
			refs[i] = ref
			outcomes[i] = Failure{Key: key, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var result BatchResult
	for i, key := range keys {
		if outcomes[i].Err != nil {
			result.Failed = append(result.Failed, outcomes[i])
			continue
		}
		result.Submitted = append(result.Submitted, Submission{Key: key, Reference: refs[i]})
	}
	s.Logger.Info("provider batch finished",
		zap.Int("submitted", len(result.Submitted)), zap.Int("failed", len(result.Failed)))
	return result
}

func (s *Service) submitOne(ctx context.Context, key Key, timeout time.Duration) (string, error) {
	unlock := s.Locks.Lock(key)
	defer unlock()

	current, err := s.Store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if current.Status != StatusApproved {
		return "", invalidState(key, "send to provider", current.Status, StatusApproved)
	}
	if current.Flash.Sent {
		return "", &InvalidStateError{Key: key, Operation: "send to provider (already sent)", From: current.Status}
	}

	order, err := s.paymentOrder(ctx, current)
	if err != nil {
		return "", err
	}

	submitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	receipt, submitErr := s.Provider.Submit(submitCtx, order)
	if submitErr == nil && receipt.Reference == "" {
		submitErr = errors.New("provider returned an empty reference")
	}

	next := current.Clone()
	next.Flash.Attempts++
	next.UpdatedAt = s.Now()

	if submitErr != nil {
		perr := &ProviderError{Key: key, Err: submitErr}
		var rejected *RejectionError
		switch {
		case errors.Is(submitErr, context.DeadlineExceeded) || errors.Is(submitCtx.Err(), context.DeadlineExceeded):
			perr.Timeout = true
		case errors.As(submitErr, &rejected):
			perr.Reason = rejected.Reason
		}
		next.Flash.Status = FlashFailed
		next.Flash.NeedsRetry = true
		next.Flash.FailureReason = perr.Error()

		s.Logger.Error("provider submission failed",
			zap.String("record", key.String()), zap.Bool("timeout", perr.Timeout), zap.Error(submitErr))
		saved, err := s.Store.Upsert(ctx, next)
		if err != nil {
			s.Logger.Error("recording submission failure failed", zap.String("record", key.String()), zap.Error(err))
			return "", errors.Join(perr, err)
		}
		s.audit(ctx, saved, "system", change{action: ActionSubmissionFailed, payload: map[string]string{"reason": perr.Error()}}, current.Status)
		return "", perr
	}

	sentAt := s.Now()
	next.Flash.Sent = true
	next.Flash.SentAt = &sentAt
	next.Flash.Reference = receipt.Reference
	next.Flash.Status = FlashProcessing
	next.Flash.NeedsRetry = false
	next.Flash.FailureReason = ""

	saved, err := s.Store.Upsert(ctx, next)
	if err != nil {
		s.Logger.Warn("recording submission failed, retrying on a fresh read",
			zap.String("record", key.String()), zap.String("reference", receipt.Reference), zap.Error(err))
		saved, err = s.recordAcceptedSubmission(ctx, key, next.Flash)
	}
	if err != nil {
		// The provider has the order but the record does not know it.
		s.Logger.Error("recording submission failed",
			zap.String("record", key.String()), zap.String("reference", receipt.Reference), zap.Error(err))
		return "", fmt.Errorf("store submission %s: %w", receipt.Reference, err)
	}
	s.audit(ctx, saved, "system", change{action: ActionSubmitted, payload: map[string]string{"reference": receipt.Reference}}, current.Status)
	s.Logger.Info("submitted to provider", zap.String("record", key.String()), zap.String("reference", receipt.Reference))
	return receipt.Reference, nil
}

// recordAcceptedSubmission is the second attempt at storing a submission
// the provider already accepted. It re-reads the record so a version bump
// does not lose the reference, and it outlives a cancelled ctx. Without it
// the record would stay unsent and a re-send would pay twice.
func (s *Service) recordAcceptedSubmission(ctx context.Context, key Key, flash FlashPayment) (Record, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), acceptedWriteTimeout)
	defer cancel()

	current, err := s.Store.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	if current.Status != StatusApproved || current.Flash.Sent {
		return Record{}, invalidState(key, "record submission", current.Status, StatusApproved)
	}
	next := current.Clone()
	next.Flash = flash
	next.UpdatedAt = s.Now()
	return s.Store.Upsert(ctx, next)
}

func (s *Service) paymentOrder(ctx context.Context, r Record) (PaymentOrder, error) {
	order := PaymentOrder{
		RecordID: r.ID,
		Key:      r.Key,
		VR:       decimal.Zero,
		VT:       decimal.Zero,
		Mobility: decimal.Zero,
		Total:    r.TotalAmount,
	}
	if r.VR.Enabled {
		order.VR = r.VR.FinalAmount
	}
	if r.VT.Enabled {
		order.VT = r.VT.FinalAmount
	}
	if r.Mobility.Enabled {
		order.Mobility = Cents(r.Mobility.MonthlyValue)
	}
	if s.Employees != nil {
		emp, err := s.Employees.GetEmployee(ctx, r.Key.EmployeeID)
		if err != nil {
			return PaymentOrder{}, err
		}
		order.EmployeeName = emp.FullName()
		order.EmployeeEmail = emp.Email
	}
	return order, nil
}

func uniqueKeys(keys []Key) []Key {
	seen := make(map[Key]bool, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// =============================================================================
// PROVIDER CALLBACKS
// =============================================================================

// CallbackOutcome reports what a provider callback did. A mismatch means
// the callback was valid but did not apply, for example because the
// record was cancelled in the meantime.
type CallbackOutcome struct {
	Key       Key
	Reference string
	Applied   bool
	Mismatch  string
}

// ConfirmPayment handles the provider's "paid" callback: Approved → Paid.
func (s *Service) ConfirmPayment(ctx context.Context, reference string) (CallbackOutcome, error) {
	return s.callback(ctx, reference, ActionPaymentConfirmed, func(r *Record) {
		r.Status = StatusPaid
		r.Flash.Sent = true
		r.Flash.Status = FlashCompleted
		r.Flash.NeedsRetry = false
		r.Flash.FailureReason = ""
	}, nil)
}

// FailPayment handles the provider's "failed" callback. The record stays
// Approved and is flagged for an operator to re-submit.
func (s *Service) FailPayment(ctx context.Context, reference, reason string) (CallbackOutcome, error) {
	return s.callback(ctx, reference, ActionPaymentFailed, func(r *Record) {
		r.Flash.Sent = false
		r.Flash.Status = FlashFailed
		r.Flash.NeedsRetry = true
		r.Flash.FailureReason = reason
	}, map[string]string{"reason": reason})
}

func (s *Service) callback(ctx context.Context, reference string, action Action, apply func(*Record), payload map[string]string) (CallbackOutcome, error) {
	if reference == "" {
		return CallbackOutcome{}, &ValidationError{Field: "reference", Value: reference, Reason: "required"}
	}
	found, err := s.Store.FindByReference(ctx, reference)
	if err != nil {
		return CallbackOutcome{}, err
	}
	key := found.Key
	outcome := CallbackOutcome{Key: key, Reference: reference}

	unlock := s.Locks.Lock(key)
	defer unlock()

	current, err := s.Store.Get(ctx, key)
	if err != nil {
		return outcome, err
	}

	switch {
	case current.Flash.Reference != reference:
		outcome.Mismatch = "reference superseded by " + current.Flash.Reference
	case current.Status == StatusCancelled:
		outcome.Mismatch = "record cancelled"
	case current.Status == StatusPaid:
		outcome.Mismatch = "record already paid"
	case current.Status != StatusApproved:
		outcome.Mismatch = "record not approved (status " + current.Status.String() + ")"
	}
	if outcome.Mismatch != "" {
		s.Logger.Warn("provider callback ignored",
			zap.String("record", key.String()), zap.String("reference", reference),
			zap.String("action", string(action)), zap.String("mismatch", outcome.Mismatch))
		s.audit(ctx, current, "provider", change{action: ActionCallbackMismatch, payload: map[string]string{
			"reference": reference,
			"callback":  string(action),
			"mismatch":  outcome.Mismatch,
		}}, current.Status)
		return outcome, nil
	}

	next := current.Clone()
	apply(&next)
	next.UpdatedAt = s.Now()
	saved, err := s.Store.Upsert(ctx, next)
	if err != nil {
		return outcome, err
	}
	if payload == nil {
		payload = map[string]string{}
	}
	payload["reference"] = reference
	s.audit(ctx, saved, "provider", change{action: action, payload: payload}, current.Status)

	outcome.Applied = true
	if action == ActionPaymentFailed {
		s.Logger.Error("provider reported payment failure",
			zap.String("record", key.String()), zap.String("reference", reference), zap.String("reason", payload["reason"]))
	} else {
		s.Logger.Info("provider confirmed payment", zap.String("record", key.String()), zap.String("reference", reference))
	}
	return outcome, nil
}

// ReconcileProcessing polls the provider for submissions still Processing
// after olderThan and routes terminal answers through the callbacks. It
// never re-submits.
func (s *Service) ReconcileProcessing(ctx context.Context, olderThan time.Duration) ([]CallbackOutcome, error) {
	approved, err := s.Store.ListByStatus(ctx, StatusApproved)
	if err != nil {
		return nil, err
	}
	cutoff := s.Now().Add(-olderThan)

	var outcomes []CallbackOutcome
	for _, r := range approved {
		if r.Flash.Status != FlashProcessing || r.Flash.SentAt == nil || r.Flash.SentAt.After(cutoff) {
			continue
		}
		status, err := s.Provider.Status(ctx, r.Flash.Reference)
		if err != nil {
			s.Logger.Warn("provider status lookup failed",
				zap.String("record", r.Key.String()), zap.String("reference", r.Flash.Reference), zap.Error(err))
			continue
		}

		var outcome CallbackOutcome
		switch status.State {
		case ProviderCompleted:
			outcome, err = s.ConfirmPayment(ctx, r.Flash.Reference)
		case ProviderFailed:
			outcome, err = s.FailPayment(ctx, r.Flash.Reference, status.Reason)
		default:
			continue
		}
		if err != nil {
			s.Logger.Warn("reconciling payment failed", zap.String("record", r.Key.String()), zap.Error(err))
			continue
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) Get(ctx context.Context, key Key) (Record, error) {
	return s.Store.Get(ctx, key)
}

// Filter narrows List. At least one of Period or Status must be set.
type Filter struct {
	Period *Period
	Status *Status
}

func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	switch {
	case f.Period != nil:
		records, err := s.Store.ListByPeriod(ctx, *f.Period)
		if err != nil || f.Status == nil {
			return records, err
		}
		filtered := records[:0]
		for _, r := range records {
			if r.Status == *f.Status {
				filtered = append(filtered, r)
			}
		}
		return filtered, nil
	case f.Status != nil:
		return s.Store.ListByStatus(ctx, *f.Status)
	}
	return nil, &ValidationError{Field: "filter", Value: f, Reason: "period or status required"}
}

func (s *Service) History(ctx context.Context, key Key) ([]Event, error) {
	if s.Audit == nil {
		return nil, nil
	}
	return s.Audit.History(ctx, key)
}
