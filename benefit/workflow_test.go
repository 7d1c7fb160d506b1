package benefit_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefits-engine/benefit"
	"github.com/warp/benefits-engine/benefit/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeProvider answers Submit through a per-employee script.
type fakeProvider struct {
	mu       sync.Mutex
	reject   map[benefit.EmployeeID]string
	hang     map[benefit.EmployeeID]bool
	statuses map[string]benefit.ProviderStatus
	orders   []benefit.PaymentOrder
	seq      int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		reject:   make(map[benefit.EmployeeID]string),
		hang:     make(map[benefit.EmployeeID]bool),
		statuses: make(map[string]benefit.ProviderStatus),
	}
}

func (p *fakeProvider) Submit(ctx context.Context, order benefit.PaymentOrder) (benefit.Receipt, error) {
	p.mu.Lock()
	hang := p.hang[order.Key.EmployeeID]
	reason, rejected := p.reject[order.Key.EmployeeID]
	p.mu.Unlock()

	if hang {
		<-ctx.Done()
		return benefit.Receipt{}, ctx.Err()
	}
	if rejected {
		return benefit.Receipt{}, &benefit.RejectionError{Reason: reason}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.orders = append(p.orders, order)
	return benefit.Receipt{Reference: fmt.Sprintf("FL-%s-%d", order.Key.EmployeeID, p.seq)}, nil
}

func (p *fakeProvider) Status(_ context.Context, reference string) (benefit.ProviderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.statuses[reference]
	if !ok {
		return benefit.ProviderStatus{Reference: reference, State: benefit.ProviderProcessing}, nil
	}
	return st, nil
}

type testEnv struct {
	svc      *benefit.Service
	mem      *store.Memory
	provider *fakeProvider
	now      time.Time
}

var may2025 = benefit.NewPeriod(2025, time.May)

func newTestEnv(t *testing.T, employees ...string) *testEnv {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, id := range employees {
		require.NoError(t, mem.SaveEmployee(ctx, benefit.Employee{
			ID:        benefit.EmployeeID(id),
			FirstName: "Emp",
			LastName:  id,
			Email:     id + "@example.com",
			Active:    true,
		}))
	}

	env := &testEnv{
		mem:      mem,
		provider: newFakeProvider(),
		now:      time.Date(2025, time.May, 28, 9, 0, 0, 0, time.UTC),
	}
	env.svc = benefit.NewService(mem, mem, env.provider, mem, nil)
	env.svc.Now = func() time.Time { return env.now }
	return env
}

func key(emp string) benefit.Key {
	return benefit.Key{EmployeeID: benefit.EmployeeID(emp), Period: may2025}
}

func standardConfig() benefit.Configuration {
	return benefit.Configuration{
		VR: benefit.VRConfig{Enabled: true, DailyValue: money("35"), BusinessDays: 21, Saturdays: 2},
		VT: benefit.VTConfig{Enabled: true, FixedAmount: money("220")},
	}
}

// approved drives a record to Approved.
func (e *testEnv) approved(t *testing.T, emp string) benefit.Record {
	t.Helper()
	ctx := context.Background()
	cfg := standardConfig()
	_, err := e.svc.Calculate(ctx, key(emp), &cfg, "ops")
	require.NoError(t, err)
	r, err := e.svc.Approve(ctx, key(emp), "manager")
	require.NoError(t, err)
	return r
}

// =============================================================================
// CREATE / CALCULATE
// =============================================================================

func TestService_Create_DuplicateKey_Conflict(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	ctx := context.Background()

	r, err := env.svc.Create(ctx, key("emp-1"), standardConfig(), 0, "", "ops")
	require.NoError(t, err)
	assert.Equal(t, benefit.StatusPending, r.Status)
	assert.Equal(t, benefit.PaymentFlash, r.PaymentMethod)
	assert.Equal(t, int64(1), r.Version)

	_, err = env.svc.Create(ctx, key("emp-1"), standardConfig(), 0, "", "ops")
	require.Error(t, err)
	assert.ErrorIs(t, err, benefit.ErrConflict)
}

func TestService_Create_UnknownEmployee_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Create(context.Background(), key("ghost"), standardConfig(), 0, "", "ops")
	assert.True(t, benefit.IsNotFound(err))
}

func TestService_Calculate_CreatesAndCalculates(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	cfg := standardConfig()

	r, err := env.svc.Calculate(context.Background(), key("emp-1"), &cfg, "ops")
	require.NoError(t, err)

	assert.Equal(t, benefit.StatusCalculated, r.Status)
	assert.Equal(t, "805.00", r.VR.FinalAmount.StringFixed(2))
	assert.Equal(t, "220.00", r.VT.FinalAmount.StringFixed(2))
	assert.Equal(t, "1025.00", r.TotalAmount.StringFixed(2))

	history, err := env.svc.History(context.Background(), key("emp-1"))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, benefit.ActionCreated, history[0].Action)
	assert.Equal(t, benefit.ActionCalculated, history[1].Action)
}

func TestService_Calculate_Idempotent(t *testing.T) {
	// GIVEN: A calculated record
	// WHEN: Calculating again with unchanged inputs
	// THEN: Same amounts, status stays Calculated

	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	cfg := standardConfig()

	first, err := env.svc.Calculate(ctx, key("emp-1"), &cfg, "ops")
	require.NoError(t, err)
	second, err := env.svc.Calculate(ctx, key("emp-1"), nil, "ops")
	require.NoError(t, err)

	assert.Equal(t, benefit.StatusCalculated, second.Status)
	assert.True(t, first.TotalAmount.Equal(second.TotalAmount))
	assert.True(t, first.VR.FinalAmount.Equal(second.VR.FinalAmount))
	assert.Greater(t, second.Version, first.Version)
}

func TestService_Calculate_NegativeInput_RecordUnchanged(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	ctx := context.Background()

	created, err := env.svc.Create(ctx, key("emp-1"), standardConfig(), 0, "", "ops")
	require.NoError(t, err)

	bad := standardConfig()
	bad.VR.DailyValue = money("-1")
	_, err = env.svc.Calculate(ctx, key("emp-1"), &bad, "ops")
	require.ErrorIs(t, err, benefit.ErrValidation)

	stored, err := env.svc.Get(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, created.Version, stored.Version)
	assert.Equal(t, benefit.StatusPending, stored.Status)
}

func TestService_Calculate_Approved_Rejected(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	env.approved(t, "emp-1")

	_, err := env.svc.Calculate(context.Background(), key("emp-1"), nil, "ops")
	assert.ErrorIs(t, err, benefit.ErrInvalidState)
}

// =============================================================================
// APPROVAL / DEDUCTIONS / CANCELLATION
// =============================================================================

func TestService_Approve_Pending_FailsAndLeavesRecord(t *testing.T) {
	// GIVEN: A Pending record
	// WHEN: Approving
	// THEN: InvalidStateError, nothing stored changes

	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	created, err := env.svc.Create(ctx, key("emp-1"), standardConfig(), 0, "", "ops")
	require.NoError(t, err)

	_, err = env.svc.Approve(ctx, key("emp-1"), "manager")
	require.Error(t, err)

	var serr *benefit.InvalidStateError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, benefit.StatusPending, serr.From)
	assert.Equal(t, "approve", serr.Operation)

	stored, err := env.svc.Get(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, created.Version, stored.Version)
	assert.Equal(t, benefit.StatusPending, stored.Status)
	assert.Empty(t, stored.ApprovedBy)
}

func TestService_Approve_StampsApprover(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	r := env.approved(t, "emp-1")

	assert.Equal(t, benefit.StatusApproved, r.Status)
	assert.Equal(t, "manager", r.ApprovedBy)
	require.NotNil(t, r.ApprovedAt)
	assert.Equal(t, env.now, *r.ApprovedAt)
}

func TestService_AddDeduction_Recalculates(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	_, err := env.svc.Create(ctx, key("emp-1"), standardConfig(), 0, "", "ops")
	require.NoError(t, err)

	r, err := env.svc.AddDeduction(ctx, key("emp-1"), benefit.LegVR, benefit.Deduction{
		Amount: money("35"),
		Reason: "absent on the 12th",
		Type:   benefit.DeductionAbsence,
	}, "ops")
	require.NoError(t, err)

	assert.Equal(t, benefit.StatusCalculated, r.Status)
	require.Len(t, r.VR.Deductions, 1)
	assert.NotEmpty(t, r.VR.Deductions[0].ID)
	assert.Equal(t, "770.00", r.VR.FinalAmount.StringFixed(2))
	assert.Equal(t, "990.00", r.TotalAmount.StringFixed(2))
}

func TestService_AddDeduction_Approved_Rejected(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	before := env.approved(t, "emp-1")
	ctx := context.Background()

	_, err := env.svc.AddDeduction(ctx, key("emp-1"), benefit.LegVT, benefit.Deduction{
		Amount: money("10"),
		Type:   benefit.DeductionOther,
	}, "ops")
	require.ErrorIs(t, err, benefit.ErrInvalidState)

	after, err := env.svc.Get(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Empty(t, after.VT.Deductions)
	assert.True(t, before.TotalAmount.Equal(after.TotalAmount))
}

func TestService_AddDeduction_NegativeAmount_ValidationError(t *testing.T) {
	env := newTestEnv(t, "emp-1")

	_, err := env.svc.AddDeduction(context.Background(), key("emp-1"), benefit.LegVR, benefit.Deduction{
		Amount: money("-5"),
		Type:   benefit.DeductionOther,
	}, "ops")
	assert.ErrorIs(t, err, benefit.ErrValidation)
}

func TestService_Cancel(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	env.approved(t, "emp-1")

	r, err := env.svc.Cancel(ctx, key("emp-1"), "manager")
	require.NoError(t, err)
	assert.Equal(t, benefit.StatusCancelled, r.Status)

	_, err = env.svc.Cancel(ctx, key("emp-1"), "manager")
	assert.ErrorIs(t, err, benefit.ErrInvalidState)
}

func TestService_AttachSchedule(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	env.approved(t, "emp-1")

	r, err := env.svc.AttachSchedule(ctx, key("emp-1"), benefit.ScheduleFile{URL: "s3://bucket/schedules/emp-1.pdf"}, "ops")
	require.NoError(t, err)
	require.NotNil(t, r.VR.ScheduleFile)
	assert.Equal(t, env.now, r.VR.ScheduleFile.UploadedAt)

	_, err = env.svc.Cancel(ctx, key("emp-1"), "ops")
	require.NoError(t, err)
	_, err = env.svc.AttachSchedule(ctx, key("emp-1"), benefit.ScheduleFile{URL: "s3://x"}, "ops")
	assert.ErrorIs(t, err, benefit.ErrInvalidState)
}

// =============================================================================
// PROVIDER HAND-OFF
// =============================================================================

func TestService_SendToProvider_PartialFailure(t *testing.T) {
	// GIVEN: Three approved records, the provider rejects the second
	// WHEN: Sending the batch
	// THEN: Two are Processing, the second is flagged for retry and stays Approved

	env := newTestEnv(t, "emp-1", "emp-2", "emp-3")
	ctx := context.Background()
	for _, emp := range []string{"emp-1", "emp-2", "emp-3"} {
		env.approved(t, emp)
	}
	env.provider.reject["emp-2"] = "invalid card"

	res := env.svc.SendToProvider(ctx, []benefit.Key{key("emp-1"), key("emp-2"), key("emp-3")}, time.Second)

	require.Len(t, res.Submitted, 2)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, key("emp-1"), res.Submitted[0].Key)
	assert.Equal(t, key("emp-3"), res.Submitted[1].Key)
	assert.Equal(t, key("emp-2"), res.Failed[0].Key)
	assert.ErrorIs(t, res.Failed[0].Err, benefit.ErrProvider)

	failed, err := env.svc.Get(ctx, key("emp-2"))
	require.NoError(t, err)
	assert.Equal(t, benefit.StatusApproved, failed.Status)
	assert.False(t, failed.Flash.Sent)
	assert.True(t, failed.Flash.NeedsRetry)
	assert.Equal(t, benefit.FlashFailed, failed.Flash.Status)
	assert.Contains(t, failed.Flash.FailureReason, "invalid card")

	for _, emp := range []string{"emp-1", "emp-3"} {
		r, err := env.svc.Get(ctx, key(emp))
		require.NoError(t, err)
		assert.True(t, r.Flash.Sent)
		assert.Equal(t, benefit.FlashProcessing, r.Flash.Status)
		assert.NotEmpty(t, r.Flash.Reference)
	}
}

func TestService_SendToProvider_Timeout(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	env.approved(t, "emp-1")
	env.provider.hang["emp-1"] = true

	res := env.svc.SendToProvider(context.Background(), []benefit.Key{key("emp-1")}, 20*time.Millisecond)

	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, benefit.ErrProviderTimeout)
	assert.True(t, benefit.IsRetryable(res.Failed[0].Err))

	r, err := env.svc.Get(context.Background(), key("emp-1"))
	require.NoError(t, err)
	assert.True(t, r.Flash.NeedsRetry)
	assert.Equal(t, 1, r.Flash.Attempts)
}

func TestService_SendToProvider_NotApproved_Skipped(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	_, err := env.svc.Create(ctx, key("emp-1"), standardConfig(), 0, "", "ops")
	require.NoError(t, err)

	res := env.svc.SendToProvider(ctx, []benefit.Key{key("emp-1"), key("emp-1")}, time.Second)

	assert.Empty(t, res.Submitted)
	require.Len(t, res.Failed, 1)
	assert.ErrorIs(t, res.Failed[0].Err, benefit.ErrInvalidState)
	assert.Empty(t, env.provider.orders)
}

func TestService_SendToProvider_AlreadySent_NotResubmitted(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	env.approved(t, "emp-1")

	first := env.svc.SendToProvider(ctx, []benefit.Key{key("emp-1")}, time.Second)
	require.Len(t, first.Submitted, 1)
	second := env.svc.SendToProvider(ctx, []benefit.Key{key("emp-1")}, time.Second)

	require.Len(t, second.Failed, 1)
	assert.ErrorIs(t, second.Failed[0].Err, benefit.ErrInvalidState)
	assert.Len(t, env.provider.orders, 1)
}

func TestService_SendToProvider_OrderCarriesEmployeeAndLegs(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	env.approved(t, "emp-1")

	env.svc.SendToProvider(context.Background(), []benefit.Key{key("emp-1")}, time.Second)

	require.Len(t, env.provider.orders, 1)
	order := env.provider.orders[0]
	assert.Equal(t, "Emp emp-1", order.EmployeeName)
	assert.Equal(t, "805.00", order.VR.StringFixed(2))
	assert.Equal(t, "220.00", order.VT.StringFixed(2))
	assert.True(t, order.Mobility.IsZero())
	assert.Equal(t, "1025.00", order.Total.StringFixed(2))
}

// =============================================================================
// CALLBACKS
// =============================================================================

func sendOne(t *testing.T, env *testEnv, emp string) string {
	t.Helper()
	env.approved(t, emp)
	res := env.svc.SendToProvider(context.Background(), []benefit.Key{key(emp)}, time.Second)
	require.Len(t, res.Submitted, 1)
	return res.Submitted[0].Reference
}

func TestService_ConfirmPayment_MarksPaid(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	ref := sendOne(t, env, "emp-1")

	out, err := env.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Empty(t, out.Mismatch)

	r, err := env.svc.Get(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, benefit.StatusPaid, r.Status)
	assert.Equal(t, benefit.FlashCompleted, r.Flash.Status)

	// A duplicate callback is reported, not applied.
	dup, err := env.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	assert.False(t, dup.Applied)
	assert.Equal(t, "record already paid", dup.Mismatch)
}

func TestService_ConfirmPayment_CancelledRecord_Mismatch(t *testing.T) {
	// GIVEN: A record sent to the provider, then cancelled
	// WHEN: The provider confirms payment
	// THEN: No error, nothing applied, the mismatch is reported and audited

	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	ref := sendOne(t, env, "emp-1")
	_, err := env.svc.Cancel(ctx, key("emp-1"), "manager")
	require.NoError(t, err)

	out, err := env.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	assert.False(t, out.Applied)
	assert.Equal(t, "record cancelled", out.Mismatch)
	assert.Equal(t, key("emp-1"), out.Key)

	r, err := env.svc.Get(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, benefit.StatusCancelled, r.Status)

	history, err := env.svc.History(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, benefit.ActionCallbackMismatch, history[len(history)-1].Action)
}

func TestService_ConfirmPayment_UnknownReference_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ConfirmPayment(context.Background(), "FL-missing")
	assert.True(t, benefit.IsNotFound(err))
}

func TestService_FailPayment_FlagsForRetry(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	ref := sendOne(t, env, "emp-1")

	out, err := env.svc.FailPayment(ctx, ref, "card blocked")
	require.NoError(t, err)
	assert.True(t, out.Applied)

	r, err := env.svc.Get(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, benefit.StatusApproved, r.Status)
	assert.False(t, r.Flash.Sent)
	assert.True(t, r.Flash.NeedsRetry)
	assert.Equal(t, "card blocked", r.Flash.FailureReason)

	// The operator can re-submit.
	res := env.svc.SendToProvider(ctx, []benefit.Key{key("emp-1")}, time.Second)
	require.Len(t, res.Submitted, 1)
	assert.NotEqual(t, ref, res.Submitted[0].Reference)
}

func TestService_Callback_SupersededReference_ReportedNotApplied(t *testing.T) {
	// GIVEN: A payment that failed and was re-sent under a new reference
	// WHEN: The provider calls back late for the first reference
	// THEN: No error, nothing applied, the mismatch names the new reference

	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	first := sendOne(t, env, "emp-1")

	_, err := env.svc.FailPayment(ctx, first, "card blocked")
	require.NoError(t, err)
	res := env.svc.SendToProvider(ctx, []benefit.Key{key("emp-1")}, time.Second)
	require.Len(t, res.Submitted, 1)
	second := res.Submitted[0].Reference

	late, err := env.svc.FailPayment(ctx, first, "card blocked")
	require.NoError(t, err)
	assert.False(t, late.Applied)
	assert.Equal(t, key("emp-1"), late.Key)
	assert.Equal(t, "reference superseded by "+second, late.Mismatch)

	late, err = env.svc.ConfirmPayment(ctx, first)
	require.NoError(t, err)
	assert.False(t, late.Applied)

	r, err := env.svc.Get(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, benefit.StatusApproved, r.Status)
	assert.True(t, r.Flash.Sent)
	assert.Equal(t, second, r.Flash.Reference)
	assert.Equal(t, benefit.FlashProcessing, r.Flash.Status)

	history, err := env.svc.History(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, benefit.ActionCallbackMismatch, history[len(history)-1].Action)

	// The current reference still settles the record.
	out, err := env.svc.ConfirmPayment(ctx, second)
	require.NoError(t, err)
	assert.True(t, out.Applied)
}

func TestService_ReconcileProcessing(t *testing.T) {
	env := newTestEnv(t, "emp-1", "emp-2")
	ctx := context.Background()
	paid := sendOne(t, env, "emp-1")
	failed := sendOne(t, env, "emp-2")
	env.provider.statuses[paid] = benefit.ProviderStatus{Reference: paid, State: benefit.ProviderCompleted}
	env.provider.statuses[failed] = benefit.ProviderStatus{Reference: failed, State: benefit.ProviderFailed, Reason: "expired"}

	// Too recent: nothing happens.
	outcomes, err := env.svc.ReconcileProcessing(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	env.now = env.now.Add(2 * time.Hour)
	outcomes, err = env.svc.ReconcileProcessing(ctx, time.Hour)
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)

	r1, err := env.svc.Get(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Equal(t, benefit.StatusPaid, r1.Status)

	r2, err := env.svc.Get(ctx, key("emp-2"))
	require.NoError(t, err)
	assert.Equal(t, benefit.StatusApproved, r2.Status)
	assert.Equal(t, "expired", r2.Flash.FailureReason)
}

// =============================================================================
// READS
// =============================================================================

func TestService_List(t *testing.T) {
	env := newTestEnv(t, "emp-1", "emp-2")
	ctx := context.Background()
	env.approved(t, "emp-2")
	_, err := env.svc.Create(ctx, key("emp-1"), standardConfig(), 0, "", "ops")
	require.NoError(t, err)

	p := may2025
	all, err := env.svc.List(ctx, benefit.Filter{Period: &p})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, benefit.EmployeeID("emp-1"), all[0].Key.EmployeeID)

	approved := benefit.StatusApproved
	only, err := env.svc.List(ctx, benefit.Filter{Period: &p, Status: &approved})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, benefit.EmployeeID("emp-2"), only[0].Key.EmployeeID)

	_, err = env.svc.List(ctx, benefit.Filter{})
	assert.ErrorIs(t, err, benefit.ErrValidation)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestService_AddDeduction_ConcurrentWritersOnOneRecord(t *testing.T) {
	// GIVEN: One Pending record
	// WHEN: 50 goroutines add a deduction to it at once
	// THEN: Every deduction is kept and each write bumped the version once

	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	_, err := env.svc.Create(ctx, key("emp-1"), standardConfig(), 0, "", "ops")
	require.NoError(t, err)

	const writers = 50
	start := make(chan struct{})
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.svc.AddDeduction(ctx, key("emp-1"), benefit.LegVR, benefit.Deduction{
				Amount: money("1"),
				Reason: fmt.Sprintf("writer %d", i),
				Type:   benefit.DeductionOther,
			}, "ops")
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	r, err := env.svc.Get(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Len(t, r.VR.Deductions, writers)
	assert.Equal(t, int64(1+writers), r.Version)
	assert.Equal(t, "755.00", r.VR.FinalAmount.StringFixed(2))
}

func TestService_ApproveRacingCancel_EndsCancelled(t *testing.T) {
	// GIVEN: A Calculated record
	// WHEN: Approve and Cancel run at the same time
	// THEN: Cancel always wins; Approve either ran first or sees Cancelled

	for i := 0; i < 20; i++ {
		env := newTestEnv(t, "emp-1")
		ctx := context.Background()
		cfg := standardConfig()
		_, err := env.svc.Calculate(ctx, key("emp-1"), &cfg, "ops")
		require.NoError(t, err)

		var approveErr, cancelErr error
		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, approveErr = env.svc.Approve(ctx, key("emp-1"), "manager")
		}()
		go func() {
			defer wg.Done()
			<-start
			_, cancelErr = env.svc.Cancel(ctx, key("emp-1"), "manager")
		}()
		close(start)
		wg.Wait()

		require.NoError(t, cancelErr)
		if approveErr != nil {
			var stateErr *benefit.InvalidStateError
			require.ErrorAs(t, approveErr, &stateErr)
			assert.Equal(t, benefit.StatusCancelled, stateErr.From)
		}

		r, err := env.svc.Get(ctx, key("emp-1"))
		require.NoError(t, err)
		assert.Equal(t, benefit.StatusCancelled, r.Status)
		if approveErr == nil {
			assert.Equal(t, int64(3), r.Version)
			assert.NotEmpty(t, r.ApprovedBy)
		} else {
			assert.Equal(t, int64(2), r.Version)
		}
	}
}

// staleStore answers every update with a version conflict, as when another
// process wrote the record between our read and our write.
type staleStore struct {
	*store.Memory
	mu      sync.Mutex
	updates int
}

func (s *staleStore) Upsert(ctx context.Context, r benefit.Record) (benefit.Record, error) {
	if r.Version == 0 {
		return s.Memory.Upsert(ctx, r)
	}
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	return benefit.Record{}, &benefit.ConflictError{Key: r.Key, ExpectedVersion: r.Version, ActualVersion: r.Version + 1}
}

func TestService_StaleWrite_ConflictSurfacedOnce(t *testing.T) {
	// GIVEN: A store whose stored version moved under the service
	// WHEN: A mutation is written
	// THEN: The ConflictError comes back unchanged and is not retried

	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	stale := &staleStore{Memory: env.mem}
	env.svc.Store = stale

	_, err := env.svc.Create(ctx, key("emp-1"), standardConfig(), 0, "", "ops")
	require.NoError(t, err)

	_, err = env.svc.AddDeduction(ctx, key("emp-1"), benefit.LegVR, benefit.Deduction{
		Amount: money("35"),
		Type:   benefit.DeductionAbsence,
	}, "ops")
	var conflict *benefit.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.ExpectedVersion)
	assert.Equal(t, int64(2), conflict.ActualVersion)
	assert.Equal(t, 1, stale.updates)

	r, err := env.mem.Get(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.Empty(t, r.VR.Deductions)
	assert.Equal(t, benefit.StatusPending, r.Status)
}

// =============================================================================
// SUBMISSION BOOKKEEPING
// =============================================================================

// flakyStore fails the next writes that carry a provider reference.
type flakyStore struct {
	*store.Memory
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Upsert(ctx context.Context, r benefit.Record) (benefit.Record, error) {
	s.mu.Lock()
	fail := r.Flash.Reference != "" && s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return benefit.Record{}, errors.New("connection reset")
	}
	return s.Memory.Upsert(ctx, r)
}

func TestService_SendToProvider_StoreHiccupAfterAcceptance(t *testing.T) {
	// GIVEN: The provider accepts an order but the first write of the
	//        reference fails
	// WHEN: Sending, then sending again
	// THEN: The record still learns the reference and is never paid twice

	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	env.approved(t, "emp-1")
	env.svc.Store = &flakyStore{Memory: env.mem, failures: 1}

	res := env.svc.SendToProvider(ctx, []benefit.Key{key("emp-1")}, time.Second)
	require.Len(t, res.Submitted, 1)
	ref := res.Submitted[0].Reference

	r, err := env.mem.Get(ctx, key("emp-1"))
	require.NoError(t, err)
	assert.True(t, r.Flash.Sent)
	assert.Equal(t, ref, r.Flash.Reference)
	assert.Equal(t, benefit.FlashProcessing, r.Flash.Status)

	again := env.svc.SendToProvider(ctx, []benefit.Key{key("emp-1")}, time.Second)
	require.Len(t, again.Failed, 1)
	assert.ErrorIs(t, again.Failed[0].Err, benefit.ErrInvalidState)
	assert.Len(t, env.provider.orders, 1)
}

func TestService_SendToProvider_StoreDownAfterAcceptance(t *testing.T) {
	env := newTestEnv(t, "emp-1")
	ctx := context.Background()
	env.approved(t, "emp-1")
	env.svc.Store = &flakyStore{Memory: env.mem, failures: 2}

	res := env.svc.SendToProvider(ctx, []benefit.Key{key("emp-1")}, time.Second)
	require.Len(t, res.Failed, 1)
	require.Len(t, env.provider.orders, 1)
	// The failure names the accepted reference for manual reconciliation.
	assert.Contains(t, res.Failed[0].Err.Error(), "FL-emp-1-1")
}
