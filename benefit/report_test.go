package benefit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefits-engine/benefit"
)

func TestReporter_Statistics(t *testing.T) {
	// GIVEN: One paid, one failed submission, one calculated and one cancelled record
	// WHEN: Computing the period statistics
	// THEN: Cancelled contributes to its count only

	env := newTestEnv(t, "emp-1", "emp-2", "emp-3", "emp-4")
	ctx := context.Background()

	ref := sendOne(t, env, "emp-1")
	_, err := env.svc.ConfirmPayment(ctx, ref)
	require.NoError(t, err)

	env.approved(t, "emp-2")
	env.provider.reject["emp-2"] = "no account"
	env.svc.SendToProvider(ctx, []benefit.Key{key("emp-2")}, time.Second)

	cfg := standardConfig()
	cfg.Mobility = benefit.MobilityConfig{Enabled: true, MonthlyValue: money("100")}
	_, err = env.svc.Calculate(ctx, key("emp-3"), &cfg, "ops")
	require.NoError(t, err)

	env.approved(t, "emp-4")
	_, err = env.svc.Cancel(ctx, key("emp-4"), "ops")
	require.NoError(t, err)

	st, err := benefit.NewReporter(env.mem).Statistics(ctx, may2025)
	require.NoError(t, err)

	assert.Equal(t, 3, st.EmployeeCount)
	assert.Equal(t, 1, st.PaidCount)
	assert.Equal(t, 1, st.ApprovedCount)
	assert.Equal(t, 1, st.CalculatedCount)
	assert.Equal(t, 1, st.CancelledCount)
	assert.Equal(t, 0, st.PendingCount)
	assert.Equal(t, 1, st.FailedPayments)
	assert.Equal(t, "2415.00", st.TotalVR.StringFixed(2))
	assert.Equal(t, "660.00", st.TotalVT.StringFixed(2))
	assert.Equal(t, "100.00", st.TotalMobility.StringFixed(2))
	assert.Equal(t, "3175.00", st.TotalAmount.StringFixed(2))
}

func TestReporter_EmptyPeriod(t *testing.T) {
	env := newTestEnv(t)

	st, err := benefit.NewReporter(env.mem).Statistics(context.Background(), benefit.NewPeriod(2024, time.January))
	require.NoError(t, err)
	assert.Zero(t, st.EmployeeCount)
	assert.True(t, st.TotalAmount.IsZero())
}

func TestReporter_InvalidPeriod(t *testing.T) {
	env := newTestEnv(t)

	_, err := benefit.NewReporter(env.mem).Statistics(context.Background(), benefit.NewPeriod(2024, 13))
	assert.ErrorIs(t, err, benefit.ErrValidation)
}
