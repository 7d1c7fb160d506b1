package api

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefits-engine/benefit"
	"github.com/warp/benefits-engine/benefit/store"
	"github.com/warp/benefits-engine/flash"
	"go.uber.org/zap"
)

func approvedAndSent(t *testing.T, svc *benefit.Service, key benefit.Key) {
	t.Helper()
	ctx := context.Background()
	cfg := benefit.Configuration{VR: benefit.VRConfig{Enabled: true, DailyValue: decimal.NewFromInt(35), BusinessDays: 21}}

	_, err := svc.Calculate(ctx, key, &cfg, "ops")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, key, "ops")
	require.NoError(t, err)
	result := svc.SendToProvider(ctx, []benefit.Key{key}, time.Second)
	require.Len(t, result.Submitted, 1)
}

func TestPaymentReconciler_SettlesStuckSubmissions(t *testing.T) {
	// GIVEN: A submission Flash settled but never reported via webhook
	// WHEN: The reconciler runs after the poll delay
	// THEN: The record is Paid

	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.SaveEmployee(ctx, benefit.Employee{ID: "emp-1", FirstName: "Ana", LastName: "Souza", Active: true}))

	now := time.Date(2025, 6, 5, 9, 0, 0, 0, time.UTC)
	sandbox := flash.NewSandbox(10 * time.Minute)
	sandbox.Now = func() time.Time { return now }

	svc := benefit.NewService(mem, mem, sandbox, mem, zap.NewNop())
	svc.Now = func() time.Time { return now }

	key := benefit.NewKey("emp-1", 2025, time.May)
	approvedAndSent(t, svc, key)

	reconciler := NewPaymentReconciler(svc, time.Minute, 30*time.Minute, nil)

	// Too early: nothing is polled
	now = now.Add(5 * time.Minute)
	assert.Empty(t, reconciler.RunNow(ctx))

	now = now.Add(30 * time.Minute)
	outcomes := reconciler.RunNow(ctx)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Applied)

	r, err := mem.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, benefit.StatusPaid, r.Status)

	// Nothing left to do
	assert.Empty(t, reconciler.RunNow(ctx))
}

func TestPaymentReconciler_DisabledWithZeroInterval(t *testing.T) {
	reconciler := NewPaymentReconciler(nil, 0, time.Minute, nil)
	assert.False(t, reconciler.Enabled())

	reconciler.Start()
	reconciler.Stop()
}

func TestPaymentReconciler_StartStop(t *testing.T) {
	mem := store.NewMemory()
	svc := benefit.NewService(mem, mem, flash.NewSandbox(0), mem, zap.NewNop())

	reconciler := NewPaymentReconciler(svc, 10*time.Millisecond, 0, nil)
	reconciler.Start()
	time.Sleep(30 * time.Millisecond)
	reconciler.Stop()
	reconciler.Stop()
}
