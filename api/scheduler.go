/*
scheduler.go - Automated payment reconciliation

PURPOSE:
  Flash reports settlements through a webhook, but webhooks get lost.
  The reconciler periodically asks Flash about submissions that have
  been Processing for too long and applies the terminal answers as if
  the webhook had arrived.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Only looks at Approved records whose flash status is Processing and
    whose submission is older than PollAfter
  - Completed → ConfirmPayment, Failed → FailPayment, anything else waits
  - Never re-submits; a failed payment stays flagged for the operator

CONFIGURATION:
  - CheckInterval: How often to check (FLASH_POLL_INTERVAL, 0 disables)
  - PollAfter:     Minimum age of a submission (FLASH_POLL_AFTER)

USAGE:
  reconciler := NewPaymentReconciler(svc, interval, pollAfter, logger)
  reconciler.Start()
  // ... later
  reconciler.Stop()

SEE ALSO:
  - benefit/workflow.go: ReconcileProcessing, ConfirmPayment, FailPayment
  - handlers.go: FlashCallback (the webhook path)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/benefits-engine/benefit"
	"go.uber.org/zap"
)

// PaymentReconciler polls the provider for stuck submissions.
type PaymentReconciler struct {
	Service       *benefit.Service
	CheckInterval time.Duration
	PollAfter     time.Duration
	Logger        *zap.Logger

	// Timeout bounds one reconciliation pass.
	Timeout time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPaymentReconciler creates a reconciler. An interval of zero disables it.
func NewPaymentReconciler(svc *benefit.Service, interval, pollAfter time.Duration, logger *zap.Logger) *PaymentReconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentReconciler{
		Service:       svc,
		CheckInterval: interval,
		PollAfter:     pollAfter,
		Logger:        logger.Named("reconciler"),
		Timeout:       2 * time.Minute,
	}
}

// Enabled reports whether Start will launch the loop.
func (pr *PaymentReconciler) Enabled() bool { return pr.CheckInterval > 0 }

// Start begins the reconciler.
func (pr *PaymentReconciler) Start() {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if !pr.Enabled() {
		pr.Logger.Info("disabled, not starting")
		return
	}
	if pr.ticker != nil {
		return
	}

	pr.ticker = time.NewTicker(pr.CheckInterval)
	pr.stop = make(chan struct{})
	pr.wg.Add(1)

	go pr.run()

	pr.Logger.Info("started",
		zap.Duration("check_interval", pr.CheckInterval), zap.Duration("poll_after", pr.PollAfter))
}

// Stop stops the reconciler and waits for a running pass to finish.
func (pr *PaymentReconciler) Stop() {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.ticker != nil {
		pr.ticker.Stop()
		close(pr.stop)
		pr.wg.Wait()
		pr.ticker = nil
		pr.Logger.Info("stopped")
	}
}

func (pr *PaymentReconciler) run() {
	defer pr.wg.Done()

	for {
		select {
		case <-pr.ticker.C:
			pr.RunNow(context.Background())
		case <-pr.stop:
			return
		}
	}
}

// RunNow performs one reconciliation pass and returns what it applied.
func (pr *PaymentReconciler) RunNow(ctx context.Context) []benefit.CallbackOutcome {
	if pr.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pr.Timeout)
		defer cancel()
	}

	outcomes, err := pr.Service.ReconcileProcessing(ctx, pr.PollAfter)
	if err != nil {
		pr.Logger.Error("reconciliation failed", zap.Error(err))
		return nil
	}

	applied, mismatched := 0, 0
	for _, o := range outcomes {
		if o.Applied {
			applied++
		} else {
			mismatched++
		}
	}
	if len(outcomes) > 0 {
		pr.Logger.Info("reconciliation completed",
			zap.Int("applied", applied), zap.Int("mismatched", mismatched))
	}
	return outcomes
}
