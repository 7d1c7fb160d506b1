/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario creates employees, the national holiday
	calendar and benefit records in the states a month-end run goes through.

AVAILABLE SCENARIOS:

	monthly-run:    Three employees, one record per lifecycle stage
	deductions:     Absences and sick leave reducing VR and VT
	payment-cycle:  Records handed to Flash, one paid and one failed
	cancellations:  Cancelled records left out of the statistics

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create the national holidays (recurring)
 3. Create employees with their benefit profiles
 4. Drive records through benefit.Service, so every step is audited

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "payment-cycle"}

NOTE:

	Scenarios reset the database and are only routed in development.
	Records are created for the current month.

SEE ALSO:
  - handlers.go: Handler dependencies
  - factory/configuration.go: FromProfile
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/benefits-engine/benefit"
	"go.uber.org/zap"
)

const scenarioActor = "scenario"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "monthly-run",
		Name:        "Monthly Run",
		Description: "Three employees with records Pending, Calculated and Approved",
	},
	{
		ID:          "deductions",
		Name:        "Deductions",
		Description: "Absence and sick leave deductions on VR and VT",
	},
	{
		ID:          "payment-cycle",
		Name:        "Payment Cycle",
		Description: "Approved records sent to Flash; one paid, one failed and flagged for retry",
	},
	{
		ID:          "cancellations",
		Name:        "Cancellations",
		Description: "Cancelled records are kept but excluded from the totals",
	},
}

var scenarioLoaders = map[string]func(*Handler, context.Context, benefit.Period) error{
	"monthly-run":   (*Handler).loadMonthlyRunScenario,
	"deductions":    (*Handler).loadDeductionsScenario,
	"payment-cycle": (*Handler).loadPaymentCycleScenario,
	"cancellations": (*Handler).loadCancellationsScenario,
}

// nationalHolidays are the fixed-date Brazilian national holidays.
var nationalHolidays = []struct {
	month time.Month
	day   int
	name  string
}{
	{time.January, 1, "Confraternização Universal"},
	{time.April, 21, "Tiradentes"},
	{time.May, 1, "Dia do Trabalho"},
	{time.September, 7, "Independência do Brasil"},
	{time.October, 12, "Nossa Senhora Aparecida"},
	{time.November, 2, "Finados"},
	{time.November, 15, "Proclamação da República"},
	{time.November, 20, "Dia da Consciência Negra"},
	{time.December, 25, "Natal"},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		h.writeFailure(w, r, &benefit.ValidationError{Field: "scenario_id", Value: req.ScenarioID, Reason: "unknown scenario"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeFailure(w, r, fmt.Errorf("reset database: %w", err))
		return
	}
	h.currentScenario = ""

	now := h.Now()
	if err := load(h, ctx, benefit.NewPeriod(now.Year(), now.Month())); err != nil {
		h.writeFailure(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadMonthlyRunScenario(ctx context.Context, p benefit.Period) error {
	if err := h.seedBase(ctx); err != nil {
		return err
	}

	// Ana: left Pending so the operator can review the prefilled inputs.
	if _, err := h.createFromProfile(ctx, benefit.Key{EmployeeID: "emp-001", Period: p}); err != nil {
		return err
	}

	// Bruno: calculated, waiting for approval.
	if _, err := h.calculateFromProfile(ctx, benefit.Key{EmployeeID: "emp-002", Period: p}); err != nil {
		return err
	}

	// Carla: approved, ready to be sent.
	key := benefit.Key{EmployeeID: "emp-003", Period: p}
	if _, err := h.calculateFromProfile(ctx, key); err != nil {
		return err
	}
	_, err := h.Service.Approve(ctx, key, "finance@warp.example")
	return err
}

func (h *Handler) loadDeductionsScenario(ctx context.Context, p benefit.Period) error {
	if err := h.seedBase(ctx); err != nil {
		return err
	}

	key := benefit.Key{EmployeeID: "emp-001", Period: p}
	if _, err := h.calculateFromProfile(ctx, key); err != nil {
		return err
	}
	deductions := []struct {
		leg    benefit.Leg
		day    int
		amount string
		dtype  benefit.DeductionType
		reason string
	}{
		{benefit.LegVR, 6, "35.00", benefit.DeductionAbsence, "Unjustified absence"},
		{benefit.LegVR, 13, "70.00", benefit.DeductionSickLeave, "Medical certificate, 2 days"},
		{benefit.LegVT, 13, "17.60", benefit.DeductionSickLeave, "Medical certificate, 2 days"},
	}
	for _, d := range deductions {
		_, err := h.Service.AddDeduction(ctx, key, d.leg, benefit.Deduction{
			Date:   time.Date(p.Year, p.Month, d.day, 0, 0, 0, 0, time.UTC),
			Amount: decimal.RequireFromString(d.amount),
			Type:   d.dtype,
			Reason: d.reason,
		}, scenarioActor)
		if err != nil {
			return err
		}
	}

	// A deduction larger than the leg floors it at zero.
	key = benefit.Key{EmployeeID: "emp-002", Period: p}
	if _, err := h.calculateFromProfile(ctx, key); err != nil {
		return err
	}
	_, err := h.Service.AddDeduction(ctx, key, benefit.LegVT, benefit.Deduction{
		Amount: decimal.RequireFromString("500.00"),
		Type:   benefit.DeductionVacation,
		Reason: "Vacation for the whole month",
	}, scenarioActor)
	return err
}

func (h *Handler) loadPaymentCycleScenario(ctx context.Context, p benefit.Period) error {
	if err := h.seedBase(ctx); err != nil {
		return err
	}

	var keys []benefit.Key
	for _, id := range []benefit.EmployeeID{"emp-001", "emp-002", "emp-003"} {
		key := benefit.Key{EmployeeID: id, Period: p}
		if _, err := h.calculateFromProfile(ctx, key); err != nil {
			return err
		}
		if _, err := h.Service.Approve(ctx, key, "finance@warp.example"); err != nil {
			return err
		}
		keys = append(keys, key)
	}

	result := h.Service.SendToProvider(ctx, keys, h.SendTimeout)
	if len(result.Failed) > 0 {
		return result.Failed[0].Err
	}

	refs := make(map[benefit.EmployeeID]string, len(result.Submitted))
	for _, s := range result.Submitted {
		refs[s.Key.EmployeeID] = s.Reference
	}
	if _, err := h.Service.ConfirmPayment(ctx, refs["emp-001"]); err != nil {
		return err
	}
	if _, err := h.Service.FailPayment(ctx, refs["emp-002"], "card blocked"); err != nil {
		return err
	}
	// emp-003 stays Processing until Flash answers.
	return nil
}

func (h *Handler) loadCancellationsScenario(ctx context.Context, p benefit.Period) error {
	if err := h.seedBase(ctx); err != nil {
		return err
	}

	// Terminated before the month closed.
	key := benefit.Key{EmployeeID: "emp-001", Period: p}
	if _, err := h.createFromProfile(ctx, key); err != nil {
		return err
	}
	if _, err := h.Service.Cancel(ctx, key, scenarioActor); err != nil {
		return err
	}

	// Approved by mistake, then withdrawn.
	key = benefit.Key{EmployeeID: "emp-002", Period: p}
	if _, err := h.calculateFromProfile(ctx, key); err != nil {
		return err
	}
	if _, err := h.Service.Approve(ctx, key, "finance@warp.example"); err != nil {
		return err
	}
	if _, err := h.Service.Cancel(ctx, key, scenarioActor); err != nil {
		return err
	}

	_, err := h.calculateFromProfile(ctx, benefit.Key{EmployeeID: "emp-003", Period: p})
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// seedBase creates the holiday calendar and the three demo employees.
func (h *Handler) seedBase(ctx context.Context) error {
	for _, nh := range nationalHolidays {
		_, err := h.Store.SaveHoliday(ctx, benefit.Holiday{
			ID:        fmt.Sprintf("br-%02d-%02d", int(nh.month), nh.day),
			Date:      time.Date(2000, nh.month, nh.day, 0, 0, 0, 0, time.UTC),
			Name:      nh.name,
			Recurring: true,
		})
		if err != nil {
			return err
		}
	}

	money := decimal.RequireFromString
	employees := []benefit.Employee{
		{
			ID: "emp-001", FirstName: "Ana", LastName: "Souza", Email: "ana.souza@warp.example",
			Department: "Engineering", EmploymentType: benefit.EmploymentCLT, Active: true,
			Profile: benefit.Profile{
				VREnabled: true, VRDailyValue: money("35.00"),
				VTEnabled: true, VTDailyValue: money("8.80"),
			},
		},
		{
			ID: "emp-002", FirstName: "Bruno", LastName: "Lima", Email: "bruno.lima@warp.example",
			Department: "Sales", EmploymentType: benefit.EmploymentCLT, Active: true,
			Profile: benefit.Profile{
				VREnabled: true, VRDailyValue: money("30.00"),
				VTEnabled: true, VTFixedAmount: money("220.00"),
			},
		},
		{
			ID: "emp-003", FirstName: "Carla", LastName: "Mendes", Email: "carla.mendes@warp.example",
			Department: "Operations", EmploymentType: benefit.EmploymentPJ, Active: true,
			Profile: benefit.Profile{
				VREnabled: true, VRDailyValue: money("40.00"),
				MobilityEnabled: true, MobilityMonthly: money("150.00"),
			},
		},
	}
	now := h.Now()
	for _, e := range employees {
		e.CreatedAt = now
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) createFromProfile(ctx context.Context, key benefit.Key) (benefit.Record, error) {
	cfg, err := h.configuration(ctx, key, nil)
	if err != nil {
		return benefit.Record{}, err
	}
	return h.Service.Create(ctx, key, cfg, benefit.PaymentFlash, "", scenarioActor)
}

func (h *Handler) calculateFromProfile(ctx context.Context, key benefit.Key) (benefit.Record, error) {
	cfg, err := h.configuration(ctx, key, nil)
	if err != nil {
		return benefit.Record{}, err
	}
	return h.Service.Calculate(ctx, key, &cfg, scenarioActor)
}
