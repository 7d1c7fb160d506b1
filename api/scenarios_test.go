/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Employees and holidays are created
	- Records reach the advertised statuses
	- Amounts and statistics match the profiles

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/warp/benefits-engine/benefit"
)

// May 2025: 22 weekdays, Labour Day on Thursday the 1st.
var scenarioPeriod = benefit.NewPeriod(2025, time.May)

func loadScenario(t *testing.T, id string) *testEnv {
	t.Helper()
	env := setupTestHandler(t)
	load, ok := scenarioLoaders[id]
	if !ok {
		t.Fatalf("Scenario %s has no loader", id)
	}
	if err := load(env.handler, context.Background(), scenarioPeriod); err != nil {
		t.Fatalf("Failed to load %s scenario: %v", id, err)
	}
	return env
}

func getRecord(t *testing.T, env *testEnv, employeeID benefit.EmployeeID) benefit.Record {
	t.Helper()
	r, err := env.store.Get(context.Background(), benefit.Key{EmployeeID: employeeID, Period: scenarioPeriod})
	if err != nil {
		t.Fatalf("Failed to get record for %s: %v", employeeID, err)
	}
	return r
}

func TestScenarios_AllHaveLoaders(t *testing.T) {
	for _, s := range scenarios {
		if _, ok := scenarioLoaders[s.ID]; !ok {
			t.Errorf("Scenario %s is listed but has no loader", s.ID)
		}
	}
	if len(scenarioLoaders) != len(scenarios) {
		t.Errorf("Expected %d loaders, got %d", len(scenarios), len(scenarioLoaders))
	}
}

func TestScenario_MonthlyRun(t *testing.T) {
	// GIVEN: Monthly run scenario
	// WHEN: Loading the scenario
	// THEN: One record per lifecycle stage, holidays applied to the day count

	env := loadScenario(t, "monthly-run")
	ctx := context.Background()

	employees, err := env.store.ListEmployees(ctx)
	if err != nil {
		t.Fatalf("Failed to list employees: %v", err)
	}
	if len(employees) != 3 {
		t.Errorf("Expected 3 employees, got %d", len(employees))
	}

	holidays, err := env.store.ListHolidays(ctx)
	if err != nil {
		t.Fatalf("Failed to list holidays: %v", err)
	}
	if len(holidays) != len(nationalHolidays) {
		t.Errorf("Expected %d holidays, got %d", len(nationalHolidays), len(holidays))
	}

	ana := getRecord(t, env, "emp-001")
	if ana.Status != benefit.StatusPending {
		t.Errorf("Expected emp-001 Pending, got %s", ana.Status)
	}
	if ana.VR.BusinessDays != 21 {
		t.Errorf("Expected 21 business days after Labour Day, got %d", ana.VR.BusinessDays)
	}

	bruno := getRecord(t, env, "emp-002")
	if bruno.Status != benefit.StatusCalculated {
		t.Errorf("Expected emp-002 Calculated, got %s", bruno.Status)
	}
	// VR 30 × 21 + VT fixed 220
	if got := bruno.TotalAmount.StringFixed(2); got != "850.00" {
		t.Errorf("Expected emp-002 total 850.00, got %s", got)
	}

	carla := getRecord(t, env, "emp-003")
	if carla.Status != benefit.StatusApproved {
		t.Errorf("Expected emp-003 Approved, got %s", carla.Status)
	}
	if carla.ApprovedBy == "" || carla.ApprovedAt == nil {
		t.Error("Expected emp-003 to carry its approver")
	}
}

func TestScenario_Deductions(t *testing.T) {
	env := loadScenario(t, "deductions")

	ana := getRecord(t, env, "emp-001")
	if len(ana.VR.Deductions) != 2 || len(ana.VT.Deductions) != 1 {
		t.Fatalf("Expected 2 VR and 1 VT deductions, got %d and %d", len(ana.VR.Deductions), len(ana.VT.Deductions))
	}
	// VR 35 × 21 = 735 − 105
	if got := ana.VR.FinalAmount.StringFixed(2); got != "630.00" {
		t.Errorf("Expected VR final 630.00, got %s", got)
	}
	// VT 8.80 × 21 = 184.80 − 17.60
	if got := ana.VT.FinalAmount.StringFixed(2); got != "167.20" {
		t.Errorf("Expected VT final 167.20, got %s", got)
	}

	bruno := getRecord(t, env, "emp-002")
	if !bruno.VT.FinalAmount.IsZero() {
		t.Errorf("Expected VT floored at zero, got %s", bruno.VT.FinalAmount)
	}
	if bruno.VT.TotalAmount.IsZero() {
		t.Error("Expected VT total to be kept before deductions")
	}
}

func TestScenario_PaymentCycle(t *testing.T) {
	// GIVEN: Payment cycle scenario
	// WHEN: Loading the scenario
	// THEN: One record paid, one failed and flagged, one still processing

	env := loadScenario(t, "payment-cycle")

	ana := getRecord(t, env, "emp-001")
	if ana.Status != benefit.StatusPaid || ana.Flash.Status != benefit.FlashCompleted {
		t.Errorf("Expected emp-001 Paid/Completed, got %s/%s", ana.Status, ana.Flash.Status)
	}

	bruno := getRecord(t, env, "emp-002")
	if bruno.Status != benefit.StatusApproved {
		t.Errorf("Expected emp-002 to stay Approved, got %s", bruno.Status)
	}
	if bruno.Flash.Status != benefit.FlashFailed || !bruno.Flash.NeedsRetry || bruno.Flash.Sent {
		t.Errorf("Expected emp-002 failed and flagged for retry, got %+v", bruno.Flash)
	}
	if bruno.Flash.FailureReason != "card blocked" {
		t.Errorf("Expected failure reason 'card blocked', got %q", bruno.Flash.FailureReason)
	}

	carla := getRecord(t, env, "emp-003")
	if carla.Flash.Status != benefit.FlashProcessing || carla.Flash.Reference == "" {
		t.Errorf("Expected emp-003 processing with a reference, got %+v", carla.Flash)
	}
}

func TestScenario_Cancellations(t *testing.T) {
	env := loadScenario(t, "cancellations")

	stats, err := env.handler.Reporter.Statistics(context.Background(), scenarioPeriod)
	if err != nil {
		t.Fatalf("Failed to compute statistics: %v", err)
	}
	if stats.CancelledCount != 2 {
		t.Errorf("Expected 2 cancelled records, got %d", stats.CancelledCount)
	}
	if stats.EmployeeCount != 1 {
		t.Errorf("Expected 1 counted employee, got %d", stats.EmployeeCount)
	}
	// Only Carla: VR 40 × 21 + mobility 150
	if got := stats.TotalAmount.StringFixed(2); got != "990.00" {
		t.Errorf("Expected total 990.00, got %s", got)
	}
}

func TestLoadScenario_ResetsAndTracksCurrent(t *testing.T) {
	env := setupTestHandler(t)
	env.seedEmployee(t, "emp-stale")

	rec := env.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "monthly-run"})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if _, err := env.store.GetEmployee(context.Background(), "emp-stale"); !benefit.IsNotFound(err) {
		t.Errorf("Expected stale employee to be gone, got %v", err)
	}

	rec = env.do(t, http.MethodGet, "/api/scenarios/current", nil)
	current := decodeBody[ScenarioDTO](t, rec)
	if current.ID != "monthly-run" {
		t.Errorf("Expected current scenario monthly-run, got %q", current.ID)
	}

	rec = env.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown scenario, got %d", rec.Code)
	}
}

func TestScenarios_HiddenOutsideDevMode(t *testing.T) {
	env := setupTestHandler(t)
	env.handler.DevMode = false
	env.router = NewRouter(env.handler, RouterOptions{})

	rec := env.do(t, http.MethodGet, "/api/scenarios", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 outside dev mode, got %d", rec.Code)
	}
}
