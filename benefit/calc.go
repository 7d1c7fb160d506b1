/*
calc.go - Calculation engine

PURPOSE:
  Turns a benefit configuration and the deductions recorded so far into
  the amounts stored on a record. Pure functions: no clock, no store, no
  logging. Running them twice on the same input gives the same output.

FORMULAS:
  VR total = dailyValue × (businessDays + saturdays)
  VT total = fixedAmount            when fixedAmount > 0
           = dailyValue × totalDays otherwise
  Mobility = monthlyValue
  final    = max(0, total − Σ deductions)

  A disabled leg computes to zero; its deductions are kept.

ROUNDING:
  Amounts are rounded to cents (2 places, half away from zero) after each
  multiplication and after the deduction subtraction.

SEE ALSO:
  - workflow.go: Writes the result back and moves Pending → Calculated
*/
package benefit

import (
	"github.com/shopspring/decimal"
)

const centPlaces = 2

// Cents rounds an amount to two decimal places.
func Cents(d decimal.Decimal) decimal.Decimal { return d.Round(centPlaces) }

// =============================================================================
// INPUTS / RESULTS
// =============================================================================

type VRInput struct {
	Enabled      bool
	DailyValue   decimal.Decimal
	BusinessDays int
	Saturdays    int
	Deductions   []Deduction
}

type VRResult struct {
	TotalDays   int
	TotalAmount decimal.Decimal
	FinalAmount decimal.Decimal
}

type VTInput struct {
	Enabled     bool
	FixedAmount decimal.Decimal
	DailyValue  decimal.Decimal
	TotalDays   int
	Deductions  []Deduction
}

type VTResult struct {
	TotalAmount decimal.Decimal
	FinalAmount decimal.Decimal
}

type MobilityInput struct {
	Enabled      bool
	MonthlyValue decimal.Decimal
}

// Calculation is the engine output for a whole record.
type Calculation struct {
	VR          VRResult
	VT          VTResult
	Mobility    decimal.Decimal
	TotalAmount decimal.Decimal
}

// =============================================================================
// ENGINE
// =============================================================================

// CalculateVR computes the meal voucher leg.
func CalculateVR(in VRInput) (VRResult, error) {
	if in.DailyValue.IsNegative() {
		return VRResult{}, &ValidationError{Field: "vr.daily_value", Value: in.DailyValue, Reason: "must not be negative"}
	}
	if in.BusinessDays < 0 {
		return VRResult{}, &ValidationError{Field: "vr.business_days", Value: in.BusinessDays, Reason: "must not be negative"}
	}
	if in.Saturdays < 0 {
		return VRResult{}, &ValidationError{Field: "vr.saturdays", Value: in.Saturdays, Reason: "must not be negative"}
	}
	deducted, err := sumDeductions("vr", in.Deductions)
	if err != nil {
		return VRResult{}, err
	}

	days := in.BusinessDays + in.Saturdays
	if !in.Enabled {
		return VRResult{TotalDays: days, TotalAmount: decimal.Zero, FinalAmount: decimal.Zero}, nil
	}

	total := Cents(in.DailyValue.Mul(decimal.NewFromInt(int64(days))))
	return VRResult{
		TotalDays:   days,
		TotalAmount: total,
		FinalAmount: netOf(total, deducted),
	}, nil
}

// CalculateVT computes the transport voucher leg.
func CalculateVT(in VTInput) (VTResult, error) {
	if in.FixedAmount.IsNegative() {
		return VTResult{}, &ValidationError{Field: "vt.fixed_amount", Value: in.FixedAmount, Reason: "must not be negative"}
	}
	if in.DailyValue.IsNegative() {
		return VTResult{}, &ValidationError{Field: "vt.daily_value", Value: in.DailyValue, Reason: "must not be negative"}
	}
	if in.TotalDays < 0 {
		return VTResult{}, &ValidationError{Field: "vt.total_days", Value: in.TotalDays, Reason: "must not be negative"}
	}
	deducted, err := sumDeductions("vt", in.Deductions)
	if err != nil {
		return VTResult{}, err
	}

	if !in.Enabled {
		return VTResult{TotalAmount: decimal.Zero, FinalAmount: decimal.Zero}, nil
	}

	var total decimal.Decimal
	if in.FixedAmount.IsPositive() {
		total = Cents(in.FixedAmount)
	} else {
		total = Cents(in.DailyValue.Mul(decimal.NewFromInt(int64(in.TotalDays))))
	}
	return VTResult{TotalAmount: total, FinalAmount: netOf(total, deducted)}, nil
}

// CalculateMobility returns the monthly allowance, zero when disabled.
func CalculateMobility(in MobilityInput) (decimal.Decimal, error) {
	if in.MonthlyValue.IsNegative() {
		return decimal.Zero, &ValidationError{Field: "mobility.monthly_value", Value: in.MonthlyValue, Reason: "must not be negative"}
	}
	if !in.Enabled {
		return decimal.Zero, nil
	}
	return Cents(in.MonthlyValue), nil
}

// Calculate runs all three legs.
func Calculate(cfg Configuration, vrDeductions, vtDeductions []Deduction) (Calculation, error) {
	vr, err := CalculateVR(VRInput{
		Enabled:      cfg.VR.Enabled,
		DailyValue:   cfg.VR.DailyValue,
		BusinessDays: cfg.VR.BusinessDays,
		Saturdays:    cfg.VR.Saturdays,
		Deductions:   vrDeductions,
	})
	if err != nil {
		return Calculation{}, err
	}
	vt, err := CalculateVT(VTInput{
		Enabled:     cfg.VT.Enabled,
		FixedAmount: cfg.VT.FixedAmount,
		DailyValue:  cfg.VT.DailyValue,
		TotalDays:   cfg.VT.TotalDays,
		Deductions:  vtDeductions,
	})
	if err != nil {
		return Calculation{}, err
	}
	mobility, err := CalculateMobility(MobilityInput{
		Enabled:      cfg.Mobility.Enabled,
		MonthlyValue: cfg.Mobility.MonthlyValue,
	})
	if err != nil {
		return Calculation{}, err
	}

	return Calculation{
		VR:          vr,
		VT:          vt,
		Mobility:    mobility,
		TotalAmount: vr.FinalAmount.Add(vt.FinalAmount).Add(mobility),
	}, nil
}

// CalculateRecord runs the engine over the inputs stored on a record.
func CalculateRecord(r Record) (Calculation, error) {
	return Calculate(r.Configuration(), r.VR.Deductions, r.VT.Deductions)
}

// Apply writes engine output into the record. Status is not touched.
func Apply(r *Record, calc Calculation) {
	r.VR.TotalDays = calc.VR.TotalDays
	r.VR.TotalAmount = calc.VR.TotalAmount
	r.VR.FinalAmount = calc.VR.FinalAmount
	r.VT.TotalAmount = calc.VT.TotalAmount
	r.VT.FinalAmount = calc.VT.FinalAmount
	r.TotalAmount = calc.TotalAmount
}

func sumDeductions(leg string, deductions []Deduction) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, d := range deductions {
		if d.Amount.IsNegative() {
			return decimal.Zero, &ValidationError{Field: leg + ".deduction.amount", Value: d.Amount, Reason: "must not be negative"}
		}
		sum = sum.Add(d.Amount)
	}
	return sum, nil
}

// netOf clamps total − deducted at zero.
func netOf(total, deducted decimal.Decimal) decimal.Decimal {
	net := Cents(total.Sub(deducted))
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}
