package benefit

import (
	"context"

	"github.com/shopspring/decimal"
)

// Statistics aggregates one period. Cancelled records are counted but
// contribute nothing to the money totals or the employee count.
type Statistics struct {
	Period          Period          `json:"period"`
	TotalVR         decimal.Decimal `json:"total_vr"`
	TotalVT         decimal.Decimal `json:"total_vt"`
	TotalMobility   decimal.Decimal `json:"total_mobility"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	EmployeeCount   int             `json:"employee_count"`
	PendingCount    int             `json:"pending_count"`
	CalculatedCount int             `json:"calculated_count"`
	ApprovedCount   int             `json:"approved_count"`
	PaidCount       int             `json:"paid_count"`
	CancelledCount  int             `json:"cancelled_count"`
	FailedPayments  int             `json:"failed_payments"`
}

// Reporter is the read-only facade over a Store.
type Reporter struct {
	Store Store
}

func NewReporter(store Store) *Reporter {
	return &Reporter{Store: store}
}

// Statistics computes the aggregate for a period from its records.
func (rp *Reporter) Statistics(ctx context.Context, p Period) (Statistics, error) {
	if !p.Valid() {
		return Statistics{}, &ValidationError{Field: "period", Value: p, Reason: "month must be 1-12 and year >= 2000"}
	}
	records, err := rp.Store.ListByPeriod(ctx, p)
	if err != nil {
		return Statistics{}, err
	}
	return Summarize(p, records), nil
}

// Summarize is the pure aggregation behind Statistics.
func Summarize(p Period, records []Record) Statistics {
	st := Statistics{
		Period:        p,
		TotalVR:       decimal.Zero,
		TotalVT:       decimal.Zero,
		TotalMobility: decimal.Zero,
		TotalAmount:   decimal.Zero,
	}
	for _, r := range records {
		switch r.Status {
		case StatusPending:
			st.PendingCount++
		case StatusCalculated:
			st.CalculatedCount++
		case StatusApproved:
			st.ApprovedCount++
		case StatusPaid:
			st.PaidCount++
		case StatusCancelled:
			st.CancelledCount++
			continue
		}
		if r.Flash.Status == FlashFailed {
			st.FailedPayments++
		}

		st.EmployeeCount++
		if r.VR.Enabled {
			st.TotalVR = st.TotalVR.Add(r.VR.FinalAmount)
		}
		if r.VT.Enabled {
			st.TotalVT = st.TotalVT.Add(r.VT.FinalAmount)
		}
		if r.Mobility.Enabled {
			st.TotalMobility = st.TotalMobility.Add(Cents(r.Mobility.MonthlyValue))
		}
		st.TotalAmount = st.TotalAmount.Add(r.TotalAmount)
	}
	return st
}
