package benefit

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentOrder is what the provider needs to disburse one record.
type PaymentOrder struct {
	RecordID      string
	Key           Key
	EmployeeName  string
	EmployeeEmail string
	VR            decimal.Decimal
	VT            decimal.Decimal
	Mobility      decimal.Decimal
	Total         decimal.Decimal
}

// Receipt acknowledges a submission.
type Receipt struct {
	Reference string
}

// ProviderState is the provider's view of a submission.
type ProviderState string

const (
	ProviderProcessing ProviderState = "processing"
	ProviderCompleted  ProviderState = "completed"
	ProviderFailed     ProviderState = "failed"
)

type ProviderStatus struct {
	Reference string
	State     ProviderState
	Reason    string
}

// Provider is the external payment collaborator. Submit must honor ctx
// cancellation; a deadline exceeded is reported to the operator as a
// timeout failure.
type Provider interface {
	Submit(ctx context.Context, order PaymentOrder) (Receipt, error)
	Status(ctx context.Context, reference string) (ProviderStatus, error)
}

// RejectionError is returned by a Provider that answered but refused
// the order.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return "payment rejected: " + e.Reason }
