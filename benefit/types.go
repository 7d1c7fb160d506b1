/*
Package benefit provides the benefit lifecycle engine.

PURPOSE:
  This package owns the monthly benefit record of every employee: the
  meal voucher (VR), the transport voucher (VT) and the mobility allowance.
  It calculates amounts, enforces the payment status state machine and
  hands approved records to the payment provider.

KEY CONCEPTS IN THIS FILE (types.go):
  - Period / Key: A record is identified by (employee, month, year)
  - Status: Closed enumeration of the payment lifecycle
  - Record: The benefit record with its three legs and provider state
  - Deduction: Append-only reduction of a VR or VT leg

DESIGN PRINCIPLES:
  1. Precision: All money is decimal.Decimal, rounded to cents
  2. Closed enums: Status, methods and types are integer-backed with a
     fixed wire name table, so unknown values fail at decode time
  3. Single owner: Records are owned by Service; employees are looked up,
     never owned

SEE ALSO:
  - calc.go: Calculation engine
  - workflow.go: Status transitions and provider hand-off
  - store.go: Persistence interfaces
*/
package benefit

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERIOD / KEY
// =============================================================================

// Period is a benefit month.
type Period struct {
	Month time.Month
	Year  int
}

func NewPeriod(year int, month time.Month) Period { return Period{Month: month, Year: year} }

// Valid reports whether the period names a real month.
func (p Period) Valid() bool {
	return p.Month >= time.January && p.Month <= time.December && p.Year >= 2000
}

func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month)) }

func (p Period) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Period) UnmarshalText(text []byte) error {
	parsed, err := ParsePeriod(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePeriod reads the "YYYY-MM" form produced by String.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, &ValidationError{Field: "period", Value: s, Reason: "expected YYYY-MM"}
	}
	p := NewPeriod(t.Year(), t.Month())
	if !p.Valid() {
		return Period{}, &ValidationError{Field: "period", Value: s, Reason: "year must be >= 2000"}
	}
	return p, nil
}

// Start returns the first day of the period (UTC).
func (p Period) Start() time.Time { return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC) }

// End returns the last day of the period (UTC).
func (p Period) End() time.Time { return p.Start().AddDate(0, 1, -1) }

// Before orders periods chronologically.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

type EmployeeID string

// Key identifies exactly one record.
type Key struct {
	EmployeeID EmployeeID
	Period     Period
}

func NewKey(employeeID string, year int, month time.Month) Key {
	return Key{EmployeeID: EmployeeID(employeeID), Period: NewPeriod(year, month)}
}

func (k Key) String() string { return string(k.EmployeeID) + "/" + k.Period.String() }

// =============================================================================
// STATUS - Closed enumeration of the payment lifecycle
// =============================================================================

// Status is the payment status of a record.
//
//	Pending ─▶ Calculated ─▶ Approved ─▶ Paid
//	   │            │            │
//	   └────────────┴────────────┴──▶ Cancelled
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusCalculated
	StatusApproved
	StatusPaid
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusPending:    "Pending",
	StatusCalculated: "Calculated",
	StatusApproved:   "Approved",
	StatusPaid:       "Paid",
	StatusCancelled:  "Cancelled",
}

// AllStatuses lists statuses in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusCalculated, StatusApproved, StatusPaid, StatusCancelled}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusPaid || s == StatusCancelled }

// transitions is the only place that decides which status changes are legal.
// Calculated → Calculated is the re-calculation edge.
var transitions = map[Status][]Status{
	StatusPending:    {StatusCalculated, StatusCancelled},
	StatusCalculated: {StatusCalculated, StatusApproved, StatusCancelled},
	StatusApproved:   {StatusPaid, StatusCancelled},
}

// CanTransitionTo reports whether s may move to next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Mutable reports whether calculation inputs (configuration, deductions)
// may still change.
func (s Status) Mutable() bool { return s == StatusPending || s == StatusCalculated }

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a wire name into a Status.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, &ValidationError{Field: "status", Value: name, Reason: "unknown status"}
}

// =============================================================================
// PAYMENT METHOD / FLASH STATUS / DEDUCTION TYPE
// =============================================================================

type PaymentMethod uint8

const (
	PaymentFlash PaymentMethod = iota + 1
	PaymentBankTransfer
	PaymentCheck
	PaymentCash
)

var paymentMethodNames = map[PaymentMethod]string{
	PaymentFlash:        "Flash",
	PaymentBankTransfer: "Bank Transfer",
	PaymentCheck:        "Check",
	PaymentCash:         "Cash",
}

func (m PaymentMethod) String() string {
	if name, ok := paymentMethodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("PaymentMethod(%d)", uint8(m))
}

func (m PaymentMethod) MarshalText() ([]byte, error) {
	if _, ok := paymentMethodNames[m]; !ok {
		return nil, fmt.Errorf("invalid payment method %d", uint8(m))
	}
	return []byte(m.String()), nil
}

func (m *PaymentMethod) UnmarshalText(text []byte) error {
	parsed, err := ParsePaymentMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func ParsePaymentMethod(name string) (PaymentMethod, error) {
	for m, n := range paymentMethodNames {
		if n == name {
			return m, nil
		}
	}
	return 0, &ValidationError{Field: "payment_method", Value: name, Reason: "unknown payment method"}
}

// FlashStatus is the provider-side state of a submission.
type FlashStatus uint8

const (
	FlashPending FlashStatus = iota + 1
	FlashProcessing
	FlashCompleted
	FlashFailed
)

var flashStatusNames = map[FlashStatus]string{
	FlashPending:    "Pending",
	FlashProcessing: "Processing",
	FlashCompleted:  "Completed",
	FlashFailed:     "Failed",
}

func (f FlashStatus) String() string {
	if name, ok := flashStatusNames[f]; ok {
		return name
	}
	return fmt.Sprintf("FlashStatus(%d)", uint8(f))
}

func (f FlashStatus) MarshalText() ([]byte, error) {
	if _, ok := flashStatusNames[f]; !ok {
		return nil, fmt.Errorf("invalid flash status %d", uint8(f))
	}
	return []byte(f.String()), nil
}

func (f *FlashStatus) UnmarshalText(text []byte) error {
	for s, n := range flashStatusNames {
		if n == string(text) {
			*f = s
			return nil
		}
	}
	return &ValidationError{Field: "flash_status", Value: string(text), Reason: "unknown flash status"}
}

type DeductionType uint8

const (
	DeductionAbsence DeductionType = iota + 1
	DeductionHoliday
	DeductionVacation
	DeductionSickLeave
	DeductionOther
)

var deductionTypeNames = map[DeductionType]string{
	DeductionAbsence:   "Absence",
	DeductionHoliday:   "Holiday",
	DeductionVacation:  "Vacation",
	DeductionSickLeave: "Sick Leave",
	DeductionOther:     "Other",
}

func (d DeductionType) String() string {
	if name, ok := deductionTypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("DeductionType(%d)", uint8(d))
}

func (d DeductionType) MarshalText() ([]byte, error) {
	if _, ok := deductionTypeNames[d]; !ok {
		return nil, fmt.Errorf("invalid deduction type %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *DeductionType) UnmarshalText(text []byte) error {
	parsed, err := ParseDeductionType(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func ParseDeductionType(name string) (DeductionType, error) {
	for d, n := range deductionTypeNames {
		if n == name {
			return d, nil
		}
	}
	return 0, &ValidationError{Field: "deduction.type", Value: name, Reason: "unknown deduction type"}
}

// Leg selects which benefit a deduction applies to.
type Leg string

const (
	LegVR Leg = "VR"
	LegVT Leg = "VT"
)

func ParseLeg(s string) (Leg, error) {
	switch Leg(s) {
	case LegVR, LegVT:
		return Leg(s), nil
	}
	return "", &ValidationError{Field: "leg", Value: s, Reason: "must be VR or VT"}
}

// =============================================================================
// RECORD
// =============================================================================

// Deduction reduces the final amount of one leg. Append-only.
type Deduction struct {
	ID     string          `json:"id"`
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
	Type   DeductionType   `json:"type"`
}

// ScheduleFile is an uploaded work schedule. Opaque to the engine.
type ScheduleFile struct {
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// ValeRefeicao is the meal voucher leg, paid per worked day.
type ValeRefeicao struct {
	Enabled      bool            `json:"enabled"`
	DailyValue   decimal.Decimal `json:"daily_value"`
	BusinessDays int             `json:"business_days"`
	Saturdays    int             `json:"saturdays"`
	TotalDays    int             `json:"total_days"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Deductions   []Deduction     `json:"deductions"`
	FinalAmount  decimal.Decimal `json:"final_amount"`
	ScheduleFile *ScheduleFile   `json:"schedule_file,omitempty"`
}

// ValeTransporte is the transport voucher leg, fixed or per day.
type ValeTransporte struct {
	Enabled        bool            `json:"enabled"`
	FixedAmount    decimal.Decimal `json:"fixed_amount"`
	DailyValue     decimal.Decimal `json:"daily_value"`
	TotalDays      int             `json:"total_days"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Deductions     []Deduction     `json:"deductions"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
	AddressChanged bool            `json:"address_changed"`
}

// Mobilidade is the flat monthly mobility allowance.
type Mobilidade struct {
	Enabled      bool            `json:"enabled"`
	MonthlyValue decimal.Decimal `json:"monthly_value"`
}

// FlashPayment tracks the hand-off to the payment provider.
type FlashPayment struct {
	Sent          bool        `json:"sent"`
	SentAt        *time.Time  `json:"sent_at,omitempty"`
	Reference     string      `json:"reference,omitempty"`
	Status        FlashStatus `json:"status"`
	FailureReason string      `json:"failure_reason,omitempty"`
	NeedsRetry    bool        `json:"needs_retry"`
	Attempts      int         `json:"attempts"`
}

// Record is the benefit record of one employee for one month.
type Record struct {
	ID            string
	Key           Key
	VR            ValeRefeicao
	VT            ValeTransporte
	Mobility      Mobilidade
	Status        Status
	PaymentMethod PaymentMethod
	Flash         FlashPayment
	Notes         string
	ApprovedBy    string
	ApprovedAt    *time.Time
	TotalAmount   decimal.Decimal

	// Version is the optimistic concurrency counter. Zero means the
	// record was never stored.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing
// the deduction slices or timestamps of the original.
func (r Record) Clone() Record {
	c := r
	c.VR.Deductions = append([]Deduction(nil), r.VR.Deductions...)
	c.VT.Deductions = append([]Deduction(nil), r.VT.Deductions...)
	if r.VR.ScheduleFile != nil {
		f := *r.VR.ScheduleFile
		c.VR.ScheduleFile = &f
	}
	if r.Flash.SentAt != nil {
		t := *r.Flash.SentAt
		c.Flash.SentAt = &t
	}
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		c.ApprovedAt = &t
	}
	return c
}

// Configuration is the operator-provided input of a calculation.
type Configuration struct {
	VR       VRConfig
	VT       VTConfig
	Mobility MobilityConfig
}

type VRConfig struct {
	Enabled      bool
	DailyValue   decimal.Decimal
	BusinessDays int
	Saturdays    int
}

type VTConfig struct {
	Enabled        bool
	FixedAmount    decimal.Decimal
	DailyValue     decimal.Decimal
	TotalDays      int
	AddressChanged bool
}

type MobilityConfig struct {
	Enabled      bool
	MonthlyValue decimal.Decimal
}

// Configuration extracts the calculation inputs currently stored on the record.
func (r Record) Configuration() Configuration {
	return Configuration{
		VR: VRConfig{
			Enabled:      r.VR.Enabled,
			DailyValue:   r.VR.DailyValue,
			BusinessDays: r.VR.BusinessDays,
			Saturdays:    r.VR.Saturdays,
		},
		VT: VTConfig{
			Enabled:        r.VT.Enabled,
			FixedAmount:    r.VT.FixedAmount,
			DailyValue:     r.VT.DailyValue,
			TotalDays:      r.VT.TotalDays,
			AddressChanged: r.VT.AddressChanged,
		},
		Mobility: MobilityConfig{
			Enabled:      r.Mobility.Enabled,
			MonthlyValue: r.Mobility.MonthlyValue,
		},
	}
}

// Configure copies calculation inputs onto the record. Computed amounts
// are left untouched until the engine runs.
func (r *Record) Configure(cfg Configuration) {
	r.VR.Enabled = cfg.VR.Enabled
	r.VR.DailyValue = cfg.VR.DailyValue
	r.VR.BusinessDays = cfg.VR.BusinessDays
	r.VR.Saturdays = cfg.VR.Saturdays
	r.VT.Enabled = cfg.VT.Enabled
	r.VT.FixedAmount = cfg.VT.FixedAmount
	r.VT.DailyValue = cfg.VT.DailyValue
	r.VT.TotalDays = cfg.VT.TotalDays
	r.VT.AddressChanged = cfg.VT.AddressChanged
	r.Mobility.Enabled = cfg.Mobility.Enabled
	r.Mobility.MonthlyValue = cfg.Mobility.MonthlyValue
}

// =============================================================================
// EMPLOYEE - Weak reference, lookup only
// =============================================================================

// EmploymentType is informational; the lifecycle does not branch on it.
type EmploymentType string

const (
	EmploymentCLT        EmploymentType = "CLT"
	EmploymentPJ         EmploymentType = "PJ"
	EmploymentFreelancer EmploymentType = "Freelancer"
	EmploymentIntern     EmploymentType = "Intern"
)

// Employee is what the engine needs to know about an employee.
type Employee struct {
	ID             EmployeeID
	FirstName      string
	LastName       string
	Email          string
	Department     string
	EmploymentType EmploymentType
	Active         bool
	Profile        Profile
	CreatedAt      time.Time
}

func (e Employee) FullName() string { return e.FirstName + " " + e.LastName }

// Profile is the employee's default benefit setup, used to prefill a
// month's configuration.
type Profile struct {
	VREnabled       bool            `json:"vr_enabled"`
	VRDailyValue    decimal.Decimal `json:"vr_daily_value"`
	VTEnabled       bool            `json:"vt_enabled"`
	VTFixedAmount   decimal.Decimal `json:"vt_fixed_amount"`
	VTDailyValue    decimal.Decimal `json:"vt_daily_value"`
	MobilityEnabled bool            `json:"mobility_enabled"`
	MobilityMonthly decimal.Decimal `json:"mobility_monthly"`
}
