/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain records carry
  no JSON tags of their own; these types are the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Auth:       LoginRequest, LoginResponse, OperatorDTO
  Records:    RecordDTO, KeyRequest, CreateRecordRequest, CalculateRequest,
              DeductionRequest, KeysRequest
  Batches:    BatchResponse, SendResponse, KeyFailureDTO
  Callbacks:  CallbackResponse
  Reporting:  CalendarDTO
  Employees:  EmployeeDTO, CreateEmployeeRequest
  Holidays:   HolidayDTO, CreateHolidayRequest
  Audit:      EventDTO
  Scenarios:  ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry validator/v10 tags; handlers run them through the
  configuration factory so failures come back as field-named 400s.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/configuration.go: ConfigurationJSON, PeriodJSON
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/benefits-engine/benefit"
	"github.com/warp/benefits-engine/factory"
)

// =============================================================================
// AUTH
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type OperatorDTO struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type LoginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Operator  OperatorDTO `json:"operator"`
}

// =============================================================================
// RECORDS
// =============================================================================

// KeyRequest identifies one record.
type KeyRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	Year       int    `json:"year" validate:"min=2000,max=2100"`
	Month      int    `json:"month" validate:"min=1,max=12"`
}

type CreateRecordRequest struct {
	KeyRequest
	PaymentMethod string                     `json:"payment_method" validate:"omitempty,oneof=Flash 'Bank Transfer' Check Cash"`
	Notes         string                     `json:"notes" validate:"max=2000"`
	Configuration *factory.ConfigurationJSON `json:"configuration"`
}

// CalculateRequest recalculates a record. Without a configuration the
// stored inputs are reused, or the employee's profile when the record
// does not exist yet.
type CalculateRequest struct {
	KeyRequest
	Configuration *factory.ConfigurationJSON `json:"configuration"`
}

type DeductionRequest struct {
	KeyRequest
	Leg    string          `json:"leg" validate:"required,oneof=VR VT"`
	Amount decimal.Decimal `json:"amount" validate:"gte=0"`
	Reason string          `json:"reason" validate:"max=500"`
	Type   string          `json:"type" validate:"required"`
	Date   string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// KeysRequest names several records for a batch operation.
type KeysRequest struct {
	Records []KeyRequest `json:"records" validate:"required,min=1,max=500,dive"`
}

// RecordDTO is a benefit record in API responses.
type RecordDTO struct {
	ID            string                 `json:"id"`
	EmployeeID    string                 `json:"employee_id"`
	Month         int                    `json:"month"`
	Year          int                    `json:"year"`
	Period        benefit.Period         `json:"period"`
	VR            benefit.ValeRefeicao   `json:"vr"`
	VT            benefit.ValeTransporte `json:"vt"`
	Mobility      benefit.Mobilidade     `json:"mobility"`
	Status        benefit.Status         `json:"status"`
	PaymentMethod benefit.PaymentMethod  `json:"payment_method"`
	Flash         benefit.FlashPayment   `json:"flash"`
	Notes         string                 `json:"notes,omitempty"`
	ApprovedBy    string                 `json:"approved_by,omitempty"`
	ApprovedAt    *time.Time             `json:"approved_at,omitempty"`
	TotalAmount   decimal.Decimal        `json:"total_amount"`
	Version       int64                  `json:"version"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func toRecordDTO(r benefit.Record) RecordDTO {
	vr, vt := r.VR, r.VT
	if vr.Deductions == nil {
		vr.Deductions = []benefit.Deduction{}
	}
	if vt.Deductions == nil {
		vt.Deductions = []benefit.Deduction{}
	}
	return RecordDTO{
		ID:            r.ID,
		EmployeeID:    string(r.Key.EmployeeID),
		Month:         int(r.Key.Period.Month),
		Year:          r.Key.Period.Year,
		Period:        r.Key.Period,
		VR:            vr,
		VT:            vt,
		Mobility:      r.Mobility,
		Status:        r.Status,
		PaymentMethod: r.PaymentMethod,
		Flash:         r.Flash,
		Notes:         r.Notes,
		ApprovedBy:    r.ApprovedBy,
		ApprovedAt:    r.ApprovedAt,
		TotalAmount:   r.TotalAmount,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func toRecordDTOs(rs []benefit.Record) []RecordDTO {
	dtos := make([]RecordDTO, len(rs))
	for i, r := range rs {
		dtos[i] = toRecordDTO(r)
	}
	return dtos
}

// =============================================================================
// BATCHES
// =============================================================================

// KeyFailureDTO is one record a batch could not process.
type KeyFailureDTO struct {
	EmployeeID string `json:"employee_id"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	Error      string `json:"error"`
	Code       string `json:"code"`
}

type BatchResponse struct {
	Succeeded []RecordDTO     `json:"succeeded"`
	Failed    []KeyFailureDTO `json:"failed"`
}

type SubmissionDTO struct {
	EmployeeID string `json:"employee_id"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	Reference  string `json:"reference"`
}

type SendResponse struct {
	Submitted []SubmissionDTO `json:"submitted"`
	Failed    []KeyFailureDTO `json:"failed"`
}

type CallbackResponse struct {
	EmployeeID string `json:"employee_id"`
	Year       int    `json:"year"`
	Month      int    `json:"month"`
	Reference  string `json:"reference"`
	Applied    bool   `json:"applied"`
	Mismatch   string `json:"mismatch,omitempty"`
}

// =============================================================================
// CALENDAR / AUDIT
// =============================================================================

type CalendarDTO struct {
	Period       benefit.Period `json:"period"`
	BusinessDays int            `json:"business_days"`
	Saturdays    int            `json:"saturdays"`
	Holidays     []HolidayDTO   `json:"holidays"`
}

type EventDTO struct {
	ID      string            `json:"id"`
	At      time.Time         `json:"at"`
	Actor   string            `json:"actor"`
	Action  benefit.Action    `json:"action"`
	From    string            `json:"from,omitempty"`
	To      string            `json:"to,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
}

func toEventDTO(e benefit.Event) EventDTO {
	dto := EventDTO{ID: e.ID, At: e.At, Actor: e.Actor, Action: e.Action, Payload: e.Payload}
	if e.From.Valid() {
		dto.From = e.From.String()
	}
	if e.To.Valid() {
		dto.To = e.To.String()
	}
	return dto
}

// =============================================================================
// EMPLOYEES / HOLIDAYS
// =============================================================================

type EmployeeDTO struct {
	ID             string                 `json:"id"`
	FirstName      string                 `json:"first_name"`
	LastName       string                 `json:"last_name"`
	Name           string                 `json:"name"`
	Email          string                 `json:"email"`
	Department     string                 `json:"department"`
	EmploymentType benefit.EmploymentType `json:"employment_type"`
	Active         bool                   `json:"active"`
	Profile        benefit.Profile        `json:"profile"`
	CreatedAt      time.Time              `json:"created_at"`
}

func toEmployeeDTO(e benefit.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:             string(e.ID),
		FirstName:      e.FirstName,
		LastName:       e.LastName,
		Name:           e.FullName(),
		Email:          e.Email,
		Department:     e.Department,
		EmploymentType: e.EmploymentType,
		Active:         e.Active,
		Profile:        e.Profile,
		CreatedAt:      e.CreatedAt,
	}
}

type CreateEmployeeRequest struct {
	ID             string          `json:"id" validate:"required,max=64"`
	FirstName      string          `json:"first_name" validate:"required"`
	LastName       string          `json:"last_name" validate:"required"`
	Email          string          `json:"email" validate:"omitempty,email"`
	Department     string          `json:"department"`
	EmploymentType string          `json:"employment_type" validate:"omitempty,oneof=CLT PJ Freelancer Intern"`
	Active         *bool           `json:"active"`
	Profile        benefit.Profile `json:"profile"`
}

type HolidayDTO struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

func toHolidayDTOs(hs []benefit.Holiday) []HolidayDTO {
	dtos := make([]HolidayDTO, len(hs))
	for i, h := range hs {
		dtos[i] = HolidayDTO{ID: h.ID, Date: h.Date.Format("2006-01-02"), Name: h.Name, Recurring: h.Recurring}
	}
	return dtos
}

type CreateHolidayRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Name      string `json:"name" validate:"required"`
	Recurring bool   `json:"recurring"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}
