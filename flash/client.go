/*
Package flash talks to the Flash benefits card provider.

PURPOSE:
  Flash credits the VR, VT and mobility amounts of an approved record to
  the employee's card. Submission is asynchronous: Flash acknowledges an
  order with a reference, then settles it later and reports the outcome
  through a signed webhook. The status endpoint lets us poll when a
  webhook never arrives.

API:
  POST /v1/payments              → 201 {"reference", "status"}
  GET  /v1/payments/{reference}  → 200 {"reference", "status", "reason"}

  Every call carries "Authorization: Bearer <api key>". Non-2xx answers
  come back as *APIError. A 4xx other than 408/429 is a refusal of the
  order itself and unwraps to *benefit.RejectionError.

SEE ALSO:
  - benefit/provider.go: the Provider interface this package implements
  - flash/signature.go: webhook verification
*/
package flash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/benefits-engine/benefit"
)

const (
	DefaultTimeout = 15 * time.Second

	paymentsPath = "/v1/payments"
	maxBody      = 1 << 20
)

// Client is a benefit.Provider backed by the Flash HTTP API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

var _ benefit.Provider = (*Client)(nil)

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		APIKey:     strings.TrimSpace(apiKey),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type paymentRequest struct {
	ExternalID    string          `json:"external_id"`
	EmployeeID    string          `json:"employee_id"`
	Period        string          `json:"period"`
	EmployeeName  string          `json:"employee_name,omitempty"`
	EmployeeEmail string          `json:"employee_email,omitempty"`
	Amounts       paymentAmounts  `json:"amounts"`
	Total         decimal.Decimal `json:"total"`
}

type paymentAmounts struct {
	MealVoucher      decimal.Decimal `json:"meal_voucher"`
	TransportVoucher decimal.Decimal `json:"transport_voucher"`
	Mobility         decimal.Decimal `json:"mobility"`
}

type paymentResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// =============================================================================
// ERRORS
// =============================================================================

// APIError is a non-2xx answer from Flash.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("flash: status %d (%s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("flash: status %d: %s", e.StatusCode, msg)
}

// Rejected reports whether Flash refused the order itself, as opposed to
// being unavailable.
func (e *APIError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusRequestTimeout &&
		e.StatusCode != http.StatusTooManyRequests
}

func (e *APIError) Unwrap() error {
	if !e.Rejected() {
		return nil
	}
	reason := e.Message
	if reason == "" {
		reason = e.Code
	}
	return &benefit.RejectionError{Reason: reason}
}

// =============================================================================
// PROVIDER
// =============================================================================

// Submit posts one payment order.
func (c *Client) Submit(ctx context.Context, order benefit.PaymentOrder) (benefit.Receipt, error) {
	body := paymentRequest{
		ExternalID:    order.RecordID,
		EmployeeID:    string(order.Key.EmployeeID),
		Period:        order.Key.Period.String(),
		EmployeeName:  order.EmployeeName,
		EmployeeEmail: order.EmployeeEmail,
		Amounts: paymentAmounts{
			MealVoucher:      order.VR,
			TransportVoucher: order.VT,
			Mobility:         order.Mobility,
		},
		Total: order.Total,
	}

	var out paymentResponse
	if err := c.do(ctx, http.MethodPost, paymentsPath, body, &out); err != nil {
		return benefit.Receipt{}, err
	}
	if out.Reference == "" {
		return benefit.Receipt{}, errors.New("flash: response without reference")
	}
	return benefit.Receipt{Reference: out.Reference}, nil
}

// Status fetches the settlement state of a submitted order.
func (c *Client) Status(ctx context.Context, reference string) (benefit.ProviderStatus, error) {
	if strings.TrimSpace(reference) == "" {
		return benefit.ProviderStatus{}, errors.New("flash: reference is required")
	}
	var out paymentResponse
	if err := c.do(ctx, http.MethodGet, paymentsPath+"/"+url.PathEscape(reference), nil, &out); err != nil {
		return benefit.ProviderStatus{}, err
	}
	state, err := ParseState(out.Status)
	if err != nil {
		return benefit.ProviderStatus{}, err
	}
	return benefit.ProviderStatus{Reference: reference, State: state, Reason: out.Reason}, nil
}

// ParseState maps a Flash status string onto a provider state.
func ParseState(s string) (benefit.ProviderState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "processing", "accepted":
		return benefit.ProviderProcessing, nil
	case "completed", "paid", "settled":
		return benefit.ProviderCompleted, nil
	case "failed", "rejected", "cancelled":
		return benefit.ProviderFailed, nil
	}
	return "", fmt.Errorf("flash: unknown payment status %q", s)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if c.BaseURL == "" {
		return errors.New("flash: base URL is not configured")
	}

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("flash: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Surface ctx errors unwrapped so callers can test for deadlines.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("flash: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(body, &er) == nil {
			apiErr.Code = er.Code
			apiErr.Message = er.Message
		}
		if apiErr.Message == "" && apiErr.Code == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("flash: decode response: %w", err)
	}
	return nil
}
