// Package rowcodec maps benefit records to the column layout shared by the
// SQL stores. The three legs and the provider state are stored as JSON
// documents; everything the stores filter or sort on is a plain column.
package rowcodec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/benefits-engine/benefit"
)

// Row is a benefit record in column form.
type Row struct {
	ID             string
	EmployeeID     string
	Month          int
	Year           int
	Status         string
	PaymentMethod  string
	VR             []byte
	VT             []byte
	Mobility       []byte
	Flash          []byte
	FlashReference *string
	Notes          string
	ApprovedBy     string
	ApprovedAt     *time.Time
	TotalAmount    string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Encode flattens a record.
func Encode(r benefit.Record) (Row, error) {
	row := Row{
		ID:            r.ID,
		EmployeeID:    string(r.Key.EmployeeID),
		Month:         int(r.Key.Period.Month),
		Year:          r.Key.Period.Year,
		Status:        r.Status.String(),
		PaymentMethod: r.PaymentMethod.String(),
		Notes:         r.Notes,
		ApprovedBy:    r.ApprovedBy,
		ApprovedAt:    r.ApprovedAt,
		TotalAmount:   r.TotalAmount.StringFixed(2),
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.Flash.Reference != "" {
		ref := r.Flash.Reference
		row.FlashReference = &ref
	}

	var err error
	if row.VR, err = json.Marshal(r.VR); err != nil {
		return Row{}, fmt.Errorf("encode vr: %w", err)
	}
	if row.VT, err = json.Marshal(r.VT); err != nil {
		return Row{}, fmt.Errorf("encode vt: %w", err)
	}
	if row.Mobility, err = json.Marshal(r.Mobility); err != nil {
		return Row{}, fmt.Errorf("encode mobility: %w", err)
	}
	if row.Flash, err = json.Marshal(r.Flash); err != nil {
		return Row{}, fmt.Errorf("encode flash: %w", err)
	}
	return row, nil
}

// Decode rebuilds a record from its columns.
func Decode(row Row) (benefit.Record, error) {
	status, err := benefit.ParseStatus(row.Status)
	if err != nil {
		return benefit.Record{}, fmt.Errorf("decode record %s: %w", row.ID, err)
	}
	method, err := benefit.ParsePaymentMethod(row.PaymentMethod)
	if err != nil {
		return benefit.Record{}, fmt.Errorf("decode record %s: %w", row.ID, err)
	}
	total, err := decimal.NewFromString(row.TotalAmount)
	if err != nil {
		return benefit.Record{}, fmt.Errorf("decode record %s total: %w", row.ID, err)
	}

	r := benefit.Record{
		ID:            row.ID,
		Key:           benefit.NewKey(row.EmployeeID, row.Year, time.Month(row.Month)),
		Status:        status,
		PaymentMethod: method,
		Notes:         row.Notes,
		ApprovedBy:    row.ApprovedBy,
		ApprovedAt:    row.ApprovedAt,
		TotalAmount:   total,
		Version:       row.Version,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if err := json.Unmarshal(row.VR, &r.VR); err != nil {
		return benefit.Record{}, fmt.Errorf("decode record %s vr: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.VT, &r.VT); err != nil {
		return benefit.Record{}, fmt.Errorf("decode record %s vt: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.Mobility, &r.Mobility); err != nil {
		return benefit.Record{}, fmt.Errorf("decode record %s mobility: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.Flash, &r.Flash); err != nil {
		return benefit.Record{}, fmt.Errorf("decode record %s flash: %w", row.ID, err)
	}
	return r, nil
}

// EncodePayload and DecodePayload handle audit event payloads.
func EncodePayload(p map[string]string) ([]byte, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func DecodePayload(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var p map[string]string
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, nil
	}
	return p, nil
}

// StatusName renders a possibly-zero status for an audit column.
func StatusName(s benefit.Status) string {
	if !s.Valid() {
		return ""
	}
	return s.String()
}

// ParseStatusName is the inverse of StatusName.
func ParseStatusName(name string) benefit.Status {
	if name == "" {
		return 0
	}
	s, err := benefit.ParseStatus(name)
	if err != nil {
		return 0
	}
	return s
}
