/*
Package factory turns employee profiles and JSON payloads into
benefit.Configuration values.

PURPOSE:
  A month's calculation needs concrete inputs: daily values, day counts,
  fixed amounts. Operators either type them in (JSON from the back office)
  or accept the defaults derived from the employee's profile and the
  holiday calendar. Both paths end in the same validated Configuration.

JSON SCHEMA:
  {
    "vr":       {"enabled": true, "daily_value": "35.00", "business_days": 21, "saturdays": 2},
    "vt":       {"enabled": true, "fixed_amount": "220.00", "daily_value": "0", "total_days": 21},
    "mobility": {"enabled": false, "monthly_value": "0"}
  }

  Amounts are decimal strings (numbers are accepted too). Day counts are
  bounded by the length of a month.

USAGE:
  f := factory.NewConfigurationFactory()

  // Operator input
  cfg, err := f.ParseConfiguration(body)

  // Defaults for a month
  holidays, _ := calendar.HolidaysIn(ctx, period)
  cfg := f.FromProfile(employee, period, holidays)

  svc.Calculate(ctx, key, &cfg, actor)
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/benefits-engine/benefit"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigurationJSON is the wire form of a benefit.Configuration.
type ConfigurationJSON struct {
	VR       VRJSON       `json:"vr"`
	VT       VTJSON       `json:"vt"`
	Mobility MobilityJSON `json:"mobility"`
}

type VRJSON struct {
	Enabled      bool            `json:"enabled"`
	DailyValue   decimal.Decimal `json:"daily_value" validate:"gte=0"`
	BusinessDays int             `json:"business_days" validate:"gte=0,lte=31"`
	Saturdays    int             `json:"saturdays" validate:"gte=0,lte=5"`
}

type VTJSON struct {
	Enabled        bool            `json:"enabled"`
	FixedAmount    decimal.Decimal `json:"fixed_amount" validate:"gte=0"`
	DailyValue     decimal.Decimal `json:"daily_value" validate:"gte=0"`
	TotalDays      int             `json:"total_days" validate:"gte=0,lte=31"`
	AddressChanged bool            `json:"address_changed"`
}

type MobilityJSON struct {
	Enabled      bool            `json:"enabled"`
	MonthlyValue decimal.Decimal `json:"monthly_value" validate:"gte=0"`
}

// PeriodJSON is a year/month pair as sent by the back office.
type PeriodJSON struct {
	Year  int `json:"year" validate:"min=2000,max=2100"`
	Month int `json:"month" validate:"min=1,max=12"`
}

// =============================================================================
// CONFIGURATION FACTORY
// =============================================================================

// ConfigurationFactory builds and validates configurations.
type ConfigurationFactory struct {
	validate *validator.Validate

	// CountSaturdays prefills VR Saturdays from the calendar. Off by
	// default: Saturday shifts are entered by the operator.
	CountSaturdays bool
}

func NewConfigurationFactory() *ConfigurationFactory {
	v := validator.New()
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &ConfigurationFactory{validate: v}
}

// decimalValue lets numeric tags (gte, lte) compare decimals.
func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

// ParseConfiguration decodes and validates a JSON configuration.
func (f *ConfigurationFactory) ParseConfiguration(data []byte) (benefit.Configuration, error) {
	var cj ConfigurationJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return benefit.Configuration{}, &benefit.ValidationError{
			Field:  "configuration",
			Value:  string(data),
			Reason: fmt.Sprintf("malformed JSON: %v", err),
		}
	}
	return f.FromJSON(cj)
}

// FromJSON validates the wire form and converts it.
func (f *ConfigurationFactory) FromJSON(cj ConfigurationJSON) (benefit.Configuration, error) {
	if err := f.Validate(cj); err != nil {
		return benefit.Configuration{}, err
	}
	return benefit.Configuration{
		VR: benefit.VRConfig{
			Enabled:      cj.VR.Enabled,
			DailyValue:   cj.VR.DailyValue,
			BusinessDays: cj.VR.BusinessDays,
			Saturdays:    cj.VR.Saturdays,
		},
		VT: benefit.VTConfig{
			Enabled:        cj.VT.Enabled,
			FixedAmount:    cj.VT.FixedAmount,
			DailyValue:     cj.VT.DailyValue,
			TotalDays:      cj.VT.TotalDays,
			AddressChanged: cj.VT.AddressChanged,
		},
		Mobility: benefit.MobilityConfig{
			Enabled:      cj.Mobility.Enabled,
			MonthlyValue: cj.Mobility.MonthlyValue,
		},
	}, nil
}

// ToJSON is the inverse of FromJSON.
func (f *ConfigurationFactory) ToJSON(cfg benefit.Configuration) ConfigurationJSON {
	return ConfigurationJSON{
		VR: VRJSON{
			Enabled:      cfg.VR.Enabled,
			DailyValue:   cfg.VR.DailyValue,
			BusinessDays: cfg.VR.BusinessDays,
			Saturdays:    cfg.VR.Saturdays,
		},
		VT: VTJSON{
			Enabled:        cfg.VT.Enabled,
			FixedAmount:    cfg.VT.FixedAmount,
			DailyValue:     cfg.VT.DailyValue,
			TotalDays:      cfg.VT.TotalDays,
			AddressChanged: cfg.VT.AddressChanged,
		},
		Mobility: MobilityJSON{
			Enabled:      cfg.Mobility.Enabled,
			MonthlyValue: cfg.Mobility.MonthlyValue,
		},
	}
}

// Period validates a year/month pair.
func (f *ConfigurationFactory) Period(pj PeriodJSON) (benefit.Period, error) {
	if err := f.Validate(pj); err != nil {
		return benefit.Period{}, err
	}
	return benefit.NewPeriod(pj.Year, time.Month(pj.Month)), nil
}

// Validate runs the struct tags and reports the first failure as a
// *benefit.ValidationError named after the JSON path ("vr.daily_value").
func (f *ConfigurationFactory) Validate(v interface{}) error {
	err := f.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	return &benefit.ValidationError{
		Field:  fieldPath(fe.Namespace()),
		Value:  fe.Value(),
		Reason: reasonFor(fe),
	}
}

// FromProfile derives a month's configuration from the employee's
// profile. VR and daily VT use the business days left after holidays.
func (f *ConfigurationFactory) FromProfile(emp benefit.Employee, p benefit.Period, holidays []benefit.Holiday) benefit.Configuration {
	businessDays, saturdays := benefit.MonthSchedule(p, holidays)
	if !f.CountSaturdays {
		saturdays = 0
	}

	prof := emp.Profile
	cfg := benefit.Configuration{
		VR: benefit.VRConfig{
			Enabled:      prof.VREnabled,
			DailyValue:   prof.VRDailyValue,
			BusinessDays: businessDays,
			Saturdays:    saturdays,
		},
		VT: benefit.VTConfig{
			Enabled:     prof.VTEnabled,
			FixedAmount: prof.VTFixedAmount,
			DailyValue:  prof.VTDailyValue,
		},
		Mobility: benefit.MobilityConfig{
			Enabled:      prof.MobilityEnabled,
			MonthlyValue: prof.MobilityMonthly,
		},
	}
	if !prof.VTFixedAmount.IsPositive() {
		cfg.VT.TotalDays = businessDays
	}
	return cfg
}

// =============================================================================
// HELPERS
// =============================================================================

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "failed " + fe.Tag()
}
