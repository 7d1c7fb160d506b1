package factory_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefits-engine/benefit"
	"github.com/warp/benefits-engine/factory"
)

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseConfiguration(t *testing.T) {
	f := factory.NewConfigurationFactory()

	cfg, err := f.ParseConfiguration([]byte(`{
		"vr": {"enabled": true, "daily_value": "35.00", "business_days": 21, "saturdays": 2},
		"vt": {"enabled": true, "fixed_amount": 220},
		"mobility": {"enabled": true, "monthly_value": "100"}
	}`))
	require.NoError(t, err)

	assert.True(t, cfg.VR.Enabled)
	assert.True(t, money("35").Equal(cfg.VR.DailyValue))
	assert.Equal(t, 21, cfg.VR.BusinessDays)
	assert.Equal(t, 2, cfg.VR.Saturdays)
	assert.True(t, money("220").Equal(cfg.VT.FixedAmount))
	assert.True(t, money("100").Equal(cfg.Mobility.MonthlyValue))
}

func TestParseConfiguration_Rejects(t *testing.T) {
	f := factory.NewConfigurationFactory()

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"negative daily value", `{"vr": {"daily_value": "-1"}}`, "vr.daily_value"},
		{"too many business days", `{"vr": {"business_days": 40}}`, "vr.business_days"},
		{"negative saturdays", `{"vr": {"saturdays": -1}}`, "vr.saturdays"},
		{"negative fixed amount", `{"vt": {"fixed_amount": "-220"}}`, "vt.fixed_amount"},
		{"negative mobility", `{"mobility": {"monthly_value": -5}}`, "mobility.monthly_value"},
		{"malformed", `{"vr": `, "configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseConfiguration([]byte(tt.body))
			require.ErrorIs(t, err, benefit.ErrValidation)

			var verr *benefit.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestPeriod(t *testing.T) {
	f := factory.NewConfigurationFactory()

	p, err := f.Period(factory.PeriodJSON{Year: 2025, Month: 5})
	require.NoError(t, err)
	assert.Equal(t, benefit.NewPeriod(2025, time.May), p)

	_, err = f.Period(factory.PeriodJSON{Year: 2025, Month: 13})
	var verr *benefit.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "month", verr.Field)
}

func TestFromProfile(t *testing.T) {
	// GIVEN: An employee with VR and daily VT, May 2025 with Labour Day
	// WHEN: The month's defaults are derived
	// THEN: Both legs use the 21 remaining business days, no Saturdays

	f := factory.NewConfigurationFactory()
	emp := benefit.Employee{
		ID:     "emp-1",
		Active: true,
		Profile: benefit.Profile{
			VREnabled:    true,
			VRDailyValue: money("35"),
			VTEnabled:    true,
			VTDailyValue: money("8.80"),
		},
	}
	holidays := []benefit.Holiday{
		{Date: time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC), Name: "Dia do Trabalho"},
	}

	cfg := f.FromProfile(emp, benefit.NewPeriod(2025, time.May), holidays)

	assert.True(t, cfg.VR.Enabled)
	assert.Equal(t, 21, cfg.VR.BusinessDays)
	assert.Equal(t, 0, cfg.VR.Saturdays)
	assert.Equal(t, 21, cfg.VT.TotalDays)
	assert.False(t, cfg.Mobility.Enabled)

	calc, err := benefit.Calculate(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "735", calc.VR.TotalAmount.String())
	assert.Equal(t, "184.8", calc.VT.TotalAmount.String())
}

func TestFromProfile_FixedVTAndSaturdays(t *testing.T) {
	f := factory.NewConfigurationFactory()
	f.CountSaturdays = true
	emp := benefit.Employee{Profile: benefit.Profile{
		VREnabled:       true,
		VRDailyValue:    money("30"),
		VTEnabled:       true,
		VTFixedAmount:   money("220"),
		MobilityEnabled: true,
		MobilityMonthly: money("150"),
	}}

	cfg := f.FromProfile(emp, benefit.NewPeriod(2025, time.May), nil)

	assert.Equal(t, 22, cfg.VR.BusinessDays)
	assert.Equal(t, 5, cfg.VR.Saturdays)
	assert.Equal(t, 0, cfg.VT.TotalDays)
	assert.True(t, money("150").Equal(cfg.Mobility.MonthlyValue))
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := factory.NewConfigurationFactory()
	cfg := benefit.Configuration{
		VR: benefit.VRConfig{Enabled: true, DailyValue: money("35"), BusinessDays: 21},
		VT: benefit.VTConfig{Enabled: true, FixedAmount: money("220")},
	}

	back, err := f.FromJSON(f.ToJSON(cfg))
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
