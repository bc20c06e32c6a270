package country

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-orchestrator/internal/common/config"
)

func TestMonthlyPayment_Malaysia5000Over12Months(t *testing.T) {
	assert.InDelta(t, 437.50, MonthlyPayment(5000, 12), 1e-9)
}

func TestMonthlyPayment_AllTenures(t *testing.T) {
	table := Default()
	for _, c := range table.All() {
		for months := MinMonths; months <= MaxMonths; months += MonthsStep {
			for _, amount := range []float64{c.MinLoan, (c.MinLoan + c.MaxLoan) / 2, c.MaxLoan} {
				want := (amount + amount*0.05*(float64(months)/12)) / float64(months)
				assert.InDelta(t, want, MonthlyPayment(amount, months), 1e-6, "%s %v/%d", c.Code, amount, months)
			}
		}
	}
}

func TestValidateLoan(t *testing.T) {
	my, ok := Default().Lookup(Malaysia)
	require.True(t, ok)

	tests := []struct {
		name    string
		amount  float64
		months  int
		wantErr bool
	}{
		{"lower bound", 1000, 6, false},
		{"upper bound", 100000, 60, false},
		{"below min", 999.99, 12, true},
		{"above max", 100000.01, 12, true},
		{"months not multiple of 6", 5000, 7, true},
		{"months zero", 5000, 0, true},
		{"months over 60", 5000, 66, true},
		{"negative months", 5000, -6, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := my.ValidateLoan(tt.amount, tt.months)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewTable_Overrides(t *testing.T) {
	table, err := NewTable(map[string]config.CountryOverride{
		"my": {MaxLoan: 150000},
		"NP": {Disabled: true},
	})
	require.NoError(t, err)

	my, ok := table.Lookup("MY")
	require.True(t, ok)
	assert.Equal(t, 150000.0, my.MaxLoan)
	assert.Equal(t, 1000.0, my.MinLoan)

	_, ok = table.Lookup(Nepal)
	assert.False(t, ok)
	assert.Len(t, table.All(), 10)
}

func TestNewTable_RejectsBadOverrides(t *testing.T) {
	_, err := NewTable(map[string]config.CountryOverride{"XX": {MaxLoan: 1}})
	assert.Error(t, err)

	_, err = NewTable(map[string]config.CountryOverride{"SG": {MinLoan: 300000}})
	assert.Error(t, err)
}

func TestQuoteAndPhone(t *testing.T) {
	sg, _ := Default().Lookup(Singapore)
	q, err := sg.Quote(12000, 24)
	require.NoError(t, err)
	assert.InDelta(t, 12000*1.1/24, q.MonthlyPayment, 1e-9)
	assert.InDelta(t, 13200, q.TotalRepayment, 1e-6)

	assert.Equal(t, "+6591234567", sg.InternationalNumber("091234567"))
	assert.Equal(t, "+6012345", sg.InternationalNumber("+6012345"))
}
