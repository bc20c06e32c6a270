// Package country holds the read-only market table used for loan limits,
// currency display and provider prompt context.
package country

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"loan-orchestrator/internal/common/config"
)

// Code is an ISO 3166-1 alpha-2 market code.
type Code string

const (
	Singapore   Code = "SG"
	Malaysia    Code = "MY"
	Thailand    Code = "TH"
	Indonesia   Code = "ID"
	Vietnam     Code = "VN"
	Philippines Code = "PH"
	India       Code = "IN"
	Pakistan    Code = "PK"
	Bangladesh  Code = "BD"
	SriLanka    Code = "LK"
	Nepal       Code = "NP"
)

// Tenure rules shared by every market.
const (
	MinMonths  = 6
	MaxMonths  = 60
	MonthsStep = 6

	// AnnualFlatRate is the flat yearly interest applied to the principal.
	AnnualFlatRate = 0.05
)

// Country is one row of the market table.
type Country struct {
	Code           Code    `json:"code"`
	Name           string  `json:"name"`
	Currency       string  `json:"currency"`
	Symbol         string  `json:"currencySymbol"`
	PhonePrefix    string  `json:"phonePrefix"`
	IDLabel        string  `json:"idName"`
	LegalContext   string  `json:"legalContext"`
	MinLoan        float64 `json:"minLoan"`
	MaxLoan        float64 `json:"maxLoan"`
	ExchangeRate   float64 `json:"exchangeRate"`
	IDDocumentName string  `json:"-"`
	LegalFramework string  `json:"-"`
}

var defaults = []Country{
	{Singapore, "Singapore", "SGD", "S$", "+65", "NRIC", "MAS Act", 5000, 250000, 3.5,
		"Singapore NRIC", "Monetary Authority of Singapore (MAS) Act & Moneylenders Act"},
	{Malaysia, "Malaysia", "MYR", "RM", "+60", "MyKad", "Moneylenders Act", 1000, 100000, 1,
		"MyKad", "Moneylenders Act 1951 (Malaysia)"},
	{Thailand, "Thailand", "THB", "฿", "+66", "Thai ID", "Civil Code", 10000, 1000000, 7.5,
		"Thai ID Card", "Civil and Commercial Code (Thailand) & Bank of Thailand Regulations"},
	{Indonesia, "Indonesia", "IDR", "Rp", "+62", "KTP", "OJK Regs", 3000000, 300000000, 3500,
		"KTP (Kartu Tanda Penduduk)", "OJK (Otoritas Jasa Keuangan) Regulations"},
	{Vietnam, "Vietnam", "VND", "₫", "+84", "CCCD", "SBV Regs", 5000000, 500000000, 5500,
		"CCCD (Citizen ID)", "State Bank of Vietnam (SBV) Regulations & Civil Code 2015"},
	{Philippines, "Philippines", "PHP", "₱", "+63", "PhilSys ID", "RA 9474", 5000, 500000, 12,
		"PhilSys ID / UMID", "Lending Company Regulation Act of 2007 (R.A. 9474)"},
	{India, "India", "INR", "₹", "+91", "Aadhaar", "RBI Code", 10000, 1000000, 18,
		"Aadhaar Card / PAN Card", "Reserve Bank of India (RBI) Fair Practices Code & Contract Act 1872"},
	{Pakistan, "Pakistan", "PKR", "₨", "+92", "CNIC", "Financial Ordinance", 25000, 2500000, 60,
		"CNIC (Computerized National ID)", "Financial Institutions (Recovery of Finances) Ordinance, 2001"},
	{Bangladesh, "Bangladesh", "BDT", "৳", "+880", "NID", "MRA Act", 10000, 1000000, 25,
		"National ID (NID)", "Microcredit Regulatory Authority Act, 2006"},
	{SriLanka, "Sri Lanka", "LKR", "Rs", "+94", "NIC", "Consumer Credit Act", 50000, 5000000, 70,
		"NIC (National Identity Card)", "Consumer Credit Act & Central Bank of Sri Lanka Directions"},
	{Nepal, "Nepal", "NPR", "Rs", "+977", "Citizenship ID", "Rastra Bank Act", 15000, 1500000, 28,
		"Citizenship Certificate", "Nepal Rastra Bank Act & Banking Offence and Punishment Act"},
}

// Table is immutable after construction and safe for concurrent reads.
type Table struct {
	byCode map[Code]Country
}

// Default returns the built-in table.
func Default() *Table {
	t, _ := NewTable(nil)
	return t
}

// NewTable builds the table from the built-in markets with configuration
// overrides applied. Overrides for unknown codes are rejected.
func NewTable(overrides map[string]config.CountryOverride) (*Table, error) {
	byCode := make(map[Code]Country, len(defaults))
	for _, c := range defaults {
		byCode[c.Code] = c
	}

	for raw, o := range overrides {
		code := Code(strings.ToUpper(raw))
		c, ok := byCode[code]
		if !ok {
			return nil, fmt.Errorf("country override for unknown market %q", raw)
		}
		if o.Disabled {
			delete(byCode, code)
			continue
		}
		if o.MinLoan > 0 {
			c.MinLoan = o.MinLoan
		}
		if o.MaxLoan > 0 {
			c.MaxLoan = o.MaxLoan
		}
		if o.ExchangeRate > 0 {
			c.ExchangeRate = o.ExchangeRate
		}
		if c.MinLoan > c.MaxLoan {
			return nil, fmt.Errorf("country %s: min_loan %.2f exceeds max_loan %.2f", code, c.MinLoan, c.MaxLoan)
		}
		byCode[code] = c
	}

	return &Table{byCode: byCode}, nil
}

// Lookup returns the market for code.
func (t *Table) Lookup(code Code) (Country, bool) {
	c, ok := t.byCode[Code(strings.ToUpper(string(code)))]
	return c, ok
}

// All returns every enabled market sorted by code.
func (t *Table) All() []Country {
	out := make([]Country, 0, len(t.byCode))
	for _, c := range t.byCode {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ValidateLoan checks amount against the market limits and months against the
// shared tenure rules. It returns a human readable reason on failure.
func (c Country) ValidateLoan(amount float64, months int) error {
	if math.IsNaN(amount) || amount < c.MinLoan || amount > c.MaxLoan {
		return fmt.Errorf("amount %.2f outside %s range [%.2f, %.2f]", amount, c.Code, c.MinLoan, c.MaxLoan)
	}
	if months < MinMonths || months > MaxMonths || months%MonthsStep != 0 {
		return fmt.Errorf("months %d must be a multiple of %d between %d and %d", months, MonthsStep, MinMonths, MaxMonths)
	}
	return nil
}

// MonthlyPayment returns the flat-interest instalment:
// (amount + amount*rate*(months/12)) / months.
func MonthlyPayment(amount float64, months int) float64 {
	if months <= 0 {
		return 0
	}
	years := float64(months) / 12
	total := amount + amount*AnnualFlatRate*years
	return total / float64(months)
}

// Quote is a repayment preview shown before an application is started.
type Quote struct {
	Country        Code    `json:"country"`
	Currency       string  `json:"currency"`
	Amount         float64 `json:"amount"`
	Months         int     `json:"months"`
	MonthlyPayment float64 `json:"monthlyPayment"`
	TotalRepayment float64 `json:"totalRepayment"`
}

// Quote validates the parameters and computes the repayment preview.
func (c Country) Quote(amount float64, months int) (Quote, error) {
	if err := c.ValidateLoan(amount, months); err != nil {
		return Quote{}, err
	}
	monthly := MonthlyPayment(amount, months)
	return Quote{
		Country:        c.Code,
		Currency:       c.Currency,
		Amount:         amount,
		Months:         months,
		MonthlyPayment: monthly,
		TotalRepayment: monthly * float64(months),
	}, nil
}

// InternationalNumber prefixes a local mobile number with the market prefix.
func (c Country) InternationalNumber(mobile string) string {
	mobile = strings.TrimSpace(mobile)
	if strings.HasPrefix(mobile, "+") {
		return mobile
	}
	return c.PhonePrefix + strings.TrimLeft(mobile, "0")
}
