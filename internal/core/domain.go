package core

import (
	"errors"
	"strings"
	"time"
)

const (
	CardCredit  CardType = "credit"
	CardDebit   CardType = "debit"
	CardPrepaid CardType = "prepaid"
)

const (
	StatusActive    DebtStatus = "active"
	StatusCompleted DebtStatus = "completed"
	StatusCancelled DebtStatus = "cancelled"
)

const (
	RepayBullet                    RepaymentType = "bullet"
	RepayEqualPrincipal            RepaymentType = "equalPrincipal"
	RepayEqualPrincipalAndInterest RepaymentType = "equalPrincipalAndInterest"
)

const (
	CurrencyKRW  Currency = "KRW"
	CurrencySATS Currency = "SATS"
)

type (
	CardType      string
	DebtStatus    string
	RepaymentType string
	Currency      string

	// Asset is a balance account that auto-deductions draw from.
	Asset struct {
		ID      string
		Name    string
		Balance Money
	}

	Card struct {
		ID              string
		Name            string
		Company         string
		Type            CardType
		PaymentDay      int // 1..28, 0 when unset
		BillingStartDay int
		BillingEndDay   int
		LinkedAssetID   string // credit: payment source account
		LinkedAccountID string // debit: checking account
		Balance         Money  // prepaid only
	}

	// Expense is one immutable ledger record. SatsEquivalent and
	// BtcKrwAtTime are fixed at record time and never recomputed.
	Expense struct {
		ID                string
		Date              Date
		Description       string
		Amount            Money
		Currency          Currency
		PaymentMethod     string // "card", "cash", "transfer", ...
		CardID            string
		InstallmentMonths int // 0 or 1 for lump sum
		SatsEquivalent    int64
		BtcKrwAtTime      int64
		Primary           string
		Secondary         string
	}

	Installment struct {
		ID              string
		CardID          string
		Description     string
		Months          int
		MonthlyPayment  Money
		PaidMonths      int
		RemainingAmount Money
		Status          DebtStatus
		StartDate       Date
	}

	Loan struct {
		ID                 string
		Name               string
		Principal          Money
		TermMonths         int
		PaidMonths         int
		RemainingPrincipal Money
		MonthlyPayment     Money
		RepaymentType      RepaymentType
		InterestRateBp     int64 // annual rate in basis points
		LinkedAssetID      string
		RepaymentDay       int
		Status             DebtStatus
	}
)

var (
	ErrInvalidDay       = errors.New("invalid day")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrInvalidCardType  = errors.New("invalid card type")
	ErrInvalidStatus    = errors.New("invalid status")
)

// IsLumpSum reports whether the expense counts toward the card's
// statement directly rather than through an installment obligation.
func (e Expense) IsLumpSum() bool {
	return e.InstallmentMonths <= 1
}

func (e Expense) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	switch e.Currency {
	case CurrencyKRW, CurrencySATS:
	default:
		return errors.New("invalid currency")
	}
	return nil
}

func (c Card) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("empty card name")
	}
	switch c.Type {
	case CardCredit, CardDebit, CardPrepaid:
	default:
		return ErrInvalidCardType
	}
	if c.PaymentDay != 0 && (c.PaymentDay < 1 || c.PaymentDay > 28) {
		return errors.New("payment day must be between 1 and 28")
	}
	if c.BillingStartDay != 0 && (c.BillingStartDay < 1 || c.BillingStartDay > 31) {
		return ErrInvalidDay
	}
	if c.BillingEndDay != 0 && (c.BillingEndDay < 1 || c.BillingEndDay > 31) {
		return ErrInvalidDay
	}
	return nil
}

// Billable reports whether the card participates in billing-cycle
// aggregation. Only credit cards with a payment day do.
func (c Card) Billable() bool {
	return c.Type == CardCredit && c.PaymentDay >= 1
}

func (i Installment) Validate() error {
	if i.Months < 2 {
		return errors.New("installment must span at least 2 months")
	}
	if err := i.MonthlyPayment.Validate(); err != nil {
		return err
	}
	if i.PaidMonths < 0 || i.PaidMonths > i.Months {
		return errors.New("paid months out of range")
	}
	switch i.Status {
	case StatusActive, StatusCompleted, StatusCancelled:
	default:
		return ErrInvalidStatus
	}
	return i.StartDate.Validate()
}

func (l Loan) Validate() error {
	if l.TermMonths < 1 {
		return errors.New("loan term must be at least 1 month")
	}
	if err := l.Principal.Validate(); err != nil {
		return err
	}
	switch l.RepaymentType {
	case RepayBullet, RepayEqualPrincipal, RepayEqualPrincipalAndInterest:
	default:
		return errors.New("invalid repayment type")
	}
	if l.RepaymentDay != 0 && (l.RepaymentDay < 1 || l.RepaymentDay > 28) {
		return errors.New("repayment day must be between 1 and 28")
	}
	switch l.Status {
	case StatusActive, StatusCompleted, StatusCancelled:
	default:
		return ErrInvalidStatus
	}
	return nil
}

// BalanceAdjustment reports the outcome of applying a signed delta to
// an asset balance. Balances floor at zero; when the requested delta
// would cross it, the adjuster clamps and says so instead of failing.
type BalanceAdjustment struct {
	Clamped   bool
	AssetName string
	Requested Money
	Actual    Money
}

// Date wraps time.Time for calendar-day semantics; the time component
// is always midnight UTC.
type Date struct {
	time.Time
}

func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month as an int.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year.
func (d Date) Year() int {
	return d.Time.Year()
}

// Within reports whether d falls inside [start, end] inclusive.
func (d Date) Within(start, end Date) bool {
	return !d.Before(start.Time) && !d.After(end.Time)
}

// String formats the date as YYYY-MM-DD, the ledger's date format.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

// ParseDate parses a YYYY-MM-DD ledger date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// LastDayOfMonth returns the number of days in the given month.
func LastDayOfMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDay clamps day to the last calendar day of the given month, so
// a day-31 rule lands on Feb 28/29 or Apr 30.
func ClampDay(year, month, day int) int {
	if last := LastDayOfMonth(year, month); day > last {
		return last
	}
	return day
}
