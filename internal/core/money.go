// Package core provides the domain model shared by the billing,
// payment and deduction packages: money in whole won, ledger dates,
// year-month keys, and the card/expense/debt record types.
package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const satsPerBtc = 100_000_000

// Money is an amount of Korean won. Won has no minor unit, so the
// value is stored as whole won rather than cents.
type Money struct {
	Krw int64
}

func Won(krw int64) Money {
	return Money{Krw: krw}
}

func (m Money) Validate() error {
	if m.Krw <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) IsZero() bool {
	return m.Krw == 0
}

func (m Money) Add(o Money) Money {
	return Money{Krw: m.Krw + o.Krw}
}

// SubFloor subtracts o, clamping at zero.
func (m Money) SubFloor(o Money) Money {
	r := m.Krw - o.Krw
	if r < 0 {
		r = 0
	}
	return Money{Krw: r}
}

func (m Money) Neg() Money {
	return Money{Krw: -m.Krw}
}

// Sats converts the won amount to satoshis at the given BTC/KRW rate.
// Returns 0 when the rate is unknown (zero or negative).
func (m Money) Sats(btcKrwRate int64) int64 {
	if btcKrwRate <= 0 {
		return 0
	}
	return m.Krw * satsPerBtc / btcKrwRate
}

// String formats the amount with comma grouping, e.g. "1,234,567".
func (m Money) String() string {
	s := strconv.FormatInt(m.Krw, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// ParseWon parses a user-entered won amount. Comma grouping is
// accepted and stripped; fractions and signs are rejected.
func ParseWon(s string) (Money, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return Money{}, ErrInvalidAmount
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	if v <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return Money{Krw: v}, nil
}

// YearMonth is a calendar month key in "YYYY-MM" form, the format the
// deduction markers are persisted in.
type YearMonth string

func YearMonthFor(d Date) YearMonth {
	return YearMonth(fmt.Sprintf("%04d-%02d", d.Year(), d.Month()))
}

func NewYearMonth(year, month int) YearMonth {
	for month < 1 {
		month += 12
		year--
	}
	for month > 12 {
		month -= 12
		year++
	}
	return YearMonth(fmt.Sprintf("%04d-%02d", year, month))
}

// Split returns the year and month components. Zero values for a
// malformed key.
func (ym YearMonth) Split() (year, month int) {
	parts := strings.SplitN(string(ym), "-", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	y, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 1 || m > 12 {
		return 0, 0
	}
	return y, m
}

// Prev returns the preceding calendar month.
func (ym YearMonth) Prev() YearMonth {
	y, m := ym.Split()
	return NewYearMonth(y, m-1)
}

// Next returns the following calendar month.
func (ym YearMonth) Next() YearMonth {
	y, m := ym.Split()
	return NewYearMonth(y, m+1)
}

// DateAt returns the date at day within the month, clamped to the
// month's last day.
func (ym YearMonth) DateAt(day int) Date {
	y, m := ym.Split()
	return NewDate(y, m, ClampDay(y, m, day))
}
