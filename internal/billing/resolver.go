package billing

import (
	"syba/internal/core"
)

// Period is a resolved statement window, both edges inclusive.
type Period struct {
	Start core.Date
	End   core.Date
}

// Resolve computes the concrete statement window for a company's
// payment day, anchored to the given payment month. The second return
// is false when the company or day has no published rule; callers are
// expected to fall back to ResolveFallback.
func Resolve(company string, paymentDay int, paymentMonth core.YearMonth) (Period, bool) {
	rule, ok := LookupRule(company, paymentDay)
	if !ok {
		return Period{}, false
	}
	return resolveRule(rule, paymentMonth), true
}

func resolveRule(rule Rule, paymentMonth core.YearMonth) Period {
	year, month := paymentMonth.Split()

	startYM := core.NewYearMonth(year, month+rule.Start.MonthOffset)
	endYM := core.NewYearMonth(year, month+rule.End.MonthOffset)

	// Day 31 always means the month's last day; other days are still
	// clamped so a day-30 anchor survives February.
	return Period{
		Start: startYM.DateAt(rule.Start.Day),
		End:   endYM.DateAt(rule.End.Day),
	}
}

// ResolveFallback derives the pending statement window from the
// billing days stored on the card itself, for cards without a
// published company rule.
//
// The payment day itself belongs to the next cycle: on the payment day
// the bill is considered settled, so targetDate == paymentDay shifts
// the pending payment month forward. This matches the strictly-less-
// than comparison below.
func ResolveFallback(paymentDay, billingStartDay, billingEndDay int, targetDate core.Date) Period {
	if billingStartDay < 1 || billingEndDay < 1 {
		return Period{}
	}

	targetYM := core.YearMonthFor(targetDate)

	var paymentMonth core.YearMonth
	if targetDate.Day() < paymentDay {
		// Payment day still ahead: this month's bill is pending.
		paymentMonth = targetYM
	} else {
		paymentMonth = targetYM.Next()
	}

	return fallbackForMonth(billingStartDay, billingEndDay, paymentMonth)
}

// fallbackForMonth is the generic window for a payment month: from the
// start day two months before it to the end day of the month before it.
func fallbackForMonth(billingStartDay, billingEndDay int, paymentMonth core.YearMonth) Period {
	return Period{
		Start: paymentMonth.Prev().Prev().DateAt(billingStartDay),
		End:   paymentMonth.Prev().DateAt(billingEndDay),
	}
}

// ResolveForMonth resolves the window settling in a specific payment
// month, trying the company rule table before the card's stored
// billing days. False when neither source can produce a window.
func ResolveForMonth(company string, paymentDay, billingStartDay, billingEndDay int, paymentMonth core.YearMonth) (Period, bool) {
	if p, ok := Resolve(company, paymentDay, paymentMonth); ok {
		return p, true
	}
	if billingStartDay < 1 || billingEndDay < 1 {
		return Period{}, false
	}
	return fallbackForMonth(billingStartDay, billingEndDay, paymentMonth), true
}

// PendingPaymentMonth returns the payment month whose bill is still
// open as of targetDate, using the same tie-break as ResolveFallback.
func PendingPaymentMonth(paymentDay int, targetDate core.Date) core.YearMonth {
	ym := core.YearMonthFor(targetDate)
	if targetDate.Day() < paymentDay {
		return ym
	}
	return ym.Next()
}

// DaysUntilPayment counts the days from today to the next occurrence
// of paymentDay. Zero when today is the payment day.
func DaysUntilPayment(today core.Date, paymentDay int) int {
	var due core.Date
	if today.Day() <= paymentDay {
		due = core.YearMonthFor(today).DateAt(paymentDay)
	} else {
		due = core.YearMonthFor(today).Next().DateAt(paymentDay)
	}
	return int(due.Sub(today.Time).Hours() / 24)
}
