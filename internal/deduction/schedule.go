// Package deduction applies scheduled monthly deductions exactly once
// per entity per month: card statement totals, loan repayments, and
// installment counter advances. The only durable state is a marker map
// of the last processed year-month per entity, so the job is safe to
// run at app launch after any gap.
package deduction

import (
	"syba/internal/core"
)

// DueMonth is one year-month an entity still owes a deduction for,
// with the concrete date the payment fell (or falls) due.
type DueMonth struct {
	YearMonth core.YearMonth
	Date      core.Date
}

// MonthsToProcess returns the months whose deduction has not yet been
// applied, oldest first. At most two entries come back:
//
//   - the previous calendar month, unconditionally when unmarked — its
//     payment day has necessarily passed;
//   - the current month, only when today has reached the payment day
//     (clamped to the month's last day) and it is unmarked.
//
// Months older than the previous one are never returned. The job is
// expected to run at least once per ~60 days; a longer gap silently
// drops the older months rather than backfilling them. Changing that
// would retroactively alter balances for existing ledgers, so the cap
// stays.
func MonthsToProcess(paymentDay int, lastProcessed core.YearMonth, now core.Date) []DueMonth {
	if paymentDay < 1 {
		return nil
	}

	var due []DueMonth

	current := core.YearMonthFor(now)
	prev := current.Prev()

	// YYYY-MM compares lexicographically, so an entity marked for the
	// current month never re-qualifies for the previous one.
	if lastProcessed < prev {
		due = append(due, DueMonth{
			YearMonth: prev,
			Date:      prev.DateAt(paymentDay),
		})
	}

	year, month := current.Split()
	dayThisMonth := core.ClampDay(year, month, paymentDay)
	if now.Day() >= dayThisMonth && lastProcessed < current {
		due = append(due, DueMonth{
			YearMonth: current,
			Date:      current.DateAt(paymentDay),
		})
	}

	return due
}
