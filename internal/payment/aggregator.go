// Package payment aggregates what a card owes for its pending and
// upcoming statement cycles: lump-sum charges inside the resolved
// billing window plus the monthly payments of active installments.
package payment

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"syba/internal/billing"
	"syba/internal/core"
)

// unknownDays sorts cards without a resolvable payment date last.
const unknownDays = 999

type (
	// CycleTotal is one statement cycle's aggregated amounts.
	//
	// TotalSats mixes valuations on purpose: lump-sum charges keep the
	// sat value stored on each record at purchase time, while pending
	// installments are an ongoing obligation valued at today's rate.
	CycleTotal struct {
		Period           billing.Period
		LumpSum          core.Money
		LumpSumSats      int64
		InstallmentSum   core.Money
		InstallmentSats  int64
		InstallmentCount int
		Total            core.Money
		TotalSats        int64
	}

	// Summary is the payment outlook for one card.
	Summary struct {
		CardID           string
		CardName         string
		Company          string
		PaymentDay       int
		DaysUntilPayment int
		Current          CycleTotal
		Next             CycleTotal
	}
)

// HasDue reports whether either cycle carries a nonzero total.
func (s Summary) HasDue() bool {
	return !s.Current.Total.IsZero() || !s.Next.Total.IsZero()
}

// ComputeCardPayment aggregates the pending and next statement cycles
// for a single card as of targetDate. btcKrwRate values the
// installment obligations; pass 0 when no rate is known.
//
// A card missing its payment day or stored billing days yields a
// zeroed summary rather than an error; such cards simply never appear
// in due listings.
func ComputeCardPayment(card core.Card, expenses []core.Expense, installments []core.Installment, targetDate core.Date, btcKrwRate int64) Summary {
	s := Summary{
		CardID:           card.ID,
		CardName:         card.Name,
		Company:          card.Company,
		PaymentDay:       card.PaymentDay,
		DaysUntilPayment: unknownDays,
	}

	if card.PaymentDay < 1 || card.BillingStartDay < 1 || card.BillingEndDay < 1 {
		return s
	}

	s.DaysUntilPayment = billing.DaysUntilPayment(targetDate, card.PaymentDay)

	current, ok := resolveWindow(card, targetDate)
	if !ok {
		return s
	}
	nextTarget := core.DateOf(targetDate.AddDate(0, 1, 0))
	next, _ := resolveWindow(card, nextTarget)

	s.Current = computeCycle(card, current, expenses, installments, btcKrwRate)
	s.Next = computeCycle(card, next, expenses, installments, btcKrwRate)
	return s
}

// resolveWindow tries the company rule table first, then the billing
// days stored on the card.
func resolveWindow(card core.Card, targetDate core.Date) (billing.Period, bool) {
	paymentMonth := billing.PendingPaymentMonth(card.PaymentDay, targetDate)
	return billing.ResolveForMonth(card.Company, card.PaymentDay, card.BillingStartDay, card.BillingEndDay, paymentMonth)
}

// CycleForMonth aggregates the cycle that settles in a specific
// payment month. The deduction engine uses this to price a card's
// statement for each month it catches up on.
func CycleForMonth(card core.Card, expenses []core.Expense, installments []core.Installment, paymentMonth core.YearMonth, btcKrwRate int64) (CycleTotal, bool) {
	period, ok := billing.ResolveForMonth(card.Company, card.PaymentDay, card.BillingStartDay, card.BillingEndDay, paymentMonth)
	if !ok {
		return CycleTotal{}, false
	}
	return computeCycle(card, period, expenses, installments, btcKrwRate), true
}

func computeCycle(card core.Card, period billing.Period, expenses []core.Expense, installments []core.Installment, btcKrwRate int64) CycleTotal {
	ct := CycleTotal{Period: period}

	for _, e := range expenses {
		if e.PaymentMethod != "card" || e.CardID != card.ID {
			continue
		}
		if !e.IsLumpSum() {
			// Installment purchases are counted through the
			// obligation's monthly payment, never here.
			continue
		}
		if !e.Date.Within(period.Start, period.End) {
			continue
		}
		ct.LumpSum = ct.LumpSum.Add(e.Amount)
		ct.LumpSumSats += e.SatsEquivalent
	}

	for _, inst := range installments {
		if inst.CardID != card.ID || inst.Status != core.StatusActive {
			continue
		}
		ct.InstallmentSum = ct.InstallmentSum.Add(inst.MonthlyPayment)
		ct.InstallmentCount++
	}
	ct.InstallmentSats = ct.InstallmentSum.Sats(btcKrwRate)

	ct.Total = ct.LumpSum.Add(ct.InstallmentSum)
	ct.TotalSats = ct.LumpSumSats + ct.InstallmentSats
	return ct
}

// ComputeAllCardPayments aggregates every billable credit card,
// drops cards with nothing due in either cycle, and orders the rest
// by how soon their payment day arrives. Aggregation is read-only, so
// cards are computed concurrently.
func ComputeAllCardPayments(ctx context.Context, cards []core.Card, expenses []core.Expense, installments []core.Installment, targetDate core.Date, btcKrwRate int64) ([]Summary, error) {
	billable := make([]core.Card, 0, len(cards))
	for _, c := range cards {
		if c.Billable() {
			billable = append(billable, c)
		}
	}

	summaries := make([]Summary, len(billable))
	g, _ := errgroup.WithContext(ctx)
	for i, card := range billable {
		g.Go(func() error {
			summaries[i] = ComputeCardPayment(card, expenses, installments, targetDate, btcKrwRate)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	due := make([]Summary, 0, len(summaries))
	for _, s := range summaries {
		if s.HasDue() {
			due = append(due, s)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].DaysUntilPayment < due[j].DaysUntilPayment
	})
	return due, nil
}
