package deduction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"syba/internal/core"
	"syba/internal/payment"
)

// Marker map keys in the persisted key-value store. Each holds an
// independent map of entity id to last processed year-month.
const (
	MarkerKeyCards        = "autodeduct:cards"
	MarkerKeyLoans        = "autodeduct:loans"
	MarkerKeyInstallments = "autodeduct:installments"
)

// loanRepaymentCategory labels the ledger records this job generates
// for loan repayments.
const (
	loanRepaymentPrimary   = "Finance"
	loanRepaymentSecondary = "Loan repayment"
)

type (
	// CardSource lists all stored cards.
	CardSource interface {
		ListCards(ctx context.Context) ([]core.Card, error)
	}

	// ExpenseSource reads the append-only expense ledger.
	ExpenseSource interface {
		ListExpenses(ctx context.Context) ([]core.Expense, error)
	}

	// DebtSource lists open obligations.
	DebtSource interface {
		ListActiveInstallments(ctx context.Context) ([]core.Installment, error)
		ListActiveLoans(ctx context.Context) ([]core.Loan, error)
	}

	// BalanceAdjuster applies a signed delta to an asset balance,
	// clamping at zero rather than failing on insufficient funds.
	BalanceAdjuster interface {
		AdjustAssetBalance(ctx context.Context, assetID string, delta core.Money) (core.BalanceAdjustment, error)
	}

	// LedgerAppender appends an immutable expense record.
	LedgerAppender interface {
		AppendExpense(ctx context.Context, e core.Expense) (string, error)
	}

	// DebtMutator applies the monthly progress updates.
	DebtMutator interface {
		UpdateLoanProgress(ctx context.Context, id string, paidMonths int, remaining core.Money, status core.DebtStatus) error
		UpdateInstallmentProgress(ctx context.Context, id string, paidMonths int, remaining core.Money, status core.DebtStatus) error
	}

	// MarkerStore persists the last-processed maps across restarts.
	// Implementations are expected to fail with vault.ErrKeyRequired
	// when no encryption key is available.
	MarkerStore interface {
		LoadMarkers(ctx context.Context, key string) (map[string]core.YearMonth, error)
		SaveMarkers(ctx context.Context, key string, markers map[string]core.YearMonth) error
	}

	// EventSink receives notifications about applied deductions.
	// Publishing is best-effort; a nil sink disables it.
	EventSink interface {
		PublishDeductionApplied(ctx context.Context, kind, entityID string, yearMonth core.YearMonth, amount core.Money) error
		PublishBalanceClamped(ctx context.Context, assetName string, requested, actual core.Money) error
	}

	// RateProvider supplies the current BTC/KRW rate for valuing
	// installment obligations.
	RateProvider interface {
		Current(ctx context.Context) (int64, error)
	}
)

// Deps collects the collaborators the deduction service needs. Events
// and Rates are optional.
type Deps struct {
	Cards    CardSource
	Expenses ExpenseSource
	Debts    DebtSource
	Balances BalanceAdjuster
	Ledger   LedgerAppender
	Mutator  DebtMutator
	Markers  MarkerStore
	Events   EventSink
	Rates    RateProvider
}

// ClampWarning surfaces a deduction that hit the zero floor of its
// linked account. Non-fatal; the caller may notify the user.
type ClampWarning struct {
	AssetName string
	Requested core.Money
	Actual    core.Money
}

// Result is the outcome of one reconciliation run. Errors are
// per-entity and never abort the run.
type Result struct {
	CardsProcessed        int
	LoansProcessed        int
	InstallmentsProcessed int
	Warnings              []ClampWarning
	Errors                []string
}

func (r *Result) merge(o Result) {
	r.CardsProcessed += o.CardsProcessed
	r.LoansProcessed += o.LoansProcessed
	r.InstallmentsProcessed += o.InstallmentsProcessed
	r.Warnings = append(r.Warnings, o.Warnings...)
	r.Errors = append(r.Errors, o.Errors...)
}

// Service is the monthly idempotent catch-up job. It is not a cron:
// it runs synchronously at app launch and reconciles whatever months
// are due since the last run.
type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	return &Service{deps: deps}
}

// ProcessAll runs the three phases strictly in order: card statement
// totals, then loan repayments, then installment counters. Phases may
// adjust balances on the same underlying asset, so they never run
// concurrently. A marker-store failure (for example a missing
// encryption key) aborts the run; everything else is isolated per
// entity.
func (s *Service) ProcessAll(ctx context.Context, now core.Date) (Result, error) {
	var result Result

	cards, err := s.processCardPayments(ctx, now)
	if err != nil {
		return result, fmt.Errorf("card payments: %w", err)
	}
	result.merge(cards)

	loans, err := s.processLoanRepayments(ctx, now)
	if err != nil {
		return result, fmt.Errorf("loan repayments: %w", err)
	}
	result.merge(loans)

	installments, err := s.processInstallmentPayments(ctx, now)
	if err != nil {
		return result, fmt.Errorf("installment payments: %w", err)
	}
	result.merge(installments)

	slog.InfoContext(ctx, "Auto-deduction run complete",
		"cards", result.CardsProcessed,
		"loans", result.LoansProcessed,
		"installments", result.InstallmentsProcessed,
		"warnings", len(result.Warnings),
		"errors", len(result.Errors))

	return result, nil
}

// processCardPayments deducts each due month's statement total from
// the card's linked payment account.
//
// Markers are written back once at phase end: a crash mid-phase means
// entities applied in this run are retried next launch (at-least-once
// at the balance boundary, at-most-once intent via the markers).
func (s *Service) processCardPayments(ctx context.Context, now core.Date) (Result, error) {
	var result Result

	markers, err := s.deps.Markers.LoadMarkers(ctx, MarkerKeyCards)
	if err != nil {
		return result, fmt.Errorf("load card markers: %w", err)
	}

	cards, err := s.deps.Cards.ListCards(ctx)
	if err != nil {
		return result, fmt.Errorf("list cards: %w", err)
	}
	expenses, err := s.deps.Expenses.ListExpenses(ctx)
	if err != nil {
		return result, fmt.Errorf("list expenses: %w", err)
	}
	installments, err := s.deps.Debts.ListActiveInstallments(ctx)
	if err != nil {
		return result, fmt.Errorf("list installments: %w", err)
	}

	rate := s.currentRate(ctx)

	for _, card := range cards {
		if !card.Billable() || card.LinkedAssetID == "" {
			continue
		}

		for _, due := range MonthsToProcess(card.PaymentDay, markers[card.ID], now) {
			if err := s.applyCardMonth(ctx, card, expenses, installments, due, rate, &result); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("card %s %s: %v", card.Name, due.YearMonth, err))
				slog.ErrorContext(ctx, "Card deduction failed",
					"card_id", card.ID, "year_month", due.YearMonth, "error", err)
				break // do not mark later months done past a failure
			}
			markers[card.ID] = due.YearMonth
			result.CardsProcessed++
		}
	}

	if err := s.deps.Markers.SaveMarkers(ctx, MarkerKeyCards, markers); err != nil {
		return result, fmt.Errorf("save card markers: %w", err)
	}
	return result, nil
}

func (s *Service) applyCardMonth(ctx context.Context, card core.Card, expenses []core.Expense, installments []core.Installment, due DueMonth, rate int64, result *Result) error {
	cycle, ok := payment.CycleForMonth(card, expenses, installments, due.YearMonth, rate)
	if !ok || cycle.Total.IsZero() {
		// Nothing due: the month is still marked processed so it is
		// never revisited.
		return nil
	}

	adj, err := s.deps.Balances.AdjustAssetBalance(ctx, card.LinkedAssetID, cycle.Total.Neg())
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	if adj.Clamped {
		result.Warnings = append(result.Warnings, ClampWarning{
			AssetName: adj.AssetName,
			Requested: adj.Requested,
			Actual:    adj.Actual,
		})
		s.notifyClamped(ctx, adj)
	}

	slog.InfoContext(ctx, "Card statement deducted",
		"card_id", card.ID,
		"card", card.Name,
		"year_month", due.YearMonth,
		"amount_krw", cycle.Total.Krw)

	s.notifyApplied(ctx, "card", card.ID, due.YearMonth, cycle.Total)
	return nil
}

// processLoanRepayments deducts each active loan's monthly payment
// from its linked account, appends a ledger record for it, and
// advances the amortization state.
func (s *Service) processLoanRepayments(ctx context.Context, now core.Date) (Result, error) {
	var result Result

	markers, err := s.deps.Markers.LoadMarkers(ctx, MarkerKeyLoans)
	if err != nil {
		return result, fmt.Errorf("load loan markers: %w", err)
	}

	loans, err := s.deps.Debts.ListActiveLoans(ctx)
	if err != nil {
		return result, fmt.Errorf("list loans: %w", err)
	}

	rate := s.currentRate(ctx)

	for _, loan := range loans {
		if loan.Status != core.StatusActive || loan.LinkedAssetID == "" {
			continue
		}

		repaymentDay := loan.RepaymentDay
		if repaymentDay < 1 {
			repaymentDay = 1
		}

		// Running totals are threaded through the catch-up loop so two
		// due months in one run compound instead of re-reading stale
		// state.
		paid := loan.PaidMonths
		remaining := loan.RemainingPrincipal

		for _, due := range MonthsToProcess(repaymentDay, markers[loan.ID], now) {
			if paid >= loan.TermMonths {
				markers[loan.ID] = due.YearMonth
				continue
			}

			if err := s.applyLoanMonth(ctx, loan, due, rate, &result); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("loan %s %s: %v", loan.Name, due.YearMonth, err))
				slog.ErrorContext(ctx, "Loan repayment failed",
					"loan_id", loan.ID, "year_month", due.YearMonth, "error", err)
				break
			}

			paid++
			remaining = nextRemainingPrincipal(loan, remaining, paid)
			status := core.StatusActive
			if paid >= loan.TermMonths {
				status = core.StatusCompleted
				remaining = core.Money{}
			}
			if err := s.deps.Mutator.UpdateLoanProgress(ctx, loan.ID, paid, remaining, status); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("loan %s %s: update: %v", loan.Name, due.YearMonth, err))
				break
			}

			markers[loan.ID] = due.YearMonth
			result.LoansProcessed++
		}
	}

	if err := s.deps.Markers.SaveMarkers(ctx, MarkerKeyLoans, markers); err != nil {
		return result, fmt.Errorf("save loan markers: %w", err)
	}
	return result, nil
}

func (s *Service) applyLoanMonth(ctx context.Context, loan core.Loan, due DueMonth, rate int64, result *Result) error {
	adj, err := s.deps.Balances.AdjustAssetBalance(ctx, loan.LinkedAssetID, loan.MonthlyPayment.Neg())
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	if adj.Clamped {
		result.Warnings = append(result.Warnings, ClampWarning{
			AssetName: adj.AssetName,
			Requested: adj.Requested,
			Actual:    adj.Actual,
		})
		s.notifyClamped(ctx, adj)
	}

	expense := core.Expense{
		ID:             uuid.NewString(),
		Date:           due.Date,
		Description:    "Loan repayment: " + loan.Name,
		Amount:         loan.MonthlyPayment,
		Currency:       core.CurrencyKRW,
		PaymentMethod:  "transfer",
		SatsEquivalent: loan.MonthlyPayment.Sats(rate),
		BtcKrwAtTime:   rate,
		Primary:        loanRepaymentPrimary,
		Secondary:      loanRepaymentSecondary,
	}
	if _, err := s.deps.Ledger.AppendExpense(ctx, expense); err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}

	slog.InfoContext(ctx, "Loan repayment deducted",
		"loan_id", loan.ID,
		"loan", loan.Name,
		"year_month", due.YearMonth,
		"amount_krw", loan.MonthlyPayment.Krw)

	s.notifyApplied(ctx, "loan", loan.ID, due.YearMonth, loan.MonthlyPayment)
	return nil
}

// nextRemainingPrincipal computes the principal after the paid-th
// monthly payment, per repayment type. Never negative.
func nextRemainingPrincipal(loan core.Loan, current core.Money, paid int) core.Money {
	switch loan.RepaymentType {
	case core.RepayBullet:
		// Principal stays put until maturity.
		if paid >= loan.TermMonths {
			return core.Money{}
		}
		return current

	case core.RepayEqualPrincipal:
		principal := decimal.NewFromInt(loan.Principal.Krw)
		step := principal.Div(decimal.NewFromInt(int64(loan.TermMonths))).Round(0)
		return core.Won(current.Krw).SubFloor(core.Won(step.IntPart()))

	case core.RepayEqualPrincipalAndInterest:
		// Principal portion = payment - interest on the outstanding
		// balance at the monthly rate.
		monthlyRate := decimal.New(loan.InterestRateBp, -4).
			Div(decimal.NewFromInt(12))
		interest := decimal.NewFromInt(current.Krw).Mul(monthlyRate).Round(0)
		principalPortion := decimal.NewFromInt(loan.MonthlyPayment.Krw).Sub(interest)
		if principalPortion.IsNegative() {
			principalPortion = decimal.Zero
		}
		return current.SubFloor(core.Won(principalPortion.IntPart()))

	default:
		return current
	}
}

// processInstallmentPayments advances paid-month counters for active
// installments. The due months are keyed off the owning card's
// payment day, not the installment's start date.
//
// No ledger record is appended and no balance is touched here: the
// full amount was recorded as one expense at purchase time, and the
// cash flow is already inside the card's statement total handled by
// processCardPayments. Doing either again would double-count.
func (s *Service) processInstallmentPayments(ctx context.Context, now core.Date) (Result, error) {
	var result Result

	markers, err := s.deps.Markers.LoadMarkers(ctx, MarkerKeyInstallments)
	if err != nil {
		return result, fmt.Errorf("load installment markers: %w", err)
	}

	installments, err := s.deps.Debts.ListActiveInstallments(ctx)
	if err != nil {
		return result, fmt.Errorf("list installments: %w", err)
	}
	cards, err := s.deps.Cards.ListCards(ctx)
	if err != nil {
		return result, fmt.Errorf("list cards: %w", err)
	}
	cardsByID := make(map[string]core.Card, len(cards))
	for _, c := range cards {
		cardsByID[c.ID] = c
	}

	for _, inst := range installments {
		if inst.Status != core.StatusActive {
			continue
		}
		card, ok := cardsByID[inst.CardID]
		if !ok || card.PaymentDay < 1 {
			continue
		}

		paid := inst.PaidMonths
		remaining := inst.RemainingAmount

		for _, due := range MonthsToProcess(card.PaymentDay, markers[inst.ID], now) {
			if paid >= inst.Months {
				markers[inst.ID] = due.YearMonth
				continue
			}

			paid++
			remaining = remaining.SubFloor(inst.MonthlyPayment)
			status := core.StatusActive
			if paid >= inst.Months {
				status = core.StatusCompleted
				remaining = core.Money{}
			}

			if err := s.deps.Mutator.UpdateInstallmentProgress(ctx, inst.ID, paid, remaining, status); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("installment %s %s: %v", inst.ID, due.YearMonth, err))
				slog.ErrorContext(ctx, "Installment advance failed",
					"installment_id", inst.ID, "year_month", due.YearMonth, "error", err)
				break
			}

			markers[inst.ID] = due.YearMonth
			result.InstallmentsProcessed++
		}
	}

	if err := s.deps.Markers.SaveMarkers(ctx, MarkerKeyInstallments, markers); err != nil {
		return result, fmt.Errorf("save installment markers: %w", err)
	}
	return result, nil
}

func (s *Service) currentRate(ctx context.Context) int64 {
	if s.deps.Rates == nil {
		return 0
	}
	rate, err := s.deps.Rates.Current(ctx)
	if err != nil {
		slog.WarnContext(ctx, "BTC rate unavailable, sat valuations disabled for this run", "error", err)
		return 0
	}
	return rate
}

func (s *Service) notifyApplied(ctx context.Context, kind, entityID string, ym core.YearMonth, amount core.Money) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.PublishDeductionApplied(ctx, kind, entityID, ym, amount); err != nil {
		slog.WarnContext(ctx, "Failed to publish deduction event",
			"kind", kind, "entity_id", entityID, "error", err)
	}
}

func (s *Service) notifyClamped(ctx context.Context, adj core.BalanceAdjustment) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.PublishBalanceClamped(ctx, adj.AssetName, adj.Requested, adj.Actual); err != nil {
		slog.WarnContext(ctx, "Failed to publish clamp event",
			"asset", adj.AssetName, "error", err)
	}
}
