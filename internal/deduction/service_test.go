package deduction

import (
	"context"
	"errors"
	"testing"

	"syba/internal/core"
	"syba/internal/vault"
)

// fakeStore backs every service collaborator with in-memory state.
type fakeStore struct {
	cards        []core.Card
	expenses     []core.Expense
	installments []core.Installment
	loans        []core.Loan

	balances   map[string]int64
	assetNames map[string]string
	adjustErr  map[string]error
	adjusted   []string

	appended []core.Expense

	loanUpdates []progressUpdate
	instUpdates []progressUpdate

	markers       map[string]map[string]core.YearMonth
	markerLoadErr error
}

type progressUpdate struct {
	id        string
	paid      int
	remaining core.Money
	status    core.DebtStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		balances:   map[string]int64{},
		assetNames: map[string]string{},
		adjustErr:  map[string]error{},
		markers:    map[string]map[string]core.YearMonth{},
	}
}

func (f *fakeStore) ListCards(ctx context.Context) ([]core.Card, error) {
	return f.cards, nil
}

func (f *fakeStore) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	return f.expenses, nil
}

func (f *fakeStore) ListActiveInstallments(ctx context.Context) ([]core.Installment, error) {
	var active []core.Installment
	for _, i := range f.installments {
		if i.Status == core.StatusActive {
			active = append(active, i)
		}
	}
	return active, nil
}

func (f *fakeStore) ListActiveLoans(ctx context.Context) ([]core.Loan, error) {
	var active []core.Loan
	for _, l := range f.loans {
		if l.Status == core.StatusActive {
			active = append(active, l)
		}
	}
	return active, nil
}

func (f *fakeStore) AdjustAssetBalance(ctx context.Context, assetID string, delta core.Money) (core.BalanceAdjustment, error) {
	if err := f.adjustErr[assetID]; err != nil {
		return core.BalanceAdjustment{}, err
	}
	f.adjusted = append(f.adjusted, assetID)

	balance := f.balances[assetID]
	adj := core.BalanceAdjustment{
		AssetName: f.assetNames[assetID],
		Requested: delta,
		Actual:    delta,
	}
	if balance+delta.Krw < 0 {
		adj.Clamped = true
		adj.Actual = core.Won(-balance)
	}
	f.balances[assetID] = balance + adj.Actual.Krw
	return adj, nil
}

func (f *fakeStore) AppendExpense(ctx context.Context, e core.Expense) (string, error) {
	f.appended = append(f.appended, e)
	return e.ID, nil
}

func (f *fakeStore) UpdateLoanProgress(ctx context.Context, id string, paid int, remaining core.Money, status core.DebtStatus) error {
	f.loanUpdates = append(f.loanUpdates, progressUpdate{id, paid, remaining, status})
	return nil
}

func (f *fakeStore) UpdateInstallmentProgress(ctx context.Context, id string, paid int, remaining core.Money, status core.DebtStatus) error {
	f.instUpdates = append(f.instUpdates, progressUpdate{id, paid, remaining, status})
	return nil
}

func (f *fakeStore) LoadMarkers(ctx context.Context, key string) (map[string]core.YearMonth, error) {
	if f.markerLoadErr != nil {
		return nil, f.markerLoadErr
	}
	m, ok := f.markers[key]
	if !ok {
		return map[string]core.YearMonth{}, nil
	}
	out := make(map[string]core.YearMonth, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) SaveMarkers(ctx context.Context, key string, markers map[string]core.YearMonth) error {
	saved := make(map[string]core.YearMonth, len(markers))
	for k, v := range markers {
		saved[k] = v
	}
	f.markers[key] = saved
	return nil
}

func newService(f *fakeStore) *Service {
	return NewService(Deps{
		Cards:    f,
		Expenses: f,
		Debts:    f,
		Balances: f,
		Ledger:   f,
		Mutator:  f,
		Markers:  f,
	})
}

func shinhanCard() core.Card {
	return core.Card{
		ID:              "card-1",
		Name:            "Daily",
		Company:         "shinhan",
		Type:            core.CardCredit,
		PaymentDay:      14,
		BillingStartDay: 1,
		BillingEndDay:   31,
		LinkedAssetID:   "asset-1",
	}
}

func TestProcessAll_CardStatementDeducted(t *testing.T) {
	f := newFakeStore()
	f.cards = []core.Card{shinhanCard()}
	f.balances["asset-1"] = 500_000
	f.assetNames["asset-1"] = "Checking"
	// Shinhan day 14 settles the previous calendar month, so the March
	// statement covers February.
	f.expenses = []core.Expense{
		{ID: "e-1", Date: core.NewDate(2026, 2, 10), Amount: core.Won(80_000), PaymentMethod: "card", CardID: "card-1"},
		{ID: "e-2", Date: core.NewDate(2026, 1, 10), Amount: core.Won(999_999), PaymentMethod: "card", CardID: "card-1"},
	}
	f.markers[MarkerKeyCards] = map[string]core.YearMonth{"card-1": "2026-02"}

	result, err := newService(f).ProcessAll(context.Background(), core.NewDate(2026, 3, 20))
	if err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}

	if result.CardsProcessed != 1 {
		t.Errorf("CardsProcessed = %d, want 1", result.CardsProcessed)
	}
	if got := f.balances["asset-1"]; got != 420_000 {
		t.Errorf("balance = %d, want 420000", got)
	}
	if got := f.markers[MarkerKeyCards]["card-1"]; got != "2026-03" {
		t.Errorf("marker = %s, want 2026-03", got)
	}
	if len(result.Warnings) != 0 || len(result.Errors) != 0 {
		t.Errorf("unexpected warnings %v or errors %v", result.Warnings, result.Errors)
	}
}

func TestProcessAll_SecondRunIsNoOp(t *testing.T) {
	f := newFakeStore()
	f.cards = []core.Card{shinhanCard()}
	f.balances["asset-1"] = 500_000
	f.expenses = []core.Expense{
		{ID: "e-1", Date: core.NewDate(2026, 2, 10), Amount: core.Won(80_000), PaymentMethod: "card", CardID: "card-1"},
	}
	f.markers[MarkerKeyCards] = map[string]core.YearMonth{"card-1": "2026-02"}

	svc := newService(f)
	now := core.NewDate(2026, 3, 20)

	if _, err := svc.ProcessAll(context.Background(), now); err != nil {
		t.Fatalf("first run: %v", err)
	}
	adjustedAfterFirst := len(f.adjusted)

	result, err := svc.ProcessAll(context.Background(), now)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.CardsProcessed != 0 {
		t.Errorf("second run CardsProcessed = %d, want 0", result.CardsProcessed)
	}
	if len(f.adjusted) != adjustedAfterFirst {
		t.Error("second run must not touch balances")
	}
	if got := f.balances["asset-1"]; got != 420_000 {
		t.Errorf("balance after second run = %d, want 420000", got)
	}
}

func TestProcessAll_ZeroStatementStillMarked(t *testing.T) {
	f := newFakeStore()
	f.cards = []core.Card{shinhanCard()}
	f.balances["asset-1"] = 500_000
	f.markers[MarkerKeyCards] = map[string]core.YearMonth{"card-1": "2026-02"}

	result, err := newService(f).ProcessAll(context.Background(), core.NewDate(2026, 3, 20))
	if err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}

	if len(f.adjusted) != 0 {
		t.Error("zero statement must not touch balances")
	}
	if got := f.markers[MarkerKeyCards]["card-1"]; got != "2026-03" {
		t.Errorf("marker = %s, want 2026-03", got)
	}
	if result.CardsProcessed != 1 {
		t.Errorf("CardsProcessed = %d, want 1", result.CardsProcessed)
	}
}

func TestProcessAll_BalanceClampWarning(t *testing.T) {
	f := newFakeStore()
	f.cards = []core.Card{shinhanCard()}
	f.balances["asset-1"] = 50_000
	f.assetNames["asset-1"] = "Checking"
	f.expenses = []core.Expense{
		{ID: "e-1", Date: core.NewDate(2026, 2, 10), Amount: core.Won(80_000), PaymentMethod: "card", CardID: "card-1"},
	}
	f.markers[MarkerKeyCards] = map[string]core.YearMonth{"card-1": "2026-02"}

	result, err := newService(f).ProcessAll(context.Background(), core.NewDate(2026, 3, 20))
	if err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}

	if len(result.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one", result.Warnings)
	}
	w := result.Warnings[0]
	if w.AssetName != "Checking" || w.Requested.Krw != -80_000 || w.Actual.Krw != -50_000 {
		t.Errorf("warning = %+v", w)
	}
	if got := f.balances["asset-1"]; got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	// A clamped deduction still counts as processed.
	if got := f.markers[MarkerKeyCards]["card-1"]; got != "2026-03" {
		t.Errorf("marker = %s, want 2026-03", got)
	}
}

func TestProcessAll_MissingVaultKeyAborts(t *testing.T) {
	f := newFakeStore()
	f.cards = []core.Card{shinhanCard()}
	f.balances["asset-1"] = 500_000
	f.expenses = []core.Expense{
		{ID: "e-1", Date: core.NewDate(2026, 2, 10), Amount: core.Won(80_000), PaymentMethod: "card", CardID: "card-1"},
	}
	f.markerLoadErr = vault.ErrKeyRequired

	_, err := newService(f).ProcessAll(context.Background(), core.NewDate(2026, 3, 20))
	if !errors.Is(err, vault.ErrKeyRequired) {
		t.Fatalf("error = %v, want ErrKeyRequired", err)
	}
	if len(f.adjusted) != 0 {
		t.Error("no balances may change without the marker store")
	}
}

func TestProcessAll_CardErrorIsolated(t *testing.T) {
	broken := shinhanCard()
	healthy := shinhanCard()
	healthy.ID = "card-2"
	healthy.Name = "Backup"
	healthy.LinkedAssetID = "asset-2"

	f := newFakeStore()
	f.cards = []core.Card{broken, healthy}
	f.balances["asset-1"] = 500_000
	f.balances["asset-2"] = 500_000
	f.adjustErr["asset-1"] = errors.New("db locked")
	f.expenses = []core.Expense{
		{ID: "e-1", Date: core.NewDate(2026, 2, 10), Amount: core.Won(80_000), PaymentMethod: "card", CardID: "card-1"},
		{ID: "e-2", Date: core.NewDate(2026, 2, 12), Amount: core.Won(30_000), PaymentMethod: "card", CardID: "card-2"},
	}
	f.markers[MarkerKeyCards] = map[string]core.YearMonth{"card-1": "2026-02", "card-2": "2026-02"}

	result, err := newService(f).ProcessAll(context.Background(), core.NewDate(2026, 3, 20))
	if err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}

	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want exactly one", result.Errors)
	}
	if result.CardsProcessed != 1 {
		t.Errorf("CardsProcessed = %d, want 1", result.CardsProcessed)
	}
	// The failed card stays unmarked so the month is retried next run.
	if got := f.markers[MarkerKeyCards]["card-1"]; got != "2026-02" {
		t.Errorf("failed card marker = %s, want 2026-02", got)
	}
	if got := f.markers[MarkerKeyCards]["card-2"]; got != "2026-03" {
		t.Errorf("healthy card marker = %s, want 2026-03", got)
	}
	if got := f.balances["asset-2"]; got != 470_000 {
		t.Errorf("healthy card balance = %d, want 470000", got)
	}
}

func TestProcessAll_LoanEqualPrincipal(t *testing.T) {
	f := newFakeStore()
	f.loans = []core.Loan{{
		ID:                 "loan-1",
		Name:               "Jeonse deposit",
		Principal:          core.Won(12_000_000),
		TermMonths:         12,
		PaidMonths:         3,
		RemainingPrincipal: core.Won(9_000_000),
		MonthlyPayment:     core.Won(1_000_000),
		RepaymentType:      core.RepayEqualPrincipal,
		LinkedAssetID:      "asset-1",
		RepaymentDay:       5,
		Status:             core.StatusActive,
	}}
	f.balances["asset-1"] = 5_000_000
	f.markers[MarkerKeyLoans] = map[string]core.YearMonth{"loan-1": "2026-02"}

	result, err := newService(f).ProcessAll(context.Background(), core.NewDate(2026, 3, 10))
	if err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}

	if result.LoansProcessed != 1 {
		t.Errorf("LoansProcessed = %d, want 1", result.LoansProcessed)
	}
	if got := f.balances["asset-1"]; got != 4_000_000 {
		t.Errorf("balance = %d, want 4000000", got)
	}
	if len(f.appended) != 1 {
		t.Fatalf("expected one ledger record, got %d", len(f.appended))
	}
	rec := f.appended[0]
	if rec.Amount.Krw != 1_000_000 || rec.Primary != "Finance" || rec.Secondary != "Loan repayment" {
		t.Errorf("ledger record = %+v", rec)
	}
	if !rec.Date.Equal(core.NewDate(2026, 3, 5).Time) {
		t.Errorf("ledger date = %s, want 2026-03-05", rec.Date)
	}
	if len(f.loanUpdates) != 1 {
		t.Fatalf("expected one progress update, got %d", len(f.loanUpdates))
	}
	up := f.loanUpdates[0]
	if up.paid != 4 || up.remaining.Krw != 8_000_000 || up.status != core.StatusActive {
		t.Errorf("progress update = %+v", up)
	}
}

func TestProcessAll_LoanCompletes(t *testing.T) {
	f := newFakeStore()
	f.loans = []core.Loan{{
		ID:                 "loan-1",
		Name:               "Appliance loan",
		Principal:          core.Won(1_200_000),
		TermMonths:         12,
		PaidMonths:         11,
		RemainingPrincipal: core.Won(100_000),
		MonthlyPayment:     core.Won(100_000),
		RepaymentType:      core.RepayEqualPrincipal,
		LinkedAssetID:      "asset-1",
		RepaymentDay:       5,
		Status:             core.StatusActive,
	}}
	f.balances["asset-1"] = 1_000_000
	f.markers[MarkerKeyLoans] = map[string]core.YearMonth{"loan-1": "2026-02"}

	if _, err := newService(f).ProcessAll(context.Background(), core.NewDate(2026, 3, 10)); err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}

	if len(f.loanUpdates) != 1 {
		t.Fatalf("expected one progress update, got %d", len(f.loanUpdates))
	}
	up := f.loanUpdates[0]
	if up.paid != 12 || up.status != core.StatusCompleted || up.remaining.Krw != 0 {
		t.Errorf("progress update = %+v", up)
	}
}

func TestProcessAll_LoanMultiMonthCompounds(t *testing.T) {
	f := newFakeStore()
	f.loans = []core.Loan{{
		ID:                 "loan-1",
		Name:               "Jeonse deposit",
		Principal:          core.Won(12_000_000),
		TermMonths:         12,
		PaidMonths:         0,
		RemainingPrincipal: core.Won(12_000_000),
		MonthlyPayment:     core.Won(1_000_000),
		RepaymentType:      core.RepayEqualPrincipal,
		LinkedAssetID:      "asset-1",
		RepaymentDay:       5,
		Status:             core.StatusActive,
	}}
	f.balances["asset-1"] = 5_000_000

	// First run ever, after the repayment day: both February and March
	// are due and must compound within the run.
	result, err := newService(f).ProcessAll(context.Background(), core.NewDate(2026, 3, 10))
	if err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}

	if result.LoansProcessed != 2 {
		t.Errorf("LoansProcessed = %d, want 2", result.LoansProcessed)
	}
	if got := f.balances["asset-1"]; got != 3_000_000 {
		t.Errorf("balance = %d, want 3000000", got)
	}
	if len(f.loanUpdates) != 2 {
		t.Fatalf("expected two progress updates, got %d", len(f.loanUpdates))
	}
	if f.loanUpdates[0].paid != 1 || f.loanUpdates[0].remaining.Krw != 11_000_000 {
		t.Errorf("first update = %+v", f.loanUpdates[0])
	}
	if f.loanUpdates[1].paid != 2 || f.loanUpdates[1].remaining.Krw != 10_000_000 {
		t.Errorf("second update = %+v", f.loanUpdates[1])
	}
	if got := f.markers[MarkerKeyLoans]["loan-1"]; got != "2026-03" {
		t.Errorf("marker = %s, want 2026-03", got)
	}
}

func TestNextRemainingPrincipal(t *testing.T) {
	tests := []struct {
		name    string
		loan    core.Loan
		current int64
		paid    int
		want    int64
	}{
		{
			name: "bullet holds principal until maturity",
			loan: core.Loan{RepaymentType: core.RepayBullet, TermMonths: 12},
			current: 10_000_000, paid: 6, want: 10_000_000,
		},
		{
			name: "bullet clears at maturity",
			loan: core.Loan{RepaymentType: core.RepayBullet, TermMonths: 12},
			current: 10_000_000, paid: 12, want: 0,
		},
		{
			name: "equal principal steps by principal over term",
			loan: core.Loan{
				RepaymentType: core.RepayEqualPrincipal,
				Principal:     core.Won(12_000_000),
				TermMonths:    12,
			},
			current: 9_000_000, paid: 4, want: 8_000_000,
		},
		{
			name: "equal principal and interest deducts the principal portion",
			loan: core.Loan{
				RepaymentType:  core.RepayEqualPrincipalAndInterest,
				MonthlyPayment: core.Won(500_000),
				InterestRateBp: 1200, // 1% per month
				TermMonths:     24,
			},
			current: 10_000_000, paid: 1, want: 9_600_000,
		},
		{
			name: "interest exceeding the payment never grows the principal",
			loan: core.Loan{
				RepaymentType:  core.RepayEqualPrincipalAndInterest,
				MonthlyPayment: core.Won(50_000),
				InterestRateBp: 1200,
				TermMonths:     24,
			},
			current: 10_000_000, paid: 1, want: 10_000_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextRemainingPrincipal(tt.loan, core.Won(tt.current), tt.paid)
			if got.Krw != tt.want {
				t.Errorf("nextRemainingPrincipal() = %d, want %d", got.Krw, tt.want)
			}
		})
	}
}

func TestProcessAll_InstallmentAdvances(t *testing.T) {
	f := newFakeStore()
	card := shinhanCard()
	card.LinkedAssetID = "" // card phase skips it; installment phase still keys off its payment day
	f.cards = []core.Card{card}
	f.installments = []core.Installment{{
		ID:              "inst-1",
		CardID:          "card-1",
		Description:     "Laptop",
		Months:          6,
		MonthlyPayment:  core.Won(200_000),
		PaidMonths:      2,
		RemainingAmount: core.Won(800_000),
		Status:          core.StatusActive,
		StartDate:       core.NewDate(2026, 1, 10),
	}}
	f.markers[MarkerKeyInstallments] = map[string]core.YearMonth{"inst-1": "2026-02"}

	result, err := newService(f).ProcessAll(context.Background(), core.NewDate(2026, 3, 20))
	if err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}

	if result.InstallmentsProcessed != 1 {
		t.Errorf("InstallmentsProcessed = %d, want 1", result.InstallmentsProcessed)
	}
	if len(f.instUpdates) != 1 {
		t.Fatalf("expected one progress update, got %d", len(f.instUpdates))
	}
	up := f.instUpdates[0]
	if up.paid != 3 || up.remaining.Krw != 600_000 || up.status != core.StatusActive {
		t.Errorf("progress update = %+v", up)
	}
	// Counter advance only: the cash flow is in the card statement.
	if len(f.appended) != 0 {
		t.Error("installment advance must not append ledger records")
	}
	if len(f.adjusted) != 0 {
		t.Error("installment advance must not touch balances")
	}
}

func TestProcessAll_InstallmentCompletes(t *testing.T) {
	f := newFakeStore()
	card := shinhanCard()
	card.LinkedAssetID = ""
	f.cards = []core.Card{card}
	f.installments = []core.Installment{{
		ID:              "inst-1",
		CardID:          "card-1",
		Months:          6,
		MonthlyPayment:  core.Won(200_000),
		PaidMonths:      5,
		RemainingAmount: core.Won(200_000),
		Status:          core.StatusActive,
		StartDate:       core.NewDate(2025, 10, 10),
	}}
	f.markers[MarkerKeyInstallments] = map[string]core.YearMonth{"inst-1": "2026-02"}

	if _, err := newService(f).ProcessAll(context.Background(), core.NewDate(2026, 3, 20)); err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}

	if len(f.instUpdates) != 1 {
		t.Fatalf("expected one progress update, got %d", len(f.instUpdates))
	}
	up := f.instUpdates[0]
	if up.paid != 6 || up.status != core.StatusCompleted || up.remaining.Krw != 0 {
		t.Errorf("progress update = %+v", up)
	}
}

func TestProcessAll_InstallmentWithoutCardSkipped(t *testing.T) {
	f := newFakeStore()
	f.installments = []core.Installment{{
		ID:              "inst-orphan",
		CardID:          "card-gone",
		Months:          6,
		MonthlyPayment:  core.Won(200_000),
		PaidMonths:      2,
		RemainingAmount: core.Won(800_000),
		Status:          core.StatusActive,
		StartDate:       core.NewDate(2026, 1, 10),
	}}

	result, err := newService(f).ProcessAll(context.Background(), core.NewDate(2026, 3, 20))
	if err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}
	if result.InstallmentsProcessed != 0 || len(f.instUpdates) != 0 {
		t.Error("orphaned installment must be skipped")
	}
}
