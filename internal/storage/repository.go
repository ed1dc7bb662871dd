// Package storage is the SQLite system of record: assets, cards, the
// expense ledger, debt obligations, and the key-value table holding
// the encrypted deduction markers.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"syba/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveAsset inserts or replaces a balance account.
func (r *SQLiteRepository) SaveAsset(ctx context.Context, a core.Asset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (id, name, balance_krw)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, balance_krw = excluded.balance_krw, updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Name, a.Balance.Krw)
	if err != nil {
		return fmt.Errorf("save asset: %w", err)
	}
	return nil
}

// GetAsset retrieves one balance account.
func (r *SQLiteRepository) GetAsset(ctx context.Context, id string) (core.Asset, error) {
	var a core.Asset
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, balance_krw FROM assets WHERE id = ?`, id).
		Scan(&a.ID, &a.Name, &a.Balance.Krw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Asset{}, fmt.Errorf("asset %s not found", id)
	}
	if err != nil {
		return core.Asset{}, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

// AdjustAssetBalance implements deduction.BalanceAdjuster. The balance
// floors at zero; a delta that would cross it is clamped and reported,
// not rejected, so a deduction against an underfunded account still
// completes.
func (r *SQLiteRepository) AdjustAssetBalance(ctx context.Context, assetID string, delta core.Money) (core.BalanceAdjustment, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.BalanceAdjustment{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var name string
	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT name, balance_krw FROM assets WHERE id = ?`, assetID).
		Scan(&name, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return core.BalanceAdjustment{}, fmt.Errorf("asset %s not found", assetID)
	}
	if err != nil {
		return core.BalanceAdjustment{}, fmt.Errorf("read balance: %w", err)
	}

	adj := core.BalanceAdjustment{
		AssetName: name,
		Requested: delta,
		Actual:    delta,
	}

	newBalance := balance + delta.Krw
	if newBalance < 0 {
		adj.Clamped = true
		adj.Actual = core.Won(-balance)
		newBalance = 0
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE assets SET balance_krw = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		newBalance, assetID)
	if err != nil {
		return core.BalanceAdjustment{}, fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return core.BalanceAdjustment{}, fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "Asset balance adjusted",
		"asset_id", assetID,
		"delta_krw", delta.Krw,
		"new_balance_krw", newBalance,
		"clamped", adj.Clamped)

	return adj, nil
}

// SaveCard inserts or replaces a card.
func (r *SQLiteRepository) SaveCard(ctx context.Context, c core.Card) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cards (id, name, company, type, payment_day, billing_start_day, billing_end_day, linked_asset_id, linked_account_id, balance_krw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			company = excluded.company,
			type = excluded.type,
			payment_day = excluded.payment_day,
			billing_start_day = excluded.billing_start_day,
			billing_end_day = excluded.billing_end_day,
			linked_asset_id = excluded.linked_asset_id,
			linked_account_id = excluded.linked_account_id,
			balance_krw = excluded.balance_krw`,
		c.ID, c.Name, c.Company, string(c.Type), c.PaymentDay, c.BillingStartDay, c.BillingEndDay,
		nullable(c.LinkedAssetID), nullable(c.LinkedAccountID), c.Balance.Krw)
	if err != nil {
		return fmt.Errorf("save card: %w", err)
	}
	return nil
}

// ListCards implements deduction.CardSource.
func (r *SQLiteRepository) ListCards(ctx context.Context) ([]core.Card, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, company, type, payment_day, billing_start_day, billing_end_day,
		       COALESCE(linked_asset_id, ''), COALESCE(linked_account_id, ''), balance_krw
		FROM cards ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []core.Card
	for rows.Next() {
		var c core.Card
		var cardType string
		if err := rows.Scan(&c.ID, &c.Name, &c.Company, &cardType, &c.PaymentDay,
			&c.BillingStartDay, &c.BillingEndDay, &c.LinkedAssetID, &c.LinkedAccountID, &c.Balance.Krw); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		c.Type = core.CardType(cardType)
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// AppendExpense implements deduction.LedgerAppender. The ledger is
// append-only; records are never updated.
func (r *SQLiteRepository) AppendExpense(ctx context.Context, e core.Expense) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses (id, date, description, amount_krw, currency, payment_method, card_id, installment_months, sats_equivalent, btc_krw_at_time, primary_category, secondary_category)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Date.String(), e.Description, e.Amount.Krw, string(e.Currency), e.PaymentMethod,
		nullable(e.CardID), e.InstallmentMonths, e.SatsEquivalent, e.BtcKrwAtTime, e.Primary, e.Secondary)
	if err != nil {
		return "", fmt.Errorf("append expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved",
		"id", e.ID,
		"description", e.Description,
		"amount_krw", e.Amount.Krw,
		"date", e.Date.String())

	return e.ID, nil
}

// ListExpenses implements deduction.ExpenseSource.
func (r *SQLiteRepository) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, date, description, amount_krw, currency, payment_method,
		       COALESCE(card_id, ''), installment_months, sats_equivalent, btc_krw_at_time,
		       primary_category, secondary_category
		FROM expenses ORDER BY date`)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	for rows.Next() {
		var e core.Expense
		var date, currency string
		if err := rows.Scan(&e.ID, &date, &e.Description, &e.Amount.Krw, &currency, &e.PaymentMethod,
			&e.CardID, &e.InstallmentMonths, &e.SatsEquivalent, &e.BtcKrwAtTime, &e.Primary, &e.Secondary); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		e.Currency = core.Currency(currency)
		e.Date, err = core.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("parse expense date %q: %w", date, err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// SaveInstallment inserts or replaces an installment obligation.
func (r *SQLiteRepository) SaveInstallment(ctx context.Context, i core.Installment) error {
	if err := i.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO installments (id, card_id, description, months, monthly_payment_krw, paid_months, remaining_amount_krw, status, start_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			months = excluded.months,
			monthly_payment_krw = excluded.monthly_payment_krw,
			paid_months = excluded.paid_months,
			remaining_amount_krw = excluded.remaining_amount_krw,
			status = excluded.status,
			start_date = excluded.start_date`,
		i.ID, i.CardID, i.Description, i.Months, i.MonthlyPayment.Krw, i.PaidMonths,
		i.RemainingAmount.Krw, string(i.Status), i.StartDate.String())
	if err != nil {
		return fmt.Errorf("save installment: %w", err)
	}
	return nil
}

// ListActiveInstallments implements part of deduction.DebtSource.
func (r *SQLiteRepository) ListActiveInstallments(ctx context.Context) ([]core.Installment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, card_id, description, months, monthly_payment_krw, paid_months, remaining_amount_krw, status, start_date
		FROM installments WHERE status = 'active' ORDER BY start_date`)
	if err != nil {
		return nil, fmt.Errorf("list active installments: %w", err)
	}
	defer rows.Close()

	var installments []core.Installment
	for rows.Next() {
		var i core.Installment
		var status, startDate string
		if err := rows.Scan(&i.ID, &i.CardID, &i.Description, &i.Months, &i.MonthlyPayment.Krw,
			&i.PaidMonths, &i.RemainingAmount.Krw, &status, &startDate); err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		i.Status = core.DebtStatus(status)
		i.StartDate, err = core.ParseDate(startDate)
		if err != nil {
			return nil, fmt.Errorf("parse installment start date %q: %w", startDate, err)
		}
		installments = append(installments, i)
	}
	return installments, rows.Err()
}

// UpdateInstallmentProgress implements part of deduction.DebtMutator.
func (r *SQLiteRepository) UpdateInstallmentProgress(ctx context.Context, id string, paidMonths int, remaining core.Money, status core.DebtStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE installments SET paid_months = ?, remaining_amount_krw = ?, status = ? WHERE id = ?`,
		paidMonths, remaining.Krw, string(status), id)
	if err != nil {
		return fmt.Errorf("update installment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("installment %s not found", id)
	}
	return nil
}

// SaveLoan inserts or replaces a loan.
func (r *SQLiteRepository) SaveLoan(ctx context.Context, l core.Loan) error {
	if err := l.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO loans (id, name, principal_krw, term_months, paid_months, remaining_principal_krw, monthly_payment_krw, repayment_type, interest_rate_bp, linked_asset_id, repayment_day, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			principal_krw = excluded.principal_krw,
			term_months = excluded.term_months,
			paid_months = excluded.paid_months,
			remaining_principal_krw = excluded.remaining_principal_krw,
			monthly_payment_krw = excluded.monthly_payment_krw,
			repayment_type = excluded.repayment_type,
			interest_rate_bp = excluded.interest_rate_bp,
			linked_asset_id = excluded.linked_asset_id,
			repayment_day = excluded.repayment_day,
			status = excluded.status`,
		l.ID, l.Name, l.Principal.Krw, l.TermMonths, l.PaidMonths, l.RemainingPrincipal.Krw,
		l.MonthlyPayment.Krw, string(l.RepaymentType), l.InterestRateBp,
		nullable(l.LinkedAssetID), l.RepaymentDay, string(l.Status))
	if err != nil {
		return fmt.Errorf("save loan: %w", err)
	}
	return nil
}

// ListActiveLoans implements part of deduction.DebtSource.
func (r *SQLiteRepository) ListActiveLoans(ctx context.Context) ([]core.Loan, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, principal_krw, term_months, paid_months, remaining_principal_krw,
		       monthly_payment_krw, repayment_type, interest_rate_bp, COALESCE(linked_asset_id, ''), repayment_day, status
		FROM loans WHERE status = 'active' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list active loans: %w", err)
	}
	defer rows.Close()

	var loans []core.Loan
	for rows.Next() {
		var l core.Loan
		var repaymentType, status string
		if err := rows.Scan(&l.ID, &l.Name, &l.Principal.Krw, &l.TermMonths, &l.PaidMonths,
			&l.RemainingPrincipal.Krw, &l.MonthlyPayment.Krw, &repaymentType, &l.InterestRateBp,
			&l.LinkedAssetID, &l.RepaymentDay, &status); err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		l.RepaymentType = core.RepaymentType(repaymentType)
		l.Status = core.DebtStatus(status)
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// UpdateLoanProgress implements part of deduction.DebtMutator.
func (r *SQLiteRepository) UpdateLoanProgress(ctx context.Context, id string, paidMonths int, remaining core.Money, status core.DebtStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE loans SET paid_months = ?, remaining_principal_krw = ?, status = ? WHERE id = ?`,
		paidMonths, remaining.Krw, string(status), id)
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("loan %s not found", id)
	}
	return nil
}

// GetBlob reads a raw key-value row. Missing keys return nil, nil.
func (r *SQLiteRepository) GetBlob(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}
	return value, nil
}

// PutBlob upserts a raw key-value row.
func (r *SQLiteRepository) PutBlob(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("put blob %s: %w", key, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
