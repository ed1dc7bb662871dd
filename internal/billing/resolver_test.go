package billing

import (
	"testing"

	"syba/internal/core"
)

func TestResolve_CompanyRules(t *testing.T) {
	tests := []struct {
		name         string
		company      string
		paymentDay   int
		paymentMonth core.YearMonth
		wantOK       bool
		wantStart    core.Date
		wantEnd      core.Date
	}{
		{
			name:         "shinhan day 14 covers previous calendar month",
			company:      "shinhan",
			paymentDay:   14,
			paymentMonth: "2026-03",
			wantOK:       true,
			wantStart:    core.NewDate(2026, 2, 1),
			wantEnd:      core.NewDate(2026, 2, 28), // non-leap February
		},
		{
			name:         "end-of-month sentinel clamps to 30-day month",
			company:      "shinhan",
			paymentDay:   14,
			paymentMonth: "2026-05",
			wantOK:       true,
			wantStart:    core.NewDate(2026, 4, 1),
			wantEnd:      core.NewDate(2026, 4, 30),
		},
		{
			name:         "end-of-month sentinel in leap February",
			company:      "samsung",
			paymentDay:   13,
			paymentMonth: "2028-03",
			wantOK:       true,
			wantStart:    core.NewDate(2028, 2, 1),
			wantEnd:      core.NewDate(2028, 2, 29),
		},
		{
			name:         "window spanning two months",
			company:      "shinhan",
			paymentDay:   25,
			paymentMonth: "2026-03",
			wantOK:       true,
			wantStart:    core.NewDate(2026, 2, 12),
			wantEnd:      core.NewDate(2026, 3, 11),
		},
		{
			name:         "window anchored two months back crosses year boundary",
			company:      "shinhan",
			paymentDay:   1,
			paymentMonth: "2026-01",
			wantOK:       true,
			wantStart:    core.NewDate(2025, 11, 18),
			wantEnd:      core.NewDate(2025, 12, 17),
		},
		{
			name:         "unknown company falls through",
			company:      "mallard",
			paymentDay:   14,
			paymentMonth: "2026-03",
			wantOK:       false,
		},
		{
			name:         "known company without rule for that day falls through",
			company:      "shinhan",
			paymentDay:   17,
			paymentMonth: "2026-03",
			wantOK:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.company, tt.paymentDay, tt.paymentMonth)
			if ok != tt.wantOK {
				t.Fatalf("Resolve() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if !got.Start.Equal(tt.wantStart.Time) {
				t.Errorf("Resolve() start = %s, want %s", got.Start, tt.wantStart)
			}
			if !got.End.Equal(tt.wantEnd.Time) {
				t.Errorf("Resolve() end = %s, want %s", got.End, tt.wantEnd)
			}
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	first, ok1 := Resolve("shinhan", 14, "2026-03")
	second, ok2 := Resolve("shinhan", 14, "2026-03")
	if !ok1 || !ok2 {
		t.Fatal("expected rule to resolve")
	}
	if !first.Start.Equal(second.Start.Time) || !first.End.Equal(second.End.Time) {
		t.Errorf("Resolve() not idempotent: %v vs %v", first, second)
	}
}

func TestResolveFallback(t *testing.T) {
	tests := []struct {
		name       string
		paymentDay int
		startDay   int
		endDay     int
		target     core.Date
		wantStart  core.Date
		wantEnd    core.Date
	}{
		{
			name:       "before payment day keeps this month's bill pending",
			paymentDay: 14,
			startDay:   1,
			endDay:     31,
			target:     core.NewDate(2026, 3, 10),
			wantStart:  core.NewDate(2026, 1, 1),
			wantEnd:    core.NewDate(2026, 2, 28),
		},
		{
			name:       "after payment day shifts the pending bill to April",
			paymentDay: 14,
			startDay:   1,
			endDay:     31,
			target:     core.NewDate(2026, 3, 20),
			wantStart:  core.NewDate(2026, 2, 1),
			wantEnd:    core.NewDate(2026, 3, 31),
		},
		{
			name:       "payment day itself belongs to the next cycle",
			paymentDay: 14,
			startDay:   1,
			endDay:     31,
			target:     core.NewDate(2026, 3, 14),
			wantStart:  core.NewDate(2026, 2, 1),
			wantEnd:    core.NewDate(2026, 3, 31),
		},
		{
			name:       "mid-month billing days",
			paymentDay: 25,
			startDay:   12,
			endDay:     11,
			target:     core.NewDate(2026, 3, 10),
			wantStart:  core.NewDate(2026, 1, 12),
			wantEnd:    core.NewDate(2026, 2, 11),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveFallback(tt.paymentDay, tt.startDay, tt.endDay, tt.target)
			if !got.Start.Equal(tt.wantStart.Time) {
				t.Errorf("ResolveFallback() start = %s, want %s", got.Start, tt.wantStart)
			}
			if !got.End.Equal(tt.wantEnd.Time) {
				t.Errorf("ResolveFallback() end = %s, want %s", got.End, tt.wantEnd)
			}
		})
	}
}

func TestResolveForMonth(t *testing.T) {
	// Rule table wins over stored billing days.
	got, ok := ResolveForMonth("shinhan", 14, 5, 4, "2026-03")
	if !ok {
		t.Fatal("expected window")
	}
	if !got.Start.Equal(core.NewDate(2026, 2, 1).Time) {
		t.Errorf("rule table should win, got start %s", got.Start)
	}

	// No rule, no stored days: nothing to resolve.
	if _, ok := ResolveForMonth("mallard", 14, 0, 0, "2026-03"); ok {
		t.Error("expected no window without rule or stored days")
	}

	// No rule, stored days present: generic window.
	got, ok = ResolveForMonth("mallard", 14, 1, 31, "2026-03")
	if !ok {
		t.Fatal("expected fallback window")
	}
	if !got.Start.Equal(core.NewDate(2026, 1, 1).Time) || !got.End.Equal(core.NewDate(2026, 2, 28).Time) {
		t.Errorf("fallback window = %s..%s", got.Start, got.End)
	}
}

func TestPendingPaymentMonth(t *testing.T) {
	tests := []struct {
		name       string
		paymentDay int
		target     core.Date
		want       core.YearMonth
	}{
		{"before payment day", 14, core.NewDate(2026, 3, 10), "2026-03"},
		{"on payment day", 14, core.NewDate(2026, 3, 14), "2026-04"},
		{"after payment day", 14, core.NewDate(2026, 3, 20), "2026-04"},
		{"december rolls into next year", 14, core.NewDate(2026, 12, 20), "2027-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PendingPaymentMonth(tt.paymentDay, tt.target); got != tt.want {
				t.Errorf("PendingPaymentMonth() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDaysUntilPayment(t *testing.T) {
	tests := []struct {
		name       string
		today      core.Date
		paymentDay int
		want       int
	}{
		{"payment day today", core.NewDate(2026, 3, 14), 14, 0},
		{"four days out", core.NewDate(2026, 3, 10), 14, 4},
		{"already passed, next month", core.NewDate(2026, 3, 20), 14, 25},
		{"end of year wraps", core.NewDate(2026, 12, 30), 5, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysUntilPayment(tt.today, tt.paymentDay); got != tt.want {
				t.Errorf("DaysUntilPayment() = %d, want %d", got, tt.want)
			}
		})
	}
}
