// Package billing derives statement periods for credit cards. Each
// card company publishes which transaction window a given payment day
// settles; those tables live here as static data, with a generic
// fallback for cards whose company is unknown.
package billing

// EndOfMonth is the sentinel day meaning "last calendar day of the
// resolved month". It is clamped per month at resolution time.
const EndOfMonth = 31

type (
	// Anchor is one edge of a billing window: a month offset relative
	// to the payment month (0 = same month, -1 = previous) and a day
	// of that month.
	Anchor struct {
		MonthOffset int
		Day         int
	}

	// Rule maps a payment day to the statement window it settles.
	Rule struct {
		Start Anchor
		End   Anchor
	}

	// CompanyRules holds one card company's published payment-day
	// options and their statement windows.
	CompanyRules struct {
		Company        string
		PaymentDays    []int
		RecommendedDay int
		Rules          map[int]Rule
	}
)

// prevMonthRule is the common "previous calendar month" window used by
// most issuers for their recommended payment day.
var prevMonthRule = Rule{
	Start: Anchor{MonthOffset: -1, Day: 1},
	End:   Anchor{MonthOffset: -1, Day: EndOfMonth},
}

func window(startOffset, startDay, endOffset, endDay int) Rule {
	return Rule{
		Start: Anchor{MonthOffset: startOffset, Day: startDay},
		End:   Anchor{MonthOffset: endOffset, Day: endDay},
	}
}

var shinhanRules = CompanyRules{
	Company:        "shinhan",
	PaymentDays:    []int{1, 5, 10, 14, 20, 25},
	RecommendedDay: 14,
	Rules: map[int]Rule{
		1:  window(-2, 18, -1, 17),
		5:  window(-2, 22, -1, 21),
		10: window(-2, 27, -1, 26),
		14: prevMonthRule,
		20: window(-1, 7, 0, 6),
		25: window(-1, 12, 0, 11),
	},
}

var kbRules = CompanyRules{
	Company:        "kb",
	PaymentDays:    []int{1, 5, 10, 14, 15, 20, 25},
	RecommendedDay: 14,
	Rules: map[int]Rule{
		1:  window(-2, 18, -1, 17),
		5:  window(-2, 22, -1, 21),
		10: window(-2, 27, -1, 26),
		14: prevMonthRule,
		15: window(-1, 2, 0, 1),
		20: window(-1, 7, 0, 6),
		25: window(-1, 12, 0, 11),
	},
}

var samsungRules = CompanyRules{
	Company:        "samsung",
	PaymentDays:    []int{1, 5, 11, 13, 21, 25},
	RecommendedDay: 13,
	Rules: map[int]Rule{
		1:  window(-2, 19, -1, 18),
		5:  window(-2, 23, -1, 22),
		11: window(-2, 29, -1, 28),
		13: prevMonthRule,
		21: window(-1, 8, 0, 7),
		25: window(-1, 12, 0, 11),
	},
}

var hyundaiRules = CompanyRules{
	Company:        "hyundai",
	PaymentDays:    []int{1, 5, 12, 15, 21, 26},
	RecommendedDay: 12,
	Rules: map[int]Rule{
		1:  window(-2, 20, -1, 19),
		5:  window(-2, 24, -1, 23),
		12: prevMonthRule,
		15: window(-1, 3, 0, 2),
		21: window(-1, 9, 0, 8),
		26: window(-1, 13, 0, 12),
	},
}

var lotteRules = CompanyRules{
	Company:        "lotte",
	PaymentDays:    []int{1, 5, 10, 14, 21, 25},
	RecommendedDay: 14,
	Rules: map[int]Rule{
		1:  window(-2, 18, -1, 17),
		5:  window(-2, 22, -1, 21),
		10: window(-2, 27, -1, 26),
		14: prevMonthRule,
		21: window(-1, 8, 0, 7),
		25: window(-1, 12, 0, 11),
	},
}

var wooriRules = CompanyRules{
	Company:        "woori",
	PaymentDays:    []int{1, 5, 10, 14, 20, 27},
	RecommendedDay: 14,
	Rules: map[int]Rule{
		1:  window(-2, 18, -1, 17),
		5:  window(-2, 22, -1, 21),
		10: window(-2, 27, -1, 26),
		14: prevMonthRule,
		20: window(-1, 7, 0, 6),
		27: window(-1, 14, 0, 13),
	},
}

var hanaRules = CompanyRules{
	Company:        "hana",
	PaymentDays:    []int{1, 5, 10, 13, 20, 25},
	RecommendedDay: 13,
	Rules: map[int]Rule{
		1:  window(-2, 19, -1, 18),
		5:  window(-2, 23, -1, 22),
		10: window(-2, 28, -1, 27),
		13: prevMonthRule,
		20: window(-1, 8, 0, 7),
		25: window(-1, 13, 0, 12),
	},
}

var bcRules = CompanyRules{
	Company:        "bc",
	PaymentDays:    []int{1, 5, 10, 15, 20, 25},
	RecommendedDay: 15,
	Rules: map[int]Rule{
		1:  window(-2, 17, -1, 16),
		5:  window(-2, 21, -1, 20),
		10: window(-2, 26, -1, 25),
		15: prevMonthRule,
		20: window(-1, 5, 0, 4),
		25: window(-1, 10, 0, 9),
	},
}

// companyRules indexes the published tables by company id.
var companyRules = map[string]CompanyRules{
	"shinhan": shinhanRules,
	"kb":      kbRules,
	"samsung": samsungRules,
	"hyundai": hyundaiRules,
	"lotte":   lotteRules,
	"woori":   wooriRules,
	"hana":    hanaRules,
	"bc":      bcRules,
}

// LookupRule returns the statement window rule for a company and
// payment day. A missing combination is an expected state, not an
// error: the caller falls back to the card's stored billing days.
func LookupRule(company string, paymentDay int) (Rule, bool) {
	cr, ok := companyRules[company]
	if !ok {
		return Rule{}, false
	}
	rule, ok := cr.Rules[paymentDay]
	return rule, ok
}

// CompanyInfo returns a company's published payment-day options.
func CompanyInfo(company string) (CompanyRules, bool) {
	cr, ok := companyRules[company]
	return cr, ok
}

// Companies lists all companies with published rule tables.
func Companies() []string {
	out := make([]string, 0, len(companyRules))
	for name := range companyRules {
		out = append(out, name)
	}
	return out
}
