package routing

import (
	"slices"
	"strings"
)

// Rule is a named policy patch applied after the route ladder. Apply
// amends the decision and reports whether it fired.
//
// Most of these encode product-specific fixes observed in production
// traffic; the list is expected to grow.
type Rule struct {
	Name  string
	Apply func(d *Decision, sig Signals) bool
}

const (
	// CreditAlertTitle is the guide that crowds out telecom and phone answers.
	CreditAlertTitle = "신용정보 알림서비스"

	// ApplePayIDPrefix selects the Apple Pay guide family.
	ApplePayIDPrefix = "hyundai_applepay"
)

var (
	// LossExcludeTitleTerms drop info-style documents from loss answers.
	LossExcludeTitleTerms = []string{"K-패스", "k패스", "다둥이", "혜택", "연회비", "발급", "추천", "전월"}

	// FinancialTerms send a usage question to the guide store including terms
	// and conditions.
	FinancialTerms = []string{"이자", "수수료", "연체", "리볼빙", "약관", "요율", "거래조건", "한도", "금리", "현금서비스", "단기대출", "카드대출"}

	// TelecomTerms mark telecom-bill benefit questions.
	TelecomTerms = []string{"통신", "통신요금", "자동납부", "할인", "한도", "전월", "실적"}

	applePayTerms     = []string{"애플페이", "apple pay", "applepay"}
	applePayExclusion = []string{"Apple Pay", "애플페이"}

	// CardInfoEntityMap maps a detected entity to the card name used as a
	// hard filter on card_info answers.
	CardInfoEntityMap = map[string]string{
		"다둥이":  "서울시다둥이행복카드",
		"국민행복": "국민행복카드",
		"K-패스": "K-패스",
		"나라사랑": "나라사랑카드",
		"으랏차차": "KT 으랏차차",
	}
)

// DefaultRules returns the production policy rules in application order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "financial_terms", Apply: applyFinancialTerms},
		{Name: "card_info_entity", Apply: applyCardInfoEntity},
		{Name: "card_info_entity_hard_filter", Apply: applyCardInfoEntityHardFilter},
		{Name: "dcc_block_applepay", Apply: applyDCCBlockApplePay},
		{Name: "applepay_guide_only", Apply: applyApplePayGuideOnly},
		{Name: "telecom_exclude_credit_alert", Apply: applyTelecomExcludeCreditAlert},
	}
}

// hasFinancialTerms checks the text and the canonical actions.
func hasFinancialTerms(sig Signals) bool {
	if sig.HasAny(FinancialTerms...) {
		return true
	}
	for _, a := range sig.Actions {
		if slices.Contains(FinancialTerms, a) {
			return true
		}
	}
	return false
}

func applyFinancialTerms(d *Decision, sig Signals) bool {
	if d.Route != RouteCardUsage || !hasFinancialTerms(sig) {
		return false
	}
	if d.Scope == ScopeCardTable || d.Scope == ScopeNone {
		d.Scope = ScopeBoth
	}
	d.Filters.ScopeFilter = ScopeFilterWithTerms
	d.AllowGuideWithoutCardMatch = true
	d.ShouldTrigger = true
	if d.QueryTemplate == "" && len(sig.Actions) > 0 {
		d.QueryTemplate = "카드 " + sig.Actions[0] + " 안내"
	}
	return true
}

func applyCardInfoEntity(d *Decision, sig Signals) bool {
	if d.Route != RouteCardInfo || sig.Entity == "" {
		return false
	}
	card, ok := CardInfoEntityMap[sig.Entity]
	if !ok {
		return false
	}
	d.MatchedEntity = sig.Entity
	names := []string{card}
	for _, c := range d.Filters.CardNames {
		if c != card {
			names = append(names, c)
		}
	}
	d.Filters.CardNames = names
	d.Scope = ScopeBoth
	if d.Filters.ScopeFilter == ScopeFilterNone {
		d.Filters.ScopeFilter = ScopeFilterAll
	}
	return true
}

func applyCardInfoEntityHardFilter(d *Decision, sig Signals) bool {
	if d.Route != RouteCardInfo || d.MatchedEntity == "" {
		return false
	}
	d.Filters.RequireCardMatch = true
	d.AllowGuideWithoutCardMatch = false
	return true
}

func isDCC(sig Signals) bool {
	return strings.Contains(sig.Compact, "dcc") || sig.HasAny("원화결제", "원화 결제")
}

func applyDCCBlockApplePay(d *Decision, sig Signals) bool {
	if !isDCC(sig) {
		return false
	}
	d.Filters.ExcludeTitleTerms = appendUnique(d.Filters.ExcludeTitleTerms, applePayExclusion...)
	d.Filters.PaymentMethods = slices.DeleteFunc(d.Filters.PaymentMethods, func(p string) bool { return p == "애플페이" })
	if d.Route == RouteCardUsage && len(sig.Actions) > 0 {
		d.ShouldTrigger = true
		if d.Scope == ScopeCardTable {
			d.Scope = ScopeBoth
		}
	}
	return true
}

func applyApplePayGuideOnly(d *Decision, sig Signals) bool {
	if isDCC(sig) {
		return false
	}
	if !slices.Contains(sig.Payments, "애플페이") && !sig.HasAny(applePayTerms...) {
		return false
	}
	d.Route = RouteCardUsage
	d.Scope = ScopeGuideTable
	d.Filters.ScopeFilter = ScopeFilterApplePay
	d.Filters.IDPrefix = ApplePayIDPrefix
	d.Filters.RequireCardMatch = false
	d.AllowGuideWithoutCardMatch = true
	d.ShouldTrigger = true
	if d.QueryTemplate == "" {
		d.QueryTemplate = "애플페이 사용 방법"
	}
	return true
}

func applyTelecomExcludeCreditAlert(d *Decision, sig Signals) bool {
	if d.Route != RouteCardInfo || !sig.HasAny(TelecomTerms...) {
		return false
	}
	d.Filters.ExcludeTitleTerms = appendUnique(d.Filters.ExcludeTitleTerms, CreditAlertTitle)
	if d.MatchedEntity == "" {
		d.Scope = ScopeCardTable
	}
	return true
}
