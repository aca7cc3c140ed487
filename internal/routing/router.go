// Package routing decides whether and where a customer query is searched.
//
// The Extractor reads Signals from query text; the Router maps Signals to a
// Decision through an ordered rule ladder, two cross-cutting overrides, and
// a list of named policy rules. Both are pure.
package routing

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/vocab"
)

// Config holds router tunables.
type Config struct {
	StrictSearchMode     bool
	MinQueryLength       int
	ActionAllowlist      []string
	PaymentAllowlist     []string
	ConsultCaseSearch    bool
	DomainConfidenceFlip float64
}

// DefaultConfig returns the production router settings.
func DefaultConfig() Config {
	return Config{
		StrictSearchMode:     true,
		MinQueryLength:       2,
		ActionAllowlist:      []string{"분실", "분실도난"},
		PaymentAllowlist:     []string{"iM유페이", "네이버페이", "삼성페이", "애플페이", "카카오페이", "티머니"},
		ConsultCaseSearch:    true,
		DomainConfidenceFlip: 0.7,
	}
}

// WeakRouteHints resolves the route hint of a weak intent.
type WeakRouteHints interface {
	WeakIntentRoute(canonical string) (string, bool)
}

// Router maps Signals to a Decision.
type Router struct {
	cfg   Config
	hints WeakRouteHints
	rules []Rule
}

// NewRouter creates a router applying the default policy rules.
func NewRouter(cfg Config, hints WeakRouteHints) *Router {
	return &Router{cfg: cfg, hints: hints, rules: DefaultRules()}
}

// WithRules returns a router applying the given rules instead of the
// defaults.
func (r *Router) WithRules(rules ...Rule) *Router {
	out := *r
	out.rules = rules
	return &out
}

// Decide returns the routing decision for the signals.
func (r *Router) Decide(sig Signals) Decision {
	d := Decision{
		Route:         RouteNone,
		Scope:         ScopeNone,
		RetrievalMode: ModeKeywordOnly,
		Signals:       sig,
	}
	if sig.Normalized == "" {
		return d
	}

	if len(sig.Contacts) > 0 {
		r.contactLookup(&d, sig)
	} else {
		r.ladder(&d, sig)
		r.lossOverride(&d, sig)
		for _, rule := range r.rules {
			if rule.Apply(&d, sig) {
				d.AppliedRules = append(d.AppliedRules, rule.Name)
			}
		}
	}

	d.Filters.Regions = cloneStrings(sig.Regions)
	d.Filters.BenefitTypes = cloneStrings(sig.BenefitTypes)
	d.LaneAllowMixed = d.Scope == ScopeBoth
	d.DomainConfidence = domainConfidence(sig)

	if r.cfg.StrictSearchMode {
		d.ShouldSearch = d.ShouldTrigger && len([]rune(sig.Normalized)) >= r.cfg.MinQueryLength
	} else {
		d.ShouldSearch = true
	}
	if d.Scope == ScopeNone {
		d.ShouldSearch = false
	}

	if r.cfg.ConsultCaseSearch && d.ShouldSearch && len(sig.Actions) > 0 {
		d.NeedConsultCaseSearch = true
		d.ConsultCategories = cloneStrings(sig.Actions)
	}
	return d
}

// ladder applies the ordered route table; the first matching rung wins.
func (r *Router) ladder(d *Decision, sig Signals) {
	cards, actions, payments, weak := sig.CardNames, sig.Actions, sig.Payments, sig.WeakIntents

	switch {
	case len(cards) > 0 && len(actions) > 0:
		d.Route = RouteCardUsage
		d.Scope = ScopeBoth
		d.Filters.CardNames = cloneStrings(cards)
		d.Filters.Intents = cloneStrings(actions)
		d.Filters.PaymentMethods = cloneStrings(payments)
		d.Filters.WeakIntents = cloneStrings(weak)
		d.Filters.ScopeFilter = ScopeFilterAll
		d.QueryTemplate = fmt.Sprintf("%s %s 방법", cards[0], actions[0])
		d.ShouldTrigger = true
		d.AllowGuideWithoutCardMatch = true

	case len(cards) > 0 && len(payments) > 0:
		d.Route = RouteCardUsage
		d.Scope = ScopeCardTable
		d.Filters.CardNames = cloneStrings(cards)
		d.Filters.PaymentMethods = cloneStrings(payments)
		d.QueryTemplate = fmt.Sprintf("%s %s 사용 방법", cards[0], payments[0])
		d.ShouldTrigger = true

	case len(cards) > 0 && len(weak) > 0:
		d.Route = r.weakRoute(weak[0])
		d.Scope = ScopeBoth
		d.Filters.CardNames = cloneStrings(cards)
		d.Filters.WeakIntents = cloneStrings(weak)
		d.Filters.ScopeFilter = ScopeFilterGeneral
		if d.Route == RouteCardInfo {
			d.QueryTemplate = fmt.Sprintf("%s %s", cards[0], weak[0])
		} else {
			d.QueryTemplate = fmt.Sprintf("%s %s 방법", cards[0], weak[0])
			d.AllowGuideWithoutCardMatch = true
		}
		d.ShouldTrigger = true

	case len(cards) > 0:
		d.Route = RouteCardInfo
		d.Scope = ScopeCardTable
		d.Filters.CardNames = cloneStrings(cards)
		d.QueryTemplate = fmt.Sprintf("%s 정보", cards[0])
		d.ShouldTrigger = true

	case len(actions) > 0:
		d.Route = RouteCardUsage
		d.Scope = ScopeGuideTable
		d.Filters.Intents = cloneStrings(actions)
		d.Filters.PaymentMethods = cloneStrings(payments)
		d.Filters.ScopeFilter = ScopeFilterMerged
		d.QueryTemplate = fmt.Sprintf("카드 %s 방법", actions[0])
		d.ShouldTrigger = anyIn(actions, r.cfg.ActionAllowlist)
		d.AllowGuideWithoutCardMatch = true

	case len(payments) > 0:
		d.Route = RouteCardUsage
		d.Scope = ScopeCardTable
		d.Filters.PaymentMethods = cloneStrings(payments)
		d.QueryTemplate = fmt.Sprintf("%s 사용 방법", payments[0])
		d.ShouldTrigger = anyIn(payments, r.cfg.PaymentAllowlist)

	case len(weak) > 0:
		d.Route = r.weakRoute(weak[0])
		d.Scope = ScopeBoth
		d.Filters.WeakIntents = cloneStrings(weak)
		d.Filters.ScopeFilter = ScopeFilterGeneral
		d.ShouldTrigger = false

	default:
		d.Route = RouteCardUsage
		d.Scope = ScopeBoth
		d.ShouldTrigger = false
	}
}

func (r *Router) weakRoute(intent string) Route {
	if r.hints != nil {
		if hint, ok := r.hints.WeakIntentRoute(intent); ok && hint == string(RouteCardInfo) {
			return RouteCardInfo
		}
	}
	return RouteCardUsage
}

// contactLookup sends phone and call-centre questions to the guide store,
// bypassing the ladder.
func (r *Router) contactLookup(d *Decision, sig Signals) {
	d.Route = RoutePhoneLookup
	d.Scope = ScopeGuideTable
	d.Filters.CardNames = cloneStrings(sig.CardNames)
	d.Filters.Intents = cloneStrings(sig.Actions)
	d.Filters.PhoneLookup = true
	d.Filters.ScopeFilter = ScopeFilterWithTerms
	d.Filters.ExcludeTitleTerms = []string{CreditAlertTitle}
	if len(sig.Actions) > 0 {
		d.QueryTemplate = fmt.Sprintf("%s 전화번호", sig.Actions[0])
	} else {
		d.QueryTemplate = "카드 고객센터 전화번호"
	}
	d.ShouldTrigger = true
	d.AllowGuideWithoutCardMatch = true
	d.AppliedRules = append(d.AppliedRules, "contact_lookup")
}

// lossOverride forces the guide-only loss flow when loss or theft is
// mentioned without an information question.
func (r *Router) lossOverride(d *Decision, sig Signals) {
	if !sig.HasLossTerms() || sig.HasAny(lossInfoTerms...) {
		return
	}
	d.Route = RouteCardUsage
	d.Scope = ScopeGuideTable
	d.Filters.ScopeFilter = ScopeFilterAll
	d.Filters.RequireCardMatch = false
	for _, term := range LossExcludeTitleTerms {
		// never exclude the product the customer named
		if strings.Contains(sig.Compact, vocab.Compact(term)) {
			continue
		}
		d.Filters.ExcludeTitleTerms = appendUnique(d.Filters.ExcludeTitleTerms, term)
	}
	if len(d.Filters.Intents) == 0 {
		d.Filters.Intents = []string{"분실"}
	}
	if card := d.PrimaryCard(); card != "" {
		d.QueryTemplate = fmt.Sprintf("%s 분실 신고 방법", card)
	} else {
		d.QueryTemplate = "카드 분실 신고 방법"
	}
	d.ShouldTrigger = true
	d.AllowGuideWithoutCardMatch = true
	d.AppliedRules = append(d.AppliedRules, "loss_override")
}

// domainConfidence scores how firmly the query belongs to the card domain.
func domainConfidence(sig Signals) float64 {
	score := 0.0
	if len(sig.CardNames) > 0 {
		score += 0.5
	}
	if len(sig.Actions) > 0 {
		score += 0.3
	}
	if len(sig.Payments) > 0 {
		score += 0.2
	}
	if sig.Entity != "" {
		score += 0.2
	}
	return min(score, 1.0)
}

func anyIn(items, allow []string) bool {
	for _, it := range items {
		if slices.Contains(allow, it) {
			return true
		}
	}
	return false
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(dst, it) {
			dst = append(dst, it)
		}
	}
	return dst
}
