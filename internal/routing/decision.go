package routing

// Route is the user-facing answer type.
type Route string

const (
	RouteCardInfo    Route = "card_info"
	RouteCardUsage   Route = "card_usage"
	RoutePhoneLookup Route = "phone_lookup"
	RouteNone        Route = "none"
)

// Scope selects which document stores are searched.
type Scope string

const (
	ScopeCardTable  Scope = "card_table"
	ScopeGuideTable Scope = "guide_table"
	ScopeBoth       Scope = "both"
	ScopeNone       Scope = "none"
)

// IncludesCards reports whether the card store is in scope.
func (s Scope) IncludesCards() bool { return s == ScopeCardTable || s == ScopeBoth }

// IncludesGuides reports whether the guide store is in scope.
func (s Scope) IncludesGuides() bool { return s == ScopeGuideTable || s == ScopeBoth }

// ScopeFilter names a sub-partition of the guide store.
type ScopeFilter string

const (
	ScopeFilterNone      ScopeFilter = ""
	ScopeFilterMerged    ScopeFilter = "guide_merged"
	ScopeFilterGeneral   ScopeFilter = "guide_general"
	ScopeFilterAll       ScopeFilter = "guide_all"
	ScopeFilterWithTerms ScopeFilter = "guide_with_terms"
	ScopeFilterApplePay  ScopeFilter = "applepay"
)

// GuideSources returns the guide `source` values the filter admits. Nil
// means no restriction.
func (f ScopeFilter) GuideSources() []string {
	switch f {
	case ScopeFilterMerged:
		return []string{"merged"}
	case ScopeFilterGeneral:
		return []string{"general"}
	case ScopeFilterAll:
		return []string{"merged", "general"}
	case ScopeFilterWithTerms:
		return []string{"merged", "general", "terms"}
	}
	return nil
}

// RetrievalMode is the escalation tier a decision is executed at.
type RetrievalMode string

const (
	ModeKeywordOnly RetrievalMode = "keyword_only"
	ModeHybrid      RetrievalMode = "hybrid"
)

// Filters are the predicates and boost terms handed to the stores.
type Filters struct {
	CardNames         []string    `json:"card_name,omitempty"`
	Intents           []string    `json:"intent,omitempty"`
	WeakIntents       []string    `json:"weak_intent,omitempty"`
	PaymentMethods    []string    `json:"payment_method,omitempty"`
	Regions           []string    `json:"region,omitempty"`
	BenefitTypes      []string    `json:"benefit_type,omitempty"`
	PhoneLookup       bool        `json:"phone_lookup,omitempty"`
	ScopeFilter       ScopeFilter `json:"scope_filter,omitempty"`
	RequireCardMatch  bool        `json:"require_card_match,omitempty"`
	IDPrefix          string      `json:"id_prefix,omitempty"`
	ExcludeTitleTerms []string    `json:"exclude_title_terms,omitempty"`
}

func (f Filters) clone() Filters {
	out := f
	out.CardNames = cloneStrings(f.CardNames)
	out.Intents = cloneStrings(f.Intents)
	out.WeakIntents = cloneStrings(f.WeakIntents)
	out.PaymentMethods = cloneStrings(f.PaymentMethods)
	out.Regions = cloneStrings(f.Regions)
	out.BenefitTypes = cloneStrings(f.BenefitTypes)
	out.ExcludeTitleTerms = cloneStrings(f.ExcludeTitleTerms)
	return out
}

// Decision is the router's verdict for one query. It is not mutated after
// the router returns; escalation derives amended copies.
type Decision struct {
	Route                      Route         `json:"route"`
	Scope                      Scope         `json:"scope"`
	Filters                    Filters       `json:"filters"`
	QueryTemplate              string        `json:"queryTemplate,omitempty"`
	ShouldSearch               bool          `json:"shouldSearch"`
	ShouldTrigger              bool          `json:"shouldTrigger"`
	RetrievalMode              RetrievalMode `json:"retrievalMode"`
	LaneAllowMixed             bool          `json:"laneAllowMixed"`
	AllowGuideWithoutCardMatch bool          `json:"allowGuideWithoutCardMatch"`
	MatchedEntity              string        `json:"matchedEntity,omitempty"`
	NeedConsultCaseSearch      bool          `json:"needConsultCaseSearch"`
	ConsultCategories          []string      `json:"consultCategories,omitempty"`
	DomainConfidence           float64       `json:"domainConfidence"`
	AppliedRules               []string      `json:"appliedRules,omitempty"`
	Signals                    Signals       `json:"signals"`
}

// Clone returns a deep copy.
func (d Decision) Clone() Decision {
	out := d
	out.Filters = d.Filters.clone()
	out.ConsultCategories = cloneStrings(d.ConsultCategories)
	out.AppliedRules = cloneStrings(d.AppliedRules)
	return out
}

// WithMode returns a copy executing at the given escalation tier.
func (d Decision) WithMode(mode RetrievalMode) Decision {
	out := d.Clone()
	out.RetrievalMode = mode
	return out
}

// Flipped returns a copy with card_info and card_usage swapped, searching
// both stores. Other routes are returned unchanged.
func (d Decision) Flipped() Decision {
	out := d.Clone()
	switch d.Route {
	case RouteCardInfo:
		out.Route = RouteCardUsage
		out.AllowGuideWithoutCardMatch = true
	case RouteCardUsage:
		out.Route = RouteCardInfo
		out.AllowGuideWithoutCardMatch = false
	default:
		return out
	}
	out.Scope = ScopeBoth
	out.LaneAllowMixed = true
	if out.Filters.ScopeFilter == ScopeFilterNone {
		out.Filters.ScopeFilter = ScopeFilterAll
	}
	out.RetrievalMode = ModeKeywordOnly
	out.AppliedRules = append(out.AppliedRules, "route_flip")
	return out
}

// PrimaryCard returns the first matched card name, if any.
func (d Decision) PrimaryCard() string {
	if len(d.Filters.CardNames) > 0 {
		return d.Filters.CardNames[0]
	}
	return ""
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
