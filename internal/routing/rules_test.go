package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRule_FinancialTerms(t *testing.T) {
	d := decide(t, "리볼빙 이자 얼마나 나오나요")

	assert.Contains(t, d.AppliedRules, "financial_terms")
	assert.Equal(t, ScopeFilterWithTerms, d.Filters.ScopeFilter)
	assert.True(t, d.ShouldSearch)

	t.Run("card table widened to both", func(t *testing.T) {
		d := decide(t, "나라사랑카드 현금서비스 수수료")
		assert.Equal(t, ScopeBoth, d.Scope)
		assert.Equal(t, ScopeFilterWithTerms, d.Filters.ScopeFilter)
	})
}

func TestRule_CardInfoEntity(t *testing.T) {
	d := decide(t, "다둥이 혜택 알려줘")

	assert.Equal(t, RouteCardInfo, d.Route)
	assert.Equal(t, "다둥이", d.MatchedEntity)
	assert.Equal(t, "서울시다둥이행복카드", d.PrimaryCard())
	assert.True(t, d.Filters.RequireCardMatch)
	assert.False(t, d.AllowGuideWithoutCardMatch)
	assert.Contains(t, d.AppliedRules, "card_info_entity")
	assert.Contains(t, d.AppliedRules, "card_info_entity_hard_filter")
}

func TestRule_CardInfoEntity_MovesEntityCardFirst(t *testing.T) {
	d := Decision{Route: RouteCardInfo, Filters: Filters{CardNames: []string{"Deep Oil 신한카드", "K-패스"}}}
	fired := applyCardInfoEntity(&d, Signals{Entity: "K-패스"})

	assert.True(t, fired)
	assert.Equal(t, []string{"K-패스", "Deep Oil 신한카드"}, d.Filters.CardNames)
	assert.Equal(t, ScopeFilterAll, d.Filters.ScopeFilter)
}

func TestRule_DCCBlocksApplePay(t *testing.T) {
	d := decide(t, "애플페이 해외원화결제 차단 방법")

	assert.Contains(t, d.AppliedRules, "dcc_block_applepay")
	assert.NotContains(t, d.AppliedRules, "applepay_guide_only")
	assert.Contains(t, d.Filters.ExcludeTitleTerms, "Apple Pay")
	assert.Contains(t, d.Filters.ExcludeTitleTerms, "애플페이")
	assert.NotContains(t, d.Filters.PaymentMethods, "애플페이")
	assert.NotEqual(t, ScopeFilterApplePay, d.Filters.ScopeFilter)
}

func TestRule_ApplePayGuideOnly(t *testing.T) {
	for _, q := range []string{"애플페이 등록 방법", "apple pay 쓰는 법"} {
		t.Run(q, func(t *testing.T) {
			d := decide(t, q)
			assert.Equal(t, RouteCardUsage, d.Route)
			assert.Equal(t, ScopeGuideTable, d.Scope)
			assert.Equal(t, ScopeFilterApplePay, d.Filters.ScopeFilter)
			assert.Equal(t, ApplePayIDPrefix, d.Filters.IDPrefix)
			assert.True(t, d.ShouldSearch)
		})
	}
}

func TestRule_TelecomExcludesCreditAlert(t *testing.T) {
	d := decide(t, "으랏차차 통신요금 할인")

	assert.Equal(t, RouteCardInfo, d.Route)
	assert.Contains(t, d.Filters.ExcludeTitleTerms, CreditAlertTitle)
	assert.Contains(t, d.AppliedRules, "telecom_exclude_credit_alert")
	// the entity rule already widened the scope
	assert.Equal(t, ScopeBoth, d.Scope)

	t.Run("without entity stays on the card table", func(t *testing.T) {
		d := Decision{Route: RouteCardInfo, Scope: ScopeBoth}
		assert.True(t, applyTelecomExcludeCreditAlert(&d, Signals{Normalized: "통신요금 할인 카드", Compact: "통신요금할인카드"}))
		assert.Equal(t, ScopeCardTable, d.Scope)
	})
}

func TestDecision_Flipped(t *testing.T) {
	d := decide(t, "k패스 다자녀 혜택")
	flipped := d.Flipped()

	assert.Equal(t, RouteCardUsage, flipped.Route)
	assert.Equal(t, ScopeBoth, flipped.Scope)
	assert.True(t, flipped.LaneAllowMixed)
	assert.Equal(t, ModeKeywordOnly, flipped.RetrievalMode)
	assert.Contains(t, flipped.AppliedRules, "route_flip")
	assert.NotContains(t, d.AppliedRules, "route_flip")

	phone := Decision{Route: RoutePhoneLookup, Scope: ScopeGuideTable}
	assert.Equal(t, ScopeGuideTable, phone.Flipped().Scope)
}

func TestDecision_WithModeCopies(t *testing.T) {
	d := decide(t, "나라사랑카드 재발급")
	h := d.WithMode(ModeHybrid)
	h.Filters.CardNames[0] = "changed"

	assert.Equal(t, ModeKeywordOnly, d.RetrievalMode)
	assert.Equal(t, ModeHybrid, h.RetrievalMode)
	assert.Equal(t, "나라사랑카드", d.Filters.CardNames[0])
}

func TestScopeFilter_GuideSources(t *testing.T) {
	assert.Equal(t, []string{"merged"}, ScopeFilterMerged.GuideSources())
	assert.Equal(t, []string{"merged", "general", "terms"}, ScopeFilterWithTerms.GuideSources())
	assert.Nil(t, ScopeFilterApplePay.GuideSources())
	assert.True(t, ScopeBoth.IncludesCards())
	assert.False(t, ScopeGuideTable.IncludesCards())
}
