package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/vocab"
)

type stubVocab struct {
	synonyms  map[string][]string
	stopwords map[string]bool
}

func (v stubVocab) Synonyms(_ vocab.Group, canonical string) []string {
	return v.synonyms[canonical]
}

func (v stubVocab) IsStopword(term string) bool {
	return v.stopwords[term]
}

var testVocab = stubVocab{
	synonyms: map[string][]string{
		"분실":     {"잃어버", "분실신고"},
		"K-패스":   {"k패스", "kpass"},
		"애플페이":   {"apple pay"},
		"혜택":     {"할인"},
		"나라사랑카드": {"나라사랑"},
	},
	stopwords: map[string]bool{"문의": true},
}

func TestNewSearchContext(t *testing.T) {
	d := routing.Decision{
		Route: routing.RouteCardInfo,
		Filters: routing.Filters{
			CardNames:   []string{"K-패스"},
			WeakIntents: []string{"혜택"},
		},
	}

	sc := NewSearchContext("K-패스 다자녀 혜택 문의 2024", d, testVocab)

	assert.Equal(t, []string{"K-패스"}, sc.CardValues)
	assert.Equal(t, []string{"K-패스", "k패스", "kpass"}, sc.CardTerms)
	assert.Equal(t, []string{"혜택", "할인"}, sc.WeakTerms)
	assert.Equal(t, []string{"k-패스", "다자녀", "혜택"}, sc.QueryTerms, "digits and stopwords are dropped")
	assert.Equal(t, []string{"혜택"}, sc.CategoryTerms)
	assert.Equal(t, SearchModeBenefit, sc.Mode)
	assert.False(t, sc.IntentOnly())
	assert.False(t, sc.WantsReissue)
}

func TestSearchContext_Modes(t *testing.T) {
	tests := []struct {
		query string
		mode  SearchMode
	}{
		{"카드 발급 대상 알려줘", SearchModeIssue},
		{"재발급 서류", SearchModeIssue},
		{"포인트 적립", SearchModeBenefit},
		{"결제일 변경", SearchModeGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			sc := NewSearchContext(tt.query, routing.Decision{}, testVocab)
			assert.Equal(t, tt.mode, sc.Mode)
		})
	}
}

func TestSearchContext_IssuanceTargetCategory(t *testing.T) {
	sc := NewSearchContext("발급 대상", routing.Decision{}, testVocab)
	assert.Equal(t, []string{"발급", "대상", "발급 대상"}, sc.CategoryTerms)
}

func TestSearchContext_IntentOnlyLoss(t *testing.T) {
	d := routing.Decision{Filters: routing.Filters{Intents: []string{"분실"}}}

	sc := NewSearchContext("카드 분실 어떻게 해요", d, testVocab)

	assert.True(t, sc.IntentOnly())
	assert.True(t, sc.StrictGuideFilter())
	assert.Equal(t, []string{"분실", "잃어버", "분실신고"}, sc.GuideTerms())

	terms := sc.KeywordTerms(0)
	assert.Equal(t, "분실", terms[0])
	assert.NotContains(t, terms, "카드")
	assert.Len(t, sc.KeywordTerms(2), 2)
}

func TestSearchContext_ReissueAndPayments(t *testing.T) {
	d := routing.Decision{Filters: routing.Filters{PaymentMethods: []string{"애플페이"}}}

	sc := NewSearchContext("애플페이 재발급", d, testVocab)

	assert.True(t, sc.WantsReissue)
	assert.True(t, sc.PaymentOnly)
	assert.Equal(t, []string{"애플페이", "apple pay", "applepay"}, sc.PaymentTerms)
	assert.Equal(t, []string{"재발급"}, sc.ExtraTerms, "payment spellings are not repeated as extra terms")
}

func TestSearchContext_QueryTemplate(t *testing.T) {
	d := routing.Decision{QueryTemplate: "애플페이 사용 방법"}
	sc := NewSearchContext("교통카드", d, testVocab)
	assert.Equal(t, "애플페이 사용 방법 교통카드", sc.QueryText)

	sc = NewSearchContext("교통카드", routing.Decision{}, testVocab)
	assert.Equal(t, "교통카드", sc.QueryText)
}

func TestKeywordTerms_Order(t *testing.T) {
	d := routing.Decision{Filters: routing.Filters{
		CardNames: []string{"나라사랑카드"},
		Intents:   []string{"분실"},
	}}

	sc := NewSearchContext("나라사랑 분실", d, testVocab)

	assert.Equal(t,
		[]string{"나라사랑카드", "분실", "잃어버", "분실신고", "나라사랑"},
		sc.KeywordTerms(8),
	)
}
