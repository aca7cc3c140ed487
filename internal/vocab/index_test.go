package vocab

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	return NewIndex(DefaultDictionary(), DefaultOptions())
}

type stubCatalog struct {
	mu    sync.Mutex
	names []string
	err   error
	calls int
}

func (s *stubCatalog) CardNames(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.names...), nil
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  K-패스   다자녀 ", "k-패스 다자녀"},
		{"Apple\tPay", "apple pay"},
		{"ＫＴ 으랏차차", "kt 으랏차차"}, // full-width folded by NFKC
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestCompact(t *testing.T) {
	assert.Equal(t, "k패스체크", Compact("K-패스 (체크)"))
	assert.Equal(t, "해외원화결제dcc", Compact("해외 원화결제(DCC)"))
}

func TestExpandVariants(t *testing.T) {
	got := ExpandVariants("K-패스 체크")
	assert.Contains(t, got, "K-패스 체크")
	assert.Contains(t, got, "k-패스 체크")
	assert.Contains(t, got, "K-패스체크")
	assert.Contains(t, got, "K 패스 체크")

	assert.Contains(t, ExpandVariants("국민·행복"), "국민행복")
	assert.Nil(t, ExpandVariants("   "))
}

func TestMatchExact(t *testing.T) {
	ix := newTestIndex(t)

	tests := []struct {
		name  string
		group Group
		text  string
		want  []string
	}{
		{"card alias", GroupCard, "나라사랑 잃어버렸어요", []string{"나라사랑카드"}},
		{"card canonical", GroupCard, "나라사랑카드 분실하면", []string{"나라사랑카드"}},
		{"k-pass alias", GroupCard, "경기도 k패스 혜택", []string{"K-패스"}},
		{"action synonym", GroupAction, "해외 여행 중에 카드를 잃어버렸어요", []string{"분실"}},
		{"theft maps to loss-theft", GroupAction, "카드 도난당한 것 같아요", []string{"분실도난"}},
		{"multiple actions keep order", GroupAction, "단기카드대출 리볼빙 되나요", []string{"현금서비스", "리볼빙"}},
		{"payment english", GroupPayment, "apple pay 등록", []string{"애플페이"}},
		{"longest weak intent wins", GroupWeakIntent, "카드 사용처", []string{"사용처"}},
		{"contact", GroupContact, "고객센터 전화번호 뭐에요", []string{"고객센터", "전화번호"}},
		{"no match", GroupAction, "그냥 궁금해서요", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ix.MatchExact(tt.group, Normalize(tt.text))
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchExact_ASCIIBoundary(t *testing.T) {
	ix := newTestIndex(t)

	assert.Equal(t, []string{"해외원화결제차단"}, ix.MatchExact(GroupAction, "해외 원화결제(dcc) 차단"))
	assert.Empty(t, ix.MatchExact(GroupAction, "dccx 모드"))
}

func TestMatchContains_IgnoresSpaces(t *testing.T) {
	ix := newTestIndex(t)
	got := ix.MatchContains(GroupPayment, "네이 버페이 결제")
	assert.Equal(t, []string{"네이버페이"}, got)

	got = ix.MatchContains(GroupPayment, "카카오 페이로 결제")
	assert.Equal(t, []string{"카카오페이"}, got)
}

func TestMatchFuzzy(t *testing.T) {
	ix := newTestIndex(t)

	t.Run("short text skipped", func(t *testing.T) {
		assert.Empty(t, ix.MatchFuzzy(GroupPayment, "페이", 50))
	})

	t.Run("typo in payment", func(t *testing.T) {
		got := ix.MatchFuzzy(GroupPayment, "삼성페니", 70)
		assert.Contains(t, got, "삼성페이")
	})

	t.Run("card partial ratio over compact text", func(t *testing.T) {
		got := ix.MatchFuzzy(GroupCard, "서울시 다둥이행복 카드", 78)
		assert.Contains(t, got, "서울시다둥이행복카드")
	})

	t.Run("disabled", func(t *testing.T) {
		opts := DefaultOptions()
		opts.FuzzyEnabled = false
		off := NewIndex(DefaultDictionary(), opts)
		assert.Empty(t, off.MatchFuzzy(GroupPayment, "삼성페니", 50))
	})
}

func TestMatchCardNameByTokens(t *testing.T) {
	ix := newTestIndex(t)
	_, err := ix.RefreshCatalog(context.Background(), &stubCatalog{names: []string{
		"K-패스 신한카드(체크)",
		"Deep Dream 신한카드",
		"Deep Oil 신한카드",
		"Mr.Life 신한카드",
		"신한카드 처음",
	}})
	require.NoError(t, err)

	t.Run("unique token hit", func(t *testing.T) {
		assert.Equal(t, []string{"Deep Oil 신한카드"}, ix.MatchCardNameByTokens("deep oil 연회비 얼마"))
	})

	t.Run("ambiguous tie is no match", func(t *testing.T) {
		assert.Empty(t, ix.MatchCardNameByTokens("신한카드 고객센터"))
	})

	t.Run("below minimum score", func(t *testing.T) {
		assert.Empty(t, ix.MatchCardNameByTokens("처음 발급"))
	})

	t.Run("stopwords only", func(t *testing.T) {
		assert.Empty(t, ix.MatchCardNameByTokens("카드 발급 조건"))
	})
}

func TestMatchCompound(t *testing.T) {
	ix := newTestIndex(t)
	assert.Equal(t, []string{"분실도난"}, ix.MatchCompound("분실인지 도난인지 모르겠어요"))
	assert.Equal(t, []string{"재발급"}, ix.MatchCompound("카드 다시 발급 받고 싶어요"))
	assert.Empty(t, ix.MatchCompound("연회비 얼마에요"))
}

func TestWeakIntentRoute(t *testing.T) {
	ix := newTestIndex(t)

	route, ok := ix.WeakIntentRoute("혜택")
	require.True(t, ok)
	assert.Equal(t, "card_info", route)

	route, ok = ix.WeakIntentRoute("사용처")
	require.True(t, ok)
	assert.Equal(t, "card_usage", route)

	_, ok = ix.WeakIntentRoute("없음")
	assert.False(t, ok)
}

func TestRefreshCatalog(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndex(t)
	cat := &stubCatalog{names: []string{"Deep Oil 신한카드"}}

	changed, err := ix.RefreshCatalog(ctx, cat)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, ix.CatalogSize())
	assert.Equal(t, []string{"Deep Oil 신한카드"}, ix.MatchExact(GroupCard, "deep oil 신한카드 혜택"))

	t.Run("same fingerprint does not rebuild", func(t *testing.T) {
		changed, err := ix.RefreshCatalog(ctx, cat)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("failure keeps previous snapshot", func(t *testing.T) {
		broken := &stubCatalog{err: errors.New("dial tcp: refused")}
		changed, err := ix.RefreshCatalog(ctx, broken)
		assert.ErrorIs(t, err, ErrCatalogUnavailable)
		assert.False(t, changed)
		assert.Equal(t, 1, ix.CatalogSize())
		assert.Equal(t, []string{"Deep Oil 신한카드"}, ix.MatchExact(GroupCard, "deep oil 신한카드"))
	})
}

func TestStartCatalogRefresh_StopsOnCancel(t *testing.T) {
	ix := newTestIndex(t)
	cat := &stubCatalog{names: []string{"Deep Oil 신한카드"}}

	ctx, cancel := context.WithCancel(context.Background())
	ix.StartCatalogRefresh(ctx, cat, 10*time.Millisecond)
	assert.Equal(t, 1, ix.CatalogSize())

	require.Eventually(t, func() bool {
		cat.mu.Lock()
		defer cat.mu.Unlock()
		return cat.calls >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
}

func TestLoad(t *testing.T) {
	t.Run("missing file is fatal", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"), DefaultOptions())
		assert.ErrorIs(t, err, ErrDictionaryLoad)
	})

	t.Run("malformed file is fatal", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
		_, err := Load(path, DefaultOptions())
		assert.ErrorIs(t, err, ErrDictionaryLoad)
	})

	t.Run("invalid pattern skipped", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dict.json")
		body := `{"actions":{"분실":{"compound_patterns":[{"pattern":"(unclosed","category":"분실"},{"pattern":"잃어.*","category":"분실"}]}}}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

		ix, err := Load(path, DefaultOptions())
		require.NoError(t, err)
		assert.Equal(t, []string{"분실"}, ix.MatchCompound("잃어버림"))
	})
}

func TestStopwordsNotIndexed(t *testing.T) {
	ix := newTestIndex(t)
	assert.True(t, ix.IsStopword("문의"))
	assert.Empty(t, ix.MatchExact(GroupAction, "문의 드립니다"))
}
