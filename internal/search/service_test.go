package search

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/cache"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/consult"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/embedding"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/policy"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/retrieval"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/vocab"
)

var body = strings.Repeat(" 자세한 절차는 고객센터와 홈페이지에서 안내해 드립니다.", 3)

func newTestService(t *testing.T, withCache bool) (*Service, *storage.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	emb := embedding.NewMockClient(32)

	store := storage.NewMemoryStore()
	require.NoError(t, storage.Seed(ctx, store, &storage.SeedData{
		Cards: []storage.Document{
			{ID: "CARD-KPASS", CardName: "K-패스", Title: "K-패스 신한카드", Content: "대중교통 환급과 다자녀 추가 혜택", Category: "혜택"},
		},
		Guides: []storage.Document{
			{ID: "narasarang_faq_005", CardName: "나라사랑카드", Title: "나라사랑카드 분실 신고", Content: "나라사랑카드를 잃어버렸다면 분실 신고를 합니다." + body, Source: storage.SourceMerged},
			{ID: "kpass_guide_001", CardName: "K-패스", Title: "K-패스 다자녀 환급", Content: "K-패스 다자녀 가구 추가 환급 혜택 안내." + body},
		},
		ConsultCases: []storage.ConsultCase{
			{ID: "cc1", Category: "분실", Intent: "분실", Title: "카드 분실 신고", Transcript: "상담사: 분실 신고를 먼저 접수해 드리겠습니다.\n상담사: 분실하신 카드 종류가 어떻게 되실까요?"},
		},
	}, emb, storage.SeedOptions{}))

	ix := vocab.NewIndex(vocab.DefaultDictionary(), vocab.DefaultOptions())
	engine := retrieval.NewEngine(store, emb, ix, policy.Default(), retrieval.DefaultConfig(), nil)

	var tiered *cache.Tiered
	if withCache {
		mem, err := cache.NewMemoryClient(1 << 20)
		require.NoError(t, err)
		tiered = cache.NewTiered(mem, nil, time.Minute, 0)
	}

	svc := NewService(
		routing.NewExtractor(ix, 85, 78),
		routing.NewRouter(routing.DefaultConfig(), ix),
		engine,
		retrieval.NewRetrievalCache(tiered, nil, true),
		retrieval.NewAnswerCache(tiered, nil, true),
		consult.NewRetriever(store, 2, nil),
		store,
		Options{ConsultEnabled: true},
		nil,
	)
	return svc, store
}

func TestSearch_NotSearched(t *testing.T) {
	svc, _ := newTestService(t, true)

	res, err := svc.Search(context.Background(), "그냥 궁금해서요")
	require.NoError(t, err)

	assert.False(t, res.Decision.ShouldSearch)
	assert.Empty(t, res.Documents)
	assert.Equal(t, ClarificationMessage, res.Message)
	assert.Equal(t, retrieval.CacheOff, res.CacheStatus)
}

func TestSearch_EmptyQuery(t *testing.T) {
	svc, _ := newTestService(t, false)
	_, err := svc.Search(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearch_LossWithConsultCases(t *testing.T) {
	svc, _ := newTestService(t, false)

	res, err := svc.Search(context.Background(), "나라사랑 잃어버렸어요")
	require.NoError(t, err)

	require.NotEmpty(t, res.Documents)
	assert.Equal(t, "narasarang_faq_005", res.Documents[0].ID)
	assert.Equal(t, routing.RouteCardUsage, res.Decision.Route)
	assert.Empty(t, res.Failure)

	assert.True(t, res.Decision.NeedConsultCaseSearch)
	require.NotEmpty(t, res.ConsultDocuments)
	assert.Equal(t, "cc1", res.ConsultDocuments[0].ID)
	assert.Equal(t, []string{"분실하신 카드 종류가 어떻게 되실까요?"}, res.ConsultHints.Questions)
}

func TestSearch_RepeatedQueryHitsCache(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	first, err := svc.Search(ctx, "K-패스 다자녀 혜택")
	require.NoError(t, err)
	assert.Equal(t, retrieval.CacheMiss, first.CacheStatus)

	second, err := svc.Search(ctx, "K-패스 다자녀 혜택")
	require.NoError(t, err)
	assert.Equal(t, retrieval.CacheHitMemory, second.CacheStatus)
	assert.Equal(t, first.DocKeys(), second.DocKeys())

	require.NoError(t, svc.InvalidateCache(ctx))
	third, err := svc.Search(ctx, "K-패스 다자녀 혜택")
	require.NoError(t, err)
	assert.Equal(t, retrieval.CacheMiss, third.CacheStatus)
}

func TestSearch_StoreUnreachable(t *testing.T) {
	svc, store := newTestService(t, false)
	require.NoError(t, store.Close())

	res, err := svc.Search(context.Background(), "나라사랑 잃어버렸어요")
	require.ErrorIs(t, err, storage.ErrUnreachable)
	require.NotNil(t, res)

	assert.False(t, res.Decision.ShouldSearch)
	assert.Equal(t, FailureStoreUnreachable, res.Failure)
	assert.Equal(t, ClarificationMessage, res.Message)
	assert.Empty(t, res.Documents)
	assert.Error(t, svc.Ready(context.Background()))
}

func TestAnswers(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	res, err := svc.Search(ctx, "나라사랑 잃어버렸어요")
	require.NoError(t, err)

	k := retrieval.NewAnswerKey(res.Query, res.Decision, res.DocKeys(), "gpt-4o-mini")
	_, status := svc.LookupAnswer(ctx, k)
	assert.Equal(t, retrieval.CacheMiss, status)

	require.NoError(t, svc.StoreAnswer(ctx, k, retrieval.Answer{Text: "분실 신고부터 진행해 주세요."}))
	ans, status := svc.LookupAnswer(ctx, k)
	require.NotNil(t, ans)
	assert.True(t, status.Hit())
	assert.Equal(t, "분실 신고부터 진행해 주세요.", ans.Text)

	assert.Error(t, svc.StoreAnswer(ctx, retrieval.AnswerKey{Query: "x"}, retrieval.Answer{Text: "y"}))
}

func TestRoute(t *testing.T) {
	svc, _ := newTestService(t, false)

	d := svc.Route("K-패스 다자녀 혜택")
	assert.Equal(t, routing.RouteCardInfo, d.Route)
	assert.Contains(t, d.Filters.CardNames, "K-패스")
}
