package consult

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/routing"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

const lossTranscript = `상담사: 네 신한카드입니다.
고객: 카드를 잃어버렸어요
상담사: 분실하신 카드 종류가 어떻게 되실까요?
고객: 네
상담사: 분실 신고를 먼저 접수해 드리겠습니다.
상담사: 재발급은 등록된 주소로 배송됩니다.
상담사: 감사합니다.`

func seededStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	s := storage.NewMemoryStore()
	require.NoError(t, s.UpsertConsultCases(context.Background(), []storage.ConsultCase{
		{ID: "c1", Category: "분실", Intent: "분실", Title: "카드 분실 신고", Transcript: lossTranscript},
		{ID: "c2", Category: "한도", Intent: "한도", Title: "한도 상향 문의", Transcript: "고객: 한도를 올리고 싶어요"},
	}))
	return s
}

func TestRetriever_Gated(t *testing.T) {
	r := NewRetriever(seededStore(t), 2, nil)

	got := r.Retrieve(context.Background(), "카드 분실 신고", routing.Decision{})
	assert.Empty(t, got)

	got = r.Retrieve(context.Background(), "카드 분실 신고", routing.Decision{
		NeedConsultCaseSearch: true,
		ConsultCategories:     []string{"분실"},
		Signals:               routing.Signals{Actions: []string{"분실"}},
	})
	require.NotEmpty(t, got)
	assert.Equal(t, "c1", got[0].ID)
	assert.LessOrEqual(t, len(got), 2)
}

func TestRetriever_ErrorsDegrade(t *testing.T) {
	s := seededStore(t)
	require.NoError(t, s.Close())
	r := NewRetriever(s, 2, nil)

	got := r.Retrieve(context.Background(), "카드 분실", routing.Decision{NeedConsultCaseSearch: true})
	assert.Empty(t, got)
}

func TestRetriever_Nil(t *testing.T) {
	var r *Retriever
	assert.Empty(t, r.Retrieve(context.Background(), "x", routing.Decision{NeedConsultCaseSearch: true}))
	assert.Empty(t, NewRetriever(nil, 0, nil).Retrieve(context.Background(), "x", routing.Decision{NeedConsultCaseSearch: true}))
}

func TestBuildHints_FromTranscript(t *testing.T) {
	h := BuildHints([]storage.ConsultCase{{Transcript: lossTranscript}}, nil, 3, 2)

	assert.Equal(t, []string{
		"네 신한카드입니다.",
		"카드를 잃어버렸어요",
		"분실 신고를 먼저 접수해 드리겠습니다.",
	}, h.FlowSteps)
	assert.Equal(t, []string{"분실하신 카드 종류가 어떻게 되실까요?"}, h.Questions)
}

func TestBuildHints_Limits(t *testing.T) {
	h := BuildHints([]storage.ConsultCase{{Transcript: lossTranscript}}, nil, 1, 0)
	assert.Len(t, h.FlowSteps, 1)
	assert.Empty(t, h.Questions)
}

func TestBuildHints_OnlyFirstTwoCases(t *testing.T) {
	cases := []storage.ConsultCase{
		{Transcript: "네"},
		{Transcript: "감사합니다."},
		{Transcript: "상담사: 세 번째 상담 기록입니다."},
	}
	h := BuildHints(cases, nil, 3, 2)
	assert.True(t, h.Empty())
}

func TestBuildHints_Fallback(t *testing.T) {
	tests := []struct {
		intent    string
		firstStep string
		questions int
	}{
		{"분실", "분실 카드 확인", 2},
		{"재발급", "카드 재발급 대상 확인", 2},
		{"현금서비스", "현금서비스 이용 가능 여부 확인", 1},
		{"한도", "현재 한도 확인", 1},
	}
	for _, tt := range tests {
		t.Run(tt.intent, func(t *testing.T) {
			h := BuildHints(nil, []string{tt.intent}, 3, 2)
			require.Len(t, h.FlowSteps, 3)
			assert.Equal(t, tt.firstStep, h.FlowSteps[0])
			assert.Len(t, h.Questions, tt.questions)
		})
	}

	t.Run("combined loss intent matches every key it contains", func(t *testing.T) {
		h := BuildHints(nil, []string{"분실도난"}, 3, 2)
		assert.Equal(t, "분실 카드 확인", h.FlowSteps[0])
	})

	t.Run("unknown intent", func(t *testing.T) {
		assert.True(t, BuildHints(nil, []string{"포인트"}, 3, 2).Empty())
	})
}
