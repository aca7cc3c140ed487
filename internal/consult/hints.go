package consult

import (
	"strings"
	"unicode/utf8"

	"github.com/spherical-ai/spherical/libs/cardrag/internal/storage"
)

// Hints are the flow steps and confirmation questions an agent can follow.
type Hints struct {
	FlowSteps []string `json:"flow_steps"`
	Questions []string `json:"common_questions"`
}

// Empty reports whether there is nothing to show.
func (h Hints) Empty() bool {
	return len(h.FlowSteps) == 0 && len(h.Questions) == 0
}

var rolePrefixes = []string{"상담사:", "손님:", "고객:", "고객님:"}

var lowSignalLines = map[string]bool{
	"네": true, "네.": true, "예": true, "예.": true,
	"알겠습니다": true, "감사합니다": true, "감사합니다.": true,
}

const (
	minLineRunes  = 6
	casesForHints = 2
)

type intentHint struct {
	key       string
	steps     []string
	questions []string
}

var (
	lossSteps     = []string{"분실/도난 카드 확인", "분실/도난 장소·일시 확인", "카드 정지 및 재발급 안내"}
	lossQuestions = []string{"분실하신 카드 종류를 확인해도 될까요?", "분실 장소와 날짜를 확인해도 될까요?"}
)

// fallbackHints is matched in order by substring of the intent.
var fallbackHints = []intentHint{
	{"분실", []string{"분실 카드 확인", "분실 장소/일시 확인", "카드 정지 및 재발급 안내"}, []string{"분실하신 카드 종류를 확인해도 될까요?", "분실 장소와 날짜를 확인해도 될까요?"}},
	{"도난", []string{"도난 카드 확인", "도난 장소/일시 확인", "카드 정지 및 재발급 안내"}, []string{"도난 카드 종류를 확인해도 될까요?", "도난 장소와 날짜를 확인해도 될까요?"}},
	{"재발급", []string{"카드 재발급 대상 확인", "재발급 신청 진행", "배송/수령 안내"}, []string{"재발급할 카드 종류를 확인해도 될까요?", "수령 주소를 확인해도 될까요?"}},
	{"승인", []string{"결제 승인 내역 확인", "이용 본인 여부 확인", "필요 시 차단/정지 안내"}, []string{"해당 승인 건이 본인 이용인지 확인해도 될까요?"}},
	{"취소", []string{"결제 취소 요청 확인", "취소 처리 경로 안내", "환불 일정 안내"}, []string{"취소 요청하신 결제 건을 확인해도 될까요?"}},
	{"수수료", []string{"수수료 발생 사유 확인", "적용 기준 안내", "추가 문의 경로 안내"}, []string{"확인하실 수수료 유형을 알려주실 수 있을까요?"}},
	{"한도", []string{"현재 한도 확인", "한도 변경 가능 여부 안내", "필요 서류/절차 안내"}, []string{"확인하실 한도 종류(일/월)를 알려주실 수 있을까요?"}},
	{"현금서비스", []string{"현금서비스 이용 가능 여부 확인", "이용 절차 안내", "수수료/이자 안내"}, []string{"현금서비스 이용 금액을 알려주실 수 있을까요?"}},
	{"분실도난", lossSteps, lossQuestions},
	{"도난/분실", lossSteps, lossQuestions},
}

func stripRolePrefix(line string) string {
	line = strings.TrimSpace(line)
	for _, p := range rolePrefixes {
		if strings.HasPrefix(line, p) {
			return strings.TrimSpace(strings.TrimPrefix(line, p))
		}
	}
	return line
}

func isLowSignal(line string) bool {
	if line == "" || lowSignalLines[line] {
		return true
	}
	for _, p := range rolePrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return utf8.RuneCountInString(line) < minLineRunes
}

// BuildHints extracts flow steps and confirmation questions from the first
// transcripts. When none survive it falls back to the hint table for the
// given intents.
func BuildHints(cases []storage.ConsultCase, intents []string, maxSteps, maxQs int) Hints {
	var h Hints
	full := func() bool { return len(h.FlowSteps) >= maxSteps && len(h.Questions) >= maxQs }

	for i, c := range cases {
		if i == casesForHints || full() {
			break
		}
		for _, raw := range strings.Split(c.Transcript, "\n") {
			line := stripRolePrefix(raw)
			if isLowSignal(line) {
				continue
			}
			if strings.Contains(line, "?") && len(h.Questions) < maxQs {
				h.Questions = append(h.Questions, line)
				continue
			}
			if len(h.FlowSteps) < maxSteps {
				h.FlowSteps = append(h.FlowSteps, line)
			}
			if full() {
				break
			}
		}
	}

	if h.Empty() && len(intents) > 0 {
		return fallback(intents, maxSteps, maxQs)
	}
	return h
}

func fallback(intents []string, maxSteps, maxQs int) Hints {
	var h Hints
	for _, intent := range intents {
		for _, fh := range fallbackHints {
			if strings.Contains(intent, fh.key) {
				h.FlowSteps = append(h.FlowSteps, fh.steps...)
				h.Questions = append(h.Questions, fh.questions...)
			}
		}
	}
	if len(h.FlowSteps) > maxSteps {
		h.FlowSteps = h.FlowSteps[:maxSteps]
	}
	if len(h.Questions) > maxQs {
		h.Questions = h.Questions[:maxQs]
	}
	return h
}
