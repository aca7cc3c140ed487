package policy

import "strings"

var (
	lossTerms     = []string{"분실", "도난", "잃어버", "분실신고", "도난신고"}
	highRiskTerms = []string{"예약신청", "카드대출", "카드론", "현금서비스", "리볼빙", "수수료", "이자", "약관"}
	phoneTerms    = []string{"전화", "번호", "고객센터"}

	criticalEntities = map[string]bool{"다둥이": true, "국민행복": true, "나라사랑": true, "K-패스": true}
)

// Subject describes the query a pin budget is assessed for.
type Subject struct {
	Route       string
	Normalized  string
	Entity      string
	PhoneLookup bool
}

// Assessment is the pin budget of one query.
type Assessment struct {
	// Critical pins bypass the confidence gate.
	Critical bool
	// Cap is the most pinned documents that may be appended.
	Cap int
}

// Assess decides whether a query is high-risk and how many pins it may get.
// maxPins is the configured per-query ceiling.
func Assess(s Subject, maxPins int) Assessment {
	critical := false
	switch s.Route {
	case "card_usage", "phone_lookup":
		critical = containsAny(s.Normalized, lossTerms) ||
			strings.Contains(s.Normalized, "나라사랑") ||
			containsAny(s.Normalized, highRiskTerms) ||
			criticalEntities[s.Entity] ||
			s.PhoneLookup || containsAny(s.Normalized, phoneTerms)
	case "card_info":
		critical = s.Entity != ""
	}

	limit := 1
	if critical {
		limit = 2
	}
	if s.Route == "card_info" && s.Entity == "K-패스" {
		limit = max(limit, 3)
	}
	return Assessment{Critical: critical, Cap: max(0, min(limit, maxPins))}
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
