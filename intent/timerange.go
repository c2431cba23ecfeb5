package intent

import (
	"regexp"
	"strings"
	"time"

	"fapchat/types"
)

type timeRule struct {
	phrase  string
	pattern *regexp.Regexp
	span    func(today time.Time) types.DateRange
}

func rule(span func(time.Time) types.DateRange, phrases ...string) []timeRule {
	out := make([]timeRule, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, timeRule{phrase: p, pattern: keywordPattern(p), span: span})
	}
	return out
}

func days(from, to int) func(time.Time) types.DateRange {
	return func(today time.Time) types.DateRange {
		return types.DateRange{Start: today.AddDate(0, 0, from), End: today.AddDate(0, 0, to)}
	}
}

func thisWeek(today time.Time) types.DateRange {
	offset := (int(today.Weekday()) + 6) % 7
	monday := today.AddDate(0, 0, -offset)
	return types.DateRange{Start: monday, End: monday.AddDate(0, 0, 6)}
}

func month(delta int) func(time.Time) types.DateRange {
	return func(today time.Time) types.DateRange {
		first := time.Date(today.Year(), today.Month()+time.Month(delta), 1, 0, 0, 0, 0, today.Location())
		return types.DateRange{Start: first, End: first.AddDate(0, 1, -1)}
	}
}

// semester uses fixed calendar quarters: Jan-Mar, Apr-Jun, Jul-Sep, Oct-Dec.
func semester(delta int) func(time.Time) types.DateRange {
	return func(today time.Time) types.DateRange {
		startMonth := time.Month((int(today.Month())-1)/3*3 + 1)
		first := time.Date(today.Year(), startMonth+time.Month(3*delta), 1, 0, 0, 0, 0, today.Location())
		return types.DateRange{Start: first, End: first.AddDate(0, 3, -1)}
	}
}

// timeRules is scanned in order and the first match wins, so longer phrases
// precede phrases they contain.
var timeRules = concat(
	rule(days(7, 13), "next week", "coming week", "tuần sau", "tuần tới"),
	rule(days(-7, -1), "last week", "past week", "previous week", "tuần trước", "tuần vừa rồi"),
	rule(thisWeek, "this week", "current week", "tuần này"),
	rule(month(1), "next month", "coming month", "tháng sau", "tháng tới"),
	rule(month(-1), "last month", "past month", "previous month", "tháng trước", "tháng vừa qua"),
	rule(month(0), "this month", "current month", "tháng này"),
	rule(semester(1), "next semester", "next term", "học kỳ sau", "học kì sau", "kỳ sau", "kì sau", "semester sau"),
	rule(semester(-1), "last semester", "previous semester", "last term", "học kỳ trước", "học kì trước", "kỳ trước", "kì trước", "semester trước"),
	rule(semester(0), "this semester", "current semester", "this term", "học kỳ này", "học kì này", "kỳ này", "kì này", "semester này"),
	rule(days(1, 1), "tomorrow", "ngày mai"),
	rule(days(-1, -1), "yesterday", "ngày hôm qua", "hôm qua"),
	rule(days(0, 0), "today", "hôm nay"),
)

func concat(groups ...[]timeRule) []timeRule {
	var out []timeRule
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// DetectTimeRange maps the first known relative time phrase found in any of
// texts, tried in order, to an inclusive date range anchored at now.
func DetectTimeRange(now time.Time, texts ...string) (*types.DateRange, string) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, r := range timeRules {
			if r.pattern.MatchString(lower) {
				span := r.span(today)
				return &span, r.phrase
			}
		}
	}
	return nil, ""
}

var termPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(fall|spring|summer)\s*(20\d{2})(?:$|[^\p{L}\p{N}_])`)

// DetectTerm finds an explicit term such as "Fall 2024" and returns it in
// code form, "Fall2024".
func DetectTerm(texts ...string) string {
	for _, text := range texts {
		m := termPattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		season := strings.ToLower(m[1])
		return strings.ToUpper(season[:1]) + season[1:] + m[2]
	}
	return ""
}
