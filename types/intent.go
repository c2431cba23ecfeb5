package types

import (
	"fmt"
	"time"
)

type IntentSource string

const (
	SourceLLM     IntentSource = "llm"
	SourceLocal   IntentSource = "local"
	SourceDefault IntentSource = "default"
)

// DateRange is an inclusive span of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) StartKey() int { return DateKeyOf(r.Start) }
func (r DateRange) EndKey() int   { return DateKeyOf(r.End) }

func (r DateRange) String() string {
	return fmt.Sprintf("%s - %s", FormatDate(r.Start), FormatDate(r.End))
}

// InvalidField flags a resolved value that is not in its catalog.
type InvalidField struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Turn is one message of the conversation preceding a query.
type Turn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// Intent is the structured reading of one query. SubjectCodes is never nil
// so every strategy yields the same shape.
type Intent struct {
	TranslatedQuery string
	RecordType      RecordType
	SubjectCodes    []string
	Term            string
	TimeRange       *DateRange
	TimePhrase      string
	Source          IntentSource
	Invalid         []InvalidField
}

func NewIntent(translated string, source IntentSource) Intent {
	return Intent{TranslatedQuery: translated, SubjectCodes: []string{}, Source: source}
}

func (i Intent) PrimarySubject() string {
	if len(i.SubjectCodes) == 0 {
		return ""
	}
	return i.SubjectCodes[0]
}

func (i Intent) Resolvable() bool {
	return len(i.Invalid) == 0
}
