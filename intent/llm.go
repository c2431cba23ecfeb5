package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"fapchat/model"
	"fapchat/types"
)

var ErrNoGenerator = errors.New("no generator configured")

// LLMStrategy asks a generative model for the intent as a JSON object.
type LLMStrategy struct {
	catalog  *Catalog
	gen      model.Generator
	attempts int
}

func NewLLMStrategy(catalog *Catalog, gen model.Generator, attempts int) *LLMStrategy {
	return &LLMStrategy{catalog: catalog, gen: gen, attempts: attempts}
}

func (s *LLMStrategy) Source() types.IntentSource { return types.SourceLLM }

type llmTimeRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type llmIntent struct {
	QueryEN      string        `json:"query_en"`
	RecordType   string        `json:"record_type"`
	SubjectCodes subjectList   `json:"subject_codes"`
	SubjectCode  string        `json:"subject_code"`
	Term         string        `json:"term"`
	TimeRange    *llmTimeRange `json:"time_range"`
}

// subjectList accepts a list, a single string or null.
type subjectList []string

func (l *subjectList) UnmarshalJSON(data []byte) error {
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	if one != "" {
		*l = []string{one}
	}
	return nil
}

func (s *LLMStrategy) Resolve(ctx context.Context, q Query) (types.Intent, error) {
	if s.gen == nil {
		return types.Intent{}, ErrNoGenerator
	}

	var raw llmIntent
	if err := model.GenerateJSON(ctx, s.gen, intentSystem, s.prompt(q), s.attempts, &raw); err != nil {
		return types.Intent{}, fmt.Errorf("llm intent: %w", err)
	}

	translated := strings.TrimSpace(raw.QueryEN)
	if translated == "" {
		translated = q.Text
	}
	in := types.NewIntent(translated, types.SourceLLM)
	in.RecordType = types.RecordType(nullable(raw.RecordType))
	for _, code := range append([]string(raw.SubjectCodes), raw.SubjectCode) {
		if code = nullable(code); code != "" {
			in.SubjectCodes = append(in.SubjectCodes, code)
		}
	}
	in.Term = nullable(raw.Term)

	if raw.TimeRange != nil {
		start, errStart := types.ParseDate(raw.TimeRange.StartDate)
		end, errEnd := types.ParseDate(raw.TimeRange.EndDate)
		if errStart == nil && errEnd == nil && !end.Before(start) {
			in.TimeRange = &types.DateRange{Start: start, End: end}
			in.TimePhrase = "llm"
		}
	}
	return in, nil
}

func nullable(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "null", "none", "n/a":
		return ""
	}
	return s
}

const intentSystem = `You are an assistant for a university student information system.
You classify a student's question, which may be in Vietnamese, and return ONE JSON object only.`

func (s *LLMStrategy) prompt(q Query) string {
	spec := s.catalog.Spec()

	var b strings.Builder
	if len(q.History) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, t := range q.History {
			role := "User"
			if t.Role == "assistant" {
				role = "Assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, t.Content)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current query: %q\n\n", q.Text)
	fmt.Fprintf(&b, "Today is %s.\n\n", types.FormatDate(q.Now))

	b.WriteString("record_type must be one of:\n")
	for _, rt := range spec.RecordTypes {
		fmt.Fprintf(&b, "- %s: %s\n", rt.Type, rt.Description)
	}
	b.WriteString("\nsubject_codes must come from:\n")
	for _, sub := range spec.Subjects {
		fmt.Fprintf(&b, "- %s\n", sub.Label())
	}
	b.WriteString("\nterm must be one of:")
	for _, t := range spec.Terms {
		fmt.Fprintf(&b, " %s", t.Code)
	}
	b.WriteString(`

Rules:
- query_en is the English translation of the current query.
- Use null for anything you are not confident about.
- If the query mentions relative time (next week, this month, this semester, tomorrow...),
  compute time_range from today's date, dates formatted DD/MM/YYYY. Semesters are calendar
  quarters: Jan-Mar, Apr-Jun, Jul-Sep, Oct-Dec.

Output format:
{"query_en": "...", "record_type": "...", "subject_codes": ["..."], "term": null,
 "time_range": {"start_date": "DD/MM/YYYY", "end_date": "DD/MM/YYYY"}}
`)
	return b.String()
}
