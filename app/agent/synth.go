package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fapchat/logger"
	"fapchat/model"
	"fapchat/types"

	"github.com/pkoukk/tiktoken-go"
)

// SynthesisFallback replaces the summary when the generator fails.
const SynthesisFallback = "Không thể tổng hợp câu trả lời từ dữ liệu tìm được."

const DefaultContextBudget = 3000

const synthSystem = `You are a smart multilang assistant for a university's academic records.
Answer in the language of the question, clearly and to the point, using only the records in the context.
If the context does not contain the answer, say so in one sentence.
Don't add introductions like 'Of course!' or 'Here's the answer:'`

// TokenCounter returns the token length of s.
type TokenCounter func(s string) int

// TiktokenCounter counts with the encoding of modelName, e.g. "gpt-3.5-turbo".
// The encoding may need to be fetched on first use.
func TiktokenCounter(modelName string) (TokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		return nil, fmt.Errorf("tiktoken encoding for %s: %w", modelName, err)
	}
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}, nil
}

// FallbackCounter estimates four tokens per three words.
func FallbackCounter(s string) int {
	return (len(strings.Fields(s))*4 + 2) / 3
}

type Synthesizer struct {
	gen    model.Generator
	budget int
	count  TokenCounter
	log    *logger.Logger
}

func NewSynthesizer(gen model.Generator, budget int, count TokenCounter, log *logger.Logger) *Synthesizer {
	if budget <= 0 {
		budget = DefaultContextBudget
	}
	if count == nil {
		count = FallbackCounter
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Synthesizer{gen: gen, budget: budget, count: count, log: log}
}

// BuildContext joins passages in rank order until the token budget is spent.
// The first passage is always kept. It returns the context and the number of
// passages used.
func (s *Synthesizer) BuildContext(results []types.RankedResult) (string, int) {
	var b strings.Builder
	used, tokens := 0, 0
	for _, r := range results {
		passage := fmt.Sprintf("[%d] (%s) %s\n", r.Rank, r.Document.RecordType, r.Document.Text)
		n := s.count(passage)
		if used > 0 && tokens+n > s.budget {
			break
		}
		b.WriteString(passage)
		tokens += n
		used++
	}
	return b.String(), used
}

func (s *Synthesizer) Synthesize(ctx context.Context, question string, results []types.RankedResult) (string, error) {
	start := time.Now()
	passages, used := s.BuildContext(results)
	prompt := fmt.Sprintf(`Answer the question based on the given context.
Context:
%s
Question:
%s
Answer:`, passages, question)

	answer, err := s.gen.Generate(ctx, synthSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", model.ErrEmptyGeneration
	}
	s.log.Debug("answer synthesized",
		"passages", used,
		"prompt_tokens", s.count(synthSystem)+s.count(prompt),
		"took", time.Since(start))
	return answer, nil
}
