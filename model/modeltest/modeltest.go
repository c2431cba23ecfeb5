// Package modeltest provides deterministic model fakes for tests.
package modeltest

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"fapchat/model"
)

// Dim is the vector size produced by HashEmbedder.
const Dim = 4096

// HashEmbedder is a bag-of-words embedder: each lower-cased token adds its
// weight to one hashed dimension. Tokens containing a digit weigh 3 so that
// course codes dominate. The instruction prefix is ignored.
type HashEmbedder struct {
	mu    sync.Mutex
	Calls int
	Err   error
}

func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	h.Calls++
	err := h.Err
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(strings.TrimPrefix(t, model.QueryInstruction))
	}
	return out, nil
}

// Vector embeds text the way HashEmbedder does.
func Vector(text string) []float32 {
	vec := make([]float32, Dim)
	for _, tok := range Tokens(text) {
		hf := fnv.New32a()
		_, _ = hf.Write([]byte(tok))
		weight := float32(1)
		if strings.IndexFunc(tok, unicode.IsDigit) >= 0 {
			weight = 3
		}
		vec[hf.Sum32()%Dim] += weight
	}
	return vec
}

func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Generator replays canned answers keyed by a substring of the prompt. The
// first matching rule wins; unmatched prompts get Default or Err.
type Generator struct {
	mu      sync.Mutex
	Rules   []Rule
	Default string
	Err     error
	Prompts []string
}

type Rule struct {
	Contains string
	Answer   string
	Err      error
}

var ErrNoAnswer = errors.New("modeltest: no answer configured")

func (g *Generator) Generate(_ context.Context, system, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Prompts = append(g.Prompts, prompt)
	for _, r := range g.Rules {
		if strings.Contains(prompt, r.Contains) || strings.Contains(system, r.Contains) {
			return r.Answer, r.Err
		}
	}
	if g.Err != nil {
		return "", g.Err
	}
	if g.Default == "" {
		return "", ErrNoAnswer
	}
	return g.Default, nil
}

func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Prompts)
}

// Translator maps exact inputs to outputs; anything else is returned as is.
type Translator struct {
	Table map[string]string
	Err   error
}

func (t *Translator) Translate(_ context.Context, text string) (string, string, error) {
	if t.Err != nil {
		return text, "fake", t.Err
	}
	if out, ok := t.Table[text]; ok {
		return out, "fake", nil
	}
	return text, "fake", nil
}
