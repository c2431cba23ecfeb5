package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"fapchat/model"
	"fapchat/types"
)

var ErrNoRanking = errors.New("reranker returned no usable indices")

const rerankSystem = `You rank passages by how well they answer a question.
Reply with the passage numbers only, most relevant first, separated by commas. No explanations.`

const passagePreview = 300

// Reranker asks a generator to reorder search hits.
type Reranker struct {
	gen model.Generator
}

func NewReranker(gen model.Generator) *Reranker {
	return &Reranker{gen: gen}
}

// Rerank returns at most limit hits in the order the generator chose.
// Indices are 1-based; out-of-range and repeated indices are dropped.
func (r *Reranker) Rerank(ctx context.Context, query string, hits []types.ScoredDocument, limit int) ([]types.ScoredDocument, error) {
	if len(hits) == 0 {
		return hits, nil
	}
	out, err := r.gen.Generate(ctx, rerankSystem, rerankPrompt(query, hits, limit))
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	order := ParseRanking(out, len(hits))
	if len(order) == 0 {
		return nil, ErrNoRanking
	}
	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	ranked := make([]types.ScoredDocument, 0, len(order))
	for _, i := range order {
		ranked = append(ranked, hits[i])
	}
	return ranked, nil
}

func rerankPrompt(query string, hits []types.ScoredDocument, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nPassages:\n", query)
	for i, h := range hits {
		text := h.Document.Text
		if r := []rune(text); len(r) > passagePreview {
			text = string(r[:passagePreview]) + "..."
		}
		fmt.Fprintf(&b, "[%d] %s\n", i+1, text)
	}
	fmt.Fprintf(&b, "\nReturn up to %d passage numbers.", limit)
	return b.String()
}

var (
	indexPattern   = regexp.MustCompile(`\d+`)
	bracketPattern = regexp.MustCompile(`\[([^\[\]]*)\]`)
)

// ParseRanking reads 1-based passage numbers from s and returns them as
// unique 0-based indices below n, in order of appearance. Bracketed numbers
// win over bare ones: a first bracket holding a list ("[3, 1]") is the
// ranking, otherwise every single bracket ("[3] ... [1]") is read in order.
func ParseRanking(s string, n int) []int {
	seen := make(map[int]bool)
	var order []int
	for _, m := range rankingNumbers(s) {
		i, err := strconv.Atoi(m)
		if err != nil || i < 1 || i > n || seen[i] {
			continue
		}
		seen[i] = true
		order = append(order, i-1)
	}
	return order
}

func rankingNumbers(s string) []string {
	groups := bracketPattern.FindAllStringSubmatch(s, -1)
	if len(groups) == 0 {
		return indexPattern.FindAllString(s, -1)
	}
	if first := indexPattern.FindAllString(groups[0][1], -1); len(first) > 1 {
		return first
	}
	var nums []string
	for _, g := range groups {
		nums = append(nums, indexPattern.FindAllString(g[1], -1)...)
	}
	return nums
}
