package model

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiGenerator calls the generateContent REST endpoint.
type GeminiGenerator struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  map[string]any  `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiGenerator(apiKey, model string, timeout time.Duration) *GeminiGenerator {
	return &GeminiGenerator{
		baseURL: geminiBaseURL,
		model:   strings.TrimPrefix(model, "models/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithBaseURL points the client at another host, used by tests.
func (g *GeminiGenerator) WithBaseURL(u string) *GeminiGenerator {
	g.baseURL = strings.TrimRight(u, "/")
	return g
}

func (g *GeminiGenerator) Name() string { return "gemini:" + g.model }

func (g *GeminiGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	req := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: map[string]any{"temperature": 0.2},
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}

	// Keep the key out of the URL, transport errors quote it.
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
	header := http.Header{}
	header.Set("x-goog-api-key", g.apiKey)
	var resp geminiResponse
	if err := postJSONWithHeader(ctx, g.client, endpoint, header, req, &resp); err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: gemini returned no candidates", ErrEmptyGeneration)
	}

	var out strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		out.WriteString(p.Text)
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("%w: gemini returned no text", ErrEmptyGeneration)
	}
	return text, nil
}
