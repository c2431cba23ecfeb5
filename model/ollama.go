package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaEmbedder calls the batch /api/embed endpoint.
type OllamaEmbedder struct {
	apiURL string
	model  string
	client *http.Client
}

type OllamaEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type OllamaEmbeddingResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

func NewOllamaEmbedder(apiURL, model string, timeout time.Duration) *OllamaEmbedder {
	return &OllamaEmbedder{
		apiURL: apiURL,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var ollamaResp OllamaEmbeddingResponse
	err := postJSON(ctx, e.client, e.apiURL, OllamaEmbeddingRequest{Model: e.model, Input: texts}, &ollamaResp)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(ollamaResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrEmbeddingCount, len(ollamaResp.Embeddings), len(texts))
	}

	out := make([][]float32, len(ollamaResp.Embeddings))
	for i, emb := range ollamaResp.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// OllamaGenerator calls /api/generate.
type OllamaGenerator struct {
	apiURL string
	model  string
	client *http.Client
}

type GenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type GenerateResponse struct {
	Response string `json:"response"`
}

func NewOllamaGenerator(apiURL, model string, timeout time.Duration) *OllamaGenerator {
	return &OllamaGenerator{
		apiURL: apiURL,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (g *OllamaGenerator) Name() string { return "ollama:" + g.model }

func (g *OllamaGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	reqBody, err := json.Marshal(GenerateRequest{Model: g.model, System: system, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := doPost(ctx, g.client, g.apiURL, nil, reqBody)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil && genResp.Response != "" {
		return strings.TrimSpace(genResp.Response), nil
	}

	// Some servers stream regardless of the flag; join the chunks.
	var output strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			break
		}
		output.WriteString(chunk.Response)
	}
	if output.Len() == 0 {
		return "", fmt.Errorf("%w: ollama returned no text", ErrEmptyGeneration)
	}
	return strings.TrimSpace(output.String()), nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	return postJSONWithHeader(ctx, client, url, nil, in, out)
}

func postJSONWithHeader(ctx context.Context, client *http.Client, url string, header http.Header, in, out any) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	body, err := doPost(ctx, client, url, header, reqBody)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func doPost(ctx context.Context, client *http.Client, url string, header http.Header, reqBody []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

// StatusError is a non-200 answer from a model endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model API error: status %d, body: %s", e.StatusCode, e.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
