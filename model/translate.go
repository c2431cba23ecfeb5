package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNoTranslator = errors.New("no translator available")

// Translator renders text in English.
type Translator interface {
	Name() string
	Available() bool
	Translate(ctx context.Context, text string) (string, error)
}

// TranslatorChain uses the first available translator. It never falls
// through to a later one after a failure.
type TranslatorChain struct {
	translators []Translator
}

func NewTranslatorChain(ts ...Translator) *TranslatorChain {
	return &TranslatorChain{translators: ts}
}

// Translate returns the translation and the name of the translator used. On
// any failure the original text is returned along with the error.
func (c *TranslatorChain) Translate(ctx context.Context, text string) (string, string, error) {
	for _, t := range c.translators {
		if t == nil || !t.Available() {
			continue
		}
		out, err := t.Translate(ctx, text)
		if err != nil {
			return text, t.Name(), fmt.Errorf("translate with %s: %w", t.Name(), err)
		}
		out = strings.TrimSpace(out)
		if out == "" {
			return text, t.Name(), fmt.Errorf("translate with %s: %w", t.Name(), ErrEmptyGeneration)
		}
		return out, t.Name(), nil
	}
	return text, "", ErrNoTranslator
}

const translateSystem = `You translate Vietnamese or mixed-language student questions into English.
Keep course codes such as CPV301 and term names such as Fall2024 unchanged.
Return only the translation, without quotes or explanations.`

// OllamaTranslator translates with a local generative model.
type OllamaTranslator struct {
	gen Generator
}

func NewOllamaTranslator(gen Generator) *OllamaTranslator {
	return &OllamaTranslator{gen: gen}
}

func (t *OllamaTranslator) Name() string { return "ollama" }

func (t *OllamaTranslator) Available() bool { return t.gen != nil }

func (t *OllamaTranslator) Translate(ctx context.Context, text string) (string, error) {
	return t.gen.Generate(ctx, translateSystem, text)
}

const googleTranslateURL = "https://translate.googleapis.com/translate_a/single"

// GoogleTranslator uses the public gtx endpoint.
type GoogleTranslator struct {
	endpoint string
	enabled  bool
	client   *http.Client
}

func NewGoogleTranslator(enabled bool, timeout time.Duration) *GoogleTranslator {
	return &GoogleTranslator{
		endpoint: googleTranslateURL,
		enabled:  enabled,
		client:   &http.Client{Timeout: timeout},
	}
}

// WithEndpoint replaces the service URL, used by tests.
func (t *GoogleTranslator) WithEndpoint(u string) *GoogleTranslator {
	t.endpoint = u
	return t
}

func (t *GoogleTranslator) Name() string { return "google" }

func (t *GoogleTranslator) Available() bool { return t.enabled }

func (t *GoogleTranslator) Translate(ctx context.Context, text string) (string, error) {
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", "auto")
	q.Set("tl", "en")
	q.Set("dt", "t")
	q.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return parseGTX(body)
}

// parseGTX reads [[["translated","source",...],...],...].
func parseGTX(body []byte) (string, error) {
	var root []json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil || len(root) == 0 {
		return "", fmt.Errorf("unexpected translate response: %w", errors.Join(err, ErrEmptyGeneration))
	}
	var sentences [][]any
	if err := json.Unmarshal(root[0], &sentences); err != nil {
		return "", fmt.Errorf("unexpected translate response: %w", err)
	}
	var out strings.Builder
	for _, s := range sentences {
		if len(s) == 0 {
			continue
		}
		if part, ok := s[0].(string); ok {
			out.WriteString(part)
		}
	}
	return out.String(), nil
}
