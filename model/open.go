package model

import "fapchat/config"

// NewEmbedderFromConfig returns the instruction-prefixed Ollama embedder.
func NewEmbedderFromConfig(cfg *config.Config) *PrefixedEmbedder {
	return NewPrefixedEmbedder(NewOllamaEmbedder(cfg.EmbeddingURL, cfg.EmbeddingModel, cfg.HTTPTimeout))
}

// NewGeneratorFromConfig prefers Gemini when a key is set, then Ollama. It
// returns nil when neither is configured.
func NewGeneratorFromConfig(cfg *config.Config) Generator {
	var gen Generator
	switch {
	case cfg.GeminiAPIKey != "":
		gen = NewGeminiGenerator(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.LLMTimeout)
	case cfg.LLMURL != "" && cfg.LLMModel != "":
		gen = NewOllamaGenerator(cfg.LLMURL, cfg.LLMModel, cfg.LLMTimeout)
	default:
		return nil
	}
	return NewRateLimited(gen, cfg.LLMRate, cfg.LLMBurst)
}

// NewTranslatorFromConfig tries the local model first, then Google.
func NewTranslatorFromConfig(cfg *config.Config, gen Generator) *TranslatorChain {
	var ts []Translator
	if gen != nil {
		ts = append(ts, NewOllamaTranslator(gen))
	}
	ts = append(ts, NewGoogleTranslator(cfg.GoogleTranslate, cfg.HTTPTimeout))
	return NewTranslatorChain(ts...)
}
