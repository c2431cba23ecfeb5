package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoJSON = errors.New("no valid json found")

// ExtractJSON returns the first well-formed JSON object embedded in s.
// Markdown fences and surrounding prose are ignored.
func ExtractJSON(s string) (string, error) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
			return string(raw), nil
		}
	}
	return "", ErrNoJSON
}

// GenerateJSON asks gen for a JSON object and decodes it into out. When the
// answer holds no valid JSON it asks again with a repair prompt, up to
// maxAttempts calls in total.
func GenerateJSON(ctx context.Context, gen Generator, system, prompt string, maxAttempts int, out any) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var (
		raw     string
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		p := prompt
		if attempt > 1 && raw != "" {
			p = buildRepairPrompt(raw)
		}
		var err error
		raw, err = gen.Generate(ctx, system, p)
		if err != nil {
			lastErr = err
			raw = ""
			continue
		}

		jsonStr, err := ExtractJSON(raw)
		if err != nil {
			lastErr = err
			continue
		}
		if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("structured generation failed after %d attempts: %w", maxAttempts, lastErr)
}

func buildRepairPrompt(badOutput string) string {
	return fmt.Sprintf(`
You previously returned an invalid JSON.

Your task is to FIX the JSON.

RULES:
- Output ONLY valid JSON
- Do NOT add or remove information
- Do NOT add explanations
- Do NOT include markdown
- Do NOT include text outside JSON

INVALID OUTPUT:
<<<
%s
>>>

Return the corrected JSON only.
`, badOutput)
}
