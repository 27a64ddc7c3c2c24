package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxDecodeBytes limits model output size before JSON parsing (64 KB).
const maxDecodeBytes = 64 * 1024

// ParseError reports that model output could not be decoded into the
// expected shape. Raw carries the original text so callers can degrade to
// a synthesized response instead of failing the request.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing model output: %v (raw: %q)", e.Err, truncate(e.Raw, 200))
}

func (e *ParseError) Unwrap() error { return e.Err }

// DecodeJSON parses model output into T, tolerating the usual Gemini
// quirks: Markdown code fences around the payload and leading/trailing
// prose outside the first JSON value. On failure it returns a *ParseError
// carrying the raw text.
//
// This is the single decode path for every component that consumes model
// JSON — planner, judge, composer, script generator, curator.
func DecodeJSON[T any](raw string) (T, error) {
	var out T

	text := strings.TrimSpace(raw)
	if text == "" {
		return out, &ParseError{Raw: raw, Err: fmt.Errorf("empty response")}
	}
	if len(text) > maxDecodeBytes {
		return out, &ParseError{Raw: truncate(text, 512), Err: fmt.Errorf("response too large: %d bytes", len(text))}
	}

	text = StripCodeFences(text)

	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}

	// Second chance: extract the first balanced JSON value from
	// surrounding prose.
	if extracted, ok := firstJSONValue(text); ok {
		if err := json.Unmarshal([]byte(extracted), &out); err == nil {
			return out, nil
		}
	}

	return out, &ParseError{Raw: raw, Err: fmt.Errorf("no decodable JSON value")}
}

// StripCodeFences removes ```json ... ``` wrapping from model output.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// firstJSONValue scans for the first balanced {...} or [...] in s.
// Quote and escape aware, so braces inside string values don't end the scan.
func firstJSONValue(s string) (string, bool) {
	start := -1
	var open, closing byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '[' {
			start = i
			open = s[i]
			closing = '}'
			if open == '[' {
				closing = ']'
			}
			break
		}
	}
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == closing:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
