package tool

import (
	"encoding/json"
	"strings"
)

// extractJSON pulls a JSON object or array out of model text. Models wrap
// payloads in markdown fences or prepend prose despite strict-JSON
// instructions, so the extractor tolerates both.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.Contains(text, "```") {
		var candidates []string
		for _, part := range strings.Split(text, "```") {
			part = strings.TrimSpace(part)
			if lower := strings.ToLower(part); strings.HasPrefix(lower, "json") {
				part = strings.TrimSpace(part[4:])
			}
			if strings.HasPrefix(part, "{") || strings.HasPrefix(part, "[") {
				candidates = append(candidates, part)
			}
		}
		if len(candidates) > 0 {
			longest := candidates[0]
			for _, c := range candidates[1:] {
				if len(c) > len(longest) {
					longest = c
				}
			}
			text = longest
		}
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	text = text[start:]

	if end := balancedEnd(text); end > 0 {
		return text[:end]
	}
	return text
}

// balancedEnd returns the index just past the close of the first balanced
// JSON value in s, or -1 when the value is truncated. String contents and
// escapes are skipped so braces inside values do not count.
func balancedEnd(s string) int {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
				if depth == 0 {
					return i + 1
				}
			}
		}
	}
	return -1
}

// salvageObjects scans text for balanced top-level JSON objects and returns
// each one that parses on its own. Used when the overall payload is
// truncated mid-array but earlier elements are intact.
func salvageObjects(text string) []json.RawMessage {
	var out []json.RawMessage
	for i := 0; i < len(text); {
		open := strings.IndexByte(text[i:], '{')
		if open < 0 {
			break
		}
		start := i + open
		end := balancedEnd(text[start:])
		if end < 0 {
			// Truncated container; step inside and keep scanning for
			// complete inner objects.
			i = start + 1
			continue
		}
		candidate := text[start : start+end]
		if json.Valid([]byte(candidate)) {
			out = append(out, json.RawMessage(candidate))
		}
		i = start + end
	}
	return out
}
