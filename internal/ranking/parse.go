package ranking

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// response is the structured shape expected from the model.
type response struct {
	Ranked  []responseEntry `json:"ranked"`
	Summary string          `json:"summary"`
}

type responseEntry struct {
	ChatID  string  `json:"chat_id"`
	Urgency float64 `json:"urgency"`
	Reason  string  `json:"reason"`
}

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// parseResponse coerces raw model output into the response shape. Models
// wrap JSON in markdown fences, chat around it, or truncate it mid-object;
// each salvage step is tried in turn before giving up.
func parseResponse(raw string) (*response, error) {
	cleaned := extractJSON(raw)

	var resp response
	if err := json.Unmarshal([]byte(cleaned), &resp); err == nil {
		return &resp, nil
	}

	// Trailing commas are the most common model JSON defect.
	fixed := trailingCommaRe.ReplaceAllString(cleaned, "$1")
	if !strings.HasSuffix(fixed, "}") && !strings.HasSuffix(fixed, "]") {
		fixed = repairJSON(fixed)
	}
	if err := json.Unmarshal([]byte(fixed), &resp); err != nil {
		return nil, fmt.Errorf("decode ranking response: %w", err)
	}
	return &resp, nil
}

// extractJSON strips markdown fences and surrounding prose, leaving the
// first top-level JSON object. A truncated object (no closing brace) is
// repaired rather than rejected.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return s
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return repairJSON(s[start:])
	}
	return s[start : end+1]
}

// repairJSON closes open strings, braces and brackets of a truncated JSON
// document so the decoder can salvage the complete leading entries.
func repairJSON(s string) string {
	var stack []byte
	inString := false
	escape := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escape {
			escape = false
			continue
		}
		switch c {
		case '\\':
			escape = true
		case '"':
			inString = !inString
		case '{':
			if !inString {
				stack = append(stack, '}')
			}
		case '[':
			if !inString {
				stack = append(stack, ']')
			}
		case '}', ']':
			if !inString && len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

func clampScore(urgency float64) int {
	switch {
	case urgency < 0:
		return 0
	case urgency > 100:
		return 100
	default:
		return int(urgency)
	}
}
