package judge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"voice-conformity-go/internal/failures"
	"voice-conformity-go/internal/types"
)

// criterionKeys lists accepted spellings per criterion, canonical first.
var criterionKeys = [types.CriteriaCount][]string{
	{"criterion_1", "punto_1_identidad"},
	{"criterion_2", "punto_2_terminos"},
	{"criterion_3", "punto_3_ganar"},
	{"criterion_4", "punto_4_dudas"},
	{"criterion_5", "punto_5_pasos"},
}

var rationaleKeys = []string{"rationale", "resumen_ejecutivo"}

// ParseVerdict reads the model's answer. Each criterion must be present and
// be exactly 0 or 1 (JSON booleans are accepted); otherwise the answer is a
// content error and is never repaired.
func ParseVerdict(content string) (types.CriterionJudgment, string, error) {
	const op = "judge.parse"
	var out types.CriterionJudgment

	raw := extractJSON(content)
	if raw == "" {
		return out, "", failures.Content(op, fmt.Errorf("no JSON object in answer: %s", truncate(content, 200)))
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return out, "", failures.Content(op, fmt.Errorf("decode answer: %w", err))
	}

	for i, keys := range criterionKeys {
		val, ok := lookup(obj, keys)
		if !ok {
			return out, "", failures.Content(op, fmt.Errorf("missing %s", keys[0]))
		}
		met, err := binary(val)
		if err != nil {
			return out, "", failures.Content(op, fmt.Errorf("%s: %w", keys[0], err))
		}
		out[i] = met
	}

	rationale := ""
	if val, ok := lookup(obj, rationaleKeys); ok {
		_ = json.Unmarshal(val, &rationale)
	}
	return out, strings.TrimSpace(rationale), nil
}

func lookup(obj map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

func binary(val json.RawMessage) (bool, error) {
	switch strings.TrimSpace(string(val)) {
	case "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	}
	return false, fmt.Errorf("expected 0 or 1, got %s", truncate(string(val), 40))
}

// extractContentFromChoices reads an OpenAI-style choices[0].message.content.
func extractContentFromChoices(body []byte) (string, error) {
	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// extractJSON finds the first balanced JSON object in a string. Markdown
// fences are stripped first.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```", "`"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
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
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
