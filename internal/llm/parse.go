package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// extractJSONObject finds the first top-level JSON object in a model reply
// using balanced brace scanning. Replies often wrap the object in prose or
// markdown fences; scanning from the first '{' skips both. Braces inside
// JSON strings do not count toward nesting.
func extractJSONObject(s string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("no JSON object found in response")
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// decodeJSON extracts and unmarshals the first JSON object in response into
// dst. Strict parse first, then one bounded repair for trailing commas, the
// only malformation worth recovering from. Anything beyond that is a
// generation failure, not a parsing problem.
func decodeJSON(response string, dst interface{}) error {
	raw, err := extractJSONObject(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), dst); err == nil {
		return nil
	}
	repaired := trailingCommaRe.ReplaceAllString(raw, "$1")
	if err := json.Unmarshal([]byte(repaired), dst); err != nil {
		return fmt.Errorf("parsing model response: %w", err)
	}
	return nil
}
