package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResponse is returned for a blank model response.
var ErrEmptyResponse = errors.New("empty model response")

// ParseJSONObject parses a JSON object from an LLM response. Markdown code
// fences are stripped, and text around the outermost braces is ignored.
func ParseJSONObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines)
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		if len(lines) > 1 {
			text = strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
		} else {
			text = ""
		}
	}

	var result map[string]any
	err := json.Unmarshal([]byte(text), &result)
	if err == nil && result != nil {
		return result, nil
	}

	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if json.Unmarshal([]byte(text[start:end+1]), &result) == nil && result != nil {
			return result, nil
		}
	}
	if err == nil {
		err = errors.New("not a JSON object")
	}
	return nil, fmt.Errorf("parsing model response as JSON: %w", err)
}
