package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"goalflow/internal/engine"
)

type response struct {
	ToolCalls *[]engine.ToolCall `json:"toolCalls"`
	Reasoning string             `json:"reasoning"`
}

// parseResponse accepts bare JSON or JSON wrapped in prose or markdown fences.
func parseResponse(raw string) ([]engine.ToolCall, string, error) {
	var resp response
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, "", fmt.Errorf("parse model response: %w", err)
	}
	if resp.ToolCalls == nil {
		return nil, "", errors.New("parse model response: toolCalls is missing")
	}
	calls := *resp.ToolCalls
	for i, c := range calls {
		if strings.TrimSpace(c.Tool) == "" {
			return nil, "", fmt.Errorf("parse model response: toolCalls[%d].tool is missing", i)
		}
	}
	return calls, resp.Reasoning, nil
}

func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
