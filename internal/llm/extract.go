package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/appforge-labs/appforge/internal/app/domain/conversation"
)

var (
	actionRe    = regexp.MustCompile(`(?s)\[ACTION:(\w+)\](.*?)\[/ACTION\]`)
	jsonBlockRe = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```|\\{.*\\}")
)

// ExtractJSON pulls the first JSON object out of a model reply, unwrapping a
// fenced ```json block when present. It returns "" when the reply carries no
// valid JSON object.
func ExtractJSON(reply string) string {
	m := jsonBlockRe.FindStringSubmatch(reply)
	if m == nil {
		return ""
	}
	candidate := m[0]
	if m[1] != "" {
		candidate = m[1]
	}
	candidate = strings.TrimSpace(candidate)
	if !gjson.Valid(candidate) {
		return ""
	}
	return candidate
}

// ParseActions extracts [ACTION:type]...[/ACTION] blocks from a model reply.
// Block bodies that are not valid JSON are kept as JSON-encoded strings so
// the stored payload is always valid JSON.
func ParseActions(reply string) []conversation.Action {
	matches := actionRe.FindAllStringSubmatch(reply, -1)
	if len(matches) == 0 {
		return nil
	}
	actions := make([]conversation.Action, 0, len(matches))
	for _, m := range matches {
		raw := strings.TrimSpace(m[2])
		var data json.RawMessage
		if gjson.Valid(raw) {
			data = json.RawMessage(raw)
		} else {
			quoted, _ := json.Marshal(raw)
			data = quoted
		}
		actions = append(actions, conversation.Action{Type: m[1], Data: data})
	}
	return actions
}
