package llm

import "testing"

func TestExtractJSONFenced(t *testing.T) {
	reply := "Here is the schema:\n```json\n{\"tasks\": {\"fields\": {}}}\n```\nLet me know if you need changes."
	got := ExtractJSON(reply)
	if got != `{"tasks": {"fields": {}}}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSONBareObject(t *testing.T) {
	reply := `Sure! {"intent": "query_data", "module_name": "tasks"}`
	got := ExtractJSON(reply)
	if got != `{"intent": "query_data", "module_name": "tasks"}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtractJSONRejectsInvalid(t *testing.T) {
	if got := ExtractJSON("no json here at all"); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
	if got := ExtractJSON("{this is not valid json}"); got != "" {
		t.Fatalf("expected empty result for invalid object, got %q", got)
	}
}

func TestParseActions(t *testing.T) {
	reply := "Done.\n[ACTION:module_created]{\"module_id\": 7}[/ACTION]\nAlso:\n[ACTION:note]plain text payload[/ACTION]"
	actions := ParseActions(reply)
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].Type != "module_created" || string(actions[0].Data) != `{"module_id": 7}` {
		t.Fatalf("unexpected first action: %s %s", actions[0].Type, actions[0].Data)
	}
	if actions[1].Type != "note" || string(actions[1].Data) != `"plain text payload"` {
		t.Fatalf("unexpected second action: %s %s", actions[1].Type, actions[1].Data)
	}
}

func TestParseActionsNone(t *testing.T) {
	if actions := ParseActions("just a normal reply"); actions != nil {
		t.Fatalf("expected no actions, got %v", actions)
	}
}
