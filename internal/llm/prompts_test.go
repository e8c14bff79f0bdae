package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge-labs/appforge/internal/app/domain/conversation"
	"github.com/appforge-labs/appforge/internal/app/domain/module"
)

func TestAnalyzePromptQuotesRequest(t *testing.T) {
	p := analyzePrompt(`track my "vinyl" collection`)

	assert.Contains(t, p, `track my \"vinyl\" collection`)
	assert.Contains(t, p, "ready_to_proceed")
	assert.Contains(t, p, "clarifying_questions")
}

func TestSchemaPromptIncludesClarifications(t *testing.T) {
	plain := schemaPrompt("inventory tracker", nil)
	assert.Contains(t, plain, "inventory tracker")
	assert.NotContains(t, plain, "Additional context")

	withExtra := schemaPrompt("inventory tracker", map[string]interface{}{
		"answers": "one warehouse only",
	})
	assert.Contains(t, withExtra, "Additional context")
	assert.Contains(t, withExtra, "one warehouse only")
	assert.Contains(t, withExtra, "snake_case")
}

func TestUIPromptCarriesSchemaFields(t *testing.T) {
	schema := module.Schema{
		"books": {
			Fields: map[string]string{
				"id":     "BIGSERIAL PRIMARY KEY",
				"title":  "TEXT NOT NULL",
				"rating": "INTEGER",
			},
		},
	}
	p := uiPrompt("Library", schema, "a personal book log")

	assert.Contains(t, p, `"Library"`)
	assert.Contains(t, p, "books")
	assert.Contains(t, p, "title")
	assert.Contains(t, p, "a personal book log")
	assert.Contains(t, p, "Skip the id, created_at and updated_at fields")
}

func TestIntentPromptContextIsOptional(t *testing.T) {
	bare := intentPrompt("show all orders", conversation.Context{})
	assert.NotContains(t, bare, "Context:")
	assert.Contains(t, bare, `"show all orders"`)

	ctx := conversation.Context{QuestionCount: 2}
	withCtx := intentPrompt("yes, proceed", ctx)
	assert.Contains(t, withCtx, "Context:")
	assert.Contains(t, withCtx, "module_question_count")
}

func TestSeedPromptSkipsManagedColumns(t *testing.T) {
	fields := []module.Field{
		{Name: "id", Type: "BIGSERIAL PRIMARY KEY"},
		{Name: "name", Type: "TEXT NOT NULL"},
		{Name: "price", Type: "REAL"},
		{Name: "created_at", Type: "TIMESTAMP"},
		{Name: "updated_at", Type: "TIMESTAMP"},
	}
	p := seedPrompt("products", fields, "a small shop", 5)

	require.Contains(t, p, "Generate 5 rows")
	assert.Contains(t, p, "- name (TEXT NOT NULL)")
	assert.Contains(t, p, "- price (REAL)")
	assert.NotContains(t, p, "- id (")
	assert.NotContains(t, p, "- created_at (")
	assert.NotContains(t, p, "- updated_at (")
}
