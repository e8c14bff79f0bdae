package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/appforge-labs/appforge/internal/app/domain/conversation"
	"github.com/appforge-labs/appforge/internal/app/domain/module"
)

const analyzeSystemPrompt = `You are a database designer for a web platform that creates application modules on demand.

The platform already provides the user interface: web forms and data tables rendered from stored definitions. Your only job is to work out which database tables and fields a request needs.

Never ask about implementation details, frameworks, programming languages, design patterns or deployment. Ask a question only when a critical database requirement is genuinely unclear.`

func analyzePrompt(userMessage string) string {
	return fmt.Sprintf(`A user wants a new module in our platform:

%q

Return a JSON object:
{
    "understanding": "brief description of the database tables needed",
    "clarifying_questions": ["only critical database structure questions, if absolutely necessary"],
    "ready_to_proceed": true
}

Remember:
- Only database tables and fields matter; the interface is already handled by the platform
- Do not ask about implementation details, frameworks or technology choices
- For simple requests, make reasonable assumptions and set ready_to_proceed to true`, userMessage)
}

const schemaSystemPrompt = `You are a database designer for a web platform backed by PostgreSQL.
You design tables, fields and relationships only. The tables back a standard form-based web interface, so do not include interface-specific fields. Follow PostgreSQL syntax and conventions.`

func schemaPrompt(description string, additional map[string]interface{}) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Design database tables for this module:\n\n%s\n", description)
	if len(additional) > 0 {
		extra, _ := json.MarshalIndent(additional, "", "  ")
		fmt.Fprintf(&sb, "\nAdditional context and clarifications:\n%s\n", extra)
	}
	sb.WriteString(`
Output ONLY a JSON object with this structure:
{
    "table_name": {
        "fields": {
            "id": "BIGSERIAL PRIMARY KEY",
            "field_name": "DATA_TYPE [CONSTRAINTS]",
            "created_at": "TIMESTAMP DEFAULT CURRENT_TIMESTAMP",
            "updated_at": "TIMESTAMP DEFAULT CURRENT_TIMESTAMP"
        },
        "description": "Purpose of this table"
    }
}

Rules:
1. Use snake_case for table and field names
2. Include the standard fields (id, created_at, updated_at) in every table
3. Use appropriate data types (INTEGER, TEXT, REAL, BOOLEAN, TIMESTAMP)
4. Name foreign keys after the related table: related_table_id
5. Add NOT NULL constraints where appropriate`)
	return sb.String()
}

const uiSystemPrompt = `You are a UI designer for a web platform with a standardized form and data display system.
You produce JSON definitions that the platform renders into web forms. Map database fields to UI components; every table gets its own add form and its own data display section.`

func uiPrompt(moduleName string, schema module.Schema, description string) string {
	schemaJSON, _ := json.MarshalIndent(schema, "", "  ")
	return fmt.Sprintf(`Create a UI definition for a module named %q with this database schema:

%s

Module description: %s

Output ONLY a JSON object with this structure:
{
    "title": %q,
    "layout": "standard",
    "sections": [
        {
            "title": "Add [Table Name]",
            "description": "Form to add new records",
            "type": "form",
            "target_table": "actual_table_name_from_schema",
            "components": [
                {
                    "type": "text_input",
                    "field": "actual_db_field_name",
                    "label": "User Friendly Label",
                    "placeholder": "Enter value...",
                    "required": true
                }
            ],
            "actions": [
                {"label": "Save", "action": "save", "style": "primary"}
            ]
        },
        {
            "title": "View [Table Name]",
            "type": "display",
            "target_table": "actual_table_name_from_schema"
        }
    ]
}

Rules:
1. Create a separate form section for EACH table in the schema
2. Create a display section for EACH table
3. Use the actual database field names in the "field" property
4. Skip the id, created_at and updated_at fields in forms
5. Choose components by field type:
   - TEXT fields: text_input or textarea
   - INTEGER/REAL fields: number_input
   - BOOLEAN fields: checkbox
   - foreign key fields: select`, moduleName, schemaJSON, description, moduleName)
}

const intentSystemPrompt = `You parse user requests for a platform that builds application modules from conversation. Identify what the user wants to do.`

func intentPrompt(userMessage string, convContext conversation.Context) string {
	contextStr := ""
	if !convContext.Empty() {
		raw, _ := json.Marshal(convContext)
		contextStr = "\nContext: " + string(raw)
	}
	return fmt.Sprintf(`Parse the following user request into a structured action.%s

User request: %q

Output a JSON object:
{
    "intent": "create_module | create_ui | query_data | insert_data | general",
    "module_name": "module name, if applicable",
    "description": "what the user wants",
    "parameters": {
        "module_type": "for module creation",
        "table_name": "for data operations",
        "data": {"field_name": "value"},
        "where": "optional filter clause",
        "limit": 0,
        "order_by": "optional column"
    }
}

Only include fields that are relevant to the detected intent.`, contextStr, userMessage)
}

const seedSystemPrompt = `You generate realistic sample data for database tables. Respond with JSON only.`

func seedPrompt(tableName string, fields []module.Field, description string, count int) string {
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Name == "id" || f.Name == "created_at" || f.Name == "updated_at" {
			continue
		}
		cols = append(cols, fmt.Sprintf("- %s (%s)", f.Name, f.Type))
	}
	return fmt.Sprintf(`Generate %d rows of realistic sample data for the table %q.

Columns:
%s

Module description: %s

Output ONLY a JSON object of the form {"rows": [{...}]} where each row maps column names to values. Do not include id, created_at or updated_at.`, count, tableName, strings.Join(cols, "\n"), description)
}
