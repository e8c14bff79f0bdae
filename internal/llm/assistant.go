package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/appforge-labs/appforge/internal/app/domain/conversation"
	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/pkg/logger"
)

const (
	structuredTemperature = 0.2
	chatTemperature       = 0.7

	// Requests shorter than this many words skip the clarification step.
	simpleRequestWords = 30

	maxSeedRows     = 50
	defaultSeedRows = 5
)

// Assistant turns user requests into intents, schemas and UI definitions.
// Structured outputs degrade to deterministic fallbacks when the model reply
// cannot be parsed, so module creation never fails on a bad completion. A nil
// *Assistant degrades every call the same way.
type Assistant struct {
	client Client
	log    *logger.Logger
}

// NewAssistant wraps a completion client.
func NewAssistant(client Client, log *logger.Logger) *Assistant {
	if log == nil {
		log = logger.NewDefault("assistant")
	}
	return &Assistant{client: client, log: log}
}

// Analysis is the assistant's reading of a module request.
type Analysis struct {
	Understanding       string   `json:"understanding"`
	ReadyToProceed      bool     `json:"ready_to_proceed"`
	ClarifyingQuestions []string `json:"clarifying_questions"`
}

// ParseIntent classifies a user message into one of the platform intents and
// extracts any operation parameters. Unparseable replies map to the unknown
// intent, which callers treat as general conversation.
func (a *Assistant) ParseIntent(ctx context.Context, userMessage string, convContext conversation.Context) conversation.Intent {
	if a == nil || a.client == nil {
		return conversation.Intent{Intent: conversation.IntentUnknown}
	}
	reply, err := a.client.Complete(ctx, Request{
		System:      intentSystemPrompt,
		Messages:    []Message{{Role: conversation.RoleUser, Content: intentPrompt(userMessage, convContext)}},
		Temperature: structuredTemperature,
	})
	if err != nil {
		a.log.WithError(err).Warn("intent parsing failed")
		return conversation.Intent{Intent: conversation.IntentUnknown}
	}
	raw := ExtractJSON(reply)
	if raw == "" {
		return conversation.Intent{Intent: conversation.IntentUnknown}
	}
	var intent conversation.Intent
	if err := json.Unmarshal([]byte(raw), &intent); err != nil {
		a.log.WithError(err).Warn("intent reply unparseable")
		return conversation.Intent{Intent: conversation.IntentUnknown}
	}
	if intent.Intent == "" {
		intent.Intent = conversation.IntentUnknown
	}
	return intent
}

// AnalyzeRequest decides whether a module request needs clarification before
// a schema is generated. Short requests, and follow-ups once a question has
// already been asked, proceed immediately without consulting the model. At
// most one clarifying question is ever returned.
func (a *Assistant) AnalyzeRequest(ctx context.Context, userMessage string, questionCount int) Analysis {
	if questionCount > 0 || len(strings.Fields(userMessage)) < simpleRequestWords {
		return Analysis{
			Understanding:  "Building module based on user request.",
			ReadyToProceed: true,
		}
	}
	if a == nil || a.client == nil {
		return proceedAnalysis()
	}

	reply, err := a.client.Complete(ctx, Request{
		System:      analyzeSystemPrompt,
		Messages:    []Message{{Role: conversation.RoleUser, Content: analyzePrompt(userMessage)}},
		Temperature: structuredTemperature,
	})
	if err != nil {
		a.log.WithError(err).Warn("request analysis failed, proceeding")
		return proceedAnalysis()
	}
	raw := ExtractJSON(reply)
	if raw == "" {
		return proceedAnalysis()
	}
	var analysis Analysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		a.log.WithError(err).Warn("analysis reply unparseable, proceeding")
		return proceedAnalysis()
	}
	// One question at a time.
	if len(analysis.ClarifyingQuestions) > 1 {
		analysis.ClarifyingQuestions = analysis.ClarifyingQuestions[:1]
	}
	return analysis
}

func proceedAnalysis() Analysis {
	return Analysis{
		Understanding:  "Creating database tables based on your request.",
		ReadyToProceed: true,
	}
}

// GenerateSchema asks the model for table definitions matching the
// description. The reply must be a JSON object keyed by table name; anything
// else degrades to FallbackSchema.
func (a *Assistant) GenerateSchema(ctx context.Context, description string, additional map[string]interface{}) module.Schema {
	if a == nil || a.client == nil {
		return FallbackSchema(description)
	}
	reply, err := a.client.Complete(ctx, Request{
		System:      schemaSystemPrompt,
		Messages:    []Message{{Role: conversation.RoleUser, Content: schemaPrompt(description, additional)}},
		Temperature: structuredTemperature,
	})
	if err != nil {
		a.log.WithError(err).Warn("schema generation failed, using fallback")
		return FallbackSchema(description)
	}
	raw := ExtractJSON(reply)
	if raw == "" {
		a.log.Warn("no schema JSON in model reply, using fallback")
		return FallbackSchema(description)
	}
	var schema module.Schema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil || len(schema) == 0 {
		a.log.WithError(err).Warn("schema reply unparseable, using fallback")
		return FallbackSchema(description)
	}
	return schema
}

var fallbackStopwords = map[string]bool{
	"this": true, "that": true, "with": true, "have": true, "where": true,
	"what": true, "when": true, "from": true, "their": true,
}

// FallbackSchema derives a minimal schema from the most frequent words of the
// description. The two most common long words become tables, with the second
// referencing the first; a generic items table is used when the description
// yields nothing.
func FallbackSchema(description string) module.Schema {
	cleaned := strings.NewReplacer(",", " ", ".", " ").Replace(strings.ToLower(description))

	counts := make(map[string]int)
	var order []string
	for _, word := range strings.Fields(cleaned) {
		if len(word) <= 3 || fallbackStopwords[word] {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > 2 {
		order = order[:2]
	}

	schema := module.Schema{}
	if len(order) == 0 {
		schema["items"] = module.TableSpec{
			Fields:      fallbackFields(),
			Description: "Main data table for the module",
		}
		return schema
	}
	for _, name := range order {
		schema[name] = module.TableSpec{
			Fields:      fallbackFields(),
			Description: "Table for " + name,
		}
	}
	if len(order) >= 2 {
		schema[order[1]].Fields[order[0]+"_id"] = "INTEGER"
	}
	return schema
}

func fallbackFields() map[string]string {
	return map[string]string{
		"id":          "BIGSERIAL PRIMARY KEY",
		"name":        "TEXT NOT NULL",
		"description": "TEXT",
		"created_at":  "TIMESTAMP DEFAULT CURRENT_TIMESTAMP",
		"updated_at":  "TIMESTAMP DEFAULT CURRENT_TIMESTAMP",
	}
}

// GenerateUI produces a UI definition for the module's tables. Unparseable
// replies degrade to FallbackUI.
func (a *Assistant) GenerateUI(ctx context.Context, moduleName string, schema module.Schema, description string) *module.UIDefinition {
	if a == nil || a.client == nil {
		return FallbackUI(moduleName, schema)
	}
	reply, err := a.client.Complete(ctx, Request{
		System:      uiSystemPrompt,
		Messages:    []Message{{Role: conversation.RoleUser, Content: uiPrompt(moduleName, schema, description)}},
		Temperature: structuredTemperature,
	})
	if err != nil {
		a.log.WithError(err).Warn("ui generation failed, using fallback")
		return FallbackUI(moduleName, schema)
	}
	raw := ExtractJSON(reply)
	if raw == "" {
		a.log.Warn("no ui JSON in model reply, using fallback")
		return FallbackUI(moduleName, schema)
	}
	var ui module.UIDefinition
	if err := json.Unmarshal([]byte(raw), &ui); err != nil || len(ui.Sections) == 0 {
		a.log.WithError(err).Warn("ui reply unparseable, using fallback")
		return FallbackUI(moduleName, schema)
	}
	return &ui
}

// FallbackUI builds a plain form-and-table interface straight from the
// schema: one add form and one display section per table, skipping the id and
// timestamp columns.
func FallbackUI(moduleName string, schema module.Schema) *module.UIDefinition {
	def := &module.UIDefinition{
		Title:  moduleName,
		Layout: "standard",
	}
	for _, tableName := range schema.TableNames() {
		spec := schema[tableName]
		var components []module.UIComponent
		for _, field := range spec.OrderedFields() {
			if field == "id" || field == "created_at" || field == "updated_at" {
				continue
			}
			fieldType := spec.Fields[field]
			componentType := "text_input"
			switch {
			case strings.Contains(fieldType, "INTEGER") || strings.Contains(fieldType, "REAL"):
				componentType = "number_input"
			case strings.Contains(fieldType, "BOOLEAN"):
				componentType = "checkbox"
			}
			components = append(components, module.UIComponent{
				Type:        componentType,
				Field:       field,
				Label:       titleWords(strings.ReplaceAll(field, "_", " ")),
				Placeholder: "Enter " + strings.ReplaceAll(field, "_", " "),
				Required:    strings.Contains(fieldType, "NOT NULL"),
			})
		}
		if len(components) > 0 {
			def.Sections = append(def.Sections, module.UISection{
				Title:       "Add " + titleWords(tableName),
				Description: fmt.Sprintf("Add new %s records", tableName),
				Type:        "form",
				TargetTable: tableName,
				Components:  components,
				Actions:     []module.UIAction{{Label: "Save", Action: "save", Style: "primary"}},
			})
		}
		def.Sections = append(def.Sections, module.UISection{
			Title:       "View " + titleWords(tableName),
			Type:        "display",
			TargetTable: tableName,
		})
	}
	return def
}

// GenerateSeedData produces sample rows for a freshly created table. Count is
// capped at 50 and defaults to 5; failures degrade to deterministic sample
// rows so seeding always yields data.
func (a *Assistant) GenerateSeedData(ctx context.Context, tableName string, fields []module.Field, description string, count int) []map[string]interface{} {
	if count <= 0 {
		count = defaultSeedRows
	}
	if count > maxSeedRows {
		count = maxSeedRows
	}
	if a == nil || a.client == nil {
		return fallbackSeedRows(fields, count)
	}

	reply, err := a.client.Complete(ctx, Request{
		System:      seedSystemPrompt,
		Messages:    []Message{{Role: conversation.RoleUser, Content: seedPrompt(tableName, fields, description, count)}},
		Temperature: chatTemperature,
	})
	if err != nil {
		a.log.WithError(err).Warn("seed generation failed, using fallback")
		return fallbackSeedRows(fields, count)
	}
	raw := ExtractJSON(reply)
	if raw == "" {
		return fallbackSeedRows(fields, count)
	}
	var parsed struct {
		Rows []map[string]interface{} `json:"rows"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil || len(parsed.Rows) == 0 {
		a.log.WithError(err).Warn("seed reply unparseable, using fallback")
		return fallbackSeedRows(fields, count)
	}
	if len(parsed.Rows) > count {
		parsed.Rows = parsed.Rows[:count]
	}
	return parsed.Rows
}

func fallbackSeedRows(fields []module.Field, count int) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, count)
	for i := 1; i <= count; i++ {
		row := make(map[string]interface{})
		for _, f := range fields {
			if f.Name == "id" || f.Name == "created_at" || f.Name == "updated_at" {
				continue
			}
			fieldType := strings.ToUpper(f.Type)
			switch {
			case strings.Contains(fieldType, "INTEGER") || strings.Contains(fieldType, "REAL"):
				row[f.Name] = i
			case strings.Contains(fieldType, "BOOLEAN"):
				row[f.Name] = i%2 == 0
			default:
				row[f.Name] = fmt.Sprintf("Sample %s %d", strings.ReplaceAll(f.Name, "_", " "), i)
			}
		}
		if len(row) == 0 {
			break
		}
		rows = append(rows, row)
	}
	return rows
}

// Chat generates a free-form reply from the conversation history. Action
// blocks embedded in the reply are parsed out; the content is returned
// verbatim.
func (a *Assistant) Chat(ctx context.Context, system string, history []Message) (string, []conversation.Action, error) {
	if a == nil || a.client == nil {
		return "", nil, errors.New("no model provider configured")
	}
	reply, err := a.client.Complete(ctx, Request{
		System:      system,
		Messages:    history,
		Temperature: chatTemperature,
	})
	if err != nil {
		return "", nil, err
	}
	return reply, ParseActions(reply), nil
}

// titleWords uppercases the first letter of each space-separated word.
func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
