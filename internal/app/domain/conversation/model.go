package conversation

import (
	"encoding/json"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Intents the assistant dispatches on. Anything unrecognised is treated as
// general conversation.
const (
	IntentCreateModule = "create_module"
	IntentCreateUI     = "create_ui"
	IntentQueryData    = "query_data"
	IntentInsertData   = "insert_data"
	IntentGeneral      = "general"
	IntentUnknown      = "unknown"
)

// Conversation is a chat thread owned by a user. ModuleID links the thread to
// a module once one has been created or selected in it.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	IsActive  bool      `json:"is_active"`
	ModuleID  string    `json:"module_id,omitempty"`
	Context   Context   `json:"context"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Context is the multi-turn flow state carried between messages. A zero
// Context means no flow is pending.
type Context struct {
	PendingModule *PendingModule `json:"pending_module_creation,omitempty"`
	PendingUI     *PendingUI     `json:"pending_ui_creation,omitempty"`
	QuestionCount int            `json:"module_question_count,omitempty"`
}

// Empty reports whether no flow state is held.
func (c Context) Empty() bool {
	return c.PendingModule == nil && c.PendingUI == nil && c.QuestionCount == 0
}

// PendingModule holds a module-creation request paused on a clarifying
// question.
type PendingModule struct {
	ModuleName    string `json:"module_name"`
	Description   string `json:"description"`
	ModuleType    string `json:"module_type"`
	Understanding string `json:"understanding,omitempty"`
}

// PendingUI holds a UI-generation request paused on a clarifying question.
type PendingUI struct {
	ModuleName  string `json:"module_name"`
	Description string `json:"description"`
}

// Message is one turn in a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Actions        []Action  `json:"actions,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Action is a structured side effect attached to an assistant message, e.g.
// module_created or query_results. Data holds the action payload verbatim.
type Action struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Intent is the parsed interpretation of a user message.
type Intent struct {
	Intent      string     `json:"intent"`
	ModuleName  string     `json:"module_name,omitempty"`
	Description string     `json:"description,omitempty"`
	Parameters  Parameters `json:"parameters,omitempty"`
}

// Parameters carries the operation-specific arguments extracted from a user
// message.
type Parameters struct {
	ModuleType  string                 `json:"module_type,omitempty"`
	TableName   string                 `json:"table_name,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Where       string                 `json:"where,omitempty"`
	WhereParams []interface{}          `json:"where_params,omitempty"`
	Limit       int                    `json:"limit,omitempty"`
	OrderBy     string                 `json:"order_by,omitempty"`
}
