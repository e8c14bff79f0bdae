package storage

import (
	"context"
	"time"

	"github.com/appforge-labs/appforge/internal/app/domain/conversation"
	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/internal/app/domain/user"
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// SessionStore persists issued login sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, sess user.Session) (user.Session, error)
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (user.Session, error)
	RevokeSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// APIKeyStore persists programmatic credentials.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key user.APIKey) (user.APIKey, error)
	GetAPIKeyByHash(ctx context.Context, keyHash string) (user.APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]user.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error
}

// ConversationStore persists chat threads.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv conversation.Conversation) (conversation.Conversation, error)
	UpdateConversation(ctx context.Context, conv conversation.Conversation) (conversation.Conversation, error)
	GetConversation(ctx context.Context, id string) (conversation.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]conversation.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	CountConversations(ctx context.Context) (int, error)
}

// MessageStore persists conversation turns.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg conversation.Message) (conversation.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error)
}

// ModuleStore persists module definitions.
type ModuleStore interface {
	CreateModule(ctx context.Context, mod module.Module) (module.Module, error)
	UpdateModule(ctx context.Context, mod module.Module) (module.Module, error)
	GetModule(ctx context.Context, id string) (module.Module, error)
	GetModuleByName(ctx context.Context, userID, name string) (module.Module, error)
	ListModules(ctx context.Context, userID string) ([]module.Module, error)
	DeleteModule(ctx context.Context, id string) error
	CountModules(ctx context.Context) (int, error)
}

// TableStore persists dynamic table metadata.
type TableStore interface {
	CreateTable(ctx context.Context, tbl module.Table) (module.Table, error)
	GetTable(ctx context.Context, id string) (module.Table, error)
	GetTableByName(ctx context.Context, moduleID, name string) (module.Table, error)
	ListTables(ctx context.Context, moduleID string) ([]module.Table, error)
	DeleteTable(ctx context.Context, id string) error
}

// StateStore persists module runtime state.
type StateStore interface {
	GetModuleState(ctx context.Context, moduleID string) (module.State, error)
	SaveModuleState(ctx context.Context, st module.State) (module.State, error)
	RecordModuleUsage(ctx context.Context, moduleID string) (module.State, error)
}

// RowQuery filters a dynamic table read. Where and OrderBy are SQL fragments
// without their keywords; Where uses ? placeholders bound to Params. An empty
// Columns slice selects every column.
type RowQuery struct {
	Columns []string
	Where   string
	Params  []interface{}
	OrderBy string
	Limit   int
}

// DataStore manages the physical tables behind module schemas and the rows
// stored in them. Implementations sanitize identifiers before they reach SQL
// text; row values always travel as bind parameters.
type DataStore interface {
	CreateDynamicTable(ctx context.Context, physicalName string, fields []module.Field, foreignKeys []module.ForeignKey) error
	DropDynamicTable(ctx context.Context, physicalName string) error
	InsertRow(ctx context.Context, physicalName string, data map[string]interface{}) (int64, error)
	QueryRows(ctx context.Context, physicalName string, q RowQuery) ([]map[string]interface{}, error)
	UpdateRows(ctx context.Context, physicalName string, data map[string]interface{}, where string, params []interface{}) (int64, error)
	DeleteRows(ctx context.Context, physicalName string, where string, params []interface{}) (int64, error)
}

// TableInfo describes one physical table for diagnostics.
type TableInfo struct {
	Name     string   `json:"name"`
	Columns  []string `json:"columns"`
	RowCount int64    `json:"row_count"`
}

// Inspector reports the physical database layout for diagnostics. WriteCheck
// probes that the database accepts writes without leaving anything behind.
type Inspector interface {
	ListPhysicalTables(ctx context.Context) ([]TableInfo, error)
	WriteCheck(ctx context.Context) error
}
