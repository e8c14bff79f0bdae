package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/appforge-labs/appforge/internal/app/domain/conversation"
	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/internal/app/domain/user"
	"github.com/appforge-labs/appforge/internal/app/storage"
	"github.com/appforge-labs/appforge/pkg/logger"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db  *sqlx.DB
	log *logger.Logger
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.APIKeyStore = (*Store)(nil)
var _ storage.ConversationStore = (*Store)(nil)
var _ storage.MessageStore = (*Store)(nil)
var _ storage.ModuleStore = (*Store)(nil)
var _ storage.TableStore = (*Store)(nil)
var _ storage.StateStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("storage")
	}
	return &Store{db: db, log: log}
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}

	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET username = $2, email = $3, password_hash = $4, updated_at = $5
		WHERE id = $1
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return s.getUser(ctx, `WHERE email = $1`, email)
}

func (s *Store) getUser(ctx context.Context, clause string, arg interface{}) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM users
	`+clause, arg)

	var u user.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM users WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- SessionStore -----------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess user.Session) (user.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, expires_at, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, sess.ID, sess.UserID, sess.TokenHash, sess.ExpiresAt, sess.CreatedAt, toNullTime(sess.RevokedAt))
	if err != nil {
		return user.Session{}, err
	}
	return sess, nil
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (user.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, expires_at, created_at, revoked_at
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)

	var (
		sess      user.Session
		revokedAt sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.ExpiresAt, &sess.CreatedAt, &revokedAt); err != nil {
		return user.Session{}, err
	}
	sess.RevokedAt = fromNullTime(revokedAt)
	return sess, nil
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	return int(rows), err
}

// --- APIKeyStore ------------------------------------------------------------

func (s *Store) CreateAPIKey(ctx context.Context, key user.APIKey) (user.APIKey, error) {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	key.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, name, key_hash, created_at, last_used_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, key.ID, key.UserID, key.Name, key.KeyHash, key.CreatedAt, toNullTime(key.LastUsedAt), toNullTime(key.RevokedAt))
	if err != nil {
		return user.APIKey{}, err
	}
	return key, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, keyHash string) (user.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, key_hash, created_at, last_used_at, revoked_at
		FROM api_keys
		WHERE key_hash = $1
	`, keyHash)

	var (
		key        user.APIKey
		lastUsedAt sql.NullTime
		revokedAt  sql.NullTime
	)
	if err := row.Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &key.CreatedAt, &lastUsedAt, &revokedAt); err != nil {
		return user.APIKey{}, err
	}
	key.LastUsedAt = fromNullTime(lastUsedAt)
	key.RevokedAt = fromNullTime(revokedAt)
	return key, nil
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]user.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, key_hash, created_at, last_used_at, revoked_at
		FROM api_keys
		WHERE $1 = '' OR user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []user.APIKey
	for rows.Next() {
		var (
			key        user.APIKey
			lastUsedAt sql.NullTime
			revokedAt  sql.NullTime
		)
		if err := rows.Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &key.CreatedAt, &lastUsedAt, &revokedAt); err != nil {
			return nil, err
		}
		key.LastUsedAt = fromNullTime(lastUsedAt)
		key.RevokedAt = fromNullTime(revokedAt)
		result = append(result, key)
	}
	return result, rows.Err()
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET last_used_at = $2
		WHERE id = $1
	`, id, usedAt.UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- ConversationStore ------------------------------------------------------

func (s *Store) CreateConversation(ctx context.Context, conv conversation.Conversation) (conversation.Conversation, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	contextJSON, err := json.Marshal(conv.Context)
	if err != nil {
		return conversation.Conversation{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, is_active, module_id, context, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, conv.ID, conv.UserID, conv.Title, conv.IsActive, toNullString(conv.ModuleID), contextJSON, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return conversation.Conversation{}, err
	}
	return conv, nil
}

func (s *Store) UpdateConversation(ctx context.Context, conv conversation.Conversation) (conversation.Conversation, error) {
	existing, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		return conversation.Conversation{}, err
	}

	conv.UserID = existing.UserID
	conv.CreatedAt = existing.CreatedAt
	conv.UpdatedAt = time.Now().UTC()

	contextJSON, err := json.Marshal(conv.Context)
	if err != nil {
		return conversation.Conversation{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET title = $2, is_active = $3, module_id = $4, context = $5, updated_at = $6
		WHERE id = $1
	`, conv.ID, conv.Title, conv.IsActive, toNullString(conv.ModuleID), contextJSON, conv.UpdatedAt)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return conversation.Conversation{}, sql.ErrNoRows
	}
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (conversation.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, is_active, module_id, context, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`, id)

	conv, err := scanConversation(row)
	if err != nil {
		return conversation.Conversation{}, err
	}
	return conv, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]conversation.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, is_active, module_id, context, created_at, updated_at
		FROM conversations
		WHERE $1 = '' OR user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []conversation.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, conv)
	}
	return result, rows.Err()
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) CountConversations(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (conversation.Conversation, error) {
	var (
		conv       conversation.Conversation
		moduleID   sql.NullString
		contextRaw []byte
	)
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.IsActive, &moduleID, &contextRaw, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return conversation.Conversation{}, err
	}
	conv.ModuleID = moduleID.String
	if len(contextRaw) > 0 {
		_ = json.Unmarshal(contextRaw, &conv.Context)
	}
	return conv, nil
}

// --- MessageStore -----------------------------------------------------------

func (s *Store) CreateMessage(ctx context.Context, msg conversation.Message) (conversation.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = time.Now().UTC()

	actionsJSON, err := json.Marshal(msg.Actions)
	if err != nil {
		return conversation.Message{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, actions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ConversationID, msg.Role, msg.Content, actionsJSON, msg.CreatedAt)
	if err != nil {
		return conversation.Message{}, err
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, actions, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []conversation.Message
	for rows.Next() {
		var (
			msg        conversation.Message
			actionsRaw []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &actionsRaw, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if len(actionsRaw) > 0 {
			_ = json.Unmarshal(actionsRaw, &msg.Actions)
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

// --- ModuleStore ------------------------------------------------------------

func (s *Store) CreateModule(ctx context.Context, mod module.Module) (module.Module, error) {
	if mod.ID == "" {
		mod.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	mod.CreatedAt = now
	mod.UpdatedAt = now

	schemaJSON, configJSON, uiJSON, err := marshalModuleJSON(mod)
	if err != nil {
		return module.Module{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO modules (id, user_id, name, description, module_type, has_gui, schema, config, ui_definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, mod.ID, mod.UserID, mod.Name, mod.Description, mod.ModuleType, mod.HasGUI, schemaJSON, configJSON, uiJSON, mod.CreatedAt, mod.UpdatedAt)
	if err != nil {
		return module.Module{}, err
	}
	return mod, nil
}

func (s *Store) UpdateModule(ctx context.Context, mod module.Module) (module.Module, error) {
	existing, err := s.GetModule(ctx, mod.ID)
	if err != nil {
		return module.Module{}, err
	}

	mod.UserID = existing.UserID
	mod.CreatedAt = existing.CreatedAt
	mod.UpdatedAt = time.Now().UTC()

	schemaJSON, configJSON, uiJSON, err := marshalModuleJSON(mod)
	if err != nil {
		return module.Module{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE modules
		SET name = $2, description = $3, module_type = $4, has_gui = $5, schema = $6, config = $7, ui_definition = $8, updated_at = $9
		WHERE id = $1
	`, mod.ID, mod.Name, mod.Description, mod.ModuleType, mod.HasGUI, schemaJSON, configJSON, uiJSON, mod.UpdatedAt)
	if err != nil {
		return module.Module{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return module.Module{}, sql.ErrNoRows
	}
	return mod, nil
}

func (s *Store) GetModule(ctx context.Context, id string) (module.Module, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, module_type, has_gui, schema, config, ui_definition, created_at, updated_at
		FROM modules
		WHERE id = $1
	`, id)
	return scanModule(row)
}

func (s *Store) GetModuleByName(ctx context.Context, userID, name string) (module.Module, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, module_type, has_gui, schema, config, ui_definition, created_at, updated_at
		FROM modules
		WHERE user_id = $1 AND name = $2
	`, userID, name)
	return scanModule(row)
}

func (s *Store) ListModules(ctx context.Context, userID string) ([]module.Module, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, module_type, has_gui, schema, config, ui_definition, created_at, updated_at
		FROM modules
		WHERE $1 = '' OR user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []module.Module
	for rows.Next() {
		mod, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, mod)
	}
	return result, rows.Err()
}

func (s *Store) DeleteModule(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM modules WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) CountModules(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM modules`).Scan(&count)
	return count, err
}

func marshalModuleJSON(mod module.Module) ([]byte, []byte, []byte, error) {
	schemaJSON, err := json.Marshal(mod.Schema)
	if err != nil {
		return nil, nil, nil, err
	}
	configJSON, err := json.Marshal(mod.Config)
	if err != nil {
		return nil, nil, nil, err
	}
	uiJSON, err := json.Marshal(mod.UIDefinition)
	if err != nil {
		return nil, nil, nil, err
	}
	return schemaJSON, configJSON, uiJSON, nil
}

func scanModule(row rowScanner) (module.Module, error) {
	var (
		mod       module.Module
		schemaRaw []byte
		configRaw []byte
		uiRaw     []byte
	)
	if err := row.Scan(&mod.ID, &mod.UserID, &mod.Name, &mod.Description, &mod.ModuleType, &mod.HasGUI, &schemaRaw, &configRaw, &uiRaw, &mod.CreatedAt, &mod.UpdatedAt); err != nil {
		return module.Module{}, err
	}
	if len(schemaRaw) > 0 {
		_ = json.Unmarshal(schemaRaw, &mod.Schema)
	}
	if len(configRaw) > 0 {
		_ = json.Unmarshal(configRaw, &mod.Config)
	}
	if len(uiRaw) > 0 {
		_ = json.Unmarshal(uiRaw, &mod.UIDefinition)
	}
	return mod, nil
}

// --- TableStore -------------------------------------------------------------

func (s *Store) CreateTable(ctx context.Context, tbl module.Table) (module.Table, error) {
	if tbl.ID == "" {
		tbl.ID = uuid.NewString()
	}
	tbl.CreatedAt = time.Now().UTC()

	fieldsJSON, err := json.Marshal(tbl.Fields)
	if err != nil {
		return module.Table{}, err
	}
	fksJSON, err := json.Marshal(tbl.ForeignKeys)
	if err != nil {
		return module.Table{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO module_tables (id, module_id, name, description, physical_name, fields, foreign_keys, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tbl.ID, tbl.ModuleID, tbl.Name, tbl.Description, tbl.PhysicalName, fieldsJSON, fksJSON, tbl.CreatedAt)
	if err != nil {
		return module.Table{}, err
	}
	return tbl, nil
}

func (s *Store) GetTable(ctx context.Context, id string) (module.Table, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, module_id, name, description, physical_name, fields, foreign_keys, created_at
		FROM module_tables
		WHERE id = $1
	`, id)
	return scanTable(row)
}

func (s *Store) GetTableByName(ctx context.Context, moduleID, name string) (module.Table, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, module_id, name, description, physical_name, fields, foreign_keys, created_at
		FROM module_tables
		WHERE module_id = $1 AND name = $2
	`, moduleID, name)
	return scanTable(row)
}

func (s *Store) ListTables(ctx context.Context, moduleID string) ([]module.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, module_id, name, description, physical_name, fields, foreign_keys, created_at
		FROM module_tables
		WHERE $1 = '' OR module_id = $1
		ORDER BY created_at
	`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []module.Table
	for rows.Next() {
		tbl, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tbl)
	}
	return result, rows.Err()
}

func (s *Store) DeleteTable(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM module_tables WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanTable(row rowScanner) (module.Table, error) {
	var (
		tbl       module.Table
		fieldsRaw []byte
		fksRaw    []byte
	)
	if err := row.Scan(&tbl.ID, &tbl.ModuleID, &tbl.Name, &tbl.Description, &tbl.PhysicalName, &fieldsRaw, &fksRaw, &tbl.CreatedAt); err != nil {
		return module.Table{}, err
	}
	if len(fieldsRaw) > 0 {
		_ = json.Unmarshal(fieldsRaw, &tbl.Fields)
	}
	if len(fksRaw) > 0 {
		_ = json.Unmarshal(fksRaw, &tbl.ForeignKeys)
	}
	return tbl, nil
}

// --- StateStore -------------------------------------------------------------

func (s *Store) GetModuleState(ctx context.Context, moduleID string) (module.State, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT module_id, is_active, last_accessed, usage_count, state_data
		FROM module_states
		WHERE module_id = $1
	`, moduleID)
	return scanState(row)
}

func (s *Store) SaveModuleState(ctx context.Context, st module.State) (module.State, error) {
	if st.LastAccessed.IsZero() {
		st.LastAccessed = time.Now().UTC()
	}
	stateJSON, err := json.Marshal(st.StateData)
	if err != nil {
		return module.State{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO module_states (module_id, is_active, last_accessed, usage_count, state_data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (module_id) DO UPDATE
		SET is_active = EXCLUDED.is_active,
		    last_accessed = EXCLUDED.last_accessed,
		    usage_count = EXCLUDED.usage_count,
		    state_data = EXCLUDED.state_data
	`, st.ModuleID, st.IsActive, st.LastAccessed, st.UsageCount, stateJSON)
	if err != nil {
		return module.State{}, err
	}
	return st, nil
}

func (s *Store) RecordModuleUsage(ctx context.Context, moduleID string) (module.State, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO module_states (module_id, is_active, last_accessed, usage_count, state_data)
		VALUES ($1, TRUE, $2, 1, '{}')
		ON CONFLICT (module_id) DO UPDATE
		SET usage_count = module_states.usage_count + 1,
		    last_accessed = EXCLUDED.last_accessed,
		    is_active = TRUE
		RETURNING module_id, is_active, last_accessed, usage_count, state_data
	`, moduleID, time.Now().UTC())
	return scanState(row)
}

func scanState(row rowScanner) (module.State, error) {
	var (
		st       module.State
		stateRaw []byte
	)
	if err := row.Scan(&st.ModuleID, &st.IsActive, &st.LastAccessed, &st.UsageCount, &stateRaw); err != nil {
		return module.State{}, err
	}
	if len(stateRaw) > 0 {
		_ = json.Unmarshal(stateRaw, &st.StateData)
	}
	return st, nil
}

// --- helpers ----------------------------------------------------------------

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
