package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/appforge-labs/appforge/internal/app/domain/conversation"
	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/internal/app/domain/user"
	"github.com/appforge-labs/appforge/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu              sync.RWMutex
	nextID          int64
	users           map[string]user.User
	sessions        map[string]user.Session
	apiKeys         map[string]user.APIKey
	conversations   map[string]conversation.Conversation
	messages        map[string][]conversation.Message
	modules         map[string]module.Module
	tables          map[string]module.Table
	states          map[string]module.State
	dynamicTables   map[string]*dynamicTable
	dynamicTableSeq map[string]int64
}

type dynamicTable struct {
	columns []string
	rows    []map[string]interface{}
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.APIKeyStore = (*Store)(nil)
var _ storage.ConversationStore = (*Store)(nil)
var _ storage.MessageStore = (*Store)(nil)
var _ storage.ModuleStore = (*Store)(nil)
var _ storage.TableStore = (*Store)(nil)
var _ storage.StateStore = (*Store)(nil)
var _ storage.DataStore = (*Store)(nil)
var _ storage.Inspector = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:          1,
		users:           make(map[string]user.User),
		sessions:        make(map[string]user.Session),
		apiKeys:         make(map[string]user.APIKey),
		conversations:   make(map[string]conversation.Conversation),
		messages:        make(map[string][]conversation.Message),
		modules:         make(map[string]module.Module),
		tables:          make(map[string]module.Table),
		states:          make(map[string]module.State),
		dynamicTables:   make(map[string]*dynamicTable),
		dynamicTableSeq: make(map[string]int64),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %s already exists", u.ID)
	}
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return user.User{}, fmt.Errorf("username %s already taken", u.Username)
		}
		if existing.Email == u.Email {
			return user.User{}, fmt.Errorf("email %s already registered", u.Email)
		}
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s not found", u.ID)
	}

	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s not found", id)
	}
	return u, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return user.User{}, fmt.Errorf("user %s not found", username)
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, fmt.Errorf("user with email %s not found", email)
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s not found", id)
	}
	delete(s.users, id)
	return nil
}

// SessionStore implementation -------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess user.Session) (user.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = s.nextIDLocked()
	} else if _, exists := s.sessions[sess.ID]; exists {
		return user.Session{}, fmt.Errorf("session %s already exists", sess.ID)
	}

	sess.CreatedAt = time.Now().UTC()
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) GetSessionByTokenHash(_ context.Context, tokenHash string) (user.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sess := range s.sessions {
		if sess.TokenHash == tokenHash {
			return sess, nil
		}
	}
	return user.Session{}, fmt.Errorf("session not found")
}

func (s *Store) RevokeSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	if sess.RevokedAt == nil {
		now := time.Now().UTC()
		sess.RevokedAt = &now
		s.sessions[id] = sess
	}
	return nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// APIKeyStore implementation --------------------------------------------------

func (s *Store) CreateAPIKey(_ context.Context, key user.APIKey) (user.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.ID == "" {
		key.ID = s.nextIDLocked()
	} else if _, exists := s.apiKeys[key.ID]; exists {
		return user.APIKey{}, fmt.Errorf("api key %s already exists", key.ID)
	}

	key.CreatedAt = time.Now().UTC()
	s.apiKeys[key.ID] = key
	return key, nil
}

func (s *Store) GetAPIKeyByHash(_ context.Context, keyHash string) (user.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.apiKeys {
		if key.KeyHash == keyHash {
			return key, nil
		}
	}
	return user.APIKey{}, fmt.Errorf("api key not found")
}

func (s *Store) ListAPIKeys(_ context.Context, userID string) ([]user.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.APIKey, 0)
	for _, key := range s.apiKeys {
		if userID == "" || key.UserID == userID {
			result = append(result, key)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) RevokeAPIKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return fmt.Errorf("api key %s not found", id)
	}
	if key.RevokedAt == nil {
		now := time.Now().UTC()
		key.RevokedAt = &now
		s.apiKeys[id] = key
	}
	return nil
}

func (s *Store) TouchAPIKey(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return fmt.Errorf("api key %s not found", id)
	}
	used := usedAt.UTC()
	key.LastUsedAt = &used
	s.apiKeys[id] = key
	return nil
}

// ConversationStore implementation --------------------------------------------

func (s *Store) CreateConversation(_ context.Context, conv conversation.Conversation) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ID == "" {
		conv.ID = s.nextIDLocked()
	} else if _, exists := s.conversations[conv.ID]; exists {
		return conversation.Conversation{}, fmt.Errorf("conversation %s already exists", conv.ID)
	}

	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *Store) UpdateConversation(_ context.Context, conv conversation.Conversation) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.conversations[conv.ID]
	if !ok {
		return conversation.Conversation{}, fmt.Errorf("conversation %s not found", conv.ID)
	}

	conv.CreatedAt = original.CreatedAt
	conv.UpdatedAt = time.Now().UTC()

	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *Store) GetConversation(_ context.Context, id string) (conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return conversation.Conversation{}, fmt.Errorf("conversation %s not found", id)
	}
	return conv, nil
}

func (s *Store) ListConversations(_ context.Context, userID string) ([]conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]conversation.Conversation, 0)
	for _, conv := range s.conversations {
		if userID == "" || conv.UserID == userID {
			result = append(result, conv)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	return result, nil
}

func (s *Store) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) CountConversations(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations), nil
}

// MessageStore implementation -------------------------------------------------

func (s *Store) CreateMessage(_ context.Context, msg conversation.Message) (conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = s.nextIDLocked()
	}
	msg.CreatedAt = time.Now().UTC()
	msg.Actions = append([]conversation.Action(nil), msg.Actions...)

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	return msg, nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string) ([]conversation.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]conversation.Message(nil), s.messages[conversationID]...), nil
}

// ModuleStore implementation --------------------------------------------------

func (s *Store) CreateModule(_ context.Context, mod module.Module) (module.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mod.ID == "" {
		mod.ID = s.nextIDLocked()
	} else if _, exists := s.modules[mod.ID]; exists {
		return module.Module{}, fmt.Errorf("module %s already exists", mod.ID)
	}

	now := time.Now().UTC()
	mod.CreatedAt = now
	mod.UpdatedAt = now
	mod.Schema = cloneSchema(mod.Schema)
	mod.Config = cloneValues(mod.Config)

	s.modules[mod.ID] = mod
	return cloneModule(mod), nil
}

func (s *Store) UpdateModule(_ context.Context, mod module.Module) (module.Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.modules[mod.ID]
	if !ok {
		return module.Module{}, fmt.Errorf("module %s not found", mod.ID)
	}

	mod.CreatedAt = original.CreatedAt
	mod.UpdatedAt = time.Now().UTC()
	mod.Schema = cloneSchema(mod.Schema)
	mod.Config = cloneValues(mod.Config)

	s.modules[mod.ID] = mod
	return cloneModule(mod), nil
}

func (s *Store) GetModule(_ context.Context, id string) (module.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mod, ok := s.modules[id]
	if !ok {
		return module.Module{}, fmt.Errorf("module %s not found", id)
	}
	return cloneModule(mod), nil
}

func (s *Store) GetModuleByName(_ context.Context, userID, name string) (module.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, mod := range s.modules {
		if mod.UserID == userID && mod.Name == name {
			return cloneModule(mod), nil
		}
	}
	return module.Module{}, fmt.Errorf("module %s not found", name)
}

func (s *Store) ListModules(_ context.Context, userID string) ([]module.Module, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]module.Module, 0)
	for _, mod := range s.modules {
		if userID == "" || mod.UserID == userID {
			result = append(result, cloneModule(mod))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UpdatedAt.After(result[j].UpdatedAt) })
	return result, nil
}

func (s *Store) DeleteModule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[id]; !ok {
		return fmt.Errorf("module %s not found", id)
	}
	delete(s.modules, id)
	delete(s.states, id)
	for tblID, tbl := range s.tables {
		if tbl.ModuleID == id {
			delete(s.tables, tblID)
		}
	}
	return nil
}

func (s *Store) CountModules(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.modules), nil
}

// TableStore implementation ---------------------------------------------------

func (s *Store) CreateTable(_ context.Context, tbl module.Table) (module.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tbl.ID == "" {
		tbl.ID = s.nextIDLocked()
	} else if _, exists := s.tables[tbl.ID]; exists {
		return module.Table{}, fmt.Errorf("table %s already exists", tbl.ID)
	}

	tbl.CreatedAt = time.Now().UTC()
	tbl.Fields = append([]module.Field(nil), tbl.Fields...)
	tbl.ForeignKeys = append([]module.ForeignKey(nil), tbl.ForeignKeys...)

	s.tables[tbl.ID] = tbl
	return cloneTable(tbl), nil
}

func (s *Store) GetTable(_ context.Context, id string) (module.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tbl, ok := s.tables[id]
	if !ok {
		return module.Table{}, fmt.Errorf("table %s not found", id)
	}
	return cloneTable(tbl), nil
}

func (s *Store) GetTableByName(_ context.Context, moduleID, name string) (module.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tbl := range s.tables {
		if tbl.ModuleID == moduleID && tbl.Name == name {
			return cloneTable(tbl), nil
		}
	}
	return module.Table{}, fmt.Errorf("table %s not found", name)
}

func (s *Store) ListTables(_ context.Context, moduleID string) ([]module.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]module.Table, 0)
	for _, tbl := range s.tables {
		if moduleID == "" || tbl.ModuleID == moduleID {
			result = append(result, cloneTable(tbl))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteTable(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[id]; !ok {
		return fmt.Errorf("table %s not found", id)
	}
	delete(s.tables, id)
	return nil
}

// StateStore implementation ---------------------------------------------------

func (s *Store) GetModuleState(_ context.Context, moduleID string) (module.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[moduleID]
	if !ok {
		return module.State{}, fmt.Errorf("state for module %s not found", moduleID)
	}
	return cloneState(st), nil
}

func (s *Store) SaveModuleState(_ context.Context, st module.State) (module.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.StateData = cloneValues(st.StateData)
	s.states[st.ModuleID] = st
	return cloneState(st), nil
}

func (s *Store) RecordModuleUsage(_ context.Context, moduleID string) (module.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.states[moduleID]
	st.ModuleID = moduleID
	st.IsActive = true
	st.UsageCount++
	st.LastAccessed = time.Now().UTC()
	s.states[moduleID] = st
	return cloneState(st), nil
}

// DataStore implementation ----------------------------------------------------
//
// The in-memory data plane supports the subset of SQL the platform itself
// generates: an empty where clause or exactly "id = ?". OrderBy is honoured
// for a bare column name with an optional DESC suffix.

func (s *Store) CreateDynamicTable(_ context.Context, physicalName string, fields []module.Field, _ []module.ForeignKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dynamicTables[physicalName]; exists {
		return nil
	}
	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		columns = append(columns, f.Name)
	}
	s.dynamicTables[physicalName] = &dynamicTable{columns: columns}
	return nil
}

func (s *Store) DropDynamicTable(_ context.Context, physicalName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.dynamicTables, physicalName)
	delete(s.dynamicTableSeq, physicalName)
	return nil
}

func (s *Store) InsertRow(_ context.Context, physicalName string, data map[string]interface{}) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tbl, ok := s.dynamicTables[physicalName]
	if !ok {
		return 0, fmt.Errorf("table %s not found", physicalName)
	}

	insertable := make([]string, 0, len(tbl.columns))
	for _, col := range tbl.columns {
		if col != "id" {
			insertable = append(insertable, col)
		}
	}

	valid := make(map[string]interface{})
	for col, val := range data {
		if containsString(insertable, col) {
			valid[col] = val
		}
	}
	if len(valid) == 0 && len(data) <= len(insertable) {
		keys := make([]string, 0, len(data))
		for k := range data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			valid[insertable[i]] = data[k]
		}
	}
	if len(valid) == 0 {
		return 0, fmt.Errorf("no valid column mapping for table %s", physicalName)
	}

	s.dynamicTableSeq[physicalName]++
	id := s.dynamicTableSeq[physicalName]
	valid["id"] = id
	if containsString(tbl.columns, "created_at") {
		if _, set := valid["created_at"]; !set {
			valid["created_at"] = time.Now().UTC()
		}
	}
	tbl.rows = append(tbl.rows, valid)
	return id, nil
}

func (s *Store) QueryRows(_ context.Context, physicalName string, q storage.RowQuery) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tbl, ok := s.dynamicTables[physicalName]
	if !ok {
		return nil, fmt.Errorf("table %s not found", physicalName)
	}

	matched, err := matchRows(tbl.rows, q.Where, q.Params)
	if err != nil {
		return nil, err
	}

	result := make([]map[string]interface{}, 0, len(matched))
	for _, row := range matched {
		result = append(result, cloneValues(row))
	}
	applyOrder(result, q.OrderBy)
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	if len(q.Columns) > 0 {
		for i, row := range result {
			trimmed := make(map[string]interface{}, len(q.Columns))
			for _, col := range q.Columns {
				if val, has := row[col]; has {
					trimmed[col] = val
				}
			}
			result[i] = trimmed
		}
	}
	return result, nil
}

func (s *Store) UpdateRows(_ context.Context, physicalName string, data map[string]interface{}, where string, params []interface{}) (int64, error) {
	if strings.TrimSpace(where) == "" {
		return 0, fmt.Errorf("update on %s requires a where clause", physicalName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tbl, ok := s.dynamicTables[physicalName]
	if !ok {
		return 0, fmt.Errorf("table %s not found", physicalName)
	}

	matched, err := matchRows(tbl.rows, where, params)
	if err != nil {
		return 0, err
	}
	for _, row := range matched {
		for col, val := range data {
			if containsString(tbl.columns, col) {
				row[col] = val
			}
		}
	}
	return int64(len(matched)), nil
}

func (s *Store) DeleteRows(_ context.Context, physicalName string, where string, params []interface{}) (int64, error) {
	if strings.TrimSpace(where) == "" {
		return 0, fmt.Errorf("delete on %s requires a where clause", physicalName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tbl, ok := s.dynamicTables[physicalName]
	if !ok {
		return 0, fmt.Errorf("table %s not found", physicalName)
	}

	matched, err := matchRows(tbl.rows, where, params)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}

	kept := make([]map[string]interface{}, 0, len(tbl.rows))
	for _, row := range tbl.rows {
		remove := false
		for _, m := range matched {
			if sameRow(row, m) {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, row)
		}
	}
	tbl.rows = kept
	return int64(len(matched)), nil
}

func (s *Store) ListPhysicalTables(_ context.Context) ([]storage.TableInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.dynamicTables))
	for name := range s.dynamicTables {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]storage.TableInfo, 0, len(names))
	for _, name := range names {
		tbl := s.dynamicTables[name]
		result = append(result, storage.TableInfo{
			Name:     name,
			Columns:  append([]string(nil), tbl.columns...),
			RowCount: int64(len(tbl.rows)),
		})
	}
	return result, nil
}

// WriteCheck always succeeds; the in-memory plane has no transactional
// failure modes to probe.
func (s *Store) WriteCheck(_ context.Context) error { return nil }

// Helpers ---------------------------------------------------------------------

func matchRows(rows []map[string]interface{}, where string, params []interface{}) ([]map[string]interface{}, error) {
	where = strings.TrimSpace(where)
	if where == "" {
		return rows, nil
	}
	if where == "id = ?" && len(params) == 1 {
		want := fmt.Sprintf("%v", params[0])
		var matched []map[string]interface{}
		for _, row := range rows {
			if fmt.Sprintf("%v", row["id"]) == want {
				matched = append(matched, row)
			}
		}
		return matched, nil
	}
	return nil, fmt.Errorf("unsupported where clause %q", where)
}

func applyOrder(rows []map[string]interface{}, orderBy string) {
	orderBy = strings.TrimSpace(orderBy)
	if orderBy == "" {
		return
	}
	fields := strings.Fields(orderBy)
	col := fields[0]
	desc := len(fields) > 1 && strings.EqualFold(fields[1], "DESC")
	sort.SliceStable(rows, func(i, j int) bool {
		a := fmt.Sprintf("%v", rows[i][col])
		b := fmt.Sprintf("%v", rows[j][col])
		if desc {
			return a > b
		}
		return a < b
	})
}

func sameRow(a, b map[string]interface{}) bool {
	return fmt.Sprintf("%v", a["id"]) == fmt.Sprintf("%v", b["id"])
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func cloneValues(src map[string]interface{}) map[string]interface{} {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneSchema(src module.Schema) module.Schema {
	if len(src) == 0 {
		return nil
	}
	dst := make(module.Schema, len(src))
	for name, spec := range src {
		fields := make(map[string]string, len(spec.Fields))
		for k, v := range spec.Fields {
			fields[k] = v
		}
		dst[name] = module.TableSpec{Fields: fields, Description: spec.Description}
	}
	return dst
}

func cloneModule(mod module.Module) module.Module {
	mod.Schema = cloneSchema(mod.Schema)
	mod.Config = cloneValues(mod.Config)
	if mod.UIDefinition != nil {
		def := *mod.UIDefinition
		def.Sections = append([]module.UISection(nil), def.Sections...)
		mod.UIDefinition = &def
	}
	return mod
}

func cloneTable(tbl module.Table) module.Table {
	tbl.Fields = append([]module.Field(nil), tbl.Fields...)
	tbl.ForeignKeys = append([]module.ForeignKey(nil), tbl.ForeignKeys...)
	return tbl
}

func cloneState(st module.State) module.State {
	st.StateData = cloneValues(st.StateData)
	return st
}
