package memory

import (
	"context"
	"testing"
	"time"

	"github.com/appforge-labs/appforge/internal/app/domain/conversation"
	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/internal/app/domain/user"
	"github.com/appforge-labs/appforge/internal/app/storage"
)

func TestUserUniqueness(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, user.User{Username: "ana", Email: "ana@example.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := store.CreateUser(ctx, user.User{Username: "ana", Email: "other@example.com"}); err == nil {
		t.Fatal("expected duplicate username error")
	}
	if _, err := store.CreateUser(ctx, user.User{Username: "other", Email: "ana@example.com"}); err == nil {
		t.Fatal("expected duplicate email error")
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, user.Session{
		UserID:    "u1",
		TokenHash: "hash",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := store.RevokeSession(ctx, sess.ID); err != nil {
		t.Fatalf("revoke session: %v", err)
	}
	got, err := store.GetSessionByTokenHash(ctx, "hash")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.RevokedAt == nil {
		t.Fatal("expected revoked session")
	}
	first := *got.RevokedAt

	// Revoking again keeps the original timestamp.
	if err := store.RevokeSession(ctx, sess.ID); err != nil {
		t.Fatalf("revoke session again: %v", err)
	}
	got, _ = store.GetSessionByTokenHash(ctx, "hash")
	if !got.RevokedAt.Equal(first) {
		t.Fatal("expected revoke to be idempotent")
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now()

	store.CreateSession(ctx, user.Session{TokenHash: "old", ExpiresAt: now.Add(-time.Hour)})
	store.CreateSession(ctx, user.Session{TokenHash: "live", ExpiresAt: now.Add(time.Hour)})

	removed, err := store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := store.GetSessionByTokenHash(ctx, "live"); err != nil {
		t.Fatalf("live session should remain: %v", err)
	}
}

func TestListModulesOrdersByRecency(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, _ := store.CreateModule(ctx, module.Module{UserID: "u1", Name: "First"})
	store.CreateModule(ctx, module.Module{UserID: "u1", Name: "Second"})

	first.Description = "touched"
	if _, err := store.UpdateModule(ctx, first); err != nil {
		t.Fatalf("update module: %v", err)
	}

	mods, err := store.ListModules(ctx, "u1")
	if err != nil {
		t.Fatalf("list modules: %v", err)
	}
	if len(mods) != 2 || mods[0].Name != "First" {
		t.Fatalf("expected most recently updated first, got %v", mods)
	}
}

func TestDeleteModuleCascades(t *testing.T) {
	store := New()
	ctx := context.Background()

	mod, _ := store.CreateModule(ctx, module.Module{UserID: "u1", Name: "Inventory"})
	tbl, _ := store.CreateTable(ctx, module.Table{ModuleID: mod.ID, Name: "products", PhysicalName: "mod_x_products"})
	store.RecordModuleUsage(ctx, mod.ID)

	if err := store.DeleteModule(ctx, mod.ID); err != nil {
		t.Fatalf("delete module: %v", err)
	}
	if _, err := store.GetTable(ctx, tbl.ID); err == nil {
		t.Fatal("expected table to be removed with module")
	}
	if _, err := store.GetModuleState(ctx, mod.ID); err == nil {
		t.Fatal("expected state to be removed with module")
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	store := New()
	ctx := context.Background()

	conv, _ := store.CreateConversation(ctx, conversation.Conversation{UserID: "u1", Title: "Chat"})
	store.CreateMessage(ctx, conversation.Message{ConversationID: conv.ID, Role: conversation.RoleUser, Content: "hi"})

	if err := store.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	msgs, err := store.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}

func TestRecordModuleUsage(t *testing.T) {
	store := New()
	ctx := context.Background()

	st, err := store.RecordModuleUsage(ctx, "m1")
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if st.UsageCount != 1 || !st.IsActive {
		t.Fatalf("unexpected state %+v", st)
	}
	if st, _ = store.RecordModuleUsage(ctx, "m1"); st.UsageCount != 2 {
		t.Fatalf("expected usage count 2, got %d", st.UsageCount)
	}
}

func TestInsertRowMatchesColumns(t *testing.T) {
	store := New()
	ctx := context.Background()

	fields := []module.Field{{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "TEXT"}, {Name: "qty", Type: "INTEGER"}}
	if err := store.CreateDynamicTable(ctx, "mod_x_items", fields, nil); err != nil {
		t.Fatalf("create table: %v", err)
	}

	id, err := store.InsertRow(ctx, "mod_x_items", map[string]interface{}{"name": "widget", "qty": 3, "junk": true})
	if err != nil {
		t.Fatalf("insert row: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}

	rows, err := store.QueryRows(ctx, "mod_x_items", storage.RowQuery{Where: "id = ?", Params: []interface{}{id}})
	if err != nil {
		t.Fatalf("query rows: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"] != "widget" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if _, has := rows[0]["junk"]; has {
		t.Fatal("unknown key should have been dropped")
	}
}

func TestInsertRowPositionalFallback(t *testing.T) {
	store := New()
	ctx := context.Background()

	fields := []module.Field{{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "TEXT"}, {Name: "qty", Type: "INTEGER"}}
	store.CreateDynamicTable(ctx, "mod_x_items", fields, nil)

	// No key matches, so sorted values land on name then qty.
	id, err := store.InsertRow(ctx, "mod_x_items", map[string]interface{}{"a_label": "gadget", "b_count": 7})
	if err != nil {
		t.Fatalf("insert row: %v", err)
	}

	rows, _ := store.QueryRows(ctx, "mod_x_items", storage.RowQuery{Where: "id = ?", Params: []interface{}{id}})
	if rows[0]["name"] != "gadget" || rows[0]["qty"] != 7 {
		t.Fatalf("unexpected positional mapping %v", rows[0])
	}
}

func TestInsertRowNoMapping(t *testing.T) {
	store := New()
	ctx := context.Background()

	fields := []module.Field{{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "TEXT"}}
	store.CreateDynamicTable(ctx, "mod_x_items", fields, nil)

	if _, err := store.InsertRow(ctx, "mod_x_items", map[string]interface{}{"x": 1, "y": 2, "z": 3}); err == nil {
		t.Fatal("expected mapping error")
	}
}

func TestQueryRowsOrderLimitAndProjection(t *testing.T) {
	store := New()
	ctx := context.Background()

	fields := []module.Field{{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "TEXT"}, {Name: "qty", Type: "INTEGER"}}
	store.CreateDynamicTable(ctx, "mod_x_items", fields, nil)
	store.InsertRow(ctx, "mod_x_items", map[string]interface{}{"name": "banana", "qty": 1})
	store.InsertRow(ctx, "mod_x_items", map[string]interface{}{"name": "apple", "qty": 2})
	store.InsertRow(ctx, "mod_x_items", map[string]interface{}{"name": "cherry", "qty": 3})

	rows, err := store.QueryRows(ctx, "mod_x_items", storage.RowQuery{
		Columns: []string{"name"},
		OrderBy: "name DESC",
		Limit:   2,
	})
	if err != nil {
		t.Fatalf("query rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0]["name"] != "cherry" || rows[1]["name"] != "banana" {
		t.Fatalf("unexpected order %v", rows)
	}
	if _, has := rows[0]["qty"]; has {
		t.Fatal("projection should drop qty")
	}
}

func TestQueryRowsRejectsArbitraryWhere(t *testing.T) {
	store := New()
	ctx := context.Background()

	store.CreateDynamicTable(ctx, "mod_x_items", []module.Field{{Name: "id", Type: "INTEGER"}}, nil)

	if _, err := store.QueryRows(ctx, "mod_x_items", storage.RowQuery{Where: "name LIKE ?"}); err == nil {
		t.Fatal("expected unsupported where error")
	}
}

func TestUpdateAndDeleteRows(t *testing.T) {
	store := New()
	ctx := context.Background()

	fields := []module.Field{{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "TEXT"}}
	store.CreateDynamicTable(ctx, "mod_x_items", fields, nil)
	id, _ := store.InsertRow(ctx, "mod_x_items", map[string]interface{}{"name": "before"})

	affected, err := store.UpdateRows(ctx, "mod_x_items", map[string]interface{}{"name": "after"}, "id = ?", []interface{}{id})
	if err != nil || affected != 1 {
		t.Fatalf("update rows: affected %d, err %v", affected, err)
	}
	rows, _ := store.QueryRows(ctx, "mod_x_items", storage.RowQuery{Where: "id = ?", Params: []interface{}{id}})
	if rows[0]["name"] != "after" {
		t.Fatalf("update not applied: %v", rows[0])
	}

	if _, err := store.UpdateRows(ctx, "mod_x_items", map[string]interface{}{"name": "x"}, "", nil); err == nil {
		t.Fatal("expected error for empty where on update")
	}
	if _, err := store.DeleteRows(ctx, "mod_x_items", "", nil); err == nil {
		t.Fatal("expected error for empty where on delete")
	}

	affected, err = store.DeleteRows(ctx, "mod_x_items", "id = ?", []interface{}{id})
	if err != nil || affected != 1 {
		t.Fatalf("delete rows: affected %d, err %v", affected, err)
	}
	rows, _ = store.QueryRows(ctx, "mod_x_items", storage.RowQuery{})
	if len(rows) != 0 {
		t.Fatalf("expected empty table, got %v", rows)
	}
}

func TestListPhysicalTables(t *testing.T) {
	store := New()
	ctx := context.Background()

	store.CreateDynamicTable(ctx, "mod_x_b", []module.Field{{Name: "id", Type: "INTEGER"}}, nil)
	store.CreateDynamicTable(ctx, "mod_x_a", []module.Field{{Name: "id", Type: "INTEGER"}, {Name: "name", Type: "TEXT"}}, nil)
	store.InsertRow(ctx, "mod_x_a", map[string]interface{}{"name": "one"})

	tables, err := store.ListPhysicalTables(ctx)
	if err != nil {
		t.Fatalf("list physical tables: %v", err)
	}
	if len(tables) != 2 || tables[0].Name != "mod_x_a" || tables[1].Name != "mod_x_b" {
		t.Fatalf("unexpected tables %v", tables)
	}
	if tables[0].RowCount != 1 {
		t.Fatalf("expected row count 1, got %d", tables[0].RowCount)
	}
}
