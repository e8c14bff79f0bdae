package modules

import (
	"context"
	"errors"
	"testing"

	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/internal/app/storage"
	"github.com/appforge-labs/appforge/internal/app/storage/memory"
	apperrors "github.com/appforge-labs/appforge/internal/errors"
	"github.com/appforge-labs/appforge/internal/llm"
)

type failingClient struct{}

func (failingClient) Complete(context.Context, llm.Request) (string, error) {
	return "", errors.New("provider down")
}

func newTestService(store *memory.Store) *Service {
	return New(store, store, store, store, llm.NewAssistant(failingClient{}, nil), nil, nil)
}

func wantCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	svcErr := apperrors.GetServiceError(err)
	if svcErr == nil || svcErr.Code != code {
		t.Fatalf("expected %s error, got %v", code, err)
	}
}

func shopSchema() module.Schema {
	return module.Schema{
		"customer": {Fields: map[string]string{"name": "TEXT NOT NULL"}},
		"order":    {Fields: map[string]string{"customer_id": "INTEGER", "total": "REAL"}},
	}
}

func TestCreateModuleProvisionsTables(t *testing.T) {
	store := memory.New()
	svc := newTestService(store)
	ctx := context.Background()

	mod, created, err := svc.Create(ctx, "u1", CreateInput{Name: "Shop", Description: "order tracking", Schema: shopSchema()})
	if err != nil {
		t.Fatalf("create module: %v", err)
	}
	if mod.ModuleType != module.TypeCustom {
		t.Fatalf("expected default module type, got %q", mod.ModuleType)
	}
	if len(created) != 2 || created[0] != "customer" || created[1] != "order" {
		t.Fatalf("unexpected created tables: %v", created)
	}

	customer, err := store.GetTableByName(ctx, mod.ID, "customer")
	if err != nil {
		t.Fatalf("customer metadata missing: %v", err)
	}
	if customer.Description != "Table for customer" {
		t.Fatalf("unexpected description %q", customer.Description)
	}
	names := map[string]bool{}
	for _, f := range customer.Fields {
		names[f.Name] = true
	}
	if !names["id"] || !names["created_at"] || !names["name"] {
		t.Fatalf("expected standard fields injected, got %v", customer.Fields)
	}

	order, err := store.GetTableByName(ctx, mod.ID, "order")
	if err != nil {
		t.Fatalf("order metadata missing: %v", err)
	}
	if len(order.ForeignKeys) != 1 {
		t.Fatalf("expected one foreign key, got %v", order.ForeignKeys)
	}
	fk := order.ForeignKeys[0]
	if fk.Field != "customer_id" || fk.References != customer.PhysicalName {
		t.Fatalf("unexpected foreign key %+v", fk)
	}

	state, err := store.GetModuleState(ctx, mod.ID)
	if err != nil {
		t.Fatalf("module state missing: %v", err)
	}
	if !state.IsActive {
		t.Fatalf("expected initial state active")
	}
}

func TestCreateModuleKeepsUnresolvedReferenceAsColumn(t *testing.T) {
	store := memory.New()
	svc := newTestService(store)
	ctx := context.Background()

	schema := module.Schema{
		"tasks": {Fields: map[string]string{"title": "TEXT", "project_id": "INTEGER"}},
	}
	mod, _, err := svc.Create(ctx, "u1", CreateInput{Name: "Tracker", Schema: schema})
	if err != nil {
		t.Fatalf("create module: %v", err)
	}

	tasks, err := store.GetTableByName(ctx, mod.ID, "tasks")
	if err != nil {
		t.Fatalf("tasks metadata missing: %v", err)
	}
	if len(tasks.ForeignKeys) != 0 {
		t.Fatalf("expected no foreign keys, got %v", tasks.ForeignKeys)
	}
	var hasColumn bool
	for _, f := range tasks.Fields {
		if f.Name == "project_id" {
			hasColumn = true
		}
	}
	if !hasColumn {
		t.Fatalf("expected project_id kept as plain column, got %v", tasks.Fields)
	}
}

func TestCreateModuleRejectsDuplicateName(t *testing.T) {
	store := memory.New()
	svc := newTestService(store)
	ctx := context.Background()

	if _, _, err := svc.Create(ctx, "u1", CreateInput{Name: "Shop"}); err != nil {
		t.Fatalf("create module: %v", err)
	}
	_, _, err := svc.Create(ctx, "u1", CreateInput{Name: "Shop"})
	wantCode(t, err, apperrors.CodeConflict)

	// A different user may reuse the name.
	if _, _, err := svc.Create(ctx, "u2", CreateInput{Name: "Shop"}); err != nil {
		t.Fatalf("create module for second user: %v", err)
	}
}

func TestCreateModuleValidation(t *testing.T) {
	svc := newTestService(memory.New())
	ctx := context.Background()

	_, _, err := svc.Create(ctx, "u1", CreateInput{Name: "   "})
	wantCode(t, err, apperrors.CodeInvalidRequest)

	_, _, err = svc.Create(ctx, "u1", CreateInput{Name: "Shop", ModuleType: "widget"})
	wantCode(t, err, apperrors.CodeInvalidRequest)
}

func TestResolveFindsByIDAndName(t *testing.T) {
	svc := newTestService(memory.New())
	ctx := context.Background()

	mod, _, err := svc.Create(ctx, "u1", CreateInput{Name: "Inventory"})
	if err != nil {
		t.Fatalf("create module: %v", err)
	}

	byID, err := svc.Resolve(ctx, "u1", mod.ID)
	if err != nil || byID.ID != mod.ID {
		t.Fatalf("resolve by id: %v", err)
	}
	byName, err := svc.Resolve(ctx, "u1", "Inventory")
	if err != nil || byName.ID != mod.ID {
		t.Fatalf("resolve by name: %v", err)
	}

	_, err = svc.Resolve(ctx, "u1", "missing")
	wantCode(t, err, apperrors.CodeNotFound)

	// Another user's reference never resolves.
	_, err = svc.Resolve(ctx, "u2", mod.ID)
	wantCode(t, err, apperrors.CodeNotFound)
}

func TestUpdatePatchesFields(t *testing.T) {
	svc := newTestService(memory.New())
	ctx := context.Background()

	mod, _, err := svc.Create(ctx, "u1", CreateInput{Name: "Shop", Description: "old"})
	if err != nil {
		t.Fatalf("create module: %v", err)
	}
	other, _, err := svc.Create(ctx, "u1", CreateInput{Name: "Tracker"})
	if err != nil {
		t.Fatalf("create second module: %v", err)
	}

	name := "Storefront"
	desc := "new description"
	updated, err := svc.Update(ctx, "u1", mod.ID, UpdateInput{Name: &name, Description: &desc})
	if err != nil {
		t.Fatalf("update module: %v", err)
	}
	if updated.Name != "Storefront" || updated.Description != "new description" {
		t.Fatalf("patch not applied: %+v", updated)
	}

	taken := "Storefront"
	_, err = svc.Update(ctx, "u1", other.ID, UpdateInput{Name: &taken})
	wantCode(t, err, apperrors.CodeConflict)

	bad := "widget"
	_, err = svc.Update(ctx, "u1", mod.ID, UpdateInput{ModuleType: &bad})
	wantCode(t, err, apperrors.CodeInvalidRequest)
}

func TestGenerateUIStoresDefinition(t *testing.T) {
	svc := newTestService(memory.New())
	ctx := context.Background()

	mod, _, err := svc.Create(ctx, "u1", CreateInput{Name: "Shop", Schema: shopSchema()})
	if err != nil {
		t.Fatalf("create module: %v", err)
	}

	updated, err := svc.GenerateUI(ctx, "u1", mod.ID, "")
	if err != nil {
		t.Fatalf("generate ui: %v", err)
	}
	if !updated.HasGUI || updated.UIDefinition == nil || len(updated.UIDefinition.Sections) == 0 {
		t.Fatalf("expected stored ui definition, got %+v", updated.UIDefinition)
	}
}

func TestRecordLifecycle(t *testing.T) {
	store := memory.New()
	svc := newTestService(store)
	ctx := context.Background()

	mod, _, err := svc.Create(ctx, "u1", CreateInput{Name: "Shop", Schema: shopSchema()})
	if err != nil {
		t.Fatalf("create module: %v", err)
	}

	custID, err := svc.InsertRecord(ctx, "u1", mod.ID, "customer", map[string]interface{}{"name": "Ada"})
	if err != nil {
		t.Fatalf("insert customer: %v", err)
	}
	if custID == 0 {
		t.Fatalf("expected a row id")
	}

	// References a customer that exists and one that does not; both insert.
	if _, err := svc.InsertRecord(ctx, "u1", mod.ID, "order", map[string]interface{}{"customer_id": custID, "total": 9.5}); err != nil {
		t.Fatalf("insert order: %v", err)
	}
	if _, err := svc.InsertRecord(ctx, "u1", mod.ID, "order", map[string]interface{}{"customer_id": 999, "total": 1.5}); err != nil {
		t.Fatalf("insert dangling order: %v", err)
	}

	rows, err := svc.QueryRecords(ctx, "u1", mod.ID, "order", storage.RowQuery{})
	if err != nil {
		t.Fatalf("query orders: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(rows))
	}

	record, err := svc.GetRecord(ctx, "u1", mod.ID, "customer", custID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record["name"] != "Ada" {
		t.Fatalf("unexpected record %v", record)
	}

	if err := svc.UpdateRecord(ctx, "u1", mod.ID, "customer", custID, map[string]interface{}{"name": "Grace"}); err != nil {
		t.Fatalf("update record: %v", err)
	}
	record, err = svc.GetRecord(ctx, "u1", mod.ID, "customer", custID)
	if err != nil {
		t.Fatalf("get updated record: %v", err)
	}
	if record["name"] != "Grace" {
		t.Fatalf("update not applied: %v", record)
	}

	if err := svc.DeleteRecord(ctx, "u1", mod.ID, "customer", custID); err != nil {
		t.Fatalf("delete record: %v", err)
	}
	err = svc.DeleteRecord(ctx, "u1", mod.ID, "customer", custID)
	wantCode(t, err, apperrors.CodeNotFound)

	state, err := store.GetModuleState(ctx, mod.ID)
	if err != nil {
		t.Fatalf("module state: %v", err)
	}
	if state.UsageCount == 0 {
		t.Fatalf("expected usage recorded on data operations")
	}
}

func TestRecordOperationsOnUnknownTable(t *testing.T) {
	svc := newTestService(memory.New())
	ctx := context.Background()

	mod, _, err := svc.Create(ctx, "u1", CreateInput{Name: "Shop"})
	if err != nil {
		t.Fatalf("create module: %v", err)
	}

	_, err = svc.InsertRecord(ctx, "u1", mod.ID, "ghosts", map[string]interface{}{"name": "x"})
	wantCode(t, err, apperrors.CodeNotFound)

	_, err = svc.QueryRecords(ctx, "u1", mod.ID, "ghosts", storage.RowQuery{})
	wantCode(t, err, apperrors.CodeNotFound)

	_, err = svc.InsertRecord(ctx, "u1", mod.ID, "ghosts", nil)
	wantCode(t, err, apperrors.CodeInvalidRequest)
}

func TestGetDetailRecordsUsage(t *testing.T) {
	svc := newTestService(memory.New())
	ctx := context.Background()

	mod, _, err := svc.Create(ctx, "u1", CreateInput{Name: "Shop", Schema: shopSchema()})
	if err != nil {
		t.Fatalf("create module: %v", err)
	}

	detail, err := svc.GetDetail(ctx, "u1", mod.ID)
	if err != nil {
		t.Fatalf("get detail: %v", err)
	}
	if len(detail.Tables) != 2 {
		t.Fatalf("expected 2 tables, got %d", len(detail.Tables))
	}
	if detail.State.UsageCount != 1 {
		t.Fatalf("expected usage count 1, got %d", detail.State.UsageCount)
	}

	detail, err = svc.GetDetail(ctx, "u1", mod.ID)
	if err != nil {
		t.Fatalf("second get detail: %v", err)
	}
	if detail.State.UsageCount != 2 {
		t.Fatalf("expected usage count 2, got %d", detail.State.UsageCount)
	}
}

func TestSeedModuleFallsBackToSampleRows(t *testing.T) {
	svc := newTestService(memory.New())
	ctx := context.Background()

	mod, _, err := svc.Create(ctx, "u1", CreateInput{Name: "Shop", Schema: shopSchema()})
	if err != nil {
		t.Fatalf("create module: %v", err)
	}

	inserted, err := svc.SeedModule(ctx, "u1", mod.ID, 3)
	if err != nil {
		t.Fatalf("seed module: %v", err)
	}
	if inserted["customer"] != 3 || inserted["order"] != 3 {
		t.Fatalf("unexpected seed counts: %v", inserted)
	}

	rows, err := svc.QueryRecords(ctx, "u1", mod.ID, "customer", storage.RowQuery{})
	if err != nil {
		t.Fatalf("query customers: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 seeded customers, got %d", len(rows))
	}
}

func TestDeleteModuleDropsPhysicalTables(t *testing.T) {
	store := memory.New()
	svc := newTestService(store)
	ctx := context.Background()

	mod, _, err := svc.Create(ctx, "u1", CreateInput{Name: "Shop", Schema: shopSchema()})
	if err != nil {
		t.Fatalf("create module: %v", err)
	}
	if _, err := svc.InsertRecord(ctx, "u1", mod.ID, "customer", map[string]interface{}{"name": "Ada"}); err != nil {
		t.Fatalf("insert customer: %v", err)
	}

	if err := svc.Delete(ctx, "u1", mod.ID); err != nil {
		t.Fatalf("delete module: %v", err)
	}

	_, err = svc.Get(ctx, "u1", mod.ID)
	wantCode(t, err, apperrors.CodeNotFound)

	physical, err := store.ListPhysicalTables(ctx)
	if err != nil {
		t.Fatalf("list physical tables: %v", err)
	}
	if len(physical) != 0 {
		t.Fatalf("expected no physical tables left, got %v", physical)
	}
}
