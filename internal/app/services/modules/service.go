// Package modules implements the module lifecycle: registry records, the
// physical tables provisioned for each schema, and the data path into those
// tables.
package modules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/internal/app/metrics"
	"github.com/appforge-labs/appforge/internal/app/storage"
	"github.com/appforge-labs/appforge/internal/cache"
	apperrors "github.com/appforge-labs/appforge/internal/errors"
	"github.com/appforge-labs/appforge/internal/llm"
	"github.com/appforge-labs/appforge/pkg/logger"
)

// physicalPrefixLen is how many hex characters of the module ID become part
// of dynamic table names.
const physicalPrefixLen = 12

// Service manages user modules and their dynamic tables.
type Service struct {
	modules   storage.ModuleStore
	tables    storage.TableStore
	states    storage.StateStore
	data      storage.DataStore
	assistant *llm.Assistant
	cache     *cache.Cache
	log       *logger.Logger
}

// New creates a module service. The assistant and cache may be nil; schema
// generation and seeding then report the assistant as unavailable, and module
// lookups always hit the store.
func New(modules storage.ModuleStore, tables storage.TableStore, states storage.StateStore, data storage.DataStore, assistant *llm.Assistant, defCache *cache.Cache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("modules")
	}
	return &Service{
		modules:   modules,
		tables:    tables,
		states:    states,
		data:      data,
		assistant: assistant,
		cache:     defCache,
		log:       log,
	}
}

// CreateInput carries everything needed to build a module and its tables.
// When Schema is empty and GenerateSchema is set, the assistant derives a
// schema from the description.
type CreateInput struct {
	Name           string
	Description    string
	ModuleType     string
	Schema         module.Schema
	GenerateSchema bool
}

// UpdateInput patches a module. Nil fields are left unchanged.
type UpdateInput struct {
	Name        *string
	Description *string
	ModuleType  *string
}

// Detail bundles a module with its tables and runtime state.
type Detail struct {
	Module module.Module  `json:"module"`
	Tables []module.Table `json:"tables"`
	State  module.State   `json:"state"`
}

// Create registers a module, provisions a physical table for every schema
// entry and initialises its runtime state. It returns the module and the
// names of the tables that were actually created; a table that fails to
// provision is logged and skipped rather than aborting the module.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (module.Module, []string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return module.Module{}, nil, apperrors.InvalidRequest("module name is required")
	}
	moduleType := in.ModuleType
	if moduleType == "" {
		moduleType = module.TypeCustom
	}
	if !module.ValidType(moduleType) {
		return module.Module{}, nil, apperrors.InvalidRequest(fmt.Sprintf("unknown module type %q", moduleType))
	}
	if _, err := s.modules.GetModuleByName(ctx, userID, name); err == nil {
		return module.Module{}, nil, apperrors.Conflict(fmt.Sprintf("a module named %q already exists", name))
	}

	schema := in.Schema
	if len(schema) == 0 && in.GenerateSchema {
		if s.assistant == nil {
			return module.Module{}, nil, apperrors.LLMUnavailable(fmt.Errorf("no assistant configured"))
		}
		schema = s.assistant.GenerateSchema(ctx, in.Description, nil)
	}

	mod, err := s.modules.CreateModule(ctx, module.Module{
		UserID:      userID,
		Name:        name,
		Description: in.Description,
		ModuleType:  moduleType,
		Schema:      schema,
		Config:      map[string]interface{}{},
	})
	if err != nil {
		return module.Module{}, nil, fmt.Errorf("create module: %w", err)
	}

	if _, err := s.states.SaveModuleState(ctx, module.State{
		ModuleID:  mod.ID,
		IsActive:  true,
		StateData: map[string]interface{}{},
	}); err != nil {
		s.log.WithError(err).WithField("module_id", mod.ID).Warn("could not initialise module state")
	}

	created := make([]string, 0, len(schema))
	for _, tableName := range schema.TableNames() {
		if _, err := s.CreateTable(ctx, mod, tableName, schema[tableName]); err != nil {
			s.log.WithError(err).WithFields(logger.Fields{
				"module_id": mod.ID,
				"table":     tableName,
			}).Error("could not create module table")
			continue
		}
		created = append(created, tableName)
	}

	s.log.WithFields(logger.Fields{
		"module_id": mod.ID,
		"module":    mod.Name,
		"user_id":   userID,
		"tables":    len(created),
	}).Info("created module")
	return mod, created, nil
}

// CreateTable provisions one dynamic table for a module: it renders the
// physical table, then records the table metadata. Fields named like
// "customer_id" become foreign keys when the module already has a table
// named "customer"; otherwise they degrade to plain columns with a warning.
func (s *Service) CreateTable(ctx context.Context, mod module.Module, name string, spec module.TableSpec) (module.Table, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return module.Table{}, apperrors.InvalidRequest("table name is required")
	}
	if _, err := s.tables.GetTableByName(ctx, mod.ID, name); err == nil {
		return module.Table{}, apperrors.Conflict(fmt.Sprintf("table %q already exists in module %q", name, mod.Name))
	}

	physical := physicalName(mod.ID, name)
	fields, foreignKeys := s.prepareFields(ctx, mod, name, spec)

	start := time.Now()
	err := s.data.CreateDynamicTable(ctx, physical, fields, foreignKeys)
	metrics.RecordDataOperation("create_table", time.Since(start), err)
	if err != nil {
		return module.Table{}, fmt.Errorf("create table %s: %w", name, err)
	}

	description := spec.Description
	if description == "" {
		description = fmt.Sprintf("Table for %s", name)
	}
	tbl, err := s.tables.CreateTable(ctx, module.Table{
		ModuleID:     mod.ID,
		Name:         name,
		Description:  description,
		PhysicalName: physical,
		Fields:       fields,
		ForeignKeys:  foreignKeys,
	})
	if err != nil {
		return module.Table{}, fmt.Errorf("save table metadata for %s: %w", name, err)
	}

	s.log.WithFields(logger.Fields{
		"module_id": mod.ID,
		"table":     name,
		"physical":  physical,
	}).Info("created module table")
	return tbl, nil
}

// Get returns one of the user's modules by ID.
func (s *Service) Get(ctx context.Context, userID, id string) (module.Module, error) {
	var mod module.Module
	if ok, err := s.cache.Get(ctx, cache.ModuleKey(id), &mod); err == nil && ok {
		if mod.UserID != userID {
			return module.Module{}, apperrors.NotFound("Module")
		}
		return mod, nil
	}

	mod, err := s.modules.GetModule(ctx, id)
	if err != nil || mod.UserID != userID {
		return module.Module{}, apperrors.NotFound("Module")
	}
	if err := s.cache.Set(ctx, cache.ModuleKey(id), mod); err != nil {
		s.log.WithError(err).Debug("module cache write failed")
	}
	return mod, nil
}

// GetByName returns one of the user's modules by its logical name.
func (s *Service) GetByName(ctx context.Context, userID, name string) (module.Module, error) {
	mod, err := s.modules.GetModuleByName(ctx, userID, name)
	if err != nil {
		return module.Module{}, apperrors.NotFound("Module")
	}
	return mod, nil
}

// Resolve finds a module by ID first and by name second, so callers can pass
// whichever reference they have.
func (s *Service) Resolve(ctx context.Context, userID, ref string) (module.Module, error) {
	if ref == "" {
		return module.Module{}, apperrors.NotFound("Module")
	}
	if mod, err := s.Get(ctx, userID, ref); err == nil {
		return mod, nil
	}
	return s.GetByName(ctx, userID, ref)
}

// GetDetail returns a module with its tables and state. Reading a module's
// detail counts as usage.
func (s *Service) GetDetail(ctx context.Context, userID, id string) (Detail, error) {
	mod, err := s.Get(ctx, userID, id)
	if err != nil {
		return Detail{}, err
	}
	tables, err := s.tables.ListTables(ctx, mod.ID)
	if err != nil {
		return Detail{}, fmt.Errorf("list tables: %w", err)
	}
	state, err := s.states.RecordModuleUsage(ctx, mod.ID)
	if err != nil {
		s.log.WithError(err).WithField("module_id", mod.ID).Warn("could not record module usage")
	}
	return Detail{Module: mod, Tables: tables, State: state}, nil
}

// List returns the user's modules, most recently updated first.
func (s *Service) List(ctx context.Context, userID string) ([]module.Module, error) {
	mods, err := s.modules.ListModules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	return mods, nil
}

// Tables returns the metadata for a module's dynamic tables.
func (s *Service) Tables(ctx context.Context, userID, moduleID string) ([]module.Table, error) {
	mod, err := s.Get(ctx, userID, moduleID)
	if err != nil {
		return nil, err
	}
	tables, err := s.tables.ListTables(ctx, mod.ID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// Update patches a module's name, description or type.
func (s *Service) Update(ctx context.Context, userID, id string, in UpdateInput) (module.Module, error) {
	mod, err := s.Get(ctx, userID, id)
	if err != nil {
		return module.Module{}, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return module.Module{}, apperrors.InvalidRequest("module name cannot be empty")
		}
		if name != mod.Name {
			if other, err := s.modules.GetModuleByName(ctx, userID, name); err == nil && other.ID != mod.ID {
				return module.Module{}, apperrors.Conflict(fmt.Sprintf("a module named %q already exists", name))
			}
			mod.Name = name
		}
	}
	if in.Description != nil {
		mod.Description = *in.Description
	}
	if in.ModuleType != nil {
		if !module.ValidType(*in.ModuleType) {
			return module.Module{}, apperrors.InvalidRequest(fmt.Sprintf("unknown module type %q", *in.ModuleType))
		}
		mod.ModuleType = *in.ModuleType
	}

	updated, err := s.modules.UpdateModule(ctx, mod)
	if err != nil {
		return module.Module{}, fmt.Errorf("update module: %w", err)
	}
	s.dropCached(ctx, mod.ID)
	return updated, nil
}

// SetUI stores a generated UI definition on the module and marks it as
// having a GUI.
func (s *Service) SetUI(ctx context.Context, userID, moduleID string, def *module.UIDefinition) (module.Module, error) {
	mod, err := s.Get(ctx, userID, moduleID)
	if err != nil {
		return module.Module{}, err
	}
	mod.UIDefinition = def
	mod.HasGUI = true

	updated, err := s.modules.UpdateModule(ctx, mod)
	if err != nil {
		return module.Module{}, fmt.Errorf("update module ui: %w", err)
	}
	s.dropCached(ctx, mod.ID)
	s.log.WithFields(logger.Fields{"module_id": mod.ID, "module": mod.Name}).Info("updated module ui")
	return updated, nil
}

// GenerateUI asks the assistant for a UI definition built from the module's
// schema and stores it. A non-empty description steers the generation;
// otherwise the module's own description is used.
func (s *Service) GenerateUI(ctx context.Context, userID, moduleID, description string) (module.Module, error) {
	mod, err := s.Get(ctx, userID, moduleID)
	if err != nil {
		return module.Module{}, err
	}
	if s.assistant == nil {
		return module.Module{}, apperrors.LLMUnavailable(fmt.Errorf("no assistant configured"))
	}
	if description == "" {
		description = mod.Description
	}

	schema, err := s.schemaFor(ctx, mod)
	if err != nil {
		return module.Module{}, err
	}
	def := s.assistant.GenerateUI(ctx, mod.Name, schema, description)
	if def == nil {
		return module.Module{}, apperrors.LLMUnavailable(fmt.Errorf("no ui definition produced"))
	}
	return s.SetUI(ctx, userID, mod.ID, def)
}

// Delete drops every physical table belonging to the module, then removes
// the module and its metadata.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	mod, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}

	tables, err := s.tables.ListTables(ctx, mod.ID)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	for _, tbl := range tables {
		start := time.Now()
		err := s.data.DropDynamicTable(ctx, tbl.PhysicalName)
		metrics.RecordDataOperation("drop", time.Since(start), err)
		if err != nil {
			s.log.WithError(err).WithFields(logger.Fields{
				"module_id": mod.ID,
				"table":     tbl.Name,
			}).Error("could not drop dynamic table")
		}
	}

	if err := s.modules.DeleteModule(ctx, mod.ID); err != nil {
		return fmt.Errorf("delete module: %w", err)
	}
	s.dropCached(ctx, mod.ID)
	s.log.WithFields(logger.Fields{"module_id": mod.ID, "module": mod.Name}).Info("deleted module")
	return nil
}

// InsertRecord adds one row to a module table and returns the new row ID.
// Foreign key values that do not resolve to an existing referenced row are
// logged but do not block the insert.
func (s *Service) InsertRecord(ctx context.Context, userID, moduleID, tableName string, data map[string]interface{}) (int64, error) {
	if len(data) == 0 {
		return 0, apperrors.InvalidRequest("no data provided")
	}
	mod, tbl, err := s.resolveTable(ctx, userID, moduleID, tableName)
	if err != nil {
		return 0, err
	}

	for _, fk := range tbl.ForeignKeys {
		value, ok := data[fk.Field]
		if !ok || value == nil {
			continue
		}
		rows, err := s.data.QueryRows(ctx, fk.References, storage.RowQuery{
			Where:  "id = ?",
			Params: []interface{}{value},
			Limit:  1,
		})
		if err != nil || len(rows) == 0 {
			s.log.WithFields(logger.Fields{
				"table": tbl.Name,
				"field": fk.Field,
				"value": value,
			}).Warn("foreign key value has no matching row")
		}
	}

	start := time.Now()
	id, err := s.data.InsertRow(ctx, tbl.PhysicalName, data)
	metrics.RecordDataOperation("insert", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", tbl.Name, err)
	}
	s.recordUsage(ctx, mod.ID)
	return id, nil
}

// QueryRecords reads rows from a module table.
func (s *Service) QueryRecords(ctx context.Context, userID, moduleID, tableName string, q storage.RowQuery) ([]map[string]interface{}, error) {
	mod, tbl, err := s.resolveTable(ctx, userID, moduleID, tableName)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := s.data.QueryRows(ctx, tbl.PhysicalName, q)
	metrics.RecordDataOperation("query", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tbl.Name, err)
	}
	s.recordUsage(ctx, mod.ID)
	return rows, nil
}

// GetRecord reads a single row by its primary key.
func (s *Service) GetRecord(ctx context.Context, userID, moduleID, tableName string, recordID int64) (map[string]interface{}, error) {
	rows, err := s.QueryRecords(ctx, userID, moduleID, tableName, storage.RowQuery{
		Where:  "id = ?",
		Params: []interface{}{recordID},
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NotFound("Record")
	}
	return rows[0], nil
}

// UpdateRecord rewrites the given columns of one row by primary key.
func (s *Service) UpdateRecord(ctx context.Context, userID, moduleID, tableName string, recordID int64, data map[string]interface{}) error {
	if len(data) == 0 {
		return apperrors.InvalidRequest("no data provided")
	}
	mod, tbl, err := s.resolveTable(ctx, userID, moduleID, tableName)
	if err != nil {
		return err
	}
	start := time.Now()
	affected, err := s.data.UpdateRows(ctx, tbl.PhysicalName, data, "id = ?", []interface{}{recordID})
	metrics.RecordDataOperation("update", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("update %s: %w", tbl.Name, err)
	}
	if affected == 0 {
		return apperrors.NotFound("Record")
	}
	s.recordUsage(ctx, mod.ID)
	return nil
}

// DeleteRecord removes one row by primary key.
func (s *Service) DeleteRecord(ctx context.Context, userID, moduleID, tableName string, recordID int64) error {
	mod, tbl, err := s.resolveTable(ctx, userID, moduleID, tableName)
	if err != nil {
		return err
	}
	start := time.Now()
	affected, err := s.data.DeleteRows(ctx, tbl.PhysicalName, "id = ?", []interface{}{recordID})
	metrics.RecordDataOperation("delete", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", tbl.Name, err)
	}
	if affected == 0 {
		return apperrors.NotFound("Record")
	}
	s.recordUsage(ctx, mod.ID)
	return nil
}

// SeedModule asks the assistant for sample rows and inserts them into every
// table of the module. Seeding is best-effort: rows that fail to insert are
// logged and skipped. It returns the number of rows inserted per table.
func (s *Service) SeedModule(ctx context.Context, userID, moduleID string, rowsPerTable int) (map[string]int, error) {
	mod, err := s.Get(ctx, userID, moduleID)
	if err != nil {
		return nil, err
	}
	if s.assistant == nil {
		return nil, apperrors.LLMUnavailable(fmt.Errorf("no assistant configured"))
	}

	tables, err := s.tables.ListTables(ctx, mod.ID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	inserted := make(map[string]int, len(tables))
	for _, tbl := range tables {
		inserted[tbl.Name] = 0
		rows := s.assistant.GenerateSeedData(ctx, tbl.Name, tbl.Fields, tbl.Description, rowsPerTable)
		for _, row := range rows {
			delete(row, "id")
			start := time.Now()
			_, err := s.data.InsertRow(ctx, tbl.PhysicalName, row)
			metrics.RecordDataOperation("insert", time.Since(start), err)
			if err != nil {
				s.log.WithError(err).WithFields(logger.Fields{
					"module_id": mod.ID,
					"table":     tbl.Name,
				}).Warn("could not insert seed row")
				continue
			}
			inserted[tbl.Name]++
		}
	}
	s.recordUsage(ctx, mod.ID)
	return inserted, nil
}

// --- helpers ---

// prepareFields orders a table spec's columns, injects the standard id and
// created_at fields when missing, and resolves foreign keys against the
// module's existing tables.
func (s *Service) prepareFields(ctx context.Context, mod module.Module, tableName string, spec module.TableSpec) ([]module.Field, []module.ForeignKey) {
	declared := make(map[string]string, len(spec.Fields)+2)
	for name, typ := range spec.Fields {
		declared[name] = typ
	}
	if _, ok := declared["id"]; !ok {
		declared["id"] = "BIGSERIAL PRIMARY KEY"
	}
	if _, ok := declared["created_at"]; !ok {
		declared["created_at"] = "TIMESTAMP DEFAULT CURRENT_TIMESTAMP"
	}

	ordered := module.TableSpec{Fields: declared}.OrderedFields()
	fields := make([]module.Field, 0, len(ordered))
	var foreignKeys []module.ForeignKey

	for _, name := range ordered {
		fields = append(fields, module.Field{Name: name, Type: declared[name]})
		if name == "id" || !strings.HasSuffix(name, "_id") {
			continue
		}

		logical := strings.TrimSuffix(name, "_id")
		ref, err := s.tables.GetTableByName(ctx, mod.ID, logical)
		if err != nil {
			s.log.WithFields(logger.Fields{
				"module_id": mod.ID,
				"table":     tableName,
				"field":     name,
				"wants":     logical,
			}).Warn("referenced table not found, keeping plain column")
			continue
		}
		foreignKeys = append(foreignKeys, module.ForeignKey{Field: name, References: ref.PhysicalName})
	}
	return fields, foreignKeys
}

// schemaFor returns the module's stored schema, rebuilding it from table
// metadata when the module predates schema storage.
func (s *Service) schemaFor(ctx context.Context, mod module.Module) (module.Schema, error) {
	if len(mod.Schema) > 0 {
		return mod.Schema, nil
	}
	tables, err := s.tables.ListTables(ctx, mod.ID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	schema := make(module.Schema, len(tables))
	for _, tbl := range tables {
		fields := make(map[string]string, len(tbl.Fields))
		for _, f := range tbl.Fields {
			fields[f.Name] = f.Type
		}
		schema[tbl.Name] = module.TableSpec{Fields: fields, Description: tbl.Description}
	}
	return schema, nil
}

func (s *Service) resolveTable(ctx context.Context, userID, moduleID, tableName string) (module.Module, module.Table, error) {
	mod, err := s.Get(ctx, userID, moduleID)
	if err != nil {
		return module.Module{}, module.Table{}, err
	}
	tbl, err := s.tables.GetTableByName(ctx, mod.ID, tableName)
	if err != nil {
		return module.Module{}, module.Table{}, apperrors.NotFound(fmt.Sprintf("Table %q", tableName))
	}
	return mod, tbl, nil
}

func (s *Service) recordUsage(ctx context.Context, moduleID string) {
	if _, err := s.states.RecordModuleUsage(ctx, moduleID); err != nil {
		s.log.WithError(err).WithField("module_id", moduleID).Warn("could not record module usage")
	}
}

func (s *Service) dropCached(ctx context.Context, moduleID string) {
	if err := s.cache.Delete(ctx, cache.ModuleKey(moduleID)); err != nil {
		s.log.WithError(err).Debug("module cache invalidation failed")
	}
}

// physicalName derives the dynamic table name for a module table. The module
// ID contributes its first hex characters so tables from different modules
// never collide; the table part keeps alphanumerics only.
func physicalName(moduleID, tableName string) string {
	prefix := strings.ReplaceAll(moduleID, "-", "")
	if len(prefix) > physicalPrefixLen {
		prefix = prefix[:physicalPrefixLen]
	}
	var table strings.Builder
	for _, r := range strings.ToLower(tableName) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			table.WriteRune(r)
		}
	}
	return fmt.Sprintf("mod_%s_%s", prefix, table.String())
}
