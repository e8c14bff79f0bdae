package module

import (
	"sort"
	"time"
)

// Module types.
const (
	TypeData      = "data"
	TypeForm      = "form"
	TypeReport    = "report"
	TypeDashboard = "dashboard"
	TypeCustom    = "custom"
)

// ValidType reports whether t is a recognised module type.
func ValidType(t string) bool {
	switch t {
	case TypeData, TypeForm, TypeReport, TypeDashboard, TypeCustom:
		return true
	}
	return false
}

// Module is a user-created application module: a named bundle of dynamic
// tables plus an optional generated UI definition.
type Module struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	Name         string                 `json:"name"`
	Description  string                 `json:"description,omitempty"`
	ModuleType   string                 `json:"module_type"`
	HasGUI       bool                   `json:"has_gui"`
	Schema       Schema                 `json:"schema,omitempty"`
	Config       map[string]interface{} `json:"config,omitempty"`
	UIDefinition *UIDefinition          `json:"ui_definition,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// Schema maps logical table names to their specifications.
type Schema map[string]TableSpec

// TableNames returns the schema's tables in name order.
func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TableSpec describes one table in a module schema. Fields maps column names
// to SQL type strings, e.g. "TEXT NOT NULL".
type TableSpec struct {
	Fields      map[string]string `json:"fields"`
	Description string            `json:"description,omitempty"`
}

// OrderedFields returns the column names in canonical order: id first,
// created_at and updated_at last, everything else alphabetical.
func (t TableSpec) OrderedFields() []string {
	var middle []string
	for name := range t.Fields {
		switch name {
		case "id", "created_at", "updated_at":
		default:
			middle = append(middle, name)
		}
	}
	sort.Strings(middle)

	ordered := make([]string, 0, len(t.Fields))
	if _, ok := t.Fields["id"]; ok {
		ordered = append(ordered, "id")
	}
	ordered = append(ordered, middle...)
	if _, ok := t.Fields["created_at"]; ok {
		ordered = append(ordered, "created_at")
	}
	if _, ok := t.Fields["updated_at"]; ok {
		ordered = append(ordered, "updated_at")
	}
	return ordered
}

// Table records a dynamic table created for a module. Fields preserves the
// column order used at creation time.
type Table struct {
	ID           string       `json:"id"`
	ModuleID     string       `json:"module_id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	PhysicalName string       `json:"physical_name"`
	Fields       []Field      `json:"fields"`
	ForeignKeys  []ForeignKey `json:"foreign_keys,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Field is one column of a dynamic table.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ForeignKey links a column to the physical table it references.
type ForeignKey struct {
	Field      string `json:"field"`
	References string `json:"references"`
}

// State tracks runtime usage of a module.
type State struct {
	ModuleID     string                 `json:"module_id"`
	IsActive     bool                   `json:"is_active"`
	LastAccessed time.Time              `json:"last_accessed"`
	UsageCount   int64                  `json:"usage_count"`
	StateData    map[string]interface{} `json:"state_data,omitempty"`
}

// UIDefinition is the generated interface description for a module.
type UIDefinition struct {
	Title    string      `json:"title"`
	Layout   string      `json:"layout"`
	Sections []UISection `json:"sections"`
}

// UISection is one form or display block of a UI definition. TargetTable
// names the logical table the section reads from or submits to.
type UISection struct {
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Type        string        `json:"type"`
	TargetTable string        `json:"target_table"`
	Components  []UIComponent `json:"components,omitempty"`
	Actions     []UIAction    `json:"actions,omitempty"`
}

// UIComponent is one input widget in a form section.
type UIComponent struct {
	Type        string   `json:"type"`
	Field       string   `json:"field"`
	Label       string   `json:"label"`
	Placeholder string   `json:"placeholder,omitempty"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`
}

// UIAction is a button wired to a form operation.
type UIAction struct {
	Label  string `json:"label"`
	Action string `json:"action"`
	Style  string `json:"style,omitempty"`
}
