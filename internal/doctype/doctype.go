// Package doctype holds the schema registry that governs document
// frontmatter. Built-in types ship with the server; custom types come
// from config.json.
package doctype

import (
	"fmt"
	"sort"
	"time"

	"github.com/compounding-docs/cdocs/internal/config"
	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
)

// Promotion levels accepted in frontmatter.
const (
	LevelStandard  = "standard"
	LevelImportant = "important"
	LevelCritical  = "critical"
)

// ValidLevel reports whether s is one of the three promotion levels.
func ValidLevel(s string) bool {
	switch s {
	case LevelStandard, LevelImportant, LevelCritical:
		return true
	}
	return false
}

// LevelRank orders promotion levels: standard < important < critical.
// Unknown levels rank below standard.
func LevelRank(s string) int {
	switch s {
	case LevelStandard:
		return 1
	case LevelImportant:
		return 2
	case LevelCritical:
		return 3
	}
	return 0
}

// AllowedLevels returns the levels at or above minLevel.
func AllowedLevels(minLevel string) []string {
	min := LevelRank(minLevel)
	var out []string
	for _, l := range []string{LevelStandard, LevelImportant, LevelCritical} {
		if LevelRank(l) >= min {
			out = append(out, l)
		}
	}
	return out
}

// Schema describes one registered doc-type.
type Schema struct {
	Name    string
	Folder  string
	Fields  []config.FieldSpec
	Builtin bool
}

// HasCustomFields reports whether the schema declares fields beyond the
// common set.
func (s *Schema) HasCustomFields() bool {
	return len(s.Fields) > 0
}

// commonFields apply to every doc-type.
var commonFields = []config.FieldSpec{
	{Name: "doc_type", Type: "string", Required: true},
	{Name: "title", Type: "string", Required: true},
	{Name: "summary", Type: "string"},
	{Name: "promotion_level", Type: "string", Enum: []string{LevelStandard, LevelImportant, LevelCritical}},
	{Name: "tags", Type: "array"},
	{Name: "created", Type: "date"},
}

// builtins are the doc-types every project gets.
var builtins = []Schema{
	{Name: "problem", Folder: "problems", Builtin: true,
		Fields: []config.FieldSpec{
			{Name: "status", Type: "string", Enum: []string{"open", "investigating", "resolved"}},
			{Name: "severity", Type: "string"},
		}},
	{Name: "insight", Folder: "insights", Builtin: true,
		Fields: []config.FieldSpec{
			{Name: "context", Type: "string"},
		}},
	{Name: "codebase", Folder: "codebase", Builtin: true,
		Fields: []config.FieldSpec{
			{Name: "area", Type: "string"},
		}},
	{Name: "tool", Folder: "tools", Builtin: true,
		Fields: []config.FieldSpec{
			{Name: "tool_name", Type: "string"},
		}},
	{Name: "style", Folder: "style", Builtin: true,
		Fields: []config.FieldSpec{
			{Name: "scope", Type: "string"},
		}},
}

// Registry maps doc-type names to their schemas for one tenant.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry builds a registry from the built-in types plus the custom
// types in cfg. A custom type with a built-in name replaces the
// built-in.
func NewRegistry(custom []config.CustomDocType) *Registry {
	r := &Registry{schemas: make(map[string]*Schema, len(builtins)+len(custom))}
	for i := range builtins {
		s := builtins[i]
		r.schemas[s.Name] = &s
	}
	for _, ct := range custom {
		folder := ct.Folder
		if folder == "" {
			folder = ct.Name
		}
		r.schemas[ct.Name] = &Schema{Name: ct.Name, Folder: folder, Fields: ct.Fields}
	}
	return r
}

// Get returns the schema for a doc-type, or an InvalidDocType error.
func (r *Registry) Get(name string) (*Schema, error) {
	s, ok := r.schemas[name]
	if !ok {
		return nil, cdocserr.Newf(cdocserr.TagInvalidDocType, "doc_type %q is not registered", name).
			WithSuggestion("Use list_doc_types to see the registered types, or add a custom_doc_types entry to config.json.")
	}
	return s, nil
}

// Names returns registered doc-type names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas returns all registered schemas, sorted by name.
func (r *Registry) Schemas() []*Schema {
	out := make([]*Schema, 0, len(r.schemas))
	for _, name := range r.Names() {
		out = append(out, r.schemas[name])
	}
	return out
}

// Validate checks frontmatter against the schema for its doc_type.
// All violations are collected before failing so the user can fix them
// in one pass.
func (r *Registry) Validate(frontmatter map[string]any) error {
	docType, _ := frontmatter["doc_type"].(string)
	if docType == "" {
		return cdocserr.New(cdocserr.TagSchemaValidationFailed, "frontmatter is missing doc_type").
			WithDetail("errors", "doc_type: required field is missing")
	}

	schema, err := r.Get(docType)
	if err != nil {
		return err
	}

	var violations []string
	for _, spec := range commonFields {
		violations = append(violations, checkField(frontmatter, spec)...)
	}
	for _, spec := range schema.Fields {
		violations = append(violations, checkField(frontmatter, spec)...)
	}

	if len(violations) > 0 {
		e := cdocserr.Newf(cdocserr.TagSchemaValidationFailed,
			"frontmatter fails the %q schema (%d violation(s))", docType, len(violations))
		for i, v := range violations {
			e.WithDetail(fmt.Sprintf("error_%d", i+1), v)
		}
		return e
	}
	return nil
}

func checkField(fm map[string]any, spec config.FieldSpec) []string {
	value, present := fm[spec.Name]
	if !present || value == nil {
		if spec.Required {
			return []string{fmt.Sprintf("%s: required field is missing", spec.Name)}
		}
		return nil
	}

	var violations []string
	if msg := checkType(value, spec.Type); msg != "" {
		violations = append(violations, fmt.Sprintf("%s: %s", spec.Name, msg))
	}
	if len(spec.Enum) > 0 {
		s, ok := value.(string)
		if !ok || !contains(spec.Enum, s) {
			violations = append(violations,
				fmt.Sprintf("%s: value %v is not one of %v", spec.Name, value, spec.Enum))
		}
	}
	return violations
}

// checkType validates the YAML-decoded value against the declared field
// type. An empty declared type accepts anything.
func checkType(value any, declared string) string {
	switch declared {
	case "", "any":
		return ""
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("expected a string, got %T", value)
		}
	case "number":
		switch value.(type) {
		case int, int64, float64:
		default:
			return fmt.Sprintf("expected a number, got %T", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("expected a boolean, got %T", value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Sprintf("expected an array, got %T", value)
		}
	case "date":
		switch v := value.(type) {
		case time.Time:
		case string:
			if _, err := time.Parse("2006-01-02", v); err != nil {
				return fmt.Sprintf("expected a YYYY-MM-DD date, got %q", v)
			}
		default:
			return fmt.Sprintf("expected a date, got %T", value)
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
