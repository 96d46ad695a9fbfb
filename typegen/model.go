// Package typegen introspects Go packages and generates code that registers
// their struct types and constructors with a wireform type registry, so
// programs can DEFINE them by name without hand-written registration.
package typegen

import "go/types"

// PackageModel is the registrable surface of one Go package.
type PackageModel struct {
	ImportPath string
	Name       string // short package name (e.g., "geom")
	Types      []TypeModel
}

// TypeModel represents an exported, non-generic struct type.
type TypeModel struct {
	Name         string
	WireName     string // name programs use in DEFINE, AS and LIST_START
	GoType       types.Type
	Fields       []FieldModel
	Constructors []FunctionModel
}

// FieldModel represents a struct field visible to programs.
type FieldModel struct {
	Name     string
	WireName string // wireform tag name, or Name
	TypeStr  string
}

// FunctionModel represents a constructor function.
type FunctionModel struct {
	Name       string
	Params     []ParamModel
	ReturnsPtr bool
	ReturnsErr bool
}

// ParamModel represents a constructor parameter.
type ParamModel struct {
	Name    string
	TypeStr string
}

// Type returns the model for the named type, or nil.
func (m *PackageModel) Type(name string) *TypeModel {
	for i := range m.Types {
		if m.Types[i].Name == name {
			return &m.Types[i]
		}
	}
	return nil
}
