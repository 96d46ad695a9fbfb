package vm

import (
	"fmt"
	"reflect"
	"strings"
)

// Record is a dynamically shaped instance, used for anonymous record types
// (DEFINE with type "" or "record") and for names registered with
// TypeRegistry.RegisterRecord. Fields keep insertion order.
type Record struct {
	TypeName string

	names  []string
	values map[string]any
	types  map[string]reflect.Type
}

// NewRecord creates an empty record.
func NewRecord(typeName string) *Record {
	return &Record{
		TypeName: typeName,
		values:   make(map[string]any),
		types:    make(map[string]reflect.Type),
	}
}

// Get returns the value of field name.
func (r *Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Set assigns field name, adding it if needed.
func (r *Record) Set(name string, v any) {
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = v
}

// SetTyped assigns field name and records its declared type.
func (r *Record) SetTyped(name string, t reflect.Type, v any) {
	r.Set(name, v)
	if t != nil {
		r.types[name] = t
	}
}

// FieldType returns the declared type of a field set with SetTyped.
func (r *Record) FieldType(name string) (reflect.Type, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Fields returns the field names in insertion order.
func (r *Record) Fields() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.names) }

// String renders the record one level deep; nested records print by name
// only, so cyclic records are safe to format.
func (r *Record) String() string {
	var sb strings.Builder
	name := r.TypeName
	if name == "" {
		name = "record"
	}
	sb.WriteString(name)
	sb.WriteByte('{')
	for i, n := range r.names {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(n)
		sb.WriteString(": ")
		switch v := r.values[n].(type) {
		case *Record:
			fmt.Fprintf(&sb, "<%s>", v.TypeName)
		case nil:
			sb.WriteString("null")
		default:
			switch rv := reflect.ValueOf(v); rv.Kind() {
			case reflect.Pointer:
				fmt.Fprintf(&sb, "<%s>", rv.Type())
			case reflect.Slice, reflect.Map:
				fmt.Fprintf(&sb, "<%s len=%d>", rv.Type(), rv.Len())
			default:
				fmt.Fprintf(&sb, "%v", v)
			}
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
