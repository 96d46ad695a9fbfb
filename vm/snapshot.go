package vm

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/chazu/wireform/internal/codec"
	"github.com/chazu/wireform/pkg/bytecode"
)

// SnapshotObject is one entry of the object table, flattened.
type SnapshotObject struct {
	ID    int32  `json:"id" msgpack:"id"`
	Type  string `json:"type" msgpack:"type"`
	Value any    `json:"value" msgpack:"value"`
}

// SnapshotDoc is an acyclic rendering of a Result. Objects that appear in
// the object table are written once; every other occurrence becomes
// {"$ref": id}.
type SnapshotDoc struct {
	Root    any              `json:"root" msgpack:"root"`
	Objects []SnapshotObject `json:"objects" msgpack:"objects"`
	Aliases map[string]int32 `json:"aliases,omitempty" msgpack:"aliases,omitempty"`
}

// RefKey is the key of a reference marker in snapshots.
const RefKey = "$ref"

// Snapshot flattens res.
func Snapshot(res *Result) SnapshotDoc {
	reg := res.reg
	if reg == nil {
		reg = NewTypeRegistry()
	}
	f := &flattener{reg: reg, ids: make(map[identity]int32), visiting: make(map[identity]bool)}

	ids := make([]int32, 0, len(res.Objects))
	for id := range res.Objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if key, ok := identityOf(reflect.ValueOf(res.Objects[id])); ok {
			if _, dup := f.ids[key]; !dup {
				f.ids[key] = id
			}
		}
	}

	doc := SnapshotDoc{Objects: make([]SnapshotObject, 0, len(ids))}
	for _, id := range ids {
		v := res.Objects[id]
		doc.Objects = append(doc.Objects, SnapshotObject{
			ID:    id,
			Type:  f.typeName(v),
			Value: f.flatten(reflect.ValueOf(v), id),
		})
	}
	doc.Root = f.flatten(reflect.ValueOf(res.Value), -1)
	if len(res.Aliases) > 0 {
		doc.Aliases = make(map[string]int32, len(res.Aliases))
		for k, v := range res.Aliases {
			doc.Aliases[k] = v
		}
	}
	return doc
}

// Encode serializes the snapshot with c.
func (d SnapshotDoc) Encode(c codec.Codec) ([]byte, error) {
	return c.Marshal(d)
}

// DecodeSnapshot parses a snapshot produced by Encode.
func DecodeSnapshot(c codec.Codec, data []byte) (SnapshotDoc, error) {
	var d SnapshotDoc
	err := c.Unmarshal(data, &d)
	return d, err
}

type flattener struct {
	reg      *TypeRegistry
	ids      map[identity]int32
	visiting map[identity]bool
}

// identityOf keys values that can be shared: pointers and maps.
func identityOf(rv reflect.Value) (identity, bool) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map:
		if rv.IsNil() {
			return identity{}, false
		}
		return identity{rv.Pointer(), rv.Type()}, true
	}
	return identity{}, false
}

func (f *flattener) typeName(v any) string {
	if r, ok := v.(*Record); ok {
		if r.TypeName == "" {
			return "record"
		}
		return r.TypeName
	}
	if v == nil {
		return "null"
	}
	return f.reg.NameOf(reflect.TypeOf(v))
}

// flatten renders rv. self is the id being written, which is expanded
// rather than replaced by a reference.
func (f *flattener) flatten(rv reflect.Value, self int32) any {
	if !rv.IsValid() {
		return nil
	}
	if key, ok := identityOf(rv); ok {
		if id, found := f.ids[key]; found && id != self {
			return map[string]any{RefKey: id}
		}
		// Cycles outside the object table cannot be expressed as references.
		if f.visiting[key] {
			return nil
		}
		f.visiting[key] = true
		defer delete(f.visiting, key)
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return f.flatten(rv.Elem(), self)
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		if rec, ok := rv.Interface().(*Record); ok {
			out := make(map[string]any, rec.Len())
			for _, name := range rec.Fields() {
				v, _ := rec.Get(name)
				out[name] = f.flatten(reflect.ValueOf(v), -1)
			}
			return out
		}
		return f.flatten(rv.Elem(), -1)
	case reflect.Struct:
		switch x := rv.Interface().(type) {
		case bytecode.Decimal:
			return x.String()
		}
		out := make(map[string]any)
		for _, field := range reflect.VisibleFields(rv.Type()) {
			if !field.IsExported() || field.Anonymous {
				continue
			}
			fv, err := rv.FieldByIndexErr(field.Index)
			if err != nil {
				continue
			}
			out[field.Name] = f.flatten(fv, -1)
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = f.flatten(rv.Index(i), -1)
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = f.flatten(iter.Value(), -1)
		}
		return out
	}
	if rv.Type() == charType {
		return string(rune(rv.Int()))
	}
	return rv.Interface()
}
