package typegen

import (
	"fmt"
	"go/types"
	"reflect"
	"strings"

	"golang.org/x/tools/go/packages"
)

// Options controls introspection.
type Options struct {
	// Include, if non-nil, restricts which exported type names are kept.
	Include map[string]bool
	// Qualify prefixes wire names with the package name ("geom.Vector2").
	Qualify bool
	// Dir is the directory relative patterns resolve against.
	Dir string
}

// IntrospectPackage loads a Go package by import path (or a pattern relative
// to opts.Dir) and returns its registrable types.
func IntrospectPackage(pattern string, opts Options) (*PackageModel, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes | packages.NeedSyntax,
		Dir:  opts.Dir,
	}

	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", pattern, err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages found for %s", pattern)
	}
	if len(pkgs[0].Errors) > 0 {
		return nil, fmt.Errorf("package errors: %v", pkgs[0].Errors)
	}

	pkg := pkgs[0]
	if pkg.Types == nil {
		return nil, fmt.Errorf("type information not available for %s", pattern)
	}

	model := &PackageModel{
		ImportPath: pkg.PkgPath,
		Name:       pkg.Name,
	}

	scope := pkg.Types.Scope()
	for _, name := range scope.Names() {
		if opts.Include != nil && !opts.Include[name] {
			continue
		}
		tn, ok := scope.Lookup(name).(*types.TypeName)
		if !ok || !tn.Exported() || tn.IsAlias() {
			continue
		}
		tm := extractType(tn, pkg.Types)
		if tm == nil {
			continue
		}
		tm.WireName = WireName(pkg.Name, tm.Name, opts.Qualify)
		model.Types = append(model.Types, *tm)
	}

	collectConstructors(model, scope)
	return model, nil
}

func extractType(tn *types.TypeName, pkg *types.Package) *TypeModel {
	named, ok := tn.Type().(*types.Named)
	if !ok || named.TypeParams().Len() > 0 {
		return nil
	}
	st, ok := named.Underlying().(*types.Struct)
	if !ok {
		return nil
	}

	tm := &TypeModel{
		Name:   tn.Name(),
		GoType: named,
	}
	for i := 0; i < st.NumFields(); i++ {
		f := st.Field(i)
		if !f.Exported() {
			continue
		}
		if _, isStruct := f.Type().Underlying().(*types.Struct); f.Embedded() && isStruct {
			continue
		}
		wire, skip := FieldWireName(f.Name(), st.Tag(i))
		if skip {
			continue
		}
		tm.Fields = append(tm.Fields, FieldModel{
			Name:     f.Name(),
			WireName: wire,
			TypeStr:  types.TypeString(f.Type(), qualifier(pkg)),
		})
	}
	return tm
}

// collectConstructors attaches every exported New* function returning T,
// *T, (T, error) or (*T, error) to T's model.
func collectConstructors(model *PackageModel, scope *types.Scope) {
	for _, name := range scope.Names() {
		if !strings.HasPrefix(name, "New") {
			continue
		}
		fn, ok := scope.Lookup(name).(*types.Func)
		if !ok || !fn.Exported() {
			continue
		}
		sig := fn.Type().(*types.Signature)
		if sig.Variadic() || sig.TypeParams().Len() > 0 {
			continue
		}

		res := sig.Results()
		switch {
		case res.Len() == 1:
		case res.Len() == 2 && isError(res.At(1).Type()):
		default:
			continue
		}

		out := res.At(0).Type()
		ptr := false
		if p, ok := out.(*types.Pointer); ok {
			out, ptr = p.Elem(), true
		}
		named, ok := out.(*types.Named)
		if !ok || named.Obj().Pkg() != fn.Pkg() {
			continue
		}
		tm := model.Type(named.Obj().Name())
		if tm == nil {
			continue
		}

		fm := FunctionModel{Name: name, ReturnsPtr: ptr, ReturnsErr: res.Len() == 2}
		params := sig.Params()
		for i := 0; i < params.Len(); i++ {
			p := params.At(i)
			fm.Params = append(fm.Params, ParamModel{
				Name:    p.Name(),
				TypeStr: types.TypeString(p.Type(), qualifier(fn.Pkg())),
			})
		}
		tm.Constructors = append(tm.Constructors, fm)
	}
}

func isError(t types.Type) bool {
	return types.Identical(t, types.Universe.Lookup("error").Type())
}

// FieldWireName returns the member name a struct field is exposed under,
// following the registry's wireform tag rules. skip is true for `wireform:"-"`.
func FieldWireName(field, tag string) (name string, skip bool) {
	v, ok := reflect.StructTag(tag).Lookup("wireform")
	if !ok {
		return field, false
	}
	v, _, _ = strings.Cut(v, ",")
	switch v {
	case "-":
		return "", true
	case "":
		return field, false
	}
	return v, false
}

// qualifier returns a types.Qualifier that omits the package's own name.
func qualifier(pkg *types.Package) types.Qualifier {
	return func(other *types.Package) string {
		if other == pkg {
			return ""
		}
		return other.Name()
	}
}
