package typegen

import (
	"go/parser"
	"go/token"
	"strings"
	"testing"
)

func geomModel() *PackageModel {
	return &PackageModel{
		ImportPath: "example.com/go-geom",
		Name:       "geom",
		Types: []TypeModel{
			{
				Name:     "Vector2",
				WireName: "Vector2",
				Fields: []FieldModel{
					{Name: "X", WireName: "X", TypeStr: "float32"},
					{Name: "Y", WireName: "Y", TypeStr: "float32"},
				},
				Constructors: []FunctionModel{{Name: "NewVector2", ReturnsPtr: true}},
			},
			{Name: "Box", WireName: "Box"},
		},
	}
}

func TestGenerate(t *testing.T) {
	code, err := Generate([]*PackageModel{geomModel()}, GenerateOptions{Package: "scene"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for _, want := range []string{
		"// Code generated by wf gen. DO NOT EDIT.",
		"package scene",
		`geom "example.com/go-geom"`,
		`"github.com/chazu/wireform/vm"`,
		"func RegisterTypes(reg *vm.TypeRegistry) error",
		`vm.RegisterType[geom.Vector2](reg, "Vector2")`,
		`reg.RegisterConstructor("Vector2", geom.NewVector2)`,
		`vm.RegisterType[geom.Box](reg, "Box")`,
		"// Vector2: X float32, Y float32",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("generated code missing %q\n%s", want, code)
		}
	}

	if _, err := parser.ParseFile(token.NewFileSet(), "types.go", code, 0); err != nil {
		t.Errorf("generated code does not parse: %v\n%s", err, code)
	}
}

func TestGenerate_SamePackage(t *testing.T) {
	code, err := Generate([]*PackageModel{geomModel()}, GenerateOptions{
		Package:     "geom",
		PackagePath: "example.com/go-geom",
		FuncName:    "RegisterGeom",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(code, "func RegisterGeom(") {
		t.Error("expected custom function name")
	}
	if !strings.Contains(code, `vm.RegisterType[Vector2](reg, "Vector2")`) {
		t.Errorf("expected unqualified type reference\n%s", code)
	}
	if strings.Contains(code, `"example.com/go-geom"`) {
		t.Error("package must not import itself")
	}
}

func TestGenerate_AliasCollision(t *testing.T) {
	a := &PackageModel{ImportPath: "example.com/a/geom", Name: "geom", Types: []TypeModel{{Name: "P", WireName: "a.P"}}}
	b := &PackageModel{ImportPath: "example.com/b/geom", Name: "geom", Types: []TypeModel{{Name: "P", WireName: "b.P"}}}

	code, err := Generate([]*PackageModel{a, b}, GenerateOptions{Package: "scene"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(code, `geom2 "example.com/b/geom"`) {
		t.Errorf("expected second import to be renamed\n%s", code)
	}
	if !strings.Contains(code, `vm.RegisterType[geom2.P](reg, "b.P")`) {
		t.Errorf("expected renamed qualifier\n%s", code)
	}
}

func TestGenerate_RequiresPackage(t *testing.T) {
	if _, err := Generate(nil, GenerateOptions{}); err == nil {
		t.Error("expected error without a package name")
	}
}

func TestGenerate_FromIntrospection(t *testing.T) {
	model, err := IntrospectPackage("./testdata/shapes", Options{Dir: "."})
	if err != nil {
		t.Fatalf("IntrospectPackage: %v", err)
	}
	code, err := Generate([]*PackageModel{model}, GenerateOptions{Package: "main"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, want := range []string{
		`vm.RegisterType[shapes.Polygon](reg, "Polygon")`,
		`reg.RegisterConstructor("Polygon", shapes.NewPolygon)`,
		"// Polygon: label string, Points []Vector2",
	} {
		if !strings.Contains(code, want) {
			t.Errorf("generated code missing %q\n%s", want, code)
		}
	}
	if strings.Contains(code, "NewFromPoints") {
		t.Error("variadic constructor must be skipped")
	}
}
