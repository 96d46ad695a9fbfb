package vm

import (
	"strings"
	"testing"

	"github.com/chazu/wireform/access"
	"github.com/chazu/wireform/internal/codec"
)

func cycleResult(t *testing.T) *Result {
	t.Helper()
	eng := New(WithRegistry(testRegistry(t)), WithFilterCache(access.NewCache()))
	return run(t, eng, `
DEFINE "node" 0 0
SET "Name" "a"
DEFINE "node" 1 0
SET "Name" "b"
SET "Next" _ref(0)
END
SET "Next" _ref(1)
END
ALIAS 1 "second"
RET 0
`)
}

func TestSnapshot_Cycle(t *testing.T) {
	doc := Snapshot(cycleResult(t))

	root, ok := doc.Root.(map[string]any)
	if !ok || root[RefKey] != int32(0) {
		t.Fatalf("Root = %v, want a reference to 0", doc.Root)
	}
	if len(doc.Objects) != 2 {
		t.Fatalf("len(Objects) = %d, want 2", len(doc.Objects))
	}
	first := doc.Objects[0]
	if first.ID != 0 || first.Type != "node" {
		t.Errorf("Objects[0] = %d %s", first.ID, first.Type)
	}
	fields := first.Value.(map[string]any)
	if fields["Name"] != "a" {
		t.Errorf("Name = %v", fields["Name"])
	}
	next := fields["Next"].(map[string]any)
	if next[RefKey] != int32(1) {
		t.Errorf("Next = %v, want reference to 1", next)
	}
	if doc.Aliases["second"] != 1 {
		t.Errorf("Aliases = %v", doc.Aliases)
	}
}

func TestSnapshot_Codecs(t *testing.T) {
	doc := Snapshot(cycleResult(t))
	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			c, err := codec.ByName(name)
			if err != nil {
				t.Fatal(err)
			}
			data, err := doc.Encode(c)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if name == "json" && !strings.Contains(string(data), `"$ref":1`) {
				t.Errorf("json output lacks reference: %s", data)
			}
			back, err := DecodeSnapshot(c, data)
			if err != nil {
				t.Fatalf("DecodeSnapshot: %v", err)
			}
			if len(back.Objects) != 2 || back.Objects[1].Type != "node" {
				t.Errorf("decoded = %+v", back)
			}
		})
	}
}
