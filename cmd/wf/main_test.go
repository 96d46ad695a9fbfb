package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/wireform/internal/codec"
	"github.com/chazu/wireform/manifest"
	"github.com/chazu/wireform/pkg/bytecode"
	"github.com/chazu/wireform/vm"
)

const boxProgram = `DEFINE "record" 0 0
SET "name" "box"
SET "size" 3
END
ALIAS 0 "box"
RET 0
`

type testApp struct {
	*app
	dir    string
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	dir := t.TempDir()
	a := newApp(manifest.Default(dir))
	ta := &testApp{app: a, dir: dir, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	a.stdout, a.stderr = ta.stdout, ta.stderr
	a.stdin = strings.NewReader("")
	t.Cleanup(a.close)
	return ta
}

func (ta *testApp) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(ta.dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func (ta *testApp) do(t *testing.T, cmd string, args ...string) {
	t.Helper()
	if err := ta.dispatch(cmd, args); err != nil {
		t.Fatalf("wf %s %v: %v\nstderr: %s", cmd, args, err, ta.stderr)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ta := newTestApp(t)
	src := ta.write(t, "box.wft", boxProgram)
	bin := filepath.Join(ta.dir, "box.wfb")

	ta.do(t, "encode", "-o", bin, src)
	data, err := os.ReadFile(bin)
	if err != nil {
		t.Fatal(err)
	}
	if bytecode.DetectEncoding(data) != bytecode.EncodingBinary {
		t.Errorf("encode output detected as %s, want binary", bytecode.DetectEncoding(data))
	}

	ta.do(t, "decode", bin)
	got, err := bytecode.DecodeText(ta.stdout.Bytes())
	if err != nil {
		t.Fatalf("decoded text does not parse: %v\n%s", err, ta.stdout)
	}
	want, _ := bytecode.DecodeText([]byte(boxProgram))
	if !bytecode.SequenceEqual(got, want) {
		t.Errorf("round trip = %v, want %v", got, want)
	}
}

func TestDecodeRejectsText(t *testing.T) {
	ta := newTestApp(t)
	src := ta.write(t, "box.wft", boxProgram)
	if err := ta.dispatch("decode", []string{src}); err == nil {
		t.Error("expected decode of a text program to fail")
	}
}

func TestRun(t *testing.T) {
	ta := newTestApp(t)
	src := ta.write(t, "box.wft", boxProgram)

	ta.do(t, "run", src)
	out := ta.stdout.String()
	for _, want := range []string{`"box"`, `"aliases"`, `"root"`} {
		if !strings.Contains(out, want) {
			t.Errorf("run output missing %s\n%s", want, out)
		}
	}
}

func TestRun_MsgPackAndProgress(t *testing.T) {
	ta := newTestApp(t)
	src := ta.write(t, "box.wft", boxProgram)

	ta.do(t, "run", "-codec", "msgpack", "-progress", "instance", src)
	doc, err := vm.DecodeSnapshot(codec.MsgPack{}, ta.stdout.Bytes())
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if id, ok := doc.Aliases["box"]; !ok || id != 0 {
		t.Errorf("Aliases = %v, want box → 0", doc.Aliases)
	}
	if !strings.Contains(ta.stderr.String(), "progress 4/6") {
		t.Errorf("stderr = %q, want a progress report for the END", ta.stderr)
	}
}

func TestRun_Failure(t *testing.T) {
	ta := newTestApp(t)
	src := ta.write(t, "bad.wft", "SET \"name\" \"orphan\"\n")
	err := ta.dispatch("run", []string{src})
	if err == nil {
		t.Fatal("expected SET without DEFINE to fail")
	}
	if !strings.Contains(err.Error(), "bad.wft") {
		t.Errorf("error %q should name the file", err)
	}
}

func TestRun_ImportFromLibrary(t *testing.T) {
	ta := newTestApp(t)
	src := ta.write(t, "box.wft", boxProgram)
	ta.do(t, "store", "put", "box", src)
	ta.stdout.Reset()

	prog := ta.write(t, "main.wft", "IMPORT \"box\" 0\nRET 0\n")
	ta.do(t, "run", prog)
	if !strings.Contains(ta.stdout.String(), `"box"`) {
		t.Errorf("run output missing imported record\n%s", ta.stdout)
	}
}

func TestPackUnpack(t *testing.T) {
	ta := newTestApp(t)
	src := ta.write(t, "box.wft", boxProgram)
	bundle := filepath.Join(ta.dir, "box.wfx")

	ta.do(t, "pack", "-binary", "-o", bundle, src)
	raw, err := os.ReadFile(bundle)
	if err != nil {
		t.Fatal(err)
	}
	if !isBundle(raw) {
		t.Fatalf("pack output does not look like a bundle: % x", raw[:4])
	}
	b, err := bytecode.UnmarshalBundle(raw)
	if err != nil {
		t.Fatalf("UnmarshalBundle: %v", err)
	}
	if b.Name != "box" || b.Encoding != bytecode.EncodingBinary || b.Count != 6 {
		t.Errorf("bundle = %s/%s/%d, want box/binary/6", b.Name, b.Encoding, b.Count)
	}

	ta.do(t, "unpack", "-text", bundle)
	if _, err := bytecode.DecodeText(ta.stdout.Bytes()); err != nil {
		t.Errorf("unpack -text output does not parse: %v", err)
	}

	// Bundles run directly.
	ta.stdout.Reset()
	ta.do(t, "run", bundle)
	if !strings.Contains(ta.stdout.String(), `"box"`) {
		t.Errorf("running bundle missing record\n%s", ta.stdout)
	}
}

func TestPack_StdinNeedsName(t *testing.T) {
	ta := newTestApp(t)
	ta.stdin = strings.NewReader(boxProgram)
	if err := ta.dispatch("pack", nil); err == nil {
		t.Error("expected pack from stdin without -name to fail")
	}
}

func TestStore(t *testing.T) {
	ta := newTestApp(t)
	src := ta.write(t, "box.wft", boxProgram)

	ta.do(t, "store", "put", "box", src)
	if !strings.Contains(ta.stdout.String(), "box ") || !strings.Contains(ta.stdout.String(), "(6 instructions)") {
		t.Errorf("put output = %q", ta.stdout)
	}

	ta.stdout.Reset()
	ta.do(t, "store", "list")
	if lines := strings.Split(strings.TrimSpace(ta.stdout.String()), "\n"); len(lines) != 2 || !strings.HasPrefix(lines[1], "box") {
		t.Errorf("list output = %q", ta.stdout)
	}

	ta.stdout.Reset()
	ta.do(t, "store", "get", "box")
	if !strings.Contains(ta.stdout.String(), "DEFINE") {
		t.Errorf("get output = %q", ta.stdout)
	}

	ta.do(t, "store", "rm", "box")
	if err := ta.dispatch("store", []string{"get", "box"}); err == nil {
		t.Error("expected get after rm to fail")
	}
}

func TestStoreTemplate(t *testing.T) {
	ta := newTestApp(t)
	body := ta.write(t, "mkbox.wft", "DEFINE \"record\" 0 0\nSET \"name\" \"box\"\nEND\nRET 0\n")

	ta.do(t, "store", "template", "-p", "name", "-p", "size:int32", "mkbox", body)
	if got := strings.TrimSpace(ta.stdout.String()); got != "mkbox(any, int32)" {
		t.Errorf("template output = %q, want %q", got, "mkbox(any, int32)")
	}

	lib, err := ta.library()
	if err != nil {
		t.Fatal(err)
	}
	g, err := lib.Templates("mkbox", ta.reg)
	if err != nil {
		t.Fatalf("Templates: %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("overloads = %d, want 1", g.Len())
	}

	if err := ta.dispatch("store", []string{"template", "-p", "x:nosuchtype", "bad", body}); err == nil {
		t.Error("expected unknown parameter type to fail")
	}
}

func TestGenList(t *testing.T) {
	ta := newTestApp(t)
	ta.do(t, "gen", "-list", "image")
	out := ta.stdout.String()
	for _, want := range []string{"image (image)", "  RGBA", "    NewRGBA/1", "    X int"} {
		if !strings.Contains(out, want) {
			t.Errorf("gen -list output missing %q", want)
		}
	}
}

func TestGen_NoPackages(t *testing.T) {
	ta := newTestApp(t)
	if err := ta.dispatch("gen", nil); err == nil {
		t.Error("expected gen without packages to fail")
	}
}

func TestUnknownCommand(t *testing.T) {
	ta := newTestApp(t)
	if err := ta.dispatch("frobnicate", nil); err == nil {
		t.Error("expected unknown command to fail")
	}
}

func TestLoadProgram(t *testing.T) {
	want, err := bytecode.DecodeText([]byte(boxProgram))
	if err != nil {
		t.Fatal(err)
	}
	bin, err := bytecode.EncodeBinary(want, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := bytecode.NewBundle("box", bytecode.EncodingText, want, nil)
	if err != nil {
		t.Fatal(err)
	}
	bundle, err := bytecode.MarshalBundle(b)
	if err != nil {
		t.Fatal(err)
	}

	for name, data := range map[string][]byte{"text": []byte(boxProgram), "binary": bin, "bundle": bundle} {
		got, err := loadProgram(data)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if !bytecode.SequenceEqual(got, want) {
			t.Errorf("%s: got %v, want %v", name, got, want)
		}
	}
}
