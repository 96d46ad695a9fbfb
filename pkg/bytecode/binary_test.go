package bytecode

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/wireform/internal/wferr"
)

type vector2 struct {
	X float32
	Y int8
}

// fakeResolver knows a single record type plus the primitive names.
type fakeResolver struct{}

func (fakeResolver) LookupType(name string) (reflect.Type, bool) {
	switch name {
	case "Vector2":
		return reflect.TypeOf(vector2{}), true
	case "uint8":
		return reflect.TypeOf(uint8(0)), true
	case "float64":
		return reflect.TypeOf(float64(0)), true
	case "string":
		return reflect.TypeOf(""), true
	}
	return nil, false
}

func (r fakeResolver) MemberType(typeName, member string) (reflect.Type, bool) {
	t, ok := r.LookupType(typeName)
	if !ok || t.Kind() != reflect.Struct {
		return nil, false
	}
	f, ok := t.FieldByName(member)
	if !ok {
		return nil, false
	}
	return f.Type, true
}

func TestBinaryRoundTrip(t *testing.T) {
	prog := sampleProgram(t)
	data, err := EncodeBinary(prog, nil)
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}
	got, err := DecodeBinary(data)
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}
	if !SequenceEqual(prog, got) {
		t.Errorf("round trip mismatch")
		for i := range prog {
			if i < len(got) && !prog[i].Equal(got[i]) {
				t.Errorf("  [%d] got %s, want %s", i, got[i], prog[i])
			}
		}
	}
}

func TestBinaryKeepsNumbersBeyondDouble(t *testing.T) {
	for _, lit := range []Number{"1e400", "-7.25e1000"} {
		prog := []Instruction{NewInstruction(OpPush, lit)}
		data, err := EncodeBinary(prog, nil)
		if err != nil {
			t.Fatalf("EncodeBinary(%s): %v", lit, err)
		}
		got, err := DecodeBinary(data)
		if err != nil {
			t.Fatalf("DecodeBinary(%s): %v", lit, err)
		}
		if len(got) != 1 {
			t.Fatalf("decoded %d instructions, want 1", len(got))
		}
		if _, ok := got[0].Args[0].(Decimal); !ok {
			t.Errorf("%s decoded as %T, want Decimal", lit, got[0].Args[0])
		}
		if !SequenceEqual(prog, got) {
			t.Errorf("round trip of %s = %s", lit, got[0])
		}
	}
}

func TestBinaryTextAgree(t *testing.T) {
	prog := sampleProgram(t)
	bin, err := EncodeBinary(prog, fakeResolver{})
	if err != nil {
		t.Fatal(err)
	}
	fromBin, err := DecodeBinary(bin)
	if err != nil {
		t.Fatal(err)
	}
	txt, err := EncodeText(fromBin)
	if err != nil {
		t.Fatal(err)
	}
	fromTxt, err := DecodeText(txt)
	if err != nil {
		t.Fatal(err)
	}
	if !SequenceEqual(prog, fromTxt) {
		t.Errorf("binary -> text round trip lost information:\n%s", txt)
	}
}

func TestBinaryNarrowsNumbersToMemberTypes(t *testing.T) {
	prog := []Instruction{
		Define("Vector2", 1, 0),
		Set("X", Number("3")),
		Set("Y", Number("-4")),
		Set("Missing", Number("5")),
		End(),
		NewInstruction(OpListStart, "uint8", int32(2)),
		NewInstruction(OpElement, Number("200")),
		NewInstruction(OpElement, Number("300")),
		NewInstruction(OpListEnd),
		NewInstruction(OpListStart, "float64", int32(3), "string"),
		NewInstruction(OpElement, "k", Number("1")),
		NewInstruction(OpListEnd),
		NewInstruction(OpAnonymousSet, "uint8", "Field", Number("7")),
	}
	data, err := EncodeBinary(prog, fakeResolver{})
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}
	got, err := DecodeBinary(data)
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}

	tests := []struct {
		instr, arg int
		want       any
	}{
		{1, 1, float32(3)},
		{2, 1, int8(-4)},
		{3, 1, int32(5)},   // unknown member: general narrowing
		{6, 0, uint8(200)},
		{7, 0, int32(300)}, // does not fit the element type
		{10, 1, float64(1)},
		{12, 2, uint8(7)},
	}
	for _, tt := range tests {
		arg := got[tt.instr].Arg(tt.arg)
		if arg != tt.want {
			t.Errorf("instr %d (%s) arg %d = %#v, want %#v", tt.instr, got[tt.instr], tt.arg, arg, tt.want)
		}
	}
	if !SequenceEqual(prog, got) {
		t.Error("narrowed program is not equivalent to the source")
	}
}

func TestBinaryRecordLayout(t *testing.T) {
	data, err := EncodeBinary([]Instruction{Set("X", int32(5))}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		byte(OpSet), 2,
		byte(PrefixString), 1, 0, 0, 0, 'X',
		byte(PrefixInt), 5, 0, 0, 0,
	}
	if !bytes.Equal(data, want) {
		t.Errorf("encoded = % x, want % x", data, want)
	}
}

func TestBinaryDecodeErrors(t *testing.T) {
	good, err := EncodeBinary([]Instruction{Set("X", int32(5))}, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		data   []byte
		offset int64
	}{
		{"unknown opcode", []byte{0x77, 0}, 0},
		{"missing argc", []byte{byte(OpEnd)}, 1},
		{"unknown prefix", []byte{byte(OpPush), 1, 99}, 2},
		{"truncated int", good[:len(good)-1], 9},
		{"truncated string", []byte{byte(OpPush), 1, byte(PrefixString), 9, 0, 0, 0, 'a'}, 7},
		{"negative length", []byte{byte(OpPush), 1, byte(PrefixString), 0xff, 0xff, 0xff, 0xff}, 3},
		{"bad bool", []byte{byte(OpPush), 1, byte(PrefixBool), 2}, 2},
		{"bad utf8", []byte{byte(OpPush), 1, byte(PrefixString), 1, 0, 0, 0, 0xff}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBinary(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, wferr.ErrFormat) {
				t.Errorf("error %v is not ErrFormat", err)
			}
			var fe *wferr.FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("error %T is not *FormatError", err)
			}
			if fe.Offset != tt.offset {
				t.Errorf("Offset = %d, want %d (%v)", fe.Offset, tt.offset, err)
			}
		})
	}
}

func TestBinaryStopsAtEndOfData(t *testing.T) {
	data, err := EncodeBinary([]Instruction{End(), NewInstruction(OpEndOfData)}, nil)
	if err != nil {
		t.Fatal(err)
	}
	data = append(data, 0x77, 0x77, 0x77)
	got, err := DecodeBinary(data)
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d instructions, want 2", len(got))
	}
}

func TestBinaryEncodeRejectsTooManyArgs(t *testing.T) {
	args := make([]any, 256)
	for i := range args {
		args[i] = int32(i)
	}
	_, err := EncodeBinary([]Instruction{NewInstruction(OpPush, args...)}, nil)
	if !errors.Is(err, wferr.ErrInvalidProgram) {
		t.Errorf("error = %v, want ErrInvalidProgram", err)
	}
}

func TestBinaryDecoderStreaming(t *testing.T) {
	prog := sampleProgram(t)
	data, err := EncodeBinary(prog, nil)
	if err != nil {
		t.Fatal(err)
	}
	dec := NewBinaryDecoder(bytes.NewReader(data))
	n := 0
	for {
		_, err := dec.Next()
		if err != nil {
			break
		}
		n++
	}
	if n != len(prog) {
		t.Errorf("decoded %d instructions, want %d", n, len(prog))
	}
	if dec.Offset() != int64(len(data)) {
		t.Errorf("Offset() = %d, want %d", dec.Offset(), len(data))
	}
}
