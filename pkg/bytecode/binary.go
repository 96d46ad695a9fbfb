package bytecode

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
	"unicode/utf8"

	"github.com/chazu/wireform/internal/wferr"
)

// ---------------------------------------------------------------------------
// Binary codec
//
//	record   = opcode:u8 argc:u8 arg*
//	arg      = prefix:u8 payload
//	STRING, MULTILINE_STRING, DECIMAL payload = len:i32 utf8
//	REF      = id:i32
//	STACK, DEFAULT, NULL carry no payload
//
// All integers are little-endian.
// ---------------------------------------------------------------------------

// maxBinaryString bounds a single length-prefixed payload.
const maxBinaryString = 64 << 20

// MemberTypeResolver supplies declared Go types so the binary encoder can
// write untyped numbers at the width of the member they are assigned to.
type MemberTypeResolver interface {
	// LookupType resolves a type name as written in DEFINE/LIST_START.
	LookupType(name string) (reflect.Type, bool)
	// MemberType returns the declared type of member on the named type.
	MemberType(typeName, member string) (reflect.Type, bool)
}

var decimalType = reflect.TypeOf(Decimal{})

// typeFrame mirrors one open DEFINE or LIST_START while encoding.
type typeFrame struct {
	name string
	list bool
	elem string
	key  string
}

// BinaryEncoder writes instructions in the tagged binary form.
type BinaryEncoder struct {
	w        io.Writer
	resolver MemberTypeResolver
	types    []typeFrame
	buf      []byte
}

// NewBinaryEncoder creates an encoder writing to w. resolver may be nil, in
// which case untyped numbers use NumberPrefix.
func NewBinaryEncoder(w io.Writer, resolver MemberTypeResolver) *BinaryEncoder {
	return &BinaryEncoder{w: w, resolver: resolver, buf: make([]byte, 0, 64)}
}

// Encode writes one instruction record.
func (e *BinaryEncoder) Encode(in Instruction) error {
	if len(in.Args) > math.MaxUint8 {
		return fmt.Errorf("%w: %s has %d arguments, at most 255 are encodable", wferr.ErrInvalidProgram, in.Op, len(in.Args))
	}
	hints := e.argHints(in)
	e.track(in)

	buf := e.buf[:0]
	buf = append(buf, byte(in.Op), byte(len(in.Args)))
	for i, arg := range in.Args {
		var err error
		buf, err = appendBinaryArg(buf, arg, hints[i])
		if err != nil {
			return fmt.Errorf("%s argument %d: %w", in.Op, i, err)
		}
	}
	e.buf = buf
	_, err := e.w.Write(buf)
	return err
}

// Terminate writes END_OF_DATA.
func (e *BinaryEncoder) Terminate() error {
	return e.Encode(NewInstruction(OpEndOfData))
}

// track maintains the type stack mirroring nested construction.
func (e *BinaryEncoder) track(in Instruction) {
	switch in.Op {
	case OpDefine:
		name, _ := in.Arg(0).(string)
		e.types = append(e.types, typeFrame{name: name})
	case OpListStart:
		f := typeFrame{list: true}
		f.elem, _ = in.Arg(0).(string)
		for _, a := range in.Args[1:] {
			if s, ok := a.(string); ok {
				f.key = s
			}
		}
		e.types = append(e.types, f)
	case OpEnd, OpListEnd:
		if len(e.types) > 0 {
			e.types = e.types[:len(e.types)-1]
		}
	}
}

// argHints returns, per argument, the declared type that an untyped number
// in that position will be assigned to, or nil.
func (e *BinaryEncoder) argHints(in Instruction) []reflect.Type {
	hints := make([]reflect.Type, len(in.Args))
	if e.resolver == nil {
		return hints
	}
	var top *typeFrame
	if len(e.types) > 0 {
		top = &e.types[len(e.types)-1]
	}

	switch in.Op {
	case OpSet, OpSetAccess:
		if in.Op == OpSetAccess && len(in.Args) == 3 {
			return hints
		}
		name, ok := in.Arg(0).(string)
		if ok && top != nil && !top.list && len(in.Args) > 1 {
			if t, ok := e.resolver.MemberType(top.name, name); ok {
				hints[1] = t
			}
		}
	case OpElement:
		if top == nil || !top.list {
			return hints
		}
		if t, ok := e.resolver.LookupType(top.elem); ok {
			hints[len(hints)-1] = t
		}
		if len(in.Args) == 2 && top.key != "" {
			if t, ok := e.resolver.LookupType(top.key); ok {
				hints[0] = t
			}
		}
	case OpAnonymousSet:
		if name, ok := in.Arg(0).(string); ok && len(in.Args) == 3 {
			if t, ok := e.resolver.LookupType(name); ok {
				hints[2] = t
			}
		}
	}
	return hints
}

// EncodeBinary renders a whole sequence.
func EncodeBinary(instrs []Instruction, resolver MemberTypeResolver) ([]byte, error) {
	var buf bytes.Buffer
	enc := NewBinaryEncoder(&buf, resolver)
	for _, in := range instrs {
		if err := enc.Encode(in); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// prefixForType maps a declared Go type to the tag that stores it exactly.
func prefixForType(t reflect.Type) (ValuePrefix, bool) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return 0, false
	}
	if t == decimalType {
		return PrefixDecimal, true
	}
	switch t.Kind() {
	case reflect.Int8:
		return PrefixSByte, true
	case reflect.Uint8:
		return PrefixByte, true
	case reflect.Int16:
		return PrefixShort, true
	case reflect.Uint16:
		return PrefixUShort, true
	case reflect.Int32:
		return PrefixInt, true
	case reflect.Uint32:
		return PrefixUInt, true
	case reflect.Int64, reflect.Int:
		return PrefixLong, true
	case reflect.Uint64, reflect.Uint, reflect.Uintptr:
		return PrefixULong, true
	case reflect.Float32:
		return PrefixFloat, true
	case reflect.Float64:
		return PrefixDouble, true
	}
	return 0, false
}

func appendBinaryArg(buf []byte, arg any, hint reflect.Type) ([]byte, error) {
	if n, ok := arg.(Number); ok {
		if _, valid := ParseNumber(string(n)); !valid {
			return nil, fmt.Errorf("%w: malformed number literal %q", wferr.ErrInvalidProgram, string(n))
		}
		if p, ok := prefixForType(hint); ok {
			if v, fits := NumberAs(n, p); fits {
				arg = v
			}
		}
		if _, still := arg.(Number); still {
			v, fits := NumberAs(n, NumberPrefix(n))
			if !fits {
				if v, fits = NumberAs(n, PrefixDecimal); !fits {
					return nil, fmt.Errorf("%w: number literal %q has no binary representation", wferr.ErrInvalidProgram, string(n))
				}
			}
			arg = v
		}
	}

	p, ok := PrefixOf(arg)
	if !ok {
		return nil, fmt.Errorf("%w: cannot encode argument of type %T", wferr.ErrInvalidProgram, arg)
	}
	buf = append(buf, byte(p))
	le := binary.LittleEndian

	switch v := arg.(type) {
	case nil, Stack, Default:
	case string:
		buf = appendString(buf, v)
	case MultilineString:
		buf = appendString(buf, string(v))
	case Decimal:
		buf = appendString(buf, v.String())
	case Ref:
		buf = le.AppendUint32(buf, uint32(int32(v)))
	case bool:
		if v {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case int32:
		buf = le.AppendUint32(buf, uint32(v))
	case int16:
		buf = le.AppendUint16(buf, uint16(v))
	case uint16:
		buf = le.AppendUint16(buf, v)
	case uint32:
		buf = le.AppendUint32(buf, v)
	case int64:
		buf = le.AppendUint64(buf, uint64(v))
	case uint64:
		buf = le.AppendUint64(buf, v)
	case float32:
		buf = le.AppendUint32(buf, math.Float32bits(v))
	case float64:
		buf = le.AppendUint64(buf, math.Float64bits(v))
	case uint8:
		buf = append(buf, v)
	case int8:
		buf = append(buf, byte(v))
	case Char:
		buf = le.AppendUint32(buf, uint32(v))
	}
	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(len(s))))
	return append(buf, s...)
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// BinaryDecoder reads the tagged binary form.
type BinaryDecoder struct {
	r       *bufio.Reader
	offset  int64
	done    bool
	scratch [8]byte
}

// NewBinaryDecoder creates a decoder reading from r.
func NewBinaryDecoder(r io.Reader) *BinaryDecoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &BinaryDecoder{r: br}
}

// Offset returns the number of bytes consumed so far.
func (d *BinaryDecoder) Offset() int64 { return d.offset }

// Next decodes the next instruction record.
func (d *BinaryDecoder) Next() (Instruction, error) {
	if d.done {
		return Instruction{}, io.EOF
	}
	start := d.offset
	opByte, err := d.r.ReadByte()
	if err == io.EOF {
		d.done = true
		return Instruction{}, io.EOF
	}
	if err != nil {
		return Instruction{}, err
	}
	d.offset++

	op := Opcode(opByte)
	if !op.Valid() {
		return Instruction{}, wferr.NewBinaryFormatError(start, "unknown opcode 0x%02X", opByte)
	}
	argc, err := d.readByte("argument count")
	if err != nil {
		return Instruction{}, err
	}

	var args []any
	if argc > 0 {
		args = make([]any, 0, argc)
	}
	for i := 0; i < int(argc); i++ {
		arg, err := d.readArg()
		if err != nil {
			return Instruction{}, err
		}
		args = append(args, arg)
	}
	if op == OpEndOfData {
		d.done = true
	}
	return Instruction{Op: op, Args: args}, nil
}

// DecodeBinary decodes a whole binary program.
func DecodeBinary(data []byte) ([]Instruction, error) {
	return ReadAll(NewBinaryDecoder(bytes.NewReader(data)))
}

func (d *BinaryDecoder) readByte(what string) (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, d.truncated(what, err)
	}
	d.offset++
	return b, nil
}

func (d *BinaryDecoder) readN(n int, what string) ([]byte, error) {
	buf := d.scratch[:n]
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, d.truncated(what, err)
	}
	d.offset += int64(n)
	return buf, nil
}

func (d *BinaryDecoder) truncated(what string, err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return wferr.NewBinaryFormatError(d.offset, "truncated stream reading %s", what)
	}
	return err
}

func (d *BinaryDecoder) readString(what string) (string, error) {
	b, err := d.readN(4, what+" length")
	if err != nil {
		return "", err
	}
	n := int32(binary.LittleEndian.Uint32(b))
	if n < 0 || n > maxBinaryString {
		return "", wferr.NewBinaryFormatError(d.offset-4, "invalid %s length %d", what, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return "", d.truncated(what, err)
	}
	d.offset += int64(n)
	if !utf8.Valid(data) {
		return "", wferr.NewBinaryFormatError(d.offset-int64(n), "%s is not valid UTF-8", what)
	}
	return string(data), nil
}

func (d *BinaryDecoder) readArg() (any, error) {
	at := d.offset
	pb, err := d.readByte("value prefix")
	if err != nil {
		return nil, err
	}
	p := ValuePrefix(pb)
	le := binary.LittleEndian

	switch p {
	case PrefixNull:
		return nil, nil
	case PrefixStack:
		return Stack{}, nil
	case PrefixDefault:
		return Default{}, nil
	case PrefixString:
		return d.readString("string")
	case PrefixMultilineString:
		s, err := d.readString("multi-line string")
		return MultilineString(s), err
	case PrefixDecimal:
		s, err := d.readString("decimal")
		if err != nil {
			return nil, err
		}
		dec, err := ParseDecimal(s)
		if err != nil {
			return nil, wferr.NewBinaryFormatError(at, "%v", err)
		}
		return dec, nil
	case PrefixBool:
		b, err := d.readByte("bool")
		if err != nil {
			return nil, err
		}
		if b > 1 {
			return nil, wferr.NewBinaryFormatError(at, "invalid bool byte 0x%02X", b)
		}
		return b == 1, nil
	case PrefixByte:
		b, err := d.readByte("byte")
		return b, err
	case PrefixSByte:
		b, err := d.readByte("sbyte")
		return int8(b), err
	case PrefixShort, PrefixUShort:
		b, err := d.readN(2, p.String())
		if err != nil {
			return nil, err
		}
		v := le.Uint16(b)
		if p == PrefixShort {
			return int16(v), nil
		}
		return v, nil
	case PrefixInt, PrefixUInt, PrefixRef, PrefixFloat, PrefixChar:
		b, err := d.readN(4, p.String())
		if err != nil {
			return nil, err
		}
		v := le.Uint32(b)
		switch p {
		case PrefixInt:
			return int32(v), nil
		case PrefixUInt:
			return v, nil
		case PrefixRef:
			return Ref(int32(v)), nil
		case PrefixFloat:
			return math.Float32frombits(v), nil
		default:
			return Char(rune(v)), nil
		}
	case PrefixLong, PrefixULong, PrefixDouble:
		b, err := d.readN(8, p.String())
		if err != nil {
			return nil, err
		}
		v := le.Uint64(b)
		switch p {
		case PrefixLong:
			return int64(v), nil
		case PrefixULong:
			return v, nil
		default:
			return math.Float64frombits(v), nil
		}
	}
	return nil, wferr.NewBinaryFormatError(at, "unknown value prefix 0x%02X", pb)
}
