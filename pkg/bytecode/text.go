package bytecode

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/wireform/internal/wferr"
)

// ---------------------------------------------------------------------------
// Text codec: one instruction per line
//
//	DEFINE "Vector2" 0i 0i
//	SET "X" 10
//	END
//	RET _ref(0)
//
// Bare numbers are untyped (Number). Typed numerics carry a suffix:
// i int32, s int16, us uint16, u uint32, l int64, ul uint64, b uint8,
// sb int8, f float32, d float64, m decimal.
// ---------------------------------------------------------------------------

// maxTextLine bounds a single line, which bounds the longest string literal.
const maxTextLine = 16 << 20

// TextEncoder writes instructions in the line-oriented text form.
type TextEncoder struct {
	w       *bufio.Writer
	numeric bool
}

// TextOption configures a TextEncoder.
type TextOption func(*TextEncoder)

// WithNumericOpcodes writes opcodes as integers instead of names.
func WithNumericOpcodes() TextOption {
	return func(e *TextEncoder) { e.numeric = true }
}

// NewTextEncoder creates an encoder writing to w.
func NewTextEncoder(w io.Writer, opts ...TextOption) *TextEncoder {
	e := &TextEncoder{w: bufio.NewWriter(w)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode writes one instruction line.
func (e *TextEncoder) Encode(in Instruction) error {
	if err := writeTextInstruction(e.w, in, e.numeric); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return nil
}

// Terminate writes the WF_ENDOFDATA line and flushes. Use it for stream
// sinks whose reader has no natural end of file.
func (e *TextEncoder) Terminate() error {
	if err := e.Encode(NewInstruction(OpEndOfData)); err != nil {
		return err
	}
	return e.Flush()
}

// Flush flushes buffered output.
func (e *TextEncoder) Flush() error {
	return e.w.Flush()
}

// EncodeText renders a whole sequence.
func EncodeText(instrs []Instruction, opts ...TextOption) ([]byte, error) {
	var buf bytes.Buffer
	enc := NewTextEncoder(&buf, opts...)
	for _, in := range instrs {
		if err := enc.Encode(in); err != nil {
			return nil, err
		}
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type stringWriter interface {
	WriteString(s string) (int, error)
}

func writeTextInstruction(w stringWriter, in Instruction, numeric bool) error {
	if in.Op == OpEndOfData {
		_, err := w.WriteString(EndOfDataLine)
		return err
	}
	name := in.Op.String()
	if numeric || !in.Op.Valid() {
		name = strconv.Itoa(int(in.Op))
	}
	if _, err := w.WriteString(name); err != nil {
		return err
	}
	for i, arg := range in.Args {
		s, err := FormatTextArg(arg)
		if err != nil {
			return fmt.Errorf("%s argument %d: %w", in.Op, i, err)
		}
		if _, err := w.WriteString(" " + s); err != nil {
			return err
		}
	}
	return nil
}

// FormatTextArg renders a single argument in text form.
func FormatTextArg(arg any) (string, error) {
	switch v := arg.(type) {
	case nil:
		return "null", nil
	case Stack:
		return "_stack()", nil
	case Default:
		return "default", nil
	case Ref:
		return fmt.Sprintf("_ref(%d)", int32(v)), nil
	case bool:
		return strconv.FormatBool(v), nil
	case string:
		return quoteText(v), nil
	case MultilineString:
		return "m" + quoteText(string(v)), nil
	case Char:
		return strconv.QuoteRune(rune(v)), nil
	case Number:
		if _, ok := ParseNumber(string(v)); !ok {
			return "", fmt.Errorf("%w: malformed number literal %q", wferr.ErrInvalidProgram, string(v))
		}
		return string(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10) + "i", nil
	case int16:
		return strconv.FormatInt(int64(v), 10) + "s", nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10) + "us", nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10) + "u", nil
	case int64:
		return strconv.FormatInt(v, 10) + "l", nil
	case uint64:
		return strconv.FormatUint(v, 10) + "ul", nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10) + "b", nil
	case int8:
		return strconv.FormatInt(int64(v), 10) + "sb", nil
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32) + "f", nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64) + "d", nil
	case Decimal:
		return v.String() + "m", nil
	}
	return "", fmt.Errorf("%w: cannot encode argument of type %T", wferr.ErrInvalidProgram, arg)
}

func quoteText(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&sb, `\u%04x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Decoder yields instructions one at a time. Next returns io.EOF at the
// natural end of input; after END_OF_DATA it returns io.EOF without reading
// further.
type Decoder interface {
	Next() (Instruction, error)
}

// TextDecoder reads the line-oriented text form.
type TextDecoder struct {
	sc   *bufio.Scanner
	line int
	done bool
}

// NewTextDecoder creates a decoder reading from r.
func NewTextDecoder(r io.Reader) *TextDecoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxTextLine)
	return &TextDecoder{sc: sc}
}

// Line returns the number of the last line read.
func (d *TextDecoder) Line() int { return d.line }

// Next decodes the next instruction.
func (d *TextDecoder) Next() (Instruction, error) {
	if d.done {
		return Instruction{}, io.EOF
	}
	for d.sc.Scan() {
		d.line++
		in, ok, err := ParseTextLine(d.sc.Text(), d.line)
		if err != nil {
			return Instruction{}, err
		}
		if !ok {
			continue
		}
		if in.Op == OpEndOfData {
			d.done = true
		}
		return in, nil
	}
	if err := d.sc.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return Instruction{}, wferr.NewTextFormatError(d.line+1, "line exceeds %d bytes", maxTextLine)
		}
		return Instruction{}, err
	}
	d.done = true
	return Instruction{}, io.EOF
}

// DecodeText decodes a whole text program.
func DecodeText(data []byte) ([]Instruction, error) {
	return ReadAll(NewTextDecoder(bytes.NewReader(data)))
}

// ReadAll drains a decoder.
func ReadAll(d Decoder) ([]Instruction, error) {
	var out []Instruction
	for {
		in, err := d.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
}

// ParseTextLine parses one line. ok is false for blank and comment lines.
func ParseTextLine(raw string, lineNo int) (Instruction, bool, error) {
	if !utf8.ValidString(raw) {
		return Instruction{}, false, wferr.NewTextFormatError(lineNo, "invalid UTF-8")
	}
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "//") {
		return Instruction{}, false, nil
	}
	if line == EndOfDataLine {
		return NewInstruction(OpEndOfData), true, nil
	}

	toks, err := tokenizeText(line)
	if err != nil {
		return Instruction{}, false, wferr.NewTextFormatError(lineNo, "%v", err)
	}
	if len(toks) == 0 {
		return Instruction{}, false, nil
	}
	if toks[0].kind != tokBare {
		return Instruction{}, false, wferr.NewTextFormatError(lineNo, "expected opcode, got %s", toks[0].kind)
	}
	op, ok := ParseOpcode(toks[0].text)
	if !ok {
		return Instruction{}, false, wferr.NewTextFormatError(lineNo, "unknown opcode %q", toks[0].text)
	}

	args := make([]any, 0, len(toks)-1)
	for _, tok := range toks[1:] {
		arg, err := parseTextArg(tok)
		if err != nil {
			return Instruction{}, false, wferr.NewTextFormatError(lineNo, "%v", err)
		}
		args = append(args, arg)
	}
	if len(args) == 0 {
		args = nil
	}
	return Instruction{Op: op, Args: args}, true, nil
}

type tokenKind int

const (
	tokBare tokenKind = iota
	tokString
	tokMultiline
	tokChar
)

func (k tokenKind) String() string {
	switch k {
	case tokBare:
		return "word"
	case tokString:
		return "string"
	case tokMultiline:
		return "multi-line string"
	case tokChar:
		return "char"
	default:
		return fmt.Sprintf("tokenKind(%d)", int(k))
	}
}

type textToken struct {
	kind tokenKind
	text string
}

// tokenizeText splits a line into tokens. "//" outside a literal starts a
// trailing comment; "->" separates tokens like whitespace.
func tokenizeText(line string) ([]textToken, error) {
	var toks []textToken
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case strings.HasPrefix(line[i:], "//"):
			return toks, nil
		case strings.HasPrefix(line[i:], "->"):
			i += 2
		case c == '"':
			s, n, err := scanQuoted(line[i:])
			if err != nil {
				return nil, err
			}
			toks = append(toks, textToken{kind: tokString, text: s})
			i += n
		case c == 'm' && i+1 < len(line) && line[i+1] == '"':
			s, n, err := scanQuoted(line[i+1:])
			if err != nil {
				return nil, err
			}
			toks = append(toks, textToken{kind: tokMultiline, text: s})
			i += n + 1
		case c == '\'':
			end := i + 1
			for end < len(line) && line[end] != '\'' {
				if line[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(line) {
				return nil, fmt.Errorf("unterminated char literal")
			}
			toks = append(toks, textToken{kind: tokChar, text: line[i : end+1]})
			i = end + 1
		default:
			start := i
			for i < len(line) && line[i] != ' ' && line[i] != '\t' && line[i] != '"' &&
				!strings.HasPrefix(line[i:], "//") && !strings.HasPrefix(line[i:], "->") {
				i++
			}
			toks = append(toks, textToken{kind: tokBare, text: line[start:i]})
		}
	}
	return toks, nil
}

// scanQuoted reads a double-quoted literal at the start of s and returns
// its unescaped content and the number of bytes consumed.
func scanQuoted(s string) (string, int, error) {
	var sb strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		switch c {
		case '"':
			return sb.String(), i + 1, nil
		case '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("dangling escape in string literal")
			}
			esc := s[i+1]
			switch esc {
			case '"', '\\', '/', '\'':
				sb.WriteByte(esc)
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '0':
				sb.WriteByte(0)
			case 'u':
				if i+6 > len(s) {
					return "", 0, fmt.Errorf("short \\u escape")
				}
				n, err := strconv.ParseUint(s[i+2:i+6], 16, 16)
				if err != nil {
					return "", 0, fmt.Errorf("bad \\u escape %q", s[i:i+6])
				}
				sb.WriteRune(rune(n))
				i += 4
			default:
				return "", 0, fmt.Errorf("unknown escape \\%c", esc)
			}
			i += 2
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated string literal")
}

func parseTextArg(tok textToken) (any, error) {
	switch tok.kind {
	case tokString:
		return tok.text, nil
	case tokMultiline:
		return MultilineString(tok.text), nil
	case tokChar:
		s, err := strconv.Unquote(tok.text)
		if err != nil || utf8.RuneCountInString(s) != 1 {
			return nil, fmt.Errorf("bad char literal %s", tok.text)
		}
		r, _ := utf8.DecodeRuneInString(s)
		return Char(r), nil
	}

	word := tok.text
	switch word {
	case "null":
		return nil, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "default":
		return Default{}, nil
	case "_stack()":
		return Stack{}, nil
	}
	if strings.HasPrefix(word, "_ref(") && strings.HasSuffix(word, ")") {
		id, err := strconv.ParseInt(word[5:len(word)-1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad reference %s", word)
		}
		return Ref(id), nil
	}
	if strings.HasPrefix(word, "<") && strings.HasSuffix(word, ">") && len(word) > 2 {
		return word[1 : len(word)-1], nil
	}
	if n, ok := ParseNumber(word); ok {
		return n, nil
	}
	if v, ok := parseSuffixed(word); ok {
		return v, nil
	}
	return nil, fmt.Errorf("unrecognized argument %q", word)
}

var numericSuffixes = []string{"ul", "us", "sb", "i", "s", "u", "l", "b", "f", "d", "m"}

func parseSuffixed(word string) (any, bool) {
	lower := strings.ToLower(word)
	for _, suf := range numericSuffixes {
		if !strings.HasSuffix(lower, suf) || len(lower) == len(suf) {
			continue
		}
		body := word[:len(word)-len(suf)]
		if v, ok := parseWithSuffix(body, suf); ok {
			return v, true
		}
	}
	return nil, false
}

func parseWithSuffix(body, suf string) (any, bool) {
	switch suf {
	case "i", "s", "sb", "l":
		bits := map[string]int{"i": 32, "s": 16, "sb": 8, "l": 64}[suf]
		n, err := strconv.ParseInt(body, 10, bits)
		if err != nil {
			return nil, false
		}
		switch suf {
		case "i":
			return int32(n), true
		case "s":
			return int16(n), true
		case "sb":
			return int8(n), true
		default:
			return n, true
		}
	case "u", "us", "b", "ul":
		bits := map[string]int{"u": 32, "us": 16, "b": 8, "ul": 64}[suf]
		n, err := strconv.ParseUint(body, 10, bits)
		if err != nil {
			return nil, false
		}
		switch suf {
		case "u":
			return uint32(n), true
		case "us":
			return uint16(n), true
		case "b":
			return uint8(n), true
		default:
			return n, true
		}
	case "f":
		f, err := strconv.ParseFloat(body, 32)
		if err != nil && !isRangeErr(err, f) {
			return nil, false
		}
		return float32(f), true
	case "d":
		f, err := strconv.ParseFloat(body, 64)
		if err != nil && !isRangeErr(err, f) {
			return nil, false
		}
		return f, true
	case "m":
		d, err := ParseDecimal(body)
		if err != nil {
			return nil, false
		}
		return d, true
	}
	return nil, false
}

// isRangeErr accepts overflow to ±Inf, which FormatFloat can produce.
func isRangeErr(err error, f float64) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange && math.IsInf(f, 0)
}
