package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/chazu/wireform/pkg/bytecode"
)

// isBundle reports whether data starts like a CBOR map. Such a byte is
// neither an opcode nor a valid UTF-8 lead byte, so it can't open a text
// or binary program.
func isBundle(data []byte) bool {
	return len(data) > 0 && data[0] >= 0xa0 && data[0] <= 0xbf
}

// loadProgram decodes a bundle, binary or text program.
func loadProgram(data []byte) ([]bytecode.Instruction, error) {
	if isBundle(data) {
		b, err := bytecode.UnmarshalBundle(data)
		if err != nil {
			return nil, err
		}
		return b.Instructions()
	}
	if bytecode.DetectEncoding(data) == bytecode.EncodingBinary {
		return bytecode.DecodeBinary(data)
	}
	return bytecode.DecodeText(data)
}

func (a *app) encode(args []string) error {
	fs := a.flags("encode")
	out := fs.String("o", "", "Output file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, name, err := a.input(fs.Args())
	if err != nil {
		return err
	}
	instrs, err := bytecode.DecodeText(data)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	bin, err := bytecode.EncodeBinary(instrs, a.reg)
	if err != nil {
		return err
	}
	return a.output(*out, bin)
}

func (a *app) decode(args []string) error {
	fs := a.flags("decode")
	out := fs.String("o", "", "Output file")
	numeric := fs.Bool("numeric", false, "Write opcodes as numbers")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, name, err := a.input(fs.Args())
	if err != nil {
		return err
	}
	instrs, err := bytecode.DecodeBinary(data)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	var opts []bytecode.TextOption
	if *numeric {
		opts = append(opts, bytecode.WithNumericOpcodes())
	}
	text, err := bytecode.EncodeText(instrs, opts...)
	if err != nil {
		return err
	}
	return a.output(*out, text)
}

func (a *app) disasm(args []string) error {
	fs := a.flags("disasm")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, name, err := a.input(fs.Args())
	if err != nil {
		return err
	}
	instrs, err := loadProgram(data)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	_, err = fmt.Fprint(a.stdout, bytecode.DisassembleWithName(instrs, name))
	return err
}

func (a *app) pack(args []string) error {
	fs := a.flags("pack")
	out := fs.String("o", "", "Output file")
	name := fs.String("name", "", "Program name (default: file name without extension)")
	binary := fs.Bool("binary", false, "Store the payload in binary form")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, src, err := a.input(fs.Args())
	if err != nil {
		return err
	}
	instrs, err := loadProgram(data)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	if *name == "" {
		if src == "stdin" {
			return fmt.Errorf("pack: -name is required when reading stdin")
		}
		*name = strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	}

	enc := bytecode.EncodingText
	if *binary {
		enc = bytecode.EncodingBinary
	}
	b, err := bytecode.NewBundle(*name, enc, instrs, a.reg)
	if err != nil {
		return err
	}
	raw, err := bytecode.MarshalBundle(b)
	if err != nil {
		return err
	}
	return a.output(*out, raw)
}

func (a *app) unpack(args []string) error {
	fs := a.flags("unpack")
	out := fs.String("o", "", "Output file")
	text := fs.Bool("text", false, "Always write text, converting binary payloads")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, src, err := a.input(fs.Args())
	if err != nil {
		return err
	}
	b, err := bytecode.UnmarshalBundle(data)
	if err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}
	if !*text || b.Encoding == bytecode.EncodingText {
		return a.output(*out, b.Payload)
	}
	instrs, err := b.Instructions()
	if err != nil {
		return err
	}
	payload, err := bytecode.EncodeText(instrs)
	if err != nil {
		return err
	}
	return a.output(*out, payload)
}
