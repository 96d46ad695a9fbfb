package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of an instruction sequence.
func Disassemble(instrs []Instruction) string {
	return DisassembleWithName(instrs, "")
}

// DisassembleWithName returns a listing with a name header. Nested
// construction is indented so DEFINE/END and LIST_START/LIST_END pairs line
// up.
func DisassembleWithName(instrs []Instruction, name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	defines, lists, maxDepth := 0, 0, 0
	depth := 0
	for _, in := range instrs {
		switch in.Op {
		case OpDefine:
			defines++
			depth++
		case OpListStart:
			lists++
			depth++
		case OpEnd, OpListEnd:
			depth--
		}
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	sb.WriteString(fmt.Sprintf("; %d instructions, %d instances, %d collections, max depth %d\n",
		len(instrs), defines, lists, maxDepth))
	if depth != 0 {
		sb.WriteString(fmt.Sprintf("; WARNING: %d unclosed frame(s)\n", depth))
	}
	sb.WriteString("\n")

	depth = 0
	for i, in := range instrs {
		if in.Op == OpEnd || in.Op == OpListEnd {
			depth--
		}
		indent := depth
		if indent < 0 {
			indent = 0
		}
		sb.WriteString(fmt.Sprintf("%04d  0x%02X  %s%s\n", i, byte(in.Op), strings.Repeat("  ", indent), in.String()))
		if in.Op == OpDefine || in.Op == OpListStart {
			depth++
		}
	}
	return sb.String()
}

// DisassembleInstruction returns one line of a listing.
func DisassembleInstruction(in Instruction, index int) string {
	return fmt.Sprintf("%04d  0x%02X  %s", index, byte(in.Op), in.String())
}
