package bytecode

import (
	"fmt"
	"strconv"
	"strings"
)

// Opcode identifies an instruction. Values are stable: the binary codec
// writes them as a single byte and the text codec accepts them in place of
// the symbolic name.
type Opcode byte

const (
	// ========================================================================
	// Instance construction (0x01-0x06)
	// ========================================================================

	OpDefine    Opcode = 0x01 // DEFINE type id argc: begin an instance bound to id
	OpSet       Opcode = 0x02 // SET name value: assign a member of the open instance
	OpSetAccess Opcode = 0x03 // SETACCESS [target] name value: filtered assignment
	OpEnd       Opcode = 0x04 // END: finish the open instance
	OpRet       Opcode = 0x05 // RET value: yield the result
	OpAs        Opcode = 0x06 // AS type: convert the top of the construction stack

	// ========================================================================
	// Construction stack and collections (0x07-0x0A)
	// ========================================================================

	OpPush      Opcode = 0x07 // PUSH value [id]
	OpElement   Opcode = 0x08 // ELEMENT [key] value: append to the open collection
	OpListStart Opcode = 0x09 // LIST_START elemType [id] [keyType]
	OpListEnd   Opcode = 0x0A // LIST_END: close the collection and push it

	// ========================================================================
	// Navigation and naming (0x0B-0x0E)
	// ========================================================================

	OpAccess       Opcode = 0x0B // ACCESS target [member] [argc]
	OpAlias        Opcode = 0x0C // ALIAS id name
	OpAnonymousSet Opcode = 0x0D // ANONYMOUS_SET fieldType field value
	OpImport       Opcode = 0x0E // IMPORT name [id]

	// ========================================================================
	// Multi-line strings (0x0F-0x11)
	// ========================================================================

	OpStartStr Opcode = 0x0F // START_STR
	OpStr      Opcode = 0x10 // STR line
	OpEndStr   Opcode = 0x11 // END_STR: push the joined lines

	// ========================================================================
	// Markers
	// ========================================================================

	OpProgress  Opcode = 0x12 // PROGRESS: report completion, no state change
	OpEndOfData Opcode = 0xFF // END_OF_DATA: explicit stream terminator
)

// EndOfDataLine is the text form of OpEndOfData.
const EndOfDataLine = "WF_ENDOFDATA"

// OpcodeInfo provides metadata about each opcode for tooling and diagnostics.
// Argument counts are advisory: NewInstruction never checks them, the engine
// reports misuse when it interprets the instruction.
type OpcodeInfo struct {
	Name    string // Symbolic name used by the text codec
	MinArgs int    // Fewest arguments the engine accepts
	MaxArgs int    // Most arguments the engine accepts
	Summary string // One-line description, shown by the language server
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpDefine:    {"DEFINE", 3, 3, "DEFINE type id argc: construct an instance of type under id"},
	OpSet:       {"SET", 2, 2, "SET name value: assign a member of the instance under construction"},
	OpSetAccess: {"SETACCESS", 2, 3, "SETACCESS [target] name value: assign a member through the access filter"},
	OpEnd:       {"END", 0, 0, "END: finish the instance under construction"},
	OpRet:       {"RET", 0, 1, "RET value: yield a value or id as the result"},
	OpAs:        {"AS", 1, 1, "AS type: convert the top of the construction stack"},

	OpPush:      {"PUSH", 1, 2, "PUSH value [id]: push a value onto the construction stack"},
	OpElement:   {"ELEMENT", 1, 2, "ELEMENT [key] value: append to the collection under construction"},
	OpListStart: {"LIST_START", 1, 3, "LIST_START elemType [id] [keyType]: open a list or map"},
	OpListEnd:   {"LIST_END", 0, 0, "LIST_END: close the collection and push it"},

	OpAccess:       {"ACCESS", 1, 3, "ACCESS target [member] [argc]: read a member or call a template"},
	OpAlias:        {"ALIAS", 2, 2, "ALIAS id name: bind a name to an id"},
	OpAnonymousSet: {"ANONYMOUS_SET", 3, 3, "ANONYMOUS_SET fieldType field value: late-bound assignment"},
	OpImport:       {"IMPORT", 1, 2, "IMPORT name [id]: bring an external value into scope"},

	OpStartStr: {"START_STR", 0, 0, "START_STR: begin a multi-line string"},
	OpStr:      {"STR", 1, 1, "STR line: append a line to the multi-line string"},
	OpEndStr:   {"END_STR", 0, 0, "END_STR: push the multi-line string"},

	OpProgress:  {"PROGRESS", 0, 0, "PROGRESS: report completion percentage"},
	OpEndOfData: {"END_OF_DATA", 0, 0, "END_OF_DATA: explicit stream terminator"},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the symbolic name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsConstruction reports whether op opens or closes a construction frame.
func (op Opcode) IsConstruction() bool {
	switch op {
	case OpDefine, OpEnd, OpListStart, OpListEnd:
		return true
	}
	return false
}

// ParseOpcode accepts either a symbolic name (case-insensitive) or the
// opcode's integer value in decimal or 0x-prefixed hex.
func ParseOpcode(s string) (Opcode, bool) {
	if s == EndOfDataLine {
		return OpEndOfData, true
	}
	if op, ok := opcodeByName[strings.ToUpper(s)]; ok {
		return op, true
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, false
	}
	op := Opcode(n)
	return op, op.Valid()
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
