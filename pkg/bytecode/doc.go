// Package bytecode defines the wireform instruction set and its two wire
// encodings.
//
// A program is a flat sequence of Instructions. Each instruction is one
// Opcode plus ordered arguments; nothing nests, structure comes from the
// order of DEFINE/END and LIST_START/LIST_END pairs. The engine in package vm
// interprets a sequence against a type registry and produces an object
// graph.
//
// # Encodings
//
// The text form is line oriented, one instruction per line:
//
//	DEFINE "Vector2" 1i 0i
//	SET "X" 3.5f
//	SET "Y" 4
//	END
//	RET _ref(1)
//
// Numbers without a suffix decode as Number, an untyped literal that is
// narrowed when it reaches a declared member. Typed literals carry a suffix
// (i, s, us, u, l, ul, b, sb, f, d, m). Strings use double quotes, m"..." is a
// multi-line string, 'c' is a char, <T> names a type. Lines starting with //
// are comments and the line WF_ENDOFDATA ends the stream.
//
// The binary form is a compact tagged encoding: each record is an opcode
// byte, an argument count byte, then per argument a ValuePrefix byte and its
// little-endian payload. The encoder narrows untyped numbers using a
// MemberTypeResolver when one is supplied.
//
// Both codecs round-trip every instruction sequence up to Instruction.Equal,
// under which an untyped Number equals a typed numeric of the same value.
//
// # Bundles
//
// A Bundle wraps an encoded payload with its name, encoding and SHA-256 for
// storage in the program library and for transport. Bundles serialize to
// canonical CBOR.
package bytecode
