// Package vm implements the execution engine that turns an instruction
// sequence back into an object graph.
//
// This package contains:
//   - TypeRegistry: type names to reflection-backed descriptors, builtin
//     scalar names, composites and constructor overloads
//   - Coerce: argument and member value conversion
//   - Engine: the stack machine, its object table, alias table and
//     construction frames
//   - Record: instances of anonymous and dynamically declared types
//   - Emitter: a producer that writes a Go object graph as instructions
//   - Snapshot: an acyclic, codec-friendly view of a Result
//
// A minimal round trip:
//
//	reg := vm.NewTypeRegistry()
//	vm.RegisterType[Vector2](reg, "Vector2")
//	eng := vm.New(vm.WithRegistry(reg))
//	res, err := eng.Execute([]bytecode.Instruction{
//		bytecode.Define("Vector2", 0, 0),
//		bytecode.Set("X", bytecode.Number("10")),
//		bytecode.End(),
//		bytecode.Ret(bytecode.Number("0")),
//	})
//
// Each Execute call owns its object table, aliases and root scope, so one
// Engine can serve concurrent calls. Member reads through ACCESS and
// assignments through SETACCESS consult the access filter cache; DEFINE and
// SET never do.
package vm
