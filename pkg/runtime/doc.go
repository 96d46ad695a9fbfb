// Package runtime holds the lexical environment templates execute in.
//
// A Scope is a node in a parent-linked tree with three namespaces:
// variables, template groups and nested containers. Lookups walk up the
// parent chain. A TemplateGroup is the overload set for one template name;
// definitions that would make a call ambiguous are rejected when they are
// added, so an ambiguous group can never be invoked.
//
// The package does not interpret instructions itself. Lazy variable
// defaults and template bodies are run through the Evaluator and Invoker
// interfaces, which the engine in package vm implements.
package runtime
