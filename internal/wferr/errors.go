// Package wferr defines the error kinds shared by the wire codecs, the runtime
// container model, the access filter and the execution engine.
//
// Every typed error unwraps to one of the sentinel kinds below so hosts can
// branch with errors.Is without caring which package produced the failure.
package wferr

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds
var (
	// ErrFormat reports malformed wire input (truncated binary, unknown
	// ValuePrefix, unparsable text line). Raised before execution starts.
	ErrFormat = errors.New("wireform: malformed program")

	// ErrResolution reports an unknown type, member, id, alias or identifier.
	ErrResolution = errors.New("wireform: unresolved name")

	// ErrSignature reports a constructor or template overload that could not
	// be matched, or a parameter/argument count mismatch.
	ErrSignature = errors.New("wireform: no matching signature")

	// ErrAccessDenied reports an access filter denial.
	ErrAccessDenied = errors.New("wireform: access denied")

	// ErrAmbiguousTemplate reports a template definition whose signature
	// collides with one already present in its group.
	ErrAmbiguousTemplate = errors.New("wireform: ambiguous template definition")

	// ErrConversion reports a value that cannot be coerced to a target type.
	ErrConversion = errors.New("wireform: conversion failed")

	// ErrInvalidProgram reports an instruction whose arguments do not fit its
	// opcode, or a construction stack in the wrong state for it.
	ErrInvalidProgram = errors.New("wireform: invalid instruction")
)

// FormatError describes malformed wire input.
type FormatError struct {
	Codec  string // "text" or "binary"
	Line   int    // 1-based line for text input, 0 otherwise
	Offset int64  // byte offset for binary input, -1 when unknown
	Msg    string
}

func (e *FormatError) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("%s format error at line %d: %s", e.Codec, e.Line, e.Msg)
	case e.Offset >= 0:
		return fmt.Sprintf("%s format error at offset %d: %s", e.Codec, e.Offset, e.Msg)
	default:
		return fmt.Sprintf("%s format error: %s", e.Codec, e.Msg)
	}
}

func (e *FormatError) Unwrap() error { return ErrFormat }

// NewTextFormatError builds a FormatError for a text line.
func NewTextFormatError(line int, format string, args ...any) error {
	return &FormatError{Codec: "text", Line: line, Offset: -1, Msg: fmt.Sprintf(format, args...)}
}

// NewBinaryFormatError builds a FormatError for a binary offset.
func NewBinaryFormatError(offset int64, format string, args ...any) error {
	return &FormatError{Codec: "binary", Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// ResolutionError reports a name that could not be resolved.
type ResolutionError struct {
	Kind string // "type", "member", "id", "alias", "identifier", "import"
	Name string
	In   string // owning type or scope, optional
}

func (e *ResolutionError) Error() string {
	if e.In != "" {
		return fmt.Sprintf("unknown %s %q on %s", e.Kind, e.Name, e.In)
	}
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Name)
}

func (e *ResolutionError) Unwrap() error { return ErrResolution }

// NewResolutionError builds a ResolutionError.
func NewResolutionError(kind, name, in string) error {
	return &ResolutionError{Kind: kind, Name: name, In: in}
}

// SignatureError reports a call whose arguments match no available signature.
type SignatureError struct {
	Name      string
	Attempted string
	Available []string
}

func (e *SignatureError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("%s%s: no signatures available", e.Name, e.Attempted)
	}
	return fmt.Sprintf("%s%s matches none of: %s", e.Name, e.Attempted, strings.Join(e.Available, ", "))
}

func (e *SignatureError) Unwrap() error { return ErrSignature }

// AccessError reports an access filter denial.
type AccessError struct {
	Type   string
	Member string
	Filter string // "whitelist" or "blacklist"
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("access to %s.%s denied by %s filter", e.Type, e.Member, e.Filter)
}

func (e *AccessError) Unwrap() error { return ErrAccessDenied }

// AmbiguousTemplateError reports a template signature collision at
// definition time.
type AmbiguousTemplateError struct {
	Name     string
	New      string
	Existing string
}

func (e *AmbiguousTemplateError) Error() string {
	return fmt.Sprintf("template %s%s is ambiguous with existing %s%s", e.Name, e.New, e.Name, e.Existing)
}

func (e *AmbiguousTemplateError) Unwrap() error { return ErrAmbiguousTemplate }

// ConversionError reports a failed coercion.
type ConversionError struct {
	From string
	To   string
	Msg  string
}

func (e *ConversionError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("cannot convert %s to %s: %s", e.From, e.To, e.Msg)
	}
	return fmt.Sprintf("cannot convert %s to %s", e.From, e.To)
}

func (e *ConversionError) Unwrap() error { return ErrConversion }

// NewInvalidProgramError wraps ErrInvalidProgram with detail.
func NewInvalidProgramError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProgram, fmt.Sprintf(format, args...))
}

// ExecutionError is returned by the engine for any failure while
// interpreting an instruction. Err carries the underlying kind.
type ExecutionError struct {
	Index int    // instruction index within the executing body
	Op    string // opcode name
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed at instruction %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsAccessDenied reports whether err stems from an access filter denial.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
