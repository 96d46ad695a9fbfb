package server

import "github.com/chazu/wireform/vm"

// Procedure paths served by the execution and library services.
const (
	ExecuteProcedure     = "/wireform.v1.ExecutionService/Execute"
	CheckProcedure       = "/wireform.v1.ExecutionService/Check"
	DisassembleProcedure = "/wireform.v1.ExecutionService/Disassemble"
	InspectProcedure     = "/wireform.v1.ExecutionService/Inspect"
	ReleaseProcedure     = "/wireform.v1.ExecutionService/Release"

	ListProgramsProcedure  = "/wireform.v1.LibraryService/ListPrograms"
	PutProgramProcedure    = "/wireform.v1.LibraryService/PutProgram"
	DeleteProgramProcedure = "/wireform.v1.LibraryService/DeleteProgram"
)

// Program carries an instruction sequence in one of three forms. Exactly
// one of Text, Binary, and Name is set; Name refers to a library program.
type Program struct {
	Text   string `json:"text,omitempty" msgpack:"text,omitempty"`
	Binary []byte `json:"binary,omitempty" msgpack:"binary,omitempty"`
	Name   string `json:"name,omitempty" msgpack:"name,omitempty"`
}

// ExecuteRequest runs a program.
type ExecuteRequest struct {
	Program Program `json:"program" msgpack:"program"`
	// Keep retains the result under a handle for later Inspect calls.
	Keep bool `json:"keep,omitempty" msgpack:"keep,omitempty"`
}

// ExecuteResponse reports the outcome of an execution. Execution failures
// are reported here rather than as RPC errors.
type ExecuteResponse struct {
	Success    bool             `json:"success" msgpack:"success"`
	Error      string           `json:"error,omitempty" msgpack:"error,omitempty"`
	ErrorIndex int              `json:"errorIndex,omitempty" msgpack:"errorIndex,omitempty"`
	ErrorOp    string           `json:"errorOp,omitempty" msgpack:"errorOp,omitempty"`
	Result     *vm.SnapshotDoc  `json:"result,omitempty" msgpack:"result,omitempty"`
	Handle     string           `json:"handle,omitempty" msgpack:"handle,omitempty"`
	Progress   []ProgressReport `json:"progress,omitempty" msgpack:"progress,omitempty"`
}

// ProgressReport is one progress callback observed during execution.
type ProgressReport struct {
	Current int `json:"current" msgpack:"current"`
	Total   int `json:"total" msgpack:"total"`
}

// Diagnostic is a problem found while decoding a program.
type Diagnostic struct {
	Line    int    `json:"line,omitempty" msgpack:"line,omitempty"`
	Offset  int64  `json:"offset,omitempty" msgpack:"offset,omitempty"`
	Message string `json:"message" msgpack:"message"`
}

// CheckRequest decodes a program without running it.
type CheckRequest struct {
	Program Program `json:"program" msgpack:"program"`
}

// CheckResponse lists decoding problems.
type CheckResponse struct {
	Valid        bool         `json:"valid" msgpack:"valid"`
	Instructions int          `json:"instructions" msgpack:"instructions"`
	Diagnostics  []Diagnostic `json:"diagnostics,omitempty" msgpack:"diagnostics,omitempty"`
}

// DisassembleRequest renders a program as an annotated listing.
type DisassembleRequest struct {
	Program Program `json:"program" msgpack:"program"`
}

// DisassembleResponse holds the listing.
type DisassembleResponse struct {
	Listing string `json:"listing" msgpack:"listing"`
}

// InspectRequest reads one object of a retained result.
type InspectRequest struct {
	Handle string `json:"handle" msgpack:"handle"`
	// Alias takes precedence over ID when set.
	Alias string `json:"alias,omitempty" msgpack:"alias,omitempty"`
	ID    int32  `json:"id" msgpack:"id"`
}

// InspectResponse holds the object flattened as in snapshots.
type InspectResponse struct {
	Object vm.SnapshotObject `json:"object" msgpack:"object"`
}

// ReleaseRequest drops a retained result.
type ReleaseRequest struct {
	Handle string `json:"handle" msgpack:"handle"`
}

// ReleaseResponse reports whether the handle existed.
type ReleaseResponse struct {
	Released bool `json:"released" msgpack:"released"`
}

// ListProgramsRequest lists library programs.
type ListProgramsRequest struct{}

// ProgramInfo describes a library program.
type ProgramInfo struct {
	Name     string `json:"name" msgpack:"name"`
	Encoding string `json:"encoding" msgpack:"encoding"`
	Hash     string `json:"hash" msgpack:"hash"`
	Count    int    `json:"count" msgpack:"count"`
	Updated  string `json:"updated" msgpack:"updated"`
}

// ListProgramsResponse holds the library listing.
type ListProgramsResponse struct {
	Programs []ProgramInfo `json:"programs" msgpack:"programs"`
}

// PutProgramRequest stores a program. Encoding selects the stored wire
// form, "text" or "binary"; it defaults to the form the program came in.
type PutProgramRequest struct {
	Name     string  `json:"name" msgpack:"name"`
	Program  Program `json:"program" msgpack:"program"`
	Encoding string  `json:"encoding,omitempty" msgpack:"encoding,omitempty"`
}

// PutProgramResponse reports the stored bundle.
type PutProgramResponse struct {
	Hash  string `json:"hash" msgpack:"hash"`
	Count int    `json:"count" msgpack:"count"`
}

// DeleteProgramRequest removes a program.
type DeleteProgramRequest struct {
	Name string `json:"name" msgpack:"name"`
}

// DeleteProgramResponse is empty.
type DeleteProgramResponse struct{}
