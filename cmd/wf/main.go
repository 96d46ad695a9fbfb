// wf is the wireform command line: it converts programs between wire forms,
// executes them, manages the program library and runs the servers.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/wireform/manifest"
	"github.com/chazu/wireform/store"
	"github.com/chazu/wireform/vm"
)

func main() {
	dir := flag.String("C", ".", "Project directory; wireform.toml is searched upward from here")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides [log].verbosity)")
	logFile := flag.String("log", "", "Log file (default stderr)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: wf [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nCommands:\n")
		fmt.Fprintf(os.Stderr, "  encode [-o out] [file]            Text program to binary\n")
		fmt.Fprintf(os.Stderr, "  decode [-o out] [-numeric] [file] Binary program to text\n")
		fmt.Fprintf(os.Stderr, "  disasm [file]                     Print an indented listing\n")
		fmt.Fprintf(os.Stderr, "  run [-codec c] [-progress l] [file]  Execute and print the result snapshot\n")
		fmt.Fprintf(os.Stderr, "  pack -name n [-binary] [file]     Wrap a program in a bundle\n")
		fmt.Fprintf(os.Stderr, "  unpack [-text] [file]             Extract a bundle's program\n")
		fmt.Fprintf(os.Stderr, "  store put|get|list|rm ...         Manage the program library\n")
		fmt.Fprintf(os.Stderr, "  serve [-addr a]                   Start the execution service\n")
		fmt.Fprintf(os.Stderr, "  lsp                               Start the language server on stdio\n")
		fmt.Fprintf(os.Stderr, "  gen [-pkg p] [-o out] [pkgs...]   Generate type registration code\n")
		fmt.Fprintf(os.Stderr, "\nFiles default to stdin/stdout.\n")
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if *verbosity >= 0 {
		m.Log.Verbosity = *verbosity
	}
	if *logFile != "" {
		m.Log.File = *logFile
	}
	configureLogging(m)

	a := newApp(m)
	err = a.dispatch(flag.Arg(0), flag.Args()[1:])
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func configureLogging(m *manifest.Manifest) {
	var path *string
	if m.Log.File != "" {
		p := m.Resolve(m.Log.File)
		path = &p
	}
	commonlog.Configure(m.Log.Verbosity, path)
}

// app carries what every command needs. The library is opened on first use
// so commands that never touch it don't create the database.
type app struct {
	m      *manifest.Manifest
	reg    *vm.TypeRegistry
	lib    *store.Library
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newApp(m *manifest.Manifest) *app {
	return &app{
		m:      m,
		reg:    vm.NewTypeRegistry(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

func (a *app) dispatch(cmd string, args []string) error {
	switch cmd {
	case "encode":
		return a.encode(args)
	case "decode":
		return a.decode(args)
	case "disasm":
		return a.disasm(args)
	case "run":
		return a.run(args)
	case "pack":
		return a.pack(args)
	case "unpack":
		return a.unpack(args)
	case "store":
		return a.store(args)
	case "serve":
		return a.serve(args)
	case "lsp":
		return a.lsp(args)
	case "gen":
		return a.gen(args)
	}
	return fmt.Errorf("unknown command %q (run wf -h for usage)", cmd)
}

func (a *app) library() (*store.Library, error) {
	if a.lib != nil {
		return a.lib, nil
	}
	lib, err := store.Open(a.m.LibraryPath())
	if err != nil {
		return nil, err
	}
	a.lib = lib
	return lib, nil
}

// engine builds an engine from the manifest. IMPORT reads the library,
// which is opened only when a program actually imports something.
func (a *app) engine(extra ...vm.Option) (*vm.Engine, error) {
	opts, err := a.m.EngineOptions(a.reg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, vm.WithImporter(vm.ImporterFunc(func(name string) (any, error) {
		lib, err := a.library()
		if err != nil {
			return nil, err
		}
		return store.NewImporter(lib, a.reg).Import(name)
	})))
	return vm.New(append(opts, extra...)...), nil
}

func (a *app) close() {
	if a.lib != nil {
		a.lib.Close()
	}
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// input reads the file named by args[0], or stdin when args is empty or "-".
func (a *app) input(args []string) ([]byte, string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(a.stdin)
		return data, "stdin", err
	}
	data, err := os.ReadFile(args[0])
	return data, args[0], err
}

// output writes data to path, or stdout when path is empty.
func (a *app) output(path string, data []byte) error {
	if path == "" {
		_, err := a.stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
