// Package manifest handles wireform.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hengadev/errsx"
	"github.com/joho/godotenv"

	"github.com/chazu/wireform/access"
	"github.com/chazu/wireform/vm"
)

// FileName is the manifest file looked up by FindAndLoad.
const FileName = "wireform.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WIREFORM_"

// Manifest represents a wireform.toml project configuration.
type Manifest struct {
	Project Project       `toml:"project"`
	Engine  EngineConfig  `toml:"engine"`
	Access  AccessConfig  `toml:"access"`
	Library LibraryConfig `toml:"library"`
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	Types   TypesConfig   `toml:"types"`

	// Dir is the directory containing the wireform.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// EngineConfig holds execution defaults.
type EngineConfig struct {
	Filter        string `toml:"filter"`
	Progress      string `toml:"progress"`
	ImplicitEmpty bool   `toml:"implicit-empty-calls"`
	MaxDepth      int    `toml:"max-depth"`
}

// AccessConfig points at the YAML filter policy.
type AccessConfig struct {
	Policy string `toml:"policy"`
}

// LibraryConfig locates the program library database.
type LibraryConfig struct {
	Path string `toml:"path"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// ServerConfig configures the execution service. Codec is also the
// snapshot codec `wf run` writes by default.
type ServerConfig struct {
	Addr  string `toml:"addr"`
	Codec string `toml:"codec"`
}

// TypesConfig lists the Go packages typegen reads.
type TypesConfig struct {
	Packages []string `toml:"packages"`
	Output   string   `toml:"output"`
	Package  string   `toml:"package"`
}

// Default returns a manifest with every default applied, rooted at dir.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Engine.Filter == "" {
		m.Engine.Filter = "blacklist"
	}
	if m.Engine.Progress == "" {
		m.Engine.Progress = "none"
	}
	if m.Engine.MaxDepth == 0 {
		m.Engine.MaxDepth = vm.DefaultMaxDepth
	}
	if m.Library.Path == "" {
		m.Library.Path = filepath.Join(".wireform", "library.db")
	}
	if m.Server.Addr == "" {
		m.Server.Addr = "localhost:8420"
	}
	if m.Server.Codec == "" {
		m.Server.Codec = "json"
	}
	if m.Types.Output == "" {
		m.Types.Output = "wireform_types.go"
	}
}

// Load parses a wireform.toml file from the given directory. A .env file
// next to it is loaded into the process environment first, then WIREFORM_*
// variables override the file.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := loadDotEnv(m.Dir); err != nil {
		return nil, err
	}
	if err := m.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a wireform.toml file,
// then loads and returns the manifest. Without one, the defaults rooted at
// startDir are returned, still subject to environment overrides.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for d := dir; ; {
		if _, err := os.Stat(filepath.Join(d, FileName)); err == nil {
			return Load(d)
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}

	if err := loadDotEnv(dir); err != nil {
		return nil, err
	}
	m := &Manifest{Dir: dir}
	if err := m.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	m.applyDefaults()
	return m, m.Validate()
}

func loadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides settings from WIREFORM_* variables read through
// getenv. Empty variables are ignored.
func (m *Manifest) ApplyEnv(getenv func(string) string) error {
	var errs errsx.Map
	str := func(name string, dst *string) {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs.Set(EnvPrefix+name, err)
				return
			}
			*dst = n
		}
	}

	str("FILTER", &m.Engine.Filter)
	str("PROGRESS", &m.Engine.Progress)
	num("MAX_DEPTH", &m.Engine.MaxDepth)
	if v := getenv(EnvPrefix + "IMPLICIT_EMPTY_CALLS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs.Set(EnvPrefix+"IMPLICIT_EMPTY_CALLS", err)
		} else {
			m.Engine.ImplicitEmpty = b
		}
	}
	str("POLICY", &m.Access.Policy)
	str("LIBRARY", &m.Library.Path)
	num("VERBOSITY", &m.Log.Verbosity)
	str("LOG_FILE", &m.Log.File)
	str("ADDR", &m.Server.Addr)
	str("CODEC", &m.Server.Codec)
	return errs.AsError()
}

// Validate reports every invalid setting at once.
func (m *Manifest) Validate() error {
	var errs errsx.Map
	if _, err := access.ParseKind(m.Engine.Filter); err != nil {
		errs.Set("engine.filter", err)
	}
	if _, err := vm.ParseProgressLevel(m.Engine.Progress); err != nil {
		errs.Set("engine.progress", err)
	}
	if m.Engine.MaxDepth < 0 {
		errs.Set("engine.max-depth", errors.New("must not be negative"))
	}
	switch strings.ToLower(m.Server.Codec) {
	case "json", "msgpack":
	default:
		errs.Set("server.codec", fmt.Errorf("unknown codec %q", m.Server.Codec))
	}
	return errs.AsError()
}

// Resolve returns p relative to the manifest directory unless it is absolute.
func (m *Manifest) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// LibraryPath returns the absolute path of the program library database.
func (m *Manifest) LibraryPath() string {
	return m.Resolve(m.Library.Path)
}

// PolicyPath returns the absolute path of the access policy, or "".
func (m *Manifest) PolicyPath() string {
	return m.Resolve(m.Access.Policy)
}

// Filters builds the filter cache for the engine: a fresh cache holding the
// policy's filters when a policy is configured, the process-wide cache
// otherwise.
func (m *Manifest) Filters(resolver access.TypeResolver) (*access.Cache, error) {
	if m.Access.Policy == "" {
		return access.Default, nil
	}
	p, err := access.LoadPolicy(m.PolicyPath())
	if err != nil {
		return nil, err
	}
	c := access.NewCache()
	if err := p.Apply(c, resolver); err != nil {
		return nil, fmt.Errorf("applying %s: %w", m.PolicyPath(), err)
	}
	return c, nil
}

// EngineOptions translates the engine settings into vm options. The
// registry is used both by the engine and to resolve policy type names.
func (m *Manifest) EngineOptions(reg *vm.TypeRegistry) ([]vm.Option, error) {
	kind, err := access.ParseKind(m.Engine.Filter)
	if err != nil {
		return nil, err
	}
	filters, err := m.Filters(reg)
	if err != nil {
		return nil, err
	}
	opts := []vm.Option{
		vm.WithRegistry(reg),
		vm.WithFilterKind(kind),
		vm.WithFilterCache(filters),
		vm.WithImplicitEmptyCalls(m.Engine.ImplicitEmpty),
		vm.WithMaxDepth(m.Engine.MaxDepth),
	}
	return opts, nil
}

// ProgressLevel returns the configured progress level; invalid values were
// rejected by Validate and read as none.
func (m *Manifest) ProgressLevel() vm.ProgressLevel {
	l, _ := vm.ParseProgressLevel(m.Engine.Progress)
	return l
}
