package store

import (
	"errors"

	"github.com/chazu/wireform/internal/wferr"
)

// Importer resolves IMPORT names against a library. Template overloads
// take precedence over a program stored under the same name.
type Importer struct {
	lib   *Library
	names TypeNamer
}

// NewImporter returns an importer reading from lib. names resolves
// template parameter types; the engine's type registry is the usual
// choice.
func NewImporter(lib *Library, names TypeNamer) *Importer {
	return &Importer{lib: lib, names: names}
}

// Import returns a *runtime.TemplateGroup or the program's instructions.
func (im *Importer) Import(name string) (any, error) {
	g, err := im.lib.Templates(name, im.names)
	if err == nil {
		im.lib.log.Debugf("import %s: %d template overloads", name, g.Len())
		return g, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	instrs, err := im.lib.Program(name)
	if errors.Is(err, ErrNotFound) {
		return nil, wferr.NewResolutionError("import", name, "library "+im.lib.path)
	}
	if err != nil {
		return nil, err
	}
	im.lib.log.Debugf("import %s: program of %d instructions", name, len(instrs))
	return instrs, nil
}
