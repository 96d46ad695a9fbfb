// Package store keeps encoded programs and templates in a SQLite database
// and serves them to the engine's IMPORT instruction.
package store

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/wireform/pkg/bytecode"
	"github.com/chazu/wireform/pkg/runtime"
)

// ErrNotFound indicates the requested program or template doesn't exist.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS programs (
	name       TEXT PRIMARY KEY,
	encoding   TEXT NOT NULL,
	hash       TEXT NOT NULL,
	count      INTEGER NOT NULL,
	bundle     BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS templates (
	name       TEXT NOT NULL,
	signature  TEXT NOT NULL,
	params     TEXT NOT NULL,
	bundle     BLOB NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (name, signature)
);`

// Entry describes a stored program.
type Entry struct {
	Name     string
	Encoding bytecode.Encoding
	Hash     string
	Count    int
	Updated  time.Time
}

// Library is a SQLite-backed collection of program bundles and templates.
type Library struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	log  commonlog.Logger
}

// Open opens (creating when needed) the library at path. ":memory:" gives
// a private in-memory library.
func Open(path string) (*Library, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating library dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	l := &Library{db: db, path: path, log: commonlog.GetLogger("wireform.store")}
	l.log.Debugf("opened library %s", path)
	return l, nil
}

// Path returns the database path.
func (l *Library) Path() string { return l.path }

// Close closes the database connection.
func (l *Library) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

// Put stores b under its name, replacing any previous version.
func (l *Library) Put(b *bytecode.Bundle) error {
	if b.Name == "" {
		return errors.New("store: bundle has no name")
	}
	data, err := bytecode.MarshalBundle(b)
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.db.Exec(
		"INSERT OR REPLACE INTO programs (name, encoding, hash, count, bundle, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		b.Name, string(b.Encoding), hex.EncodeToString(b.Hash[:]), b.Count, data, now(),
	)
	if err != nil {
		return fmt.Errorf("saving program %s: %w", b.Name, err)
	}
	l.log.Infof("stored program %s (%s, %d instructions)", b.Name, b.Encoding, b.Count)
	return nil
}

// PutProgram encodes instrs and stores them as name.
func (l *Library) PutProgram(name string, enc bytecode.Encoding, instrs []bytecode.Instruction, resolver bytecode.MemberTypeResolver) (*bytecode.Bundle, error) {
	b, err := bytecode.NewBundle(name, enc, instrs, resolver)
	if err != nil {
		return nil, err
	}
	return b, l.Put(b)
}

// Get returns the bundle stored as name. The payload hash is verified.
func (l *Library) Get(name string) (*bytecode.Bundle, error) {
	var data []byte
	err := l.db.QueryRow("SELECT bundle FROM programs WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("program %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}
	return bytecode.UnmarshalBundle(data)
}

// Program returns the decoded instructions stored as name.
func (l *Library) Program(name string) ([]bytecode.Instruction, error) {
	b, err := l.Get(name)
	if err != nil {
		return nil, err
	}
	return b.Instructions()
}

// List returns every stored program, ordered by name.
func (l *Library) List() ([]Entry, error) {
	rows, err := l.db.Query("SELECT name, encoding, hash, count, updated_at FROM programs ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			enc     string
			updated string
		)
		if err := rows.Scan(&e.Name, &enc, &e.Hash, &e.Count, &updated); err != nil {
			return nil, fmt.Errorf("scanning program row: %w", err)
		}
		e.Encoding = bytecode.Encoding(enc)
		e.Updated, _ = time.Parse(time.RFC3339Nano, updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the program stored as name.
func (l *Library) Delete(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, err := l.db.Exec("DELETE FROM programs WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting program: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("program %s: %w", name, ErrNotFound)
	}
	l.log.Infof("deleted program %s", name)
	return nil
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// TypeNamer translates parameter types to names and back. The engine's
// type registry implements it.
type TypeNamer interface {
	NameOf(t reflect.Type) string
	LookupType(name string) (reflect.Type, bool)
}

type storedParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// PutTemplate stores t as one overload of its name. An overload with the
// same signature is replaced.
func (l *Library) PutTemplate(t *runtime.Template, names TypeNamer) error {
	params := make([]storedParam, len(t.Params))
	for i, p := range t.Params {
		params[i] = storedParam{Name: p.Name, Type: "any"}
		if p.Type != nil {
			params[i].Type = names.NameOf(p.Type)
		}
	}
	pj, err := json.Marshal(params)
	if err != nil {
		return err
	}
	b, err := bytecode.NewBundle(t.Name, bytecode.EncodingText, t.Body, nil)
	if err != nil {
		return fmt.Errorf("encoding template %s: %w", t.Name, err)
	}
	data, err := bytecode.MarshalBundle(b)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.db.Exec(
		"INSERT OR REPLACE INTO templates (name, signature, params, bundle, updated_at) VALUES (?, ?, ?, ?, ?)",
		t.Name, t.Signature(), string(pj), data, now(),
	)
	if err != nil {
		return fmt.Errorf("saving template %s: %w", t.Name, err)
	}
	l.log.Infof("stored template %s%s", t.Name, t.Signature())
	return nil
}

// Templates loads every overload stored under name as a group.
func (l *Library) Templates(name string, names TypeNamer) (*runtime.TemplateGroup, error) {
	rows, err := l.db.Query("SELECT params, bundle FROM templates WHERE name = ? ORDER BY signature", name)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	g := runtime.NewTemplateGroup(name)
	for rows.Next() {
		var (
			pj   string
			data []byte
		)
		if err := rows.Scan(&pj, &data); err != nil {
			return nil, fmt.Errorf("scanning template row: %w", err)
		}
		t, err := decodeTemplate(name, pj, data, names)
		if err != nil {
			return nil, err
		}
		if err := g.Add(t); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if g.Len() == 0 {
		return nil, fmt.Errorf("template %s: %w", name, ErrNotFound)
	}
	return g, nil
}

func decodeTemplate(name, pj string, data []byte, names TypeNamer) (*runtime.Template, error) {
	var params []storedParam
	if err := json.Unmarshal([]byte(pj), &params); err != nil {
		return nil, fmt.Errorf("template %s: bad parameter list: %w", name, err)
	}
	b, err := bytecode.UnmarshalBundle(data)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	body, err := b.Instructions()
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}

	t := &runtime.Template{Name: name, Body: body, Params: make([]runtime.Param, len(params))}
	for i, p := range params {
		t.Params[i].Name = p.Name
		if p.Type == "any" {
			continue
		}
		typ, ok := names.LookupType(p.Type)
		if !ok {
			return nil, fmt.Errorf("template %s: unknown parameter type %q", name, p.Type)
		}
		t.Params[i].Type = typ
	}
	return t, nil
}

// DeleteTemplates removes every overload stored under name.
func (l *Library) DeleteTemplates(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, err := l.db.Exec("DELETE FROM templates WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting templates: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("template %s: %w", name, ErrNotFound)
	}
	return nil
}

func now() string { return time.Now().UTC().Format(time.RFC3339Nano) }
