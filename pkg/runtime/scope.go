package runtime

import (
	"sort"
	"strings"
	"sync"
)

// Scope is one level of the lexical environment. The zero value is not
// usable; call NewScope.
type Scope struct {
	parent *Scope

	mu         sync.RWMutex
	vars       map[string]*Variable
	templates  map[string]*TemplateGroup
	containers map[string]*Scope
}

// NewScope creates a scope whose lookups fall back to parent. parent may be
// nil for a root scope.
func NewScope(parent *Scope) *Scope {
	return &Scope{
		parent:     parent,
		vars:       make(map[string]*Variable),
		templates:  make(map[string]*TemplateGroup),
		containers: make(map[string]*Scope),
	}
}

// Parent returns the enclosing scope, or nil at the root.
func (s *Scope) Parent() *Scope { return s.parent }

// Root returns the outermost scope.
func (s *Scope) Root() *Scope {
	for s.parent != nil {
		s = s.parent
	}
	return s
}

// Depth returns the number of parents above s.
func (s *Scope) Depth() int {
	d := 0
	for p := s.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// DefineVariable inserts v, or merges it into an existing local variable of
// the same name. The variable that ends up in the scope is returned.
func (s *Scope) DefineVariable(v *Variable) *Variable {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.vars[v.Name]; ok {
		existing.merge(v)
		return existing
	}
	v.mu.Lock()
	if v.defined == nil {
		v.defined = s
	}
	v.mu.Unlock()
	s.vars[v.Name] = v
	return v
}

// SetVariable is shorthand for DefineVariable(NewVariable(name, value)).
func (s *Scope) SetVariable(name string, value any) *Variable {
	return s.DefineVariable(NewVariable(name, value))
}

// DefineTemplate adds t to the local group named t.Name, creating the group
// on first use. Ambiguous overloads are rejected.
func (s *Scope) DefineTemplate(t *Template) error {
	s.mu.Lock()
	g, ok := s.templates[t.Name]
	if !ok {
		g = NewTemplateGroup(t.Name)
		s.templates[t.Name] = g
	}
	s.mu.Unlock()

	if t.Scope == nil {
		t.Scope = s
	}
	return g.Add(t)
}

// DefineContainer returns the nested container named name, creating it as a
// child of s when missing.
func (s *Scope) DefineContainer(name string) *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.containers[name]; ok {
		return c
	}
	c := NewScope(s)
	s.containers[name] = c
	return c
}

// GetIdentifier resolves name lexically. The result is a *Variable, a
// *TemplateGroup, a container *Scope, or nil. Dotted names select through
// containers: "geo.origin" finds container "geo" up the chain, then looks
// up "origin" inside it without walking further.
func (s *Scope) GetIdentifier(name string) any {
	head, rest, dotted := strings.Cut(name, ".")
	if !dotted {
		for sc := s; sc != nil; sc = sc.parent {
			if v := sc.local(name); v != nil {
				return v
			}
		}
		return nil
	}

	var c *Scope
	for sc := s; sc != nil && c == nil; sc = sc.parent {
		sc.mu.RLock()
		c = sc.containers[head]
		sc.mu.RUnlock()
	}
	for c != nil {
		head, rest, dotted = strings.Cut(rest, ".")
		if !dotted {
			return c.local(head)
		}
		c.mu.RLock()
		next := c.containers[head]
		c.mu.RUnlock()
		c = next
	}
	return nil
}

// local looks up name in s alone. Variables shadow templates, which shadow
// containers.
func (s *Scope) local(name string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.vars[name]; ok {
		return v
	}
	if g, ok := s.templates[name]; ok {
		return g
	}
	if c, ok := s.containers[name]; ok {
		return c
	}
	return nil
}

// LookupVariable finds the nearest variable named name.
func (s *Scope) LookupVariable(name string) (*Variable, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		sc.mu.RLock()
		v, ok := sc.vars[name]
		sc.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// LookupTemplates finds the nearest template group named name.
func (s *Scope) LookupTemplates(name string) (*TemplateGroup, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		sc.mu.RLock()
		g, ok := sc.templates[name]
		sc.mu.RUnlock()
		if ok {
			return g, true
		}
	}
	return nil, false
}

// Clone deep-copies the local level of s: variables are copied, containers
// are cloned recursively and template groups are copied as new groups over
// the same immutable templates. The clone shares s's parent.
func (s *Scope) Clone() *Scope {
	return s.cloneWithParent(s.parent)
}

func (s *Scope) cloneWithParent(parent *Scope) *Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := NewScope(parent)
	for name, v := range s.vars {
		c.vars[name] = v.clone(c)
	}
	for name, g := range s.templates {
		c.templates[name] = g.copy()
	}
	for name, sub := range s.containers {
		c.containers[name] = sub.cloneWithParent(c)
	}
	return c
}

// Names returns the sorted local names of all three namespaces.
func (s *Scope) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.vars)+len(s.templates)+len(s.containers))
	for n := range s.vars {
		names = append(names, n)
	}
	for n := range s.templates {
		names = append(names, n)
	}
	for n := range s.containers {
		names = append(names, n)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}
