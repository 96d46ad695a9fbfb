package access

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"github.com/hengadev/errsx"
	"gopkg.in/yaml.v3"
)

// Policy is a set of filter declarations loaded from YAML:
//
//	filters:
//	  - type: Vector2
//	    kind: whitelist
//	    govern: [X, Y]
//	    exempt: [Name]
type Policy struct {
	Filters []FilterSpec `yaml:"filters"`
}

// FilterSpec declares one filter.
type FilterSpec struct {
	Type   string   `yaml:"type"`
	Kind   string   `yaml:"kind"`
	Govern []string `yaml:"govern,omitempty"`
	Exempt []string `yaml:"exempt,omitempty"`
}

// TypeResolver maps policy type names to Go types. The engine's type
// registry implements it.
type TypeResolver interface {
	LookupType(name string) (reflect.Type, bool)
}

// LoadPolicy reads a policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	p, err := ParsePolicy(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParsePolicy decodes policy YAML.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	return &p, nil
}

// Marshal renders the policy as YAML.
func (p *Policy) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// Validate checks every entry and reports all problems at once. Type names
// are checked against resolver when it is non-nil.
func (p *Policy) Validate(resolver TypeResolver) error {
	var errs errsx.Map
	seen := make(map[string]int)
	for i, spec := range p.Filters {
		key := fmt.Sprintf("filters[%d]", i)
		if spec.Type == "" {
			errs.Set(key, errors.New("missing type"))
			continue
		}
		key = fmt.Sprintf("filters[%d] (%s)", i, spec.Type)
		if prev, dup := seen[spec.Type]; dup {
			errs.Set(key, fmt.Errorf("duplicate of filters[%d]", prev))
		}
		seen[spec.Type] = i
		if _, err := ParseKind(spec.Kind); err != nil {
			errs.Set(key, err)
		}
		if resolver != nil {
			if _, ok := resolver.LookupType(spec.Type); !ok {
				errs.Set(key, errors.New("unknown type"))
			}
		}
		for _, m := range spec.Govern {
			if IsAccessorName(m) {
				errs.Set(key+" govern "+m, errors.New("accessor names are always denied"))
			}
		}
		exempt := make(map[string]bool, len(spec.Exempt))
		for _, m := range spec.Exempt {
			exempt[m] = true
		}
		for _, m := range spec.Govern {
			if exempt[m] {
				errs.Set(key+" "+m, errors.New("member is both governed and exempt"))
			}
		}
	}
	return errs.AsError()
}

// Apply validates the policy and registers its filters in c. With a
// resolver, filters are keyed by the resolved type's qualified name;
// without one the declared name is used as is.
func (p *Policy) Apply(c *Cache, resolver TypeResolver) error {
	if err := p.Validate(resolver); err != nil {
		return err
	}
	for _, spec := range p.Filters {
		kind, _ := ParseKind(spec.Kind)
		key := spec.Type
		if resolver != nil {
			t, _ := resolver.LookupType(spec.Type)
			key = KeyFor(t, spec.Type)
		}
		c.Register(NewFilter(key, kind).Govern(spec.Govern...).Exempt(spec.Exempt...))
	}
	return nil
}

// KeyFor returns TypeKey(t) for named Go types and fallback otherwise, so
// dynamic record types can be filtered by their declared name.
func KeyFor(t reflect.Type, fallback string) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" || t.PkgPath() == "" {
		return fallback
	}
	return TypeKey(t)
}
