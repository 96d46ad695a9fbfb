package access

import (
	"reflect"
	"sync"

	"github.com/chazu/wireform/internal/wferr"
)

// Cache holds filters keyed by qualified type name. Filters are created on
// first use and kept for the life of the cache.
type Cache struct {
	filters sync.Map // string -> *Filter
}

// NewCache creates an empty cache.
func NewCache() *Cache { return &Cache{} }

// Default is the process-wide cache used by the package-level functions.
var Default = NewCache()

// TypeKey returns the qualified name filters are cached under. Pointer types
// share the key of their element type; generic instantiations keep their
// type arguments.
func TypeKey(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// Get returns the filter for key, creating one of the given kind on a miss.
// Concurrent first calls for the same key observe the same filter.
func (c *Cache) Get(key string, kind Kind) *Filter {
	if f, ok := c.filters.Load(key); ok {
		return f.(*Filter)
	}
	f, _ := c.filters.LoadOrStore(key, NewFilter(key, kind))
	return f.(*Filter)
}

// GetFilter returns the filter for t.
func (c *Cache) GetFilter(t reflect.Type, kind Kind) *Filter {
	return c.Get(TypeKey(t), kind)
}

// Lookup returns the filter for key without creating one.
func (c *Cache) Lookup(key string) (*Filter, bool) {
	f, ok := c.filters.Load(key)
	if !ok {
		return nil, false
	}
	return f.(*Filter), true
}

// Register installs f, replacing any filter cached under the same name.
func (c *Cache) Register(f *Filter) {
	c.filters.Store(f.TypeName(), f)
}

// Validate fails with *wferr.AccessError when member is not allowed on the
// type named key.
func (c *Cache) Validate(key string, kind Kind, member string) error {
	f := c.Get(key, kind)
	if f.IsAllowed(member) {
		return nil
	}
	return &wferr.AccessError{Type: key, Member: member, Filter: f.Kind().String()}
}

// Keys lists the cached type names.
func (c *Cache) Keys() []string {
	var out []string
	c.filters.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	return out
}

// Reset drops every cached filter.
func (c *Cache) Reset() {
	c.filters.Range(func(k, _ any) bool {
		c.filters.Delete(k)
		return true
	})
}

// GetFilter returns the process-wide filter for t.
func GetFilter(t reflect.Type, kind Kind) *Filter { return Default.GetFilter(t, kind) }

// Register installs f in the process-wide cache.
func Register(f *Filter) { Default.Register(f) }

// Validate checks member against the process-wide filter for t.
func Validate(t reflect.Type, kind Kind, member string) error {
	return Default.Validate(TypeKey(t), kind, member)
}

// Reset clears the process-wide cache. Intended for tests.
func Reset() { Default.Reset() }
