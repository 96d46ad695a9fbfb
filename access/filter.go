// Package access implements per-type allow/deny policies over member names.
//
// The engine consults a Filter only when a program reads or assigns a
// member of an existing instance through ACCESS or SETACCESS. Ordinary
// construction is never filtered.
package access

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind selects a filter's default for members it does not govern.
type Kind int

const (
	// Whitelist allows only governed members.
	Whitelist Kind = iota
	// Blacklist denies governed members and allows everything else.
	Blacklist
)

func (k Kind) String() string {
	switch k {
	case Whitelist:
		return "whitelist"
	case Blacklist:
		return "blacklist"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts "whitelist" or "blacklist", case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "whitelist", "allow":
		return Whitelist, nil
	case "blacklist", "deny":
		return Blacklist, nil
	}
	return 0, fmt.Errorf("unknown filter kind %q", s)
}

// accessorPrefixes mark synthesized property accessor names, which are never
// reachable through a filter.
var accessorPrefixes = []string{"get_", "set_"}

// IsAccessorName reports whether member is a synthesized accessor name.
func IsAccessorName(member string) bool {
	for _, p := range accessorPrefixes {
		if strings.HasPrefix(member, p) {
			return true
		}
	}
	return false
}

// Filter is the policy for one type. It is safe for concurrent use.
type Filter struct {
	typeName string
	kind     Kind

	mu       sync.RWMutex
	governed map[string]struct{}
	exempt   map[string]struct{}
}

// NewFilter creates an empty filter for typeName.
func NewFilter(typeName string, kind Kind) *Filter {
	return &Filter{
		typeName: typeName,
		kind:     kind,
		governed: make(map[string]struct{}),
		exempt:   make(map[string]struct{}),
	}
}

// TypeName returns the qualified name of the filtered type.
func (f *Filter) TypeName() string { return f.typeName }

// Kind returns the filter kind.
func (f *Filter) Kind() Kind { return f.kind }

// Govern adds members to the governed set.
func (f *Filter) Govern(members ...string) *Filter {
	f.mu.Lock()
	for _, m := range members {
		f.governed[m] = struct{}{}
	}
	f.mu.Unlock()
	return f
}

// Exempt marks members as exceptions. An exception gets the opposite of the
// filter's default whether or not it is governed: allowed under Whitelist,
// denied under Blacklist. Accessor names stay denied.
func (f *Filter) Exempt(members ...string) *Filter {
	f.mu.Lock()
	for _, m := range members {
		f.exempt[m] = struct{}{}
	}
	f.mu.Unlock()
	return f
}

// IsAllowed decides whether member may be accessed.
func (f *Filter) IsAllowed(member string) bool {
	if IsAccessorName(member) {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	if _, ok := f.exempt[member]; ok {
		return f.kind == Whitelist
	}
	_, governed := f.governed[member]
	if f.kind == Whitelist {
		return governed
	}
	return !governed
}

// Governed returns the governed members, sorted.
func (f *Filter) Governed() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.governed)
}

// Exempted returns the exempt members, sorted.
func (f *Filter) Exempted() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedKeys(f.exempt)
}

func (f *Filter) String() string {
	return fmt.Sprintf("%s filter for %s (governed %v, exempt %v)", f.kind, f.typeName, f.Governed(), f.Exempted())
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
