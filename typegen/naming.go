package typegen

import (
	"strings"
	"unicode"
)

// WireName returns the registry name for a Go type. Qualified names carry
// the package name: "geom", "Vector2" → "geom.Vector2".
func WireName(pkgName, typeName string, qualify bool) string {
	if !qualify || pkgName == "" {
		return typeName
	}
	return pkgName + "." + typeName
}

// ImportAlias derives a Go identifier for importing a package in generated
// code. Major-version suffixes and "go-" prefixes are dropped:
// "github.com/a/go-geom/v2" → "geom", "encoding/json" → "json".
func ImportAlias(importPath string) string {
	parts := strings.Split(strings.Trim(importPath, "/"), "/")
	last := parts[len(parts)-1]
	if isMajorVersion(last) && len(parts) > 1 {
		last = parts[len(parts)-2]
	}
	last = strings.TrimPrefix(last, "go-")

	var b strings.Builder
	for _, r := range last {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r) && b.Len() > 0:
			b.WriteRune(unicode.ToLower(r))
		case r == '-' || r == '.' || r == '_':
			b.WriteByte('_')
		}
	}
	alias := strings.Trim(b.String(), "_")
	if alias == "" {
		return "pkg"
	}
	return alias
}

func isMajorVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
