// Package keys builds canonical cache keys.
//
// A key is the full name of a Go type followed by one or more parts, joined
// with ':' and upper-cased so lookups are case-insensitive:
//
//	keys.Create(reflect.TypeFor[User](), "42")          // "EXAMPLE.COM/APP.USER:42"
//	keys.CreateParts(reflect.TypeFor[User](), "a", nil, 7) // "EXAMPLE.COM/APP.USER:A::7"
//
// The type name is always the first segment, so keys built for different
// types never collide even when the parts are identical.
package keys

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

const sep = ':'

var (
	// ErrInvalid is wrapped by every validation error returned from this package.
	ErrInvalid = errors.New("keys: invalid argument")

	ErrNilType   = fmt.Errorf("%w: nil type", ErrInvalid)
	ErrEmptyKey  = fmt.Errorf("%w: empty key", ErrInvalid)
	ErrPartCount = fmt.Errorf("%w: part count out of range", ErrInvalid)
)

// TypeName returns the full name of t: "<pkgpath>.<name>" for named types,
// t.String() for everything else (slices, maps, pointers, instantiations
// without a package path).
func TypeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// Create returns the canonical key for a single part.
func Create(t reflect.Type, key string) (string, error) {
	if t == nil {
		return "", ErrNilType
	}
	if strings.TrimSpace(key) == "" {
		return "", ErrEmptyKey
	}
	name := TypeName(t)

	var b strings.Builder
	b.Grow(len(name) + 1 + len(key))
	b.WriteString(name)
	b.WriteByte(sep)
	b.WriteString(key)
	return strings.ToUpper(b.String()), nil
}

// CreateParts is CreateN over every supplied part.
func CreateParts(t reflect.Type, parts ...any) (string, error) {
	return CreateN(t, len(parts), parts...)
}

// CreateN returns the canonical key built from the first n parts.
// n must be within [1, len(parts)].
//
// A nil part keeps its slot: its delimiter is written and its segment is
// left empty, so ("a", nil, "c") yields "A::C" and never collides with
// ("a", "c"). Non-nil parts are rendered with fmt.Sprint and must not be
// blank.
func CreateN(t reflect.Type, n int, parts ...any) (string, error) {
	if t == nil {
		return "", ErrNilType
	}
	if n < 1 || n > len(parts) {
		return "", fmt.Errorf("%w: n=%d parts=%d", ErrPartCount, n, len(parts))
	}

	segs := make([]string, n)
	size := len(TypeName(t))
	for i := 0; i < n; i++ {
		// every part reserves a delimiter, nil or not
		size++
		if parts[i] == nil {
			continue
		}
		s := fmt.Sprint(parts[i])
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("%w: part %d", ErrEmptyKey, i)
		}
		segs[i] = s
		size += len(s)
	}

	var b strings.Builder
	b.Grow(size)
	b.WriteString(TypeName(t))
	for _, s := range segs {
		b.WriteByte(sep)
		b.WriteString(s)
	}
	return strings.ToUpper(b.String()), nil
}
