// Package pathval implements the normalized, component-wise path value used
// throughout dirwatchd to attribute a filesystem path to a watched root.
package pathval

import "strings"

// Path is an ordered sequence of non-empty path components plus a flag
// distinguishing an absolute path from a relative one.
type Path struct {
	parts    []string
	absolute bool
}

// ErrNotAPrefix is returned by TryStripPrefix when root is not a
// component-wise prefix of the receiver.
type ErrNotAPrefix struct{}

func (ErrNotAPrefix) Error() string { return "pathval: not a prefix" }

// Parse splits p on '/', drops empty components produced by leading or
// duplicate separators, and normalizes the result: "." components are
// removed, and ".." cancels the preceding component unless that component
// is itself "..", in which case the ".." is kept so a relative path
// escaping its origin is preserved.
func Parse(p string) Path {
	absolute := strings.HasPrefix(p, "/")

	var raw []string
	for _, c := range strings.Split(p, "/") {
		if c != "" {
			raw = append(raw, c)
		}
	}

	parts := make([]string, 0, len(raw))
	for _, c := range raw {
		switch c {
		case ".":
			continue
		case "..":
			if n := len(parts); n > 0 && parts[n-1] != ".." {
				parts = parts[:n-1]
				continue
			}
			parts = append(parts, c)
		default:
			parts = append(parts, c)
		}
	}

	return Path{parts: parts, absolute: absolute}
}

// FromParts builds a Path directly from a component list. The caller
// promises the components are already normalized; no validation or
// normalization is performed.
func FromParts(parts []string, absolute bool) Path {
	out := make([]string, len(parts))
	copy(out, parts)
	return Path{parts: out, absolute: absolute}
}

// Parts returns the path's component list. The returned slice must not be
// mutated by the caller.
func (p Path) Parts() []string { return p.parts }

// Absolute reports whether the path was parsed with a leading '/'.
func (p Path) Absolute() bool { return p.absolute }

// Empty reports whether the path has no components.
func (p Path) Empty() bool { return len(p.parts) == 0 }

// TryStripPrefix returns the suffix of p remaining after root, iff root's
// components are a component-wise prefix of p's components.
func (p Path) TryStripPrefix(root Path) (Path, error) {
	if len(root.parts) > len(p.parts) {
		return Path{}, ErrNotAPrefix{}
	}
	for i, c := range root.parts {
		if p.parts[i] != c {
			return Path{}, ErrNotAPrefix{}
		}
	}
	suffix := make([]string, len(p.parts)-len(root.parts))
	copy(suffix, p.parts[len(root.parts):])
	return Path{parts: suffix, absolute: false}, nil
}

// ChildPath drops the first component. The caller must ensure Parts() is
// non-empty.
func (p Path) ChildPath() Path {
	return Path{parts: p.parts[1:], absolute: p.absolute}
}

// String renders the path, joining components with '/' and prepending a
// leading '/' iff absolute is true.
func (p Path) String(absolute bool) string {
	var b strings.Builder
	for i, c := range p.parts {
		if i > 0 || absolute {
			b.WriteByte('/')
		}
		b.WriteString(c)
	}
	return b.String()
}
