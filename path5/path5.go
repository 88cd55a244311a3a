// Package path5 provides tools for parsing and splitting the in-tree
// path names used by fs5. Unlike upspin's path package, an s5 path has
// no leading user name: it is a plain, slash-separated path rooted at a
// directory actor's own root, e.g. "photos/2024/beach.jpg".
package path5

import (
	"strings"
)

// Clean removes leading/trailing slashes and collapses empty elements,
// returning the canonical form used as a map key throughout fs5 and as
// the wire form of DirRef/FileRef names.
func Clean(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, e := range parts {
		if e == "" || e == "." {
			continue
		}
		out = append(out, e)
	}
	return strings.Join(out, "/")
}

// Split divides a cleaned path into its parent directory path and final
// element. For a top-level entry, parent is "".
func Split(p string) (parent, base string) {
	p = Clean(p)
	if p == "" {
		return "", ""
	}
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// Elems returns the path's elements in order.
func Elems(p string) []string {
	p = Clean(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// NElem returns the number of elements in the path.
func NElem(p string) int {
	return len(Elems(p))
}

// Join joins path elements with "/" and cleans the result.
func Join(elems ...string) string {
	return Clean(strings.Join(elems, "/"))
}

// HasPrefix reports whether p lies at or under the directory prefix.
// Both arguments are cleaned before comparison.
func HasPrefix(p, prefix string) bool {
	p = Clean(p)
	prefix = Clean(prefix)
	if prefix == "" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// TrimPrefix removes the leading directory prefix (and its separator)
// from p. If p does not have the prefix, p is returned unchanged.
func TrimPrefix(p, prefix string) string {
	p = Clean(p)
	prefix = Clean(prefix)
	if prefix == "" {
		return p
	}
	if p == prefix {
		return ""
	}
	if strings.HasPrefix(p, prefix+"/") {
		return p[len(prefix)+1:]
	}
	return p
}
