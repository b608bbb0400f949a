package resource

import "strings"

// LastTag is the name of the tag pointing at an item's head version(s)
const LastTag = "LAST"

// ParentPath strips the last segment from p. A trailing slash on p is kept on
// the result, so "/a/b/" yields "/a/" and "/a/b" yields "/a".
func ParentPath(p string) string {
	trailing := strings.HasSuffix(p, "/")
	trimmed := strings.TrimSuffix(p, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	parent := trimmed[:idx]
	if trailing {
		return parent + "/"
	}
	if parent == "" && strings.HasPrefix(p, "/") {
		return "/"
	}
	return parent
}

// LastPath returns the address of the LAST tag of the item at p
func LastPath(p string) string {
	return strings.TrimSuffix(p, "/") + "/" + LastTag
}

// Join appends a segment to p with exactly one separating slash
func Join(p, segment string) string {
	return strings.TrimSuffix(p, "/") + "/" + strings.TrimPrefix(segment, "/")
}

// Base returns the last segment of p
func Base(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}
