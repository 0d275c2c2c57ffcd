package util

import "strings"

// TrimRefsPrefix strips a git ref prefix such as refs/heads/ from a branch
// reference.
func TrimRefsPrefix(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}
