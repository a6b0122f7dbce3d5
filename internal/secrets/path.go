package secrets

import "regexp"

const maxPathLength = 512

var pathSegmentRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+(\.[a-zA-Z0-9_-]+)*$`)

// ValidPath reports whether path conforms to §6's secret path syntax:
// reverse-domain, dot-separated labels from [a-zA-Z0-9_-]+, at most 512
// characters.
func ValidPath(path string) bool {
	if path == "" || len(path) > maxPathLength {
		return false
	}
	return pathSegmentRe.MatchString(path)
}
