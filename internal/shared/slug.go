package shared

import (
	"regexp"
	"strings"
)

var (
	slugSpaceRe   = regexp.MustCompile(`\s+`)
	slugInvalidRe = regexp.MustCompile(`[^a-z0-9-]`)
	slugDashesRe  = regexp.MustCompile(`-+`)
)

// Slugify turns a display name into a URL-safe identifier.
// Slugify(Slugify(x)) == Slugify(x). All-punctuation input yields "".
func Slugify(s string) string {
	out := strings.TrimSpace(strings.ToLower(s))
	out = slugSpaceRe.ReplaceAllString(out, "-")
	out = slugInvalidRe.ReplaceAllString(out, "")
	out = slugDashesRe.ReplaceAllString(out, "-")
	return strings.Trim(out, "-")
}
