package e2e

import (
	"strings"

	"github.com/google/uuid"
)

const maxProjectNameLength = 63

// ProjectName derives a Docker Compose project name that is unique per
// build, so concurrent builds on one agent never share containers or
// networks. Compose accepts lowercase letters, digits, dashes and
// underscores and requires a leading letter or digit.
func ProjectName(prefix, job, build string) string {
	if build == "" {
		build = uuid.NewString()[:8]
	}

	parts := []string{}
	for _, p := range []string{prefix, job, build} {
		if s := sanitize(p); s != "" {
			parts = append(parts, s)
		}
	}
	name := strings.Join(parts, "-")
	if name == "" {
		name = "e2e"
	}

	if len(name) > maxProjectNameLength {
		// Keep the build suffix intact since that is what makes it unique
		suffix := sanitize(build)
		if len(suffix) >= maxProjectNameLength/2 {
			suffix = strings.TrimLeft(suffix[len(suffix)-maxProjectNameLength/2:], "-_")
		}
		if suffix == "" {
			return strings.TrimRight(name[:maxProjectNameLength], "-_")
		}
		head := strings.TrimRight(name[:maxProjectNameLength-len(suffix)-1], "-_")
		name = head + "-" + suffix
	}
	return name
}

// sanitize lowercases s and collapses runs of invalid characters to a single dash
func sanitize(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
		if !valid || r == '-' {
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = true
			continue
		}
		b.WriteRune(r)
		dash = false
	}
	return strings.Trim(b.String(), "-_")
}
