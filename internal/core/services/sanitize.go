package services

import (
	"regexp"
	"strconv"
)

var idPattern = regexp.MustCompile(`(?s)^(.*?)(\d*)$`)

// SplitID separates id into its non-numeric prefix and trailing number.
// ok is false when id has no numeric suffix.
func SplitID(id string) (prefix string, suffix int64, ok bool) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil || m[2] == "" {
		return id, 0, false
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return id, 0, false
	}
	return m[1], n, true
}

// SanitizeID returns candidate unchanged unless it collides with an entry in
// existing, in which case it becomes prefix + (highest suffix among ids
// sharing the prefix + 1). An id with no suffix counts as -1, so colliding
// registrations of "A" yield "A", "A0", "A1".
func SanitizeID(candidate string, existing []string) string {
	taken := false
	for _, id := range existing {
		if id == candidate {
			taken = true
			break
		}
	}
	if !taken {
		return candidate
	}

	prefix, _, _ := SplitID(candidate)
	highest := int64(-1)
	for _, id := range existing {
		p, n, ok := SplitID(id)
		if p != prefix {
			continue
		}
		if !ok {
			n = -1
		}
		if n > highest {
			highest = n
		}
	}
	return prefix + strconv.FormatInt(highest+1, 10)
}
