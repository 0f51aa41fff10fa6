package profile

import "strings"

type compareMode int

const (
	compareExact compareMode = iota
	compareEmail
	comparePhone
	compareDigits
)

// modeForKey infers how values of a normalized key are compared. Checks are
// plain substring tests in priority order.
func modeForKey(key string) compareMode {
	switch {
	case strings.Contains(key, "email"):
		return compareEmail
	case strings.Contains(key, "phone"), strings.Contains(key, "tel"), strings.Contains(key, "mobile"):
		return comparePhone
	case strings.Contains(key, "ssn"), strings.Contains(key, "social"), strings.Contains(key, "id"):
		return compareDigits
	default:
		return compareExact
	}
}

// Dedupe removes values that are duplicates under the comparison implied
// by key, keeping the first occurrence of each.
func Dedupe(key string, values []string) []string {
	mode := modeForKey(key)
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		id := identity(mode, v)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, v)
	}
	return out
}

func identity(mode compareMode, v string) string {
	switch mode {
	case compareEmail:
		return "e:" + strings.ToLower(v)
	case comparePhone:
		d := digitsOnly(v)
		if len(d) == 11 && d[0] == '1' {
			d = d[1:]
		}
		if d != "" {
			return "d:" + d
		}
	case compareDigits:
		if d := digitsOnly(v); d != "" {
			return "d:" + d
		}
	}
	// Values without digits in a digit mode fall back to exact comparison.
	return "x:" + v
}

func digitsOnly(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
