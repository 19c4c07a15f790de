package reasoning

// MaxEventTextLength is the largest text payload handed to a sink, in characters.
// Chat surfaces commonly reject longer message bodies.
const MaxEventTextLength = 4096

// Truncate cuts s to at most max characters. Shorter text is returned unchanged,
// so Truncate(Truncate(s, n), n) == Truncate(s, n).
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		// byte length bounds rune count
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
