package tgui

import "unicode/utf8"

// Clip shortens s to at most n runes. A cut text ends in "…", which counts
// toward n.
func Clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	return string(rs[:n-1]) + "…"
}
