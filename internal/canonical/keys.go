package canonical

import (
	"slices"
	"unicode/utf16"
)

// SortKeys sorts object keys in RFC 8785 order.
func SortKeys(keys []string) {
	slices.SortFunc(keys, CompareKeys)
}

// CompareKeys compares strings by UTF-16 code units as RFC 8785 requires.
// CRITICAL: Go's native string comparison uses UTF-8 bytes, which orders
// supplementary-plane characters differently (U+10000 vs U+E000).
func CompareKeys(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	for i := 0; i < min(len(a16), len(b16)); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	// Equal prefix: the shorter string sorts first.
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}
