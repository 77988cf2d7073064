package util

import (
	"regexp"
	"strings"
)

var (
	reQuotes     = regexp.MustCompile(`["'` + "`" + `«»“”]`)
	reNonAllowed = regexp.MustCompile(`[^a-z0-9x\-/\s.]`)
	reSpaces     = regexp.MustCompile(`\s+`)
	reDimension  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[x*×]\s*(\d+(?:\.\d+)?)`)
)

var separatorReplacer = strings.NewReplacer("×", "x", "✕", "x", "*", "x", "Х", "x", "х", "x")

// NormalizeDimensions rewrites "10 * 100", "10X100" and "10×100" as "10x100".
func NormalizeDimensions(input string) string {
	s := strings.ToLower(input)
	s = separatorReplacer.Replace(s)
	return reDimension.ReplaceAllString(s, "${1}x${2}")
}

// NormalizeHeader lowercases, unifies dimension separators and strips punctuation.
func NormalizeHeader(input string) string {
	s := NormalizeDimensions(input)
	s = reQuotes.ReplaceAllString(s, " ")
	s = reNonAllowed.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeCode produces the lookup key for product codes: lowercase, canonical
// "x" separator, no spaces or punctuation other than - _ / .
func NormalizeCode(input string) string {
	s := NormalizeDimensions(input)
	s = strings.ReplaceAll(s, " ", "")
	out := strings.Builder{}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '/' || r == '.' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func Tokenize(input string) []string {
	norm := NormalizeHeader(input)
	parts := strings.Split(norm, " ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len([]rune(p)) >= 2 {
			out = append(out, p)
		}
	}
	return out
}

// LooksLikeCode reports whether input mixes letters and digits, e.g. "PVC20" or "8x80".
func LooksLikeCode(input string) bool {
	if len(strings.TrimSpace(input)) < 3 {
		return false
	}
	hasLetter := false
	hasDigit := false
	for _, r := range input {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			hasLetter = true
		}
		if r >= '0' && r <= '9' {
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

func DiceCoefficient(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	pairs := func(s string) []string {
		r := []rune(s)
		if len(r) < 2 {
			return nil
		}
		out := make([]string, 0, len(r)-1)
		for i := 0; i < len(r)-1; i++ {
			out = append(out, string(r[i:i+2]))
		}
		return out
	}

	aPairs := pairs(a)
	bPairs := pairs(b)
	if len(aPairs) == 0 || len(bPairs) == 0 {
		return 0
	}

	bCount := map[string]int{}
	for _, p := range bPairs {
		bCount[p]++
	}
	inter := 0
	for _, p := range aPairs {
		if bCount[p] > 0 {
			inter++
			bCount[p]--
		}
	}

	return float64(2*inter) / float64(len(aPairs)+len(bPairs))
}

func FloatPtr(v float64) *float64 { return &v }

func IntPtr(v int) *int { return &v }
