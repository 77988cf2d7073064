package extract

import (
	"regexp"
	"strings"

	"orderdesk/internal/util"
)

type tokenKind int

const (
	tokCode tokenKind = iota
	tokNumber
	tokUnit
	tokEach
	tokSep
	tokWord
	tokBreak
)

type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

var (
	// Order matters: dimension codes, alphanumeric codes, numbers, words, separators.
	tokenPattern = regexp.MustCompile(`(\d+(?:\.\d+)?x\d+(?:\.\d+)?(?:x\d+(?:\.\d+)?)?)|([a-z]*\d+[a-z]+[a-z0-9\-]*|[a-z]+-?\d+[a-z0-9\-]*)|(-?\d{1,3}(?:,\d{3})+|-?\d+(?:\.\d+)?)|([a-z]+(?:'[a-z]+)?)|([,;\n&+|])`)
	gluedUnit    = regexp.MustCompile(`(\d)(pcs|pieces|piece|pc|ctns|ctn|cartons|carton|boxes|box|cs)\b`)
)

var unitWords = map[string]struct{}{
	"pcs": {}, "pieces": {}, "piece": {}, "pc": {},
	"ctns": {}, "ctn": {}, "cartons": {}, "carton": {}, "boxes": {}, "box": {}, "cs": {},
}

var eachWords = map[string]struct{}{"each": {}, "ea": {}, "apiece": {}}

var sepWords = map[string]struct{}{"and": {}, "plus": {}, "also": {}}

var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "add": {}, "ahead": {}, "an": {}, "any": {}, "are": {}, "at": {}, "available": {},
	"best": {}, "bro": {}, "can": {}, "confirm": {}, "cost": {}, "could": {}, "dear": {}, "discount": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "get": {}, "give": {}, "go": {}, "hello": {}, "hey": {},
	"hi": {}, "how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "kindly": {}, "me": {}, "more": {},
	"much": {}, "my": {}, "need": {}, "needed": {}, "no": {}, "of": {}, "ok": {}, "okay": {}, "on": {},
	"order": {}, "our": {}, "please": {}, "pls": {}, "plz": {}, "price": {}, "prices": {}, "qty": {},
	"quantity": {}, "quote": {}, "quotation": {}, "rate": {}, "rates": {}, "require": {}, "required": {},
	"rs": {}, "same": {}, "send": {}, "share": {}, "sir": {}, "some": {}, "tell": {}, "thanks": {},
	"thank": {}, "the": {}, "to": {}, "total": {}, "us": {}, "want": {}, "we": {}, "what": {},
	"whats": {}, "what's": {}, "will": {}, "with": {}, "would": {}, "x": {}, "yes": {}, "you": {},
	"your": {}, "make": {}, "take": {}, "book": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"like": {}, "just": {}, "only": {}, "now": {}, "today": {}, "urgent": {}, "also": {}, "let": {},
	"know": {}, "have": {}, "has": {}, "be": {}, "buy": {}, "per": {}, "all": {}, "both": {},
	"better": {}, "lower": {}, "cheaper": {}, "deal": {}, "offer": {}, "final": {}, "last": {},
	"extra": {}, "little": {}, "bit": {}, "too": {}, "high": {}, "expensive": {}, "still": {},
}

var priceWords = map[string]struct{}{
	"price": {}, "prices": {}, "rate": {}, "rates": {}, "cost": {}, "quote": {}, "quotation": {},
}

// normalize lowercases text, unifies dimension separators and splits glued
// quantities such as "10ctns".
func normalize(text string) string {
	s := util.NormalizeDimensions(strings.ReplaceAll(text, "\r\n", "\n"))
	return gluedUnit.ReplaceAllString(s, "$1 $2")
}

func tokenize(normalized string) []token {
	matches := tokenPattern.FindAllStringSubmatchIndex(normalized, -1)
	out := make([]token, 0, len(matches))
	for _, m := range matches {
		start, end := m[0], m[1]
		text := normalized[start:end]
		tok := token{text: text, start: start, end: end}
		switch {
		case m[2] >= 0, m[4] >= 0:
			tok.kind = tokCode
		case m[6] >= 0:
			tok.kind = tokNumber
		case m[8] >= 0:
			tok.kind = classifyWord(text)
		default:
			tok.kind = tokSep
		}
		out = append(out, tok)
	}
	return out
}

func classifyWord(word string) tokenKind {
	if _, ok := unitWords[word]; ok {
		return tokUnit
	}
	if _, ok := eachWords[word]; ok {
		return tokEach
	}
	if _, ok := sepWords[word]; ok {
		return tokSep
	}
	if _, ok := stopWords[word]; ok {
		return tokBreak
	}
	if len(word) < 2 {
		return tokBreak
	}
	return tokWord
}

func hasPriceWord(tokens []token, normalized string) bool {
	for _, t := range tokens {
		if _, ok := priceWords[t.text]; ok {
			return true
		}
	}
	return strings.Contains(normalized, "how much")
}
