// Package tokenize provides deterministic code-aware tokenization. The same
// input always yields the same token sequence, which the sparse vector space
// depends on.
package tokenize

import (
	"strings"
	"unicode"
)

// Config controls token splitting and filtering.
type Config struct {
	SplitCamelCase  bool
	SplitSnakeCase  bool
	KeepOriginal    bool
	MinTokenLen     int
	MaxTokenLen     int
	StripDigitsOnly bool
}

// DefaultConfig returns the tokenizer configuration used for both indexing
// and querying. Indexing and querying must agree on this or sparse lookups
// will miss.
func DefaultConfig() Config {
	return Config{
		SplitCamelCase:  true,
		SplitSnakeCase:  true,
		KeepOriginal:    true,
		MinTokenLen:     2,
		MaxTokenLen:     64,
		StripDigitsOnly: true,
	}
}

// Token is a normalized token with its byte span in the original text.
type Token struct {
	Text  string
	Start int
	End   int
}

// Tokenize splits text into lowercased tokens. Identifiers are split on
// camelCase and snake_case boundaries; when a compound identifier is split,
// the lowercased original is kept alongside the parts so exact matches still
// rank. Dots are preserved inside filename-shaped identifiers ("main.rs").
func Tokenize(text string, cfg Config) []Token {
	var out []Token

	i := 0
	n := len(text)
	for i < n {
		// Find the next raw run of identifier characters (plus dots).
		for i < n && !isWordByte(text[i]) && text[i] != '.' {
			i++
		}
		start := i
		for i < n && (isWordByte(text[i]) || text[i] == '.') {
			i++
		}
		if start == i {
			continue
		}

		raw := text[start:i]
		// Trim dots that are punctuation rather than part of a name.
		trimmed := strings.Trim(raw, ".")
		if trimmed == "" {
			continue
		}
		offset := start + strings.Index(raw, trimmed)

		if looksLikeFilename(trimmed) {
			emit(&out, strings.ToLower(trimmed), offset, offset+len(trimmed), cfg)
			continue
		}

		// Not filename-shaped: dots are separators.
		segStart := offset
		for _, seg := range strings.Split(trimmed, ".") {
			if seg != "" {
				tokenizeIdent(&out, seg, segStart, cfg)
			}
			segStart += len(seg) + 1
		}
	}

	return out
}

// tokenizeIdent splits a single identifier on snake and camel boundaries.
func tokenizeIdent(out *[]Token, ident string, offset int, cfg Config) {
	parts := []span{{0, len(ident)}}
	if cfg.SplitSnakeCase {
		parts = splitAll(parts, ident, splitSnake)
	}
	if cfg.SplitCamelCase {
		parts = splitAll(parts, ident, splitCamel)
	}

	if cfg.KeepOriginal && len(parts) > 1 {
		emit(out, strings.ToLower(ident), offset, offset+len(ident), cfg)
	}
	for _, p := range parts {
		emit(out, strings.ToLower(ident[p.lo:p.hi]), offset+p.lo, offset+p.hi, cfg)
	}
}

func emit(out *[]Token, text string, start, end int, cfg Config) {
	if len(text) < cfg.MinTokenLen {
		return
	}
	if cfg.MaxTokenLen > 0 && len(text) > cfg.MaxTokenLen {
		return
	}
	if cfg.StripDigitsOnly && digitsOnly(text) {
		return
	}
	*out = append(*out, Token{Text: text, Start: start, End: end})
}

type span struct{ lo, hi int }

func splitAll(parts []span, s string, split func(string, int) []span) []span {
	var next []span
	for _, p := range parts {
		next = append(next, split(s[p.lo:p.hi], p.lo)...)
	}
	return next
}

func splitSnake(s string, base int) []span {
	var out []span
	lo := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '_' {
			if i > lo {
				out = append(out, span{base + lo, base + i})
			}
			lo = i + 1
		}
	}
	return out
}

// splitCamel splits at lower→Upper boundaries and at the end of an acronym
// run ("HTTPServer" → "HTTP", "Server").
func splitCamel(s string, base int) []span {
	var out []span
	runes := []rune(s)
	if len(runes) == 0 {
		return out
	}

	// Byte offsets per rune index.
	offs := make([]int, len(runes)+1)
	b := 0
	for i, r := range runes {
		offs[i] = b
		b += runeLen(r)
	}
	offs[len(runes)] = b

	lo := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := false
		if unicode.IsUpper(cur) && !unicode.IsUpper(prev) && unicode.IsLetter(prev) {
			boundary = true
		}
		if unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			boundary = true
		}
		if boundary {
			out = append(out, span{base + offs[lo], base + offs[i]})
			lo = i
		}
	}
	out = append(out, span{base + offs[lo], base + offs[len(runes)]})
	return out
}

func runeLen(r rune) int {
	switch {
	case r < 0x80:
		return 1
	case r < 0x800:
		return 2
	case r < 0x10000:
		return 3
	default:
		return 4
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// looksLikeFilename reports whether an identifier containing dots should be
// kept whole, e.g. "main.rs" or "config.test.ts". The final segment must be
// a short alphanumeric extension containing at least one letter.
func looksLikeFilename(s string) bool {
	if !strings.Contains(s, ".") {
		return false
	}
	segs := strings.Split(s, ".")
	for _, seg := range segs {
		if seg == "" {
			return false
		}
	}
	ext := segs[len(segs)-1]
	if len(ext) > 8 {
		return false
	}
	hasLetter := false
	for i := 0; i < len(ext); i++ {
		c := ext[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
			hasLetter = true
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return hasLetter
}
