package chunk

import (
	"regexp"
	"strings"
)

// symbol marks the first line of a top-level syntactic unit.
type symbol struct {
	line    int // 1-indexed
	kind    string
	context string
}

// extractSymbols finds top-level unit boundaries using per-language line
// heuristics. It returns the file-level scope name (package or module) and
// the symbols in source order. Heuristics are intentionally forgiving: a
// file that defeats them simply falls back to windowed chunking.
func extractSymbols(lang string, lines []string) (string, []symbol) {
	switch lang {
	case LangGo:
		return extractGo(lines)
	case LangPython:
		return extractPython(lines)
	case LangRust:
		return extractRust(lines)
	case LangJavaScript, LangTypeScript:
		return extractJS(lines)
	case LangJava, LangKotlin, LangCSharp:
		return extractJavaLike(lines)
	case LangRuby:
		return extractRuby(lines)
	}
	return "", nil
}

var (
	goPackageRe = regexp.MustCompile(`^package\s+(\w+)`)
	goFuncRe    = regexp.MustCompile(`^func\s+(\w+)\s*\(`)
	goMethodRe  = regexp.MustCompile(`^func\s+\(\s*\w+\s+\*?(\w+)\s*\)\s*\w+\s*\(`)
	goTypeRe    = regexp.MustCompile(`^type\s+(\w+)\s+(struct|interface)\b`)
	goDeclRe    = regexp.MustCompile(`^(var|const|type)\b`)
)

func extractGo(lines []string) (string, []symbol) {
	var scope string
	var syms []symbol
	for i, line := range lines {
		if m := goPackageRe.FindStringSubmatch(line); m != nil {
			scope = m[1]
			continue
		}
		switch {
		case goMethodRe.MatchString(line):
			m := goMethodRe.FindStringSubmatch(line)
			syms = append(syms, symbol{line: i + 1, kind: ElementMethod, context: m[1]})
		case goFuncRe.MatchString(line):
			syms = append(syms, symbol{line: i + 1, kind: ElementFunction})
		case goTypeRe.MatchString(line):
			m := goTypeRe.FindStringSubmatch(line)
			kind := ElementStruct
			if m[2] == "interface" {
				kind = ElementInterface
			}
			syms = append(syms, symbol{line: i + 1, kind: kind})
		case goDeclRe.MatchString(line):
			syms = append(syms, symbol{line: i + 1, kind: ElementType})
		}
	}
	return scope, syms
}

var (
	pyClassRe = regexp.MustCompile(`^class\s+(\w+)`)
	pyDefRe   = regexp.MustCompile(`^(?:async\s+)?def\s+(\w+)`)
)

func extractPython(lines []string) (string, []symbol) {
	var syms []symbol
	for i, line := range lines {
		if pyClassRe.MatchString(line) {
			syms = append(syms, symbol{line: i + 1, kind: ElementClass})
		} else if pyDefRe.MatchString(line) {
			syms = append(syms, symbol{line: i + 1, kind: ElementFunction})
		}
	}
	return "", syms
}

var (
	rustFnRe     = regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?(?:unsafe\s+)?fn\s+\w+`)
	rustStructRe = regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?struct\s+\w+`)
	rustEnumRe   = regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?enum\s+\w+`)
	rustTraitRe  = regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?trait\s+\w+`)
	rustImplRe   = regexp.MustCompile(`^impl\b.*\b(\w+)`)
)

func extractRust(lines []string) (string, []symbol) {
	var syms []symbol
	for i, line := range lines {
		switch {
		case rustFnRe.MatchString(line):
			syms = append(syms, symbol{line: i + 1, kind: ElementFunction})
		case rustStructRe.MatchString(line):
			syms = append(syms, symbol{line: i + 1, kind: ElementStruct})
		case rustEnumRe.MatchString(line):
			syms = append(syms, symbol{line: i + 1, kind: ElementType})
		case rustTraitRe.MatchString(line):
			syms = append(syms, symbol{line: i + 1, kind: ElementTrait})
		case rustImplRe.MatchString(line):
			m := rustImplRe.FindStringSubmatch(line)
			syms = append(syms, symbol{line: i + 1, kind: ElementClass, context: m[1]})
		}
	}
	return "", syms
}

var (
	jsFuncRe  = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*\w*`)
	jsClassRe = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(\w+)`)
	jsConstRe = regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+\w+\s*(?::[^=]+)?=\s*(?:async\s+)?(?:\([^)]*\)|\w+)\s*=>`)
	tsIfaceRe = regexp.MustCompile(`^(?:export\s+)?interface\s+(\w+)`)
)

func extractJS(lines []string) (string, []symbol) {
	var syms []symbol
	for i, line := range lines {
		switch {
		case jsClassRe.MatchString(line):
			syms = append(syms, symbol{line: i + 1, kind: ElementClass})
		case tsIfaceRe.MatchString(line):
			syms = append(syms, symbol{line: i + 1, kind: ElementInterface})
		case jsFuncRe.MatchString(line), jsConstRe.MatchString(line):
			syms = append(syms, symbol{line: i + 1, kind: ElementFunction})
		}
	}
	return "", syms
}

var (
	javaPkgRe   = regexp.MustCompile(`^package\s+([\w.]+)`)
	javaClassRe = regexp.MustCompile(`^(?:\s*)(?:public\s+|private\s+|protected\s+|internal\s+|static\s+|final\s+|abstract\s+|sealed\s+|data\s+|open\s+)*(class|interface|enum|record|object)\s+(\w+)`)
)

func extractJavaLike(lines []string) (string, []symbol) {
	var scope string
	var syms []symbol
	for i, line := range lines {
		if m := javaPkgRe.FindStringSubmatch(line); m != nil && scope == "" {
			scope = m[1]
			continue
		}
		if m := javaClassRe.FindStringSubmatch(line); m != nil && leadingIndent(line) == 0 {
			kind := ElementClass
			if m[1] == "interface" {
				kind = ElementInterface
			}
			syms = append(syms, symbol{line: i + 1, kind: kind})
		}
	}
	return scope, syms
}

var (
	rubyClassRe  = regexp.MustCompile(`^(?:class|module)\s+(\w+)`)
	rubyMethodRe = regexp.MustCompile(`^def\s+\w+`)
)

func extractRuby(lines []string) (string, []symbol) {
	var syms []symbol
	for i, line := range lines {
		if rubyClassRe.MatchString(line) {
			syms = append(syms, symbol{line: i + 1, kind: ElementClass})
		} else if rubyMethodRe.MatchString(line) {
			syms = append(syms, symbol{line: i + 1, kind: ElementFunction})
		}
	}
	return "", syms
}

func leadingIndent(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}
