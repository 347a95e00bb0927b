package chunk

import (
	"path/filepath"
	"strings"
)

// Language tags are coarse: they select a symbol extractor and are stored on
// every point so queries can filter by language.
const (
	LangGo         = "go"
	LangPython     = "python"
	LangRust       = "rust"
	LangJavaScript = "javascript"
	LangTypeScript = "typescript"
	LangJava       = "java"
	LangKotlin     = "kotlin"
	LangCSharp     = "csharp"
	LangC          = "c"
	LangCPP        = "cpp"
	LangRuby       = "ruby"
	LangPHP        = "php"
	LangShell      = "shell"
	LangMarkdown   = "markdown"
	LangText       = "text"
)

var extLanguages = map[string]string{
	".go":    LangGo,
	".py":    LangPython,
	".pyi":   LangPython,
	".rs":    LangRust,
	".js":    LangJavaScript,
	".jsx":   LangJavaScript,
	".mjs":   LangJavaScript,
	".cjs":   LangJavaScript,
	".ts":    LangTypeScript,
	".tsx":   LangTypeScript,
	".java":  LangJava,
	".kt":    LangKotlin,
	".kts":   LangKotlin,
	".cs":    LangCSharp,
	".c":     LangC,
	".h":     LangC,
	".cc":    LangCPP,
	".cpp":   LangCPP,
	".cxx":   LangCPP,
	".hpp":   LangCPP,
	".hh":    LangCPP,
	".rb":    LangRuby,
	".php":   LangPHP,
	".sh":    LangShell,
	".bash":  LangShell,
	".md":    LangMarkdown,
	".txt":   LangText,
	".rst":   LangText,
	".text":  LangText,
}

// DetectLanguage infers a language tag from a file path. Unknown extensions
// map to LangText, which gets windowed chunking.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extLanguages[ext]; ok {
		return lang
	}
	return LangText
}

// hasSymbolSupport reports whether a language has a symbol extractor; other
// languages fall back to windowed chunking.
func hasSymbolSupport(lang string) bool {
	switch lang {
	case LangGo, LangPython, LangRust, LangJavaScript, LangTypeScript,
		LangJava, LangKotlin, LangCSharp, LangRuby:
		return true
	}
	return false
}
