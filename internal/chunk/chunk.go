// Package chunk splits source files into indexable chunks. Supported
// languages are chunked on top-level syntactic units via lightweight line
// heuristics; everything else is chunked into fixed-size line windows.
// Chunking never fails a sync: unparseable input degrades to windows.
package chunk

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Element type stored on every chunk and point.
const (
	ElementFunction  = "function"
	ElementMethod    = "method"
	ElementClass     = "class"
	ElementStruct    = "struct"
	ElementInterface = "interface"
	ElementTrait     = "trait"
	ElementType      = "type"
	ElementModule    = "module"
	ElementText      = "text"
)

// Metadata describes where a chunk came from. Line numbers are 1-indexed and
// StartLine ≤ EndLine always holds.
type Metadata struct {
	FilePath      string
	StartLine     int
	EndLine       int
	Language      string
	FileExtension string
	ElementType   string
	// Context is the enclosing scope name: package, module, class or
	// receiver type. May be empty.
	Context string
}

// Chunk is one indexable unit of a source file.
type Chunk struct {
	Content  string
	Metadata Metadata
}

// Config controls windowed chunking and the skip limits.
type Config struct {
	// WindowLines is the window size for fallback chunking.
	WindowLines int
	// StrideLines is the window advance; must be ≤ WindowLines.
	StrideLines int
	// MaxFileSizeBytes skips files strictly larger than this. Zero disables
	// the limit.
	MaxFileSizeBytes int64
}

// DefaultConfig returns the chunking defaults.
func DefaultConfig() Config {
	return Config{WindowLines: 80, StrideLines: 80, MaxFileSizeBytes: 1 << 20}
}

// Result is the outcome of chunking one file.
type Result struct {
	Chunks     []Chunk
	Skipped    bool
	SkipReason string
}

const binarySniffLen = 8 * 1024

// File chunks a single file. Oversized and binary files are skipped with a
// reason; all other inputs produce at least zero chunks without error.
func File(path string, data []byte, cfg Config) Result {
	if cfg.WindowLines <= 0 {
		cfg.WindowLines = 80
	}
	if cfg.StrideLines <= 0 || cfg.StrideLines > cfg.WindowLines {
		cfg.StrideLines = cfg.WindowLines
	}

	if cfg.MaxFileSizeBytes > 0 && int64(len(data)) > cfg.MaxFileSizeBytes {
		return Result{Skipped: true, SkipReason: "file exceeds size limit"}
	}
	if isBinary(data) {
		return Result{Skipped: true, SkipReason: "binary file"}
	}

	lang := DetectLanguage(path)
	lines := splitLines(data)
	if len(lines) == 0 {
		return Result{}
	}

	if hasSymbolSupport(lang) {
		if chunks := symbolChunks(path, lang, lines); len(chunks) > 0 {
			return Result{Chunks: chunks}
		}
	}
	return Result{Chunks: windowChunks(path, lang, lines, cfg)}
}

// isBinary applies a NUL-byte heuristic over the first 8 KiB.
func isBinary(data []byte) bool {
	sniff := data
	if len(sniff) > binarySniffLen {
		sniff = sniff[:binarySniffLen]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}

// splitLines preserves content lines without trailing newline artifacts. A
// trailing newline does not produce a phantom empty line.
func splitLines(data []byte) []string {
	s := string(data)
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// windowChunks produces fixed-size line windows. With stride == window the
// windows are disjoint and cover every line.
func windowChunks(path, lang string, lines []string, cfg Config) []Chunk {
	var chunks []Chunk
	ext := strings.ToLower(filepath.Ext(path))

	for start := 0; start < len(lines); start += cfg.StrideLines {
		end := start + cfg.WindowLines
		if end > len(lines) {
			end = len(lines)
		}
		content := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(content) == "" {
			if end == len(lines) {
				break
			}
			continue
		}
		chunks = append(chunks, Chunk{
			Content: content,
			Metadata: Metadata{
				FilePath:      path,
				StartLine:     start + 1,
				EndLine:       end,
				Language:      lang,
				FileExtension: ext,
				ElementType:   ElementText,
			},
		})
		if end == len(lines) {
			break
		}
	}
	return chunks
}

// symbolChunks splits a file at its top-level symbols. Each chunk runs from
// one symbol to the line before the next, so chunks are disjoint and cover
// the whole file. The leading preamble (imports, package docs) becomes a
// module chunk.
func symbolChunks(path, lang string, lines []string) []Chunk {
	scope, syms := extractSymbols(lang, lines)
	if len(syms) == 0 {
		return nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	var chunks []Chunk

	appendChunk := func(startLine, endLine int, elem, context string) {
		content := strings.Join(lines[startLine-1:endLine], "\n")
		if strings.TrimSpace(content) == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Content: content,
			Metadata: Metadata{
				FilePath:      path,
				StartLine:     startLine,
				EndLine:       endLine,
				Language:      lang,
				FileExtension: ext,
				ElementType:   elem,
				Context:       context,
			},
		})
	}

	if syms[0].line > 1 {
		appendChunk(1, syms[0].line-1, ElementModule, scope)
	}
	for i, sym := range syms {
		end := len(lines)
		if i+1 < len(syms) {
			end = syms[i+1].line - 1
		}
		if end < sym.line {
			end = sym.line
		}
		context := sym.context
		if context == "" {
			context = scope
		}
		appendChunk(sym.line, end, sym.kind, context)
	}
	return chunks
}
