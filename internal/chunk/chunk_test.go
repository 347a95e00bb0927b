package chunk

import (
	"strings"
	"testing"
)

const goSample = `package server

import "fmt"

// Server handles requests.
type Server struct {
	addr string
}

func (s *Server) Start() error {
	return nil
}

func NewServer(addr string) *Server {
	return &Server{addr: addr}
}
`

func TestFile_GoSymbols(t *testing.T) {
	res := File("internal/server/server.go", []byte(goSample), DefaultConfig())
	if res.Skipped {
		t.Fatalf("unexpected skip: %s", res.SkipReason)
	}
	if len(res.Chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(res.Chunks))
	}

	first := res.Chunks[0]
	if first.Metadata.ElementType != ElementModule {
		t.Errorf("first chunk element = %s, want module", first.Metadata.ElementType)
	}
	if first.Metadata.StartLine != 1 {
		t.Errorf("first chunk start = %d, want 1", first.Metadata.StartLine)
	}

	var sawMethod, sawFunc, sawStruct bool
	for _, c := range res.Chunks {
		switch c.Metadata.ElementType {
		case ElementMethod:
			sawMethod = true
			if c.Metadata.Context != "Server" {
				t.Errorf("method context = %q, want Server", c.Metadata.Context)
			}
		case ElementFunction:
			sawFunc = true
		case ElementStruct:
			sawStruct = true
		}
		if c.Metadata.Language != LangGo {
			t.Errorf("language = %s, want go", c.Metadata.Language)
		}
	}
	if !sawMethod || !sawFunc || !sawStruct {
		t.Errorf("missing element kinds: method=%v func=%v struct=%v", sawMethod, sawFunc, sawStruct)
	}
}

func TestFile_ChunksDisjointAndOrdered(t *testing.T) {
	res := File("x.go", []byte(goSample), DefaultConfig())
	prevEnd := 0
	for _, c := range res.Chunks {
		m := c.Metadata
		if m.StartLine > m.EndLine {
			t.Errorf("chunk [%d,%d] start > end", m.StartLine, m.EndLine)
		}
		if m.StartLine <= prevEnd {
			t.Errorf("chunk [%d,%d] overlaps previous ending at %d", m.StartLine, m.EndLine, prevEnd)
		}
		prevEnd = m.EndLine
	}
}

func TestFile_WindowedFallback(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("some prose line\n")
	}
	cfg := Config{WindowLines: 80, StrideLines: 80}
	res := File("README.txt", []byte(b.String()), cfg)
	if res.Skipped {
		t.Fatalf("unexpected skip: %s", res.SkipReason)
	}
	if len(res.Chunks) != 3 {
		t.Fatalf("expected 3 windows for 200 lines, got %d", len(res.Chunks))
	}
	if res.Chunks[0].Metadata.StartLine != 1 || res.Chunks[0].Metadata.EndLine != 80 {
		t.Errorf("window 1 = [%d,%d], want [1,80]", res.Chunks[0].Metadata.StartLine, res.Chunks[0].Metadata.EndLine)
	}
	if res.Chunks[2].Metadata.EndLine != 200 {
		t.Errorf("last window ends at %d, want 200", res.Chunks[2].Metadata.EndLine)
	}
	for _, c := range res.Chunks {
		if c.Metadata.ElementType != ElementText {
			t.Errorf("windowed element = %s, want text", c.Metadata.ElementType)
		}
	}
}

func TestFile_StrideClamped(t *testing.T) {
	cfg := Config{WindowLines: 10, StrideLines: 50}
	res := File("notes.txt", []byte(strings.Repeat("line\n", 30)), cfg)
	// Stride is clamped to the window, so coverage has no gaps.
	if len(res.Chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(res.Chunks))
	}
}

func TestFile_SizeBoundary(t *testing.T) {
	content := []byte("hello world\n")
	cfg := DefaultConfig()
	cfg.MaxFileSizeBytes = int64(len(content))

	// Exactly at the limit: indexed.
	if res := File("a.txt", content, cfg); res.Skipped {
		t.Errorf("file at size limit should be indexed, got skip: %s", res.SkipReason)
	}

	// One byte over: skipped.
	cfg.MaxFileSizeBytes = int64(len(content)) - 1
	res := File("a.txt", content, cfg)
	if !res.Skipped {
		t.Error("file over size limit should be skipped")
	}
	if res.SkipReason == "" {
		t.Error("skip must carry a reason")
	}
}

func TestFile_BinarySkipped(t *testing.T) {
	data := []byte("ELF\x00\x01\x02 binary bits")
	res := File("prog.bin", data, DefaultConfig())
	if !res.Skipped {
		t.Fatal("binary file should be skipped")
	}
}

func TestFile_Empty(t *testing.T) {
	res := File("empty.go", nil, DefaultConfig())
	if res.Skipped || len(res.Chunks) != 0 {
		t.Errorf("empty file should produce no chunks and no skip, got %+v", res)
	}
}

func TestFile_PythonClasses(t *testing.T) {
	src := `import os

class Loader:
    def load(self):
        return os.name

def main():
    Loader().load()
`
	res := File("loader.py", []byte(src), DefaultConfig())
	var kinds []string
	for _, c := range res.Chunks {
		kinds = append(kinds, c.Metadata.ElementType)
	}
	want := []string{ElementModule, ElementClass, ElementFunction}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", LangGo},
		{"src/lib.rs", LangRust},
		{"app/Component.tsx", LangTypeScript},
		{"script", LangText},
		{"Makefile", LangText},
	}
	for _, tt := range tests {
		if got := DetectLanguage(tt.path); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}
