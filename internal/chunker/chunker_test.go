package chunker

import (
	"strings"
	"testing"
)

func TestChunkFileEmptyContent(t *testing.T) {
	if got := ChunkFile("", Config{}); got != nil {
		t.Errorf("expected nil for empty content, got %v", got)
	}
	if got := ChunkFile("   \n\n  ", Config{}); got != nil {
		t.Errorf("expected nil for whitespace-only content, got %v", got)
	}
}

func TestChunkFileLineAwareSmallFile(t *testing.T) {
	content := "line1\nline2\nline3\n"
	spans := ChunkFile(content, Config{T: 4000})

	if len(spans) != 1 {
		t.Fatalf("expected a single chunk for a small file, got %d", len(spans))
	}
	if spans[0].StartLine != 1 || spans[0].EndLine != 3 {
		t.Errorf("expected lines [1,3], got [%d,%d]", spans[0].StartLine, spans[0].EndLine)
	}
}

func TestChunkFileLineAwareInvariants(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 500; i++ {
		b.WriteString("func placeholder() { return 0 }\n")
	}
	content := b.String()

	spans := ChunkFile(content, Config{T: 500, OverlapFraction: 0.15})
	if len(spans) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(spans))
	}

	for i, s := range spans {
		if s.Content == "" {
			t.Errorf("chunk %d has empty content", i)
		}
		if s.StartLine > s.EndLine {
			t.Errorf("chunk %d has start_line > end_line: %d > %d", i, s.StartLine, s.EndLine)
		}
		if i > 0 {
			prev := spans[i-1]
			if s.StartLine > prev.EndLine+1 {
				t.Errorf("chunk %d does not overlap or abut chunk %d: prev end %d, start %d", i, i-1, prev.EndLine, s.StartLine)
			}
		}
	}
}

func TestChunkFileNeverSplitsALine(t *testing.T) {
	// The long line stays under 4*T characters, so ChunkFile keeps the
	// line-aware mode instead of falling back to a character window.
	lines := []string{"a" + strings.Repeat("x", 30), "b", "c"}
	content := strings.Join(lines, "\n")

	spans := ChunkFile(content, Config{T: 10, OverlapFraction: 0.15})
	for _, s := range spans {
		for _, line := range strings.Split(s.Content, "\n") {
			found := false
			for _, orig := range lines {
				if line == orig {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("chunk contains a line not present verbatim in the source: %q", line)
			}
		}
	}
}

func TestChunkFileFallsBackToCharWindowForDegenerateLines(t *testing.T) {
	content := strings.Repeat("x", 50000)
	spans := ChunkFile(content, Config{T: 4000, OverlapFraction: 0.15})

	if len(spans) < 2 {
		t.Fatalf("expected multiple chunks for a long single line, got %d", len(spans))
	}
	for _, s := range spans {
		if s.Content == "" {
			t.Error("expected non-empty chunk content")
		}
	}
}

func TestChunkFileCharWindowOverlaps(t *testing.T) {
	content := strings.Repeat("abcdefghij", 200)
	cfg := Config{Mode: ModeCharWindow, T: 100, OverlapFraction: 0.15}
	spans := ChunkFile(content, cfg)

	if len(spans) < 2 {
		t.Fatalf("expected multiple windows, got %d", len(spans))
	}
	for i, s := range spans {
		if s.Content == "" {
			t.Errorf("window %d is empty", i)
		}
	}
}
