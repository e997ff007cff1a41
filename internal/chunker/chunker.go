// Package chunker splits a file's text into overlapping, line-accurate
// chunks using two windowing strategies, line-aware and fixed
// char-window, chosen per file by its structure.
package chunker

import (
	"strings"
)

// Mode selects the windowing strategy.
type Mode int

const (
	// ModeLineAware accumulates whole lines until the next would exceed
	// the target window, the default and primary strategy.
	ModeLineAware Mode = iota
	// ModeCharWindow slides a fixed character window over the content,
	// used as a fallback when a file has no meaningful line structure.
	ModeCharWindow
)

// Config controls chunk sizing. Zero-value fields are replaced with
// defaults by ChunkFile.
type Config struct {
	Mode Mode
	// T is the target window size in characters.
	T int
	// OverlapFraction is the fraction of T (or of a chunk's line
	// count) carried into the next chunk as overlap.
	OverlapFraction float64
}

const (
	defaultT               = 4000
	defaultOverlapFraction = 0.15
)

func (c Config) withDefaults() Config {
	if c.T <= 0 {
		c.T = defaultT
	}
	if c.OverlapFraction <= 0 {
		c.OverlapFraction = defaultOverlapFraction
	}
	return c
}

// Span is one windowed slice of a file's content, with 1-based
// inclusive line numbers.
type Span struct {
	Content   string
	StartLine int
	EndLine   int
}

// ChunkFile splits content per cfg.Mode. It never splits a line in
// ModeLineAware, always trims trailing whitespace from each chunk, and
// guarantees consecutive chunks of one file overlap or abut in line
// range. Returns nil for empty content.
func ChunkFile(content string, cfg Config) []Span {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(content) == "" {
		return nil
	}

	mode := cfg.Mode
	if mode == ModeLineAware && !hasMeaningfulLineStructure(content, cfg.T) {
		mode = ModeCharWindow
	}

	switch mode {
	case ModeCharWindow:
		return chunkCharWindow(content, cfg)
	default:
		return chunkLineAware(content, cfg)
	}
}

// hasMeaningfulLineStructure reports false for files dominated by one
// very long line (e.g. a minified bundle), where line-aware chunking
// would degenerate to a single oversized chunk.
func hasMeaningfulLineStructure(content string, t int) bool {
	lines := strings.Split(content, "\n")
	if len(lines) <= 1 {
		return false
	}
	longest := 0
	for _, l := range lines {
		if len(l) > longest {
			longest = len(l)
		}
	}
	return longest < t*4
}

func chunkLineAware(content string, cfg Config) []Span {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil
	}

	var spans []Span
	start := 0
	for start < len(lines) {
		size := 0
		end := start
		for end < len(lines) {
			lineLen := len(lines[end]) + 1
			if end > start && size+lineLen > cfg.T {
				break
			}
			size += lineLen
			end++
		}
		if end == start {
			end = start + 1
		}

		chunkLines := lines[start:end]
		text := strings.TrimRight(strings.Join(chunkLines, "\n"), " \t\r\n")
		if text != "" {
			spans = append(spans, Span{
				Content:   text,
				StartLine: start + 1,
				EndLine:   end,
			})
		}

		if end >= len(lines) {
			break
		}

		overlap := maxInt(1, int(float64(end-start)*cfg.OverlapFraction))
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return spans
}

func chunkCharWindow(content string, cfg Config) []Span {
	runes := []rune(content)
	overlap := int(float64(cfg.T) * cfg.OverlapFraction)
	if overlap < 0 {
		overlap = 0
	}

	lineStarts := computeLineStarts(content)

	var spans []Span
	start := 0
	for start < len(runes) {
		end := start + cfg.T
		if end > len(runes) {
			end = len(runes)
		}

		text := strings.TrimRight(string(runes[start:end]), " \t\r\n")
		if text != "" {
			spans = append(spans, Span{
				Content:   text,
				StartLine: lineForOffset(lineStarts, start),
				EndLine:   lineForOffset(lineStarts, end-1),
			})
		}

		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return spans
}

// computeLineStarts returns the rune offset at which each line begins,
// so a char-window span's rune offsets can be mapped back to 1-based
// line numbers for display.
func computeLineStarts(content string) []int {
	starts := []int{0}
	for i, r := range []rune(content) {
		if r == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func lineForOffset(lineStarts []int, offset int) int {
	line := 1
	for _, s := range lineStarts {
		if s > offset {
			break
		}
		line++
	}
	return maxInt(1, line-1)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
