// Package metadata enriches a chunked region of source with language,
// chunk type, and extracted symbol information, using an extension
// table and a per-language regex set, deliberately never reaching for
// a parser.
package metadata

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/seanblong/ziri/pkg/models"
)

// languageRule holds the regex forms used to recognize function,
// class, import and comment openings for one language.
type languageRule struct {
	function *regexp.Regexp
	class    *regexp.Regexp
	imp      *regexp.Regexp
	comment  *regexp.Regexp
}

var extToLang = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".sh":    "shell",
	".bash":  "shell",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
	".md":    "markdown",
	".sql":   "sql",
	".tf":    "terraform",
	".kt":    "kotlin",
	".swift": "swift",
	".scala": "scala",
	".lua":   "lua",
	".html":  "html",
	".css":   "css",
	".proto": "protobuf",
}

var languageRules = map[string]languageRule{
	"go": {
		function: regexp.MustCompile(`^\s*func\s+`),
		class:    regexp.MustCompile(`^\s*type\s+\w+\s+(struct|interface)\b`),
		imp:      regexp.MustCompile(`^\s*import\s+`),
		comment:  regexp.MustCompile(`^\s*(//|/\*)`),
	},
	"python": {
		function: regexp.MustCompile(`^\s*(async\s+)?def\s+`),
		class:    regexp.MustCompile(`^\s*class\s+\w+`),
		imp:      regexp.MustCompile(`^\s*(import|from)\s+`),
		comment:  regexp.MustCompile(`^\s*(#|"""|''')`),
	},
	"javascript": {
		function: regexp.MustCompile(`^\s*(export\s+)?(async\s+)?function\s+|^\s*(export\s+)?(const|let|var)\s+\w+\s*=\s*(async\s*)?\(.*\)\s*=>`),
		class:    regexp.MustCompile(`^\s*(export\s+)?class\s+\w+`),
		imp:      regexp.MustCompile(`^\s*(import\s+|const\s+.+=\s*require\()`),
		comment:  regexp.MustCompile(`^\s*(//|/\*)`),
	},
	"typescript": {
		function: regexp.MustCompile(`^\s*(export\s+)?(async\s+)?function\s+|^\s*(export\s+)?(const|let|var)\s+\w+\s*=\s*(async\s*)?\(.*\)\s*=>`),
		class:    regexp.MustCompile(`^\s*(export\s+)?(class|interface|type)\s+\w+`),
		imp:      regexp.MustCompile(`^\s*import\s+`),
		comment:  regexp.MustCompile(`^\s*(//|/\*)`),
	},
	"java": {
		function: regexp.MustCompile(`^\s*(public|private|protected|static|final|\s)*[\w<>\[\]]+\s+\w+\s*\([^)]*\)\s*\{?`),
		class:    regexp.MustCompile(`^\s*(public|private|protected)?\s*(class|interface|enum)\s+\w+`),
		imp:      regexp.MustCompile(`^\s*import\s+`),
		comment:  regexp.MustCompile(`^\s*(//|/\*)`),
	},
	"ruby": {
		function: regexp.MustCompile(`^\s*def\s+`),
		class:    regexp.MustCompile(`^\s*(class|module)\s+\w+`),
		imp:      regexp.MustCompile(`^\s*require(_relative)?\s+`),
		comment:  regexp.MustCompile(`^\s*#`),
	},
	"rust": {
		function: regexp.MustCompile(`^\s*(pub\s+)?(async\s+)?fn\s+`),
		class:    regexp.MustCompile(`^\s*(pub\s+)?(struct|enum|trait)\s+\w+`),
		imp:      regexp.MustCompile(`^\s*use\s+`),
		comment:  regexp.MustCompile(`^\s*(//|/\*)`),
	},
	"c": {
		function: regexp.MustCompile(`^\s*[\w\*]+\s+\w+\s*\([^;]*\)\s*\{`),
		class:    regexp.MustCompile(`^\s*(struct|enum|union)\s+\w+`),
		imp:      regexp.MustCompile(`^\s*#include\s+`),
		comment:  regexp.MustCompile(`^\s*(//|/\*)`),
	},
	"cpp": {
		function: regexp.MustCompile(`^\s*[\w:<>\*&]+\s+\w+\s*\([^;]*\)\s*\{?`),
		class:    regexp.MustCompile(`^\s*(class|struct|enum)\s+\w+`),
		imp:      regexp.MustCompile(`^\s*#include\s+`),
		comment:  regexp.MustCompile(`^\s*(//|/\*)`),
	},
	"csharp": {
		function: regexp.MustCompile(`^\s*(public|private|protected|internal|static|\s)*[\w<>\[\]]+\s+\w+\s*\([^)]*\)\s*\{?`),
		class:    regexp.MustCompile(`^\s*(public|private|protected|internal)?\s*(class|interface|struct|enum)\s+\w+`),
		imp:      regexp.MustCompile(`^\s*using\s+`),
		comment:  regexp.MustCompile(`^\s*(//|/\*)`),
	},
	"php": {
		function: regexp.MustCompile(`^\s*(public|private|protected|static|\s)*function\s+`),
		class:    regexp.MustCompile(`^\s*(class|interface|trait)\s+\w+`),
		imp:      regexp.MustCompile(`^\s*(use|require|include)(_once)?\s*\(?`),
		comment:  regexp.MustCompile(`^\s*(//|#|/\*)`),
	},
	"shell": {
		function: regexp.MustCompile(`^\s*(function\s+)?\w+\s*\(\)\s*\{?`),
		comment:  regexp.MustCompile(`^\s*#`),
	},
	"kotlin": {
		function: regexp.MustCompile(`^\s*(public|private|internal)?\s*fun\s+`),
		class:    regexp.MustCompile(`^\s*(public|private|internal)?\s*(class|interface|object)\s+\w+`),
		imp:      regexp.MustCompile(`^\s*import\s+`),
		comment:  regexp.MustCompile(`^\s*(//|/\*)`),
	},
	"swift": {
		function: regexp.MustCompile(`^\s*func\s+`),
		class:    regexp.MustCompile(`^\s*(class|struct|protocol|enum)\s+\w+`),
		imp:      regexp.MustCompile(`^\s*import\s+`),
		comment:  regexp.MustCompile(`^\s*(//|/\*)`),
	},
	"scala": {
		function: regexp.MustCompile(`^\s*def\s+`),
		class:    regexp.MustCompile(`^\s*(class|object|trait)\s+\w+`),
		imp:      regexp.MustCompile(`^\s*import\s+`),
		comment:  regexp.MustCompile(`^\s*(//|/\*)`),
	},
	"lua": {
		function: regexp.MustCompile(`^\s*(local\s+)?function\s+`),
		comment:  regexp.MustCompile(`^\s*--`),
	},
	"sql": {
		comment: regexp.MustCompile(`^\s*(--|/\*)`),
	},
	"terraform": {
		function: regexp.MustCompile(`^\s*(resource|data|module|variable|output)\s+"`),
		comment:  regexp.MustCompile(`^\s*#`),
	},
}

// LanguageForPath maps a file extension to a language tag, falling
// back to the bare extension for anything not in the known table.
func LanguageForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := extToLang[ext]; ok {
		return lang
	}
	return strings.TrimPrefix(ext, ".")
}

// Extract runs a chunk's content through the language's regex rules
// and returns the enrichment fields recorded on a Chunk.
func Extract(content, language string) (models.ChunkType, string, string, []string, string) {
	trimmed := strings.TrimLeft(content, " \t\r\n")
	rule, ok := languageRules[language]
	if !ok {
		return models.ChunkCode, "", "", nil, ""
	}

	switch {
	case rule.comment != nil && rule.comment.MatchString(trimmed):
		return models.ChunkComment, "", "", nil, ""
	case rule.function != nil && rule.function.MatchString(trimmed):
		name := firstIdentifierAfter(trimmed)
		return models.ChunkFunction, name, "", nil, firstLine(trimmed)
	case rule.class != nil && rule.class.MatchString(trimmed):
		name := firstIdentifierAfter(trimmed)
		return models.ChunkClass, "", name, nil, firstLine(trimmed)
	case rule.imp != nil && rule.imp.MatchString(trimmed):
		return models.ChunkImport, "", "", extractImports(content, rule.imp), ""
	default:
		return models.ChunkCode, "", "", nil, ""
	}
}

var identifierPattern = regexp.MustCompile(`[A-Za-z_]\w*`)

// firstIdentifierAfter returns the first identifier appearing after the
// declaration keyword on the opening line, a rough stand-in for a
// symbol name absent a real parser.
func firstIdentifierAfter(line string) string {
	matches := identifierPattern.FindAllString(firstLine(line), -1)
	keywords := map[string]bool{
		"func": true, "def": true, "class": true, "struct": true,
		"interface": true, "enum": true, "trait": true, "fn": true,
		"public": true, "private": true, "protected": true, "static": true,
		"async": true, "export": true, "const": true, "let": true, "var": true,
		"module": true, "object": true, "function": true, "internal": true,
		"final": true, "pub": true, "type": true,
	}
	for _, m := range matches {
		if !keywords[m] {
			return m
		}
	}
	return ""
}

func extractImports(content string, imp *regexp.Regexp) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if imp.MatchString(trimmed) {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
