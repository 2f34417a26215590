// Package docparse derives document records from raw markdown bytes:
// frontmatter extraction, schema validation, link extraction, chunking,
// and content hashing.
package docparse

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/compounding-docs/cdocs/internal/doctype"
)

// Parsed is the result of parsing one markdown file.
type Parsed struct {
	// Frontmatter is the decoded YAML block, retained verbatim.
	Frontmatter map[string]any

	DocType        string
	Title          string
	Summary        string
	PromotionLevel string

	// Body is the markdown content after the frontmatter block.
	Body string

	// Links are outbound link targets normalized to docs-root-relative
	// paths. Targets outside the docs root are dropped.
	Links []string

	// Chunks is non-empty only when the body exceeds the chunk
	// threshold.
	Chunks []Chunk

	// ContentHash is the SHA-256 hex digest of the raw file bytes.
	ContentHash string
}

// Chunk is one heading-bounded slice of an oversized document.
type Chunk struct {
	Index      int
	HeaderPath string
	Text       string
}

// Options configures a Parser.
type Options struct {
	// ChunkThreshold is the body line count above which the document
	// is chunked.
	ChunkThreshold int

	// Strict enables frontmatter schema validation. The external docs
	// collection indexes third-party markdown and runs non-strict.
	Strict bool

	Logger *slog.Logger
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	if o.ChunkThreshold == 0 {
		o.ChunkThreshold = 500
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Parser turns raw markdown bytes into Parsed records.
type Parser struct {
	registry *doctype.Registry
	opts     Options
}

// NewParser creates a parser bound to a doc-type registry.
func NewParser(registry *doctype.Registry, opts Options) *Parser {
	return &Parser{registry: registry, opts: opts.WithDefaults()}
}

// linkPattern matches inline markdown links. Images share the syntax
// with a leading bang and are excluded by the capture start.
var linkPattern = regexp.MustCompile(`(?:^|[^!])\[[^\]]*\]\(([^)\s]+)[^)]*\)`)

// Parse derives a Parsed record for a file at relPath (relative to the
// docs root) with the given raw bytes.
func (p *Parser) Parse(relPath string, raw []byte) (*Parsed, error) {
	fmBytes, body := splitFrontmatter(raw)

	frontmatter := map[string]any{}
	if len(fmBytes) > 0 {
		if err := yaml.Unmarshal(fmBytes, &frontmatter); err != nil {
			p.opts.Logger.Warn("malformed frontmatter treated as absent",
				slog.String("path", relPath),
				slog.String("error", err.Error()))
			frontmatter = map[string]any{}
		}
	}

	if p.opts.Strict {
		if err := p.registry.Validate(frontmatter); err != nil {
			return nil, err
		}
	}

	parsed := &Parsed{
		Frontmatter:    frontmatter,
		DocType:        stringField(frontmatter, "doc_type"),
		Title:          stringField(frontmatter, "title"),
		Summary:        stringField(frontmatter, "summary"),
		PromotionLevel: stringField(frontmatter, "promotion_level"),
		Body:           body,
		Links:          extractLinks(relPath, body),
		ContentHash:    HashContent(raw),
	}
	if parsed.PromotionLevel == "" {
		parsed.PromotionLevel = doctype.LevelStandard
	}
	if parsed.Title == "" {
		parsed.Title = fallbackTitle(relPath, body)
	}

	if lineCount(body) > p.opts.ChunkThreshold {
		parsed.Chunks = chunkByHeadings(body)
	}

	return parsed, nil
}

// HashContent returns the SHA-256 hex digest of the raw bytes.
func HashContent(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// splitFrontmatter separates a leading YAML block from the body. The
// file must begin with "---\n"; the block ends at the next line that is
// exactly "---".
func splitFrontmatter(raw []byte) (frontmatter []byte, body string) {
	content := string(raw)
	if !strings.HasPrefix(content, "---\n") && content != "---" {
		return nil, content
	}

	rest := content[len("---\n"):]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		// Unterminated block: no frontmatter.
		return nil, content
	}

	after := rest[idx+len("\n---"):]
	// The closing delimiter must occupy its own line.
	if after != "" && !strings.HasPrefix(after, "\n") {
		return nil, content
	}
	return []byte(rest[:idx]), strings.TrimPrefix(after, "\n")
}

// extractLinks collects markdown link targets that resolve to paths
// under the docs root, normalized relative to it.
func extractLinks(relPath, body string) []string {
	matches := linkPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}

	dir := path.Dir(filepathToSlash(relPath))
	seen := make(map[string]struct{})
	var links []string
	for _, m := range matches {
		target, ok := normalizeLink(dir, m[1])
		if !ok {
			continue
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		links = append(links, target)
	}
	return links
}

// normalizeLink resolves a link target against the linking document's
// directory. External URLs, anchors, and targets escaping the docs root
// are rejected.
func normalizeLink(dir, target string) (string, bool) {
	if target == "" || strings.HasPrefix(target, "#") {
		return "", false
	}
	if strings.Contains(target, "://") || strings.HasPrefix(target, "mailto:") {
		return "", false
	}
	// Drop anchors and query strings.
	if i := strings.IndexAny(target, "#?"); i >= 0 {
		target = target[:i]
	}
	if target == "" {
		return "", false
	}

	target = filepathToSlash(target)
	var resolved string
	if strings.HasPrefix(target, "/") {
		// Root-relative to the docs root.
		resolved = path.Clean(strings.TrimPrefix(target, "/"))
	} else {
		resolved = path.Clean(path.Join(dir, target))
	}

	if resolved == "." || resolved == ".." || strings.HasPrefix(resolved, "../") {
		return "", false
	}
	return resolved, true
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func stringField(fm map[string]any, key string) string {
	s, _ := fm[key].(string)
	return s
}

// fallbackTitle derives a title from the first heading, else the file
// name. Used only when the frontmatter carries no title (non-strict
// parsing).
func fallbackTitle(relPath, body string) string {
	for _, line := range strings.Split(body, "\n") {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[2])
		}
	}
	base := path.Base(filepathToSlash(relPath))
	return strings.TrimSuffix(base, path.Ext(base))
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
