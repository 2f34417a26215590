package docparse

import (
	"regexp"
	"strings"
)

// headingPattern matches ATX headings: # Title through ###### Title.
var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// chunkByHeadings splits a body into heading-bounded chunks. Each chunk
// records its header path, the " > "-joined titles of the heading and
// its ancestors. Content before the first heading becomes a chunk with
// an empty header path.
//
// Sections containing only their heading line are skipped: a bare
// heading has no retrievable text, so such lines are covered by the
// whole-document embedding rather than a chunk of their own.
func chunkByHeadings(body string) []Chunk {
	lines := strings.Split(body, "\n")

	type section struct {
		headerPath string
		builder    strings.Builder
	}

	// Heading titles by level, 1-6. Entering a heading clears all
	// deeper levels so the path reflects actual ancestry.
	var headerStack [6]string
	var sections []*section
	current := &section{}

	flush := func() {
		if current != nil {
			sections = append(sections, current)
		}
	}

	for _, line := range lines {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			flush()

			level := len(m[1])
			title := strings.TrimSpace(m[2])
			headerStack[level-1] = title
			for i := level; i < len(headerStack); i++ {
				headerStack[i] = ""
			}

			var parts []string
			for i := 0; i < level; i++ {
				if headerStack[i] != "" {
					parts = append(parts, headerStack[i])
				}
			}

			current = &section{headerPath: strings.Join(parts, " > ")}
		}
		current.builder.WriteString(line)
		current.builder.WriteString("\n")
	}
	flush()

	var chunks []Chunk
	for _, sec := range sections {
		text := strings.TrimRight(sec.builder.String(), "\n")
		if !hasContent(text) {
			continue
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			HeaderPath: sec.headerPath,
			Text:       text,
		})
	}
	return chunks
}

// hasContent reports whether a section has anything beyond its heading
// line and whitespace.
func hasContent(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) == 1 && headingPattern.MatchString(lines[0]) {
		return false
	}
	return true
}
