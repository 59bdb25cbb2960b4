package knowledge

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chunker splits article bodies on markdown paragraph boundaries.
type Chunker struct {
	Target int // a heading closes the current chunk once it has this many characters
	Max    int // hard upper bound per chunk
}

// DefaultChunker matches the configured defaults.
func DefaultChunker() Chunker {
	return Chunker{Target: 400, Max: 800}
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Split returns the chunks of body, in order. Empty bodies have no chunks.
func (c Chunker) Split(body string) []string {
	target, maxLen := c.Target, c.Max
	if maxLen <= 0 {
		maxLen = 800
	}
	if target <= 0 || target > maxLen {
		target = maxLen / 2
	}

	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, para := range paragraphBreak.Split(body, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		size := utf8.RuneCountInString(current.String())
		if strings.HasPrefix(para, "#") && size >= target {
			flush()
			size = 0
		}

		for _, piece := range splitLong(para, maxLen) {
			if size > 0 && size+2+utf8.RuneCountInString(piece) > maxLen {
				flush()
				size = 0
			}
			if size > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(piece)
			size = utf8.RuneCountInString(current.String())
		}
	}
	flush()
	return chunks
}

// splitLong breaks a paragraph longer than maxLen at sentence ends, then words.
func splitLong(para string, maxLen int) []string {
	if utf8.RuneCountInString(para) <= maxLen {
		return []string{para}
	}

	var (
		out  []string
		line []rune
	)
	for _, word := range strings.Fields(para) {
		w := []rune(word)
		for len(w) > maxLen {
			if len(line) > 0 {
				out = append(out, string(line))
				line = nil
			}
			out = append(out, string(w[:maxLen]))
			w = w[maxLen:]
		}
		if len(line) > 0 && len(line)+1+len(w) > maxLen {
			out = append(out, string(line))
			line = nil
		}
		if len(line) > 0 {
			line = append(line, ' ')
		}
		line = append(line, w...)
		// Prefer to close on a sentence end once past half the budget.
		if len(line) >= maxLen/2 && strings.ContainsAny(string(w[len(w)-1:]), ".!?") {
			out = append(out, string(line))
			line = nil
		}
	}
	if len(line) > 0 {
		out = append(out, string(line))
	}
	return out
}
