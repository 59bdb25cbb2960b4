// Package knowledge loads markdown knowledge base articles into the full-text index.
package knowledge

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Article is one parsed knowledge base document.
type Article struct {
	ID       string
	Title    string
	Category string
	Version  string
	Source   string // path relative to the knowledge base root, slash separated
	Body     string
}

type frontMatter struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Category    string   `yaml:"category"`
	Tags        []string `yaml:"tags"`
	Version     string   `yaml:"version"`
	LastUpdated string   `yaml:"last_updated"`
}

var fence = []byte("---")

// ParseArticle reads optional YAML front matter and the markdown body. Without an id
// the file name is used; without a title the first heading, then the file name.
func ParseArticle(source string, content []byte) (Article, error) {
	content = bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	content = bytes.TrimPrefix(content, []byte("\ufeff"))

	var fm frontMatter
	body := content
	if raw, rest, ok := splitFrontMatter(content); ok {
		if err := yaml.Unmarshal(raw, &fm); err != nil {
			return Article{}, fmt.Errorf("invalid front matter in %s: %w", source, err)
		}
		body = rest
	}

	a := Article{
		ID:       strings.TrimSpace(fm.ID),
		Title:    strings.TrimSpace(fm.Title),
		Category: strings.TrimSpace(fm.Category),
		Version:  strings.TrimSpace(fm.Version),
		Source:   filepath.ToSlash(source),
		Body:     strings.TrimSpace(string(body)),
	}

	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if a.ID == "" {
		a.ID = stem
	}
	if a.Title == "" {
		a.Title = firstHeading(a.Body)
	}
	if a.Title == "" {
		a.Title = cases.Title(language.English).String(strings.NewReplacer("-", " ", "_", " ").Replace(stem))
	}
	if a.Category == "" && len(fm.Tags) > 0 {
		a.Category = strings.TrimSpace(fm.Tags[0])
	}
	return a, nil
}

func splitFrontMatter(content []byte) (raw, rest []byte, ok bool) {
	if !bytes.HasPrefix(content, fence) {
		return nil, content, false
	}
	firstNL := bytes.IndexByte(content, '\n')
	if firstNL < 0 || len(bytes.TrimSpace(content[:firstNL])) != len(fence) {
		return nil, content, false
	}

	after := content[firstNL+1:]
	for offset := 0; offset < len(after); {
		nl := bytes.IndexByte(after[offset:], '\n')
		end := len(after)
		if nl >= 0 {
			end = offset + nl
		}
		if bytes.Equal(bytes.TrimSpace(after[offset:end]), fence) {
			if end == len(after) {
				return after[:offset], nil, true
			}
			return after[:offset], after[end+1:], true
		}
		offset = end + 1
	}
	return nil, content, false
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if t, ok := strings.CutPrefix(strings.TrimSpace(line), "# "); ok {
			return strings.TrimSpace(t)
		}
	}
	return ""
}
