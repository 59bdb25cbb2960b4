package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/sourcegraph/conc/pool"
)

// DefaultIgnoreFile is read from the knowledge base root when present.
const DefaultIgnoreFile = ".kbignore"

// Options configures an Ingester.
type Options struct {
	Chunker     Chunker
	Concurrency int
	IgnoreFile  string // relative to the root; DefaultIgnoreFile when empty
	Logger      zerolog.Logger
}

// FileResult is the outcome of ingesting one file.
type FileResult struct {
	Source    string `json:"source"`
	ArticleID string `json:"articleId,omitempty"`
	Chunks    int    `json:"chunks"`
	Error     string `json:"error,omitempty"`
}

// Report summarizes a directory ingest.
type Report struct {
	Files    int          `json:"files"`
	Articles int          `json:"articles"`
	Chunks   int          `json:"chunks"`
	Ignored  int          `json:"ignored"`
	Failed   []FileResult `json:"failed,omitempty"`
	Duration string       `json:"duration"`
}

// Ingester writes markdown articles under a root directory into kb_chunks.
type Ingester struct {
	db          *sql.DB
	root        string
	chunker     Chunker
	concurrency int
	ignore      *ignore.GitIgnore
	logger      zerolog.Logger
	now         func() time.Time

	// SQLite allows a single writer; parsing still fans out.
	writeMu  sync.Mutex
	onChange []func()
}

// NewIngester prepares an ingester for root, compiling its ignore file if any.
func NewIngester(db *sql.DB, root string, opts Options) (*Ingester, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve knowledge directory: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("knowledge directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("knowledge path %s is not a directory", root)
	}

	name := opts.IgnoreFile
	if name == "" {
		name = DefaultIgnoreFile
	}
	matcher := ignore.CompileIgnoreLines()
	ignorePath := filepath.Join(abs, name)
	if _, err := os.Stat(ignorePath); err == nil {
		matcher, err = ignore.CompileIgnoreFile(ignorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s: %w", ignorePath, err)
		}
	}

	chunker := opts.Chunker
	if chunker.Max <= 0 {
		chunker = DefaultChunker()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Ingester{
		db:          db,
		root:        abs,
		chunker:     chunker,
		concurrency: concurrency,
		ignore:      matcher,
		logger:      opts.Logger.With().Str("component", "kb_ingest").Logger(),
		now:         time.Now,
	}, nil
}

// Root returns the absolute knowledge base directory.
func (i *Ingester) Root() string {
	return i.root
}

// OnChange registers fn to run after any write to the index, e.g. to purge a
// retrieval cache.
func (i *Ingester) OnChange(fn func()) {
	i.onChange = append(i.onChange, fn)
}

func (i *Ingester) changed() {
	for _, fn := range i.onChange {
		fn()
	}
}

// Accepts reports whether path is a markdown file under the root that is not ignored.
func (i *Ingester) Accepts(path string) bool {
	rel, ok := i.relative(path)
	if !ok || !strings.EqualFold(filepath.Ext(rel), ".md") {
		return false
	}
	return !i.ignore.MatchesPath(rel)
}

func (i *Ingester) relative(path string) (string, bool) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(i.root, path)
	}
	rel, err := filepath.Rel(i.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// IngestDir ingests every accepted markdown file under the root. Per-file failures
// are reported, not returned; the error is set only when the walk or context fails.
func (i *Ingester) IngestDir(ctx context.Context) (Report, error) {
	start := time.Now()
	var (
		report Report
		files  []string
	)

	err := filepath.WalkDir(i.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, ok := i.relative(path)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || i.ignore.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(rel), ".md") {
			return nil
		}
		if i.ignore.MatchesPath(rel) {
			report.Ignored++
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to walk %s: %w", i.root, err)
	}

	p := pool.NewWithResults[FileResult]().WithContext(ctx).WithMaxGoroutines(i.concurrency)
	for _, path := range files {
		p.Go(func(ctx context.Context) (FileResult, error) {
			if err := ctx.Err(); err != nil {
				return FileResult{}, err
			}
			return i.ingest(ctx, path), nil
		})
	}
	results, err := p.Wait()
	if err != nil {
		return report, err
	}

	for _, res := range results {
		report.Files++
		if res.Error != "" {
			report.Failed = append(report.Failed, res)
			continue
		}
		report.Articles++
		report.Chunks += res.Chunks
	}
	report.Duration = time.Since(start).Round(time.Millisecond).String()

	if report.Articles > 0 {
		i.changed()
	}
	i.logger.Info().
		Int("files", report.Files).
		Int("articles", report.Articles).
		Int("chunks", report.Chunks).
		Int("failed", len(report.Failed)).
		Int("ignored", report.Ignored).
		Str("duration", report.Duration).
		Msg("Knowledge base ingested")
	return report, nil
}

// IngestFile parses one file and replaces its chunks.
func (i *Ingester) IngestFile(ctx context.Context, path string) (FileResult, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(i.root, path)
	}
	if !i.Accepts(path) {
		return FileResult{Source: path}, fmt.Errorf("%s is not an indexable markdown file", path)
	}
	res := i.ingest(ctx, path)
	if res.Error != "" {
		return res, errors.New(res.Error)
	}
	i.changed()
	return res, nil
}

func (i *Ingester) ingest(ctx context.Context, path string) FileResult {
	rel, _ := i.relative(path)
	res := FileResult{Source: rel}

	content, err := os.ReadFile(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	article, err := ParseArticle(rel, content)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.ArticleID = article.ID

	chunks := i.chunker.Split(article.Body)
	if err := i.replace(ctx, article, chunks); err != nil {
		res.Error = err.Error()
		i.logger.Warn().Err(err).Str("source", rel).Msg("Failed to index article")
		return res
	}
	res.Chunks = len(chunks)
	i.logger.Debug().Str("source", rel).Str("article", article.ID).Int("chunks", res.Chunks).Msg("Article indexed")
	return res
}

// replace swaps an article's chunks in one transaction. Rows are matched by
// article id and by source, so an id change in front matter leaves no orphans.
func (i *Ingester) replace(ctx context.Context, a Article, chunks []string) error {
	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_chunks WHERE article_id = ? OR source = ?`, a.ID, a.Source); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", a.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kb_chunks (id, article_id, title, content, chunk_index, category, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := i.now().UTC().UnixMilli()
	for idx, content := range chunks {
		id := fmt.Sprintf("%s-chunk-%d", a.ID, idx)
		if _, err := stmt.ExecContext(ctx, id, a.ID, a.Title, content, idx, nullable(a.Category), a.Source, now); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks of %s: %w", a.ID, err)
	}
	return nil
}

// RemoveFile drops the chunks that came from path and returns how many were removed.
func (i *Ingester) RemoveFile(ctx context.Context, path string) (int64, error) {
	rel, ok := i.relative(path)
	if !ok {
		return 0, fmt.Errorf("%s is outside the knowledge directory", path)
	}

	i.writeMu.Lock()
	result, err := i.db.ExecContext(ctx, `DELETE FROM kb_chunks WHERE source = ?`, rel)
	i.writeMu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("failed to remove chunks of %s: %w", rel, err)
	}

	n, _ := result.RowsAffected()
	if n > 0 {
		i.changed()
		i.logger.Info().Str("source", rel).Int64("chunks", n).Msg("Article removed from index")
	}
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
