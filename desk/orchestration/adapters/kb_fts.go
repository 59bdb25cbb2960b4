package adapters

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"unicode"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
	"github.com/rs/zerolog"
)

// FTSRetriever implements Retriever with BM25 ranking over the FTS5 knowledge index.
type FTSRetriever struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewFTSRetriever creates a new FTS5-based retriever.
func NewFTSRetriever(db *sql.DB, logger zerolog.Logger) *FTSRetriever {
	return &FTSRetriever{
		db:     db,
		logger: logger.With().Str("component", "fts_retriever").Logger(),
	}
}

// Retrieve returns up to topK chunks, best first. Scores map bm25 onto [0,1).
func (r *FTSRetriever) Retrieve(ctx context.Context, query string, topK int) ([]ports.KnowledgeChunk, error) {
	match := ftsMatchExpr(query)
	if match == "" || topK <= 0 {
		return nil, nil
	}

	// Title matches weigh twice as much as body matches.
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.article_id, c.title, c.content, bm25(kb_chunks_fts, 2.0, 1.0) AS rank
		FROM kb_chunks_fts
		JOIN kb_chunks c ON c.rowid = kb_chunks_fts.rowid
		WHERE kb_chunks_fts MATCH ?
		ORDER BY rank ASC, c.article_id, c.chunk_index
		LIMIT ?
	`, match, topK)
	if err != nil {
		return nil, fmt.Errorf("FTS5 search query failed: %w", err)
	}
	defer rows.Close()

	var chunks []ports.KnowledgeChunk
	for rows.Next() {
		var (
			c    ports.KnowledgeChunk
			rank float64
		)
		if err := rows.Scan(&c.ID, &c.ArticleID, &c.Title, &c.Content, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan FTS5 result: %w", err)
		}
		c.Score = normalizeBM25(rank)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating FTS5 results: %w", err)
	}

	r.logger.Debug().Str("match", match).Int("results", len(chunks)).Msg("knowledge search")
	return chunks, nil
}

// IndexStats describes the knowledge index.
type IndexStats struct {
	Articles int64 `json:"articles"`
	Chunks   int64 `json:"chunks"`
}

// Stats counts indexed articles and chunks.
func (r *FTSRetriever) Stats(ctx context.Context) (IndexStats, error) {
	var s IndexStats
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT article_id), COUNT(*) FROM kb_chunks`,
	).Scan(&s.Articles, &s.Chunks)
	if err != nil {
		return s, fmt.Errorf("failed to count knowledge chunks: %w", err)
	}
	return s, nil
}

// normalizeBM25 maps an FTS5 bm25 rank (more negative is better) to [0,1).
func normalizeBM25(rank float64) float64 {
	a := math.Abs(rank)
	return a / (1 + a)
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "about": true,
	"are": true, "was": true, "were": true, "how": true, "what": true,
	"can": true, "does": true, "this": true, "that": true, "from": true,
	"you": true, "your": true, "have": true, "has": true, "not": true,
}

// ftsMatchExpr turns free text into an OR of quoted terms, so FTS5 syntax in user
// input is never interpreted.
func ftsMatchExpr(query string) string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

var _ ports.Retriever = (*FTSRetriever)(nil)
