package knowledge

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	deskdb "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/db"
	"github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/adapters"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const vpnArticle = `---
id: KB-VPN-001
title: Reset your VPN password
version: "1.2"
last_updated: 2025-01-10
tags: [network, vpn]
---

# Reset your VPN password

Open the self-service portal and choose Reset.

You will receive a confirmation email within five minutes.
`

func TestParseArticle_FrontMatter(t *testing.T) {
	a, err := ParseArticle("network/vpn.md", []byte(vpnArticle))
	require.NoError(t, err)

	assert.Equal(t, "KB-VPN-001", a.ID)
	assert.Equal(t, "Reset your VPN password", a.Title)
	assert.Equal(t, "network", a.Category, "first tag is the category")
	assert.Equal(t, "1.2", a.Version)
	assert.Equal(t, "network/vpn.md", a.Source)
	assert.True(t, strings.HasPrefix(a.Body, "# Reset your VPN password"))
}

func TestParseArticle_Fallbacks(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		content string
		want    Article
	}{
		{
			name:    "heading title",
			source:  "printer-jams.md",
			content: "# Clearing printer jams\n\nOpen tray 2.",
			want: Article{ID: "printer-jams", Title: "Clearing printer jams", Source: "printer-jams.md",
				Body: "# Clearing printer jams\n\nOpen tray 2."},
		},
		{
			name:    "file name title",
			source:  "email/outlook-sync_issues.md",
			content: "Restart Outlook.\r\n",
			want: Article{ID: "outlook-sync_issues", Title: "Outlook Sync Issues", Source: "email/outlook-sync_issues.md",
				Body: "Restart Outlook."},
		},
		{
			name:    "explicit category wins over tags",
			source:  "a.md",
			content: "---\ncategory: hardware\ntags: [laptop]\n---\nBody",
			want:    Article{ID: "a", Title: "A", Category: "hardware", Source: "a.md", Body: "Body"},
		},
		{
			name:    "unterminated front matter is body",
			source:  "b.md",
			content: "---\nid: nope\nBody",
			want:    Article{ID: "b", Title: "B", Source: "b.md", Body: "---\nid: nope\nBody"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArticle(tt.source, []byte(tt.content))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseArticle() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseArticle_InvalidYAML(t *testing.T) {
	_, err := ParseArticle("bad.md", []byte("---\nid: [unclosed\n---\nBody"))
	assert.ErrorContains(t, err, "invalid front matter in bad.md")
}

func TestChunker_Split(t *testing.T) {
	c := Chunker{Target: 40, Max: 80}

	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split("\n\n  \n"))
	assert.Equal(t, []string{"short"}, c.Split("short"))

	body := "# Intro\n\nFirst paragraph is here.\n\nSecond one.\n\n## Steps\n\nDo the thing now."
	chunks := c.Split(body)
	require.Len(t, chunks, 2, "heading closes a chunk past the target")
	assert.Equal(t, "# Intro\n\nFirst paragraph is here.\n\nSecond one.", chunks[0])
	assert.Equal(t, "## Steps\n\nDo the thing now.", chunks[1])
}

func TestChunker_RespectsMax(t *testing.T) {
	c := Chunker{Target: 50, Max: 100}
	long := strings.Repeat("word ", 90) + "end. " + strings.Repeat("x", 250)

	chunks := c.Split("intro\n\n" + long)
	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 100, "chunk %d", i)
	}
	joined := strings.Join(chunks, " ")
	assert.Equal(t, 90, strings.Count(joined, "word"))
	assert.Equal(t, 250, strings.Count(joined, "x"))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := deskdb.Open(context.Background(), deskdb.Options{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "kb.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func chunkIDs(t *testing.T, db *sql.DB, articleID string) []string {
	t.Helper()
	rows, err := db.Query(`SELECT id FROM kb_chunks WHERE article_id = ? ORDER BY chunk_index`, articleID)
	require.NoError(t, err)
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	return ids
}

// countChunks is safe to call from Eventually conditions, which run off the test goroutine.
func countChunks(db *sql.DB, articleID string) int {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM kb_chunks WHERE article_id = ?`, articleID).Scan(&n); err != nil {
		return -1
	}
	return n
}

func TestIngester_IngestDir(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "network", "vpn.md"), vpnArticle)
	writeFile(t, filepath.Join(root, "printer.md"), "# Printer jams\n\nOpen tray 2 and remove the paper.")
	writeFile(t, filepath.Join(root, "drafts", "wip.md"), "# Draft\n\nNot ready.")
	writeFile(t, filepath.Join(root, "notes.txt"), "not markdown")
	writeFile(t, filepath.Join(root, "secret.md"), "# Secret\n\nIgnored.")
	writeFile(t, filepath.Join(root, ".kbignore"), "drafts/\nsecret.md\n")

	ing, err := NewIngester(db, root, Options{Concurrency: 2, Logger: zerolog.Nop()})
	require.NoError(t, err)

	changes := 0
	ing.OnChange(func() { changes++ })

	report, err := ing.IngestDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 2, report.Articles)
	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, 1, report.Ignored)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 1, changes)

	assert.Equal(t, []string{"KB-VPN-001-chunk-0"}, chunkIDs(t, db, "KB-VPN-001"))
	assert.Equal(t, []string{"printer-chunk-0"}, chunkIDs(t, db, "printer"))
	assert.Empty(t, chunkIDs(t, db, "wip"))
	assert.Empty(t, chunkIDs(t, db, "secret"))

	var category, source string
	require.NoError(t, db.QueryRow(`SELECT category, source FROM kb_chunks WHERE id = 'KB-VPN-001-chunk-0'`).Scan(&category, &source))
	assert.Equal(t, "network", category)
	assert.Equal(t, "network/vpn.md", source)

	retriever := adapters.NewFTSRetriever(db, zerolog.Nop())
	chunks, err := retriever.Retrieve(context.Background(), "reset vpn password", 3)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "KB-VPN-001", chunks[0].ArticleID)
	assert.Equal(t, "Reset your VPN password", chunks[0].Title)
}

func TestIngester_ReingestReplaces(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	path := filepath.Join(root, "guide.md")

	ing, err := NewIngester(db, root, Options{Chunker: Chunker{Target: 10, Max: 30}, Logger: zerolog.Nop()})
	require.NoError(t, err)

	writeFile(t, path, "---\nid: G-1\n---\nFirst paragraph here.\n\nSecond paragraph here.\n\nThird paragraph here.")
	res, err := ing.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, []string{"G-1-chunk-0", "G-1-chunk-1", "G-1-chunk-2"}, chunkIDs(t, db, "G-1"))

	// A new id in front matter replaces the old rows from the same file.
	writeFile(t, path, "---\nid: G-2\n---\nOnly one now.")
	res, err = ing.IngestFile(context.Background(), "guide.md")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Chunks)
	assert.Empty(t, chunkIDs(t, db, "G-1"))
	assert.Equal(t, []string{"G-2-chunk-0"}, chunkIDs(t, db, "G-2"))

	n, err := ing.RemoveFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, chunkIDs(t, db, "G-2"))
}

func TestIngester_Errors(t *testing.T) {
	db := openTestDB(t)

	_, err := NewIngester(db, filepath.Join(t.TempDir(), "missing"), Options{})
	assert.Error(t, err)

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "bad.md"), "---\nid: [oops\n---\nbody")
	writeFile(t, filepath.Join(root, "good.md"), "fine")

	ing, err := NewIngester(db, root, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	report, err := ing.IngestDir(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 1, report.Articles)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "bad.md", report.Failed[0].Source)

	_, err = ing.IngestFile(context.Background(), filepath.Join(root, "notes.txt"))
	assert.ErrorContains(t, err, "not an indexable markdown file")
	_, err = ing.RemoveFile(context.Background(), filepath.Join(t.TempDir(), "x.md"))
	assert.ErrorContains(t, err, "outside the knowledge directory")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ing.IngestDir(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngester_Accepts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".kbignore"), "*.draft.md\narchive/\n")
	ing, err := NewIngester(openTestDB(t), root, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	assert.True(t, ing.Accepts(filepath.Join(root, "a.md")))
	assert.True(t, ing.Accepts("sub/B.MD"))
	assert.False(t, ing.Accepts("a.txt"))
	assert.False(t, ing.Accepts("x.draft.md"))
	assert.False(t, ing.Accepts("archive/old.md"))
	assert.False(t, ing.Accepts(filepath.Join(filepath.Dir(root), "elsewhere.md")))
}

func TestWatcher_ReindexesAndRemoves(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	ing, err := NewIngester(db, root, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	w := NewWatcher(ing, 50*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	// Give the watcher time to register the root before writing.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(root, "wifi.md")
	writeFile(t, path, "# Wi-Fi\n\nForget the network and rejoin.")
	require.Eventually(t, func() bool {
		return countChunks(db, "wifi") == 1
	}, 5*time.Second, 20*time.Millisecond)

	writeFile(t, filepath.Join(root, "ignored.txt"), "skip")

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return countChunks(db, "wifi") == 0
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return w.Stats().Removed == 1
	}, time.Second, 10*time.Millisecond)
	stats := w.Stats()
	assert.GreaterOrEqual(t, stats.Reindexed, 1)
	assert.Zero(t, stats.Errors)
}
