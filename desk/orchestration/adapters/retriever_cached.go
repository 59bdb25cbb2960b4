package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/helpdesk-orchestrator/desk/orchestration/ports"
)

// CachedRetriever memoizes retrieval results by normalized query and topK.
// Errors are never cached.
type CachedRetriever struct {
	next       ports.Retriever
	cache      ports.Cache
	ttlSeconds int
}

// NewCachedRetriever wraps next with cache.
func NewCachedRetriever(next ports.Retriever, cache ports.Cache, ttlSeconds int) *CachedRetriever {
	return &CachedRetriever{next: next, cache: cache, ttlSeconds: ttlSeconds}
}

// Retrieve implements ports.Retriever.
func (r *CachedRetriever) Retrieve(ctx context.Context, query string, topK int) ([]ports.KnowledgeChunk, error) {
	key := retrievalKey(query, topK)

	if raw, ok := r.cache.Get(ctx, key); ok {
		var chunks []ports.KnowledgeChunk
		if err := json.Unmarshal(raw, &chunks); err == nil {
			return chunks, nil
		}
		_ = r.cache.Delete(ctx, key)
	}

	chunks, err := r.next.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(chunks); err == nil {
		_ = r.cache.Set(ctx, key, raw, r.ttlSeconds)
	}
	return chunks, nil
}

func retrievalKey(query string, topK int) string {
	return fmt.Sprintf("retrieve:%d:%s", topK, strings.Join(strings.Fields(strings.ToLower(query)), " "))
}

var _ ports.Retriever = (*CachedRetriever)(nil)
