package deskports

import "context"

// Retriever returns up to topK knowledge chunks for a query, ordered by score descending.
// Ties keep the backend's original order.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]KnowledgeChunk, error)
}

// SentimentScorer rates how frustrated a message reads, in [0,1] (higher is worse).
// priorAttempts lets a scorer weigh repeated failures in the same conversation.
// Implementations must honour ctx cancellation so the sentiment timeout can bound a turn.
type SentimentScorer interface {
	Score(ctx context.Context, message string, priorAttempts int) (float64, error)
}
