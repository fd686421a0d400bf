// Package knowledge reads the pre-built highway QA corpus from qdrant.
// The collection is built offline; this pipeline only searches it.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"
)

// Result is one retrieved QA pair. Answer text is returned verbatim to
// keep the reasoning step grounded in curated content.
type Result struct {
	Question string
	Answer   string
	Score    float32
}

// Store wraps the qdrant collection holding the corpus.
type Store struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger
}

// NewStore connects to qdrant. The collection must already exist.
func NewStore(log *slog.Logger, host string, port int, apiKey string, useTLS bool, collection string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return &Store{
		client:     client,
		collection: collection,
		logger:     log.With(slog.String("service", "knowledge_store")),
	}, nil
}

// Search returns the nearest QA pairs for the query vector, best first.
func (s *Store) Search(ctx context.Context, vector []float32, limit uint64) ([]Result, error) {
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, point := range points {
		payload := point.GetPayload()
		answer := payload["answer"].GetStringValue()
		if answer == "" {
			s.logger.Warn("corpus point without answer payload", slog.String("id", point.GetId().String()))
			continue
		}
		results = append(results, Result{
			Question: payload["source_question"].GetStringValue(),
			Answer:   answer,
			Score:    point.GetScore(),
		})
	}
	return results, nil
}

// Close releases the underlying grpc connection.
func (s *Store) Close() error {
	return s.client.Close()
}
