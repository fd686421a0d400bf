package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roadbotai/roadbot/internal/knowledge"
)

// NoKnowledgeFound is the tool's answer for an empty retrieval result.
// It is a valid tool output, distinct from an execution failure.
const NoKnowledgeFound = "知识库中没有找到相关信息。"

const knowledgeTopK = 3

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, model, input string) ([]float32, error)
}

// Searcher finds nearest corpus entries for a vector.
type Searcher interface {
	Search(ctx context.Context, vector []float32, limit uint64) ([]knowledge.Result, error)
}

// KnowledgeTool retrieves curated highway QA answers by similarity
// search. Answers are returned verbatim and never paraphrased: the
// reasoning step must ground its reply in exactly this text.
type KnowledgeTool struct {
	embedder       Embedder
	searcher       Searcher
	embeddingModel string
	logger         *slog.Logger
}

func NewKnowledgeTool(log *slog.Logger, embedder Embedder, searcher Searcher, embeddingModel string) *KnowledgeTool {
	if log == nil {
		log = slog.Default()
	}
	return &KnowledgeTool{
		embedder:       embedder,
		searcher:       searcher,
		embeddingModel: embeddingModel,
		logger:         log.With(slog.String("tool", "knowledge")),
	}
}

func (t *KnowledgeTool) Name() string { return "highway_knowledge_retriever" }

func (t *KnowledgeTool) Description() string {
	return "一个专业的高速公路知识库。当你需要查询有关高速公路的法规、交通标志、紧急情况处理方法、收费标准等权威信息时，调用此工具。"
}

func (t *KnowledgeTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "要查询的高速公路相关问题",
			},
		},
		"required": []string{"query"},
	}
}

func (t *KnowledgeTool) Timeout() time.Duration { return 30 * time.Second }

func (t *KnowledgeTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query := strings.TrimSpace(GetString(params, "query", ""))
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	vector, err := t.embedder.Embed(ctx, t.embeddingModel, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	results, err := t.searcher.Search(ctx, vector, knowledgeTopK)
	if err != nil {
		return "", fmt.Errorf("search corpus: %w", err)
	}
	if len(results) == 0 {
		t.logger.Info("no corpus match", slog.String("query", query))
		return NoKnowledgeFound, nil
	}

	answers := make([]string, 0, len(results))
	for _, r := range results {
		answers = append(answers, r.Answer)
	}
	return strings.Join(answers, "\n\n"), nil
}
