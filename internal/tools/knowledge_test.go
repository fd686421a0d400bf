package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/roadbotai/roadbot/internal/knowledge"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, model, input string) ([]float32, error) {
	return f.vector, f.err
}

type fakeSearcher struct {
	results []knowledge.Result
	err     error
	gotVec  []float32
	gotLim  uint64
}

func (f *fakeSearcher) Search(ctx context.Context, vector []float32, limit uint64) ([]knowledge.Result, error) {
	f.gotVec = vector
	f.gotLim = limit
	return f.results, f.err
}

func TestKnowledgeToolJoinsAnswersVerbatim(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: []knowledge.Result{
		{Question: "q1", Answer: "高速公路最低时速为60公里。", Score: 0.91},
		{Question: "q2", Answer: "应急车道仅供紧急情况使用。", Score: 0.85},
	}}
	tool := NewKnowledgeTool(nil, &fakeEmbedder{vector: []float32{0.1, 0.2}}, searcher, "text-embedding-v2")

	out, err := tool.Execute(context.Background(), map[string]any{"query": "限速"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "高速公路最低时速为60公里。\n\n应急车道仅供紧急情况使用。"
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
	if searcher.gotLim != knowledgeTopK {
		t.Fatalf("limit = %d, want %d", searcher.gotLim, knowledgeTopK)
	}
	if len(searcher.gotVec) != 2 {
		t.Fatalf("vector not passed through: %v", searcher.gotVec)
	}
}

func TestKnowledgeToolEmptyResultsIsValidOutput(t *testing.T) {
	t.Parallel()

	tool := NewKnowledgeTool(nil, &fakeEmbedder{vector: []float32{0.1}}, &fakeSearcher{}, "text-embedding-v2")

	out, err := tool.Execute(context.Background(), map[string]any{"query": "不存在的问题"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != NoKnowledgeFound {
		t.Fatalf("got %q, want %q", out, NoKnowledgeFound)
	}
}

func TestKnowledgeToolFailuresAreErrors(t *testing.T) {
	t.Parallel()

	embedFail := NewKnowledgeTool(nil, &fakeEmbedder{err: errors.New("embed down")}, &fakeSearcher{}, "m")
	if _, err := embedFail.Execute(context.Background(), map[string]any{"query": "x"}); err == nil {
		t.Fatal("expected embed error")
	}

	searchFail := NewKnowledgeTool(nil, &fakeEmbedder{vector: []float32{1}}, &fakeSearcher{err: errors.New("qdrant down")}, "m")
	_, err := searchFail.Execute(context.Background(), map[string]any{"query": "x"})
	if err == nil || !strings.Contains(err.Error(), "search corpus") {
		t.Fatalf("got %v, want search error", err)
	}
}

func TestKnowledgeToolRequiresQuery(t *testing.T) {
	t.Parallel()

	tool := NewKnowledgeTool(nil, &fakeEmbedder{}, &fakeSearcher{}, "m")
	if _, err := tool.Execute(context.Background(), map[string]any{"query": "  "}); err == nil {
		t.Fatal("expected error for blank query")
	}
}
