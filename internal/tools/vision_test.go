package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/roadbotai/roadbot/internal/media"
)

type fakeDescriber struct {
	description string
	err         error
	gotMime     string
	gotData     []byte
}

func (f *fakeDescriber) Describe(ctx context.Context, model, mimeType string, data []byte, prompt string) (string, error) {
	f.gotMime = mimeType
	f.gotData = data
	return f.description, f.err
}

func TestVisionToolDescribesDownloadedMedia(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(srv.Close)

	describer := &fakeDescriber{description: "一张道路施工的照片。"}
	tool := NewVisionTool(nil, media.NewFetcher(time.Second, 0), describer, "qwen-vl-max")

	out, err := tool.Execute(context.Background(), map[string]any{"media_url": srv.URL})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "一张道路施工的照片。" {
		t.Fatalf("got %q", out)
	}
	if describer.gotMime != "image/png" || string(describer.gotData) != "png-bytes" {
		t.Fatalf("describer got %q %q", describer.gotMime, describer.gotData)
	}
}

func TestVisionToolDownloadFailureIsToolOutput(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	tool := NewVisionTool(nil, media.NewFetcher(time.Second, 0), &fakeDescriber{}, "qwen-vl-max")

	out, err := tool.Execute(context.Background(), map[string]any{"media_url": srv.URL})
	if err != nil {
		t.Fatalf("download failure must not be an execution error, got %v", err)
	}
	if !strings.HasPrefix(out, "下载媒体文件失败") {
		t.Fatalf("got %q", out)
	}
}

func TestVisionToolAnalysisFailureIsToolOutput(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	}))
	t.Cleanup(srv.Close)

	describer := &fakeDescriber{err: errors.New("model overloaded")}
	tool := NewVisionTool(nil, media.NewFetcher(time.Second, 0), describer, "qwen-vl-max")

	out, err := tool.Execute(context.Background(), map[string]any{"media_url": srv.URL})
	if err != nil {
		t.Fatalf("analysis failure must not be an execution error, got %v", err)
	}
	if !strings.HasPrefix(out, "分析媒体内容时发生错误") {
		t.Fatalf("got %q", out)
	}
}

func TestVisionToolMissingURL(t *testing.T) {
	t.Parallel()

	tool := NewVisionTool(nil, media.NewFetcher(time.Second, 0), &fakeDescriber{}, "qwen-vl-max")

	out, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "缺少媒体URL，无法分析。" {
		t.Fatalf("got %q", out)
	}
}
