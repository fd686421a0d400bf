package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfWrappedError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("outer: %w", Newf(CodeLLMTimeout, "deadline"))
	if got := CodeOf(err); got != CodeLLMTimeout {
		t.Fatalf("got %q", got)
	}
	if got := CodeOf(errors.New("plain")); got != CodeUnknown {
		t.Fatalf("got %q for uncoded error", got)
	}
}

func TestUserMessagePerCategory(t *testing.T) {
	t.Parallel()

	cases := map[Code]string{
		CodeLLMTimeout:       "处理时间较长，请稍后再试。",
		CodeLLMQuota:         "系统繁忙，请稍后再试。",
		CodeNetwork:          "网络连接异常，请稍后再试。",
		CodeLLMAPI:           "抱歉，系统遇到了一些问题，请稍后再试。",
		CodeSignatureInvalid: "抱歉，系统遇到了一些问题，请稍后再试。",
		CodeUnknown:          "抱歉，系统遇到了一些问题，请稍后再试。",
	}
	for code, want := range cases {
		if got := code.UserMessage(); got != want {
			t.Fatalf("%s: got %q, want %q", code, got, want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := New(CodeNetwork, cause)
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if err.Error() != "SYS_002: connection refused" {
		t.Fatalf("got %q", err.Error())
	}
}

func TestReporterCountsByCode(t *testing.T) {
	t.Parallel()

	r := NewReporter()
	r.Report(Newf(CodeLLMAPI, "500"))
	r.Report(Newf(CodeLLMAPI, "502"))
	r.Report(Newf(CodeWecomAPI, "45009"))
	r.Report(errors.New("uncoded"))
	r.Report(nil)

	stats := r.Stats()
	if stats["LLM_001"] != 2 || stats["WECOM_003"] != 1 || stats["SYS_999"] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(stats) != 3 {
		t.Fatalf("stats = %+v", stats)
	}
}
