// Package faults defines the coded error taxonomy shared by the
// pipeline stages and the error counters exposed on the metrics report.
package faults

import (
	"errors"
	"fmt"
	"sync"
)

// Code identifies a failure category. Codes are stable and show up in
// logs and the metrics report.
type Code string

const (
	CodeSignatureInvalid Code = "WECOM_001"
	CodeMessageParse     Code = "WECOM_002"
	CodeWecomAPI         Code = "WECOM_003"

	CodeLLMAPI     Code = "LLM_001"
	CodeLLMTimeout Code = "LLM_002"
	CodeLLMQuota   Code = "LLM_003"

	CodeToolExecution Code = "TOOL_001"
	CodeMediaDownload Code = "TOOL_002"

	CodeConfig  Code = "SYS_001"
	CodeNetwork Code = "SYS_002"
	CodeUnknown Code = "SYS_999"
)

// UserMessage is the apology shown to the user when a task fails for
// the given category. Every category degrades to a delivered reply,
// never to silence.
func (c Code) UserMessage() string {
	switch c {
	case CodeLLMTimeout:
		return "处理时间较长，请稍后再试。"
	case CodeLLMQuota:
		return "系统繁忙，请稍后再试。"
	case CodeNetwork:
		return "网络连接异常，请稍后再试。"
	default:
		return "抱歉，系统遇到了一些问题，请稍后再试。"
	}
}

// Error wraps a cause with a failure category.
type Error struct {
	Code  Code
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps err with the given code.
func New(code Code, err error) *Error {
	return &Error{Code: code, Cause: err}
}

// Newf wraps a formatted error with the given code.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Cause: fmt.Errorf(format, args...)}
}

// CodeOf extracts the category of err, or CodeUnknown when it carries
// none.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeUnknown
}

// Reporter counts failures per code. Safe for concurrent use; writes
// never block the caller beyond the mutex.
type Reporter struct {
	mu     sync.Mutex
	counts map[Code]uint64
}

func NewReporter() *Reporter {
	return &Reporter{counts: make(map[Code]uint64)}
}

// Report records one occurrence of the error's category.
func (r *Reporter) Report(err error) {
	if err == nil {
		return
	}
	code := CodeOf(err)
	r.mu.Lock()
	r.counts[code]++
	r.mu.Unlock()
}

// Stats returns a snapshot of error counts keyed by code.
func (r *Reporter) Stats() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint64, len(r.counts))
	for code, n := range r.counts {
		out[string(code)] = n
	}
	return out
}
