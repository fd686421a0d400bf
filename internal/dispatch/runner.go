// Package dispatch runs the background tasks spawned for accepted
// webhook events, bounded by a concurrency ceiling. Every accepted
// task ends in exactly one outbound reply, even on panic.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roadbotai/roadbot/internal/agent"
	"github.com/roadbotai/roadbot/internal/channel"
	"github.com/roadbotai/roadbot/internal/faults"
	"github.com/roadbotai/roadbot/internal/monitoring"
	"github.com/roadbotai/roadbot/internal/wecom"
)

// busyReply is sent instead of starting a task when the concurrency
// ceiling is reached.
const busyReply = "系统繁忙，请稍后再试。"

const defaultTaskTimeout = 5 * time.Minute

// Messenger delivers outbound replies.
type Messenger interface {
	SendText(ctx context.Context, toUser, content string) error
	SendSessionText(ctx context.Context, openKfID, externalUserID, content string) error
}

// SessionSyncer pulls the messages behind a session sync token.
type SessionSyncer interface {
	SyncSessionMessages(ctx context.Context, token, openKfID string) (wecom.MergedEvent, error)
}

// Normalizer flattens events into reasoning context.
type Normalizer interface {
	Normalize(ctx context.Context, ev wecom.Event) ([]channel.ContextLine, error)
}

// Reasoner produces one reply for normalized context.
type Reasoner interface {
	Run(ctx context.Context, lines []channel.ContextLine) (agent.Result, error)
}

// Task is one unit of background work. Either Event is set and the
// full pipeline runs, or StaticReply is set and only delivery happens.
type Task struct {
	Event       wecom.Event
	StaticReply string

	// Reply addressing from the webhook envelope. Session syncs may
	// refine it with the pulled external user id.
	ToUser   string
	OpenKfID string
}

// Runner owns the task goroutines.
type Runner struct {
	messenger  Messenger
	syncer     SessionSyncer
	normalizer Normalizer
	reasoner   Reasoner
	monitor    *monitoring.Monitor
	reporter   *faults.Reporter

	sem         chan struct{}
	wg          sync.WaitGroup
	taskTimeout time.Duration
	logger      *slog.Logger
}

func NewRunner(
	log *slog.Logger,
	messenger Messenger,
	syncer SessionSyncer,
	normalizer Normalizer,
	reasoner Reasoner,
	monitor *monitoring.Monitor,
	reporter *faults.Reporter,
	maxConcurrent int,
) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	return &Runner{
		messenger:   messenger,
		syncer:      syncer,
		normalizer:  normalizer,
		reasoner:    reasoner,
		monitor:     monitor,
		reporter:    reporter,
		sem:         make(chan struct{}, maxConcurrent),
		taskTimeout: defaultTaskTimeout,
		logger:      log.With(slog.String("service", "dispatch")),
	}
}

// Submit accepts a task and returns immediately. Above the concurrency
// ceiling the task is shed: the user still gets a busy reply, but no
// pipeline work happens.
func (r *Runner) Submit(task Task) {
	select {
	case r.sem <- struct{}{}:
	default:
		r.logger.Warn("task shed, concurrency ceiling reached",
			slog.String("to_user", task.ToUser))
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			r.deliver(ctx, task, busyReply)
		}()
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.sem }()
		r.process(task)
	}()
}

// Shutdown waits for in-flight tasks to finish or ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) process(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), r.taskTimeout)
	defer cancel()

	taskID := uuid.NewString()
	log := r.logger.With(slog.String("task_id", taskID))
	log.Info("task started", slog.String("to_user", task.ToUser))

	started := time.Now()
	r.monitor.TaskStarted()
	defer r.monitor.TaskFinished()

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("task panic: %v", rec)
			log.Error("task panicked", slog.Any("error", err))
			r.reporter.Report(err)
			r.deliver(ctx, task, faults.CodeUnknown.UserMessage())
			r.monitor.RecordRequest(false, time.Since(started))
		}
	}()

	reply, task, err := r.handle(ctx, task)
	if errors.Is(err, channel.ErrIgnored) {
		// No outbound message for ignored events, and nothing failed.
		log.Debug("event ignored")
		r.monitor.RecordRequest(true, time.Since(started))
		return
	}
	if err != nil {
		log.Error("task failed",
			slog.String("code", string(faults.CodeOf(err))),
			slog.Any("error", err),
		)
		r.reporter.Report(err)
		r.deliver(ctx, task, faults.CodeOf(err).UserMessage())
		r.monitor.RecordRequest(false, time.Since(started))
		return
	}

	sent := r.deliver(ctx, task, reply)
	r.monitor.RecordRequest(sent, time.Since(started))
}

// handle runs the pipeline and returns the reply plus the task with
// refined addressing.
func (r *Runner) handle(ctx context.Context, task Task) (string, Task, error) {
	if task.StaticReply != "" {
		return task.StaticReply, task, nil
	}

	ev := task.Event
	if se, ok := ev.(wecom.SessionEvent); ok && se.EventType == wecom.EventKfMsgOrEvent && se.Token != "" {
		merged, err := r.syncer.SyncSessionMessages(ctx, se.Token, se.OpenKfID)
		if err != nil {
			return "", task, fmt.Errorf("sync session: %w", err)
		}
		ev = merged
		if sender := merged.Sender(); sender != "" {
			task.ToUser = sender
		}
		if kfID := openKfIDOf(merged); kfID != "" {
			task.OpenKfID = kfID
		}
	}

	lines, err := r.normalizer.Normalize(ctx, ev)
	if err != nil {
		return "", task, err
	}

	result, err := r.reasoner.Run(ctx, lines)
	for _, inv := range result.Invocations {
		r.monitor.RecordMetric("tool_execution_time", inv.Duration.Seconds(), map[string]string{
			"tool":    inv.Name,
			"success": map[bool]string{true: "true", false: "false"}[inv.Error == ""],
		})
	}
	if err != nil {
		return "", task, fmt.Errorf("reasoning: %w", err)
	}
	return result.Reply, task, nil
}

// deliver sends content over the channel the task came from: the
// customer-service session when an open kf id is known, the direct
// application message otherwise.
func (r *Runner) deliver(ctx context.Context, task Task, content string) bool {
	var err error
	if task.OpenKfID != "" {
		err = r.messenger.SendSessionText(ctx, task.OpenKfID, task.ToUser, content)
	} else {
		err = r.messenger.SendText(ctx, task.ToUser, content)
	}
	if err != nil {
		r.logger.Error("reply delivery failed",
			slog.String("to_user", task.ToUser),
			slog.Any("error", err),
		)
		r.reporter.Report(err)
		return false
	}
	r.logger.Info("reply delivered",
		slog.String("to_user", task.ToUser),
		slog.Bool("session", task.OpenKfID != ""),
	)
	return true
}

func openKfIDOf(ev wecom.Event) string {
	switch e := ev.(type) {
	case wecom.TextEvent:
		return e.OpenKfID
	case wecom.MediaEvent:
		return e.OpenKfID
	case wecom.SessionEvent:
		return e.OpenKfID
	case wecom.MergedEvent:
		for _, child := range e.Events {
			if id := openKfIDOf(child); id != "" {
				return id
			}
		}
	}
	return ""
}
