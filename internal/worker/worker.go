// Package worker runs the consume loop: pop a task id from the pending
// queue, load its payload, drive the pipeline and write the terminal
// state. One worker processes one task at a time; parallelism comes from
// running several workers against the same queue.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/formyhq/editflow/internal/model"
	"github.com/formyhq/editflow/internal/pipeline"
	"github.com/formyhq/editflow/internal/queue"
	"github.com/formyhq/editflow/internal/task"
	"github.com/formyhq/editflow/internal/taskerr"
)

const (
	defaultPopTimeout   = 5 * time.Second
	defaultErrorBackoff = time.Second
)

// dispatcher routes a task to its pipeline.
type dispatcher interface {
	Dispatch(ctx context.Context, in pipeline.Input, progress pipeline.ProgressFunc) (model.TaskResult, error)
}

// biller settles credits for finished work; nil disables settlement.
type biller interface {
	Consume(ctx context.Context, userID string, mode model.EditMode) error
}

// Worker consumes tasks from the queue until its context is cancelled.
type Worker struct {
	queue      *queue.Queue
	tasks      *task.Service
	dispatcher dispatcher
	billing    biller

	popTimeout   time.Duration
	errorBackoff time.Duration
}

// New creates a Worker. billing may be nil. Zero timeouts fall back to
// 5s pop / 1s error backoff.
func New(q *queue.Queue, tasks *task.Service, d dispatcher, billing biller, popTimeout, errorBackoff time.Duration) *Worker {
	if popTimeout <= 0 {
		popTimeout = defaultPopTimeout
	}
	if errorBackoff <= 0 {
		errorBackoff = defaultErrorBackoff
	}

	return &Worker{
		queue:        q,
		tasks:        tasks,
		dispatcher:   d,
		billing:      billing,
		popTimeout:   popTimeout,
		errorBackoff: errorBackoff,
	}
}

// Run loops until ctx is cancelled. A pop timeout is the idle tick; a
// loop-level failure is logged and followed by a short backoff so a sick
// Redis does not spin the loop hot.
func (w *Worker) Run(ctx context.Context) {
	zlog.Logger.Info().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Info().Msg("worker stopped")
			return
		default:
		}

		taskID, err := w.queue.Pop(ctx, w.popTimeout)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				zlog.Logger.Info().Msg("worker stopped")
				return
			}
			zlog.Logger.Err(err).Msg("failed to pop task")
			select {
			case <-ctx.Done():
			case <-time.After(w.errorBackoff):
			}
			continue
		}

		w.process(ctx, taskID)
	}
}

// process runs one popped task to a terminal state. Panics from the
// pipeline layers are contained here; a crashing task never takes the
// loop down with it.
func (w *Worker) process(ctx context.Context, taskID string) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Logger.Error().
				Str("task_id", taskID).
				Any("panic", r).
				Msg("panic while processing task")
			w.fail(ctx, taskID, taskerr.Newf(taskerr.CodeInternalError, "panic: %v", r))
		}
	}()

	payload, err := w.queue.Payload(ctx, taskID)
	if err != nil {
		zlog.Logger.Err(err).Str("task_id", taskID).Msg("failed to load task payload")
		if errors.Is(err, queue.ErrPayloadNotFound) {
			w.fail(ctx, taskID, taskerr.New(taskerr.CodeTaskDataNotFound))
		} else {
			w.fail(ctx, taskID, taskerr.Wrap(taskerr.CodeInternalError, err))
		}
		return
	}

	zlog.Logger.Info().
		Str("task_id", taskID).
		Str("mode", string(payload.Mode)).
		Msg("processing task")

	if err := w.tasks.MarkProcessing(ctx, taskID, "starting"); err != nil {
		zlog.Logger.Err(err).Str("task_id", taskID).Msg("failed to mark task processing")
	}

	progress := func(progress int, step string) {
		if err := w.tasks.UpdateProgress(ctx, taskID, progress, step); err != nil {
			zlog.Logger.Err(err).Str("task_id", taskID).Msg("failed to update progress")
		}
	}

	result, err := w.dispatcher.Dispatch(ctx, pipeline.Input{
		TaskID:      taskID,
		Mode:        payload.Mode,
		SourceImage: payload.SourceImage,
		Config:      payload.Config,
	}, progress)
	if err != nil {
		failure := taskerr.From(err, taskerr.CodePipelineError)
		zlog.Logger.Err(failure).
			Str("task_id", taskID).
			Str("code", string(failure.Code)).
			Msg("task failed")
		w.fail(ctx, taskID, failure)
		return
	}

	if err := w.tasks.Complete(ctx, taskID, result); err != nil {
		zlog.Logger.Err(err).Str("task_id", taskID).Msg("failed to complete task")
		return
	}

	if w.billing != nil {
		if err := w.billing.Consume(ctx, payload.UserID, payload.Mode); err != nil {
			zlog.Logger.Err(err).
				Str("task_id", taskID).
				Str("user_id", payload.UserID).
				Msg("failed to consume credits")
		}
	}

	zlog.Logger.Info().Str("task_id", taskID).Msg("task completed")
}

func (w *Worker) fail(ctx context.Context, taskID string, failure *taskerr.Error) {
	if err := w.tasks.Fail(ctx, taskID, failure); err != nil {
		zlog.Logger.Err(err).Str("task_id", taskID).Msg("failed to mark task failed")
	}
}
