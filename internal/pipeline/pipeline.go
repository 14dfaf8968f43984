// Package pipeline maps edit modes to processing pipelines and runs them.
// A pipeline owns the full journey of one task: resolving input images,
// driving an engine, producing the output, thumbnail and comparison
// artifacts. The dispatcher is the only entry point the worker uses.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/wb-go/wbf/zlog"

	"github.com/formyhq/editflow/internal/model"
	"github.com/formyhq/editflow/internal/taskerr"
)

// Input is everything a pipeline needs to process one task.
type Input struct {
	TaskID      string
	Mode        model.EditMode
	SourceImage string
	Config      map[string]any
}

// ProgressFunc reports intermediate progress (0-100) with a step label.
type ProgressFunc func(progress int, step string)

// Pipeline processes one task end to end and returns the artifact
// references to store on the task record.
type Pipeline interface {
	Run(ctx context.Context, in Input, progress ProgressFunc) (model.TaskResult, error)
}

// Dispatcher routes tasks to the pipeline of their mode. Pipelines are
// built on first use and cached per mode.
type Dispatcher struct {
	mu        sync.Mutex
	factories map[model.EditMode]func() Pipeline
	cache     map[model.EditMode]Pipeline
}

// NewDispatcher creates a Dispatcher with the given per-mode factories.
func NewDispatcher(factories map[model.EditMode]func() Pipeline) *Dispatcher {
	return &Dispatcher{
		factories: factories,
		cache:     make(map[model.EditMode]Pipeline),
	}
}

// Dispatch runs the pipeline for the input's mode. Failures come back as
// *taskerr.Error; a panicking pipeline is contained here and surfaces as
// a pipeline error instead of tearing down the worker.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input, progress ProgressFunc) (result model.TaskResult, err error) {
	p, err := d.pipeline(in.Mode)
	if err != nil {
		return model.TaskResult{}, err
	}

	if progress == nil {
		progress = func(int, string) {}
	}

	defer func() {
		if r := recover(); r != nil {
			zlog.Logger.Error().
				Str("task_id", in.TaskID).
				Str("mode", string(in.Mode)).
				Any("panic", r).
				Msg("pipeline panicked")
			result = model.TaskResult{}
			err = taskerr.Newf(taskerr.CodePipelineError, "pipeline panicked: %v", r)
		}
	}()

	result, err = p.Run(ctx, in, progress)
	if err != nil {
		return model.TaskResult{}, taskerr.From(err, taskerr.CodePipelineError)
	}

	return result, nil
}

// pipeline returns the cached pipeline for mode, building it on first use.
func (d *Dispatcher) pipeline(mode model.EditMode) (Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.cache[mode]; ok {
		return p, nil
	}

	factory, ok := d.factories[mode]
	if !ok {
		return nil, taskerr.Newf(taskerr.CodeInvalidMode, "no pipeline for mode %q", mode)
	}

	p := factory()
	d.cache[mode] = p
	return p, nil
}

// configString returns the first non-empty string value among the given
// config keys.
func configString(cfg map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := cfg[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// engineParams copies the task config minus the keys that name input
// images; those travel as files, not parameters.
func engineParams(cfg map[string]any, imageKeys ...string) map[string]any {
	skip := make(map[string]bool, len(imageKeys))
	for _, key := range imageKeys {
		skip[key] = true
	}

	params := make(map[string]any)
	for key, value := range cfg {
		if skip[key] {
			continue
		}
		params[key] = value
	}
	return params
}

func outputFilename(taskID, ext string) string {
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("%s_output%s", taskID, ext)
}

func thumbnailFilename(taskID string) string {
	return taskID + "_thumb.jpg"
}

func comparisonFilename(taskID string) string {
	return taskID + "_comparison.jpg"
}
