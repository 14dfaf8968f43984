package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/formyhq/editflow/internal/engine"
	"github.com/formyhq/editflow/internal/model"
	"github.com/formyhq/editflow/internal/storage"
	"github.com/formyhq/editflow/internal/taskerr"
)

// HeadSwap swaps the head of the source image with the one from a
// reference image, using a remote HTTP API engine that returns the output
// inline.
type HeadSwap struct {
	store  storage.Storage
	engine engine.Engine
}

// NewHeadSwap creates the head swap pipeline.
func NewHeadSwap(store storage.Storage, eng engine.Engine) *HeadSwap {
	return &HeadSwap{store: store, engine: eng}
}

// Run resolves both input images, calls the remote engine and publishes
// the returned image with its derived artifacts.
func (p *HeadSwap) Run(ctx context.Context, in Input, progress ProgressFunc) (model.TaskResult, error) {
	progress(10, "preparing images")

	srcPath, err := resolveImage(ctx, p.store, in.SourceImage)
	if err != nil {
		return model.TaskResult{}, err
	}

	refID := configString(in.Config, "reference_image", "swap_image")
	if refID == "" {
		return model.TaskResult{}, taskerr.Newf(taskerr.CodeMissingRequiredParam, "head swap requires a reference_image")
	}
	refPath, err := resolveImage(ctx, p.store, refID)
	if err != nil {
		return model.TaskResult{}, err
	}

	progress(30, "swapping head")

	res, err := p.engine.Execute(ctx, engine.Job{
		PrimaryImagePath:   srcPath,
		SecondaryImagePath: refPath,
		Params:             engineParams(in.Config, "reference_image", "swap_image"),
	})
	if err != nil {
		return model.TaskResult{}, err
	}
	if len(res.OutputBytes) == 0 {
		return model.TaskResult{}, taskerr.Newf(taskerr.CodeEngineResponseError, "remote engine returned no image data")
	}

	progress(70, "saving result")

	stage, err := stageDir(in.TaskID)
	if err != nil {
		return model.TaskResult{}, err
	}
	defer os.RemoveAll(stage)

	outLocal := filepath.Join(stage, outputFilename(in.TaskID, ".jpg"))
	if err := os.WriteFile(outLocal, res.OutputBytes, 0o644); err != nil {
		return model.TaskResult{}, taskerr.Wrap(taskerr.CodeInternalError, err)
	}

	progress(90, "finalizing")

	result, err := publishArtifacts(ctx, p.store, in.TaskID, srcPath, outLocal, "")
	if err != nil {
		return model.TaskResult{}, err
	}
	for key, value := range res.Metadata {
		result.Metadata[key] = value
	}

	return result, nil
}
