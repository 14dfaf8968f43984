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

// graphEngine is the workflow engine contract: results live on the engine
// side and have to be fetched after execution.
type graphEngine interface {
	engine.Engine
	Download(ctx context.Context, img *engine.RemoteImage, path string) error
}

// BackgroundChange replaces the background of the source image by running
// a graph workflow on the local workflow server.
type BackgroundChange struct {
	store  storage.Storage
	engine graphEngine
}

// NewBackgroundChange creates the background change pipeline.
func NewBackgroundChange(store storage.Storage, eng graphEngine) *BackgroundChange {
	return &BackgroundChange{store: store, engine: eng}
}

// Run resolves the inputs, executes the workflow, downloads the outputs
// and publishes the artifacts. The engine-produced comparison image is
// preferred; when the workflow has none, one is composed locally.
func (p *BackgroundChange) Run(ctx context.Context, in Input, progress ProgressFunc) (model.TaskResult, error) {
	progress(10, "preparing images")

	srcPath, err := resolveImage(ctx, p.store, in.SourceImage)
	if err != nil {
		return model.TaskResult{}, err
	}

	var refPath string
	if refID := configString(in.Config, "background_image", "reference_image"); refID != "" {
		refPath, err = resolveImage(ctx, p.store, refID)
		if err != nil {
			return model.TaskResult{}, err
		}
	}

	progress(30, "running workflow")

	res, err := p.engine.Execute(ctx, engine.Job{
		PrimaryImagePath:   srcPath,
		SecondaryImagePath: refPath,
		Params:             engineParams(in.Config, "background_image", "reference_image"),
	})
	if err != nil {
		return model.TaskResult{}, err
	}
	if res.Output == nil {
		return model.TaskResult{}, taskerr.New(taskerr.CodeWorkflowResultNotFound)
	}

	progress(70, "downloading results")

	stage, err := stageDir(in.TaskID)
	if err != nil {
		return model.TaskResult{}, err
	}
	defer os.RemoveAll(stage)

	ext := filepath.Ext(res.Output.Filename)
	outLocal := filepath.Join(stage, outputFilename(in.TaskID, ext))
	if err := p.engine.Download(ctx, res.Output, outLocal); err != nil {
		return model.TaskResult{}, err
	}

	var compLocal string
	if res.Comparison != nil {
		compLocal = filepath.Join(stage, comparisonFilename(in.TaskID))
		if err := p.engine.Download(ctx, res.Comparison, compLocal); err != nil {
			// Fall back to local composition in publishArtifacts.
			compLocal = ""
		}
	}

	progress(90, "finalizing")

	result, err := publishArtifacts(ctx, p.store, in.TaskID, srcPath, outLocal, compLocal)
	if err != nil {
		return model.TaskResult{}, err
	}
	for key, value := range res.Metadata {
		result.Metadata[key] = value
	}

	return result, nil
}
