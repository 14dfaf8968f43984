package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/formyhq/editflow/internal/imageio"
	"github.com/formyhq/editflow/internal/model"
	"github.com/formyhq/editflow/internal/storage"
	"github.com/formyhq/editflow/internal/taskerr"
)

// PoseChange adjusts the pose of the subject in the source image. The
// current implementation runs fully locally: the source is carried through
// as the output and the artifacts (thumbnail, before/after comparison) are
// composed on this host, so the rest of the system can exercise the full
// task lifecycle without a pose engine deployed.
type PoseChange struct {
	store storage.Storage
}

// NewPoseChange creates the pose change pipeline.
func NewPoseChange(store storage.Storage) *PoseChange {
	return &PoseChange{store: store}
}

// Run resolves the source and optional pose reference, stages the output
// and publishes the artifacts.
func (p *PoseChange) Run(ctx context.Context, in Input, progress ProgressFunc) (model.TaskResult, error) {
	progress(20, "preparing image")

	srcPath, err := resolveImage(ctx, p.store, in.SourceImage)
	if err != nil {
		return model.TaskResult{}, err
	}

	var posePath string
	if poseID := configString(in.Config, "pose_image", "pose_reference"); poseID != "" {
		posePath, err = resolveImage(ctx, p.store, poseID)
		if err != nil {
			return model.TaskResult{}, err
		}
	}

	progress(55, "composing output")

	stage, err := stageDir(in.TaskID)
	if err != nil {
		return model.TaskResult{}, err
	}
	defer os.RemoveAll(stage)

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return model.TaskResult{}, taskerr.Wrap(taskerr.CodeImageDecodeFailed, err)
	}
	outLocal := filepath.Join(stage, outputFilename(in.TaskID, filepath.Ext(srcPath)))
	if err := os.WriteFile(outLocal, data, 0o644); err != nil {
		return model.TaskResult{}, taskerr.Wrap(taskerr.CodeInternalError, err)
	}

	progress(90, "saving artifacts")

	result, err := publishArtifacts(ctx, p.store, in.TaskID, srcPath, outLocal, "")
	if err != nil {
		return model.TaskResult{}, err
	}
	if posePath != "" {
		if _, _, format, err := imageio.Dimensions(posePath); err == nil {
			result.Metadata["pose_reference_format"] = format
		}
	}

	return result, nil
}
