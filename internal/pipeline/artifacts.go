package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wb-go/wbf/zlog"

	"github.com/formyhq/editflow/internal/imageio"
	"github.com/formyhq/editflow/internal/model"
	"github.com/formyhq/editflow/internal/storage"
	"github.com/formyhq/editflow/internal/taskerr"
)

const (
	thumbWidth  = 256
	thumbHeight = 256
)

// stageDir creates a scratch directory for one pipeline run. The caller
// removes it when done.
func stageDir(taskID string) (string, error) {
	dir, err := os.MkdirTemp("", "editflow-"+taskID+"-*")
	if err != nil {
		return "", taskerr.Wrap(taskerr.CodeInternalError, err)
	}
	return dir, nil
}

// publishArtifacts derives the thumbnail and, unless one is already
// staged, the before/after comparison from the local output image, then
// moves all artifacts into result storage. Thumbnail and comparison are
// best effort; only a missing output fails the task.
func publishArtifacts(ctx context.Context, store storage.Storage, taskID, srcPath, outLocal, compLocal string) (model.TaskResult, error) {
	stage := filepath.Dir(outLocal)

	if _, err := store.CopyToResults(ctx, outLocal, filepath.Base(outLocal)); err != nil {
		return model.TaskResult{}, taskerr.Wrap(taskerr.CodeInternalError, err)
	}

	result := model.TaskResult{
		OutputImage: store.ResultURL(filepath.Base(outLocal)),
		Metadata:    map[string]any{},
	}

	if width, height, format, err := imageio.Dimensions(outLocal); err == nil {
		result.Metadata["width"] = width
		result.Metadata["height"] = height
		result.Metadata["format"] = format
	}

	thumbLocal := filepath.Join(stage, thumbnailFilename(taskID))
	if err := imageio.Thumbnail(outLocal, thumbLocal, thumbWidth, thumbHeight); err != nil {
		zlog.Logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to build thumbnail")
	} else if _, err := store.CopyToResults(ctx, thumbLocal, filepath.Base(thumbLocal)); err != nil {
		zlog.Logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to store thumbnail")
	} else {
		result.Thumbnail = store.ResultURL(filepath.Base(thumbLocal))
	}

	if compLocal == "" {
		compLocal = filepath.Join(stage, comparisonFilename(taskID))
		if err := imageio.ComposeComparison(srcPath, outLocal, compLocal); err != nil {
			zlog.Logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to compose comparison image")
			compLocal = ""
		}
	}
	if compLocal != "" {
		if _, err := store.CopyToResults(ctx, compLocal, filepath.Base(compLocal)); err != nil {
			zlog.Logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to store comparison image")
		} else {
			result.ComparisonImage = store.ResultURL(filepath.Base(compLocal))
		}
	}

	return result, nil
}

// resolveImage resolves an uploaded file id into a local path, normalizing
// the not-found case.
func resolveImage(ctx context.Context, store storage.Storage, fileID string) (string, error) {
	path, err := store.Resolve(ctx, fileID)
	if err != nil {
		return "", taskerr.Newf(taskerr.CodeImageNotFound, "image %s not found", fileID).
			WithDetails(fmt.Sprintf("%v", err))
	}
	return path, nil
}
