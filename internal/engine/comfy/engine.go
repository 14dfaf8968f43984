// Package comfy implements the graph-workflow engine: a locally hosted
// workflow server driven over HTTP with a submit-then-poll protocol.
// A workflow definition is loaded from disk, designated input nodes are
// filled with uploaded images, and tagged output nodes are read back once
// the job history reports outputs.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/formyhq/editflow/internal/engine"
	"github.com/formyhq/editflow/internal/taskerr"
)

const (
	defaultTimeout      = 300 * time.Second
	defaultPollInterval = 2 * time.Second

	// Per-request timeouts for the short HTTP calls around the poll loop.
	submitTimeout   = 30 * time.Second
	statusTimeout   = 10 * time.Second
	transferTimeout = 30 * time.Second
)

// Engine drives one workflow definition against a workflow server.
type Engine struct {
	baseURL      string
	workflowPath string
	timeout      time.Duration
	pollInterval time.Duration

	// clientID identifies this engine instance to the server across
	// submissions.
	clientID string
	client   *http.Client
}

// New creates an Engine for the given server URL and workflow file.
// Zero timeout/pollInterval fall back to the defaults (300s / 2s).
func New(baseURL, workflowPath string, timeout, pollInterval time.Duration) *Engine {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Engine{
		baseURL:      baseURL,
		workflowPath: workflowPath,
		timeout:      timeout,
		pollInterval: pollInterval,
		clientID:     uuid.New().String(),
		client:       &http.Client{},
	}
}

// ValidateInput checks that the workflow definition and the supplied
// images exist on disk.
func (e *Engine) ValidateInput(job engine.Job) error {
	if e.workflowPath == "" {
		return taskerr.Newf(taskerr.CodePipelineInitFailed, "no workflow path configured")
	}
	if _, err := os.Stat(e.workflowPath); err != nil {
		return taskerr.Wrap(taskerr.CodePipelineInitFailed, err)
	}

	for _, path := range []string{job.PrimaryImagePath, job.SecondaryImagePath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return taskerr.Wrap(taskerr.CodeImageNotFound, err)
		}
	}

	return nil
}

// Execute runs the workflow for one job: load, inject inputs, submit,
// poll until the job history reports outputs, then extract the tagged
// output images.
func (e *Engine) Execute(ctx context.Context, job engine.Job) (engine.Result, error) {
	if err := e.ValidateInput(job); err != nil {
		return engine.Result{}, err
	}

	wf, err := e.loadWorkflow()
	if err != nil {
		return engine.Result{}, err
	}

	e.injectImage(ctx, wf, titlePrimaryInput, job.PrimaryImagePath)
	e.injectImage(ctx, wf, titleSecondaryInput, job.SecondaryImagePath)

	promptID, err := e.submit(ctx, wf)
	if err != nil {
		return engine.Result{}, err
	}

	zlog.Logger.Info().
		Str("prompt_id", promptID).
		Str("workflow", e.workflowPath).
		Msg("workflow submitted")

	outputs, err := e.waitForCompletion(ctx, promptID)
	if err != nil {
		return engine.Result{}, err
	}

	result := e.extractOutputs(wf, outputs)
	result.Metadata = map[string]any{"prompt_id": promptID}

	if result.Output == nil {
		return engine.Result{}, taskerr.New(taskerr.CodeWorkflowResultNotFound)
	}

	return result, nil
}

// HealthCheck probes the workflow server's stats endpoint.
func (e *Engine) HealthCheck(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.baseURL+"/system_stats", nil)
	if err != nil {
		return taskerr.Wrap(taskerr.CodeWorkflowNotAvailable, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return taskerr.Wrap(taskerr.CodeWorkflowNotAvailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return taskerr.Newf(taskerr.CodeWorkflowNotAvailable, "unexpected status %d", resp.StatusCode)
	}

	return nil
}

// Download fetches a result image by URL and writes it to the given local
// path, creating parent directories as needed.
func (e *Engine) Download(ctx context.Context, img *engine.RemoteImage, path string) error {
	if img == nil || img.URL == "" {
		return taskerr.Newf(taskerr.CodeWorkflowResultNotFound, "result image has no URL")
	}

	reqCtx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, img.URL, nil)
	if err != nil {
		return taskerr.Wrap(taskerr.CodeEngineConnectionFailed, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return taskerr.Wrap(taskerr.CodeEngineConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return taskerr.Newf(taskerr.CodeEngineResponseError, "download returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return taskerr.Wrap(taskerr.CodeInternalError, err)
	}

	out, err := os.Create(path)
	if err != nil {
		return taskerr.Wrap(taskerr.CodeInternalError, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return taskerr.Wrap(taskerr.CodeEngineConnectionFailed, err)
	}

	return nil
}

func (e *Engine) loadWorkflow() (workflow, error) {
	raw, err := os.ReadFile(e.workflowPath)
	if err != nil {
		return nil, taskerr.Wrap(taskerr.CodePipelineInitFailed, err)
	}

	wf, err := parseWorkflow(raw)
	if err != nil {
		return nil, taskerr.Wrap(taskerr.CodeWorkflowError, err)
	}

	return wf, nil
}

// injectImage uploads the image at path and writes the returned server
// filename into the node tagged with title. A workflow without a matching
// node simply does not receive the image; that is not an error.
func (e *Engine) injectImage(ctx context.Context, wf workflow, title, path string) {
	if path == "" {
		return
	}
	nodeID := wf.findByTitle(title)
	if nodeID == "" {
		return
	}

	filename, err := e.uploadImage(ctx, path)
	if err != nil {
		zlog.Logger.Err(err).
			Str("node", nodeID).
			Str("image", path).
			Msg("failed to upload image to workflow engine")
		return
	}

	wf.setImageInput(nodeID, filename)
	zlog.Logger.Info().
		Str("node", nodeID).
		Str("filename", filename).
		Msg("image injected into workflow")
}

// uploadImage posts the image bytes to the engine's inbound image store
// and returns the server-side filename.
func (e *Engine) uploadImage(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write upload form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish upload form: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.baseURL+"/upload/image", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if parsed.Name == "" {
		return filepath.Base(path), nil
	}

	return parsed.Name, nil
}

// submit sends the normalized graph together with the client id and
// returns the job id assigned by the server.
func (e *Engine) submit(ctx context.Context, wf workflow) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    wf,
		"client_id": e.clientID,
	})
	if err != nil {
		return "", taskerr.Wrap(taskerr.CodeWorkflowError, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.baseURL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return "", taskerr.Wrap(taskerr.CodeEngineConnectionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", taskerr.Wrap(taskerr.CodeEngineConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", taskerr.Newf(taskerr.CodeEngineResponseError, "submit returned status %d", resp.StatusCode)
	}

	var parsed struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", taskerr.Wrap(taskerr.CodeEngineResponseError, err)
	}
	if parsed.PromptID == "" {
		return "", taskerr.Newf(taskerr.CodeEngineResponseError, "no prompt_id in submit response")
	}

	return parsed.PromptID, nil
}

type jobStatus int

const (
	statusExecuting jobStatus = iota
	statusCompleted
	statusFailed
)

// waitForCompletion polls the job history until outputs appear, the status
// reports an error, or the wall-clock budget runs out. The remote job is
// not cancelled on timeout; the server offers no cancel primitive.
func (e *Engine) waitForCompletion(ctx context.Context, promptID string) (map[string]any, error) {
	deadline := time.Now().Add(e.timeout)

	for {
		if time.Now().After(deadline) {
			return nil, taskerr.Newf(taskerr.CodePipelineTimeout, "workflow did not finish within %s", e.timeout)
		}

		status, outputs := e.pollStatus(ctx, promptID)
		switch status {
		case statusCompleted:
			return outputs, nil
		case statusFailed:
			return nil, taskerr.New(taskerr.CodeWorkflowProcessingFailed)
		}

		select {
		case <-ctx.Done():
			return nil, taskerr.Wrap(taskerr.CodePipelineTimeout, ctx.Err())
		case <-time.After(e.pollInterval):
		}
	}
}

// pollStatus queries the job history once. Transient query failures are
// reported as still executing; the wall-clock budget bounds how long that
// can go on.
func (e *Engine) pollStatus(ctx context.Context, promptID string) (jobStatus, map[string]any) {
	reqCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.baseURL+"/history/"+promptID, nil)
	if err != nil {
		return statusExecuting, nil
	}

	resp, err := e.client.Do(req)
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("prompt_id", promptID).Msg("status poll failed")
		return statusExecuting, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusExecuting, nil
	}

	var history map[string]struct {
		Outputs json.RawMessage `json:"outputs"`
		Status  struct {
			StatusStr string `json:"status_str"`
		} `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return statusExecuting, nil
	}

	entry, ok := history[promptID]
	if !ok {
		return statusExecuting, nil
	}

	// An outputs key means the job is done, even when the map is empty;
	// whether anything usable came out is decided during extraction.
	if entry.Outputs != nil {
		var outputs map[string]any
		if err := json.Unmarshal(entry.Outputs, &outputs); err != nil {
			return statusCompleted, nil
		}
		return statusCompleted, outputs
	}
	if entry.Status.StatusStr == "error" {
		return statusFailed, nil
	}

	return statusExecuting, nil
}

// extractOutputs reads the tagged output nodes from the job outputs.
// When no tagged node matches, every output node's images are scanned and
// the first one found becomes the primary output.
func (e *Engine) extractOutputs(wf workflow, outputs map[string]any) engine.Result {
	var result engine.Result

	if id := wf.findByTitle(titlePrimaryOutput); id != "" {
		result.Output = e.firstImage(outputs, id, "output")
	}
	if id := wf.findByTitle(titleComparerOutput); id != "" {
		result.Comparison = e.firstImage(outputs, id, "temp")
	}

	if result.Output == nil {
		for nodeID := range outputs {
			if img := e.firstImage(outputs, nodeID, "output"); img != nil {
				result.Output = img
				break
			}
		}
	}

	return result
}

// firstImage returns the first image of the given output node, or nil.
func (e *Engine) firstImage(outputs map[string]any, nodeID, defaultKind string) *engine.RemoteImage {
	node, ok := outputs[nodeID].(map[string]any)
	if !ok {
		return nil
	}
	images, ok := node["images"].([]any)
	if !ok {
		return nil
	}

	for _, raw := range images {
		info, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		filename, _ := info["filename"].(string)
		if filename == "" {
			continue
		}
		subfolder, _ := info["subfolder"].(string)
		kind, _ := info["type"].(string)
		if kind == "" {
			kind = defaultKind
		}

		return &engine.RemoteImage{
			Filename:  filename,
			Subfolder: subfolder,
			Kind:      kind,
			URL:       e.viewURL(filename, subfolder, kind),
		}
	}

	return nil
}

// viewURL builds the retrieval URL for a filename/subfolder/type triple.
func (e *Engine) viewURL(filename, subfolder, kind string) string {
	params := url.Values{}
	params.Set("filename", filename)
	params.Set("type", kind)
	if subfolder != "" {
		params.Set("subfolder", subfolder)
	}
	return e.baseURL + "/view?" + params.Encode()
}
