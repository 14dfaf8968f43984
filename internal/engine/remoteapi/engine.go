// Package remoteapi implements the engine backed by a stateless external
// HTTP API: one request per job, images embedded in the payload, result in
// the response body. Everything about the remote contract (auth scheme,
// method, result location, encoding) comes from configuration.
package remoteapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/formyhq/editflow/internal/config"
	"github.com/formyhq/editflow/internal/engine"
	"github.com/formyhq/editflow/internal/imageio"
	"github.com/formyhq/editflow/internal/taskerr"
)

const defaultRequestTimeout = 120 * time.Second

// errSkipRetry wraps a failure that must not be retried (a client error
// when skip_client_errors is on).
type errSkipRetry struct{ err error }

func (e errSkipRetry) Error() string { return e.err.Error() }
func (e errSkipRetry) Unwrap() error { return e.err }

// Engine calls one remote HTTP API per job with a fixed-delay retry
// budget.
type Engine struct {
	cfg    config.RemoteEngine
	client *http.Client
}

// New creates an Engine from the remote API configuration. Method
// defaults to POST, retry budget to 3 attempts with a 1s delay.
func New(cfg config.RemoteEngine) *Engine {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.RetryTimes <= 0 {
		cfg.RetryTimes = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	return &Engine{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// ValidateInput checks that the endpoint is configured and the supplied
// images exist on disk.
func (e *Engine) ValidateInput(job engine.Job) error {
	if e.cfg.URL == "" {
		return taskerr.Newf(taskerr.CodePipelineInitFailed, "no remote API URL configured")
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

// Execute builds the request payload, calls the API under the retry
// budget and parses the result out of the final response.
func (e *Engine) Execute(ctx context.Context, job engine.Job) (engine.Result, error) {
	if err := e.ValidateInput(job); err != nil {
		return engine.Result{}, err
	}

	payload, err := e.buildPayload(job)
	if err != nil {
		return engine.Result{}, err
	}

	var body []byte
	var skipErr error
	attempt := 0
	callErr := retry.Do(func() error {
		attempt++
		data, err := e.call(ctx, payload)
		if err != nil {
			var skip errSkipRetry
			if errors.As(err, &skip) {
				// Not worth retrying; returning nil stops the loop and
				// the stored error is classified below.
				skipErr = skip.err
				return nil
			}
			zlog.Logger.Warn().Err(err).
				Int("attempt", attempt).
				Str("url", e.cfg.URL).
				Msg("remote API call failed")
			return err
		}
		body = data
		return nil
	}, retry.Strategy{
		Attempts: e.cfg.RetryTimes,
		Delay:    e.cfg.RetryDelay,
		Backoff:  1,
	})
	if callErr != nil {
		return engine.Result{}, e.classify(callErr)
	}
	if skipErr != nil {
		return engine.Result{}, e.classify(skipErr)
	}

	return e.parseResult(body)
}

// HealthCheck probes the configured health endpoint; without one the
// engine is assumed reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if e.cfg.HealthURL == "" {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.cfg.HealthURL, nil)
	if err != nil {
		return taskerr.Wrap(taskerr.CodeEngineNotAvailable, err)
	}
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return taskerr.Wrap(taskerr.CodeEngineNotAvailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return taskerr.Newf(taskerr.CodeEngineNotAvailable, "health check returned status %d", resp.StatusCode)
	}

	return nil
}

// buildPayload assembles the JSON request body: images (base64 when
// encode_images is on, bare paths otherwise), caller params, then
// configured extras. Extras never override caller fields.
func (e *Engine) buildPayload(job engine.Job) (map[string]any, error) {
	payload := make(map[string]any)

	encode := func(path string) (any, error) {
		if !e.cfg.EncodeImages {
			return path, nil
		}
		encoded, err := imageio.EncodeBase64(path)
		if err != nil {
			return nil, taskerr.Wrap(taskerr.CodeImageDecodeFailed, err)
		}
		return encoded, nil
	}

	if job.PrimaryImagePath != "" {
		value, err := encode(job.PrimaryImagePath)
		if err != nil {
			return nil, err
		}
		payload["source_image"] = value
	}
	if job.SecondaryImagePath != "" {
		value, err := encode(job.SecondaryImagePath)
		if err != nil {
			return nil, err
		}
		payload["reference_image"] = value
	}

	for key, value := range job.Params {
		payload[key] = value
	}
	for key, value := range e.cfg.ExtraParams {
		if _, taken := payload[key]; taken {
			continue
		}
		payload[key] = value
	}

	return payload, nil
}

// call performs one HTTP round trip and returns the raw response body.
func (e *Engine) call(ctx context.Context, payload map[string]any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errSkipRetry{err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, e.cfg.Method, e.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return nil, errSkipRetry{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		err := &statusError{code: resp.StatusCode, body: truncate(string(body), 256)}
		if e.cfg.SkipClientErrors && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, errSkipRetry{err: err}
		}
		return nil, err
	}

	return body, nil
}

// authorize sets the request credential per the configured auth scheme.
func (e *Engine) authorize(req *http.Request) {
	if e.cfg.APIKey == "" {
		return
	}

	switch e.cfg.AuthType {
	case "api_key":
		req.Header.Set("X-API-Key", e.cfg.APIKey)
	case "custom":
		header := e.cfg.AuthHeader
		if header == "" {
			header = "Authorization"
		}
		req.Header.Set(header, e.cfg.APIKey)
	default: // bearer
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
}

// parseResult extracts the output from the response body. A top-level
// "error" field marks a failure regardless of HTTP status. The result is
// read from result_key when configured, otherwise the whole body is the
// result. With decode_result on, a string result that decodes as base64
// becomes the output bytes; one that does not is passed through raw.
func (e *Engine) parseResult(body []byte) (engine.Result, error) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return engine.Result{}, taskerr.Wrap(taskerr.CodeEngineResponseError, err)
	}

	if remoteErr, ok := parsed["error"]; ok && remoteErr != nil {
		return engine.Result{}, taskerr.Newf(taskerr.CodeEngineResponseError, "remote API reported an error").
			WithDetails(fmt.Sprintf("%v", remoteErr))
	}

	var value any = parsed
	if e.cfg.ResultKey != "" {
		nested, ok := parsed[e.cfg.ResultKey]
		if !ok {
			return engine.Result{}, taskerr.Newf(taskerr.CodeEngineResponseError, "result key %q missing in response", e.cfg.ResultKey)
		}
		value = nested
	}

	result := engine.Result{Raw: value}

	if e.cfg.DecodeResult {
		if s, ok := value.(string); ok {
			if decoded, err := imageio.DecodeBase64(s); err == nil {
				result.OutputBytes = decoded
			} else {
				zlog.Logger.Warn().Err(err).Msg("result is not valid base64, passing through raw")
			}
		}
	}

	return result, nil
}

// classify maps the final transport failure after retry exhaustion to a
// normalized error.
func (e *Engine) classify(err error) *taskerr.Error {
	var skip errSkipRetry
	if errors.As(err, &skip) {
		err = skip.err
	}

	var status *statusError
	if errors.As(err, &status) {
		if status.code == http.StatusUnauthorized || status.code == http.StatusForbidden {
			return taskerr.Wrap(taskerr.CodeEngineAuthFailed, err)
		}
		return taskerr.Wrap(taskerr.CodeEngineResponseError, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return taskerr.Wrap(taskerr.CodeEngineTimeout, err)
	}
	if strings.Contains(err.Error(), "context deadline exceeded") {
		return taskerr.Wrap(taskerr.CodeEngineTimeout, err)
	}

	return taskerr.Wrap(taskerr.CodeEngineConnectionFailed, err)
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("remote API returned status %d", e.code)
	}
	return fmt.Sprintf("remote API returned status %d: %s", e.code, e.body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
