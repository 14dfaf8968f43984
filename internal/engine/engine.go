// Package engine defines the capability interface of a processing backend.
// An engine executes one normalized job against an external AI processor;
// job and result are ephemeral and live only for the duration of one call.
package engine

import "context"

// Job is the normalized input handed to an engine.
type Job struct {
	// PrimaryImagePath is the local path of the main input image.
	PrimaryImagePath string
	// SecondaryImagePath is an optional local path of a reference image
	// (swap head, pose reference, replacement background).
	SecondaryImagePath string
	// Params carries engine-specific extra parameters.
	Params map[string]any
}

// RemoteImage references an image stored on the engine side, retrievable
// by URL.
type RemoteImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Kind      string `json:"type,omitempty"`
	URL       string `json:"url"`
}

// Result is the outcome of one successful engine execution. Depending on
// the engine, the output is either inline bytes or a remote reference.
type Result struct {
	// OutputBytes holds the primary output image when returned inline.
	OutputBytes []byte
	// Output references the primary output when stored engine-side.
	Output *RemoteImage
	// Comparison references an optional engine-produced comparison image.
	Comparison *RemoteImage
	// Raw is the unparsed response payload for callers that need it.
	Raw any
	// Metadata carries engine-specific execution details.
	Metadata map[string]any
}

// Engine is the capability interface every processing backend implements.
// Execute fails with a normalized *taskerr.Error on any unrecoverable
// condition; raw transport errors never cross this boundary.
type Engine interface {
	Execute(ctx context.Context, job Job) (Result, error)
	ValidateInput(job Job) error
	HealthCheck(ctx context.Context) error
}
