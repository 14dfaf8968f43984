package taskerr

// Code identifies a failure class. The set is closed: every error that
// reaches a task record carries exactly one of these values.
type Code string

const (
	// Generic errors.
	CodeUnknownError   Code = "UNKNOWN_ERROR"
	CodeInternalError  Code = "INTERNAL_ERROR"
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// Task data errors.
	CodeTaskDataNotFound      Code = "TASK_DATA_NOT_FOUND"
	CodeTaskAlreadyProcessing Code = "TASK_ALREADY_PROCESSING"

	// Validation errors.
	CodeInvalidMode          Code = "INVALID_MODE"
	CodeInvalidSourceImage   Code = "INVALID_SOURCE_IMAGE"
	CodeMissingRequiredParam Code = "MISSING_REQUIRED_PARAM"

	// Image errors.
	CodeImageNotFound      Code = "IMAGE_NOT_FOUND"
	CodeImageFormatInvalid Code = "IMAGE_FORMAT_INVALID"
	CodeImageDecodeFailed  Code = "IMAGE_DECODE_FAILED"

	// Pipeline errors.
	CodePipelineError      Code = "PIPELINE_ERROR"
	CodePipelineTimeout    Code = "PIPELINE_TIMEOUT"
	CodePipelineInitFailed Code = "PIPELINE_INIT_FAILED"

	// Engine errors.
	CodeEngineNotAvailable     Code = "ENGINE_NOT_AVAILABLE"
	CodeEngineConnectionFailed Code = "ENGINE_CONNECTION_FAILED"
	CodeEngineTimeout          Code = "ENGINE_TIMEOUT"
	CodeEngineResponseError    Code = "ENGINE_RESPONSE_ERROR"
	CodeEngineAuthFailed       Code = "ENGINE_AUTH_FAILED"

	// Workflow-engine specific errors.
	CodeWorkflowNotAvailable      Code = "COMFYUI_NOT_AVAILABLE"
	CodeWorkflowConnectionTimeout Code = "COMFYUI_CONNECTION_TIMEOUT"
	CodeWorkflowError             Code = "COMFYUI_WORKFLOW_ERROR"
	CodeWorkflowProcessingFailed  Code = "COMFYUI_PROCESSING_FAILED"
	CodeWorkflowResultNotFound    Code = "COMFYUI_RESULT_NOT_FOUND"

	// Resource errors.
	CodeInsufficientCredits Code = "INSUFFICIENT_CREDITS"
	CodeStorageFull         Code = "STORAGE_FULL"

	// Business errors.
	CodeProcessingFailed      Code = "PROCESSING_FAILED"
	CodeNoFaceDetected        Code = "NO_FACE_DETECTED"
	CodeMultipleFacesDetected Code = "MULTIPLE_FACES_DETECTED"
)

// messages maps each code to its user-facing text.
var messages = map[Code]string{
	CodeUnknownError:   "unknown error",
	CodeInternalError:  "internal error",
	CodeInvalidRequest: "invalid request",

	CodeTaskDataNotFound:      "task data not found",
	CodeTaskAlreadyProcessing: "task is already being processed",

	CodeInvalidMode:          "unsupported edit mode",
	CodeInvalidSourceImage:   "source image is invalid",
	CodeMissingRequiredParam: "missing required parameter",

	CodeImageNotFound:      "image file not found",
	CodeImageFormatInvalid: "image format is not supported",
	CodeImageDecodeFailed:  "failed to decode image",

	CodePipelineError:      "processing pipeline error",
	CodePipelineTimeout:    "processing timed out",
	CodePipelineInitFailed: "processing pipeline failed to initialize",

	CodeEngineNotAvailable:     "AI engine is not available",
	CodeEngineConnectionFailed: "failed to connect to AI engine",
	CodeEngineTimeout:          "AI engine timed out",
	CodeEngineResponseError:    "AI engine returned an error",
	CodeEngineAuthFailed:       "AI engine authentication failed",

	CodeWorkflowNotAvailable:      "workflow engine is not available",
	CodeWorkflowConnectionTimeout: "workflow engine connection timed out",
	CodeWorkflowError:             "workflow definition error",
	CodeWorkflowProcessingFailed:  "workflow execution failed",
	CodeWorkflowResultNotFound:    "workflow produced no result",

	CodeInsufficientCredits: "insufficient credits",
	CodeStorageFull:         "storage is full",

	CodeProcessingFailed:      "processing failed",
	CodeNoFaceDetected:        "no face detected in the image",
	CodeMultipleFacesDetected: "multiple faces detected in the image",
}

// suggestions maps a code to an actionable hint shown to the user.
// Not every code has one.
var suggestions = map[Code]string{
	CodeImageFormatInvalid:        "upload a JPG, PNG or WEBP image",
	CodeWorkflowNotAvailable:      "the AI service is temporarily unavailable, try again later",
	CodeWorkflowConnectionTimeout: "check the network connection and try again",
	CodeNoFaceDetected:            "make sure the image contains a clearly visible face",
	CodeMultipleFacesDetected:     "upload an image with a single face",
	CodeInsufficientCredits:       "top up credits or upgrade the plan",
}

// Message returns the user-facing text for a code.
func Message(code Code) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[CodeProcessingFailed]
}

// Suggestion returns the actionable hint for a code, or "" if none exists.
func Suggestion(code Code) string {
	return suggestions[code]
}

// Valid reports whether code belongs to the closed set.
func Valid(code Code) bool {
	_, ok := messages[code]
	return ok
}
