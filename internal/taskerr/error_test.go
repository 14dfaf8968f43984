package taskerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeEngineConnectionFailed, cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped error should match its cause")
	}
	if err.Details != "connection refused" {
		t.Errorf("Details = %q, want the cause text", err.Details)
	}
	if err.Message != Message(CodeEngineConnectionFailed) {
		t.Errorf("Message = %q, want the catalog text", err.Message)
	}
}

func TestFrom(t *testing.T) {
	inner := New(CodeEngineTimeout)
	wrapped := fmt.Errorf("pipeline: %w", inner)

	got := From(wrapped, CodePipelineError)
	if got.Code != CodeEngineTimeout {
		t.Errorf("From kept code %s, want %s", got.Code, CodeEngineTimeout)
	}

	raw := errors.New("something else")
	got = From(raw, CodePipelineError)
	if got.Code != CodePipelineError {
		t.Errorf("From normalized to %s, want %s", got.Code, CodePipelineError)
	}
	if !errors.Is(got, raw) {
		t.Error("normalized error should keep its cause")
	}
}

func TestMessageFallback(t *testing.T) {
	if Message("NOT_A_REAL_CODE") != messages[CodeProcessingFailed] {
		t.Error("unknown code should fall back to the generic message")
	}
}

func TestValid(t *testing.T) {
	if !Valid(CodeInvalidMode) {
		t.Error("catalog code should be valid")
	}
	if Valid("MADE_UP") {
		t.Error("unknown code should not be valid")
	}
}

func TestErrorString(t *testing.T) {
	err := Newf(CodeInvalidMode, "unsupported mode").WithDetails("got FACE_PAINT")
	want := "INVALID_MODE: unsupported mode (got FACE_PAINT)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
