// errors_test.go — verifies AppError / Wrap / Wrapf / WithCode behavior.
package errors

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func TestWrapUnwrap(t *testing.T) {
	wrapped := Wrap(ErrUnknownAgent, "Registry.GenerateToken", "agent not in roster")

	if !errors.Is(wrapped, ErrUnknownAgent) {
		t.Errorf("errors.Is(wrapped, ErrUnknownAgent) = false, want true")
	}
	if errors.Is(wrapped, ErrTimeout) {
		t.Errorf("errors.Is(wrapped, ErrTimeout) = true, want false")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatalf("errors.As failed to extract *AppError")
	}
	if appErr.Op != "Registry.GenerateToken" {
		t.Errorf("Op = %q, want %q", appErr.Op, "Registry.GenerateToken")
	}
}

func TestWrapErrorString(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	wrapped := Wrap(cause, "Store.GetSession", "read failed")

	s := wrapped.Error()
	for _, want := range []string{"Store.GetSession", "read failed", "unexpected EOF"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

func TestWrapfFormat(t *testing.T) {
	wrapped := Wrapf(ErrInvalidVoteValue, "Orchestrator.CastVote", "value %q not valid for scheme %q", "maybe", "unanimous")

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed")
	}
	if !strings.Contains(appErr.Message, `"maybe" not valid for scheme "unanimous"`) {
		t.Errorf("Message = %q, missing expected substring", appErr.Message)
	}
}

func TestDoubleWrap(t *testing.T) {
	inner := Wrap(ErrNotFound, "Store.GetSession", "row missing")
	outer := Wrap(inner, "Orchestrator.GetSession", "session lookup failed")

	if !errors.Is(outer, ErrNotFound) {
		t.Error("errors.Is(outer, ErrNotFound) = false after double wrap")
	}

	var appErr *AppError
	if !errors.As(outer, &appErr) {
		t.Fatal("errors.As failed on outer")
	}
	if appErr.Op != "Orchestrator.GetSession" {
		t.Errorf("Op = %q, want Orchestrator.GetSession", appErr.Op)
	}
}

func TestWithCodeAttachesToAppError(t *testing.T) {
	err := New("Orchestrator.CastVote", "duplicate ballot")
	coded := WithCode(err, CodeAlreadyVoted)

	var appErr *AppError
	if !errors.As(coded, &appErr) {
		t.Fatal("errors.As failed")
	}
	if appErr.Code != CodeAlreadyVoted {
		t.Errorf("Code = %q, want %q", appErr.Code, CodeAlreadyVoted)
	}
}

func TestWithCodeWrapsPlainError(t *testing.T) {
	coded := WithCode(io.ErrClosedPipe, CodeStoreError)

	var appErr *AppError
	if !errors.As(coded, &appErr) {
		t.Fatal("errors.As failed")
	}
	if appErr.Code != CodeStoreError {
		t.Errorf("Code = %q, want %q", appErr.Code, CodeStoreError)
	}
	if !errors.Is(coded, io.ErrClosedPipe) {
		t.Error("errors.Is should find the wrapped plain error")
	}
}

func TestNewConfigLoadCarriesFieldDetail(t *testing.T) {
	fields := []FieldError{{Path: "council.rules.quorum", Message: "must be >= 1"}}
	err := NewConfigLoad("council.Load", fields)

	var appErr *AppError
	if !errors.As(err, &appErr) {
		t.Fatal("errors.As failed")
	}
	if len(appErr.Fields) != 1 || appErr.Fields[0].Path != "council.rules.quorum" {
		t.Errorf("Fields = %+v, want single quorum field error", appErr.Fields)
	}
	if !errors.Is(err, ErrConfigLoad) {
		t.Error("errors.Is(err, ErrConfigLoad) = false")
	}
}
