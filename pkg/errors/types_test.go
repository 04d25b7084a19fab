package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeResourceUnknown, "resource xyz not found")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}
	if err.Code != ErrCodeResourceUnknown {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeResourceUnknown)
	}
	if err.Message != "resource xyz not found" {
		t.Errorf("Message = %v, want 'resource xyz not found'", err.Message)
	}
	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}
	if len(err.Stack) == 0 {
		t.Error("Stack should be captured")
	}
	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("connection refused")
	err := Wrap(underlying, ErrCodeHTTPGet, "failed to load resource")

	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}
	if err.Code != ErrCodeHTTPGet {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeHTTPGet)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Error("Error string should include underlying error")
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should see the underlying error")
	}
}

func TestWrap_Nil(t *testing.T) {
	if err := Wrap(nil, ErrCodeInternal, "test"); err != nil {
		t.Error("Wrap of nil should return nil")
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeHTTPGet, "fetch failed").
		WithContext("status", 404).
		WithContext("resource", "timeSeriesData")

	if err.Context["resource"] != "timeSeriesData" {
		t.Error("Context should contain 'resource' key")
	}
	want := "[HTTP_GET] fetch failed {resource: timeSeriesData, status: 404}"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWithMessageKey(t *testing.T) {
	err := New(ErrCodeHTTPGet, "fetch failed").WithMessageKey("i18nFailedLoadingResource")
	if err.MessageKey != "i18nFailedLoadingResource" {
		t.Errorf("MessageKey = %q", err.MessageKey)
	}
}

func TestWithRetryable(t *testing.T) {
	err := New(ErrCodeHTTPGet, "timed out").WithRetryable(true)
	if !err.IsRetryable() || !IsRetryable(err) {
		t.Error("error should be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestIsCodeAndGetCode(t *testing.T) {
	err := New(ErrCodeResourcePatch, "bad patch")
	wrapped := fmt.Errorf("table editor: %w", err)

	if !IsCode(wrapped, ErrCodeResourcePatch) {
		t.Error("IsCode should look through fmt wrapping")
	}
	if IsCode(err, ErrCodeHTTPGet) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(nil, ErrCodeHTTPGet) {
		t.Error("IsCode(nil) should be false")
	}
	if GetCode(wrapped) != ErrCodeResourcePatch {
		t.Errorf("GetCode = %v", GetCode(wrapped))
	}
	if GetCode(errors.New("plain")) != ErrCodeInternal {
		t.Error("plain errors map to INTERNAL")
	}
	if GetCode(nil) != "" {
		t.Error("GetCode(nil) should be empty")
	}
}

func TestStackTrace(t *testing.T) {
	err := New(ErrCodeInternal, "boom")
	trace := err.StackTrace()
	if !strings.HasPrefix(trace, "Stack trace:") {
		t.Errorf("unexpected trace %q", trace)
	}
	if !strings.Contains(trace, "TestStackTrace") {
		t.Error("trace should include the calling test")
	}
}
