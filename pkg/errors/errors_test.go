package errors

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New("test error")
	if err == nil {
		t.Fatal("New() returned nil")
	}

	if !strings.Contains(err.Error(), "test error") {
		t.Errorf("Expected error message to contain 'test error', got: %s", err.Error())
	}

	if err.Location() == "" {
		t.Error("Location should not be empty")
	}
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base error")
	err := Wrap(baseErr, "wrapped")

	if err == nil {
		t.Fatal("Wrap() returned nil")
	}

	if !strings.Contains(err.Error(), "wrapped") {
		t.Errorf("Expected error message to contain 'wrapped', got: %s", err.Error())
	}

	if !strings.Contains(err.Error(), "base error") {
		t.Errorf("Expected error message to contain 'base error', got: %s", err.Error())
	}

	unwrapped := errors.Unwrap(err)
	if unwrapped != baseErr {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, "wrapped"); err != nil {
		t.Errorf("Wrap(nil) should return nil, got: %v", err)
	}
}

func TestWithField(t *testing.T) {
	err := New("test error").WithField("key", "value")

	fields := err.GetFields()
	if len(fields) != 1 {
		t.Fatalf("Expected 1 field, got %d", len(fields))
	}

	if fields["key"] != "value" {
		t.Errorf("Expected field['key'] = 'value', got: %v", fields["key"])
	}
}

func TestSentinelMatching(t *testing.T) {
	err := NewSendWhileProcessing(map[string]interface{}{"call_id": "call-1"})

	if !errors.Is(err, ErrSendWhileProcessing) {
		t.Error("Expected error to match ErrSendWhileProcessing")
	}

	if err.GetCode() != "SEND_WHILE_PROCESSING" {
		t.Errorf("Expected code SEND_WHILE_PROCESSING, got: %s", err.GetCode())
	}

	if err.GetFields()["call_id"] != "call-1" {
		t.Errorf("Expected call_id field to survive, got: %v", err.GetFields())
	}
}

func TestEmptyMessageCode(t *testing.T) {
	err := NewEmptyMessage()

	if !errors.Is(err, ErrEmptyMessage) {
		t.Error("Expected error to match ErrEmptyMessage")
	}
	if err.GetCode() != "EMPTY_MESSAGE" {
		t.Errorf("Expected code EMPTY_MESSAGE, got: %s", err.GetCode())
	}
}

func TestHTTPStatusFromError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrSessionNotFound, http.StatusNotFound},
		{ErrEmptyMessage, http.StatusUnprocessableEntity},
		{ErrSendWhileProcessing, http.StatusConflict},
		{Wrap(ErrSessionNotFound, "lookup failed"), http.StatusNotFound},
		{errors.New("unknown"), http.StatusInternalServerError},
	}

	for _, c := range cases {
		if got := HTTPStatusFromError(c.err); got != c.want {
			t.Errorf("HTTPStatusFromError(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NewSessionNotFound("abc-123"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got: %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got: %s", ct)
	}

	if !strings.Contains(rec.Body.String(), "abc-123") {
		t.Errorf("Expected body to mention session id, got: %s", rec.Body.String())
	}
}
