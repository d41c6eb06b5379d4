package model

import (
	"errors"
	"io"
	"testing"
)

func TestAPIError_ErrorAndUnwrap(t *testing.T) {
	err := NewUpstreamMalformedError("empty body")
	if err.Error() != "[UPSTREAM_EMPTY_OR_MALFORMED] invalid response from booking service: empty body" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, ErrUpstreamMalformed) {
		t.Error("errors.IsでErrUpstreamMalformedと判定できること")
	}
}

func TestNewTransportError_KeepsCause(t *testing.T) {
	err := NewTransportError(io.ErrUnexpectedEOF)
	if err.Message != io.ErrUnexpectedEOF.Error() {
		t.Errorf("Message = %q, want underlying message", err.Message)
	}
	if !errors.Is(err, ErrTransport) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("ErrTransportと原因エラーの両方を辿れること")
	}
}

func TestErrorConstructors_Codes(t *testing.T) {
	tests := []struct {
		err      *APIError
		code     string
		category string
	}{
		{NewValidationError("x"), ErrCodeValidation, "validation"},
		{NewAuthRequiredError(), ErrCodeAuthRequired, "auth"},
		{NewNotFoundError(), ErrCodeNotFound, "not_found"},
		{NewVendorRejectedError(""), ErrCodeVendorRejected, "upstream"},
	}

	for _, tt := range tests {
		if tt.err.Code != tt.code || tt.err.Category != tt.category {
			t.Errorf("%v: code=%s category=%s, want %s/%s", tt.err, tt.err.Code, tt.err.Category, tt.code, tt.category)
		}
	}
}
