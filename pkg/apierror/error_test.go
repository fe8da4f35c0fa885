package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type kindErr struct {
	kind  string
	field string
}

func (e *kindErr) Error() string     { return "boom on " + e.field }
func (e *kindErr) ErrorKind() string { return e.kind }

func (e *kindErr) FieldDetail() (string, string) { return e.field, "is wrong" }

func TestFrom(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &kindErr{kind: "validation", field: "approved_count"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", &kindErr{kind: "not_found"}, http.StatusNotFound, "NOT_FOUND"},
		{"lease", &kindErr{kind: "lease_invalid"}, http.StatusConflict, "CONFLICT"},
		{"transport", fmt.Errorf("wrapped: %w", &kindErr{kind: "transport"}), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"unknown kind", &kindErr{kind: "decode"}, http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"api error", BadRequest("bad json"), http.StatusBadRequest, "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := From(tt.err)
			if got.StatusCode != tt.status || got.Code != tt.code {
				t.Fatalf("From(%v) = %d %s, want %d %s", tt.err, got.StatusCode, got.Code, tt.status, tt.code)
			}
		})
	}
}

func TestFromValidationDetails(t *testing.T) {
	got := From(&kindErr{kind: "validation", field: "approved_count"})
	if len(got.Details) != 1 || got.Details[0].Field != "approved_count" {
		t.Fatalf("unexpected details %+v", got.Details)
	}
}

func TestFromHidesInternalMessages(t *testing.T) {
	got := From(&kindErr{kind: "transport", field: "secret-dsn"})
	if got.Message != "Service temporarily unavailable" {
		t.Fatalf("transport message leaked: %q", got.Message)
	}
}

func TestToJSON(t *testing.T) {
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string       `json:"code"`
			Message string       `json:"message"`
			Details []FieldError `json:"details"`
		} `json:"error"`
	}
	data := ValidationError("invalid", FieldError{Field: "date", Message: "must be YYYY-MM-DD"}).ToJSON()
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Success || body.Error.Code != "VALIDATION_ERROR" || len(body.Error.Details) != 1 {
		t.Fatalf("unexpected body %s", data)
	}
}
