package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONSetsContentTypeHeader(t *testing.T) {
	recorder := httptest.NewRecorder()

	WriteJSON(recorder, http.StatusOK, map[string]string{"key": "value"})

	contentType := recorder.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}
}

func TestWriteJSONSetsStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Created", http.StatusCreated},
		{"BadRequest", http.StatusBadRequest},
		{"InternalServerError", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()

			WriteJSON(recorder, tt.statusCode, map[string]string{"key": "value"})

			if recorder.Code != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, recorder.Code)
			}
		})
	}
}

func TestWriteJSONEncodesBody(t *testing.T) {
	recorder := httptest.NewRecorder()
	payload := map[string]string{"name": "cueplayer", "type": "player"}

	WriteJSON(recorder, http.StatusOK, payload)

	var decoded map[string]string
	err := json.NewDecoder(recorder.Body).Decode(&decoded)
	if err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if decoded["name"] != "cueplayer" {
		t.Errorf("expected name=cueplayer, got %s", decoded["name"])
	}
	if decoded["type"] != "player" {
		t.Errorf("expected type=player, got %s", decoded["type"])
	}
}

func TestWriteJSONEncodesStructBody(t *testing.T) {
	type item struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}

	recorder := httptest.NewRecorder()
	payload := item{ID: 42, Title: "test item"}

	WriteJSON(recorder, http.StatusCreated, payload)

	var decoded item
	err := json.NewDecoder(recorder.Body).Decode(&decoded)
	if err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if decoded.ID != 42 {
		t.Errorf("expected id=42, got %d", decoded.ID)
	}
	if decoded.Title != "test item" {
		t.Errorf("expected title=test item, got %s", decoded.Title)
	}
}

func TestWriteJSONEncodesSliceBody(t *testing.T) {
	recorder := httptest.NewRecorder()
	payload := []string{"alpha", "beta", "gamma"}

	WriteJSON(recorder, http.StatusOK, payload)

	var decoded []string
	err := json.NewDecoder(recorder.Body).Decode(&decoded)
	if err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 elements, got %d", len(decoded))
	}
	if decoded[0] != "alpha" || decoded[1] != "beta" || decoded[2] != "gamma" {
		t.Errorf("unexpected slice contents: %v", decoded)
	}
}

func TestWriteErrorProducesCorrectJSON(t *testing.T) {
	recorder := httptest.NewRecorder()

	WriteError(recorder, http.StatusBadRequest, "invalid input")

	var decoded ErrorBody
	err := json.NewDecoder(recorder.Body).Decode(&decoded)
	if err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if decoded.Error != "invalid input" {
		t.Errorf("expected error=invalid input, got %s", decoded.Error)
	}
}

func TestWriteErrorSetsStatusCode(t *testing.T) {
	recorder := httptest.NewRecorder()

	WriteError(recorder, http.StatusForbidden, "forbidden")

	if recorder.Code != http.StatusForbidden {
		t.Errorf("expected status %d, got %d", http.StatusForbidden, recorder.Code)
	}
}

func TestWriteErrorSetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()

	WriteError(recorder, http.StatusInternalServerError, "something broke")

	contentType := recorder.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}
}

func TestWriteErrorWithVariousMessages(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		message    string
	}{
		{"NotFound", http.StatusNotFound, "resource not found"},
		{"Unauthorized", http.StatusUnauthorized, "authentication required"},
		{"Conflict", http.StatusConflict, "duplicate entry"},
		{"InternalError", http.StatusInternalServerError, "unexpected server error"},
		{"EmptyMessage", http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()

			WriteError(recorder, tt.statusCode, tt.message)

			if recorder.Code != tt.statusCode {
				t.Errorf("expected status %d, got %d", tt.statusCode, recorder.Code)
			}

			var decoded ErrorBody
			err := json.NewDecoder(recorder.Body).Decode(&decoded)
			if err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if decoded.Error != tt.message {
				t.Errorf("expected error=%q, got %q", tt.message, decoded.Error)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var body struct {
		Label string `json:"label"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"label":"Intro"}`))
	rec := httptest.NewRecorder()

	if !DecodeJSON(rec, req, &body) {
		t.Fatalf("expected decode to succeed, got status %d", rec.Code)
	}
	if body.Label != "Intro" {
		t.Errorf("expected label=Intro, got %q", body.Label)
	}
}

func TestDecodeJSONEmptyBody(t *testing.T) {
	body := struct {
		Visible *bool `json:"visible"`
	}{}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	rec := httptest.NewRecorder()

	if !DecodeJSON(rec, req, &body) {
		t.Fatalf("expected empty body to be accepted, got status %d", rec.Code)
	}
	if body.Visible != nil {
		t.Error("expected field to stay nil")
	}
}

func TestDecodeJSONMalformed(t *testing.T) {
	var body map[string]any
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"label":`))
	rec := httptest.NewRecorder()

	if DecodeJSON(rec, req, &body) {
		t.Fatal("expected decode to fail")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestDecodeJSONTooLarge(t *testing.T) {
	var body map[string]any
	payload := `{"content":"` + strings.Repeat("x", MaxJSONBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	if DecodeJSON(rec, req, &body) {
		t.Fatal("expected decode to fail")
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status 413, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		expected   string
	}{
		{"ForwardedChain", "203.0.113.50, 70.41.3.18", "10.0.0.1:1234", "203.0.113.50"},
		{"ForwardedSingle", "203.0.113.7", "10.0.0.1:1234", "203.0.113.7"},
		{"RemoteAddr", "", "192.0.2.1:5555", "192.0.2.1"},
		{"RemoteAddrIPv6", "", "[2001:db8::1]:5555", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := ClientIP(req); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
