package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"admitHub/internal/apperr"
)

func TestFromError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.Validation("bad input", nil), http.StatusBadRequest},
		{"not found", apperr.NotFound("application"), http.StatusNotFound},
		{"conflict", apperr.Conflict("duplicate"), http.StatusConflict},
		{"external unavailable", apperr.New(apperr.KindExternalUnavailable, "down"), http.StatusBadGateway},
		{"external rejected", apperr.New(apperr.KindExternalRejected, "nope"), http.StatusBadGateway},
		{"fatal", apperr.New(apperr.KindFatal, "broken invariant"), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
		{"wrapped apperr", fmt.Errorf("context: %w", apperr.NotFound("run")), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			FromError(c, tt.err)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestFromErrorValidationFields(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	FromError(c, apperr.Validation("invalid postal code", map[string]string{"postal_code": "format"}))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Fields["postal_code"] != "format" {
		t.Errorf("fields = %v, want postal_code detail", resp.Fields)
	}
}
