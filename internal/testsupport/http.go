package testsupport

import (
	"net/http"
	"testing"

	"github.com/goccy/go-json"
)

// WriteJSON encodes v as a JSON response body in a test HTTP handler.
func WriteJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}
