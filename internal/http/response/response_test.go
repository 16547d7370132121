package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/listenupapp/bookstream/internal/errors"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var result Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	return result
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, string, *slog.Logger)
		status int
	}{
		{"bad request", BadRequest, http.StatusBadRequest},
		{"too many requests", TooManyRequests, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, "went wrong", nil)

			assert.Equal(t, tt.status, w.Code)
			result := decode(t, w)
			assert.False(t, result.Success)
			assert.Equal(t, "went wrong", result.Error)
		})
	}
}

func TestTooManyRequests_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	TooManyRequests(w, "slow down", nil)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", domainerrors.NotFound("Book not found"), http.StatusNotFound, "Book not found"},
		{"validation", domainerrors.Validation("Invalid book data"), http.StatusBadRequest, "Invalid book data"},
		{"unavailable", domainerrors.Unavailable("pending request queue is full"), http.StatusServiceUnavailable, "pending request queue is full"},
		{"transport", domainerrors.Transport(errors.New("refused"), "stream connection lost"), http.StatusServiceUnavailable, "stream connection lost"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleError(w, tt.err, slog.New(slog.DiscardHandler))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.message, decode(t, w).Error)
		})
	}
}

func TestEnvelope_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(Envelope{Success: false, Error: "something failed"})
	require.NoError(t, err)

	assert.Contains(t, string(data), `"error":"something failed"`)
	assert.Contains(t, string(data), `"success":false`)
}
