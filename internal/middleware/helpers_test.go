package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/rovify/rovify/internal/model"
)

type stubSessions struct {
	snap model.Session
}

func (s *stubSessions) Snapshot() model.Session { return s.snap }

var _ SessionReader = (*stubSessions)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func decodeError(t *testing.T, body io.Reader) ErrorResponseBody {
	t.Helper()
	var got ErrorResponseBody
	if err := json.NewDecoder(body).Decode(&got); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return got
}
