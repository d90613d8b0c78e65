package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturingLogger() (*logrus.Logger, *bytes.Buffer) {
	logger := logrus.New()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	return logger, &buf
}

func TestObservabilityLogsRequest(t *testing.T) {
	logger, buf := newCapturingLogger()

	handler := Observability(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/campaigns", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "created", rec.Body.String())

	logLine := buf.String()
	assert.Contains(t, logLine, `"method":"POST"`)
	assert.Contains(t, logLine, `"path":"/api/campaigns"`)
	assert.Contains(t, logLine, `"status_code":201`)
	assert.Contains(t, logLine, `"level":"info"`)
}

func TestObservabilityLogsServerErrorsAtErrorLevel(t *testing.T) {
	logger, buf := newCapturingLogger()

	handler := Observability(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"status_code":500`)
}

func TestObservabilityDefaultsToOK(t *testing.T) {
	logger, buf := newCapturingLogger()

	// handler writes a body without calling WriteHeader
	handler := Observability(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("implicit 200"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), `"status_code":200`)
}

func TestResponseWrapperKeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &responseWrapper{ResponseWriter: rec, statusCode: http.StatusOK}

	w.WriteHeader(http.StatusNotFound)
	w.WriteHeader(http.StatusOK)

	assert.Equal(t, http.StatusNotFound, w.statusCode)
}

func TestResponseWrapperWritePassesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	w := &responseWrapper{ResponseWriter: rec, statusCode: http.StatusOK}

	n, err := w.Write([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "payload", rec.Body.String())
}
