package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/{channel}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	h := requestLogger(logger, mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/scale", nil))
	require.Contains(t, buf.String(), `"level":"info"`)
	require.Contains(t, buf.String(), `"path":"GET /api/{channel}"`)
	require.Contains(t, buf.String(), `"status":200`)
	require.Contains(t, buf.String(), `"bytes":2`)

	buf.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Contains(t, buf.String(), `"level":"warn"`)
	require.Contains(t, buf.String(), `"path":"/nowhere"`)
	require.Contains(t, buf.String(), `"status":404`)
}
