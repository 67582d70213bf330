package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stemrun/stemcore/internal/gateway"
)

func TestHTTPBackendStreamsTextThenUsageThenCompleted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		flusher := w.(http.Flusher)
		for _, frame := range []string{
			`data: {"kind":"text_delta","text":"hello"}` + "\n",
			`data: {"kind":"usage","usage_input_tokens":10,"usage_output_tokens":3}` + "\n",
			"data: [DONE]\n",
		} {
			w.Write([]byte(frame))
			flusher.Flush()
		}
	}))
	defer server.Close()

	backend := gateway.NewHTTPBackend("test", server.URL, server.Client())

	events, err := backend.Stream(context.Background(), gateway.Request{})
	require.NoError(t, err)

	var kinds []gateway.EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}

	require.Equal(t, []gateway.EventKind{
		gateway.EventStarted,
		gateway.EventTextDelta,
		gateway.EventUsage,
		gateway.EventCompleted,
	}, kinds)
}

func TestHTTPBackendPropagatesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	backend := gateway.NewHTTPBackend("test", server.URL, server.Client())

	_, err := backend.Stream(context.Background(), gateway.Request{})
	require.Error(t, err)
}
