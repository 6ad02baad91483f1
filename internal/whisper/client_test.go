// Package whisper_test tests the transcription client.
package whisper_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/whisper"
)

func TestTranscribe_Success(t *testing.T) {
	t.Parallel()

	var gotModel, gotDevice, gotLanguage string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(32<<20))

		gotModel = r.FormValue("model")
		gotDevice = r.FormValue("device")
		gotLanguage = r.FormValue("language")

		_, _, fileErr := r.FormFile("file")
		require.NoError(t, fileErr)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "  the quick brown fox  "}`))
	}))
	t.Cleanup(server.Close)

	client := whisper.NewClient(server.URL, "large-v3", "cpu", 5*time.Second)

	transcript, err := client.Transcribe(context.Background(), []byte("wav bytes"), "en")
	require.NoError(t, err)

	assert.Equal(t, "the quick brown fox", transcript)
	assert.Equal(t, "large-v3", gotModel)
	assert.Equal(t, "cpu", gotDevice)
	assert.Equal(t, "en", gotLanguage)
}

func TestTranscribe_EmptyResult(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "   "}`))
	}))
	t.Cleanup(server.Close)

	client := whisper.NewClient(server.URL, "large-v3", "cpu", 5*time.Second)

	_, err := client.Transcribe(context.Background(), []byte("wav bytes"), "en")
	require.ErrorIs(t, err, core.ErrTranscriptEmpty)
}

func TestTranscribe_ServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	client := whisper.NewClient(server.URL, "large-v3", "cpu", 5*time.Second)

	_, err := client.Transcribe(context.Background(), []byte("wav bytes"), "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}
