package whisper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewOpenAIEngineRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAIEngine(OpenAIOptions{})
	require.Error(t, err)
}

func TestOpenAIEngineTranscribe(t *testing.T) {
	t.Parallel()

	var gotModel, gotFormat, gotFile string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		gotModel = r.FormValue("model")
		gotFormat = r.FormValue("response_format")
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		gotFile = header.Filename

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task":"transcribe","language":"english","duration":1.5,"text":"  Hello world.  "}`))
	}))
	defer server.Close()

	audio := filepath.Join(t.TempDir(), "upload.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o600))

	engine, err := NewOpenAIEngine(OpenAIOptions{APIKey: "test-key", BaseURL: server.URL + "/v1/"})
	require.NoError(t, err)
	require.Equal(t, DefaultOpenAIModel, engine.ModelID())

	got, err := engine.Transcribe(context.Background(), TranscriptionRequest{AudioPath: audio, Language: LanguageAuto})
	require.NoError(t, err)
	require.Equal(t, Transcription{Text: "Hello world.", Language: "en"}, got)
	require.Equal(t, "whisper-1", gotModel)
	require.Equal(t, "verbose_json", gotFormat)
	require.Equal(t, "upload.wav", gotFile)
}

func TestOpenAIEngineTranscribeSurfacesAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid file format.","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	audio := filepath.Join(t.TempDir(), "upload.mp3")
	require.NoError(t, os.WriteFile(audio, nil, 0o600))

	engine, err := NewOpenAIEngine(OpenAIOptions{APIKey: "k", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	_, err = engine.Transcribe(context.Background(), TranscriptionRequest{AudioPath: audio})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid file format.")
}

func TestNormalizeLanguageName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "en", normalizeLanguageName("English"))
	require.Equal(t, "de", normalizeLanguageName(" german "))
	require.Equal(t, "en", normalizeLanguageName("en"))
	require.Equal(t, "", normalizeLanguageName(""))
}
