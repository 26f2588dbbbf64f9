package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/sinhala-tutor-rag/internal/apperr"
	"github.com/bull/sinhala-tutor-rag/internal/assistant"
	"github.com/bull/sinhala-tutor-rag/internal/config"
	"github.com/bull/sinhala-tutor-rag/internal/indexer"
	"github.com/bull/sinhala-tutor-rag/internal/storage"
)

const lesson = "පුනරුදය යුරෝපයේ ඇති වූ සංස්කෘතික පිබිදීමකි. පුනරුදය ඉතාලියෙන් ආරම්භ විය."

func offlineConfig(driver, dsn string) config.Config {
	cfg := config.Default()
	cfg.Database = config.DatabaseConfig{Driver: driver, DSN: dsn}
	cfg.Embedding.Provider = "hashing"
	cfg.Embedding.Dimension = 64
	cfg.LLM.APIKey = ""
	return cfg
}

func newApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func addFile(t *testing.T, a *App, owner uuid.UUID, name, content string) *storage.Resource {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	r := &storage.Resource{
		OwnerID:     owner,
		Filename:    name,
		StoragePath: "file://" + p,
		MIME:        indexer.MIMEFromName(name),
	}
	require.NoError(t, a.Store.CreateResource(context.Background(), r))
	return r
}

func TestOfflineIndexAndAsk(t *testing.T) {
	for _, tc := range []struct{ driver, dsn string }{
		{"memory", ""},
		{"sqlite", filepath.Join(t.TempDir(), "tutor.db")},
	} {
		t.Run(tc.driver, func(t *testing.T) {
			a := newApp(t, offlineConfig(tc.driver, tc.dsn))
			ctx := context.Background()
			require.NoError(t, a.Health(ctx))

			owner := uuid.New()
			r := addFile(t, a, owner, "renaissance.txt", lesson)
			res, err := a.Pipeline.Index(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, indexer.StatusIndexed, res.Status)
			assert.Positive(t, res.ChunksCreated)

			_, err = a.Assistant.Ask(ctx, assistant.Request{OwnerID: owner, Scope: []uuid.UUID{r.ID}, Query: "පුනරුදය යනු කුමක්ද?"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrLLMNotConfigured)
			assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))

			report := a.Assistant.Audit("පුනරුදය ඉතාලියෙන් ආරම්භ විය.", lesson)
			assert.Equal(t, "low", report.Severity)
		})
	}
}

func TestNewRejectsMissingCredentials(t *testing.T) {
	cfg := offlineConfig("memory", "")
	cfg.Embedding.Provider = "openai"
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, ErrLLMNotConfigured)

	cfg = offlineConfig("memory", "")
	cfg.Retrieval.RerankerModel = "rerank-multilingual-v3.0"
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestNewFailureClosesOpenedComponents(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "tutor.db")
	cfg := offlineConfig("sqlite", dsn)
	cfg.Retrieval.RerankerModel = "rerank-multilingual-v3.0"

	a, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Nil(t, a)

	// the store opened before the reranker failed was released
	a = newApp(t, offlineConfig("sqlite", dsn))
	require.NoError(t, a.Health(context.Background()))
}

func TestCloseNilApp(t *testing.T) {
	var a *App
	assert.NoError(t, a.Close())
}

func TestSafetyConfig(t *testing.T) {
	c := SafetyConfig(config.Default().Safety)
	assert.Equal(t, 20, c.HighThreshold)
	assert.Equal(t, 10, c.MediumThreshold)
	assert.Equal(t, 5, c.LowThreshold)
	assert.Equal(t, 50, c.PenaltyDenominator)
	assert.Equal(t, 2, c.FlagWeight)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestImportGitHub(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/o/r/commits", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{{"sha": "rev1"}})
	})
	mux.HandleFunc("/repos/o/r/contents/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{
			{"type": "file", "name": "renaissance.md", "sha": "blob1", "size": len(lesson)},
			{"type": "file", "name": "cover.png", "sha": "blob2"},
		})
	})
	mux.HandleFunc("/repos/o/r/contents/history/renaissance.md", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"type":     "file",
			"name":     "renaissance.md",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte("# පුනරුදය\n\n" + lesson)),
			"sha":      "blob1",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	a := newApp(t, offlineConfig("memory", ""))
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	a.GitHub.BaseURL = base

	owner := uuid.New()
	imp := GitHubImport{Owner: "o", Repo: "r", BasePath: "history"}
	report, err := a.ImportGitHub(context.Background(), imp, owner)
	require.NoError(t, err)
	assert.Equal(t, "rev1", report.Revision)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Indexed)
	assert.Empty(t, report.Failed)

	resources, err := a.Store.ListResources(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "github://o/r/history/renaissance.md", resources[0].StoragePath)
	assert.Equal(t, "text/markdown", resources[0].MIME)

	again, err := a.ImportGitHub(context.Background(), imp, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, again.AlreadyProcessed)
	assert.Zero(t, again.Indexed)
}
