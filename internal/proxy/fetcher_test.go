package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExtractCandidates(t *testing.T) {
	blob := `
# proxy list
203.0.113.1:8080
some noise 203.0.113.2:3128 trailing
proxy.example.com:9000
203.0.113.3:8080:user:pass
// skipped comment
nonsense line
`
	got := ExtractCandidates(blob)
	assert.Equal(t, []string{
		"203.0.113.1:8080",
		"203.0.113.2:3128",
		"proxy.example.com:9000",
		"203.0.113.3:8080:user:pass",
	}, got)
}

func TestFetcherFetchAll(t *testing.T) {
	t.Run("aggregates and dedupes across sources", func(t *testing.T) {
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("203.0.113.1:8080\n203.0.113.2:8080\n"))
		}))
		defer good.Close()
		overlap := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("203.0.113.2:8080\n203.0.113.3:8080\n"))
		}))
		defer overlap.Close()

		f := NewFetcher(zaptest.NewLogger(t), []string{good.URL, overlap.URL}, 100)
		eps, statuses, err := f.FetchAll(context.Background())
		require.NoError(t, err)

		assert.Len(t, eps, 3, "duplicates collapse across sources")
		require.Len(t, statuses, 2)
		assert.True(t, statuses[0].OK)
		assert.Equal(t, 2, statuses[0].Count)
		assert.Equal(t, 1, statuses[1].Count, "overlapping entry only counted once")
	})

	t.Run("tolerates a failing source", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer bad.Close()
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("203.0.113.1:8080\n"))
		}))
		defer good.Close()

		f := NewFetcher(zaptest.NewLogger(t), []string{bad.URL, good.URL}, 100)
		eps, statuses, err := f.FetchAll(context.Background())
		require.NoError(t, err)

		assert.Len(t, eps, 1)
		assert.False(t, statuses[0].OK)
		assert.NotEmpty(t, statuses[0].Error)
		assert.True(t, statuses[1].OK)
	})

	t.Run("errors when every source is blank", func(t *testing.T) {
		empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# nothing here\n"))
		}))
		defer empty.Close()

		f := NewFetcher(zaptest.NewLogger(t), []string{empty.URL}, 100)
		_, _, err := f.FetchAll(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmptyProxyList)
	})
}

func TestSaveToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "proxies.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	eps := []*Endpoint{
		Parse("203.0.113.1:8080"),
		Parse("203.0.113.2:8080:user:pass"),
	}
	require.NoError(t, SaveToFile(path, eps))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "203.0.113.1:8080\n")
	assert.Contains(t, content, "203.0.113.2:8080:user:pass\n")

	// The saved file round-trips through the file loader.
	reloaded := ParseLines(content)
	assert.Len(t, reloaded, 2)
}
