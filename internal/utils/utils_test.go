package utils

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-http-utils/headers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParamArgs(t *testing.T) {
	got := ParseParamArgs([]string{
		"LoaderSourceList=a.xap;b.xap",
		"Template = Default ",
		"broken",
		"=novalue",
		"Template=Override",
	})
	assert.Equal(t, map[string]string{
		"LoaderSourceList": "a.xap;b.xap",
		"Template":         "Override",
	}, got)
}

func TestParseHeaderArgs(t *testing.T) {
	got := ParseHeaderArgs([]string{"X-Trace: abc", "Accept:text/plain", "nope"})
	assert.Equal(t, map[string]string{"X-Trace": "abc", "Accept": "text/plain"}, got)
}

func TestShortenName(t *testing.T) {
	assert.Equal(t, "short.xap", ShortenName("short.xap", 50))
	long := "http://example.com/a/very/long/path/that/keeps/going/and/going/App.xap"
	got := ShortenName(long, 20)
	assert.Equal(t, "..ng/and/going/App.xap", got)
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "45.3%", FormatPercent(0.4532))
	assert.Equal(t, "100.0%", FormatPercent(1))
}

func TestLoaderHTTPClientSetsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := NewLoaderHTTPClient(HTTPClientConfig{
		Headers: map[string]string{"X-Env": "test"},
		Token:   "secret",
	})
	client.SetHeader("X-Extra", "1")
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, ToolUserAgent, got.Get(headers.UserAgent))
	assert.Equal(t, "test", got.Get("X-Env"))
	assert.Equal(t, "1", got.Get("X-Extra"))
	assert.Equal(t, "Bearer secret", got.Get(headers.Authorization))
}

func TestLoaderHTTPClientRandomUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get(headers.UserAgent)
	}))
	defer srv.Close()

	client := NewLoaderHTTPClient(HTTPClientConfig{UserAgent: RandomUserAgent})
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, userAgents, ua)
}

func TestInitLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), LogFile)
	closer, err := InitLogger(true, path)
	require.NoError(t, err)
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		SetLogOutput(os.Stderr)
	})

	log.Debug().Str("op", "utils/logger").Msg("probe")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"debug"`)
	assert.Contains(t, string(data), `"message":"probe"`)
}
