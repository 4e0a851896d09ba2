package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func urls(t *testing.T, raw ...string) []*url.URL {
	t.Helper()
	out := make([]*url.URL, len(raw))
	for i, r := range raw {
		u, err := url.Parse(r)
		require.NoError(t, err)
		out[i] = u
	}
	return out
}

func strs(sources []*url.URL) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.String()
	}
	return out
}

func TestSourcesFromParams(t *testing.T) {
	got, err := SourcesFromParams(map[string]string{
		SourceListKey: "Main.xap;;http://cdn.test/Lib.xap; streaming:/57870/LoaderTestApp/ ;",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Main.xap", "http://cdn.test/Lib.xap", "streaming:/57870/LoaderTestApp/"}, strs(got))

	got, err = SourcesFromParams(map[string]string{"Other": "x"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTemplateFromParams(t *testing.T) {
	assert.Equal(t, "Default", TemplateFromParams(map[string]string{TemplateKey: "Default"}))
	assert.Empty(t, TemplateFromParams(nil))
}

func TestFixRelativeLinks(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		in   []string
		want []string
	}{
		{
			name: "page in directory",
			doc:  "http://host/app/index.html?x=1",
			in:   []string{"Main.xap", "libs/Lib.xap", "http://cdn.test/Other.xap"},
			want: []string{"http://host/app/Main.xap", "http://host/app/libs/Lib.xap", "http://cdn.test/Other.xap"},
		},
		{
			name: "directory url",
			doc:  "http://host/app/",
			in:   []string{"Main.xap"},
			want: []string{"http://host/app/Main.xap"},
		},
		{
			name: "bare host",
			doc:  "http://host",
			in:   []string{"Main.xap"},
			want: []string{"http://host/Main.xap"},
		},
		{
			name: "streaming ids stay as they are",
			doc:  "http://host/app/index.html",
			in:   []string{"streaming:/57870/LoaderTestApp/"},
			want: []string{"streaming:/57870/LoaderTestApp/"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FixRelativeLinks(tt.doc, urls(t, tt.in...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, strs(got))
		})
	}

	_, err := FixRelativeLinks("relative/page.html", nil)
	assert.Error(t, err)
}

func TestResolveSources(t *testing.T) {
	cfg := Default()
	_, err := cfg.ResolveSources()
	assert.ErrorIs(t, err, ErrNoSources)

	cfg.Params[SourceListKey] = "Main.xap"
	_, err = cfg.ResolveSources()
	assert.ErrorContains(t, err, "needs a base url")

	cfg.BaseURL = "http://host/app/page.html"
	got, err := cfg.ResolveSources()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://host/app/Main.xap"}, strs(got))

	cfg.Sources = []string{"http://cdn.test/Explicit.xap"}
	got, err = cfg.ResolveSources()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://cdn.test/Explicit.xap"}, strs(got))
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.RateKBs = -1
	cfg.NamingService = "not a url"
	cfg.PackageExt = "xap"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate must not be negative")
	assert.Contains(t, err.Error(), "naming service")
	assert.Contains(t, err.Error(), "must start with a dot")
	assert.NotContains(t, err.Error(), ErrNoSources.Error())

	cfg = Default()
	cfg.RateKBs = 5
	assert.NoError(t, cfg.Validate(), "settings without sources are valid")
	_, err = cfg.ResolveSources()
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestEffectiveTemplate(t *testing.T) {
	cfg := Default()
	cfg.Params[TemplateKey] = "FromParams"
	assert.Equal(t, "FromParams", cfg.EffectiveTemplate())
	cfg.Template = "Explicit"
	assert.Equal(t, "Explicit", cfg.EffectiveTemplate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sources:
  - http://host/Main.xap
  - streaming:/57870/LoaderTestApp/
params:
  Template: Default
rate_kbs: 5
tick_interval: 250ms
http:
  timeout: 30s
  headers:
    X-Env: test
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://host/Main.xap", "streaming:/57870/LoaderTestApp/"}, cfg.Sources)
	assert.Equal(t, 5.0, cfg.RateKBs)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "test", cfg.HTTP.Headers["X-Env"])
	assert.Equal(t, DefaultPackageExt, cfg.PackageExt)
	assert.Equal(t, "Default", cfg.EffectiveTemplate())
	assert.NoError(t, cfg.Validate())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
