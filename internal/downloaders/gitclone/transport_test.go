package gitclone

import (
	"net/url"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGitURL(t *testing.T) {
	tests := []struct {
		raw     string
		want    repoFile
		wantErr bool
	}{
		{
			raw: "git+https://github.com/acme/apps.git//dist/Main.xap",
			want: repoFile{
				cloneURL: "https://github.com/acme/apps.git",
				host:     "github.com",
				path:     "dist/Main.xap",
			},
		},
		{
			raw: "git+http://git.local/acme/apps.git//Main.xap?ref=release",
			want: repoFile{
				cloneURL: "http://git.local/acme/apps.git",
				host:     "git.local",
				path:     "Main.xap",
				ref:      "release",
			},
		},
		{raw: "git+https://github.com/acme/apps.git", wantErr: true},
		{raw: "git+ssh://github.com/acme/apps.git//Main.xap", wantErr: true},
		{raw: "https://github.com/acme/apps.git//Main.xap", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)
			got, err := parseGitURL(u)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetAuthMethod(t *testing.T) {
	assert.Nil(t, getAuthMethod("github.com", ""))

	auth, ok := getAuthMethod("github.com", "tok").(*http.BasicAuth)
	require.True(t, ok)
	assert.Equal(t, "oauth2", auth.Username)
	assert.Equal(t, "tok", auth.Password)

	auth, ok = getAuthMethod("bitbucket.org", "tok").(*http.BasicAuth)
	require.True(t, ok)
	assert.Equal(t, "x-token-auth", auth.Username)
}
