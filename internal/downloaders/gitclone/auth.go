package gitclone

import (
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// getAuthMethod returns nil when there is no token, which go-git treats as
// anonymous access.
func getAuthMethod(host, token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	username := "oauth2"
	if strings.Contains(host, "bitbucket.org") {
		username = "x-token-auth"
	}
	return &http.BasicAuth{
		Username: username,
		Password: token,
	}
}
