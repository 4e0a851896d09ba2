package gitclone

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/rs/zerolog/log"
)

var Schemes = []string{"git+https", "git+http"}

// Transport reads a package file out of a git repository. Sources look like
// git+https://host/owner/repo.git//path/to/App.xap?ref=branch and are
// shallow cloned into memory.
type Transport struct {
	token string
}

func New(token string) *Transport {
	return &Transport{token: token}
}

type repoFile struct {
	cloneURL string
	host     string
	path     string
	ref      string
}

type cloneProgress struct {
	source string
}

func (p *cloneProgress) Write(data []byte) (int, error) {
	if message := strings.TrimSpace(string(data)); message != "" {
		log.Debug().Str("op", "gitclone/transport").Str("source", p.source).Msg(message)
	}
	return len(data), nil
}

func (t *Transport) Open(ctx context.Context, uri *url.URL) (io.ReadCloser, int64, error) {
	rf, err := parseGitURL(uri)
	if err != nil {
		return nil, 0, err
	}
	opts := &git.CloneOptions{
		URL:          rf.cloneURL,
		Depth:        1,
		SingleBranch: true,
		Progress:     &cloneProgress{source: uri.String()},
		Auth:         getAuthMethod(rf.host, t.token),
	}
	if rf.ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(rf.ref)
	}

	fs := memfs.New()
	if _, err := git.CloneContext(ctx, memory.NewStorage(), fs, opts); err != nil {
		return nil, 0, fmt.Errorf("git clone failed: %w", err)
	}
	info, err := fs.Stat(rf.path)
	if err != nil {
		return nil, 0, fmt.Errorf("%s not found in %s: %w", rf.path, rf.cloneURL, err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("%s in %s is a directory", rf.path, rf.cloneURL)
	}
	f, err := fs.Open(rf.path)
	if err != nil {
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func parseGitURL(uri *url.URL) (repoFile, error) {
	scheme, ok := strings.CutPrefix(strings.ToLower(uri.Scheme), "git+")
	if !ok || (scheme != "https" && scheme != "http") {
		return repoFile{}, fmt.Errorf("unsupported git scheme: %s", uri.Scheme)
	}
	repoPath, filePath, found := strings.Cut(uri.Path, "//")
	if !found || repoPath == "" || filePath == "" {
		return repoFile{}, fmt.Errorf("invalid git URL format, expected repo//path: %s", uri)
	}
	clone := url.URL{Scheme: scheme, Host: uri.Host, Path: repoPath, User: uri.User}
	return repoFile{
		cloneURL: clone.String(),
		host:     uri.Host,
		path:     filePath,
		ref:      uri.Query().Get("ref"),
	}, nil
}
