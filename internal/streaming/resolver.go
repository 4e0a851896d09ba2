package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-http-utils/headers"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/pkgloader/internal/utils"
)

const DefaultServiceRoot = "http://silverlight.services.live.com/"

// naming service replies are small scripts
const maxResponseSize = 1 << 20

var (
	ErrMalformedIdentifier = errors.New("malformed streaming identifier")
	ErrNoMediaURL          = errors.New("no media url in naming service response")
)

var (
	identifierRegex = regexp.MustCompile(`^/([^/]+)/([^/]+)/(.*)$`)
	mediaURLRegex   = regexp.MustCompile(`(https?:[^"\s\\]+)\\?"`)
	streamDataRegex = regexp.MustCompile(`\{[^{}]*\}`)
)

// Identifier addresses a file hosted on the naming service. FileName is empty
// when the identifier names a whole application package.
type Identifier struct {
	AccountID string
	AppName   string
	FileName  string
}

func (id Identifier) String() string {
	return fmt.Sprintf("/%s/%s/%s", id.AccountID, id.AppName, id.FileName)
}

// StreamData is the JSON fragment embedded in replies for application
// packages, e.g. {"version": "2.0", "name": "LoadTest", "source": "LoadTest.xap"}.
type StreamData struct {
	Version string `json:"version"`
	Name    string `json:"name"`
	Width   string `json:"width"`
	Height  string `json:"height"`
	Source  string `json:"source"`
}

// ParseIdentifier accepts either a bare /account/app/file path or the same
// path behind the streaming: scheme.
func ParseIdentifier(raw string) (Identifier, error) {
	path := raw
	if scheme, rest, ok := strings.Cut(raw, ":"); ok && strings.EqualFold(scheme, "streaming") {
		path = rest
		if strings.HasPrefix(path, "//") {
			path = path[1:]
		}
	}
	m := identifierRegex.FindStringSubmatch(path)
	if m == nil {
		return Identifier{}, fmt.Errorf("%w: %q", ErrMalformedIdentifier, raw)
	}
	return Identifier{AccountID: m[1], AppName: m[2], FileName: m[3]}, nil
}

type Resolver struct {
	client utils.HTTPDoer
	root   string
	now    func() time.Time
}

func NewResolver(client utils.HTTPDoer, serviceRoot string) *Resolver {
	if serviceRoot == "" {
		serviceRoot = DefaultServiceRoot
	}
	if !strings.HasSuffix(serviceRoot, "/") {
		serviceRoot += "/"
	}
	return &Resolver{client: client, root: serviceRoot, now: time.Now}
}

// RequestURL builds the naming service query for id. The u parameter is a
// millisecond timestamp that keeps caches out of the way.
func (r *Resolver) RequestURL(id Identifier) string {
	ms := strconv.FormatInt(r.now().UnixMilli(), 10)
	if id.FileName != "" {
		return r.root + fmt.Sprintf("invoke/local/starth.js?id=bl2&u=%s&p0=/%s/%s/%s", ms, id.AccountID, id.AppName, id.FileName)
	}
	return r.root + fmt.Sprintf("invoke/%s/%s/starth.js?id=bl2&u=%s", id.AccountID, id.AppName, ms)
}

// Resolve validates identifier and then looks it up in the background. done
// is called exactly once with either the media URL or the lookup error. A
// malformed identifier is returned directly and done is never called.
func (r *Resolver) Resolve(ctx context.Context, identifier string, done func(*url.URL, error)) error {
	id, err := ParseIdentifier(identifier)
	if err != nil {
		return err
	}
	go func() {
		done(r.lookup(ctx, id))
	}()
	return nil
}

// Lookup is the blocking form of Resolve.
func (r *Resolver) Lookup(ctx context.Context, identifier string) (*url.URL, error) {
	id, err := ParseIdentifier(identifier)
	if err != nil {
		return nil, err
	}
	return r.lookup(ctx, id)
}

func (r *Resolver) lookup(ctx context.Context, id Identifier) (*url.URL, error) {
	target := r.RequestURL(id)
	log.Debug().Str("op", "streaming/resolver").Msgf("querying naming service for %s: %s", id, target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create naming service request: %w", err)
	}
	req.Header.Set(headers.Accept, "*/*")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query naming service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("naming service returned status %d for %s", resp.StatusCode, id)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read naming service response: %w", err)
	}

	media, err := extractMediaURL(string(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	resolved, err := url.Parse(media)
	if err != nil {
		return nil, fmt.Errorf("naming service returned invalid url %q: %w", media, err)
	}
	log.Debug().Str("op", "streaming/resolver").Msgf("resolved %s to %s", id, resolved)
	return resolved, nil
}

// extractMediaURL takes the first quoted http(s) URL in the reply and, when
// the reply carries a stream data object, appends its source file. Braced
// fragments that are not stream data (script bodies) are skipped.
func extractMediaURL(body string) (string, error) {
	m := mediaURLRegex.FindStringSubmatch(body)
	if m == nil {
		return "", ErrNoMediaURL
	}
	media := m[1]
	for _, candidate := range streamDataRegex.FindAllString(body, -1) {
		var data StreamData
		if err := json.Unmarshal([]byte(candidate), &data); err != nil {
			continue
		}
		if data.Source != "" {
			return media + "/" + data.Source, nil
		}
	}
	return media, nil
}
