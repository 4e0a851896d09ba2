package pkghttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-http-utils/headers"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/pkgloader/internal/utils"
)

var (
	ErrNotFound     = errors.New("package not found")
	ErrForbidden    = errors.New("access forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrServerError  = errors.New("server error")
)

var Schemes = []string{"http", "https"}

// Transport fetches packages with a plain GET.
type Transport struct {
	client utils.HTTPDoer
}

func New(client utils.HTTPDoer) *Transport {
	return &Transport{client: client}
}

func (t *Transport) Open(ctx context.Context, uri *url.URL) (io.ReadCloser, int64, error) {
	if uri.Scheme != "http" && uri.Scheme != "https" {
		return nil, 0, fmt.Errorf("unsupported scheme: %s", uri.Scheme)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri.String(), http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("error creating GET request: %w", err)
	}
	req.Header.Set(headers.Accept, "*/*")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("error executing GET request: %w", err)
	}
	if err := checkStatusCode(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("GET %s: %w", uri, err)
	}
	log.Debug().Str("op", "http/transport").Msgf("%s answered %d with length %d", uri, resp.StatusCode, resp.ContentLength)
	return resp.Body, resp.ContentLength, nil
}

func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return fmt.Errorf("%w: status %d", ErrServerError, code)
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}
