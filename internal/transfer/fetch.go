package transfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/rs/zerolog/log"
)

const (
	chunkSize = 32 * 1024
	// upper bound on what a Content-Length alone can make us preallocate
	maxPrealloc = 64 * 1024 * 1024
)

// fetch pulls uri into memory, calling onProgress after every chunk. When the
// transport could not announce a size a last progress with the final count as
// total is emitted so consumers always see the transfer reach 100%.
func fetch(ctx context.Context, transports *Registry, uri *url.URL, onProgress func(Progress)) (io.ReadCloser, error) {
	body, size, err := transports.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	total := max(size, 0)
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(min(total, maxPrealloc)))
	}
	chunk := make([]byte, chunkSize)
	var received int64
	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received += int64(n)
			if total > 0 && received > total {
				log.Debug().Str("op", "transfer/fetch").Msgf("%s sent more than the announced %d bytes", uri, total)
				total = received
			}
			onProgress(Progress{BytesReceived: received, TotalBytes: total})
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("error reading %s: %w", uri, readErr)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if total == 0 {
		onProgress(Progress{BytesReceived: received, TotalBytes: received})
	}
	log.Debug().Str("op", "transfer/fetch").Msgf("fetched %d bytes from %s", received, uri)
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}
