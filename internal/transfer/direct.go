package transfer

import (
	"context"
	"net/url"
	"sync"

	"github.com/rs/zerolog/log"
)

// Downloader fetches one source at a time at full speed and forwards every
// native progress event to the observer.
type Downloader struct {
	transports *Registry

	mu      sync.Mutex
	current *session
}

func NewDownloader(transports *Registry) *Downloader {
	return &Downloader{transports: transports}
}

// Download starts fetching uri and returns immediately. Any transfer already
// running on d is aborted first.
func (d *Downloader) Download(ctx context.Context, uri *url.URL, observer Observer) {
	d.Abort()
	s := newSession(ctx, uri, observer)

	// hold the session while OnStart runs so an Abort racing with us is
	// reported after it
	s.mu.Lock()
	d.mu.Lock()
	d.current = s
	d.mu.Unlock()
	observer.OnStart(uri)
	s.mu.Unlock()

	log.Debug().Str("op", "transfer/direct").Str("session", s.id).Msgf("starting %s", uri)
	go d.run(s)
}

func (d *Downloader) run(s *session) {
	result, err := fetch(s.ctx, d.transports, s.uri, s.progress)
	outcome := Outcome{Result: result, Err: err}
	if err != nil {
		if s.ctx.Err() != nil {
			outcome = cancelledOutcome()
		} else {
			log.Debug().Str("op", "transfer/direct").Str("session", s.id).Msgf("transfer failed: %v", err)
		}
	}
	s.complete(outcome)

	d.mu.Lock()
	if d.current == s {
		d.current = nil
	}
	d.mu.Unlock()
}

// Abort cancels the running transfer, reporting a cancelled outcome for it
// before returning. It does nothing when no transfer is running.
func (d *Downloader) Abort() {
	d.mu.Lock()
	s := d.current
	d.current = nil
	d.mu.Unlock()
	if s == nil || s.done() {
		return
	}
	if s.complete(cancelledOutcome()) {
		log.Debug().Str("op", "transfer/direct").Str("session", s.id).Msgf("aborted %s", s.uri)
	}
}
