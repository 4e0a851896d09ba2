package transfer

import (
	"context"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

// session is one in-flight transfer bound to an observer. All observer calls
// go through it so they are serialised and stop after the terminal outcome.
type session struct {
	id       string
	uri      *url.URL
	observer Observer
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	finished atomic.Bool
}

func newSession(ctx context.Context, uri *url.URL, observer Observer) *session {
	ctx, cancel := context.WithCancel(ctx)
	return &session{
		id:       uuid.NewString(),
		uri:      uri,
		observer: observer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *session) progress(p Progress) {
	if s.finished.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished.Load() {
		return
	}
	s.observer.OnProgress(s.uri, p)
}

// complete delivers the terminal outcome. Only the first call reaches the
// observer; a result carried by a later call is closed.
func (s *session) complete(o Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished.CompareAndSwap(false, true) {
		if o.Result != nil {
			o.Result.Close()
		}
		return false
	}
	s.cancel()
	s.observer.OnComplete(s.uri, o)
	return true
}

func (s *session) done() bool {
	return s.finished.Load()
}
