// Package transfertest provides observers and transports for exercising
// transfer strategies in tests.
package transfertest

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/tanq16/pkgloader/internal/transfer"
)

var ErrNoBody = errors.New("no body registered for uri")

type EventKind string

const (
	Initialize    EventKind = "initialize"
	Start         EventKind = "start"
	Progress      EventKind = "progress"
	Complete      EventKind = "complete"
	ResolveFailed EventKind = "resolve_failed"
)

type Event struct {
	Kind     EventKind
	Source   string
	Sources  []string
	Progress transfer.Progress
	Outcome  transfer.Outcome
	Body     []byte
	Err      error
}

// Recorder is a thread safe observer that keeps every callback in order. Result
// streams are drained into Event.Body and closed.
type Recorder struct {
	mu      sync.Mutex
	events  []Event
	changed chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{})}
}

func (r *Recorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
}

func (r *Recorder) OnInitialize(sources []*url.URL) {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.String()
	}
	r.record(Event{Kind: Initialize, Sources: names})
}

func (r *Recorder) OnStart(source *url.URL) {
	r.record(Event{Kind: Start, Source: source.String()})
}

func (r *Recorder) OnProgress(source *url.URL, p transfer.Progress) {
	r.record(Event{Kind: Progress, Source: source.String(), Progress: p})
}

func (r *Recorder) OnComplete(source *url.URL, o transfer.Outcome) {
	e := Event{Kind: Complete, Source: source.String(), Outcome: o}
	if o.Result != nil {
		e.Body, e.Err = io.ReadAll(o.Result)
		o.Result.Close()
	}
	r.record(e)
}

func (r *Recorder) OnResolveFailed(source *url.URL, err error) {
	r.record(Event{Kind: ResolveFailed, Source: source.String(), Err: err})
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Filter(kind EventKind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// WaitFor blocks until at least n events of kind were recorded and reports
// whether that happened before timeout.
func (r *Recorder) WaitFor(kind EventKind, n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		count := 0
		for _, e := range r.events {
			if e.Kind == kind {
				count++
			}
		}
		changed := r.changed
		r.mu.Unlock()
		if count >= n {
			return true
		}
		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

// StaticTransport serves fixed bodies keyed by URI string. Sizes are announced
// unless HideSize is set.
type StaticTransport struct {
	Bodies   map[string][]byte
	HideSize bool
}

func (t *StaticTransport) Open(_ context.Context, uri *url.URL) (io.ReadCloser, int64, error) {
	body, ok := t.Bodies[uri.String()]
	if !ok {
		return nil, 0, ErrNoBody
	}
	size := int64(len(body))
	if t.HideSize {
		size = -1
	}
	return io.NopCloser(&slowReader{data: body}), size, nil
}

// slowReader hands out at most 4 bytes per Read so small bodies still produce
// several progress events.
type slowReader struct {
	data []byte
}

func (s *slowReader) Read(p []byte) (int, error) {
	if len(s.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p[:min(len(p), 4)], s.data)
	s.data = s.data[n:]
	return n, nil
}

// GatedTransport announces the full length, sends all but the last byte, then
// waits for Release before sending the rest.
type GatedTransport struct {
	Body    []byte
	Release chan struct{}
}

func NewGatedTransport(body []byte) *GatedTransport {
	return &GatedTransport{Body: body, Release: make(chan struct{})}
}

func (t *GatedTransport) Open(ctx context.Context, _ *url.URL) (io.ReadCloser, int64, error) {
	pr, pw := io.Pipe()
	go func() {
		last := len(t.Body) - 1
		if _, err := pw.Write(t.Body[:last]); err != nil {
			return
		}
		select {
		case <-t.Release:
		case <-ctx.Done():
			pw.CloseWithError(ctx.Err())
			return
		}
		pw.Write(t.Body[last:])
		pw.Close()
	}()
	return pr, int64(len(t.Body)), nil
}
