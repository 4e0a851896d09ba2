package loader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/pkgloader/internal/config"
	"github.com/tanq16/pkgloader/internal/output"
	"github.com/tanq16/pkgloader/internal/transfer"
	"github.com/tanq16/pkgloader/internal/utils"
)

const displayNameLimit = 50

// Activator receives the package chosen once every source has settled.
type Activator interface {
	Activate(ctx context.Context, source *url.URL, initParams map[string]string) error
}

// ConsoleActivator prints the handoff instead of starting anything.
type ConsoleActivator struct{}

func (ConsoleActivator) Activate(_ context.Context, source *url.URL, initParams map[string]string) error {
	output.PrintSuccess(fmt.Sprintf("Activating %s", source))
	if tmpl := initParams[config.TemplateKey]; tmpl != "" {
		output.PrintInfo(fmt.Sprintf("  %s=%s", config.TemplateKey, tmpl))
	}
	return nil
}

type Options struct {
	PackageExt string
	Template   string
}

// Summary describes how a run ended.
type Summary struct {
	Delivered      int
	Failed         int
	Cancelled      int
	DeliveredBytes int64
	Activated      *url.URL
	ActivateErr    error
}

type entry struct {
	id        int
	source    *url.URL
	delivered bool
}

// Loader shows transfers on an output.Manager and hands the first delivered
// package to its Activator when all sources have settled.
type Loader struct {
	ctx       context.Context
	display   *output.Manager
	activator Activator
	opts      Options

	mu       sync.Mutex
	expected int
	settled  int
	started  []*entry
	bySource map[string]*entry
	summary  Summary
	done     chan struct{}
	doneOnce sync.Once
}

func New(ctx context.Context, display *output.Manager, activator Activator, opts Options) *Loader {
	if activator == nil {
		activator = ConsoleActivator{}
	}
	if opts.PackageExt == "" {
		opts.PackageExt = config.DefaultPackageExt
	}
	return &Loader{
		ctx:       ctx,
		display:   display,
		activator: activator,
		opts:      opts,
		bySource:  make(map[string]*entry),
		done:      make(chan struct{}),
	}
}

// Done is closed after the activation handoff, or right away for an empty
// source list.
func (l *Loader) Done() <-chan struct{} {
	return l.done
}

func (l *Loader) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summary
}

func (l *Loader) OnInitialize(sources []*url.URL) {
	l.mu.Lock()
	l.expected = len(sources)
	empty := l.expected == 0
	l.mu.Unlock()
	log.Debug().Str("op", "loader/loader").Msgf("expecting %d package sources", len(sources))
	if empty {
		l.finish()
	}
}

func (l *Loader) OnStart(source *url.URL) {
	name := utils.ShortenName(source.String(), displayNameLimit)
	id := l.display.Register(name)
	l.display.SetMessage(id, fmt.Sprintf("Loading %s", name))

	l.mu.Lock()
	e := &entry{id: id, source: source}
	l.started = append(l.started, e)
	l.bySource[source.String()] = e
	l.mu.Unlock()
}

func (l *Loader) OnProgress(source *url.URL, p transfer.Progress) {
	e := l.lookup(source)
	if e == nil {
		return
	}
	text := "Loading"
	if _, ok := p.Percent(); ok {
		text = "Loading " + utils.FormatPercent(p.Fraction())
	}
	l.display.SetProgress(e.id, p.BytesReceived, p.TotalBytes, text)
}

func (l *Loader) OnComplete(source *url.URL, o transfer.Outcome) {
	e := l.lookup(source)
	var n int64
	if o.Result != nil {
		var err error
		n, err = io.Copy(io.Discard, o.Result)
		o.Result.Close()
		if err != nil && o.Err == nil {
			o.Err = fmt.Errorf("reading %s: %w", source, err)
		}
	}

	l.mu.Lock()
	switch {
	case o.Cancelled:
		l.summary.Cancelled++
	case o.Err != nil:
		l.summary.Failed++
	default:
		l.summary.Delivered++
		l.summary.DeliveredBytes += n
		if e != nil {
			e.delivered = true
		}
	}
	l.mu.Unlock()

	if e != nil {
		switch {
		case o.Cancelled:
			l.display.Warn(e.id, fmt.Sprintf("Cancelled %s", utils.ShortenName(source.String(), displayNameLimit)))
		case o.Err != nil:
			l.display.ReportError(e.id, o.Err)
		default:
			l.display.Complete(e.id, fmt.Sprintf("Loaded %s (%s)", utils.ShortenName(source.String(), displayNameLimit), utils.FormatBytes(n)))
		}
	}
	l.settle()
}

func (l *Loader) OnResolveFailed(source *url.URL, err error) {
	id := l.display.Register(utils.ShortenName(source.String(), displayNameLimit))
	l.display.ReportError(id, err)
	l.mu.Lock()
	l.summary.Failed++
	l.mu.Unlock()
	l.settle()
}

func (l *Loader) lookup(source *url.URL) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bySource[source.String()]
}

func (l *Loader) settle() {
	l.mu.Lock()
	l.settled++
	ready := l.expected > 0 && l.settled >= l.expected
	l.mu.Unlock()
	if ready {
		l.finish()
	}
}

func (l *Loader) finish() {
	l.doneOnce.Do(func() {
		defer close(l.done)
		pkg := l.choosePackage()
		if pkg == nil {
			log.Warn().Str("op", "loader/loader").Msgf("no delivered %s package to activate", l.opts.PackageExt)
			return
		}
		params := map[string]string{}
		if l.opts.Template != "" {
			params[config.TemplateKey] = l.opts.Template
		}
		err := l.activator.Activate(l.ctx, pkg, params)
		if err != nil {
			log.Error().Str("op", "loader/loader").Err(err).Msgf("activating %s", pkg)
		}
		l.mu.Lock()
		l.summary.Activated = pkg
		l.summary.ActivateErr = err
		l.mu.Unlock()
	})
}

func (l *Loader) choosePackage() *url.URL {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.started {
		if e.delivered && strings.HasSuffix(strings.ToLower(e.source.Path), strings.ToLower(l.opts.PackageExt)) {
			return e.source
		}
	}
	return nil
}

// Err is nil when every source was delivered and activation, if attempted,
// succeeded.
func (s Summary) Err() error {
	var result *multierror.Error
	if s.Failed > 0 {
		result = multierror.Append(result, fmt.Errorf("%d package sources failed", s.Failed))
	}
	if s.Cancelled > 0 {
		result = multierror.Append(result, fmt.Errorf("%d transfers cancelled", s.Cancelled))
	}
	if s.ActivateErr != nil {
		result = multierror.Append(result, s.ActivateErr)
	}
	return result.ErrorOrNil()
}
