package scheduler

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/pkgloader/internal/transfer"
)

// Resolver turns streaming identifiers into URLs a transport can fetch.
type Resolver interface {
	Resolve(ctx context.Context, identifier string, done func(*url.URL, error)) error
}

type Options struct {
	// TickInterval is how often throttled transfers advance.
	TickInterval time.Duration
}

type strategy interface {
	Abort()
}

// startFunc begins one transfer on a fresh strategy instance.
type startFunc func(ctx context.Context, b *batch, uri *url.URL, observer transfer.Observer)

// batch is everything one Init call started. It is released once each of
// its sources has settled.
type batch struct {
	cancel     context.CancelFunc
	pending    int
	strategies []strategy
}

// batchObserver forwards to the caller's observer and settles the batch on
// every terminal outcome.
type batchObserver struct {
	transfer.Observer
	m *Manager
	b *batch
}

func (o batchObserver) OnComplete(source *url.URL, outcome transfer.Outcome) {
	o.Observer.OnComplete(source, outcome)
	o.m.settle(o.b)
}

// Manager fans a source list out to transfer strategies. Every source gets
// its own strategy instance so transfers run concurrently.
type Manager struct {
	transports *transfer.Registry
	resolver   Resolver
	opts       Options

	mu      sync.Mutex
	batches map[*batch]struct{}
}

func NewManager(transports *transfer.Registry, resolver Resolver, opts Options) *Manager {
	if opts.TickInterval <= 0 {
		opts.TickInterval = transfer.DefaultTickInterval
	}
	return &Manager{
		transports: transports,
		resolver:   resolver,
		opts:       opts,
		batches:    make(map[*batch]struct{}),
	}
}

// Init announces sources to observer and starts acquiring every one of them.
// A positive maxRateKBs selects the throttled simulation for the whole batch.
// It returns once all transfers and resolutions are under way; results arrive
// through observer. Nil entries are dropped.
func (m *Manager) Init(ctx context.Context, observer transfer.Observer, sources []*url.URL, maxRateKBs float64) {
	valid := make([]*url.URL, 0, len(sources))
	for _, src := range sources {
		if src == nil {
			log.Warn().Str("op", "scheduler/manager").Msg("skipping empty package source")
			continue
		}
		valid = append(valid, src)
	}

	ctx, cancel := context.WithCancel(ctx)
	b := &batch{cancel: cancel, pending: len(valid)}
	if b.pending == 0 {
		cancel()
	} else {
		m.mu.Lock()
		m.batches[b] = struct{}{}
		m.mu.Unlock()
	}
	observer.OnInitialize(valid)

	start := m.strategyFor(maxRateKBs)
	tracked := batchObserver{Observer: observer, m: m, b: b}
	for _, uri := range valid {
		src := transfer.Classify(uri)
		log.Debug().Str("op", "scheduler/manager").Msgf("dispatching %s source %s", src.Kind, uri)
		if src.Kind == transfer.KindStreaming {
			m.resolve(ctx, b, observer, tracked, uri, start)
			continue
		}
		start(ctx, b, uri, tracked)
	}
}

// Abort cancels every transfer started by m that has not settled yet.
// Running transfers report a cancelled outcome; pending resolutions are
// reported as failures.
func (m *Manager) Abort() {
	m.mu.Lock()
	batches := m.batches
	m.batches = make(map[*batch]struct{})
	var active []strategy
	for b := range batches {
		active = append(active, b.strategies...)
	}
	m.mu.Unlock()

	for b := range batches {
		b.cancel()
	}
	for _, s := range active {
		s.Abort()
	}
	log.Debug().Str("op", "scheduler/manager").Msgf("aborted %d transfers", len(active))
}

func (m *Manager) strategyFor(maxRateKBs float64) startFunc {
	if maxRateKBs > 0 {
		log.Debug().Str("op", "scheduler/manager").Msgf("simulating transfers at %.2f KB per %s", maxRateKBs, m.opts.TickInterval)
		return func(ctx context.Context, b *batch, uri *url.URL, observer transfer.Observer) {
			sim := transfer.NewSimulator(m.transports, m.opts.TickInterval)
			m.track(b, sim)
			sim.Download(ctx, uri, observer, maxRateKBs)
		}
	}
	return func(ctx context.Context, b *batch, uri *url.URL, observer transfer.Observer) {
		d := transfer.NewDownloader(m.transports)
		m.track(b, d)
		d.Download(ctx, uri, observer)
	}
}

func (m *Manager) track(b *batch, s strategy) {
	m.mu.Lock()
	b.strategies = append(b.strategies, s)
	m.mu.Unlock()
}

// settle counts one source of b as finished and releases b with the last one.
func (m *Manager) settle(b *batch) {
	m.mu.Lock()
	b.pending--
	last := b.pending == 0
	if last {
		delete(m.batches, b)
		b.strategies = nil
	}
	m.mu.Unlock()
	if last {
		b.cancel()
		log.Debug().Str("op", "scheduler/manager").Msg("all sources of batch settled")
	}
}

func (m *Manager) resolve(ctx context.Context, b *batch, observer, tracked transfer.Observer, source *url.URL, start startFunc) {
	fail := func(err error) {
		transfer.NotifyResolveFailed(observer, source, err)
		m.settle(b)
	}
	err := m.resolver.Resolve(ctx, source.String(), func(resolved *url.URL, err error) {
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			log.Error().Str("op", "scheduler/manager").Err(err).Msgf("could not resolve %s", source)
			fail(err)
			return
		}
		log.Debug().Str("op", "scheduler/manager").Msgf("%s resolved to %s", source, resolved)
		start(ctx, b, resolved, tracked)
	})
	if err != nil {
		log.Error().Str("op", "scheduler/manager").Err(err).Msgf("rejected streaming source %s", source)
		fail(err)
	}
}
