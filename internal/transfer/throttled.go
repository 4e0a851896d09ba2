package transfer

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"
)

const DefaultTickInterval = time.Second

const (
	stateAwaitingSize    = "awaiting_size"
	stateSimulating      = "simulating"
	stateAwaitingOutcome = "awaiting_outcome"
	stateAwaitingDisplay = "awaiting_display"
	stateDone            = "done"

	eventSized     = "sized"
	eventCaughtUp  = "caught_up"
	eventDelivered = "delivered"
	eventFailed    = "failed"
	eventAbort     = "abort"
)

// Simulator fetches at full speed but reports progress as if the transfer
// were capped at a fixed rate. The outcome is held back until the simulated
// byte count has caught up with the real total.
type Simulator struct {
	transports *Registry
	interval   time.Duration

	mu      sync.Mutex
	current *simulation
}

func NewSimulator(transports *Registry, interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Simulator{transports: transports, interval: interval}
}

// Download starts a simulated transfer of uri advancing maxRateKBs kilobytes
// per tick. Any transfer already running on sm is aborted first.
func (sm *Simulator) Download(ctx context.Context, uri *url.URL, observer Observer, maxRateKBs float64) {
	sm.Abort()
	sim := newSimulation(newSession(ctx, uri, observer), bytesPerTick(maxRateKBs))

	sim.s.mu.Lock()
	sm.mu.Lock()
	sm.current = sim
	sm.mu.Unlock()
	observer.OnStart(uri)
	sim.s.mu.Unlock()

	log.Debug().Str("op", "transfer/throttled").Str("session", sim.s.id).Msgf("simulating %s at %d bytes per tick", uri, sim.step)
	go sim.tickLoop(sm.interval)
	go sim.fetch(sm.transports)
}

// Abort cancels the running transfer and reports it as cancelled. A result
// that had already arrived but was still waiting on the simulation is
// discarded.
func (sm *Simulator) Abort() {
	sm.mu.Lock()
	sim := sm.current
	sm.current = nil
	sm.mu.Unlock()
	if sim != nil {
		sim.abort()
	}
}

func bytesPerTick(maxRateKBs float64) int64 {
	return max(int64(maxRateKBs*1024), 1)
}

// simulation holds the state of one throttled transfer. Everything in it is
// guarded by s.mu, including the state machine callbacks.
type simulation struct {
	s     *session
	step  int64
	state *fsm.FSM

	shown   Progress
	outcome *Outcome
	stop    chan struct{}
	stopped bool
}

func newSimulation(s *session, step int64) *simulation {
	sim := &simulation{s: s, step: step, stop: make(chan struct{})}
	sim.state = fsm.NewFSM(
		stateAwaitingSize,
		fsm.Events{
			{Name: eventSized, Src: []string{stateAwaitingSize}, Dst: stateSimulating},
			{Name: eventCaughtUp, Src: []string{stateSimulating}, Dst: stateAwaitingOutcome},
			{Name: eventCaughtUp, Src: []string{stateAwaitingDisplay}, Dst: stateDone},
			{Name: eventDelivered, Src: []string{stateSimulating}, Dst: stateAwaitingDisplay},
			{Name: eventDelivered, Src: []string{stateAwaitingSize, stateAwaitingOutcome}, Dst: stateDone},
			{Name: eventFailed, Src: []string{stateAwaitingSize, stateSimulating, stateAwaitingOutcome}, Dst: stateDone},
			{Name: eventAbort, Src: []string{stateAwaitingSize, stateSimulating, stateAwaitingOutcome, stateAwaitingDisplay}, Dst: stateDone},
		},
		fsm.Callbacks{
			"enter_state": func(e *fsm.Event) {
				log.Debug().Str("op", "transfer/throttled").Str("session", sim.s.id).Msgf("%s: %s -> %s", e.Event, e.Src, e.Dst)
			},
			"enter_" + stateAwaitingOutcome: func(e *fsm.Event) {
				sim.stopTicks()
			},
			"enter_" + stateDone: func(e *fsm.Event) {
				sim.finish(e.Event == eventAbort)
			},
		},
	)
	return sim
}

func (sim *simulation) fire(event string) {
	if err := sim.state.Event(event); err != nil {
		log.Debug().Str("op", "transfer/throttled").Str("session", sim.s.id).Msgf("ignored %s in %s: %v", event, sim.state.Current(), err)
	}
}

func (sim *simulation) tickLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-sim.stop:
			return
		case <-sim.s.ctx.Done():
			sim.abort()
			return
		case <-ticker.C:
			sim.tick()
		}
	}
}

func (sim *simulation) tick() {
	sim.s.mu.Lock()
	defer sim.s.mu.Unlock()
	if !sim.state.Is(stateSimulating) && !sim.state.Is(stateAwaitingDisplay) {
		return
	}
	sim.shown.BytesReceived = min(sim.shown.BytesReceived+sim.step, sim.shown.TotalBytes)
	sim.s.observer.OnProgress(sim.s.uri, sim.shown)
	if sim.shown.BytesReceived >= sim.shown.TotalBytes {
		sim.fire(eventCaughtUp)
	}
}

func (sim *simulation) fetch(transports *Registry) {
	result, err := fetch(sim.s.ctx, transports, sim.s.uri, sim.nativeProgress)
	outcome := Outcome{Result: result, Err: err}
	if err != nil && sim.s.ctx.Err() != nil {
		outcome = cancelledOutcome()
	}
	sim.deliver(outcome)
}

// nativeProgress only uses the first sized event to seed the simulation.
func (sim *simulation) nativeProgress(p Progress) {
	if p.TotalBytes <= 0 {
		return
	}
	sim.s.mu.Lock()
	defer sim.s.mu.Unlock()
	if !sim.state.Can(eventSized) {
		return
	}
	sim.shown = Progress{TotalBytes: p.TotalBytes}
	sim.fire(eventSized)
}

func (sim *simulation) deliver(o Outcome) {
	sim.s.mu.Lock()
	defer sim.s.mu.Unlock()
	if sim.s.done() {
		if o.Result != nil {
			o.Result.Close()
		}
		return
	}
	sim.outcome = &o
	if o.Succeeded() {
		sim.fire(eventDelivered)
	} else {
		sim.fire(eventFailed)
	}
}

func (sim *simulation) abort() {
	sim.s.mu.Lock()
	defer sim.s.mu.Unlock()
	if sim.state.Can(eventAbort) {
		sim.fire(eventAbort)
	}
}

func (sim *simulation) stopTicks() {
	if !sim.stopped {
		sim.stopped = true
		close(sim.stop)
	}
}

// finish runs on entry to the done state with s.mu held.
func (sim *simulation) finish(aborted bool) {
	sim.stopTicks()
	sim.s.finished.Store(true)
	sim.s.cancel()

	outcome := cancelledOutcome()
	if !aborted && sim.outcome != nil {
		outcome = *sim.outcome
	} else if sim.outcome != nil && sim.outcome.Result != nil {
		sim.outcome.Result.Close()
	}
	sim.s.observer.OnComplete(sim.s.uri, outcome)
}
