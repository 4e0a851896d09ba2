package transfer

import "net/url"

// Observer receives the lifecycle of every transfer started for it. Calls for
// a single source are never concurrent, but calls for different sources may
// be, so implementations must be safe for concurrent use. Implementations
// must not call back into the strategy that is notifying them.
type Observer interface {
	OnInitialize(sources []*url.URL)
	OnStart(source *url.URL)
	OnProgress(source *url.URL, progress Progress)
	OnComplete(source *url.URL, outcome Outcome)
}

// ResolveFailureObserver is implemented by observers that want to hear about
// streaming sources that never got as far as a transfer.
type ResolveFailureObserver interface {
	OnResolveFailed(source *url.URL, err error)
}

// NotifyResolveFailed forwards err to observer when it cares.
func NotifyResolveFailed(observer Observer, source *url.URL, err error) {
	if rf, ok := observer.(ResolveFailureObserver); ok {
		rf.OnResolveFailed(source, err)
	}
}
