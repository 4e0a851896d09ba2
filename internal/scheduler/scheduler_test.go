package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkghttp "github.com/tanq16/pkgloader/internal/downloaders/http"
	"github.com/tanq16/pkgloader/internal/streaming"
	"github.com/tanq16/pkgloader/internal/transfer"
	"github.com/tanq16/pkgloader/internal/transfer/transfertest"
	"github.com/tanq16/pkgloader/internal/utils"
)

const waitTimeout = 5 * time.Second

var packages = map[string][]byte{
	"/apps/Main.xap":                            bytes.Repeat([]byte("m"), 12*1024),
	"/apps/Lib.xap":                             bytes.Repeat([]byte("l"), 3*1024),
	"/apps/theme.zip":                           bytes.Repeat([]byte("t"), 7*1024),
	"/media/57870/LoaderTestApp/LoaderTest.xap": bytes.Repeat([]byte("s"), 2*1024),
}

type fixture struct {
	srv     *httptest.Server
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mux := http.NewServeMux()
	for path, body := range packages {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", fmt.Sprint(len(body)))
			w.Write(body)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/invoke/57870/LoaderTestApp/starth.js", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `var b = "%s/media/57870/LoaderTestApp"; var d = {"version": "2.0", "name": "LoaderTest", "source": "LoaderTest.xap"};`, srv.URL)
	})

	client := utils.NewLoaderHTTPClient(utils.HTTPClientConfig{})
	reg := transfer.NewRegistry()
	reg.Register(pkghttp.New(client), pkghttp.Schemes...)
	resolver := streaming.NewResolver(client, srv.URL)
	return &fixture{
		srv:     srv,
		manager: NewManager(reg, resolver, Options{TickInterval: 5 * time.Millisecond}),
	}
}

func (f *fixture) url(t *testing.T, path string) *url.URL {
	t.Helper()
	u, err := url.Parse(f.srv.URL + path)
	require.NoError(t, err)
	return u
}

func completedBodies(rec *transfertest.Recorder) map[string]int {
	out := map[string]int{}
	for _, e := range rec.Filter(transfertest.Complete) {
		if e.Outcome.Succeeded() {
			out[e.Source] = len(e.Body)
		}
	}
	return out
}

func TestInitDeliversEverySource(t *testing.T) {
	for _, rate := range []float64{0, 5} {
		t.Run(fmt.Sprintf("rate %v", rate), func(t *testing.T) {
			f := newFixture(t)
			rec := transfertest.NewRecorder()
			sources := []*url.URL{
				f.url(t, "/apps/Main.xap"),
				f.url(t, "/apps/Lib.xap"),
				f.url(t, "/apps/theme.zip"),
			}

			f.manager.Init(context.Background(), rec, sources, rate)
			require.True(t, rec.WaitFor(transfertest.Complete, 3, waitTimeout))

			inits := rec.Filter(transfertest.Initialize)
			require.Len(t, inits, 1)
			assert.Len(t, inits[0].Sources, 3)
			assert.Equal(t, transfertest.Initialize, rec.Events()[0].Kind)

			starts := rec.Filter(transfertest.Start)
			names := make([]string, len(starts))
			for i, s := range starts {
				names[i] = s.Source
			}
			sort.Strings(names)
			assert.Equal(t, []string{sources[1].String(), sources[0].String(), sources[2].String()}, names)

			assert.Equal(t, map[string]int{
				sources[0].String(): 12 * 1024,
				sources[1].String(): 3 * 1024,
				sources[2].String(): 7 * 1024,
			}, completedBodies(rec))

			last := map[string]transfer.Progress{}
			for _, e := range rec.Filter(transfertest.Progress) {
				prev := last[e.Source]
				assert.GreaterOrEqual(t, e.Progress.BytesReceived, prev.BytesReceived)
				assert.LessOrEqual(t, e.Progress.BytesReceived, e.Progress.TotalBytes)
				last[e.Source] = e.Progress
			}
			for _, src := range sources {
				p := last[src.String()]
				assert.Equal(t, p.TotalBytes, p.BytesReceived, "%s ends at full progress", src)
			}
		})
	}
}

func TestThrottledProgressAdvancesByRate(t *testing.T) {
	f := newFixture(t)
	rec := transfertest.NewRecorder()
	src := f.url(t, "/apps/Main.xap")

	f.manager.Init(context.Background(), rec, []*url.URL{src}, 5)
	require.True(t, rec.WaitFor(transfertest.Complete, 1, waitTimeout))

	var got []int64
	for _, e := range rec.Filter(transfertest.Progress) {
		got = append(got, e.Progress.BytesReceived)
	}
	assert.Equal(t, []int64{5120, 10240, 12288}, got)
}

func TestInitResolvesStreamingSources(t *testing.T) {
	f := newFixture(t)
	rec := transfertest.NewRecorder()
	src, err := url.Parse("streaming:/57870/LoaderTestApp/")
	require.NoError(t, err)

	f.manager.Init(context.Background(), rec, []*url.URL{src}, 0)
	require.True(t, rec.WaitFor(transfertest.Complete, 1, waitTimeout))

	resolved := f.srv.URL + "/media/57870/LoaderTestApp/LoaderTest.xap"
	assert.Equal(t, []string{"streaming:/57870/LoaderTestApp/"}, rec.Filter(transfertest.Initialize)[0].Sources)
	assert.Equal(t, resolved, rec.Filter(transfertest.Start)[0].Source)
	assert.Equal(t, map[string]int{resolved: 2 * 1024}, completedBodies(rec))
}

func TestInitReportsResolveFailures(t *testing.T) {
	f := newFixture(t)
	rec := transfertest.NewRecorder()
	malformed, _ := url.Parse("streaming:/57870")
	unknown, _ := url.Parse("streaming:/1/Missing/")

	f.manager.Init(context.Background(), rec, []*url.URL{malformed, unknown}, 0)
	require.True(t, rec.WaitFor(transfertest.ResolveFailed, 2, waitTimeout))

	failures := rec.Filter(transfertest.ResolveFailed)
	assert.Equal(t, "streaming:/57870", failures[0].Source)
	assert.ErrorIs(t, failures[0].Err, streaming.ErrMalformedIdentifier)
	assert.Equal(t, "streaming:/1/Missing/", failures[1].Source)
	assert.ErrorContains(t, failures[1].Err, "status 404")
	assert.Empty(t, rec.Filter(transfertest.Start))
	assert.Empty(t, rec.Filter(transfertest.Complete))
}

func TestInitReportsTransferFailures(t *testing.T) {
	f := newFixture(t)
	rec := transfertest.NewRecorder()
	ftp, _ := url.Parse("ftp://host/Main.xap")
	missing := f.url(t, "/apps/Missing.xap")

	f.manager.Init(context.Background(), rec, []*url.URL{ftp, missing}, 0)
	require.True(t, rec.WaitFor(transfertest.Complete, 2, waitTimeout))

	byName := map[string]transfer.Outcome{}
	for _, e := range rec.Filter(transfertest.Complete) {
		byName[e.Source] = e.Outcome
	}
	assert.ErrorIs(t, byName[ftp.String()].Err, transfer.ErrUnsupportedScheme)
	assert.ErrorIs(t, byName[missing.String()].Err, pkghttp.ErrNotFound)
}

func TestInitWithNoSources(t *testing.T) {
	f := newFixture(t)
	rec := transfertest.NewRecorder()

	f.manager.Init(context.Background(), rec, nil, 0)
	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, transfertest.Initialize, events[0].Kind)
	assert.Empty(t, events[0].Sources)
}

func TestAbortCancelsRunningTransfers(t *testing.T) {
	for _, rate := range []float64{0, 1} {
		t.Run(fmt.Sprintf("rate %v", rate), func(t *testing.T) {
			gate := transfertest.NewGatedTransport([]byte("held back"))
			reg := transfer.NewRegistry()
			reg.Register(gate, "gated")
			m := NewManager(reg, nil, Options{TickInterval: 5 * time.Millisecond})
			rec := transfertest.NewRecorder()
			a, _ := url.Parse("gated://host/a.xap")
			b, _ := url.Parse("gated://host/b.xap")

			m.Init(context.Background(), rec, []*url.URL{a, b}, rate)
			require.True(t, rec.WaitFor(transfertest.Start, 2, waitTimeout))
			require.True(t, rec.WaitFor(transfertest.Progress, 1, waitTimeout))

			m.Abort()
			require.True(t, rec.WaitFor(transfertest.Complete, 2, waitTimeout))
			for _, e := range rec.Filter(transfertest.Complete) {
				assert.True(t, e.Outcome.Cancelled, e.Source)
			}

			m.Abort()
			close(gate.Release)
			time.Sleep(30 * time.Millisecond)
			assert.Len(t, rec.Filter(transfertest.Complete), 2)
		})
	}
}

func (m *Manager) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func TestInitReleasesSettledBatches(t *testing.T) {
	for _, rate := range []float64{0, 5} {
		t.Run(fmt.Sprintf("rate %v", rate), func(t *testing.T) {
			f := newFixture(t)
			rec := transfertest.NewRecorder()
			malformed, _ := url.Parse("streaming:/57870")
			stream, _ := url.Parse("streaming:/57870/LoaderTestApp/")

			ctx := context.Background()
			f.manager.Init(ctx, rec, []*url.URL{f.url(t, "/apps/Lib.xap"), malformed, stream}, rate)
			f.manager.Init(ctx, rec, []*url.URL{f.url(t, "/apps/theme.zip")}, rate)
			f.manager.Init(ctx, rec, nil, rate)
			require.True(t, rec.WaitFor(transfertest.Complete, 3, waitTimeout))
			require.True(t, rec.WaitFor(transfertest.ResolveFailed, 1, waitTimeout))

			assert.Eventually(t, func() bool { return f.manager.batchCount() == 0 }, waitTimeout, 5*time.Millisecond)
			f.manager.Abort()
			assert.Len(t, rec.Filter(transfertest.Complete), 3)
		})
	}
}
