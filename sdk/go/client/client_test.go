package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/protocol"
	"github.com/zeusync/wordsync/internal/core/storage"
	"github.com/zeusync/wordsync/internal/core/storage/interfaces"
	"github.com/zeusync/wordsync/internal/core/storage/memory"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// countingDoer records every request that reaches the transport.
type countingDoer struct {
	calls atomic.Int32
	next  HTTPDoer
	err   error
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return d.next.Do(req)
}

type capturePublisher struct {
	mu  sync.Mutex
	got []models.Snapshot
}

func (p *capturePublisher) Notify(_ context.Context, s models.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, s)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

func enabledConfig(endpoint string) Config {
	cfg := DefaultClientConfig()
	cfg.Endpoint = endpoint
	cfg.Enabled = true
	cfg.Identity = models.Identity{ID: 7, Name: "ada"}
	cfg.RetryInterval = time.Millisecond
	cfg.MaxRetryInterval = 5 * time.Millisecond
	cfg.Timeout = 2 * time.Second
	return cfg
}

// envelopeServer answers every sync with remote.
func envelopeServer(t *testing.T, remote func(req protocol.SyncRequest) protocol.SyncResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req protocol.SyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(remote(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, cfg Config, initial models.Snapshot, doer HTTPDoer, opts ...Option) (*Client, *memory.Store) {
	t.Helper()
	backing := memory.New(initial)
	opts = append([]Option{WithHTTPClient(doer), WithLogger(log.NewNop())}, opts...)
	c := NewClient(cfg, storage.NewGuard(backing), opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c, backing
}

func TestSyncDisabledMakesNoRequest(t *testing.T) {
	doer := &countingDoer{next: http.DefaultClient}
	cfg := enabledConfig("http://127.0.0.1:1/sync")
	cfg.Enabled = false
	c, _ := newTestClient(t, cfg, nil, doer)

	_, err := c.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncDisabled)
	assert.Zero(t, doer.calls.Load())
	assert.Equal(t, StatusDisabled, c.Status())
}

func TestSyncWithoutEndpointIsConfigurationError(t *testing.T) {
	doer := &countingDoer{next: http.DefaultClient}
	c, backing := newTestClient(t, enabledConfig(""), models.Snapshot{{Word: "a"}}, doer)

	_, err := c.Sync(context.Background())
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "endpoint", cfgErr.Field)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Zero(t, doer.calls.Load())
	assert.Zero(t, backing.Commits())
}

func TestSyncWithoutIdentityIsConfigurationError(t *testing.T) {
	doer := &countingDoer{next: http.DefaultClient}
	cfg := enabledConfig("http://127.0.0.1:1/sync")
	cfg.Identity = models.Identity{ID: 7}
	c, _ := newTestClient(t, cfg, nil, doer)

	_, err := c.Sync(context.Background())
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "identity", cfgErr.Field)
	assert.Zero(t, doer.calls.Load())
	assert.False(t, IsRetryable(err))
}

func TestSyncDisabledTakesPrecedenceOverConfiguration(t *testing.T) {
	doer := &countingDoer{next: http.DefaultClient}
	cfg := enabledConfig("")
	cfg.Enabled = false
	cfg.Identity = models.Identity{}
	c, _ := newTestClient(t, cfg, nil, doer)

	_, err := c.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncDisabled)
	var cfgErr *ConfigurationError
	assert.False(t, errors.As(err, &cfgErr))
	assert.Zero(t, doer.calls.Load())
}

func TestSyncMergesUnknownTombstones(t *testing.T) {
	local := models.Snapshot{
		{Word: "foo", OwnerID: 7, CreatedAt: t0, UpdatedAt: t0, Deleted: true},
		{Word: "Baz", OwnerID: 7, CreatedAt: t0, UpdatedAt: t0, Deleted: true},
	}
	remote := models.Snapshot{
		{Word: "bar", OwnerID: 7, CreatedAt: t0, UpdatedAt: t0},
		{Word: "baz", OwnerID: 7, Popularity: 2, CreatedAt: t0, UpdatedAt: t0},
	}

	var gotHeaders http.Header
	var gotBody protocol.SyncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(protocol.SyncResponse{Code: protocol.CodeOK, Data: remote, Message: "success"})
	}))
	defer srv.Close()

	pub := &capturePublisher{}
	c, backing := newTestClient(t, enabledConfig(srv.URL), local, http.DefaultClient, WithPublisher(pub))

	merged, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bar", "baz", "foo"}, merged.Words())
	assert.Equal(t, 2, merged[1].Popularity)
	assert.True(t, merged[2].Deleted)

	stored, err := backing.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, merged.Equal(stored))

	assert.Equal(t, "7", gotHeaders.Get(protocol.HeaderUserID))
	assert.Equal(t, "ada", gotHeaders.Get(protocol.HeaderUserName))
	assert.NotEmpty(t, gotHeaders.Get(protocol.HeaderRequestID))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.True(t, local.Equal(gotBody.Data), "the entire snapshot is sent")

	assert.Equal(t, 1, pub.count())
	assert.Equal(t, StatusSynced, c.Status())
	assert.False(t, c.LastSync().IsZero())
	assert.NoError(t, c.LastError())
}

func TestSyncNonSuccessStatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	doer := &countingDoer{next: http.DefaultClient}
	initial := models.Snapshot{{Word: "keep"}}
	c, backing := newTestClient(t, enabledConfig(srv.URL), initial, doer)

	_, err := c.Sync(context.Background())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadRequest, te.StatusCode)
	assert.Equal(t, "nope", te.Body)
	assert.Equal(t, int32(1), doer.calls.Load(), "4xx is not retried")
	assert.Zero(t, backing.Commits())
	assert.Equal(t, StatusFailed, c.Status())
	assert.Equal(t, err, c.LastError())
}

func TestSyncRetriesServerFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(protocol.SyncResponse{Code: protocol.CodeOK, Data: models.Snapshot{{Word: "x"}}})
	}))
	defer srv.Close()

	c, _ := newTestClient(t, enabledConfig(srv.URL), nil, http.DefaultClient)

	merged, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, merged.Words())
	assert.Equal(t, int32(3), hits.Load())
}

func TestSyncNetworkFailureGivesUpAfterRetries(t *testing.T) {
	doer := &countingDoer{err: errors.New("connection refused")}
	cfg := enabledConfig("http://127.0.0.1:1/sync")
	cfg.MaxRetries = 2
	c, backing := newTestClient(t, cfg, models.Snapshot{{Word: "a"}}, doer)

	_, err := c.Sync(context.Background())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(3), doer.calls.Load())
	assert.Zero(t, backing.Commits())
}

func TestSyncEnvelopeErrorIsServerError(t *testing.T) {
	srv := envelopeServer(t, func(protocol.SyncRequest) protocol.SyncResponse {
		return protocol.SyncResponse{Code: 500, Message: "database unavailable"}
	})
	doer := &countingDoer{next: http.DefaultClient}
	c, backing := newTestClient(t, enabledConfig(srv.URL), models.Snapshot{{Word: "a"}}, doer)

	_, err := c.Sync(context.Background())
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.Code)
	assert.Equal(t, "database unavailable", se.Message)
	assert.Equal(t, int32(1), doer.calls.Load())
	assert.Zero(t, backing.Commits())
}

func TestSyncMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	}))
	defer srv.Close()
	c, _ := newTestClient(t, enabledConfig(srv.URL), nil, http.DefaultClient)

	_, err := c.Sync(context.Background())
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSyncStoreFailureIsStoreError(t *testing.T) {
	srv := envelopeServer(t, func(req protocol.SyncRequest) protocol.SyncResponse {
		return protocol.SyncResponse{Code: protocol.CodeOK, Data: req.Data}
	})
	backing := memory.New(nil)
	require.NoError(t, backing.Close())
	c := NewClient(enabledConfig(srv.URL), storage.NewGuard(backing), WithLogger(log.NewNop()))
	defer c.Close()

	_, err := c.Sync(context.Background())
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, interfaces.ErrStoreClosed)
}

func TestSkipsCommitWhenNothingChanged(t *testing.T) {
	srv := envelopeServer(t, func(req protocol.SyncRequest) protocol.SyncResponse {
		return protocol.SyncResponse{Code: protocol.CodeOK, Data: req.Data}
	})
	initial := models.Snapshot{{Word: "a", CreatedAt: t0, UpdatedAt: t0}}
	c, backing := newTestClient(t, enabledConfig(srv.URL), initial, http.DefaultClient)

	_, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, backing.Commits())
}

// blockingServer holds every request until release is closed.
func blockingServer(t *testing.T, hits *atomic.Int32, entered chan<- struct{}, release <-chan struct{}) *httptest.Server {
	t.Helper()
	return envelopeServer(t, func(req protocol.SyncRequest) protocol.SyncResponse {
		hits.Add(1)
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return protocol.SyncResponse{Code: protocol.CodeOK, Data: req.Data}
	})
}

func TestConcurrentSyncsShareOneRequest(t *testing.T) {
	var hits atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := blockingServer(t, &hits, entered, release)
	c, _ := newTestClient(t, enabledConfig(srv.URL), models.Snapshot{{Word: "a"}}, http.DefaultClient)

	var wg sync.WaitGroup
	results := make([]models.Snapshot, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := c.Sync(context.Background())
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}
	<-entered
	// give the remaining callers time to join the flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, r := range results {
		assert.Equal(t, []string{"a"}, r.Words())
	}
}

func TestTriggersDuringFlightCauseOneFollowUp(t *testing.T) {
	var hits atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := blockingServer(t, &hits, entered, release)
	c, _ := newTestClient(t, enabledConfig(srv.URL), models.Snapshot{{Word: "a"}}, http.DefaultClient)

	c.Trigger()
	<-entered
	c.Trigger()
	c.Trigger()
	c.Trigger()
	close(release)

	assert.Eventually(t, func() bool { return hits.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), hits.Load())
}

func TestEditsDuringFlightAreKept(t *testing.T) {
	var hits atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := blockingServer(t, &hits, entered, release)

	backing := memory.New(models.Snapshot{{Word: "a", CreatedAt: t0, UpdatedAt: t0}})
	guard := storage.NewGuard(backing)
	c := NewClient(enabledConfig(srv.URL), guard, WithLogger(log.NewNop()))
	defer c.Close()

	done := make(chan error, 1)
	go func() {
		_, err := c.Sync(context.Background())
		done <- err
	}()
	<-entered

	_, err := guard.Update(context.Background(), func(cur models.Snapshot) (models.Snapshot, bool, error) {
		return append(cur, models.WordEntry{Word: "late", CreatedAt: t0, UpdatedAt: t0}), true, nil
	})
	require.NoError(t, err)
	close(release)
	require.NoError(t, <-done)

	stored, err := backing.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "late"}, stored.Words())

	// the late word still has to reach the server
	assert.Eventually(t, func() bool { return hits.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestCallerCanStopWaiting(t *testing.T) {
	var hits atomic.Int32
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := blockingServer(t, &hits, entered, release)
	defer close(release)
	c, _ := newTestClient(t, enabledConfig(srv.URL), nil, http.DefaultClient)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()
	_, err := c.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClosedClient(t *testing.T) {
	c, _ := newTestClient(t, enabledConfig("http://127.0.0.1:1/sync"), nil, http.DefaultClient)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Sync(context.Background())
	assert.ErrorIs(t, err, ErrClientClosed)
	c.Trigger()
}
