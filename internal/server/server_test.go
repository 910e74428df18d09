package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/protocol"
	"github.com/zeusync/wordsync/internal/core/storage"
	"github.com/zeusync/wordsync/internal/core/storage/memory"
	"github.com/zeusync/wordsync/sdk/go/client"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

var (
	alice = models.Identity{ID: 1, Name: "alice"}
	bob   = models.Identity{ID: 2, Name: "bob"}
)

func entry(word string, star int, updated time.Time) models.WordEntry {
	return models.WordEntry{Word: word, OwnerID: 1, Popularity: star, CreatedAt: t0, UpdatedAt: updated}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := DefaultServerConfig()
	cfg.PingInterval = 0
	srv, err := NewServer(cfg, WithLogger(log.NewNop()))
	require.NoError(t, err)
	return srv, newHTTPTestServer(t, srv)
}

func newHTTPTestServer(t *testing.T, srv *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return ts
}

func postSync(t *testing.T, baseURL string, id models.Identity, requestID string, body []byte) (int, protocol.SyncResponse) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+protocol.SyncPath, bytes.NewReader(body))
	require.NoError(t, err)
	if !id.IsZero() {
		protocol.SetIdentity(req.Header, id)
	}
	if requestID != "" {
		req.Header.Set(protocol.HeaderRequestID, requestID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope protocol.SyncResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp.StatusCode, envelope
}

func syncBody(t *testing.T, s models.Snapshot) []byte {
	t.Helper()
	data, err := json.Marshal(protocol.SyncRequest{Data: s})
	require.NoError(t, err)
	return data
}

func TestMerge(t *testing.T) {
	later := t0.Add(time.Minute)

	tests := []struct {
		name     string
		stored   models.Snapshot
		incoming models.Snapshot
		want     models.Snapshot
		changed  bool
	}{
		{
			name:     "empty store takes everything",
			stored:   models.Snapshot{},
			incoming: models.Snapshot{entry("a", 0, t0), entry("b", 0, t0)},
			want:     models.Snapshot{entry("a", 0, t0), entry("b", 0, t0)},
			changed:  true,
		},
		{
			name:     "newer incoming entry wins",
			stored:   models.Snapshot{entry("a", 1, t0)},
			incoming: models.Snapshot{entry("A", 4, later)},
			want:     models.Snapshot{entry("A", 4, later)},
			changed:  true,
		},
		{
			name:     "tie keeps the stored entry",
			stored:   models.Snapshot{entry("a", 1, t0)},
			incoming: models.Snapshot{entry("a", 9, t0)},
			want:     models.Snapshot{entry("a", 1, t0)},
		},
		{
			name:     "older incoming entry is ignored",
			stored:   models.Snapshot{entry("a", 1, later)},
			incoming: models.Snapshot{entry("a", 9, t0)},
			want:     models.Snapshot{entry("a", 1, later)},
		},
		{
			name:     "new keys are appended in sender order",
			stored:   models.Snapshot{entry("m", 0, t0)},
			incoming: models.Snapshot{entry("z", 0, t0), entry("m", 0, t0), entry("b", 0, t0)},
			want:     models.Snapshot{entry("m", 0, t0), entry("z", 0, t0), entry("b", 0, t0)},
			changed:  true,
		},
		{
			name:     "stored duplicates collapse",
			stored:   models.Snapshot{entry("a", 1, t0), entry("A", 2, t0)},
			incoming: models.Snapshot{},
			want:     models.Snapshot{entry("a", 1, t0)},
			changed:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored := tt.stored.Clone()
			got, changed := Merge(tt.stored, tt.incoming)
			assert.True(t, tt.want.Equal(got), "got %v", got)
			assert.Equal(t, tt.changed, changed)
			assert.True(t, stored.Equal(tt.stored), "stored snapshot was modified")
		})
	}
}

func TestSyncRequiresIdentity(t *testing.T) {
	_, ts := newTestServer(t)

	status, envelope := postSync(t, ts.URL, models.Identity{}, "", syncBody(t, models.Snapshot{}))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, http.StatusUnauthorized, envelope.Code)

	req, err := http.NewRequest(http.MethodPost, ts.URL+protocol.SyncPath, strings.NewReader(`{"data":[]}`))
	require.NoError(t, err)
	req.Header.Set(protocol.HeaderUserID, "not-a-number")
	req.Header.Set(protocol.HeaderUserName, "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSyncRejectsMalformedBody(t *testing.T) {
	_, ts := newTestServer(t)

	status, envelope := postSync(t, ts.URL, alice, "", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEqual(t, protocol.CodeOK, envelope.Code)

	dupes := syncBody(t, models.Snapshot{entry("a", 0, t0), entry("A", 0, t0)})
	status, _ = postSync(t, ts.URL, alice, "", dupes)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSyncRejectsOtherMethods(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + protocol.SyncPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSyncKeepsOneListPerUser(t *testing.T) {
	srv, ts := newTestServer(t)

	status, envelope := postSync(t, ts.URL, alice, "", syncBody(t, models.Snapshot{entry("a", 0, t0)}))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, protocol.CodeOK, envelope.Code)
	assert.Equal(t, protocol.MessageSuccess, envelope.Message)
	assert.Equal(t, []string{"a"}, envelope.Data.Words())

	_, envelope = postSync(t, ts.URL, bob, "", syncBody(t, models.Snapshot{entry("b", 0, t0)}))
	assert.Equal(t, []string{"b"}, envelope.Data.Words())

	_, envelope = postSync(t, ts.URL, alice, "", syncBody(t, models.Snapshot{}))
	assert.Equal(t, []string{"a"}, envelope.Data.Words())

	stats := srv.GetStats()
	assert.Equal(t, 2, stats.UserCount)
	// the last request of alice changed nothing, so only two commits happened
	assert.Equal(t, uint64(2), stats.Storage.CommitCount)
	assert.Equal(t, uint64(3), stats.Storage.LoadCount)
	assert.Equal(t, 2, stats.Storage.Entries)
}

func TestSyncLastWriterWins(t *testing.T) {
	_, ts := newTestServer(t)

	postSync(t, ts.URL, alice, "", syncBody(t, models.Snapshot{entry("a", 1, t0)}))

	_, envelope := postSync(t, ts.URL, alice, "", syncBody(t, models.Snapshot{entry("a", 5, t0.Add(time.Minute))}))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, 5, envelope.Data[0].Popularity)

	_, envelope = postSync(t, ts.URL, alice, "", syncBody(t, models.Snapshot{entry("a", 9, t0)}))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, 5, envelope.Data[0].Popularity)
}

func TestSyncKeepsTombstones(t *testing.T) {
	_, ts := newTestServer(t)

	gone := entry("gone", 0, t0.Add(time.Minute))
	gone.Deleted = true
	_, envelope := postSync(t, ts.URL, alice, "", syncBody(t, models.Snapshot{entry("a", 0, t0), gone}))

	require.Len(t, envelope.Data, 2)
	assert.Equal(t, []string{"gone"}, envelope.Data.Tombstones().Words())
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestClientRoundTrip(t *testing.T) {
	_, ts := newTestServer(t)

	sdkConfig := func() client.Config {
		cfg := client.DefaultClientConfig()
		cfg.Endpoint = ts.URL + protocol.SyncPath
		cfg.Identity = alice
		cfg.Enabled = true
		cfg.LogLevel = log.LevelSilent
		return cfg
	}

	gone := entry("gone", 0, t0.Add(time.Minute))
	gone.Deleted = true
	first := client.NewClient(sdkConfig(), storage.NewGuard(memory.New(models.Snapshot{entry("a", 0, t0), gone})))
	defer first.Close()

	merged, err := first.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "gone"}, merged.Words())

	// a second device starts empty and receives the list
	second := client.NewClient(sdkConfig(), storage.NewGuard(memory.New(nil)))
	defer second.Close()

	merged, err = second.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, merged.Active().Words())
	assert.Equal(t, []string{"gone"}, merged.Tombstones().Words())
}

func TestStartStop(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	srv, err := NewServer(cfg, WithLogger(log.NewNop()))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))
	assert.ErrorIs(t, srv.Start(ctx), ErrServerAlreadyRunning)
	assert.True(t, srv.GetStats().Running)

	resp, err := http.Get("http://" + srv.Addr() + HealthPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(ctx))
	assert.ErrorIs(t, srv.Stop(ctx), ErrServerNotRunning)
	require.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.Start(ctx), ErrServerClosed)
}

func TestStoreOpener(t *testing.T) {
	dir := t.TempDir()
	open, err := NewStoreOpener(storage.Options{Driver: storage.DriverFile, Path: dir})
	require.NoError(t, err)

	store, err := open(42)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Commit(context.Background(), models.Snapshot{entry("a", 0, t0)}))

	_, err = os.Stat(filepath.Join(dir, "42.json"))
	assert.NoError(t, err)

	_, err = NewStoreOpener(storage.Options{Driver: storage.DriverFile})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewStoreOpener(storage.Options{Driver: storage.DriverRedis})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewStoreOpener(storage.Options{Driver: "tape"})
	assert.ErrorIs(t, err, storage.ErrUnknownDriver)
}
