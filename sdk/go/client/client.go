// Package client keeps a local word list in step with a sync server.
//
// A sync sends the entire local snapshot, merges the server's answer with
// local tombstones the server has not seen, commits the result and tells
// the rendering surfaces about it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/protocol"
	"github.com/zeusync/wordsync/internal/core/storage"
	"github.com/zeusync/wordsync/internal/core/sync/resolver"
)

const (
	DefaultEndpoint = "http://localhost:8080" + protocol.SyncPath

	maxResponseSize = 8 << 20
	flightKey       = "sync"
)

// Config holds configuration for the client
type Config struct {
	Endpoint string
	Identity models.Identity
	Enabled  bool

	// Timeout bounds each attempt, including reading the response.
	Timeout          time.Duration
	MaxRetries       int
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	LogLevel log.Level
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		Endpoint:         DefaultEndpoint,
		Enabled:          false,
		Timeout:          10 * time.Second,
		MaxRetries:       3,
		RetryInterval:    500 * time.Millisecond,
		MaxRetryInterval: 10 * time.Second,
		LogLevel:         log.LevelInfo,
	}
}

// HTTPDoer is the subset of *http.Client the client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Publisher receives every committed snapshot.
type Publisher interface {
	Notify(ctx context.Context, snapshot models.Snapshot)
}

type Status string

const (
	StatusIdle     Status = "idle"
	StatusSyncing  Status = "syncing"
	StatusSynced   Status = "synced"
	StatusFailed   Status = "failed"
	StatusDisabled Status = "disabled"
)

type Option func(*Client)

func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) { c.http = doer }
}

func WithResolver(r *resolver.Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

func WithPublisher(p Publisher) Option {
	return func(c *Client) { c.publisher = p }
}

func WithLogger(l log.Log) Option {
	return func(c *Client) { c.logger = l }
}

// Client syncs one local store. Concurrent Sync calls share a single
// request; Trigger schedules a sync in the background.
type Client struct {
	config    Config
	guard     *storage.Guard
	resolver  *resolver.Resolver
	publisher Publisher
	http      HTTPDoer
	logger    log.Log

	flight  singleflight.Group
	dirty   atomic.Bool
	trigger chan struct{}

	// recent request ids, so feed events caused by our own syncs are skipped
	ownMu  sync.Mutex
	own    [16]string
	ownPos int

	stateMu  sync.RWMutex
	status   Status
	lastSync time.Time
	lastErr  error

	closed      int32 // atomic bool
	done        chan struct{}
	workerGroup sync.WaitGroup
}

// NewClient creates a client over guard and starts its background worker.
// Call Close to stop it.
func NewClient(config Config, guard *storage.Guard, opts ...Option) *Client {
	c := &Client{
		config:  config,
		guard:   guard,
		trigger: make(chan struct{}, 1),
		status:  StatusIdle,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.New(config.LogLevel)
	}
	c.logger = c.logger.With(log.String("component", "sync_client"))
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.resolver == nil {
		c.resolver = resolver.New(resolver.StrategyServerWins)
	}
	if !config.Enabled {
		c.status = StatusDisabled
	}

	c.workerGroup.Add(1)
	go func() {
		defer c.workerGroup.Done()
		c.triggerLoop()
	}()

	return c
}

// Sync runs one sync, or joins the one already in flight. Returning early
// because ctx ended does not stop the shared flight.
func (c *Client) Sync(ctx context.Context) (models.Snapshot, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, ErrClientClosed
	}
	if err := c.precheck(); err != nil {
		if errors.Is(err, ErrSyncDisabled) {
			c.logger.Debug("Sync skipped, disabled")
		} else {
			c.logger.Warn("Sync skipped", log.Error(err))
		}
		c.finish(err)
		return nil, err
	}

	ch := c.flight.DoChan(flightKey, func() (any, error) {
		return c.run(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(models.Snapshot).Clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Trigger asks for a sync without waiting for it. Triggers that arrive while
// a sync is running produce exactly one more sync afterwards.
func (c *Client) Trigger() {
	if atomic.LoadInt32(&c.closed) == 1 {
		return
	}
	c.dirty.Store(true)
	select {
	case c.trigger <- struct{}{}:
	default:
		// the worker already has a wake-up pending
	}
}

func (c *Client) Status() Status {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.status
}

// LastSync returns the time of the last successful sync.
func (c *Client) LastSync() time.Time {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastSync
}

func (c *Client) LastError() error {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastErr
}

func (c *Client) Config() Config {
	return c.config
}

// Close stops the background worker. A sync already in flight is allowed to
// finish first.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil // Already closed
	}
	close(c.done)
	c.workerGroup.Wait()
	c.logger.Debug("Client closed")
	return nil
}

func (c *Client) precheck() error {
	if !c.config.Enabled {
		return ErrSyncDisabled
	}
	if strings.TrimSpace(c.config.Endpoint) == "" {
		return &ConfigurationError{Field: "endpoint"}
	}
	if c.config.Identity.IsZero() {
		return &ConfigurationError{Field: "identity"}
	}
	return nil
}

func (c *Client) triggerLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.trigger:
			for c.dirty.Swap(false) {
				select {
				case <-c.done:
					return
				default:
				}
				if _, err := c.Sync(context.Background()); err != nil {
					// already logged and recorded; the next trigger or tick retries
					break
				}
			}
		}
	}
}

func (c *Client) run(ctx context.Context) (models.Snapshot, error) {
	requestID := uuid.NewString()
	c.remember(requestID)
	ctx = log.ContextWithRequestID(ctx, requestID)
	logger := c.logger.WithContext(ctx)

	c.setStatus(StatusSyncing)
	start := time.Now()

	committed, err := c.syncOnce(ctx, requestID)
	c.finish(err)
	if err != nil {
		logger.Error("Sync failed", log.Duration("elapsed", time.Since(start)), log.Error(err))
		return nil, err
	}

	logger.Info("Sync complete",
		log.Int("entries", len(committed)),
		log.Duration("elapsed", time.Since(start)))
	return committed, nil
}

func (c *Client) syncOnce(ctx context.Context, requestID string) (models.Snapshot, error) {
	sent, err := c.guard.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load local word list")
	}

	body, err := json.Marshal(protocol.SyncRequest{Data: sent})
	if err != nil {
		return nil, errors.Wrap(err, "encode sync request")
	}

	remote, err := c.exchange(ctx, requestID, body)
	if err != nil {
		return nil, err
	}

	pending := false
	committed, err := c.guard.Update(ctx, func(current models.Snapshot) (models.Snapshot, bool, error) {
		merged := c.resolver.Resolve(remote, current)
		merged, pending = resolver.CarryPending(merged, sent, current)
		return merged, merged.Fingerprint() != current.Fingerprint(), nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "commit merged word list")
	}

	if pending {
		// local edits landed during the request; the server has not seen them
		c.logger.WithContext(ctx).Debug("Local changes during sync, scheduling another")
		c.Trigger()
	}
	if c.publisher != nil {
		c.publisher.Notify(ctx, committed)
	}
	return committed, nil
}

// exchange posts body, retrying temporary transport failures with
// exponential backoff.
func (c *Client) exchange(ctx context.Context, requestID string, body []byte) (models.Snapshot, error) {
	logger := c.logger.WithContext(ctx)
	backoff := c.config.RetryInterval

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("Retrying sync request",
				log.Int("attempt", attempt),
				log.Duration("backoff", backoff),
				log.Error(lastErr))

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-c.done:
				timer.Stop()
				return nil, lastErr
			}
			backoff *= 2
			if c.config.MaxRetryInterval > 0 && backoff > c.config.MaxRetryInterval {
				backoff = c.config.MaxRetryInterval
			}
		}

		remote, err := c.post(ctx, requestID, body)
		if err == nil {
			return remote, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, requestID string, body []byte) (models.Snapshot, error) {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	endpoint := c.config.Endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	protocol.SetIdentity(req.Header, c.config.Identity)
	req.Header.Set(protocol.HeaderRequestID, requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       snippet(data),
		}
	}

	var envelope protocol.SyncResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &ServerError{Message: "malformed response", Err: errors.Wrap(ErrInvalidPayload, err.Error())}
	}
	if envelope.Code != protocol.CodeOK {
		return nil, &ServerError{Code: envelope.Code, Message: envelope.Message}
	}
	if envelope.Data == nil {
		envelope.Data = models.Snapshot{}
	}
	if err := envelope.Data.Validate(); err != nil {
		return nil, &ServerError{Code: envelope.Code, Message: "invalid word list", Err: errors.Wrap(ErrInvalidPayload, err.Error())}
	}
	return envelope.Data, nil
}

func (c *Client) setStatus(s Status) {
	c.stateMu.Lock()
	c.status = s
	c.stateMu.Unlock()
}

func (c *Client) finish(err error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	switch {
	case errors.Is(err, ErrSyncDisabled):
		c.status = StatusDisabled
	case err != nil:
		c.status = StatusFailed
		c.lastErr = err
	default:
		c.status = StatusSynced
		c.lastSync = time.Now()
		c.lastErr = nil
	}
}

func (c *Client) remember(requestID string) {
	c.ownMu.Lock()
	c.own[c.ownPos] = requestID
	c.ownPos = (c.ownPos + 1) % len(c.own)
	c.ownMu.Unlock()
}

func (c *Client) isOwn(requestID string) bool {
	if requestID == "" {
		return false
	}
	c.ownMu.Lock()
	defer c.ownMu.Unlock()
	for _, id := range c.own {
		if id == requestID {
			return true
		}
	}
	return false
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
