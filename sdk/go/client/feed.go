package client

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/protocol"
)

const (
	feedHandshakeTimeout = 10 * time.Second
	feedPongWait         = 60 * time.Second
	feedMaxBackoff       = time.Minute
)

// Subscribe follows the server's change feed at feedURL and triggers a sync
// whenever another client changed the list. An empty feedURL is derived from
// the sync endpoint. It reconnects with backoff and returns when ctx ends or
// the client is closed.
func (c *Client) Subscribe(ctx context.Context, feedURL string) error {
	if err := c.precheck(); err != nil {
		return err
	}
	if feedURL == "" {
		derived, err := protocol.FeedURL(c.config.Endpoint)
		if err != nil {
			return errors.Wrap(err, "derive feed url")
		}
		feedURL = derived
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	logger := c.logger.With(log.String("feed", feedURL))
	backoff := c.config.RetryInterval
	if backoff <= 0 {
		backoff = time.Second
	}

	for {
		connected, err := c.follow(ctx, feedURL, logger)
		if ctx.Err() != nil {
			if atomic.LoadInt32(&c.closed) == 1 {
				return ErrClientClosed
			}
			return ctx.Err()
		}
		if connected {
			backoff = c.config.RetryInterval
			if backoff <= 0 {
				backoff = time.Second
			}
		}
		logger.Warn("Change feed disconnected", log.Duration("retry_in", backoff), log.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			continue
		}
		backoff = min(backoff*2, feedMaxBackoff)
	}
}

// follow holds one feed connection until it drops. connected reports
// whether the handshake succeeded.
func (c *Client) follow(ctx context.Context, feedURL string, logger log.Log) (connected bool, err error) {
	header := http.Header{}
	protocol.SetIdentity(header, c.config.Identity)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: feedHandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, feedURL, header)
	if err != nil {
		return false, errors.Wrap(err, "dial change feed")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	logger.Info("Change feed connected")

	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))

		var event protocol.FeedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			logger.Warn("Ignoring malformed feed message", log.Error(err))
			continue
		}
		c.handleFeedEvent(ctx, event, logger)
	}
}

func (c *Client) handleFeedEvent(ctx context.Context, event protocol.FeedEvent, logger log.Log) {
	if event.Event != protocol.EventChanged {
		return
	}
	if c.isOwn(event.Source) {
		return
	}
	if local, err := c.guard.Load(ctx); err == nil && local.Fingerprint() == event.Hash {
		return
	}
	logger.Debug("Remote change announced", log.String("source", event.Source))
	c.Trigger()
}
