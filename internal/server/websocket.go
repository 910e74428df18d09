package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/wordsync/internal/core/observability/log"
	"github.com/zeusync/wordsync/internal/core/protocol"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// subscriber is one feed connection. Only its write loop writes to conn.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Room holds the feed connections of one user.
type Room struct {
	clients map[*subscriber]bool
	mu      sync.Mutex
}

// feedHub fans change events out to per-user rooms. mu guards rooms,
// total and closed; it is taken before any room lock.
type feedHub struct {
	logger       log.Log
	pingInterval time.Duration
	maxConns     int

	rooms  map[int64]*Room
	mu     sync.Mutex
	total  int64
	closed bool
	wg     sync.WaitGroup
}

func newFeedHub(logger log.Log, pingInterval time.Duration, maxConns int) *feedHub {
	return &feedHub{
		logger:       logger,
		pingInterval: pingInterval,
		maxConns:     maxConns,
		rooms:        make(map[int64]*Room),
	}
}

// reserve claims a connection slot and the two loop goroutines of one
// subscriber. Every successful reserve is paired with join or release.
func (h *feedHub) reserve() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrServerClosed
	}
	if h.maxConns > 0 && h.total >= int64(h.maxConns) {
		return ErrTooManyConnections
	}
	h.total++
	h.wg.Add(2)
	return nil
}

// release gives back a slot whose subscriber never started its loops.
func (h *feedHub) release() {
	h.mu.Lock()
	h.total--
	h.mu.Unlock()
	h.wg.Add(-2)
}

// join puts sub into its user's room. It fails once closeAll has run, in
// which case the caller must release the slot.
func (h *feedHub) join(userID int64, sub *subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrServerClosed
	}
	room, exists := h.rooms[userID]
	if !exists {
		room = &Room{clients: make(map[*subscriber]bool)}
		h.rooms[userID] = room
	}
	room.mu.Lock()
	room.clients[sub] = true
	room.mu.Unlock()
	return nil
}

func (h *feedHub) leave(userID int64, sub *subscriber) {
	h.mu.Lock()
	if room, ok := h.rooms[userID]; ok {
		room.mu.Lock()
		if room.clients[sub] {
			delete(room.clients, sub)
			h.total--
		}
		room.mu.Unlock()
	}
	h.mu.Unlock()
	sub.stop()
}

// broadcast queues event for every connection of userID. A connection
// whose queue is full is dropped; the client reconnects and resyncs.
func (h *feedHub) broadcast(userID int64, event protocol.FeedEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to encode feed event", log.Error(err))
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[userID]
	h.mu.Unlock()
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	for sub := range room.clients {
		select {
		case sub.send <- data:
		default:
			h.logger.Warn("Feed subscriber is not keeping up, dropping it",
				log.Int64("user_id", userID))
			sub.stop()
		}
	}
}

func (h *feedHub) count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// closeAll refuses new subscribers, stops every current one and waits for
// their loops to end. Later calls only wait.
func (h *feedHub) closeAll() {
	h.mu.Lock()
	h.closed = true
	for _, room := range h.rooms {
		room.mu.Lock()
		for sub := range room.clients {
			sub.stop()
		}
		room.mu.Unlock()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFromContext(r.Context())
	if err := s.feed.reserve(); err != nil {
		s.logger.Warn("Rejecting feed connection",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.feed.release()
		s.logger.Debug("Feed upgrade failed", log.Error(err))
		return
	}

	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	if err := s.feed.join(id.ID, sub); err != nil {
		// closed between reserve and join
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()), time.Now().Add(time.Second))
		_ = conn.Close()
		s.feed.release()
		return
	}

	logger := s.logger.With(
		log.Int64("user_id", id.ID),
		log.String("remote_addr", conn.RemoteAddr().String()))
	logger.Info("Feed subscriber connected", log.Int64("total_subscribers", s.feed.count()))

	go func() {
		defer s.feed.wg.Done()
		s.feed.readLoop(sub)
	}()
	go func() {
		defer s.feed.wg.Done()
		s.feed.writeLoop(sub, logger)
		s.feed.leave(id.ID, sub)
		logger.Info("Feed subscriber disconnected", log.Int64("total_subscribers", s.feed.count()))
	}()
}

// readLoop drains the connection so control frames are processed and
// stops the subscriber once the peer goes away.
func (h *feedHub) readLoop(sub *subscriber) {
	defer sub.stop()
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *feedHub) writeLoop(sub *subscriber, logger log.Log) {
	defer sub.conn.Close()

	var pings <-chan time.Time
	if h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	for {
		select {
		case data := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("Feed write failed", log.Error(err))
				return
			}
		case <-pings:
			if err := sub.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("Feed ping failed", log.Error(err))
				return
			}
		case <-sub.done:
			_ = sub.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		}
	}
}
