package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/knxsync/internal/syncer"
)

// Message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	wsQueueSize      = 256
	wsMaxMessageSize = 8192
	wsPingInterval   = 30 * time.Second
	wsWriteWait      = 10 * time.Second
	wsReadWait       = wsPingInterval + wsWriteWait
)

// wsChannelBus carries raw bus traffic, including telegrams no entity is
// bound to.
const wsChannelBus = "bus"

// wsChannels are the subscribable channels: one per dispatcher event kind,
// plus the bus monitor.
var wsChannels = []string{
	string(syncer.EventStateChange),
	string(syncer.EventTelegram),
	string(syncer.EventReload),
	wsChannelBus,
}

// WSMessage is the envelope of every websocket frame.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is an inbound WSMessage with the payload left undecoded.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser origins are restricted by the CORS middleware and the ticket.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsSession is one upgraded connection. The read loop handles requests;
// the write loop owns all writes to conn.
type wsSession struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string

	queue    chan []byte
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	channels map[string]struct{}
}

// handleWebSocket upgrades a request carrying a ticket from
// POST /auth/ws-ticket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthorized(w, "ticket query parameter is required")
		return
	}
	entry, ok := s.tickets.redeem(ticket)
	if !ok {
		writeUnauthorized(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered.
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r))
		return
	}

	sess := &wsSession{
		hub:      s.hub,
		conn:     conn,
		subject:  entry.subject,
		queue:    make(chan []byte, wsQueueSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
	s.hub.add(sess)

	go sess.writeLoop()
	go sess.readLoop()
}

func (s *wsSession) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// enqueue queues data unless the session ended or its queue is full.
func (s *wsSession) enqueue(data []byte) {
	select {
	case <-s.done:
	case s.queue <- data:
	default:
	}
}

func (s *wsSession) subscribed(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[channel]
	return ok
}

func (s *wsSession) readLoop() {
	defer s.hub.remove(s)

	s.conn.SetReadLimit(wsMaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsReadWait)) //nolint:errcheck // surfaces on next read
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsReadWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("websocket read failed", "error", err, "subject", s.subject)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(wsReadWait)) //nolint:errcheck // surfaces on next read
		s.handle(data)
	}
}

func (s *wsSession) writeLoop() {
	ping := time.NewTicker(wsPingInterval)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck // surfaces on write
		return s.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-s.done:
			_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "")) //nolint:errcheck // closing anyway
			return
		case data := <-s.queue:
			if write(websocket.TextMessage, data) != nil {
				s.stop()
				return
			}
		case <-ping.C:
			if write(websocket.PingMessage, nil) != nil {
				s.stop()
				return
			}
		}
	}
}

func (s *wsSession) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.fail("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypePing:
		s.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &p) != nil {
			s.fail(req.ID, "invalid "+req.Type+" payload")
			return
		}
		if req.Type == WSTypeSubscribe {
			s.subscribe(req.ID, p.Channels)
		} else {
			s.unsubscribe(req.ID, p.Channels)
		}
	default:
		s.fail(req.ID, "unknown message type: "+req.Type)
	}
}

// subscribe adds channels; one unknown channel rejects the request.
func (s *wsSession) subscribe(id string, channels []string) {
	for _, ch := range channels {
		if !slices.Contains(wsChannels, ch) {
			s.fail(id, "unknown channel: "+ch)
			return
		}
	}

	s.mu.Lock()
	for _, ch := range channels {
		s.channels[ch] = struct{}{}
	}
	s.mu.Unlock()

	s.hub.logger.Debug("websocket client subscribed", "channels", channels, "subject", s.subject)
	s.reply(id, WSTypeResponse, map[string]any{"subscribed": channels})
}

func (s *wsSession) unsubscribe(id string, channels []string) {
	s.mu.Lock()
	for _, ch := range channels {
		delete(s.channels, ch)
	}
	s.mu.Unlock()

	s.reply(id, WSTypeResponse, map[string]any{"unsubscribed": channels})
}

func (s *wsSession) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	s.enqueue(data)
}

func (s *wsSession) fail(id, message string) {
	s.reply(id, WSTypeError, map[string]string{"message": message})
}
