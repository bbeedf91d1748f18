package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/knxsync/internal/infrastructure/logging"
	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/syncer"
)

// Hub fans dispatcher events out to websocket sessions. Each event is
// published on the channel named after its kind. It implements
// syncer.Observer.
type Hub struct {
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[*wsSession]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[*wsSession]struct{}),
	}
}

// Run blocks until ctx is done, then ends every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Observe publishes ev to sessions subscribed to its kind. Sessions whose
// queue is full miss the event.
func (h *Hub) Observe(ev syncer.Event) {
	if h.ClientCount() == 0 {
		return
	}
	h.Broadcast(string(ev.Kind), ev)
}

// Broadcast publishes payload on channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	for _, s := range h.snapshot() {
		if s.subscribed(channel) {
			s.enqueue(data)
		}
	}
}

// busTelegram is the payload of "bus" channel events.
type busTelegram struct {
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination"`
	Type        string `json:"type"`
	Data        string `json:"data,omitempty"`
}

// StreamBus publishes every telegram from telegrams on the "bus" channel
// until the stream closes. Feed it from the bus adapter's Monitor.
func (h *Hub) StreamBus(telegrams <-chan knx.Telegram) {
	for t := range telegrams {
		if h.ClientCount() == 0 {
			continue
		}
		h.Broadcast(wsChannelBus, busTelegram{
			Source:      t.Source,
			Destination: t.Destination.String(),
			Type:        t.Type(),
			Data:        t.Payload.String(),
		})
	}
}

// ClientCount returns the number of open sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) snapshot() []*wsSession {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*wsSession, 0, len(h.sessions))
	for s := range h.sessions {
		out = append(out, s)
	}
	return out
}

func (h *Hub) add(s *wsSession) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n, "subject", s.subject)
}

func (h *Hub) remove(s *wsSession) {
	h.mu.Lock()
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()
	s.stop()
	h.logger.Debug("websocket client disconnected", "clients", n, "subject", s.subject)
}

func (h *Hub) closeAll() {
	for _, s := range h.snapshot() {
		h.remove(s)
	}
}
