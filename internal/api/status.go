package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/knxsync/internal/knx"
	"github.com/nerrad567/knxsync/internal/syncer"
)

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Sync          SyncStatus     `json:"sync"`
	Bus           *BusMetrics    `json:"bus,omitempty"`
	MQTT          *MQTTMetrics   `json:"mqtt,omitempty"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
}

// SyncStatus describes the dispatcher.
type SyncStatus struct {
	Status   syncer.Status `json:"status"`
	Entities []string      `json:"entities"`
	Count    int           `json:"count"`
}

// BusMetrics contains knxd connection statistics.
type BusMetrics struct {
	Connected        bool       `json:"connected"`
	Reconnecting     bool       `json:"reconnecting"`
	TelegramsTx      uint64     `json:"telegrams_tx"`
	TelegramsRx      uint64     `json:"telegrams_rx"`
	TelegramsDropped uint64     `json:"telegrams_dropped"`
	Errors           uint64     `json:"errors"`
	Reconnects       uint64     `json:"reconnects"`
	LastActivity     *time.Time `json:"last_activity,omitempty"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// handleStatus reports the engine, bus and MQTT state.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	entities := s.syncer.Entities()
	resp := StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Sync: SyncStatus{
			Status:   s.syncer.Status(),
			Entities: entities,
			Count:    len(entities),
		},
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
	}

	if s.bus != nil {
		resp.Bus = busMetrics(s.bus.Stats())
	}
	if s.mqtt != nil {
		resp.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}

	writeJSON(w, http.StatusOK, resp)
}

func busMetrics(stats knx.Stats) *BusMetrics {
	m := &BusMetrics{
		Connected:        stats.Connected,
		Reconnecting:     stats.Reconnecting,
		TelegramsTx:      stats.TelegramsTx,
		TelegramsRx:      stats.TelegramsRx,
		TelegramsDropped: stats.TelegramsDropped,
		Errors:           stats.ErrorsTotal,
		Reconnects:       stats.ReconnectsTotal,
	}
	if stats.LastActivity.Unix() > 0 {
		last := stats.LastActivity.UTC()
		m.LastActivity = &last
	}
	return m
}

// handleListAddresses returns the group addresses recorded from bus traffic.
func (s *Server) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	if s.addresses == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "address recording is disabled")
		return
	}

	addresses, err := s.addresses.ListGroupAddresses(r.Context())
	if err != nil {
		s.logger.Error("failed to list group addresses", "error", err)
		writeInternalError(w, "failed to list group addresses")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"addresses": addresses,
		"count":     len(addresses),
	})
}
