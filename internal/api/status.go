package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-actionbridge/internal/dispatch"
)

const bytesPerMB = 1024 * 1024

// SystemStatus is the /status response.
type SystemStatus struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeStatus  `json:"runtime"`
	Dispatcher    dispatch.Stats `json:"dispatcher"`
	MQTTConnected *bool          `json:"mqtt_connected,omitempty"`
	Devices       int            `json:"devices"`
	WSClients     int            `json:"websocket_clients"`
}

// RuntimeStatus contains Go runtime statistics.
type RuntimeStatus struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// handleStatus reports dispatcher counters alongside runtime stats.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Runtime: RuntimeStatus{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / bytesPerMB,
			NumGC:         mem.NumGC,
		},
		Dispatcher: s.dispatcher.Stats(),
		Devices:    s.registry.Count(),
		WSClients:  s.hub.ClientCount(),
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		status.MQTTConnected = &connected
	}

	writeJSON(w, http.StatusOK, status)
}
