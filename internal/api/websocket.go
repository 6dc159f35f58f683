package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-actionbridge/internal/audit"
	"github.com/nerrad567/gray-logic-actionbridge/internal/dispatch"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// ChannelCommandOutcome carries one event per finished device job. Peers
// start out subscribed to it.
const ChannelCommandOutcome = "command.outcome"

const peerQueueSize = 256

// WSMessage is the envelope for every frame in either direction.
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

// wsRequest is an inbound WSMessage with its payload left undecoded.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The cors middleware has already vetted the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans events out to connected WebSocket peers. As a dispatch.Recorder
// it streams every command outcome.
type Hub struct {
	logger *logging.Logger

	mu    sync.RWMutex
	peers map[*wsPeer]struct{}
}

// NewHub returns an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{logger: logger, peers: make(map[*wsPeer]struct{})}
}

// Run blocks until ctx ends, then disconnects every peer.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	for p := range h.peers {
		p.shutdown()
		delete(h.peers, p)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// RecordOutcome broadcasts a finished job on ChannelCommandOutcome.
func (h *Hub) RecordOutcome(_ context.Context, o dispatch.Outcome) {
	h.Broadcast(ChannelCommandOutcome, audit.FromOutcome(o))
}

// Broadcast queues an event for every peer subscribed to channel. Peers
// with a full queue miss the event; the caller is never blocked.
func (h *Hub) Broadcast(channel string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: now(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("websocket event encode failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		if p.wants(channel) {
			p.enqueue(frame)
		}
	}
}

func (h *Hub) join(p *wsPeer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	h.logger.Debug("websocket peer joined", "clients", n)
}

func (h *Hub) leave(p *wsPeer) {
	h.mu.Lock()
	delete(h.peers, p)
	n := len(h.peers)
	h.mu.Unlock()
	p.shutdown()
	h.logger.Debug("websocket peer left", "clients", n)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	p := &wsPeer{
		conn:     conn,
		logger:   s.logger,
		queue:    make(chan []byte, peerQueueSize),
		done:     make(chan struct{}),
		channels: map[string]bool{ChannelCommandOutcome: true},
	}
	s.hub.join(p)

	go p.writeLoop(s.wsCfg)
	go func() {
		p.readLoop(s.wsCfg)
		s.hub.leave(p)
	}()
}

// wsPeer is one WebSocket connection. queue is never closed; done signals
// the writer to stop.
type wsPeer struct {
	conn   *websocket.Conn
	logger *logging.Logger
	queue  chan []byte
	done   chan struct{}
	once   sync.Once

	mu       sync.RWMutex
	channels map[string]bool
}

func (p *wsPeer) shutdown() {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

func (p *wsPeer) enqueue(frame []byte) {
	select {
	case <-p.done:
	case p.queue <- frame:
	default:
	}
}

func (p *wsPeer) wants(channel string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.channels[channel]
}

// readLoop handles inbound frames until the connection fails. Any frame,
// pong or not, extends the read deadline.
func (p *wsPeer) readLoop(cfg config.WebSocketConfig) {
	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error { return p.conn.SetReadDeadline(time.Now().Add(idle)) }

	p.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	p.conn.SetPongHandler(extend)
	_ = extend("")

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = extend("")
		p.handle(data)
	}
}

// writeLoop drains the queue and pings every PingInterval.
func (p *wsPeer) writeLoop(cfg config.WebSocketConfig) {
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer ping.Stop()

	write := func(kind int, data []byte) error {
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return p.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case <-p.done:
			return
		case frame := <-p.queue:
			err = write(websocket.TextMessage, frame)
		case <-ping.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			p.shutdown()
			return
		}
	}
}

func (p *wsPeer) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		p.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch req.Type {
	case WSTypePing:
		p.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if err := json.Unmarshal(req.Payload, &sub); err != nil {
			p.reply(req.ID, WSTypeError, map[string]string{"message": "invalid " + req.Type + " payload"})
			return
		}
		on := req.Type == WSTypeSubscribe
		p.mu.Lock()
		for _, ch := range sub.Channels {
			if on {
				p.channels[ch] = true
			} else {
				delete(p.channels, ch)
			}
		}
		p.mu.Unlock()
		p.reply(req.ID, WSTypeResponse, map[string]any{req.Type + "d": sub.Channels})
	default:
		p.reply(req.ID, WSTypeError, map[string]string{"message": "unknown message type: " + req.Type})
	}
}

func (p *wsPeer) reply(id, kind string, payload any) {
	frame, err := json.Marshal(WSMessage{Type: kind, ID: id, Timestamp: now(), Payload: payload})
	if err != nil {
		return
	}
	p.enqueue(frame)
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }
