package dashboard

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"signalpulse/internal/session"
	"signalpulse/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClient struct {
	sessionID string
	send      chan session.Snapshot
	done      chan struct{}
	once      sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans session snapshots out to the websocket clients of that session.
// Publish is intended as the controller's OnChange callback.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{}
	log     *logger.Log
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*wsClient]struct{}),
		log:     logger.GetLogger(),
	}
}

// Publish queues a snapshot for every client of its session. Slow clients
// skip intermediate snapshots, and a client never receives a snapshot older
// than one it was already sent.
func (h *Hub) Publish(snap session.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[snap.ID] {
		select {
		case c.send <- snap:
		default:
			select {
			case <-c.send:
			default:
			}
			select {
			case c.send <- snap:
			default:
			}
		}
	}
}

// Clients returns the number of connected clients for a session.
func (h *Hub) Clients(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.sessionID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.clients[c.sessionID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.sessionID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.sessionID)
		}
	}
	c.close()
}

// Drop disconnects every client of an evicted session.
func (h *Hub) Drop(sessionID string) {
	h.mu.Lock()
	set := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()
	for c := range set {
		c.close()
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*wsClient]struct{})
	h.mu.Unlock()
	for _, set := range all {
		for c := range set {
			c.close()
		}
	}
}

func (s *Server) serveWS(c *gin.Context) {
	ctl := controllerFrom(c)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithComponent("websocket").WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := &wsClient{
		sessionID: ctl.ID(),
		send:      make(chan session.Snapshot, sendBuffer),
		done:      make(chan struct{}),
	}
	client.send <- ctl.Snapshot()
	s.hub.add(client)

	log := s.log.WithComponent("websocket").WithFields(logger.Fields{"session_id": client.sessionID})
	log.Debug("websocket client connected")

	go s.hub.readPump(conn, client)
	s.hub.writePump(conn, client)
	log.Debug("websocket client disconnected")
}

// readPump discards client frames and detects disconnects.
func (h *Hub) readPump(conn *websocket.Conn, c *wsClient) {
	defer h.remove(c)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	var last uint64
	defer func() {
		ticker.Stop()
		h.remove(c)
		_ = conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case snap := <-c.send:
			if snap.Seq <= last {
				continue
			}
			last = snap.Seq
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				h.log.WithComponent("websocket").WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
