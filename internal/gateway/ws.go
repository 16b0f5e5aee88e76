package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"goa.design/agentcore/internal/stream"
)

// Hub serves events() (spec §6) over WebSocket: each connection gets its
// own stream.Subscriber, pre-seeded with the replay buffer and then fed
// live, pumped to the socket by a dedicated writer goroutine. Grounded on
// dohr-michael-ozzie's gateway/ws.Hub, simplified to one global stream
// instead of per-session fan-out since EventCoordinator is itself the
// single process-wide publisher (spec §4.5).
type Hub struct {
	gw *Gateway

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	sub  *stream.Subscriber
}

func newHub(gw *Gateway) *Hub {
	return &Hub{gw: gw, clients: make(map[*wsClient]struct{})}
}

// ServeWS upgrades the request and streams SessionEvents to the client
// until it disconnects or the server closes the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}

	client := &wsClient{conn: conn, sub: h.gw.Events()}
	h.register(client)
	defer h.unregister(client)

	ctx := r.Context()
	go client.drainReads(ctx)
	client.pump(ctx)
}

// drainReads discards inbound frames (this surface is publish-only) purely
// to detect client-initiated close, matching the teacher's readPump role.
func (c *wsClient) drainReads(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (c *wsClient) pump(ctx context.Context) {
	for {
		ev, ok := c.sub.Next(ctx)
		if !ok {
			_ = c.conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.sub.Close()
}

// Close disconnects every client, for process shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.sub.Close()
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutdown")
	}
	h.clients = make(map[*wsClient]struct{})
}
