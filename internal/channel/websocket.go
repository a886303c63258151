package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"walletgate/internal/domain"
	"walletgate/internal/requestid"
)

// WSConfig configures the WebSocket channel.
type WSConfig struct {
	Port   int
	Path   string // WebSocket endpoint path (default: /ws)
	Logger *slog.Logger
}

// WebSocketChannel carries requests and verdicts over a persistent
// connection, for extensions that prefer a stream over per-request HTTP.
type WebSocketChannel struct {
	port   int
	path   string
	bus    domain.MessageBus
	logger *slog.Logger
	server *http.Server

	mu      sync.RWMutex
	clients map[string]*wsClient

	// request id -> client id, so verdicts find their way back
	routes   map[string]string
	routesMu sync.Mutex
}

// wsClient tracks a connected WebSocket client.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// WSMessage is the JSON frame protocol.
type WSMessage struct {
	Type    string          `json:"type"` // "request" | "verdict" | "status"
	Request *domain.Request `json:"request,omitempty"`
	Verdict *domain.Verdict `json:"verdict,omitempty"`
	Content string          `json:"content,omitempty"`
	Error   string          `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Loopback-only service; origin carries no signal here.
	},
}

func NewWebSocketChannel(cfg WSConfig) *WebSocketChannel {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Port == 0 {
		cfg.Port = 8744
	}
	return &WebSocketChannel{
		port:    cfg.Port,
		path:    cfg.Path,
		logger:  cfg.Logger,
		clients: make(map[string]*wsClient),
		routes:  make(map[string]string),
	}
}

func (ws *WebSocketChannel) Name() string { return "websocket" }

// Start begins the WebSocket server and blocks until ctx is done.
func (ws *WebSocketChannel) Start(ctx context.Context, bus domain.MessageBus) error {
	ws.bus = bus

	mux := http.NewServeMux()
	mux.HandleFunc(ws.path, ws.handleUpgrade)

	ws.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", ws.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	bus.OnVerdict("websocket", func(msg domain.OutboundVerdict) {
		ws.routesMu.Lock()
		clientID, ok := ws.routes[msg.Verdict.RequestID]
		if ok {
			delete(ws.routes, msg.Verdict.RequestID)
		}
		ws.routesMu.Unlock()
		if !ok {
			clientID = msg.ClientID
		}
		ws.sendToClient(clientID, WSMessage{Type: "verdict", Verdict: &msg.Verdict})
	})

	ws.logger.Info("websocket server starting", "port", ws.port, "path", ws.path)

	errCh := make(chan error, 1)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ws.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ws.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (ws *WebSocketChannel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	clientID := fmt.Sprintf("ws-%p", conn)
	client := &wsClient{conn: conn}

	ws.mu.Lock()
	ws.clients[clientID] = client
	ws.mu.Unlock()

	ws.logger.Info("websocket client connected", "client_id", clientID)
	client.send(WSMessage{Type: "status", Content: "connected"})

	defer func() {
		ws.mu.Lock()
		delete(ws.clients, clientID)
		ws.mu.Unlock()
		conn.Close()
		ws.logger.Info("websocket client disconnected", "client_id", clientID)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var frame WSMessage
		if err := json.Unmarshal(message, &frame); err != nil {
			ws.logger.Warn("invalid websocket frame", "err", err)
			client.send(WSMessage{Type: "status", Error: "invalid frame"})
			continue
		}

		switch frame.Type {
		case "request":
			if frame.Request == nil {
				client.send(WSMessage{Type: "status", Error: "request frame without request"})
				continue
			}
			req := *frame.Request
			if req.ID == "" {
				req.ID = requestid.New()
			}
			// Bypassed requests get no verdict, so no route either.
			if !req.Bypassed {
				ws.routesMu.Lock()
				ws.routes[req.ID] = clientID
				ws.routesMu.Unlock()
			}
			ws.bus.Publish(domain.InboundRequest{
				Channel:    "websocket",
				ClientID:   clientID,
				Request:    req,
				ReceivedAt: time.Now(),
			})

		default:
			ws.logger.Debug("unhandled frame type", "type", frame.Type)
		}
	}
}

func (ws *WebSocketChannel) sendToClient(clientID string, msg WSMessage) {
	ws.mu.RLock()
	client, ok := ws.clients[clientID]
	ws.mu.RUnlock()
	if !ok {
		ws.logger.Warn("verdict for disconnected websocket client", "client_id", clientID)
		return
	}
	client.send(msg)
}

func (c *wsClient) send(msg WSMessage) {
	data, _ := json.Marshal(msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.TextMessage, data)
}

func (ws *WebSocketChannel) closeAllClients() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, client := range ws.clients {
		client.conn.Close()
		delete(ws.clients, id)
	}
}
