package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/internal/codec"
	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/terminal"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Terminals is the tab-level terminal surface the handler drives.
type Terminals interface {
	Scrollback(index string) ([]byte, int64, error)
	State(index string) (terminal.State, error)
	Input(index string, data []byte) error
	Resize(index string, g model.Geometry) error
}

// Handler handles WebSocket connections for tab terminals.
type Handler struct {
	hubManager *HubManager
	terminals  Terminals
	upgrader   websocket.Upgrader
	log        *zap.Logger
}

// NewHandler creates a new WebSocket handler. Upgrades from origins the
// policy rejects fail with 403; a nil policy means DefaultAllowedOrigins.
func NewHandler(hubManager *HubManager, terminals Terminals, origins *OriginPolicy, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if origins == nil {
		origins = NewOriginPolicy(nil)
	}
	return &Handler{
		hubManager: hubManager,
		terminals:  terminals,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckRequest,
		},
		log: log,
	}
}

// HandleConnection upgrades the request and attaches the client to the tab.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, index string) error {
	if _, err := h.terminals.State(index); err != nil {
		if errors.Is(err, model.ErrTabNotFound) {
			http.Error(w, "Tab not found", http.StatusNotFound)
			return nil
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return nil
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	hub := h.hubManager.GetOrCreate(index)
	hub.SetOnMessage(func(c *Client, msg *Message) {
		h.handleMessage(c, msg)
	})
	client := NewClient(hub, conn, index)

	if err := hub.Attach(client, h.terminals); err != nil {
		// The tab went away between the lookup and the upgrade.
		h.log.Debug("attach failed", zap.String("tab", index), zap.Error(err))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()), time.Now().Add(writeWait))
		conn.Close()
		return nil
	}
	h.log.Debug("client attached", zap.String("tab", index), zap.Int("clients", hub.ClientCount()))

	go h.writePump(client)
	go h.readPump(client, hub)
	return nil
}

// handleMessage processes incoming messages from clients.
func (h *Handler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case MessageTypeStdin:
		h.handleStdin(client, msg)
	case MessageTypeResize:
		h.handleResize(client, msg)
	case MessageTypePing:
		client.SendMessage(&Message{Type: MessageTypePong})
	default:
		h.log.Debug("unknown message type", zap.String("type", string(msg.Type)))
	}
}

func (h *Handler) handleStdin(client *Client, msg *Message) {
	if msg.Data == "" {
		return
	}
	data, ok := codec.DecodeFrame(h.log, msg.Data)
	if !ok {
		return
	}
	if err := h.terminals.Input(client.TabIndex(), data); err != nil {
		h.log.Debug("stdin dropped", zap.String("tab", client.TabIndex()), zap.Error(err))
		client.SendMessage(&Message{Type: MessageTypeError, Error: err.Error()})
	}
}

// handleResize feeds the geometry to the controller, which debounces it.
func (h *Handler) handleResize(client *Client, msg *Message) {
	g := model.Geometry{Cols: msg.Cols, Rows: msg.Rows}
	if err := h.terminals.Resize(client.TabIndex(), g); err != nil {
		h.log.Debug("resize rejected", zap.String("tab", client.TabIndex()), zap.Error(err))
	}
}

// readPump pumps messages from the WebSocket connection to the hub.
func (h *Handler) readPump(client *Client, hub *Hub) {
	defer func() {
		hub.Unregister(client)
		client.Conn().Close()
		h.log.Debug("client detached", zap.String("tab", client.TabIndex()))
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", zap.String("tab", client.TabIndex()), zap.Error(err))
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			h.log.Warn("invalid websocket message", zap.Error(err))
			continue
		}

		hub.HandleMessage(client, &msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// BroadcastOutput sends terminal output ending at stream offset end to the
// clients of a tab.
func (h *Handler) BroadcastOutput(index string, data []byte, end int64) {
	hub := h.hubManager.Get(index)
	if hub == nil {
		return
	}
	if err := hub.BroadcastOutput(data, end); err != nil {
		h.log.Warn("broadcast output failed", zap.String("tab", index), zap.Error(err))
	}
}

// BroadcastStatus sends a state change to the clients of a tab.
func (h *Handler) BroadcastStatus(index string, state terminal.State) {
	hub := h.hubManager.Get(index)
	if hub == nil {
		return
	}
	hub.BroadcastMessage(&Message{Type: MessageTypeStatus, State: state.String()})
}
