package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/remote-agent-terminal/tabmux/internal/codec"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeStdin  MessageType = "stdin"
	MessageTypeResize MessageType = "resize"
	MessageTypePing   MessageType = "ping"

	// Server -> Client message types
	MessageTypeStdout  MessageType = "stdout"
	MessageTypeStatus  MessageType = "status"
	MessageTypeHistory MessageType = "history"
	MessageTypePong    MessageType = "pong"
	MessageTypeError   MessageType = "error"
)

// Message represents a WebSocket message. Data is base64.
type Message struct {
	Type  MessageType `json:"type"`
	Data  string      `json:"data,omitempty"`
	Rows  int         `json:"rows,omitempty"`
	Cols  int         `json:"cols,omitempty"`
	State string      `json:"state,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Client is one WebSocket attached to a tab.
//
// offset is the position in the tab's output stream up to which the client
// has been served, through the history message or live stdout. Output ending
// at or before it is not sent again.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	index  string
	send   chan []byte
	mu     sync.Mutex
	closed bool
	offset int64
}

// NewClient creates a client for the tab. It starts at offset zero.
func NewClient(hub *Hub, conn *websocket.Conn, index string) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		index: index,
		send:  make(chan []byte, 256),
	}
}

// Send queues a frame. A client whose queue is full is closed.
func (c *Client) Send(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(data)
}

func (c *Client) sendLocked(data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.closeLocked()
	}
}

// SendMessage marshals and queues msg.
func (c *Client) SendMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.Send(data)
	return nil
}

// sendOutput queues the part of a stdout chunk the client has not seen.
// The chunk covers stream positions [end-len(data), end); frame is its
// pre-encoded stdout message.
func (c *Client) sendOutput(data []byte, end int64, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := end - int64(len(data))
	switch {
	case end <= c.offset:
		return
	case start >= c.offset:
		c.sendLocked(frame)
	default:
		rest, err := json.Marshal(&Message{Type: MessageTypeStdout, Data: codec.Encode(data[c.offset-start:])})
		if err != nil {
			return
		}
		c.sendLocked(rest)
	}
	c.offset = end
}

// Offset returns the stream position the client has been served up to.
func (c *Client) Offset() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// Close closes the client's queue; the write pump then closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// TabIndex returns the tab this client is attached to.
func (c *Client) TabIndex() string {
	return c.index
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the send channel for the client.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Hub fans the activity of one tab out to its attached clients.
type Hub struct {
	index   string
	clients map[*Client]bool
	mu      sync.RWMutex

	onMessage func(client *Client, msg *Message)
}

// NewHub creates a new Hub for the given tab.
func NewHub(index string) *Hub {
	return &Hub{
		index:   index,
		clients: make(map[*Client]bool),
	}
}

// TabIndex returns the tab index of this hub.
func (h *Hub) TabIndex() string {
	return h.index
}

// SetOnMessage sets the callback for incoming messages.
func (h *Hub) SetOnMessage(callback func(client *Client, msg *Message)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onMessage = callback
}

// Attach registers client with the tab's scrollback and state as greeting.
// Both are read under the hub lock, so every chunk broadcast afterwards is
// either part of the history or delivered as stdout, exactly once.
func (h *Hub) Attach(client *Client, terms Terminals) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	history, end, err := terms.Scrollback(h.index)
	if err != nil {
		return err
	}
	state, err := terms.State(h.index)
	if err != nil {
		return err
	}

	client.mu.Lock()
	client.offset = end
	client.mu.Unlock()

	if len(history) > 0 {
		client.SendMessage(&Message{Type: MessageTypeHistory, Data: codec.Encode(history)})
	}
	client.SendMessage(&Message{Type: MessageTypeStatus, State: state.String()})
	h.clients[client] = true
	return nil
}

// Register adds a client without a greeting. It receives all output
// broadcast from now on.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	client.Close()
}

// Broadcast sends a raw frame to all connected clients.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		client.Send(data)
	}
}

// BroadcastMessage sends a Message to all connected clients.
func (h *Hub) BroadcastMessage(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// BroadcastOutput sends a chunk of tab output ending at stream offset end.
// Each client receives only the bytes past its own offset.
func (h *Hub) BroadcastOutput(data []byte, end int64) error {
	if len(data) == 0 {
		return nil
	}
	frame, err := json.Marshal(&Message{Type: MessageTypeStdout, Data: codec.Encode(data)})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.sendOutput(data, end, frame)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HasClients returns true if there are connected clients.
func (h *Hub) HasClients() bool {
	return h.ClientCount() > 0
}

// HandleMessage processes an incoming message from a client.
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	h.mu.RLock()
	callback := h.onMessage
	h.mu.RUnlock()

	if callback != nil {
		callback(client, msg)
	}
}

// Close closes all client connections.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}

// HubManager keeps one hub per tab index.
type HubManager struct {
	hubs map[string]*Hub
	mu   sync.RWMutex
}

// NewHubManager creates a new HubManager.
func NewHubManager() *HubManager {
	return &HubManager{
		hubs: make(map[string]*Hub),
	}
}

// GetOrCreate returns the tab's hub, creating it on first attach.
func (m *HubManager) GetOrCreate(index string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[index]; ok {
		return hub
	}

	hub := NewHub(index)
	m.hubs[index] = hub
	return hub
}

// Get returns the hub for the tab, or nil if not found.
func (m *HubManager) Get(index string) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[index]
}

// Remove closes and removes the hub for the tab.
func (m *HubManager) Remove(index string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[index]; ok {
		hub.Close()
		delete(m.hubs, index)
	}
}

// Close closes all hubs.
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hub := range m.hubs {
		hub.Close()
	}
	m.hubs = make(map[string]*Hub)
}
