package ws

import (
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/internal/terminal"
)

// Service connects the session manager's tab activity to attached clients.
// It implements session.Observer.
type Service struct {
	hubManager *HubManager
	handler    *Handler
	log        *zap.Logger
}

// NewService creates a new WebSocket service. origins gates the upgrade.
func NewService(terminals Terminals, origins *OriginPolicy, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	hubManager := NewHubManager()
	return &Service{
		hubManager: hubManager,
		handler:    NewHandler(hubManager, terminals, origins, log),
		log:        log,
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// HubManager returns the hub manager.
func (s *Service) HubManager() *HubManager {
	return s.hubManager
}

// TabOutput broadcasts terminal output ending at stream offset end.
func (s *Service) TabOutput(index string, data []byte, end int64) {
	s.handler.BroadcastOutput(index, data, end)
}

// TabState broadcasts a state change.
func (s *Service) TabState(index string, state terminal.State) {
	s.handler.BroadcastStatus(index, state)
}

// TabClosed disconnects every client of a closed tab.
func (s *Service) TabClosed(index string) {
	if hub := s.hubManager.Get(index); hub != nil {
		s.log.Debug("closing attached clients", zap.String("tab", index), zap.Int("clients", hub.ClientCount()))
	}
	s.hubManager.Remove(index)
}

// ClientCount returns the number of clients attached to a tab.
func (s *Service) ClientCount(index string) int {
	hub := s.hubManager.Get(index)
	if hub == nil {
		return 0
	}
	return hub.ClientCount()
}

// Close closes all WebSocket connections.
func (s *Service) Close() {
	s.hubManager.Close()
}
