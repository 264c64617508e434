package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"station-navigation/internal/navigation"
)

type ManagerOptions struct {
	ArrivalThreshold  float64
	PermissionTimeout time.Duration
	PositionTimeout   time.Duration
}

func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		ArrivalThreshold:  navigation.DefaultArrivalThreshold,
		PermissionTimeout: 10 * time.Second,
		PositionTimeout:   10 * time.Second,
	}
}

// Manager keeps track of connected devices, one navigation session each.
type Manager struct {
	clients       map[string]*Client
	register      chan *Client
	unregister    chan *Client
	mu            sync.RWMutex
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *slog.Logger
	snapshotCache navigation.SnapshotCache
	planner       navigation.RoutePlanner
	opts          ManagerOptions
}

func NewManager(ctx context.Context, logger *slog.Logger, snapshotCache navigation.SnapshotCache, planner navigation.RoutePlanner, options ...ManagerOptions) *Manager {
	opts := DefaultManagerOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		clients:       make(map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		snapshotCache: snapshotCache,
		planner:       planner,
		opts:          opts,
	}
}

func (m *Manager) Start() {
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			if previous, ok := m.clients[client.ID]; ok && previous != client {
				// Same user reconnected, the old connection is dropped.
				previous.Close()
			}
			m.clients[client.ID] = client
			m.mu.Unlock()
			m.logger.Info("client connected", "clientID", client.ID)
		case client := <-m.unregister:
			m.mu.Lock()
			if current, ok := m.clients[client.ID]; ok && current == client {
				delete(m.clients, client.ID)
				m.logger.Info("client disconnected", "clientID", client.ID)
			}
			m.mu.Unlock()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) HandleNewConnection(clientID string, conn *websocket.Conn) {
	client := NewClient(clientID, conn, m)
	client.Start()
}

// Clients returns the connected clients at the time of the call.
func (m *Manager) Clients() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	return clients
}

func (m *Manager) forceDisconnect(c *Client) {
	m.logger.Warn("client too slow, disconnecting", "clientID", c.ID)
	c.Close()
}

func (m *Manager) Shutdown() {
	m.cancel()
	for _, client := range m.Clients() {
		client.Close()
	}
}
