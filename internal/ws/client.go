package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-playground/validator/v10"

	"station-navigation/internal/cache"
	"station-navigation/internal/navigation"
	"station-navigation/internal/position"
)

const (
	// sendChannelSize controls the max number
	// of messages that can be queued for a client.
	sendChannelSize = 16
	// commandQueueSize controls how many session commands can wait behind
	// the running one before the read loop blocks.
	commandQueueSize = 16
	pingPeriod      = (60 * 9 * time.Second) / 10
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	// snapshot is the value Data was encoded from, persisted once the
	// message has been written.
	snapshot *navigation.Snapshot
}

// command is a session operation queued by the read loop.
type command struct {
	name string
	run  func(ctx context.Context) error
}

type permissionData struct {
	State navigation.PermissionState `json:"state"`
}

type positionErrorData struct {
	Code string `json:"code" validate:"required"`
}

type modeData struct {
	Mode navigation.TravelMode `json:"mode"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client is one connected device. It feeds the device fixes into its own
// position feed and presents the navigation session back to the device.
type Client struct {
	ID      string
	Conn    *websocket.Conn
	Manager *Manager
	Feed    *position.Feed
	Session *navigation.Session
	send     chan Message
	commands chan command
	ctx      context.Context
	cancel   context.CancelFunc

	closeOnce sync.Once
	mu        sync.Mutex
	// interrupt cancels the command being run, nil when idle.
	interrupt context.CancelFunc
}

func NewClient(id string, conn *websocket.Conn, manager *Manager) *Client {
	ctx, cancel := context.WithCancel(manager.ctx)
	c := &Client{
		ID:       id,
		Conn:     conn,
		Manager:  manager,
		send:     make(chan Message, sendChannelSize),
		commands: make(chan command, commandQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	c.Feed = position.NewFeed(position.FeedOptions{
		PermissionTimeout: manager.opts.PermissionTimeout,
		PositionTimeout:   manager.opts.PositionTimeout,
		MaxFixAge:         manager.opts.PositionTimeout,
		OnPrompt:          func() { c.Send(Message{Type: "permission_request"}) },
		Logger:            manager.logger.With("clientID", id),
	})
	c.Session = navigation.NewSession(c.Feed, manager.planner, navigation.SessionOptions{
		Logger:           manager.logger.With("clientID", id),
		Presenter:        c,
		ArrivalThreshold: manager.opts.ArrivalThreshold,
	})
	return c
}

func (c *Client) Start() {
	go c.readPump()
	go c.writePump()
	go c.commandPump()
	select {
	case c.Manager.register <- c:
	case <-c.ctx.Done():
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.Conn != nil {
			if err := c.Conn.Close(websocket.StatusNormalClosure, "bye :P"); err != nil {
				c.Manager.logger.Debug("failed to close connection", "clientID", c.ID, "error", err)
			}
		}
		c.cancel()
	})
}

func (c *Client) Send(msg Message) {
	select {
	case c.send <- msg:
	default:
		go c.Manager.forceDisconnect(c)
	}
}

// Present implements navigation.Presenter. It runs under the session lock so
// it only queues work.
func (c *Client) Present(snapshot navigation.Snapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		c.Manager.logger.Error("failed to marshal snapshot", "clientID", c.ID, "error", err)
		return
	}
	c.Send(Message{Type: "snapshot", Data: data, snapshot: &snapshot})
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.Manager.unregister <- c:
		case <-c.Manager.ctx.Done():
		}
		c.release()
		c.Close()
	}()

	for {
		var msg Message
		if err := wsjson.Read(c.ctx, c.Conn, &msg); err != nil {
			c.Manager.logger.Warn("failed to read message", "clientID", c.ID, "error", err)
			break
		}
		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			if err := wsjson.Write(c.ctx, c.Conn, msg); err != nil {
				c.Manager.logger.Warn("failed to write message", "clientID", c.ID, "error", err)
				return
			}
			c.Manager.logger.Debug("message sent", "clientID", c.ID, "type", msg.Type)
			if msg.snapshot != nil {
				c.persistSnapshot(*msg.snapshot)
			}
		case <-ticker.C:
			if err := c.Conn.Ping(c.ctx); err != nil {
				c.Manager.logger.Debug("failed to ping client", "clientID", c.ID, "error", err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// release frees the navigation resources of the client.
func (c *Client) release() {
	c.Session.Close()
	c.Feed.Close()
}

// commandPump runs the queued session commands one at a time, in the order
// the device sent them.
func (c *Client) commandPump() {
	for {
		select {
		case cmd := <-c.commands:
			ctx, cancel := context.WithCancel(c.ctx)
			c.mu.Lock()
			c.interrupt = cancel
			c.mu.Unlock()

			err := cmd.run(ctx)

			c.mu.Lock()
			c.interrupt = nil
			c.mu.Unlock()
			cancel()
			if err != nil {
				c.Manager.logger.Debug("command failed", "clientID", c.ID, "command", cmd.name, "error", err)
			}
			c.report(err)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) enqueue(name string, run func(ctx context.Context) error) {
	select {
	case c.commands <- command{name: name, run: run}:
	case <-c.ctx.Done():
	}
}

// abortRunning gives up on the command being run, if any. Commands queued
// behind it still run.
func (c *Client) abortRunning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interrupt != nil {
		c.interrupt()
	}
}

func (c *Client) persistSnapshot(snapshot navigation.Snapshot) {
	if c.Manager.snapshotCache == nil {
		return
	}
	if err := c.Manager.snapshotCache.SetSnapshot(c.ctx, c.ID, snapshot); err != nil {
		c.Manager.logger.Warn("failed to cache snapshot", "clientID", c.ID, "error", err)
	}
}

// forgetSnapshot drops the cached snapshot of a previous attempt so resume
// cannot replay it.
func (c *Client) forgetSnapshot(ctx context.Context) {
	if c.Manager.snapshotCache == nil {
		return
	}
	if err := c.Manager.snapshotCache.DeleteSnapshot(ctx, c.ID); err != nil {
		c.Manager.logger.Warn("failed to drop cached snapshot", "clientID", c.ID, "error", err)
	}
}

func (c *Client) handleMessage(msg Message) {
	c.Manager.logger.Debug("received message", "clientID", c.ID, "type", msg.Type)

	switch msg.Type {
	case "permission":
		var data permissionData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.reject(msg.Type, err)
			return
		}
		if err := c.Feed.SetPermission(data.State); err != nil {
			c.reject(msg.Type, err)
		}
	case "position":
		var fix navigation.Fix
		if err := decode(msg.Data, &fix); err != nil {
			c.reject(msg.Type, err)
			return
		}
		if err := c.Feed.Push(fix); err != nil {
			c.Manager.logger.Warn("failed to push fix", "clientID", c.ID, "error", err)
		}
	case "position_error":
		var data positionErrorData
		if err := decode(msg.Data, &data); err != nil {
			c.reject(msg.Type, err)
			return
		}
		c.Feed.Fail(position.ErrorFromCode(data.Code))
	case "select_station":
		var station navigation.Station
		if err := decode(msg.Data, &station); err != nil {
			c.reject(msg.Type, err)
			return
		}
		c.enqueue(msg.Type, func(ctx context.Context) error {
			c.forgetSnapshot(ctx)
			return c.Session.SelectStation(ctx, station)
		})
	case "select_mode":
		var data modeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.reject(msg.Type, err)
			return
		}
		c.enqueue(msg.Type, func(context.Context) error { return c.Session.SelectMode(data.Mode) })
	case "confirm_mode":
		c.enqueue(msg.Type, c.Session.ConfirmMode)
	case "start":
		c.enqueue(msg.Type, func(context.Context) error { return c.Session.StartNavigation() })
	case "stop":
		// Stop must not wait for a permission answer or a route plan.
		c.abortRunning()
		c.enqueue(msg.Type, func(context.Context) error { return c.Session.Stop() })
	case "resume":
		c.resume()
	default:
		c.Manager.logger.Debug("received unknown type message", "clientID", c.ID, "type", msg.Type)
	}
}

func (c *Client) resume() {
	snapshot := c.Session.Snapshot()
	if snapshot.State == navigation.StateIdle && c.Manager.snapshotCache != nil {
		cached, err := c.Manager.snapshotCache.GetSnapshot(c.ctx, c.ID)
		switch {
		case err == nil:
			snapshot = *cached
		case !errors.Is(err, cache.ErrNotFound):
			c.Manager.logger.Warn("failed to read cached snapshot", "clientID", c.ID, "error", err)
		}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		c.Manager.logger.Error("failed to marshal snapshot", "clientID", c.ID, "error", err)
		return
	}
	c.Send(Message{Type: "snapshot", Data: data})
}

func (c *Client) report(err error) {
	if err == nil || errors.Is(err, navigation.ErrSuperseded) || errors.Is(err, context.Canceled) {
		return
	}
	c.sendError(navigation.ErrorCode(err), err)
}

func (c *Client) reject(msgType string, err error) {
	c.Manager.logger.Warn("invalid message", "clientID", c.ID, "type", msgType, "error", err)
	c.sendError("invalid_message", err)
}

func (c *Client) sendError(code string, err error) {
	data, _ := json.Marshal(errorData{Code: code, Message: err.Error()})
	c.Send(Message{Type: "error", Data: data})
}

func decode(data json.RawMessage, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validating payload: %w", err)
	}
	return nil
}
