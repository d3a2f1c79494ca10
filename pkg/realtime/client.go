// Package realtime subscribes to database change notifications over a
// Phoenix-channel websocket, the protocol spoken by Supabase Realtime
// servers. Each subscription watches one table for one event type and
// delivers the inserted or updated row to a handler.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Config holds the realtime server connection settings.
type Config struct {
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"api_key"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// phoenixMessage is the channel protocol frame.
type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type changePayload struct {
	Type   string         `json:"type"`   // INSERT, UPDATE, DELETE
	Table  string         `json:"table"`
	Record map[string]any `json:"record"`
	Old    map[string]any `json:"old_record"`
}

type joinConfig struct {
	Config struct {
		PostgresChanges []postgresChange `json:"postgres_changes"`
	} `json:"config"`
}

type postgresChange struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type subscription struct {
	table   string
	event   string
	handler func(row map[string]any)
}

// Client maintains one websocket connection and fan-outs change events
// to per-table subscriptions.
type Client struct {
	config *Config
	logger *logrus.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[int]subscription
	nextID  int
	nextRef int
	closed  bool
	done    chan struct{}
}

func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	return &Client{
		config: config,
		logger: logger,
		subs:   make(map[int]subscription),
		done:   make(chan struct{}),
	}
}

// Connect dials the realtime server and starts the read and heartbeat
// loops. It must be called before Subscribe.
func (c *Client) Connect(ctx context.Context) error {
	url := c.config.URL
	if c.config.APIKey != "" {
		url = fmt.Sprintf("%s?apikey=%s&vsn=1.0.0", url, c.config.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial realtime server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.WithField("url", c.config.URL).Info("realtime connection established")
	return nil
}

// Subscribe registers a handler for one table/event pair and joins the
// matching channel topic. The returned function cancels the
// subscription.
func (c *Client) Subscribe(table, event string, handler func(row map[string]any)) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	if c.closed {
		return nil, fmt.Errorf("client closed")
	}

	id := c.nextID
	c.nextID++
	c.subs[id] = subscription{table: table, event: event, handler: handler}

	topic := "realtime:public:" + table
	var cfg joinConfig
	cfg.Config.PostgresChanges = []postgresChange{{
		Event:  event,
		Schema: "public",
		Table:  table,
	}}
	if err := c.sendLocked(topic, "phx_join", cfg); err != nil {
		delete(c.subs, id)
		return nil, fmt.Errorf("join channel %s: %w", topic, err)
	}

	c.logger.WithFields(logrus.Fields{
		"table": table,
		"event": event,
	}).Debug("realtime subscription added")

	unsubscribe := func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
	return unsubscribe, nil
}

// Close tears down the connection; pending handlers finish.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.config.WriteTimeout))
		return c.conn.Close()
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		var msg phoenixMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.WithError(err).Error("realtime connection lost")
				}
			}
			return
		}

		switch msg.Event {
		case "postgres_changes", "INSERT", "UPDATE", "DELETE":
			c.dispatch(&msg)
		case "phx_reply", "phx_close", "heartbeat":
			// control traffic
		default:
			c.logger.Debugf("realtime: ignoring event %q on %s", msg.Event, msg.Topic)
		}
	}
}

func (c *Client) dispatch(msg *phoenixMessage) {
	var change changePayload
	if err := json.Unmarshal(msg.Payload, &change); err != nil {
		c.logger.WithError(err).Warn("realtime: malformed change payload")
		return
	}
	if change.Record == nil {
		return
	}
	if change.Table == "" {
		change.Table = tableFromTopic(msg.Topic)
	}
	eventType := change.Type
	if eventType == "" {
		eventType = msg.Event
	}

	c.mu.Lock()
	var handlers []func(row map[string]any)
	for _, sub := range c.subs {
		if sub.table == change.Table && sub.event == eventType {
			handlers = append(handlers, sub.handler)
		}
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(change.Record)
	}
}

func (c *Client) heartbeatLoop() {
	interval := c.config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.sendLocked("phoenix", "heartbeat", map[string]any{})
			c.mu.Unlock()
			if err != nil {
				c.logger.WithError(err).Warn("realtime heartbeat failed")
				return
			}
		}
	}
}

func (c *Client) sendLocked(topic, event string, payload any) error {
	c.nextRef++
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := phoenixMessage{
		Topic:   topic,
		Event:   event,
		Payload: raw,
		Ref:     strconv.Itoa(c.nextRef),
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(msg)
}

func tableFromTopic(topic string) string {
	// realtime:public:messages -> messages
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == ':' {
			return topic[i+1:]
		}
	}
	return topic
}
