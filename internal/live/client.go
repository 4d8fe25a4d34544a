// Package live provides WebSocket push of decoded readings and
// analysis reports to a dashboard or cloud listener.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// MessageType identifies the kind of payload carried by a Message.
type MessageType string

const (
	MessageTypeReading        MessageType = "reading"
	MessageTypeAnalysisReport MessageType = "analysis_report"
	MessageTypeHeartbeat      MessageType = "heartbeat"
)

// Message is the JSON envelope exchanged with the live listener,
// mirroring the teacher's cloud.Message shape.
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Config holds connection parameters for the live listener.
type Config struct {
	URL            string
	PropertyUID    string
	APIKey         string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
}

// DefaultConfig mirrors the teacher's cloud client defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay: 5 * time.Second,
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
	}
}

// Client maintains a reconnecting WebSocket connection to the live
// listener, structured after the teacher's cloud.Client: a buffered
// send channel, a reconnect loop, and 3 coordinated goroutines for
// read/write/ping.
type Client struct {
	config    Config
	conn      *websocket.Conn
	sendChan  chan Message
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	connected bool
}

// New creates a Client.
func New(config Config) *Client {
	return &Client{
		config:   config,
		sendChan: make(chan Message, 100),
		stopChan: make(chan struct{}),
	}
}

// IsConnected reports whether the client currently has a live socket.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Start begins the connect/reconnect loop.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.connectionLoop(ctx)
}

// Stop halts the connection and its goroutines.
func (c *Client) Stop() {
	close(c.stopChan)
	c.wg.Wait()
}

// SendReading pushes a reading payload (identification plus a
// canonical field -> value mapping) to the listener.
func (c *Client) SendReading(identification string, fields map[string]interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"identification": identification,
		"fields":         fields,
	})
	if err != nil {
		return fmt.Errorf("live: failed to marshal reading: %w", err)
	}
	return c.send(MessageTypeReading, payload)
}

func (c *Client) send(msgType MessageType, payload json.RawMessage) error {
	msg := Message{Type: msgType, ID: uuid.NewString(), Payload: payload}
	select {
	case c.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("live: send channel full")
	}
}

func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		default:
		}

		if err := c.connect(); err != nil {
			log.Printf("live: connect failed: %v", err)
			select {
			case <-time.After(c.config.ReconnectDelay):
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			}
			continue
		}

		c.runMessageLoops(ctx)
		c.disconnect()
	}
}

func (c *Client) connect() error {
	header := http.Header{}
	header.Set("X-Property-UID", c.config.PropertyUID)
	header.Set("X-API-Key", c.config.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.config.URL, header)
	if err != nil {
		return fmt.Errorf("live: dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	log.Printf("live: connected to %s", c.config.URL)
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) runMessageLoops(ctx context.Context) {
	done := make(chan struct{})
	var once sync.Once
	closeDone := func() { once.Do(func() { close(done) }) }
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		c.readLoop(done, closeDone)
	}()
	go func() {
		defer wg.Done()
		c.writeLoop(ctx, done, closeDone)
	}()
	go func() {
		defer wg.Done()
		c.pingLoop(done, closeDone)
	}()

	<-done
	wg.Wait()
}

func (c *Client) readLoop(done chan struct{}, closeDone func()) {
	defer closeDone()
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, done chan struct{}, closeDone func()) {
	defer closeDone()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case msg := <-c.sendChan:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			msg.Timestamp = nowUnix()
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

func (c *Client) pingLoop(done chan struct{}, closeDone func()) {
	defer closeDone()
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// nowUnix exists so the write loop has a single seam for the current
// time, matching the rest of the module's avoidance of bare time.Now()
// deep in business logic.
func nowUnix() int64 { return time.Now().Unix() }
