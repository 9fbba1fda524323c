// Package rosbridge is a minimal client for the rosbridge v2 websocket protocol, and a bridge that
// runs an object detector on the frames of a ROS image topic.
package rosbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrClosed is returned for operations on a closed client.
var ErrClosed = errors.New("rosbridge: client closed")

// Operation is the envelope of every rosbridge protocol message.
type Operation struct {
	Op          string              `json:"op"`
	ID          string              `json:"id,omitempty"`
	Topic       string              `json:"topic,omitempty"`
	Type        string              `json:"type,omitempty"`
	QueueLength int                 `json:"queue_length,omitempty"`
	Msg         jsoniter.RawMessage `json:"msg,omitempty"`   // A string for "status" messages.
	Level       string              `json:"level,omitempty"` // For "status" messages.
}

// Subscription delivers the messages published on a topic. Messages are dropped, not queued,
// while the consumer is busy with earlier ones beyond the buffer size.
type Subscription struct {
	Topic string
	Type  string
	C     <-chan jsoniter.RawMessage

	id      string
	ch      chan jsoniter.RawMessage
	dropped atomic.Uint64
}

// Dropped returns the number of messages dropped because the channel was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Client is a connection to a rosbridge server.
type Client struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	bufferSize   int

	writeMu sync.Mutex // Serialises writes to conn.

	mu         sync.Mutex
	subs       map[string][]*Subscription // By topic.
	advertised map[string]string          // Topic to advertise id.
	closed     bool                       // No new subscriptions are accepted.
	shutdown   bool                       // Close was called.
	err        error

	done chan struct{}
}

// Options configures Dial.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int // Per subscription channel capacity.
}

// Dial connects to the rosbridge server at url (e.g. ws://192.168.56.128:9090) and starts
// reading from the connection.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	log.Infof("Connected to rosbridge at %s", url)

	c := &Client{
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
		bufferSize:   opts.BufferSize,
		subs:         make(map[string][]*Subscription),
		advertised:   make(map[string]string),
		done:         make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

// Done is closed when the connection is lost or closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that terminated the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) send(op Operation) error {
	enc, err := json.Marshal(op)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, enc)
}

// Subscribe subscribes to topic with the given ROS message type.
func (c *Client) Subscribe(topic, msgType string) (*Subscription, error) {
	ch := make(chan jsoniter.RawMessage, c.bufferSize)
	sub := &Subscription{
		Topic: topic,
		Type:  msgType,
		C:     ch,
		id:    "subscribe:" + topic + ":" + uuid.NewString(),
		ch:    ch,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.subs[topic] = append(c.subs[topic], sub)
	c.mu.Unlock()

	err := c.send(Operation{Op: "subscribe", ID: sub.id, Topic: topic, Type: msgType,
		QueueLength: c.bufferSize})
	if err != nil {
		c.removeSubscription(sub)
		return nil, err
	}
	return sub, nil
}

// removeSubscription removes sub and closes its channel. It reports whether sub was still
// registered.
func (c *Client) removeSubscription(sub *Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.subs[sub.Topic]
	for i, s := range subs {
		if s == sub {
			c.subs[sub.Topic] = append(subs[:i:i], subs[i+1:]...)
			if len(c.subs[sub.Topic]) == 0 {
				delete(c.subs, sub.Topic)
			}
			close(sub.ch)
			return true
		}
	}
	return false
}

// Unsubscribe cancels sub and closes its channel.
func (c *Client) Unsubscribe(sub *Subscription) error {
	if !c.removeSubscription(sub) {
		return nil
	}
	return c.send(Operation{Op: "unsubscribe", ID: sub.id, Topic: sub.Topic})
}

// Advertise announces that the client publishes msgType messages on topic.
func (c *Client) Advertise(topic, msgType string) error {
	c.mu.Lock()
	if _, ok := c.advertised[topic]; ok {
		c.mu.Unlock()
		return nil
	}
	id := "advertise:" + topic + ":" + uuid.NewString()
	c.advertised[topic] = id
	c.mu.Unlock()

	return c.send(Operation{Op: "advertise", ID: id, Topic: topic, Type: msgType})
}

// Publish publishes msg, which must marshal to a JSON object of the advertised type, on topic.
func (c *Client) Publish(topic string, msg interface{}) error {
	enc, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode the message for %s: %w", topic, err)
	}
	return c.send(Operation{Op: "publish", ID: "publish:" + topic + ":" + uuid.NewString(),
		Topic: topic, Msg: enc})
}

// Close unadvertises all topics, closes all subscriptions and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.closed = true
	advertised := c.advertised
	c.advertised = map[string]string{}
	c.mu.Unlock()

	for topic, id := range advertised {
		if err := c.send(Operation{Op: "unadvertise", ID: id, Topic: topic}); err != nil {
			log.Debugf("Failed to unadvertise %s: %v", topic, err)
		}
	}

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeTimeout))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}

// readLoop dispatches incoming messages until the connection fails or is closed.
func (c *Client) readLoop() {
	var err error
	defer func() {
		c.mu.Lock()
		// Read errors after Close are expected.
		if !c.shutdown && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			c.err = err
		}
		c.closed = true
		for topic, subs := range c.subs {
			for _, s := range subs {
				close(s.ch)
			}
			delete(c.subs, topic)
		}
		c.mu.Unlock()

		c.writeMu.Lock()
		close(c.done)
		c.writeMu.Unlock()
	}()

	for {
		var data []byte
		if _, data, err = c.conn.ReadMessage(); err != nil {
			return
		}

		var op Operation
		if err := json.Unmarshal(data, &op); err != nil {
			log.Warnf("Ignoring an undecodable rosbridge message: %v", err)
			continue
		}

		switch op.Op {
		case "publish":
			c.dispatch(op)
		case "status":
			log.Infof("rosbridge status (%s): %s", op.Level, op.Msg)
		default:
			log.Debugf("Ignoring rosbridge op %q", op.Op)
		}
	}
}

func (c *Client) dispatch(op Operation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.subs[op.Topic] {
		select {
		case s.ch <- op.Msg:
		default:
			s.dropped.Add(1)
		}
	}
}
