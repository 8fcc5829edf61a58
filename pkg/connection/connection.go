// Package connection manages the graphql-transport-ws WebSocket lifecycle
// to the Polaris device subscription API: connect, authenticate, subscribe,
// and reconnect with exponential backoff until shutdown is requested.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is one of the reconnect state machine's states.
type State string

const (
	StateInit         State = "INIT"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateWaitBackoff  State = "WAIT_BACKOFF"
	StateShuttingDown State = "SHUTTING_DOWN"
)

// ReconnectConfig parameterizes the exponential-backoff reconnect delay.
type ReconnectConfig struct {
	InitialDelayMs    int
	BackoffMultiplier float64
	MaxDelayMs        int
	JitterPct         float64
}

// DefaultReconnectConfig mirrors the reference client's defaults.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelayMs:    1000,
		BackoffMultiplier: 2.0,
		MaxDelayMs:        60_000,
		JitterPct:         20,
	}
}

// Config holds everything needed to reach the Polaris subscription endpoint.
type Config struct {
	APIURL    string
	APIKey    string
	Reconnect ReconnectConfig
}

// fatalAuthError marks a rejection the connection should never retry.
type fatalAuthError struct{ msg string }

func (e *fatalAuthError) Error() string { return e.msg }

// Connection owns the WebSocket lifecycle for a single subscription. Zero
// value is not usable; build one with New.
type Connection struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer

	mu             sync.Mutex
	state          State
	attempt        int
	subscriptionID string

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New builds a Connection. logger may be nil, in which case slog.Default is
// used.
func New(cfg Config, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{
			Subprotocols:     []string{"graphql-transport-ws"},
			HandshakeTimeout: 10 * time.Second,
		},
		state:      StateInit,
		shutdownCh: make(chan struct{}),
	}
}

// State reports the current reconnect state machine state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscriptionID reports the subscription message id assigned on the most
// recent connection attempt, or "" before the first attempt.
func (c *Connection) SubscriptionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptionID
}

// RequestShutdown signals the connection to close gracefully; it will not
// reconnect after the current attempt ends. Safe to call more than once.
func (c *Connection) RequestShutdown() {
	c.shutdownOnce.Do(func() {
		c.setState(StateShuttingDown)
		close(c.shutdownCh)
	})
}

func (c *Connection) isShuttingDown() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}

// Subscribe returns a channel of raw message strings received from the
// subscription, reconnecting automatically on non-fatal errors. The channel
// is closed when RequestShutdown is called or a fatal auth error occurs;
// ctx cancellation has the same effect as RequestShutdown.
func (c *Connection) Subscribe(ctx context.Context) <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)

		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				c.RequestShutdown()
			case <-stop:
			}
		}()
		defer close(stop)

		for !c.isShuttingDown() {
			err := c.connectAndReceive(ctx, out)

			var fatal *fatalAuthError
			if errors.As(err, &fatal) {
				c.logger.Error("fatal auth error, will not reconnect", "reason", fatal.Error())
				return
			}

			if c.isShuttingDown() {
				return
			}

			if err != nil {
				c.logger.Warn("connection error", "error", err)
			}

			c.backoff(ctx)
		}
	}()

	return out
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	old := c.state
	c.state = s
	c.mu.Unlock()
	c.logger.Info("connection state", "from", old, "to", s)
}

type wireMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

func (c *Connection) connectAndReceive(ctx context.Context, out chan<- string) (err error) {
	c.setState(StateConnecting)

	c.mu.Lock()
	c.subscriptionID = uuid.New().String()
	subID := c.subscriptionID
	c.mu.Unlock()

	header := http.Header{}
	conn, _, dialErr := c.dialer.DialContext(ctx, c.cfg.APIURL, header)
	if dialErr != nil {
		return fmt.Errorf("dial: %w", dialErr)
	}
	defer conn.Close()

	initMsg, _ := json.Marshal(wireMessage{
		Type:    "connection_init",
		Payload: rawf(`{"Authorization":"Bearer %s"}`, c.cfg.APIKey),
	})
	if err := conn.WriteMessage(websocket.TextMessage, initMsg); err != nil {
		return fmt.Errorf("send connection_init: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	_, ackRaw, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("waiting for connection_ack: %w", err)
	}

	var ack wireMessage
	if err := json.Unmarshal(ackRaw, &ack); err != nil {
		return fmt.Errorf("parse connection_ack: %w", err)
	}
	if ack.Type != "connection_ack" {
		if ack.Type == "error" {
			return &fatalAuthError{msg: "auth rejected by server"}
		}
		return fmt.Errorf("expected connection_ack, got %q", ack.Type)
	}

	subscribeMsg, _ := json.Marshal(wireMessage{
		ID:      subID,
		Type:    "subscribe",
		Payload: rawf(`{"query":%s}`, mustMarshalString(devicesSubscription)),
	})
	if err := conn.WriteMessage(websocket.TextMessage, subscribeMsg); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	c.setState(StateConnected)
	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("clear read deadline: %w", err)
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go c.pingLoop(conn, stopPing)

	// Close the socket on shutdown so a blocked ReadMessage returns at once
	// instead of waiting for the next server frame.
	go func() {
		select {
		case <-c.shutdownCh:
			conn.Close()
		case <-stopPing:
		}
	}()

	for {
		if c.isShuttingDown() {
			return nil
		}

		_, raw, readErr := conn.ReadMessage()
		if readErr != nil {
			return fmt.Errorf("read: %w", readErr)
		}

		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Malformed frame: hand the raw bytes to the classifier.
			select {
			case out <- string(raw):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		switch msg.Type {
		case "next":
			select {
			case out <- string(raw):
			case <-ctx.Done():
				return nil
			}
		case "error":
			if fatal := c.checkFatalAuth(msg.Payload); fatal != nil {
				return fatal
			}
			c.logger.Warn("subscription error from server, passing to classifier", "payload", string(msg.Payload))
			select {
			case out <- string(raw):
			case <-ctx.Done():
				return nil
			}
		case "complete":
			c.logger.Info("subscription completed by server, will reconnect")
			return nil
		case "ping":
			pong, _ := json.Marshal(wireMessage{Type: "pong"})
			if err := conn.WriteMessage(websocket.TextMessage, pong); err != nil {
				return fmt.Errorf("send pong: %w", err)
			}
		}
		// connection_ack and any other type are ignored.
	}
}

func (c *Connection) checkFatalAuth(payload json.RawMessage) *fatalAuthError {
	var errs []gqlError
	if err := json.Unmarshal(payload, &errs); err != nil {
		return nil
	}
	for _, e := range errs {
		if e.Extensions.Code == "FORBIDDEN" || e.Extensions.Code == "UNAUTHORIZED" {
			return &fatalAuthError{msg: e.Message}
		}
	}
	return nil
}

// pingLoop sends WebSocket-level ping control frames every 20s, matching
// the reference client's transport keepalive interval.
func (c *Connection) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(20 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (c *Connection) backoff(ctx context.Context) {
	c.setState(StateWaitBackoff)

	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	delay := computeBackoffDelay(c.cfg.Reconnect, attempt, rand.Float64)

	c.logger.Info("reconnecting after backoff", "delay", delay, "attempt", attempt)

	select {
	case <-c.shutdownCh:
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// computeBackoffDelay implements delay = min(initial * multiplier^(attempt-1), max)
// with +/- jitter_pct jitter, floored at 100ms. attempt is 1-indexed. rnd
// must return a value in [0, 1); pass rand.Float64 in production.
func computeBackoffDelay(cfg ReconnectConfig, attempt int, rnd func() float64) time.Duration {
	base := float64(cfg.InitialDelayMs)
	multiplier := cfg.BackoffMultiplier
	maxDelay := float64(cfg.MaxDelayMs)
	jitterPct := cfg.JitterPct / 100.0

	delayMs := math.Min(base*math.Pow(multiplier, float64(attempt-1)), maxDelay)
	jitter := delayMs * jitterPct * (2*rnd() - 1)
	delayMs = math.Max(100, delayMs+jitter)
	return time.Duration(delayMs) * time.Millisecond
}

func rawf(format string, args ...interface{}) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(format, args...))
}

func mustMarshalString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		panic("connection: failed to marshal constant string: " + err.Error())
	}
	return string(b)
}
