// Package relay implements the paired messaging session over a websocket to the local pairing
// relay. The relay owns pairing, certificates and peer delivery; this client only announces the
// pairing code, tracks the session it is told about and waits for per-message acknowledgements.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pairchat/internal/domain"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = time.Minute
	backoffFactor         = 2.0
	jitterFactor          = 0.3
)

var (
	ErrNotPaired    = errors.New("session is not paired")
	ErrNotConnected = errors.New("relay is not connected")
	ErrRejected     = errors.New("relay rejected message")
	ErrSessionLeft  = errors.New("session was left")
)

// Config controls the relay connection.
type Config struct {
	URL         string
	PairingCode string
	SendTimeout time.Duration
	// InitialBackoff and MaxBackoff bound the delay between reconnect attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client implements ports.SessionChannel.
type Client struct {
	cfg    Config
	logger *zap.Logger
	dialer *websocket.Dialer

	mu          sync.RWMutex
	conn        *websocket.Conn
	done        chan struct{}
	paired      bool
	pairingCode string
	certificate *domain.Certificate
	pending     map[string]chan ackFrame

	left      chan struct{}
	leaveOnce sync.Once

	writeMu sync.Mutex
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(defaultMaxBackoff, cfg.InitialBackoff)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:         cfg,
		logger:      logger,
		dialer:      websocket.DefaultDialer,
		pairingCode: strings.TrimSpace(cfg.PairingCode),
		pending:     make(map[string]chan ackFrame),
		left:        make(chan struct{}),
	}
}

// Connect dials the relay and announces the pairing code. Pairing completes asynchronously when
// the relay confirms the session.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.dial(ctx)
	return err
}

// Run keeps the session connected until ctx is done or LeaveChat is called. Failed dials are
// retried with exponential backoff and jitter; a dropped connection is redialled straight away.
func (c *Client) Run(ctx context.Context) {
	backoff := c.cfg.InitialBackoff

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.left:
			return
		default:
		}

		done := c.connection()
		if done == nil {
			var err error
			done, err = c.dial(ctx)
			if errors.Is(err, ErrSessionLeft) {
				return
			}
			if err != nil {
				sleep := jittered(backoff)
				c.logger.Warn("relay connection failed", zap.Duration("retryIn", sleep), zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-c.left:
					return
				case <-time.After(sleep):
				}
				backoff = min(time.Duration(float64(backoff)*backoffFactor), c.cfg.MaxBackoff)
				continue
			}
			backoff = c.cfg.InitialBackoff
		}

		select {
		case <-ctx.Done():
			return
		case <-c.left:
			return
		case <-done:
			c.logger.Info("relay connection closed, reconnecting")
		}
	}
}

func (c *Client) dial(ctx context.Context) (<-chan struct{}, error) {
	select {
	case <-c.left:
		return nil, ErrSessionLeft
	default:
	}

	wsURL, err := buildSessionURL(c.cfg.URL)
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	select {
	case <-c.left:
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrSessionLeft
	default:
	}
	c.conn = conn
	c.done = done
	c.mu.Unlock()

	if err := c.writeTo(conn, frame{Type: frameHello, PairingCode: c.cfg.PairingCode}); err != nil {
		c.disconnect(conn, done)
		return nil, fmt.Errorf("failed to announce pairing code: %w", err)
	}

	go c.readLoop(conn, done)
	c.logger.Info("relay connected", zap.String("url", wsURL))
	return done, nil
}

// connection returns the live connection's done channel, or nil when disconnected.
func (c *Client) connection() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil
	}
	return c.done
}

func jittered(backoff time.Duration) time.Duration {
	jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
	if sleep := backoff + jitter; sleep > 0 {
		return sleep
	}
	return backoff
}

func (c *Client) IsPaired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paired
}

func (c *Client) PairingCode() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pairingCode, c.pairingCode != ""
}

func (c *Client) Certificate() (domain.Certificate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.certificate == nil {
		return domain.Certificate{}, false
	}
	return *c.certificate, true
}

// SendMessage delivers one payload and waits for the relay's acknowledgement.
func (c *Client) SendMessage(ctx context.Context, content string, kind domain.MessageKind) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if !c.paired {
		c.mu.Unlock()
		return ErrNotPaired
	}
	id := uuid.NewString()
	ack := make(chan ackFrame, 1)
	c.pending[id] = ack
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.writeTo(conn, frame{Type: frameMessage, ID: id, Kind: kind, Content: content}); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	timer := time.NewTimer(c.cfg.SendTimeout)
	defer timer.Stop()

	select {
	case result := <-ack:
		if !result.OK {
			return fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(result.Error))
		}
		return nil
	case <-done:
		return ErrNotConnected
	case <-timer.C:
		return fmt.Errorf("no acknowledgement for message %s: %w", id, context.DeadlineExceeded)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LeaveChat ends the session and closes the connection. The client does not reconnect afterwards.
func (c *Client) LeaveChat() {
	c.mu.Lock()
	c.leaveOnce.Do(func() { close(c.left) })
	conn := c.conn
	c.conn = nil
	c.paired = false
	c.certificate = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}

	if err := c.writeTo(conn, frame{Type: frameLeave}); err != nil {
		c.logger.Debug("leave frame not delivered", zap.Error(err))
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leave"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()
	c.logger.Info("left chat")
}

func (c *Client) writeTo(conn *websocket.Conn, f frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.disconnect(conn, done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("relay connection lost", zap.Error(err))
			}
			return
		}

		var incoming frame
		if err := json.Unmarshal(payload, &incoming); err != nil {
			c.logger.Debug("ignoring malformed relay frame", zap.Error(err))
			continue
		}
		c.handle(incoming)
	}
}

func (c *Client) handle(incoming frame) {
	switch incoming.Type {
	case framePaired:
		c.mu.Lock()
		c.paired = true
		if incoming.PairingCode != "" {
			c.pairingCode = incoming.PairingCode
		}
		if incoming.Certificate != nil {
			cert := incoming.Certificate.toDomain()
			c.certificate = &cert
		}
		c.mu.Unlock()
		c.logger.Info("session paired", zap.String("pairingCode", incoming.PairingCode))
	case frameAck:
		c.mu.RLock()
		ack, ok := c.pending[incoming.ID]
		c.mu.RUnlock()
		if ok {
			select {
			case ack <- ackFrame{OK: incoming.OK, Error: incoming.Error}:
			default:
			}
		}
	case frameLeft:
		c.mu.Lock()
		c.paired = false
		c.certificate = nil
		c.mu.Unlock()
		c.logger.Info("peer left the session")
	case frameError:
		c.logger.Warn("relay reported an error", zap.String("message", incoming.Error))
	}
}

func (c *Client) disconnect(conn *websocket.Conn, done chan struct{}) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.paired = false
	}
	c.mu.Unlock()
	close(done)
}

func buildSessionURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", errors.New("relay URL is not configured")
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	sessionURL, err := url.Parse(base + "/session")
	if err != nil {
		return "", fmt.Errorf("invalid relay URL: %w", err)
	}
	if sessionURL.Scheme != "ws" && sessionURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid relay URL scheme %q", sessionURL.Scheme)
	}
	return sessionURL.String(), nil
}
