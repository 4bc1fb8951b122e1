package scpi

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-scpi/logger"
)

// Client is a SCPI client talking to one instrument over one raw TCP connection.
//
// A Client is either disconnected or connected. It never reconnects on its own: after a timeout
// or a transport error the caller decides whether to Close and Connect again.
//
// Client is NOT goroutine-safe. Instruments answer strictly in order and responses can only be
// matched to commands by arrival order, so callers sharing an instrument must serialize access
// themselves, e.g. with a mutex around the Client.
type Client struct {
	cfg     *ClientConfig
	logger  logger.Logger
	conn    net.Conn
	framer  *frameReader
	metrics ClientMetrics
}

// NewClient creates a disconnected client for the instrument described by cfg.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	return &Client{
		cfg:    cfg,
		logger: cfg.logger,
		framer: newFrameReader(cfg),
	}, nil
}

// Dial creates a client for the instrument at host and connects it.
func Dial(host string, opts ...ClientOption) (*Client, error) {
	cfg, err := NewClientConfig(host, opts...)
	if err != nil {
		return nil, err
	}

	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	if err := c.Connect(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("scpi.Client(host=%q, port=%d, timeout=%s, terminator=%q)",
		c.cfg.host, c.cfg.port, c.cfg.timeout, c.cfg.terminator)
}

// Config returns the configuration the client was created with.
func (c *Client) Config() *ClientConfig {
	return c.cfg
}

// Metrics returns the traffic counters of the client.
func (c *Client) Metrics() *ClientMetrics {
	return &c.metrics
}

// IsConnected reports whether Connect succeeded and Close has not been called since.
func (c *Client) IsConnected() bool {
	return c.conn != nil
}

// Connect opens the TCP connection to the instrument, bounded by the configured timeout.
//
// It fails with ErrConnection when the connection is refused, the host is unreachable or cannot be
// resolved. A connect that times out matches both ErrConnection and ErrTimeout.
//
// Connect does not check for an existing connection: calling it while connected replaces the
// handle and the previous connection stays open until it is garbage collected. Call Close first.
func (c *Client) Connect() error {
	return c.ConnectContext(context.Background())
}

// ConnectContext is like Connect but additionally aborts dialing when ctx is done.
func (c *Client) ConnectContext(ctx context.Context) error {
	addr := net.JoinHostPort(c.cfg.host, strconv.Itoa(c.cfg.port))

	if c.conn != nil {
		c.logger.Warn("scpi: connect while connected, previous connection is abandoned", "addr", addr)
	}

	c.logger.Debug("scpi: connecting", "addr", addr, "timeout", c.cfg.timeout)

	dialer := net.Dialer{Timeout: c.cfg.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if isTimeout(err) {
			c.metrics.incTimeoutCount()
			return fmt.Errorf("%w: %w: dial %s: %w", ErrConnection, ErrTimeout, addr, err)
		}

		return fmt.Errorf("%w: dial %s: %w", ErrConnection, addr, err)
	}

	c.conn = conn
	c.metrics.incConnectCount()
	c.logger.Debug("scpi: connected", "addr", addr, "local", conn.LocalAddr().String())

	return nil
}

// Close releases the connection. It is a no-op on a disconnected client and always returns nil,
// a failure to close the socket is only logged.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	conn := c.conn
	c.conn = nil

	if err := conn.Close(); err != nil {
		c.logger.Debug("scpi: close connection", "error", err)
	} else {
		c.logger.Debug("scpi: connection closed", "addr", conn.RemoteAddr().String())
	}

	return nil
}

// Do connects, runs fn and closes the connection on every exit path of fn, panics included.
func (c *Client) Do(fn func(c *Client) error) error {
	if err := c.Connect(); err != nil {
		return err
	}
	defer c.Close()

	return fn(c)
}

// RawSend transmits cmd, appending the terminator unless cmd already ends with it.
// The instrument error queue is not checked.
func (c *Client) RawSend(cmd string) error {
	if c.conn == nil {
		return ErrNotConnected
	}

	term := c.cfg.terminator
	body := strings.TrimSuffix(cmd, term)
	if strings.Contains(body, term) {
		return fmt.Errorf("%w: %q contains the terminator %q before its end", ErrInvalidCommand, cmd, term)
	}
	line := body + term

	c.logger.Debug("scpi: send", "data", strconv.Quote(line))

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.timeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrWrite, err)
	}

	if _, err := c.conn.Write([]byte(line)); err != nil {
		if isTimeout(err) {
			c.metrics.incTimeoutCount()
			return fmt.Errorf("%w: send %q: %w", ErrTimeout, body, err)
		}

		return fmt.Errorf("%w: send %q: %w", ErrWrite, body, err)
	}
	c.metrics.incCommandSendCount(len(line))

	return nil
}

// RawReceive reads exactly one response and returns it with the terminator and surrounding
// whitespace removed. The instrument error queue is not checked.
func (c *Client) RawReceive() (string, error) {
	if c.conn == nil {
		return "", ErrNotConnected
	}

	frame, err := c.framer.ReadFrame(c.conn)
	if err != nil {
		if isTimeout(err) {
			c.metrics.incTimeoutCount()
		}
		c.logger.Debug("scpi: receive failed", "error", err)

		return "", err
	}

	c.logger.Debug("scpi: recv", "data", strconv.Quote(string(frame)))
	c.metrics.incResponseRecvCount(len(frame))

	return decodeFrame(frame, c.cfg.terminator), nil
}

// RawQuery sends cmd and reads one response without checking the instrument error queue.
func (c *Client) RawQuery(cmd string) (string, error) {
	if err := c.RawSend(cmd); err != nil {
		return "", err
	}

	return c.RawReceive()
}

// Send transmits cmd and then drains the instrument error queue.
//
// If the instrument queued any error, Send returns an *Error naming cmd and listing every drained
// entry in order.
func (c *Client) Send(cmd string) error {
	if err := c.RawSend(cmd); err != nil {
		return err
	}

	return c.checkErrors(cmd)
}

// Receive reads one response. It does not drain the error queue, the Send or Query preceding it
// already did.
func (c *Client) Receive() (string, error) {
	return c.RawReceive()
}

// Query sends cmd, reads its response and then drains the instrument error queue.
//
// If the instrument queued any error the response is discarded and an *Error is returned,
// otherwise the response is returned unchanged.
func (c *Client) Query(cmd string) (string, error) {
	if err := c.RawSend(cmd); err != nil {
		return "", err
	}
	c.metrics.incQueryCount()

	resp, err := c.RawReceive()
	if err != nil {
		return "", err
	}

	if err := c.checkErrors(cmd); err != nil {
		return "", err
	}

	return resp, nil
}

func decodeFrame(frame []byte, term string) string {
	s := strings.TrimSuffix(string(frame), term)

	return strings.TrimSpace(s)
}
