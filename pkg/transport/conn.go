package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oocsi/oocsi-go/pkg/log"
	"github.com/oocsi/oocsi-go/pkg/wire"
)

// Connection errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidLine      = errors.New("line contains newline")
)

// maxTracedLine is the longest line text kept in a trace event.
const maxTracedLine = 4096

// DialConfig configures an outgoing connection.
type DialConfig struct {
	// ConnectTimeout bounds the TCP (and TLS) setup (default: 10s).
	ConnectTimeout time.Duration

	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config

	// MaxLineSize is the maximum incoming line size (default: wire.DefaultMaxLineSize).
	MaxLineSize int

	// WriteTimeout bounds a single line write (0 = no timeout).
	WriteTimeout time.Duration

	// ReadTimeout fails ReadLine when no line arrives in time (0 = no timeout).
	// The server heartbeat keeps an idle but healthy stream below it.
	ReadTimeout time.Duration
}

// DefaultDialConfig returns the default dial configuration.
func DefaultDialConfig() DialConfig {
	return DialConfig{
		ConnectTimeout: 10 * time.Second,
		MaxLineSize:    wire.DefaultMaxLineSize,
	}
}

// Conn is a line-oriented connection.
// WriteLine may be called concurrently; ReadLine must be called from a
// single goroutine.
type Conn struct {
	conn   net.Conn
	reader *wire.LineReader
	config DialConfig

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeCh   chan struct{}

	logger log.Logger
	connID string
	handle string
}

// Dial connects to address ("host:port").
func Dial(ctx context.Context, address string, config DialConfig) (*Conn, error) {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	// Apply timeout from config if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	if config.TLSConfig != nil {
		tlsConn := tls.Client(conn, config.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		conn = tlsConn
	}

	return NewConn(conn, config), nil
}

// NewConn wraps an established net.Conn.
func NewConn(conn net.Conn, config DialConfig) *Conn {
	if config.MaxLineSize <= 0 {
		config.MaxLineSize = wire.DefaultMaxLineSize
	}
	return &Conn{
		conn:    conn,
		reader:  wire.NewLineReaderWithMaxSize(conn, config.MaxLineSize),
		config:  config,
		closeCh: make(chan struct{}),
	}
}

// SetLogger enables protocol tracing of every line in and out.
// It must be called before the connection is used.
func (c *Conn) SetLogger(logger log.Logger, connID, handle string) {
	c.logger = logger
	c.connID = connID
	c.handle = handle
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// WriteLine writes line followed by a newline.
func (c *Conn) WriteLine(line string) error {
	if containsNewline(line) {
		return ErrInvalidLine
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	if c.config.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.logError("write", err)
		return fmt.Errorf("write failed: %w", err)
	}
	c.logLine(log.DirectionOut, line)
	return nil
}

// ReadLine returns the next non-empty line without its terminator.
func (c *Conn) ReadLine() (string, error) {
	return c.ReadLineWithin(c.config.ReadTimeout)
}

// ReadLineWithin is ReadLine with an explicit timeout (0 = no timeout).
func (c *Conn) ReadLineWithin(timeout time.Duration) (string, error) {
	select {
	case <-c.closeCh:
		return "", ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	line, err := c.reader.ReadLine()
	if err != nil {
		select {
		case <-c.closeCh:
			return "", ErrConnectionClosed
		default:
		}
		c.logError("read", err)
		return "", err
	}
	c.logLine(log.DirectionIn, line)
	return line, nil
}

// Close closes the connection. It is safe to call Close multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// Closed returns a channel that is closed when Close is called.
func (c *Conn) Closed() <-chan struct{} {
	return c.closeCh
}

func (c *Conn) logLine(dir log.Direction, line string) {
	if c.logger == nil {
		return
	}
	ev := &log.LineEvent{Size: len(line), Text: line}
	if len(line) > maxTracedLine {
		ev.Text = line[:maxTracedLine]
		ev.Truncated = true
	}
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Handle:       c.handle,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		Line:         ev,
	})
}

func (c *Conn) logError(op string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		Handle:       c.handle,
		RemoteAddr:   c.conn.RemoteAddr().String(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: op,
		},
	})
}

func containsNewline(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			return true
		}
	}
	return false
}
