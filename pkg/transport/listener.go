package transport

import (
	"crypto/tls"
	"fmt"
	"net"
)

// Listener accepts line-oriented connections. It backs test servers and
// tools that speak the server side of the protocol.
type Listener struct {
	ln     net.Listener
	config DialConfig
}

// Listen starts listening on address. A nil tlsConfig listens in plaintext.
func Listen(address string, tlsConfig *tls.Config, config DialConfig) (*Listener, error) {
	var (
		ln  net.Listener
		err error
	)
	if tlsConfig != nil {
		ln, err = tls.Listen("tcp", address, tlsConfig)
	} else {
		ln, err = net.Listen("tcp", address)
	}
	if err != nil {
		return nil, fmt.Errorf("listen failed: %w", err)
	}
	return &Listener{ln: ln, config: config}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept() (*Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(conn, l.config), nil
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops listening.
func (l *Listener) Close() error {
	return l.ln.Close()
}
