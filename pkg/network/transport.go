package network

import (
	"net"
	"time"
)

// Transport creates the stream connections peers talk over.
type Transport interface {
	Listen(addr string) (net.Listener, error)
	Dial(addr string, timeout time.Duration) (net.Conn, error)
}
