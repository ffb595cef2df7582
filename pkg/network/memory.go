package network

import (
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrNoListener = errors.New("memory: connection refused")

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type memConn struct {
	net.Conn
	local, remote memAddr
}

func (c *memConn) LocalAddr() net.Addr  { return c.local }
func (c *memConn) RemoteAddr() net.Addr { return c.remote }

// MemoryNetwork connects in-process transports with net.Pipe. Each
// transport gets its own IP so addresses look like real peers.
type MemoryNetwork struct {
	mu        sync.Mutex
	listeners map[string]*memListener
	nextPort  int
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		listeners: make(map[string]*memListener),
		nextPort:  40000,
	}
}

// Transport returns a transport whose connections originate from ip.
func (n *MemoryNetwork) Transport(ip string) Transport {
	return &memTransport{net: n, ip: ip}
}

func (n *MemoryNetwork) port() int {
	n.nextPort++
	return n.nextPort
}

type memTransport struct {
	net *MemoryNetwork
	ip  string
}

func (t *memTransport) Listen(addr string) (net.Listener, error) {
	host, port, err := net.SplitHostPort(addr)
	if nil != err {
		return nil, errors.Wrapf(err, "listen %q", addr)
	}
	if "" == host {
		host = t.ip
	}

	t.net.mu.Lock()
	defer t.net.mu.Unlock()

	if "0" == port || "" == port {
		port = strconv.Itoa(t.net.port())
	}
	key := net.JoinHostPort(host, port)
	if _, ok := t.net.listeners[key]; ok {
		return nil, errors.Errorf("listen %s: address in use", key)
	}
	l := &memListener{
		net:    t.net,
		addr:   memAddr(key),
		accept: make(chan net.Conn, 16),
		done:   make(chan struct{}),
	}
	t.net.listeners[key] = l
	return l, nil
}

func (t *memTransport) Dial(addr string, timeout time.Duration) (net.Conn, error) {
	t.net.mu.Lock()
	l, ok := t.net.listeners[addr]
	local := memAddr(net.JoinHostPort(t.ip, strconv.Itoa(t.net.port())))
	t.net.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrNoListener, "dial %s", addr)
	}

	a, b := net.Pipe()
	server := &memConn{Conn: b, local: l.addr, remote: local}
	if timeout <= 0 {
		timeout = time.Second
	}
	select {
	case l.accept <- server:
	case <-l.done:
		a.Close()
		b.Close()
		return nil, errors.Wrapf(ErrNoListener, "dial %s", addr)
	case <-time.After(timeout):
		a.Close()
		b.Close()
		return nil, errors.Errorf("dial %s: timeout", addr)
	}
	return &memConn{Conn: a, local: local, remote: l.addr}, nil
}

type memListener struct {
	net       *MemoryNetwork
	addr      memAddr
	accept    chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *memListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *memListener) Close() error {
	l.closeOnce.Do(func() {
		l.net.mu.Lock()
		delete(l.net.listeners, string(l.addr))
		l.net.mu.Unlock()
		close(l.done)
	})
	return nil
}

func (l *memListener) Addr() net.Addr {
	return l.addr
}
