package network

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrConnClosing   = errors.New("use of closed network connection")
	ErrWriteBlocking = errors.New("write packet was blocking")
	ErrReadBlocking  = errors.New("read packet was blocking")
)

// ConnCallback receives connection events. The methods run on the
// connection's own goroutines.
type ConnCallback interface {
	// OnConnect is called when the connection is established; returning
	// false closes it.
	OnConnect(*Conn) bool

	// OnMessage is called for every packet read; returning false closes the
	// connection.
	OnMessage(*Conn, Packet) bool

	// OnClose is called once when the connection closes.
	OnClose(*Conn)
}

// Conn wraps a net.Conn with a read loop, a write loop and a handle loop.
type Conn struct {
	srv               *Server
	conn              net.Conn
	extraData         atomic.Value
	closeOnce         sync.Once
	closeFlag         int32
	closeChan         chan struct{}
	packetSendChan    chan Packet
	packetReceiveChan chan Packet
}

func NewConn(conn net.Conn, srv *Server) *Conn {
	return &Conn{
		srv:               srv,
		conn:              conn,
		closeChan:         make(chan struct{}),
		packetSendChan:    make(chan Packet, srv.config.PacketSendChanLimit),
		packetReceiveChan: make(chan Packet, srv.config.PacketReceiveChanLimit),
	}
}

func (c *Conn) GetExtraData() interface{} {
	return c.extraData.Load()
}

func (c *Conn) PutExtraData(data interface{}) {
	c.extraData.Store(data)
}

func (c *Conn) GetRawConn() net.Conn {
	return c.conn
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) IsClosed() bool {
	return atomic.LoadInt32(&c.closeFlag) == 1
}

// Close closes the connection. Pending writes are dropped.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		atomic.StoreInt32(&c.closeFlag, 1)
		close(c.closeChan)
		c.conn.Close()
		c.srv.callback.OnClose(c)
	})
}

// AsyncWritePacket queues p for the write loop. A zero timeout fails at
// once when the queue is full.
func (c *Conn) AsyncWritePacket(p Packet, timeout time.Duration) error {
	if c.IsClosed() {
		return ErrConnClosing
	}

	if 0 == timeout {
		select {
		case c.packetSendChan <- p:
			return nil
		default:
			return ErrWriteBlocking
		}
	}

	select {
	case c.packetSendChan <- p:
		return nil
	case <-c.closeChan:
		return ErrConnClosing
	case <-time.After(timeout):
		return ErrWriteBlocking
	}
}

// CloseAfterWrite queues p and closes the connection once the write loop
// has sent it.
func (c *Conn) CloseAfterWrite(p Packet) {
	if nil != c.AsyncWritePacket(p, 0) {
		c.Close()
		return
	}
	if nil != c.AsyncWritePacket(nil, 0) {
		c.Close()
	}
}

// Do runs OnConnect and starts the loops.
func (c *Conn) Do() {
	if !c.srv.callback.OnConnect(c) {
		c.Close()
		return
	}

	asyncDo(c.handleLoop, c.srv.waitGroup)
	asyncDo(c.readLoop, c.srv.waitGroup)
	asyncDo(c.writeLoop, c.srv.waitGroup)
}

// readLoop is the only sender on packetReceiveChan. Closing it lets the
// handle loop deliver what was read before the connection went away.
func (c *Conn) readLoop() {
	defer func() {
		recover()
		close(c.packetReceiveChan)
	}()

	for {
		select {
		case <-c.srv.exitChan:
			return

		case <-c.closeChan:
			return

		default:
		}

		if c.srv.config.ConnReadTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.srv.config.ConnReadTimeout))
		}
		p, err := c.srv.protocol.ReadPacket(c.conn)
		if err != nil {
			return
		}

		select {
		case c.packetReceiveChan <- p:
		case <-c.closeChan:
			return
		case <-c.srv.exitChan:
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer func() {
		recover()
		c.Close()
	}()

	for {
		select {
		case <-c.srv.exitChan:
			return

		case <-c.closeChan:
			return

		case p := <-c.packetSendChan:
			if nil == p {
				return
			}
			if c.srv.config.ConnWriteTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(c.srv.config.ConnWriteTimeout))
			}
			if _, err := c.conn.Write(p.Serialize()); err != nil {
				return
			}
		}
	}
}

func (c *Conn) handleLoop() {
	defer func() {
		recover()
		c.Close()
	}()

	for {
		select {
		case <-c.srv.exitChan:
			return

		case p, ok := <-c.packetReceiveChan:
			if !ok {
				return
			}
			if !c.srv.callback.OnMessage(c, p) {
				return
			}
		}
	}
}

func asyncDo(fn func(), wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		fn()
		wg.Done()
	}()
}
