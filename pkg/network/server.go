package network

import (
	"net"
	"sync"
	"time"
)

type Config struct {
	PacketSendChanLimit    uint32        // the limit of packet send channel
	PacketReceiveChanLimit uint32        // the limit of packet receive channel
	ConnReadTimeout        time.Duration // read timeout
	ConnWriteTimeout       time.Duration // write timeout
}

// Server owns a set of connections sharing one callback and protocol:
// the ones its listener accepts and the ones handed to Connect.
type Server struct {
	config    *Config         // server configuration
	callback  ConnCallback    // message callbacks in connection
	protocol  Protocol        // customize packet protocol
	exitChan  chan struct{}   // notify all goroutines to shutdown
	waitGroup *sync.WaitGroup // wait for all goroutines
	closeOnce sync.Once

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a server
func NewServer(config *Config, callback ConnCallback, protocol Protocol) *Server {
	return &Server{
		config:    config,
		callback:  callback,
		protocol:  protocol,
		exitChan:  make(chan struct{}),
		waitGroup: &sync.WaitGroup{},
	}
}

// Start runs the accept loop until Stop.
func (s *Server) Start(listener net.Listener) {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.waitGroup.Add(1)
	defer func() {
		s.waitGroup.Done()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.exitChan:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}

		s.Connect(conn, nil)
	}
}

// Connect serves an established conn, typically one that was dialed.
// extra is stored before OnConnect runs.
func (s *Server) Connect(conn net.Conn, extra interface{}) *Conn {
	c := NewConn(conn, s)
	if nil != extra {
		c.PutExtraData(extra)
	}

	select {
	case <-s.exitChan:
		conn.Close()
		return c
	default:
	}

	s.waitGroup.Add(1)
	go func() {
		c.Do()
		s.waitGroup.Done()
	}()
	return c
}

// Stop closes the listener and every connection and waits for their
// goroutines.
func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		close(s.exitChan)
		s.mu.Lock()
		if nil != s.listener {
			s.listener.Close()
		}
		s.mu.Unlock()
	})

	s.waitGroup.Wait()
}
