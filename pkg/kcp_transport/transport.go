// Package kcp_transport carries peer links over kcp sessions: reliable,
// ordered byte streams on top of UDP.
package kcp_transport

import (
	"net"
	"time"

	"github.com/dunelegacy/dunelockstep/pkg/network"
	"github.com/pkg/errors"
	"github.com/xtaci/kcp-go"
)

const (
	dataShards   = 0
	parityShards = 0
	socketBuffer = 4 * 1024 * 1024
)

type Transport struct{}

var _ network.Transport = Transport{}

func New() Transport {
	return Transport{}
}

// tune switches a session to turbo mode:
// ikcp_nodelay(kcp, 1, 10, 2, 1), stream mode, large windows.
func tune(s *kcp.UDPSession) {
	s.SetNoDelay(1, 10, 2, 1)
	s.SetStreamMode(true)
	s.SetWindowSize(4096, 4096)
	s.SetReadBuffer(socketBuffer)
	s.SetWriteBuffer(socketBuffer)
	s.SetACKNoDelay(true)
}

func (Transport) Listen(addr string) (net.Listener, error) {
	l, err := kcp.ListenWithOptions(addr, nil, dataShards, parityShards)
	if nil != err {
		return nil, errors.Wrapf(err, "kcp listen %s", addr)
	}
	l.SetReadBuffer(socketBuffer)
	l.SetWriteBuffer(socketBuffer)
	return &listener{Listener: l}, nil
}

// Dial opens a session. kcp has no handshake, so timeout only bounds the
// local socket setup.
func (Transport) Dial(addr string, timeout time.Duration) (net.Conn, error) {
	type result struct {
		s   *kcp.UDPSession
		err error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := kcp.DialWithOptions(addr, nil, dataShards, parityShards)
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		if nil != r.err {
			return nil, errors.Wrapf(r.err, "kcp dial %s", addr)
		}
		tune(r.s)
		return r.s, nil
	case <-time.After(timeout):
		go func() {
			if r := <-ch; nil != r.s {
				r.s.Close()
			}
		}()
		return nil, errors.Errorf("kcp dial %s: timeout", addr)
	}
}

type listener struct {
	*kcp.Listener
}

func (l *listener) Accept() (net.Conn, error) {
	s, err := l.AcceptKCP()
	if nil != err {
		return nil, err
	}
	tune(s)
	return s, nil
}
