package session

import (
	"fmt"
	"time"

	"github.com/dunelegacy/dunelockstep/pkg/network"
	"golang.org/x/time/rate"
)

// PeerState is the admission state of one link.
type PeerState int

const (
	StateNone PeerState = iota

	// connecting side
	StateWaitingForConnect

	// accepting side
	StateWaitingForName
	StateReadyForOtherPeersToConnect

	StateWaitingForOtherPeersToConnect
	StateConnected
	StateDisconnected
)

var stateNames = [...]string{
	StateNone:                          "None",
	StateWaitingForConnect:             "WaitingForConnect",
	StateWaitingForName:                "WaitingForName",
	StateReadyForOtherPeersToConnect:   "ReadyForOtherPeersToConnect",
	StateWaitingForOtherPeersToConnect: "WaitingForOtherPeersToConnect",
	StateConnected:                     "Connected",
	StateDisconnected:                  "Disconnected",
}

func (s PeerState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("PeerState(%d)", int(s))
	}
	return stateNames[s]
}

// Awaiting reports whether s is a pre-admission state that carries a
// timeout.
func (s PeerState) Awaiting() bool {
	return s > StateNone && s < StateConnected
}

// Cause says why a link was dropped. It travels in DISCONNECT packets.
type Cause uint32

const (
	CauseNormal Cause = iota
	CausePlayerExists
	CauseTimeout
	CauseGameFull
	CauseProtocolError
	CauseTransport
)

var causeNames = [...]string{
	CauseNormal:        "normal",
	CausePlayerExists:  "player exists",
	CauseTimeout:       "timeout",
	CauseGameFull:      "game full",
	CauseProtocolError: "protocol error",
	CauseTransport:     "transport failure",
}

func (c Cause) String() string {
	if int(c) >= len(causeNames) {
		return fmt.Sprintf("Cause(%d)", uint32(c))
	}
	return causeNames[c]
}

// Peer is one link of the mesh as seen locally.
type Peer struct {
	Name  string
	Addr  string // advertised listen address
	State PeerState

	conn     *network.Conn
	host     bool // the link to the game host
	outbound bool
	reportTo *Peer // host to notify with PEER_CONNECTED once dialed
	silent   bool  // drop without telling the mesh

	deadline   time.Time
	rtt        time.Duration
	chat       *rate.Limiter
	violations int
}

func (p *Peer) String() string {
	if "" != p.Name {
		return p.Name
	}
	if "" != p.Addr {
		return p.Addr
	}
	if nil != p.conn {
		return p.conn.RemoteAddr().String()
	}
	return "?"
}

// RTT is the smoothed round trip time.
func (p *Peer) RTT() time.Duration {
	return p.rtt
}

func (p *Peer) sampleRTT(d time.Duration) {
	if 0 == p.rtt {
		p.rtt = d
		return
	}
	p.rtt = (7*p.rtt + d) / 8
}
