// Package session runs the full mesh of peer links: admission of joining
// peers, disconnect propagation, and delivery of command lists, chat and
// lobby traffic. All state changes happen inside Update on the caller's
// goroutine; transport goroutines only queue events.
package session

import (
	"net"
	"sort"
	"time"

	"github.com/armon/go-metrics"
	"github.com/dunelegacy/dunelockstep/logic/command"
	"github.com/dunelegacy/dunelockstep/pkg/network"
	"github.com/dunelegacy/dunelockstep/pkg/packet"
	"github.com/dunelegacy/dunelockstep/util"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	l4g "github.com/alecthomas/log4go"
)

type Config struct {
	Name            string
	ListenAddr      string
	MaxPeers        int // including the local peer
	AwaitingTimeout time.Duration
	DialTimeout     time.Duration
	PingInterval    time.Duration
	ChatRate        rate.Limit
	ChatBurst       int
	MaxViolations   int
	EventQueueLen   int
	Conn            network.Config
}

func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		ListenAddr:      ":28747",
		MaxPeers:        6,
		AwaitingTimeout: 30 * time.Second,
		DialTimeout:     5 * time.Second,
		PingInterval:    time.Second,
		ChatRate:        4,
		ChatBurst:       8,
		MaxViolations:   3,
		EventQueueLen:   4096,
		Conn: network.Config{
			PacketSendChanLimit:    1024,
			PacketReceiveChanLimit: 1024,
			ConnReadTimeout:        10 * time.Second,
			ConnWriteTimeout:       5 * time.Second,
		},
	}
}

// closeGrace bounds how long Disconnect lets queued DISCONNECT packets
// drain before the links are torn down.
const closeGrace = 500 * time.Millisecond

type evKind int

const (
	evLinkUp evKind = iota
	evDialFailed
	evPacket
	evLinkDown
)

type netEvent struct {
	kind evKind
	conn *network.Conn
	peer *Peer
	pkt  *packet.Packet
	err  error
}

// PeerStatus is a snapshot of one link for status reporting.
type PeerStatus struct {
	Name  string        `json:"name"`
	Addr  string        `json:"addr"`
	State string        `json:"state"`
	RTT   time.Duration `json:"rtt"`
	Host  bool          `json:"host"`
}

// NetworkManager owns every peer link of the local peer.
type NetworkManager struct {
	cfg       Config
	transport network.Transport
	server    *network.Server
	addr      string
	port      uint16

	host     bool
	started  bool
	admitted bool
	roster   map[string]bool

	links    map[*network.Conn]*Peer
	dialing  []*Peer
	awaiting []*Peer
	pending  map[*Peer]map[*Peer]bool

	events chan netEvent
	done   chan struct{}
	closed bool

	epoch    time.Time
	lastPing time.Time

	OnReceiveCommandList     func(name string, cycle uint32, list command.List) error
	OnReceiveChat            func(name, text string)
	OnReceiveSelectionList   func(name string, group int32, ids []uint32)
	OnReceiveChangeEventList func(name string, blob []byte)
	OnPeerConnected          func(name string)
	OnPeerDisconnected       func(name string, host bool, cause Cause)
	OnStartGame              func(timeLeft time.Duration)
	OnGameInfo               func(settings, events []byte)
	GetGameInfo              func() (settings, events []byte)
}

func NewNetworkManager(cfg Config, transport network.Transport) *NetworkManager {
	if cfg.EventQueueLen <= 0 {
		cfg.EventQueueLen = 4096
	}
	return &NetworkManager{
		cfg:       cfg,
		transport: transport,
		roster:    make(map[string]bool),
		links:     make(map[*network.Conn]*Peer),
		pending:   make(map[*Peer]map[*Peer]bool),
		events:    make(chan netEvent, cfg.EventQueueLen),
		done:      make(chan struct{}),
		epoch:     time.Now(),
	}
}

func (m *NetworkManager) listen() error {
	if nil != m.server {
		return errors.New("session: already listening")
	}
	l, err := m.transport.Listen(m.cfg.ListenAddr)
	if nil != err {
		return err
	}
	port, err := util.Port(l.Addr().String())
	if nil != err {
		l.Close()
		return err
	}
	m.addr = l.Addr().String()
	m.port = port
	m.server = network.NewServer(&m.cfg.Conn, &linkCallback{m: m}, &packet.MsgProtocol{})
	go m.server.Start(l)
	l4g.Info("[session(%s)] listening on %s", m.cfg.Name, m.addr)
	return nil
}

// Host starts a game other peers can join.
func (m *NetworkManager) Host() error {
	if err := m.listen(); nil != err {
		return err
	}
	m.host = true
	m.admitted = true
	return nil
}

// Connect joins the game hosted at addr. The local listener is opened too,
// since every other peer connects to this one directly.
func (m *NetworkManager) Connect(addr string, now time.Time) error {
	if err := m.listen(); nil != err {
		return err
	}
	m.dial(&Peer{
		Addr:     addr,
		State:    StateWaitingForConnect,
		host:     true,
		outbound: true,
		deadline: now.Add(m.cfg.AwaitingTimeout),
		chat:     m.newLimiter(),
	})
	return nil
}

func (m *NetworkManager) newLimiter() *rate.Limiter {
	return rate.NewLimiter(m.cfg.ChatRate, m.cfg.ChatBurst)
}

func (m *NetworkManager) dial(p *Peer) {
	m.dialing = append(m.dialing, p)
	l4g.Debug("[session(%s)] dialing %s", m.cfg.Name, p.Addr)
	go func() {
		c, err := m.transport.Dial(p.Addr, m.cfg.DialTimeout)
		if nil != err {
			m.push(netEvent{kind: evDialFailed, peer: p, err: err})
			return
		}
		m.server.Connect(c, p)
	}()
}

func (m *NetworkManager) push(ev netEvent) {
	select {
	case m.events <- ev:
	case <-m.done:
		if nil != ev.conn {
			ev.conn.Close()
		}
	}
}

// Update handles every queued network event, admits waiting peers,
// enforces timeouts and sends pings. Callbacks run from here.
func (m *NetworkManager) Update(now time.Time) {
	if m.closed {
		return
	}
	for drained := false; !drained; {
		select {
		case ev := <-m.events:
			m.handle(ev, now)
		default:
			drained = true
		}
	}

	if m.host {
		m.promote()
	}
	m.checkTimeouts(now)
	m.ping(now)
}

func (m *NetworkManager) handle(ev netEvent, now time.Time) {
	switch ev.kind {
	case evLinkUp:
		if p, ok := ev.conn.GetExtraData().(*Peer); ok {
			m.removeDialing(p)
			if StateWaitingForConnect != p.State {
				ev.conn.Close()
				return
			}
			p.conn = ev.conn
			m.links[ev.conn] = p
			m.apply(p, Event{Kind: EventDialed})
			if nil != p.reportTo && StateConnected == p.reportTo.State {
				m.send(p.reportTo, newPeerConnected(p.Addr))
			}
			return
		}
		p := &Peer{
			State:    StateNone,
			conn:     ev.conn,
			deadline: now.Add(m.cfg.AwaitingTimeout),
			chat:     m.newLimiter(),
		}
		m.links[ev.conn] = p
		l4g.Debug("[session(%s)] inbound link from %s", m.cfg.Name, ev.conn.RemoteAddr())
		m.apply(p, Event{Kind: EventAccepted})

	case evDialFailed:
		m.removeDialing(ev.peer)
		l4g.Warn("[session(%s)] connect to %s failed: %v", m.cfg.Name, ev.peer.Addr, ev.err)
		m.apply(ev.peer, Event{Kind: EventDisconnect, Cause: CauseTransport})

	case evPacket:
		p, ok := m.links[ev.conn]
		if !ok || StateDisconnected == p.State {
			return
		}
		metrics.IncrCounter([]string{"session", "packets", "in"}, 1)
		m.dispatch(p, ev.pkt, now)

	case evLinkDown:
		p, ok := m.links[ev.conn]
		if !ok {
			return
		}
		delete(m.links, ev.conn)
		if StateDisconnected != p.State {
			l4g.Warn("[session(%s)] link to %s lost", m.cfg.Name, p)
			m.apply(p, Event{Kind: EventDisconnect, Cause: CauseTransport})
		}
	}
}

// apply runs the admission state machine for p and carries out its
// effects.
func (m *NetworkManager) apply(p *Peer, ev Event) {
	ev.Host = m.host
	prev := p.State
	next, effects := Transition(prev, ev)
	p.State = next
	if prev != next {
		l4g.Debug("[session(%s)] peer %s: %s -> %s", m.cfg.Name, p, prev, next)
	}

	cause := ev.Cause
	for _, e := range effects {
		switch e.Kind {
		case EffectSendName:
			m.send(p, newSendName(m.cfg.Name, m.port))
		case EffectDisconnect:
			cause = e.Cause
			if nil != p.conn {
				p.conn.CloseAfterWrite(newDisconnect("", e.Cause))
			}
		case EffectRequestConnect:
			m.requestConnect(p)
		case EffectAdmit:
			m.admit(p)
		case EffectBroadcastDisconnect:
			// an empty address would name the sender itself
			if !p.silent && "" != p.Addr {
				m.broadcastExcept(p, newDisconnect(p.Addr, e.Cause))
			}
		case EffectViolation:
			m.violation(p, errors.Wrapf(ErrProtocol, "event %d in state %s", ev.Kind, prev))
		}
	}

	if prev == next {
		return
	}
	if StateConnected == next {
		l4g.Info("[session(%s)] %s connected (%s)", m.cfg.Name, p, p.Addr)
		if nil != m.OnPeerConnected && "" != p.Name {
			m.OnPeerConnected(p.Name)
		}
	}
	if StateDisconnected == next {
		m.forget(p, prev, cause)
	}
}

func (m *NetworkManager) requestConnect(p *Peer) {
	set := make(map[*Peer]bool)
	for _, q := range m.connected() {
		if q == p {
			continue
		}
		m.send(q, newConnect(p.Addr, p.Name))
		set[q] = true
	}
	m.pending[p] = set
	l4g.Info("[session(%s)] %s waits for %d peers to connect", m.cfg.Name, p, len(set))
}

func (m *NetworkManager) admit(p *Peer) {
	delete(m.pending, p)
	m.broadcastExcept(p, newPeerConnected(p.Addr))

	roster := []RosterEntry{{Name: m.cfg.Name}}
	for _, q := range m.connected() {
		if q != p {
			roster = append(roster, RosterEntry{Name: q.Name, Addr: q.Addr})
		}
	}
	var settings, events []byte
	if nil != m.GetGameInfo {
		settings, events = m.GetGameInfo()
	}
	m.send(p, newSendGameInfo(settings, events, roster))
}

// forget drops every reference to a disconnected peer and unblocks
// admissions that waited on it.
func (m *NetworkManager) forget(p *Peer, prev PeerState, cause Cause) {
	if nil != p.conn {
		delete(m.links, p.conn)
	}
	m.removeDialing(p)
	for i, q := range m.awaiting {
		if q == p {
			m.awaiting = append(m.awaiting[:i], m.awaiting[i+1:]...)
			break
		}
	}
	delete(m.pending, p)

	var ready []*Peer
	for newcomer, set := range m.pending {
		if set[p] {
			delete(set, p)
			if 0 == len(set) {
				ready = append(ready, newcomer)
			}
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].Name < ready[j].Name })
	for _, q := range ready {
		m.apply(q, Event{Kind: EventPeersConnected})
	}

	if StateConnected == prev || p.host {
		l4g.Info("[session(%s)] %s disconnected: %s", m.cfg.Name, p, cause)
		if nil != m.OnPeerDisconnected {
			m.OnPeerDisconnected(p.Name, p.host, cause)
		}
	}
}

func (m *NetworkManager) violation(p *Peer, err error) {
	p.violations++
	l4g.Error("[session(%s)] peer %s: %v (%d/%d)", m.cfg.Name, p, err, p.violations, m.cfg.MaxViolations)
	if p.violations >= m.cfg.MaxViolations && StateDisconnected != p.State {
		m.kick(p, CauseProtocolError)
	}
}

// kick tells p why it is dropped and informs the rest of the mesh.
func (m *NetworkManager) kick(p *Peer, cause Cause) {
	if nil != p.conn {
		p.conn.CloseAfterWrite(newDisconnect("", cause))
	}
	m.apply(p, Event{Kind: EventDisconnect, Cause: cause})
}

func (m *NetworkManager) promote() {
	for len(m.awaiting) > 0 {
		head := m.awaiting[0]
		switch head.State {
		case StateReadyForOtherPeersToConnect:
			n := len(m.connected())
			m.apply(head, Event{
				Kind:          EventPromote,
				Full:          m.started || n+1 >= m.cfg.MaxPeers,
				HaveConnected: n > 0,
			})
			if StateWaitingForOtherPeersToConnect == head.State {
				return
			}
		case StateWaitingForOtherPeersToConnect:
			return
		}
		if len(m.awaiting) > 0 && m.awaiting[0] == head {
			m.awaiting = m.awaiting[1:]
		}
	}
}

func (m *NetworkManager) checkTimeouts(now time.Time) {
	var expired []*Peer
	for _, p := range m.links {
		if p.State.Awaiting() && now.After(p.deadline) {
			expired = append(expired, p)
		}
	}
	for _, p := range m.dialing {
		if p.State.Awaiting() && now.After(p.deadline) {
			expired = append(expired, p)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].deadline.Before(expired[j].deadline) })
	for _, p := range expired {
		if StateDisconnected == p.State {
			continue
		}
		l4g.Warn("[session(%s)] %s timed out in state %s", m.cfg.Name, p, p.State)
		m.apply(p, Event{Kind: EventTimeout})
	}
}

func (m *NetworkManager) ping(now time.Time) {
	if m.cfg.PingInterval <= 0 || now.Sub(m.lastPing) < m.cfg.PingInterval {
		return
	}
	m.lastPing = now
	m.broadcastExcept(nil, newPing(PacketPing, m.stamp(now)))
}

func (m *NetworkManager) stamp(now time.Time) uint64 {
	return uint64(now.Sub(m.epoch))
}

func (m *NetworkManager) send(p *Peer, pkt *packet.Packet) {
	if nil == p.conn || nil == pkt {
		return
	}
	if err := p.conn.AsyncWritePacket(pkt, 0); nil != err {
		l4g.Warn("[session(%s)] send %d to %s failed: %v", m.cfg.Name, pkt.GetMessageID(), p, err)
		p.conn.Close()
		return
	}
	metrics.IncrCounter([]string{"session", "packets", "out"}, 1)
}

func (m *NetworkManager) broadcastExcept(except *Peer, pkt *packet.Packet) {
	for _, q := range m.connected() {
		if q != except {
			m.send(q, pkt)
		}
	}
}

// connected returns the connected links ordered by name.
func (m *NetworkManager) connected() []*Peer {
	var out []*Peer
	for _, p := range m.links {
		if StateConnected == p.State {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *NetworkManager) removeDialing(p *Peer) {
	for i, q := range m.dialing {
		if q == p {
			m.dialing = append(m.dialing[:i], m.dialing[i+1:]...)
			return
		}
	}
}

func (m *NetworkManager) findByAddr(addr string) *Peer {
	for _, p := range m.links {
		if p.Addr == addr && StateDisconnected != p.State {
			return p
		}
	}
	for _, p := range m.dialing {
		if p.Addr == addr && StateDisconnected != p.State {
			return p
		}
	}
	return nil
}

func (m *NetworkManager) nameTaken(name string, self *Peer) bool {
	if name == m.cfg.Name {
		return true
	}
	for _, p := range m.links {
		if p != self && p.Name == name && StateDisconnected != p.State {
			return true
		}
	}
	for _, p := range m.dialing {
		if p != self && p.Name == name {
			return true
		}
	}
	return false
}

func remoteHost(c *network.Conn) string {
	host, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if nil != err {
		return c.RemoteAddr().String()
	}
	return host
}

// SendCommandList sends the local list for cycle to every connected peer.
func (m *NetworkManager) SendCommandList(cycle uint32, list command.List) {
	m.broadcastExcept(nil, newCommandList(cycle, list))
}

func (m *NetworkManager) SendChatMessage(text string) {
	if len(text) > maxChatLen {
		text = text[:maxChatLen]
	}
	m.broadcastExcept(nil, newChatMessage(text))
}

func (m *NetworkManager) SendSelectedList(group int32, ids []uint32) {
	if len(ids) > maxSelectionLen {
		ids = ids[:maxSelectionLen]
	}
	m.broadcastExcept(nil, newSelectionList(group, ids))
}

func (m *NetworkManager) SendChangeEventList(blob []byte) {
	m.broadcastExcept(nil, newChangeEventList(blob))
}

// SendStartGame tells every peer to start in timeLeft. Only the host
// starts games; no peer is admitted afterwards.
func (m *NetworkManager) SendStartGame(timeLeft time.Duration) error {
	if !m.host {
		return errors.New("session: only the host starts the game")
	}
	m.started = true
	m.broadcastExcept(nil, newStartGame(uint32(timeLeft/time.Millisecond)))
	return nil
}

// Disconnect leaves the mesh: every link is told and closed.
func (m *NetworkManager) Disconnect() {
	if m.closed {
		return
	}
	m.closed = true
	var conns []*network.Conn
	for _, p := range m.links {
		if StateDisconnected != p.State {
			p.State = StateDisconnected
			p.conn.CloseAfterWrite(newDisconnect("", CauseNormal))
			conns = append(conns, p.conn)
		}
	}
	close(m.done)
	if nil != m.server {
		go func(srv *network.Server) {
			deadline := time.Now().Add(closeGrace)
			for _, c := range conns {
				for !c.IsClosed() && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
			}
			srv.Stop()
		}(m.server)
	}
	l4g.Info("[session(%s)] disconnected", m.cfg.Name)
}

// ConnectedPeers returns the names of the connected peers, sorted.
func (m *NetworkManager) ConnectedPeers() []string {
	var names []string
	for _, p := range m.connected() {
		names = append(names, p.Name)
	}
	return names
}

// Peers reports every live link.
func (m *NetworkManager) Peers() []PeerStatus {
	var out []PeerStatus
	for _, p := range m.links {
		out = append(out, PeerStatus{Name: p.Name, Addr: p.Addr, State: p.State.String(), RTT: p.rtt, Host: p.host})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// MaxPeerRoundTripTime is the largest smoothed RTT of a connected peer.
func (m *NetworkManager) MaxPeerRoundTripTime() time.Duration {
	var d time.Duration
	for _, p := range m.connected() {
		d = max(d, p.rtt)
	}
	return d
}

func (m *NetworkManager) IsHost() bool {
	return m.host
}

// HostName is the name of the peer hosting the game, empty while the
// host link is not connected.
func (m *NetworkManager) HostName() string {
	if m.host {
		return m.cfg.Name
	}
	for _, p := range m.links {
		if p.host && StateConnected == p.State {
			return p.Name
		}
	}
	return ""
}

func (m *NetworkManager) Name() string {
	return m.cfg.Name
}

// ListenAddr is the address the local listener is bound to.
func (m *NetworkManager) ListenAddr() string {
	return m.addr
}

type linkCallback struct {
	m *NetworkManager
}

func (c *linkCallback) OnConnect(conn *network.Conn) bool {
	c.m.push(netEvent{kind: evLinkUp, conn: conn})
	return true
}

func (c *linkCallback) OnMessage(conn *network.Conn, p network.Packet) bool {
	pkt, ok := p.(*packet.Packet)
	if !ok {
		return false
	}
	c.m.push(netEvent{kind: evPacket, conn: conn, pkt: pkt})
	return true
}

func (c *linkCallback) OnClose(conn *network.Conn) {
	c.m.push(netEvent{kind: evLinkDown, conn: conn})
}
