package session

import (
	"net"
	"strconv"
	"time"

	"github.com/dunelegacy/dunelockstep/logic/command"
	"github.com/dunelegacy/dunelockstep/pkg/packet"
	"github.com/pkg/errors"

	l4g "github.com/alecthomas/log4go"
)

func (m *NetworkManager) dispatch(p *Peer, pkt *packet.Packet, now time.Time) {
	r := pkt.Reader()
	id := pkt.GetMessageID()

	switch id {
	case PacketSendName:
		name := r.ReadString()
		port := r.ReadUint16()
		if nil != r.Err() || "" == name {
			m.violation(p, errors.Wrapf(ErrProtocol, "bad SENDNAME: %v", r.Err()))
			return
		}
		m.onName(p, name, port)

	case PacketConnect:
		addr := readAddr(r)
		name := r.ReadString()
		if nil != r.Err() || "" == addr || !p.host || StateConnected != p.State {
			m.violation(p, errors.Wrapf(ErrProtocol, "unexpected CONNECT %s", addr))
			return
		}
		m.onConnectRequest(p, addr, name, now)

	case PacketPeerConnected:
		addr := readAddr(r)
		if nil != r.Err() {
			m.violation(p, errors.Wrap(ErrProtocol, r.Err().Error()))
			return
		}
		m.onPeerConnected(p, addr)

	case PacketSendGameInfo:
		settings := r.ReadBytes()
		events := r.ReadBytes()
		roster, err := readRoster(r)
		if nil != err || !p.host {
			m.violation(p, errors.Wrapf(ErrProtocol, "unexpected SENDGAMEINFO: %v", err))
			return
		}
		m.onGameInfo(p, settings, events, roster)

	case PacketDisconnect:
		addr := readAddr(r)
		cause := Cause(r.ReadUint32())
		if nil != r.Err() {
			m.violation(p, errors.Wrap(ErrProtocol, r.Err().Error()))
			return
		}
		m.onDisconnect(p, addr, cause)

	case PacketPing:
		stamp := r.ReadUint64()
		if nil == r.Err() {
			m.send(p, newPing(PacketPong, stamp))
		}

	case PacketPong:
		stamp := r.ReadUint64()
		if nil == r.Err() {
			if sent := time.Duration(stamp); sent <= now.Sub(m.epoch) {
				p.sampleRTT(now.Sub(m.epoch) - sent)
			}
		}

	case PacketChatMessage, PacketChangeEventList, PacketStartGame, PacketCommandList, PacketSelectionList:
		if StateConnected != p.State {
			m.violation(p, errors.Wrapf(ErrProtocol, "packet %d in state %s", id, p.State))
			return
		}
		m.dispatchGame(p, id, pkt)

	default:
		m.violation(p, errors.Wrapf(ErrProtocol, "unknown packet type %d", id))
	}
}

// dispatchGame handles traffic between admitted peers.
func (m *NetworkManager) dispatchGame(p *Peer, id uint32, pkt *packet.Packet) {
	r := pkt.Reader()

	switch id {
	case PacketChatMessage:
		text := r.ReadString()
		if nil != r.Err() {
			l4g.Warn("[session(%s)] dropped chat from %s: %v", m.cfg.Name, p, r.Err())
			return
		}
		if !p.chat.Allow() {
			l4g.Warn("[session(%s)] chat from %s rate limited", m.cfg.Name, p)
			return
		}
		if nil != m.OnReceiveChat {
			m.OnReceiveChat(p.Name, text)
		}

	case PacketChangeEventList:
		blob := r.ReadBytes()
		if nil != r.Err() {
			l4g.Warn("[session(%s)] dropped change events from %s: %v", m.cfg.Name, p, r.Err())
			return
		}
		if nil != m.OnReceiveChangeEventList {
			m.OnReceiveChangeEventList(p.Name, blob)
		}

	case PacketStartGame:
		ms := r.ReadUint32()
		if nil != r.Err() || !p.host {
			m.violation(p, errors.Wrap(ErrProtocol, "STARTGAME not from host"))
			return
		}
		m.started = true
		if nil != m.OnStartGame {
			m.OnStartGame(time.Duration(ms) * time.Millisecond)
		}

	case PacketCommandList:
		cycle := r.ReadUint32()
		list, err := command.ReadList(r)
		if nil == err {
			err = r.Err()
		}
		if nil != err {
			l4g.Warn("[session(%s)] dropped command list from %s: %v", m.cfg.Name, p, err)
			return
		}
		if nil != m.OnReceiveCommandList {
			if err := m.OnReceiveCommandList(p.Name, cycle, list); nil != err {
				m.violation(p, err)
			}
		}

	case PacketSelectionList:
		group := r.ReadSint32()
		ids := r.ReadUint32Vector()
		if nil != r.Err() {
			l4g.Warn("[session(%s)] dropped selection from %s: %v", m.cfg.Name, p, r.Err())
			return
		}
		if nil != m.OnReceiveSelectionList {
			m.OnReceiveSelectionList(p.Name, group, ids)
		}
	}
}

func (m *NetworkManager) onName(p *Peer, name string, port uint16) {
	if p.outbound {
		if "" == p.Name {
			p.Name = name
		} else if name != p.Name {
			l4g.Warn("[session(%s)] %s introduced itself as %q", m.cfg.Name, p.Addr, name)
		}
	} else {
		p.Name = name
		p.Addr = net.JoinHostPort(remoteHost(p.conn), strconv.Itoa(int(port)))
	}

	m.apply(p, Event{Kind: EventName, NameTaken: m.nameTaken(name, p)})

	switch p.State {
	case StateReadyForOtherPeersToConnect:
		m.awaiting = append(m.awaiting, p)
	case StateWaitingForOtherPeersToConnect:
		if !m.host && !p.outbound && m.admitted && m.roster[p.Name] {
			m.apply(p, Event{Kind: EventAdmitted})
		}
	}
}

// onConnectRequest dials a newcomer on the host's behalf.
func (m *NetworkManager) onConnectRequest(hostLink *Peer, addr, name string, now time.Time) {
	if q := m.findByAddr(addr); nil != q {
		l4g.Debug("[session(%s)] already linked to %s", m.cfg.Name, addr)
		m.send(hostLink, newPeerConnected(addr))
		return
	}
	m.dial(&Peer{
		Name:     name,
		Addr:     addr,
		State:    StateWaitingForConnect,
		outbound: true,
		reportTo: hostLink,
		deadline: now.Add(m.cfg.AwaitingTimeout),
		chat:     m.newLimiter(),
	})
}

func (m *NetworkManager) onPeerConnected(from *Peer, addr string) {
	if m.host {
		for newcomer, set := range m.pending {
			if newcomer.Addr != addr {
				continue
			}
			if !set[from] {
				return
			}
			delete(set, from)
			if 0 == len(set) {
				m.apply(newcomer, Event{Kind: EventPeersConnected})
			}
			return
		}
		l4g.Debug("[session(%s)] PEER_CONNECTED for unknown %s", m.cfg.Name, addr)
		return
	}

	if !from.host {
		m.violation(from, errors.Wrap(ErrProtocol, "PEER_CONNECTED not from host"))
		return
	}
	if q := m.findByAddr(addr); nil != q && StateWaitingForOtherPeersToConnect == q.State {
		m.apply(q, Event{Kind: EventAdmitted})
	}
}

func (m *NetworkManager) onGameInfo(hostLink *Peer, settings, events []byte, roster []RosterEntry) {
	m.apply(hostLink, Event{Kind: EventAdmitted})
	if StateConnected != hostLink.State {
		return
	}
	m.admitted = true
	m.roster = make(map[string]bool, len(roster))
	for _, e := range roster {
		m.roster[e.Name] = true
	}
	for _, q := range m.links {
		if q != hostLink && !q.outbound && StateWaitingForOtherPeersToConnect == q.State && m.roster[q.Name] {
			m.apply(q, Event{Kind: EventAdmitted})
		}
	}
	if nil != m.OnGameInfo {
		m.OnGameInfo(settings, events)
	}
}

// onDisconnect handles a DISCONNECT. An empty address names the sender.
func (m *NetworkManager) onDisconnect(from *Peer, addr string, cause Cause) {
	target := from
	if "" != addr {
		target = m.findByAddr(addr)
		if nil == target {
			return
		}
		target.silent = true
	}
	l4g.Info("[session(%s)] %s reports %s gone: %s", m.cfg.Name, from, target, cause)
	if nil != target.conn {
		target.conn.Close()
	}
	m.apply(target, Event{Kind: EventDisconnect, Cause: cause})
}
