package session

import (
	"github.com/dunelegacy/dunelockstep/logic/command"
	"github.com/dunelegacy/dunelockstep/pkg/packet"
	"github.com/dunelegacy/dunelockstep/pkg/stream"
	"github.com/dunelegacy/dunelockstep/util"
	"github.com/pkg/errors"
)

// Packet types. The value is the uint32 discriminator on the wire.
const (
	PacketConnect uint32 = iota + 1
	PacketDisconnect
	PacketPeerConnected
	PacketSendGameInfo
	PacketSendName
	PacketChatMessage
	PacketChangeEventList
	PacketStartGame
	PacketCommandList
	PacketSelectionList
	PacketPing
	PacketPong
)

const (
	maxChatLen      = 1024
	maxRosterLen    = 64
	maxSelectionLen = 4096
)

// ErrProtocol marks a packet that is malformed or not valid in the
// link's current state.
var ErrProtocol = errors.New("session: protocol violation")

// RosterEntry names a peer the host has admitted.
type RosterEntry struct {
	Name string
	Addr string
}

func writeAddr(w *stream.Writer, addr string) {
	if "" == addr {
		w.WriteUint32(0)
		w.WriteUint16(0)
		return
	}
	host, port, err := util.SplitAddr(addr)
	if nil != err {
		w.WriteUint32(0)
		w.WriteUint16(0)
		return
	}
	w.WriteUint32(host)
	w.WriteUint16(port)
}

// readAddr returns "" for the zero address.
func readAddr(r *stream.Reader) string {
	host := r.ReadUint32()
	port := r.ReadUint16()
	if 0 == host && 0 == port {
		return ""
	}
	return util.JoinAddr(host, port)
}

func newConnect(addr, name string) *packet.Packet {
	return packet.NewStreamPacket(PacketConnect, func(w *stream.Writer) {
		writeAddr(w, addr)
		w.WriteString(name)
	})
}

func newDisconnect(addr string, cause Cause) *packet.Packet {
	return packet.NewStreamPacket(PacketDisconnect, func(w *stream.Writer) {
		writeAddr(w, addr)
		w.WriteUint32(uint32(cause))
	})
}

func newPeerConnected(addr string) *packet.Packet {
	return packet.NewStreamPacket(PacketPeerConnected, func(w *stream.Writer) {
		writeAddr(w, addr)
	})
}

func newSendGameInfo(settings, events []byte, roster []RosterEntry) *packet.Packet {
	return packet.NewStreamPacket(PacketSendGameInfo, func(w *stream.Writer) {
		w.WriteBytes(settings)
		w.WriteBytes(events)
		w.WriteUint32(uint32(len(roster)))
		for _, e := range roster {
			w.WriteString(e.Name)
			writeAddr(w, e.Addr)
		}
	})
}

func newSendName(name string, port uint16) *packet.Packet {
	return packet.NewStreamPacket(PacketSendName, func(w *stream.Writer) {
		w.WriteString(name)
		w.WriteUint16(port)
	})
}

func newChatMessage(text string) *packet.Packet {
	return packet.NewStreamPacket(PacketChatMessage, func(w *stream.Writer) {
		w.WriteString(text)
	})
}

func newChangeEventList(blob []byte) *packet.Packet {
	return packet.NewStreamPacket(PacketChangeEventList, func(w *stream.Writer) {
		w.WriteBytes(blob)
	})
}

func newStartGame(timeLeftMs uint32) *packet.Packet {
	return packet.NewStreamPacket(PacketStartGame, func(w *stream.Writer) {
		w.WriteUint32(timeLeftMs)
	})
}

func newCommandList(cycle uint32, list command.List) *packet.Packet {
	return packet.NewStreamPacket(PacketCommandList, func(w *stream.Writer) {
		w.WriteUint32(cycle)
		list.Write(w)
	})
}

func newSelectionList(group int32, ids []uint32) *packet.Packet {
	return packet.NewStreamPacket(PacketSelectionList, func(w *stream.Writer) {
		w.WriteSint32(group)
		w.WriteUint32Vector(ids)
	})
}

func newPing(id uint32, stamp uint64) *packet.Packet {
	return packet.NewStreamPacket(id, func(w *stream.Writer) {
		w.WriteUint64(stamp)
	})
}

func readRoster(r *stream.Reader) ([]RosterEntry, error) {
	n := r.ReadUint32()
	if n > maxRosterLen {
		return nil, errors.Wrapf(ErrProtocol, "roster of %d peers", n)
	}
	roster := make([]RosterEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		name := r.ReadString()
		roster = append(roster, RosterEntry{Name: name, Addr: readAddr(r)})
	}
	return roster, r.Err()
}
