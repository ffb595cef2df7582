package server

import (
	"time"

	"github.com/dunelegacy/dunelockstep/logic/command"
	"github.com/dunelegacy/dunelockstep/logic/game"
	"github.com/dunelegacy/dunelockstep/logic/session"
	"github.com/pkg/errors"

	l4g "github.com/alecthomas/log4go"
)

const maxEarlyLists = 256

// route binds the mesh callbacks. They all run inside NetworkManager.Update
// on the loop goroutine, either from frame or from Game.RunFrame.
func (n *Node) route() {
	n.nm.GetGameInfo = n.onGetGameInfo
	n.nm.OnGameInfo = n.onGameInfo
	n.nm.OnPeerConnected = n.onPeerConnected
	n.nm.OnPeerDisconnected = n.onPeerDisconnected
	n.nm.OnReceiveChangeEventList = n.onChangeEventList
	n.nm.OnStartGame = n.onStartGame
	n.nm.OnReceiveCommandList = n.onCommandList
	n.nm.OnReceiveChat = n.onChat
	n.nm.OnReceiveSelectionList = func(name string, group int32, ids []uint32) {
		l4g.Debug("[router] %s selected %d objects in group %d", name, len(ids), group)
	}
}

func (n *Node) onGetGameInfo() ([]byte, []byte) {
	blob, err := n.settings.Marshal()
	if nil != err {
		l4g.Error("[router] encode settings: %v", err)
		return nil, nil
	}
	return blob, nil
}

func (n *Node) onGameInfo(settings, events []byte) {
	s, err := game.UnmarshalSettings(settings)
	if nil != err {
		l4g.Error("[router] game info: %v", err)
		return
	}
	if 0 != len(events) {
		l, err := game.UnmarshalChangeEvents(events)
		if nil == err {
			err = l.Apply(s)
		}
		if nil != err {
			l4g.Error("[router] game info events: %v", err)
			return
		}
	}
	n.settings = s
	l4g.Info("[router] lobby of %v", s.Players())
}

func (n *Node) onPeerConnected(name string) {
	if !n.nm.IsHost() || nil != n.game {
		return
	}
	if err := n.assignSlot(name); nil != err {
		l4g.Warn("[router] %v", err)
	}
}

func (n *Node) onPeerDisconnected(name string, host bool, cause session.Cause) {
	l4g.Info("[router] %s left (%s)", name, cause)
	if nil != n.game {
		n.game.OnPeerDisconnected(name)
		return
	}
	if n.nm.IsHost() && nil != n.settings {
		if err := n.freeSlot(name); nil != err {
			l4g.Warn("[router] %v", err)
		}
	}
}

func (n *Node) onChangeEventList(name string, blob []byte) {
	if n.nm.IsHost() || nil == n.settings || nil != n.game {
		return
	}
	if host := n.nm.HostName(); name != host {
		l4g.Warn("[router] change events from %s ignored, host is %q", name, host)
		return
	}
	l, err := game.UnmarshalChangeEvents(blob)
	if nil == err {
		err = l.Apply(n.settings)
	}
	if nil != err {
		l4g.Warn("[router] change events from %s: %v", name, err)
	}
}

func (n *Node) onStartGame(timeLeft time.Duration) {
	if nil != n.game {
		return
	}
	if err := n.beginGame(time.Now().Add(timeLeft)); nil != err {
		l4g.Error("[router] start game: %v", err)
	}
}

func (n *Node) onCommandList(name string, cycle uint32, list command.List) error {
	if nil == n.game {
		if len(n.early) >= maxEarlyLists {
			return errors.Errorf("%d command lists before the game started", len(n.early))
		}
		n.early = append(n.early, pendingList{name: name, cycle: cycle, list: list})
		return nil
	}
	return n.game.OnReceiveCommandList(name, cycle, list)
}

func (n *Node) onChat(name, text string) {
	if nil != n.OnChat {
		n.OnChat(name, text)
		return
	}
	l4g.Info("[chat] %s: %s", name, text)
}
