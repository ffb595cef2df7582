// Package server runs one peer: the session mesh, the lobby, the game and
// its discovery announcements, all driven from a single loop.
package server

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	"github.com/dunelegacy/dunelockstep/config"
	"github.com/dunelegacy/dunelockstep/logic/command"
	"github.com/dunelegacy/dunelockstep/logic/discovery"
	"github.com/dunelegacy/dunelockstep/logic/game"
	"github.com/dunelegacy/dunelockstep/logic/session"
	"github.com/dunelegacy/dunelockstep/logic/sim"
	"github.com/dunelegacy/dunelockstep/pkg/network"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	l4g "github.com/alecthomas/log4go"
)

// Version is advertised to finders.
const Version = "0.1"

const (
	loopInterval   = 2 * time.Millisecond
	startCredits   = 3000
	botEveryCycles = 40
	lanInterval    = 2 * time.Second
	metaRefresh    = 30 * time.Second
)

// Phase of a node.
type Phase string

const (
	PhaseIdle  Phase = "idle"
	PhaseLobby Phase = "lobby"
	PhaseGame  Phase = "game"
	PhaseOver  Phase = "over"
)

// Options selects what a node does besides the configuration.
type Options struct {
	// WaitFor is the number of players, the host included, the host waits
	// for before it starts the game. Zero means StartGame is called by hand.
	WaitFor    int
	StartDelay time.Duration
	Seed       uint64
	// Bot issues random move orders for the local units.
	Bot bool
}

// Status is a snapshot of the node, safe to read from any goroutine.
type Status struct {
	Name    string               `json:"name"`
	Host    bool                 `json:"host"`
	Phase   Phase                `json:"phase"`
	Players []string             `json:"players"`
	Peers   []session.PeerStatus `json:"peers"`
	Game    *game.Status         `json:"game,omitempty"`
	Error   string               `json:"error,omitempty"`
}

type pendingList struct {
	name  string
	cycle uint32
	list  command.List
}

// Node is one peer of a game.
type Node struct {
	cfg  config.Config
	opts Options
	nm   *session.NetworkManager

	phase    Phase
	settings *game.InitSettings
	game     *game.Game
	early    []pendingList
	err      error

	announcers []discovery.Announcer
	announced  int

	bot      *rand.Rand
	botCycle uint32

	actions chan func(now time.Time)

	statusMu sync.Mutex
	status   Status

	// OnChat runs on the loop goroutine for every received chat line.
	OnChat func(name, text string)
}

// GameConfig maps the configuration onto the game loop settings.
func GameConfig(c config.Config) game.Config {
	return game.Config{
		GameSpeed:              c.GameSpeed,
		FrameBudget:            c.FrameBudget,
		DiscontinuityThreshold: c.DiscontinuityThreshold,
		WaitGrace:              c.WaitGrace,
		TestSyncInterval:       c.TestSyncInterval,
		BufferMin:              c.NetworkCycleBufferMin,
		BufferMax:              c.NetworkCycleBufferMax,
		SafetyMargin:           c.NetworkSafetyMargin,
		ReplayDir:              c.ReplayDir,
		DesyncSaveDir:          c.DesyncSaveDir,
	}
}

// SessionConfig maps the configuration onto the mesh settings.
func SessionConfig(c config.Config) session.Config {
	sc := session.DefaultConfig(c.PlayerName)
	sc.ListenAddr = c.ListenAddress
	sc.MaxPeers = c.MaxPlayers
	sc.AwaitingTimeout = c.AwaitingConnectionTimeout
	sc.ChatRate = rate.Limit(c.ChatRate)
	sc.ChatBurst = c.ChatBurst
	return sc
}

// NewNode builds a node on transport. Nothing is opened until Host or Join.
func NewNode(cfg config.Config, transport network.Transport, opts Options) (*Node, error) {
	if err := cfg.Validate(); nil != err {
		return nil, err
	}
	if "" == cfg.PlayerName {
		return nil, errors.New("node: empty player name")
	}
	h := fnv.New64a()
	h.Write([]byte(cfg.PlayerName))
	n := &Node{
		cfg:     cfg,
		opts:    opts,
		nm:      session.NewNetworkManager(SessionConfig(cfg), transport),
		phase:   PhaseIdle,
		bot:     rand.New(rand.NewPCG(opts.Seed, h.Sum64())),
		actions: make(chan func(time.Time), 64),
	}
	n.route()
	n.publish()
	return n, nil
}

// Host opens the lobby with the local player in the first slot.
func (n *Node) Host() error {
	if err := n.nm.Host(); nil != err {
		return errors.Wrap(err, "host")
	}
	n.settings = game.DefaultSettings(n.opts.Seed)
	if err := n.assignSlot(n.cfg.PlayerName); nil != err {
		return err
	}
	n.phase = PhaseLobby
	n.startAnnouncers()
	n.publish()
	l4g.Info("[node(%s)] hosting on %s", n.cfg.PlayerName, n.nm.ListenAddr())
	return nil
}

// Join connects to the game hosted at addr.
func (n *Node) Join(addr string) error {
	if err := n.nm.Connect(addr, time.Now()); nil != err {
		return errors.Wrapf(err, "join %s", addr)
	}
	n.phase = PhaseLobby
	n.publish()
	l4g.Info("[node(%s)] joining %s", n.cfg.PlayerName, addr)
	return nil
}

// ListenAddr is where other peers reach this node.
func (n *Node) ListenAddr() string {
	return n.nm.ListenAddr()
}

// StartGame asks the loop to start the game in delay. Only the host
// starts games.
func (n *Node) StartGame(delay time.Duration) {
	n.do(func(now time.Time) {
		if err := n.startGame(now, delay); nil != err {
			l4g.Warn("[node(%s)] %v", n.cfg.PlayerName, err)
		}
	})
}

// SendChat queues a chat line for every peer.
func (n *Node) SendChat(text string) {
	n.do(func(time.Time) { n.nm.SendChatMessage(text) })
}

func (n *Node) do(fn func(time.Time)) {
	select {
	case n.actions <- fn:
	default:
		l4g.Warn("[node(%s)] action queue full", n.cfg.PlayerName)
	}
}

// Run drives the node until ctx is done or the game fails.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()
	defer n.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-n.actions:
			fn(time.Now())
		case now := <-ticker.C:
			if err := n.frame(now); nil != err {
				return err
			}
		}
	}
}

func (n *Node) frame(now time.Time) error {
	defer n.publish()
	if nil == n.game {
		n.nm.Update(now)
		n.updateLobby(now)
		return nil
	}
	if err := n.game.RunFrame(now); nil != err {
		n.err = err
		n.phase = PhaseOver
		return err
	}
	if game.StateOver == n.game.State {
		n.phase = PhaseOver
	}
	n.runBot()
	return nil
}

func (n *Node) updateLobby(now time.Time) {
	if !n.nm.IsHost() || nil == n.settings {
		return
	}
	players := len(n.settings.Players())
	if players != n.announced {
		n.announced = players
		for _, a := range n.announcers {
			a.Update(n.gameInfo())
		}
		metrics.SetGauge([]string{"node", "lobby", "players"}, float32(players))
	}
	if n.opts.WaitFor > 0 && players >= n.opts.WaitFor && len(n.nm.ConnectedPeers())+1 >= n.opts.WaitFor {
		if err := n.startGame(now, n.opts.StartDelay); nil != err {
			l4g.Warn("[node(%s)] %v", n.cfg.PlayerName, err)
		}
	}
}

func (n *Node) startGame(now time.Time, delay time.Duration) error {
	if nil != n.game {
		return errors.New("node: game already started")
	}
	if err := n.nm.SendStartGame(delay); nil != err {
		return err
	}
	return n.beginGame(now.Add(delay))
}

// beginGame creates the game every peer starts at the same wall time.
func (n *Node) beginGame(start time.Time) error {
	if nil == n.settings {
		return errors.New("node: start before game info")
	}
	g, err := game.New(GameConfig(n.cfg), n.settings, n.cfg.PlayerName, n.nm, start)
	if nil != err {
		n.err = err
		n.phase = PhaseOver
		return err
	}
	g.OnWaiting = func(waiting bool, laggards []string) {
		if waiting {
			l4g.Warn("[node(%s)] waiting for %v", n.cfg.PlayerName, laggards)
		} else {
			l4g.Info("[node(%s)] network caught up", n.cfg.PlayerName)
		}
	}
	n.game = g
	n.phase = PhaseGame
	for _, e := range n.early {
		if err := g.OnReceiveCommandList(e.name, e.cycle, e.list); nil != err {
			l4g.Warn("[node(%s)] early list from %s: %v", n.cfg.PlayerName, e.name, err)
		}
	}
	n.early = nil
	n.stopAnnouncers()
	l4g.Info("[node(%s)] game starts in %v", n.cfg.PlayerName, time.Until(start).Round(time.Millisecond))
	return nil
}

// assignSlot gives name the first free slot and an unused house, and
// tells the lobby.
func (n *Node) assignSlot(name string) error {
	if _, ok := n.settings.PlayerID(name); ok {
		return nil
	}
	used := make(map[sim.HouseID]bool)
	slot := -1
	for i, h := range n.settings.Houses {
		if "" != h.Player {
			used[h.House] = true
		} else if slot < 0 {
			slot = i
		}
	}
	if slot < 0 {
		slot = len(n.settings.Houses)
	}
	if slot >= min(n.cfg.MaxPlayers, game.MaxHouses) {
		return errors.Errorf("node: no free slot for %s", name)
	}
	house := sim.HouseNone
	for h := sim.HouseID(0); h < sim.NumHouses; h++ {
		if !used[h] {
			house = h
			break
		}
	}
	return n.changeLobby(game.ChangeEventList{
		{Type: game.ChangePlayer, Slot: uint32(slot), Player: name},
		{Type: game.ChangeHouse, Slot: uint32(slot), Value: uint32(house)},
		{Type: game.ChangeTeam, Slot: uint32(slot), Value: uint32(slot + 1)},
		{Type: game.ChangeCredits, Slot: uint32(slot), Value: startCredits},
	})
}

func (n *Node) freeSlot(name string) error {
	id, ok := n.settings.PlayerID(name)
	if !ok {
		return nil
	}
	slot := uint32(id - 1)
	return n.changeLobby(game.ChangeEventList{
		{Type: game.ChangePlayer, Slot: slot},
		{Type: game.ChangeHouse, Slot: slot, Value: uint32(sim.HouseNone)},
	})
}

func (n *Node) changeLobby(events game.ChangeEventList) error {
	if err := events.Apply(n.settings); nil != err {
		return errors.Wrap(err, "lobby change")
	}
	blob, err := events.Marshal()
	if nil != err {
		return err
	}
	n.nm.SendChangeEventList(blob)
	return nil
}

func (n *Node) gameInfo() discovery.GameInfo {
	info := discovery.GameInfo{
		Name:       n.cfg.PlayerName + "'s game",
		Addr:       n.nm.ListenAddr(),
		Version:    Version,
		MaxPlayers: n.cfg.MaxPlayers,
	}
	if nil != n.settings {
		info.NumPlayers = len(n.settings.Players())
	}
	return info
}

func (n *Node) startAnnouncers() {
	var all []discovery.Announcer
	if n.cfg.LanAnnounce {
		all = append(all, discovery.NewLANAnnouncer("", lanInterval))
	}
	if "" != n.cfg.MetaServerURL {
		all = append(all, discovery.NewMetaServerClient(n.cfg.MetaServerURL, metaRefresh))
	}
	info := n.gameInfo()
	for _, a := range all {
		if err := a.Start(info); nil != err {
			l4g.Warn("[node(%s)] announce: %v", n.cfg.PlayerName, err)
			continue
		}
		n.announcers = append(n.announcers, a)
	}
}

func (n *Node) stopAnnouncers() {
	for _, a := range n.announcers {
		a.Stop()
	}
	n.announcers = nil
}

// runBot orders every local tank to a random spot now and then.
func (n *Node) runBot() {
	if !n.opts.Bot || game.StateGaming != n.game.State {
		return
	}
	cycle := n.game.Cycle()
	if cycle < n.botCycle {
		return
	}
	n.botCycle = cycle + botEveryCycles
	local := n.game.LocalPlayer()
	ctx := n.game.Context()
	var tanks []sim.ObjectID
	ctx.Objects.Each(func(o sim.Object) {
		if o.Owner() == local.House() && sim.KindTank == o.Kind() {
			tanks = append(tanks, o.ID())
		}
	})
	for _, id := range tanks {
		x := n.bot.Int32N(ctx.Map.Width)
		y := n.bot.Int32N(ctx.Map.Height)
		n.game.AddCommand(command.NewMove2Pos(local.ID(), id, x, y, false))
	}
}

func (n *Node) stop() {
	n.stopAnnouncers()
	if nil != n.game {
		n.game.Stop()
	}
	n.nm.Disconnect()
	n.phase = PhaseOver
	n.publish()
}

func (n *Node) publish() {
	s := Status{
		Name:  n.cfg.PlayerName,
		Host:  n.nm.IsHost(),
		Phase: n.phase,
		Peers: n.nm.Peers(),
	}
	if nil != n.settings {
		s.Players = n.settings.Players()
	}
	if nil != n.game {
		gs := n.game.Status()
		s.Game = &gs
	}
	if nil != n.err {
		s.Error = n.err.Error()
	}
	n.statusMu.Lock()
	n.status = s
	n.statusMu.Unlock()
}

// Status may be called from any goroutine.
func (n *Node) Status() Status {
	n.statusMu.Lock()
	defer n.statusMu.Unlock()
	return n.status
}
